package events

import (
	"context"
	"log"
)

// LogNotifier delivers notifications by logging one line per recipient.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Handle(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := n.Logger
	if l == nil {
		l = log.Default()
	}
	for _, r := range e.Recipients() {
		l.Printf("notify %s %s: %s", r.Role, r.UserID, e.Message())
	}
	return nil
}

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DBProcessor copies batches into audit_logs.
type DBProcessor struct {
	db *sql.DB
}

func NewDBProcessor(db *sql.DB) *DBProcessor {
	return &DBProcessor{db: db}
}

func (p *DBProcessor) Process(ctx context.Context, batch []Record) (err error) {
	if len(batch) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit copy: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("audit_logs",
		"timestamp", "entity_type", "entity_id", "old_state", "new_state", "actor", "endpoint", "message"))
	if err != nil {
		return fmt.Errorf("prepare audit copy: %w", err)
	}
	for _, r := range batch {
		if _, err = stmt.ExecContext(ctx, r.Timestamp, r.EntityType, r.EntityID,
			r.OldState, r.NewState, r.Actor, r.Endpoint, r.Message); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy audit record %s %s: %w", r.EntityType, r.EntityID, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush audit copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("close audit copy: %w", err)
	}
	return tx.Commit()
}

// StdoutProcessor prints records whose message contains Filter, or every
// record when Filter is empty.
type StdoutProcessor struct {
	Filter string
	Out    io.Writer
}

func (p *StdoutProcessor) Process(_ context.Context, batch []Record) error {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	filter := strings.ToLower(p.Filter)
	for _, r := range batch {
		if filter != "" && !strings.Contains(strings.ToLower(r.Message), filter) {
			continue
		}
		if _, err := fmt.Fprintln(out, format(r)); err != nil {
			return err
		}
	}
	return nil
}

func format(r Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "AUDIT %s %s", r.Timestamp.Format(time.RFC3339), r.EntityType)
	if r.EntityID != "" {
		sb.WriteString(" " + r.EntityID)
	}
	switch {
	case r.OldState != "":
		fmt.Fprintf(&sb, " %s->%s", r.OldState, r.NewState)
	case r.NewState != "":
		sb.WriteString(" " + r.NewState)
	}
	if r.Actor != "" {
		sb.WriteString(" by " + r.Actor)
	}
	if r.Endpoint != "" {
		sb.WriteString(" [" + r.Endpoint + "]")
	}
	if r.Message != "" {
		sb.WriteString(": " + r.Message)
	}
	return sb.String()
}

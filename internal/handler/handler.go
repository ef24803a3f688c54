package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"medquote/internal/service"
)

// ErrExit is returned by Execute for the exit command.
var ErrExit = errors.New("exit requested")

const outboxLimit = 50

type Handler struct {
	ops *service.OperatorService
	out io.Writer
}

func New(ops *service.OperatorService, out io.Writer) *Handler {
	return &Handler{ops: ops, out: out}
}

func (h *Handler) Execute(ctx context.Context, cmd string, args []string) error {
	commands := map[string]func(context.Context, []string) error{
		"help":       h.printHelp,
		"exit":       h.handleExit,
		"pharmacies": h.handlePharmacies,
		"verify":     h.handleVerify,
		"requests":   h.handleRequests,
		"quotes":     h.handleQuotes,
		"complete":   h.handleComplete,
		"outbox":     h.handleOutbox,
	}

	fn, ok := commands[cmd]
	if !ok {
		return errors.New("unknown command, type 'help' for the list")
	}
	return fn(ctx, args)
}

func (h *Handler) printf(format string, args ...any) {
	fmt.Fprintf(h.out, format, args...)
}

func (h *Handler) printHelp(context.Context, []string) error {
	h.printf(`Commands:
  help
    - print this help
  exit
    - leave the console
  pharmacies
    - list pharmacies and their verification
  verify <pharmacyID> [true|false]
    - verify a pharmacy (or revoke with false)
  requests
    - list all requests, most recent first
  quotes <requestID>
    - list the quotes of a request
  complete <requestID>
    - mark an accepted request as fulfilled
  outbox
    - show pending lifecycle events
`)
	return nil
}

func (h *Handler) handleExit(context.Context, []string) error {
	h.printf("Bye.\n")
	return ErrExit
}

func (h *Handler) handlePharmacies(ctx context.Context, _ []string) error {
	list, err := h.ops.ListPharmacies(ctx)
	if err != nil {
		return fmt.Errorf("pharmacies: %w", err)
	}
	if len(list) == 0 {
		h.printf("No pharmacies registered.\n")
		return nil
	}
	for _, p := range list {
		h.printf("  ID=%s, Name=%s, License=%s, Verified=%t\n", p.ID, p.PharmacyName, p.LicenseNumber, p.Verified)
	}
	return nil
}

func (h *Handler) handleVerify(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: verify <pharmacyID> [true|false]")
	}
	verified := true
	if len(args) == 2 {
		v, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("bad flag %q: %w", args[1], err)
		}
		verified = v
	}
	p, err := h.ops.VerifyPharmacy(ctx, args[0], verified)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	h.printf("Pharmacy %s verified=%t\n", p.ID, p.Verified)
	return nil
}

func (h *Handler) handleRequests(ctx context.Context, _ []string) error {
	list, err := h.ops.ListRequests(ctx)
	if err != nil {
		return fmt.Errorf("requests: %w", err)
	}
	if len(list) == 0 {
		h.printf("No requests.\n")
		return nil
	}
	for _, r := range list {
		h.printf("  ID=%s, Customer=%s, Status=%s, Radius=%dkm, Created=%s\n",
			r.ID, r.CustomerID, r.Status, r.Radius, r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func (h *Handler) handleQuotes(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: quotes <requestID>")
	}
	list, err := h.ops.ListQuotes(ctx, args[0])
	if err != nil {
		return fmt.Errorf("quotes: %w", err)
	}
	if len(list) == 0 {
		h.printf("Request %s has no quotes.\n", args[0])
		return nil
	}
	for _, q := range list {
		h.printf("  ID=%s, Pharmacy=%s, Delivery=%s, Pickup=%s, ETA=%s, Status=%s\n",
			q.ID, q.PharmacyID, q.DeliveryPrice.StringFixed(2), q.PickupPrice.StringFixed(2), q.EstimatedDeliveryTime, q.Status)
	}
	return nil
}

func (h *Handler) handleComplete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: complete <requestID>")
	}
	r, err := h.ops.CompleteRequest(ctx, args[0])
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	h.printf("Request %s is %s\n", r.ID, r.Status)
	return nil
}

func (h *Handler) handleOutbox(ctx context.Context, _ []string) error {
	tasks, err := h.ops.Outbox(ctx, outboxLimit)
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	if len(tasks) == 0 {
		h.printf("Outbox is empty.\n")
		return nil
	}
	for _, t := range tasks {
		h.printf("  ID=%d, Key=%s, Status=%s, Attempts=%d, Payload=%s\n",
			t.ID, t.Key, t.Status, t.AttemptCount, t.Payload)
	}
	return nil
}

// Package service holds the role-specific controllers. Every operation takes
// the acting caller explicitly and funnels status changes through
// lifecycle.Apply inside one store unit of work.
package service

import (
	"context"
	"fmt"
	"time"

	"medquote/internal/apperr"
	"medquote/internal/audit"
	"medquote/internal/cache"
	"medquote/internal/events"
	"medquote/internal/fulfillment"
	"medquote/internal/geo"
	"medquote/internal/lifecycle"
	"medquote/internal/models"
	"medquote/internal/prescription"
	"medquote/internal/repository"
)

// Deps is shared by the services. Pharmacies only serves profile data;
// verification is always read from Store.
type Deps struct {
	Store         repository.Store
	Pharmacies    *cache.PharmacyCache
	Geocoder      geo.Geocoder
	Prescriptions prescription.Store
	Channels      fulfillment.Service
	Audit         audit.Logger
	Now           func() time.Time
}

func (d *Deps) setDefaults() {
	if d.Pharmacies == nil {
		d.Pharmacies = cache.NewPharmacyCache(d.Store)
	}
	if d.Geocoder == nil {
		d.Geocoder = geo.NewStaticGeocoder(nil)
	}
	if d.Channels == nil {
		d.Channels = fulfillment.NewService()
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
}

func requireRole(caller models.Caller, role models.UserType) error {
	if caller.IsZero() {
		return apperr.ErrUnauthenticated
	}
	if caller.Role != role {
		return fmt.Errorf("%s only: %w", role, apperr.ErrForbidden)
	}
	return nil
}

// pharmacy returns the pharmacy from the cache, falling back to the store
// and warming the cache on a miss. Cached entries may lag behind the store,
// so callers check verification with the store and use this for profiles.
func (d *Deps) pharmacy(ctx context.Context, id string) (*models.Pharmacy, error) {
	if p, ok := d.Pharmacies.Get(id); ok {
		return p, nil
	}
	p, err := d.Store.GetPharmacy(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Pharmacies.Put(p)
	return p, nil
}

// verifiedPharmacies returns the ids of pharmacies the store currently
// marks verified.
func (d *Deps) verifiedPharmacies(ctx context.Context) (map[string]bool, error) {
	list, err := d.Store.ListPharmacies(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list verified pharmacies: %w", err)
	}
	ids := make(map[string]bool, len(list))
	for _, p := range list {
		ids[p.ID] = true
	}
	return ids, nil
}

// write persists o and its events through tx.
func write(ctx context.Context, tx repository.RequestTx, kind lifecycle.Kind, o *lifecycle.Outcome) error {
	if o.Created != nil {
		if err := tx.InsertQuote(ctx, o.Created); err != nil {
			return err
		}
	}
	for _, c := range o.Changed {
		if err := tx.UpdateQuoteStatus(ctx, c.Quote, c.From); err != nil {
			return err
		}
	}
	if o.RequestChanged() {
		if err := tx.UpdateRequest(ctx, o.Request, o.PrevStatus); err != nil {
			return err
		}
	}
	for _, e := range events.FromOutcome(kind, o) {
		payload, err := e.Marshal()
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Type, err)
		}
		if err := tx.Enqueue(ctx, o.Request.ID, payload); err != nil {
			return err
		}
	}
	return nil
}

// transition applies t to the locked request and writes the outcome. check
// runs first against the locked state.
func (d *Deps) transition(ctx context.Context, actor, requestID string, check func(tx repository.RequestTx) (lifecycle.Transition, error)) (*lifecycle.Outcome, error) {
	var out *lifecycle.Outcome
	var kind lifecycle.Kind
	err := d.Store.WithRequest(ctx, requestID, func(tx repository.RequestTx) error {
		t, err := check(tx)
		if err != nil {
			return err
		}
		if t.At.IsZero() {
			t.At = d.Now()
		}
		o, err := lifecycle.Apply(tx.Request(), tx.Quotes(), t)
		if err != nil {
			return err
		}
		if err := write(ctx, tx, t.Kind, o); err != nil {
			return err
		}
		out, kind = o, t.Kind
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.auditOutcome(kind, out, actor)
	return out, nil
}

func (d *Deps) auditOutcome(kind lifecycle.Kind, o *lifecycle.Outcome, actor string) {
	at := o.Request.UpdatedAt
	if o.RequestChanged() {
		d.Audit.Log(audit.Transition(at, audit.EntityRequest, o.Request.ID,
			string(o.PrevStatus), string(o.Request.Status), actor, "request "+string(o.Request.Status)+" by "+string(kind)))
	}
	if q := o.Created; q != nil {
		d.Audit.Log(audit.Transition(q.CreatedAt, audit.EntityQuote, q.ID,
			"", string(q.Status), actor, "quote submitted for request "+o.Request.ID))
	}
	for _, c := range o.Changed {
		d.Audit.Log(audit.Transition(at, audit.EntityQuote, c.Quote.ID,
			string(c.From), string(c.Quote.Status), actor, "quote "+string(c.Quote.Status)))
	}
}

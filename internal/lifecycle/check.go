package lifecycle

import (
	"fmt"

	"medquote/internal/models"
)

// Check verifies that req.Status agrees with the statuses of its quotes.
// A request's status is a summary of its quotes and must never diverge.
func Check(req *models.MedicineRequest, quotes []*models.Quote) error {
	var pending, accepted int
	var acceptedID string
	for _, q := range quotes {
		if q.RequestID != req.ID {
			return fmt.Errorf("quote %s belongs to request %s, listed under %s", q.ID, q.RequestID, req.ID)
		}
		switch q.Status {
		case models.QuoteStatusPending:
			pending++
		case models.QuoteStatusAccepted:
			accepted++
			acceptedID = q.ID
		}
	}

	switch req.Status {
	case models.RequestStatusPending:
		if len(quotes) > 0 {
			return fmt.Errorf("request %s is pending with %d quotes", req.ID, len(quotes))
		}
	case models.RequestStatusQuoted:
		if len(quotes) == 0 {
			return fmt.Errorf("request %s is quoted without quotes", req.ID)
		}
		if accepted > 0 {
			return fmt.Errorf("request %s is quoted with an accepted quote", req.ID)
		}
	case models.RequestStatusAccepted, models.RequestStatusCompleted:
		if accepted != 1 {
			return fmt.Errorf("request %s is %s with %d accepted quotes", req.ID, req.Status, accepted)
		}
		if acceptedID != req.AcceptedQuoteID {
			return fmt.Errorf("request %s points at quote %s, accepted quote is %s", req.ID, req.AcceptedQuoteID, acceptedID)
		}
		if pending > 0 {
			return fmt.Errorf("request %s is %s with %d pending quotes", req.ID, req.Status, pending)
		}
	case models.RequestStatusCancelled:
		if accepted > 0 || pending > 0 {
			return fmt.Errorf("request %s is cancelled with open quotes", req.ID)
		}
	default:
		return fmt.Errorf("request %s has unknown status %q", req.ID, req.Status)
	}
	return nil
}

// Merge returns quotes with the outcome's created and changed quotes applied,
// which is the set a store holds once the outcome is written.
func Merge(quotes []*models.Quote, o *Outcome) []*models.Quote {
	changed := make(map[string]*models.Quote, len(o.Changed))
	for _, c := range o.Changed {
		changed[c.Quote.ID] = c.Quote
	}
	res := make([]*models.Quote, 0, len(quotes)+1)
	for _, q := range quotes {
		if c, ok := changed[q.ID]; ok {
			res = append(res, c)
			continue
		}
		res = append(res, q)
	}
	if o.Created != nil {
		res = append(res, o.Created)
	}
	return res
}

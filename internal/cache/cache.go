package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"medquote/internal/models"
)

// PharmacySource is the part of the user repository the cache reads from.
type PharmacySource interface {
	ListPharmacies(ctx context.Context, verifiedOnly bool) ([]*models.Pharmacy, error)
}

type Cache interface {
	Refresh(ctx context.Context) error
}

// PharmacyCache keeps every pharmacy keyed by id. Visibility checks on
// request and quote listings read from it instead of the store.
type PharmacyCache struct {
	src PharmacySource

	mu         sync.RWMutex
	pharmacies map[string]*models.Pharmacy
	refreshed  time.Time
}

func NewPharmacyCache(src PharmacySource) *PharmacyCache {
	return &PharmacyCache{
		src:        src,
		pharmacies: make(map[string]*models.Pharmacy),
	}
}

func (c *PharmacyCache) Refresh(ctx context.Context) error {
	list, err := c.src.ListPharmacies(ctx, false)
	if err != nil {
		return err
	}
	m := make(map[string]*models.Pharmacy, len(list))
	for _, p := range list {
		m[p.ID] = p
	}
	c.mu.Lock()
	c.pharmacies = m
	c.refreshed = time.Now()
	c.mu.Unlock()
	return nil
}

// Get returns a copy of the cached pharmacy.
func (c *PharmacyCache) Get(id string) (*models.Pharmacy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pharmacies[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Put replaces one entry, used after a write that the next refresh would
// otherwise pick up late.
func (c *PharmacyCache) Put(p *models.Pharmacy) {
	cp := *p
	c.mu.Lock()
	c.pharmacies[p.ID] = &cp
	c.mu.Unlock()
}

func (c *PharmacyCache) Verified() []*models.Pharmacy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]*models.Pharmacy, 0, len(c.pharmacies))
	for _, p := range c.pharmacies {
		if p.Verified {
			cp := *p
			res = append(res, &cp)
		}
	}
	return res
}

func (c *PharmacyCache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}

// StartAutoRefresh blocks until ctx is done. A failed refresh keeps the
// previous contents.
func (c *PharmacyCache) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				log.Printf("pharmacy cache refresh: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Package storage is an in-memory implementation of repository.Store that
// can snapshot itself to a JSON file after every commit.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"medquote/internal/apperr"
	"medquote/internal/models"
	"medquote/internal/repository"
)

type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*models.User
	emails     map[string]string
	customers  map[string]*models.Customer
	pharmacies map[string]*models.Pharmacy
	requests   map[string]*models.MedicineRequest
	quotes     map[string]*models.Quote
	tasks      map[int64]*repository.Task
	nextTaskID int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	dataFile string
}

var _ repository.Store = (*MemoryStore)(nil)

// New returns an empty store. With a non-empty dataFile the store loads the
// file when it exists and rewrites it after each commit.
func New(dataFile string) (*MemoryStore, error) {
	st := &MemoryStore{
		users:      make(map[string]*models.User),
		emails:     make(map[string]string),
		customers:  make(map[string]*models.Customer),
		pharmacies: make(map[string]*models.Pharmacy),
		requests:   make(map[string]*models.MedicineRequest),
		quotes:     make(map[string]*models.Quote),
		tasks:      make(map[int64]*repository.Task),
		locks:      make(map[string]chan struct{}),
		dataFile:   dataFile,
	}
	if dataFile == "" {
		return st, nil
	}
	if err := st.loadFromFile(); err != nil {
		return nil, err
	}
	return st, nil
}

type snapshotUser struct {
	Customer     *models.Customer `json:"customer,omitempty"`
	Pharmacy     *models.Pharmacy `json:"pharmacy,omitempty"`
	PasswordHash string           `json:"password_hash"`
}

type snapshot struct {
	Users    []snapshotUser            `json:"users"`
	Requests []*models.MedicineRequest `json:"requests"`
	Quotes   []*models.Quote           `json:"quotes"`
	Tasks    []*repository.Task        `json:"tasks"`
}

func (st *MemoryStore) loadFromFile() error {
	data, err := os.ReadFile(st.dataFile)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", st.dataFile, err)
	}
	for _, u := range snap.Users {
		switch {
		case u.Customer != nil:
			u.Customer.PasswordHash = u.PasswordHash
			st.putCustomer(u.Customer)
		case u.Pharmacy != nil:
			u.Pharmacy.PasswordHash = u.PasswordHash
			st.putPharmacy(u.Pharmacy)
		}
	}
	for _, r := range snap.Requests {
		st.requests[r.ID] = r
	}
	for _, q := range snap.Quotes {
		st.quotes[q.ID] = q
	}
	for _, t := range snap.Tasks {
		st.tasks[t.ID] = t
		if t.ID > st.nextTaskID {
			st.nextTaskID = t.ID
		}
	}
	return nil
}

// saveToFile must be called with st.mu held.
func (st *MemoryStore) saveToFile() error {
	if st.dataFile == "" {
		return nil
	}
	var snap snapshot
	for _, c := range st.customers {
		snap.Users = append(snap.Users, snapshotUser{Customer: c, PasswordHash: c.PasswordHash})
	}
	for _, p := range st.pharmacies {
		snap.Users = append(snap.Users, snapshotUser{Pharmacy: p, PasswordHash: p.PasswordHash})
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snapshotUserID(snap.Users[i]) < snapshotUserID(snap.Users[j]) })
	for _, r := range st.requests {
		snap.Requests = append(snap.Requests, r)
	}
	sortRequestsDesc(snap.Requests)
	for _, q := range st.quotes {
		snap.Quotes = append(snap.Quotes, q)
	}
	sortQuotesAsc(snap.Quotes)
	for _, t := range st.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(st.dataFile), ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), st.dataFile)
}

func snapshotUserID(u snapshotUser) string {
	if u.Customer != nil {
		return u.Customer.ID
	}
	return u.Pharmacy.ID
}

func (st *MemoryStore) persist() {
	if err := st.saveToFile(); err != nil {
		// the in-memory state stays authoritative
		log.Printf("save snapshot %s: %v", st.dataFile, err)
	}
}

// users

func (st *MemoryStore) putCustomer(c *models.Customer) {
	st.users[c.ID] = &c.User
	st.emails[c.Email] = c.ID
	st.customers[c.ID] = c
}

func (st *MemoryStore) putPharmacy(p *models.Pharmacy) {
	st.users[p.ID] = &p.User
	st.emails[p.Email] = p.ID
	st.pharmacies[p.ID] = p
}

func (st *MemoryStore) checkNewUser(u *models.User) error {
	if _, ok := st.emails[u.Email]; ok {
		return fmt.Errorf("%s: %w", u.Email, apperr.ErrEmailTaken)
	}
	if _, ok := st.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, apperr.ErrConflict)
	}
	return nil
}

func (st *MemoryStore) CreateCustomer(_ context.Context, c *models.Customer) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.checkNewUser(&c.User); err != nil {
		return err
	}
	cp := *c
	st.putCustomer(&cp)
	st.persist()
	return nil
}

func (st *MemoryStore) CreatePharmacy(_ context.Context, p *models.Pharmacy) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.checkNewUser(&p.User); err != nil {
		return err
	}
	cp := *p
	st.putPharmacy(&cp)
	st.persist()
	return nil
}

func (st *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.emails[email]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
	}
	u := *st.users[id]
	return &u, nil
}

func (st *MemoryStore) GetCustomer(_ context.Context, id string) (*models.Customer, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	c, ok := st.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, apperr.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (st *MemoryStore) GetPharmacy(_ context.Context, id string) (*models.Pharmacy, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	p, ok := st.pharmacies[id]
	if !ok {
		return nil, fmt.Errorf("pharmacy %s: %w", id, apperr.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (st *MemoryStore) ListPharmacies(_ context.Context, verifiedOnly bool) ([]*models.Pharmacy, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	res := make([]*models.Pharmacy, 0, len(st.pharmacies))
	for _, p := range st.pharmacies {
		if verifiedOnly && !p.Verified {
			continue
		}
		cp := *p
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].PharmacyName != res[j].PharmacyName {
			return res[i].PharmacyName < res[j].PharmacyName
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (st *MemoryStore) SetPharmacyVerified(_ context.Context, id string, verified bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.pharmacies[id]
	if !ok {
		return fmt.Errorf("pharmacy %s: %w", id, apperr.ErrNotFound)
	}
	p.Verified = verified
	st.persist()
	return nil
}

// requests and quotes

func sortRequestsDesc(rs []*models.MedicineRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID > rs[j].ID
	})
}

func sortQuotesAsc(qs []*models.Quote) {
	sort.Slice(qs, func(i, j int) bool {
		if !qs[i].CreatedAt.Equal(qs[j].CreatedAt) {
			return qs[i].CreatedAt.Before(qs[j].CreatedAt)
		}
		return qs[i].ID < qs[j].ID
	})
}

func (st *MemoryStore) CreateRequest(_ context.Context, r *models.MedicineRequest, payloads ...[]byte) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.requests[r.ID]; ok {
		return fmt.Errorf("request %s: %w", r.ID, apperr.ErrConflict)
	}
	if _, ok := st.customers[r.CustomerID]; !ok {
		return fmt.Errorf("customer %s: %w", r.CustomerID, apperr.ErrNotFound)
	}
	st.requests[r.ID] = r.Clone()
	for _, p := range payloads {
		st.addTask(r.ID, p)
	}
	st.persist()
	return nil
}

func (st *MemoryStore) GetRequest(_ context.Context, id string) (*models.MedicineRequest, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	r, ok := st.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	return r.Clone(), nil
}

func (st *MemoryStore) ListRequests(_ context.Context, f repository.RequestFilter) ([]*models.MedicineRequest, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	res := make([]*models.MedicineRequest, 0)
	for _, r := range st.requests {
		if f.CustomerID != "" && r.CustomerID != f.CustomerID {
			continue
		}
		if f.OpenOnly && r.Status.Terminal() {
			continue
		}
		res = append(res, r.Clone())
	}
	sortRequestsDesc(res)
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (st *MemoryStore) GetQuote(_ context.Context, id string) (*models.Quote, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	q, ok := st.quotes[id]
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", id, apperr.ErrNotFound)
	}
	return q.Clone(), nil
}

func (st *MemoryStore) quotesOf(requestID string) []*models.Quote {
	res := make([]*models.Quote, 0)
	for _, q := range st.quotes {
		if q.RequestID == requestID {
			res = append(res, q.Clone())
		}
	}
	sortQuotesAsc(res)
	return res
}

func (st *MemoryStore) ListQuotesByRequest(_ context.Context, requestID string) ([]*models.Quote, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.quotesOf(requestID), nil
}

func (st *MemoryStore) ListQuotesByPharmacy(_ context.Context, pharmacyID string) ([]*models.Quote, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	res := make([]*models.Quote, 0)
	for _, q := range st.quotes {
		if q.PharmacyID == pharmacyID {
			res = append(res, q.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

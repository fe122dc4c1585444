package marketplace

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"golang.org/x/xerrors"

	"github.com/sudo-init-do/blindbid/internal/apperr"
)

// Store persists listing records. Update must run fn as one atomic
// read-modify-write per listing: concurrent updates of the same listing are
// serialised, and when fn returns an error nothing is written.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, f Filter) ([]*Record, error)
	Update(ctx context.Context, id string, fn func(rec *Record) error) error
}

// MemoryStore keeps records in process memory. Records are stored encoded
// so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	order   []string
	locks   map[string]*sync.Mutex
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Errorf("encode listing %s: %w", rec.Listing.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Listing.ID]; ok {
		return apperr.New(apperr.InvalidInput, "createListing", rec.Listing.ID, "listing already exists")
	}
	s.records[rec.Listing.ID] = b
	s.order = append(s.order, rec.Listing.ID)
	s.locks[rec.Listing.ID] = &sync.Mutex{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	b, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "getListing", id, "listing not found")
	}
	return decodeRecord(id, b)
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		rec, err := decodeRecord(id, s.records[id])
		if err != nil {
			return nil, err
		}
		if matchesStored(rec, f) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Listing.CreatedAt.After(out[j].Listing.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(rec *Record) error) error {
	s.mu.RLock()
	lock, ok := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.NotFound, "", id, "listing not found")
	}

	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	b := s.records[id]
	s.mu.RUnlock()

	rec, err := decodeRecord(id, b)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	out, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Errorf("encode listing %s: %w", id, err)
	}

	s.mu.Lock()
	s.records[id] = out
	s.mu.Unlock()
	return nil
}

func decodeRecord(id string, b []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, xerrors.Errorf("decode listing %s: %w", id, err)
	}
	return &rec, nil
}

// matchesStored applies the parts of f that do not depend on time.
func matchesStored(rec *Record, f Filter) bool {
	if f.Seller != "" && rec.Listing.Seller != f.Seller {
		return false
	}
	if f.Category != "" && rec.Listing.Category != f.Category {
		return false
	}
	if f.Status != "" && rec.Listing.Status != f.Status {
		return false
	}
	return true
}

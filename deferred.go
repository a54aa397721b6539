package dispatch

import (
	"context"
	"sync"
	"time"
)

// DeferredStore tracks deferred results by ticket ID through a two-stage
// lifecycle: PutPending registers an in-flight ticket, Complete attaches
// the final result. Entries expire by TTL; expired entries are treated as
// absent.
//
// Replacement implementations must honor this contract verbatim.
type DeferredStore interface {
	// PutPending registers a pending ticket.
	PutPending(ctx context.Context, ticketID string, ttl time.Duration) error

	// Complete stores the final result for the ticket.
	Complete(ctx context.Context, ticketID string, result *ServiceResult, ttl time.Duration) error

	// Get returns (result, known): known reports whether the ticket
	// exists and is unexpired; a nil result with known=true means the
	// ticket is still pending.
	Get(ctx context.Context, ticketID string) (*ServiceResult, bool, error)
}

type deferredEntry struct {
	expiresAt time.Time
	result    *ServiceResult
}

// MemoryDeferredStore is the reference in-memory deferred store. One mutex
// guards the map; expiry is checked lazily on read.
type MemoryDeferredStore struct {
	mu      sync.Mutex
	entries map[string]deferredEntry

	now func() time.Time
}

// NewMemoryDeferredStore creates an empty in-memory store.
func NewMemoryDeferredStore() *MemoryDeferredStore {
	return &MemoryDeferredStore{
		entries: make(map[string]deferredEntry),
		now:     time.Now,
	}
}

// PutPending implements DeferredStore.
func (s *MemoryDeferredStore) PutPending(_ context.Context, ticketID string, ttl time.Duration) error {
	if ticketID == "" {
		return ErrTicketEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[ticketID] = deferredEntry{expiresAt: s.now().Add(ttl)}
	return nil
}

// Complete implements DeferredStore.
func (s *MemoryDeferredStore) Complete(_ context.Context, ticketID string, result *ServiceResult, ttl time.Duration) error {
	if ticketID == "" {
		return ErrTicketEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[ticketID] = deferredEntry{
		expiresAt: s.now().Add(ttl),
		result:    result,
	}
	return nil
}

// Get implements DeferredStore.
func (s *MemoryDeferredStore) Get(_ context.Context, ticketID string) (*ServiceResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[ticketID]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, ticketID)
		return nil, false, nil
	}
	return entry.result, true, nil
}

// Sweep evicts expired tickets eagerly, returning the eviction count.
// Wired to the StoreSweeper.
func (s *MemoryDeferredStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

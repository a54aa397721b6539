package dispatch

import (
	"context"
	"sync"
	"time"
)

// IdempotencyStore stores service results by idempotency key.
//
// Contract:
//   - Get returns the non-expired entry or nil.
//   - Put stores the result with expires_at = now + ttl, regardless of the
//     result status: errors and deferred tickets are coalesced identically.
//   - Lock is a best-effort guard against concurrent duplicate work: it
//     returns true iff no non-expired lock is held for the key.
//   - Unlock drops the lock unconditionally.
//
// Replacement implementations (Redis, SQL) must honor this contract
// verbatim.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*ServiceResult, error)
	Put(ctx context.Context, key string, result *ServiceResult, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// IdempotencyConfig parameterizes the idempotency middleware.
type IdempotencyConfig struct {
	// TTL bounds how long a cached result is re-served.
	TTL time.Duration

	// LockTTL bounds how long a crashed holder can block duplicates.
	LockTTL time.Duration
}

// DefaultIdempotencyConfig returns the standard TTLs.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     5 * time.Minute,
		LockTTL: 30 * time.Second,
	}
}

// IdempotencyMiddleware coalesces duplicate calls sharing an idempotency
// key. Calls without a key pass through untouched. A cached result is
// returned verbatim, cached errors included. If another call holds the
// key's lock, the middleware synthesizes error/in_progress (retryable)
// without invoking the rest of the chain.
//
// The lock is released on every exit path. Cancellation skips the cache
// write: a result that never completed must not be re-served. This covers
// the abandoned-attempt case too, where a terminal ignores the deadline
// and returns normally after the executor has already reported a timeout.
func IdempotencyMiddleware(store IdempotencyStore, cfg IdempotencyConfig) Middleware {
	return func(ctx context.Context, op *ServiceOp, next NextFunc) (*ServiceResult, error) {
		key := op.Call.IdempotencyKey
		if key == "" {
			return next(ctx)
		}

		cached, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}

		acquired, err := store.Lock(ctx, key, cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		if !acquired {
			meta := ResultMeta{
				RequestID:      op.Call.RequestID,
				TenantID:       op.Call.TenantID,
				TraceID:        op.Call.TraceID,
				StartedAt:      NowMillis(),
				Attempt:        1,
				IdempotencyKey: key,
				Tags:           op.Call.Tags,
			}
			return ErrorResult(meta, ErrorInfo{
				Code:      ErrorCodeInProgress,
				Message:   "Operation in progress",
				Retryable: true,
			}), nil
		}

		// The unlock must survive cancellation of the operation context.
		defer store.Unlock(context.WithoutCancel(ctx), key) //nolint:errcheck

		res, err := next(ctx)
		if err != nil {
			// Cancelled or failed before producing a result; nothing to cache.
			return res, err
		}
		if ctx.Err() != nil {
			// The attempt's deadline expired or the caller cancelled while the
			// terminal kept running: the caller never saw this result, so it
			// must not be re-served.
			return res, nil
		}

		if putErr := store.Put(ctx, key, res, cfg.TTL); putErr != nil {
			return nil, putErr
		}
		return res, nil
	}
}

type idempotencyEntry struct {
	expiresAt time.Time
	result    *ServiceResult
}

// MemoryIdempotencyStore is the reference in-memory store. A single mutex
// covers both the entry and lock maps; expiry is checked lazily on read.
// Suitable for tests and single-process deployments.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	locks   map[string]time.Time

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewMemoryIdempotencyStore creates an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]idempotencyEntry),
		locks:   make(map[string]time.Time),
		now:     time.Now,
	}
}

// Get implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*ServiceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	return entry.result, nil
}

// Put implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, result *ServiceResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = idempotencyEntry{
		expiresAt: s.now().Add(ttl),
		result:    result,
	}
	return nil
}

// Lock implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Lock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, held := s.locks[key]; held && now.Before(expiry) {
		return false, nil
	}
	s.locks[key] = now.Add(ttl)
	return true, nil
}

// Unlock implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Unlock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, key)
	return nil
}

// Sweep evicts expired entries and locks eagerly, returning the number of
// evictions. The store expires lazily on read; Sweep bounds memory for
// keys that are never read again. Wired to the StoreSweeper.
func (s *MemoryIdempotencyStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			evicted++
		}
	}
	for key, expiry := range s.locks {
		if !now.Before(expiry) {
			delete(s.locks, key)
			evicted++
		}
	}
	return evicted
}

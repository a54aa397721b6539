package dispatch

import (
	"sync"

	"github.com/robfig/cron/v3"
)

// Sweepable is implemented by stores that can evict expired entries
// eagerly. The reference stores expire lazily on read; sweeping bounds
// memory for keys that are never read again.
type Sweepable interface {
	// Sweep evicts expired entries and returns the eviction count.
	Sweep() int
}

// StoreSweeper periodically sweeps registered stores on a cron schedule.
type StoreSweeper struct {
	schedule string
	logger   Logger

	mu     sync.Mutex
	stores []Sweepable
	cron   *cron.Cron
}

// DefaultSweepSchedule sweeps once a minute.
const DefaultSweepSchedule = "@every 1m"

// NewStoreSweeper creates a sweeper with the given cron schedule spec
// (e.g. "@every 1m"). An empty schedule uses DefaultSweepSchedule.
func NewStoreSweeper(schedule string, logger Logger, stores ...Sweepable) *StoreSweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = NoopLogger{}
	}
	return &StoreSweeper{
		schedule: schedule,
		logger:   logger,
		stores:   stores,
	}
}

// Add registers another store for sweeping.
func (s *StoreSweeper) Add(store Sweepable) {
	s.mu.Lock()
	s.stores = append(s.stores, store)
	s.mu.Unlock()
}

// SweepNow sweeps every registered store once, returning total evictions.
func (s *StoreSweeper) SweepNow() int {
	s.mu.Lock()
	stores := make([]Sweepable, len(s.stores))
	copy(stores, s.stores)
	s.mu.Unlock()

	total := 0
	for _, store := range stores {
		total += store.Sweep()
	}
	if total > 0 {
		s.logger.Debug("Swept expired store entries", "evicted", total)
	}
	return total
}

// Start begins the periodic sweep. Idempotent.
func (s *StoreSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.SweepNow() }); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	s.logger.Info("Store sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts the periodic sweep and waits for a running sweep to finish.
// Idempotent.
func (s *StoreSweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

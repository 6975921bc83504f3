// Package sweeper runs the periodic eviction of expired cache entries.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/haukened/rr-cache/internal/dns/common/clock"
	"github.com/haukened/rr-cache/internal/dns/common/log"
	"github.com/haukened/rr-cache/internal/dns/repos/recordcache"
)

const defaultInterval = time.Second

// Store is the part of the record store the sweeper drives.
type Store interface {
	Sweep(now time.Time) int
	Stats() recordcache.Stats
}

type Sweeper struct {
	store    Store
	clock    clock.Clock
	interval time.Duration
	logger   log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	Store    Store
	Clock    clock.Clock
	Interval time.Duration
	Logger   log.Logger
}

func New(opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Sweeper{
		store:    opts.Store,
		clock:    opts.Clock,
		interval: opts.Interval,
		logger:   opts.Logger,
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce evicts everything expired at the current clock time and returns
// the number of entries removed.
func (s *Sweeper) SweepOnce() int {
	removed := s.store.Sweep(s.clock.Now())
	if removed > 0 {
		st := s.store.Stats()
		s.logger.Info(map[string]any{
			"removed":     removed,
			"a_entries":   st.AddressEntries,
			"ns_entries":  st.NameServerEntries,
			"hits":        st.Hits,
			"misses":      st.Misses,
			"evicted_lru": st.Evicted,
		}, "Swept expired cache entries")
	}
	return removed
}

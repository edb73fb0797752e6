// Package store implements the shared latest-value cache. Writers replace
// the live point per IOA and queue a pending notification; a dispatcher
// drains the pending set on a fixed interval and fans each unique point out
// to the registered listeners on a bounded worker pool. Bursts to one IOA
// coalesce into a single delivery of the newest value per batch.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dev-anmol/iec-gateway/internal/config"
	"github.com/dev-anmol/iec-gateway/internal/point"
)

// bytesPerPoint is the crude per-point heuristic behind the estimated
// memory stat.
const bytesPerPoint = 500

// Listener receives each unique changed point once per batch. Listeners
// must not mutate the point and must not block indefinitely; a slow
// listener occupies one pool worker.
type Listener func(*point.Point)

// Subscription identifies a registered listener. Unsubscribe is precise
// and idempotent.
type Subscription struct {
	id uuid.UUID
}

// Stats is the observational surface of the store.
type Stats struct {
	PointCount           int
	ListenerCount        int
	PendingNotifications int
	TotalUpdates         uint64
	CoalescedUpdates     uint64
	DroppedNotifications uint64
	EstimatedMemoryKB    int64
}

// Store is the process-wide latest-value cache. Construct one with New,
// start it once, and pass it by reference; there is no implicit
// re-initialisation.
type Store struct {
	logger          *zap.Logger
	batchInterval   time.Duration
	workers         int
	softLimit       int
	shutdownTimeout time.Duration

	mu     sync.RWMutex
	points map[uint32]*point.Point

	pendMu  sync.Mutex
	pending map[uint32]*point.Point

	lisMu     sync.Mutex
	listeners map[uuid.UUID]Listener

	jobs     chan func()
	stop     chan struct{}
	done     chan struct{}
	workerWG sync.WaitGroup
	running  atomic.Bool

	totalUpdates atomic.Uint64
	coalesced    atomic.Uint64
	dropped      atomic.Uint64
}

// New builds a stopped store. Call Start before the first Update that
// should be delivered.
func New(cfg config.StoreConfig, logger *zap.Logger) *Store {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 24
	}
	interval := cfg.BatchInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		logger:          logger,
		batchInterval:   interval,
		workers:         workers,
		softLimit:       cfg.ListenerSoftLimit,
		shutdownTimeout: timeout,
		points:          make(map[uint32]*point.Point),
		pending:         make(map[uint32]*point.Point),
		listeners:       make(map[uuid.UUID]Listener),
		jobs:            make(chan func(), 1024),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start launches the worker pool and the dispatcher loop.
func (s *Store) Start() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("store already running, ignoring start")
		return
	}

	for i := 0; i < s.workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			for job := range s.jobs {
				job()
			}
		}()
	}

	go s.dispatch()

	s.logger.Info("store started",
		zap.Duration("batch_interval", s.batchInterval),
		zap.Int("workers", s.workers),
	)
}

// Update replaces the live point at the same IOA and records a pending
// notification. Non-blocking; invalid input is dropped with a warning.
func (s *Store) Update(p *point.Point) {
	if p == nil {
		s.logger.Warn("nil point, ignoring update")
		return
	}
	if p.IOA == 0 {
		s.logger.Warn("ioa is zero, ignoring update", zap.String("id", p.ID))
		return
	}

	p.Touch()

	s.mu.Lock()
	prev := s.points[p.IOA]
	s.points[p.IOA] = p
	total := len(s.points)
	s.mu.Unlock()

	s.totalUpdates.Add(1)

	if prev == nil {
		s.logger.Info("new point",
			zap.Uint32("ioa", p.IOA),
			zap.String("value", p.Value().String()),
			zap.Int("total", total),
		)
	} else {
		s.logger.Debug("point updated",
			zap.Uint32("ioa", p.IOA),
			zap.String("value", p.Value().String()),
		)
	}

	s.pendMu.Lock()
	if _, exists := s.pending[p.IOA]; exists {
		// The older pending notification is discarded; only the
		// newest value per IOA survives the batch.
		s.coalesced.Add(1)
	}
	s.pending[p.IOA] = p
	s.pendMu.Unlock()
}

// Get returns the latest value for an IOA.
func (s *Store) Get(ioa uint32) (*point.Point, bool) {
	s.mu.RLock()
	p, ok := s.points[ioa]
	s.mu.RUnlock()
	return p, ok
}

// Snapshot returns a shallow copy of the live set, used for interrogation
// replies. Isolation is weak: each entry was the live value at some moment,
// but concurrent writes after the snapshot begins may or may not appear.
func (s *Store) Snapshot() map[uint32]*point.Point {
	s.mu.RLock()
	out := make(map[uint32]*point.Point, len(s.points))
	for ioa, p := range s.points {
		out[ioa] = p
	}
	s.mu.RUnlock()
	return out
}

// Keys returns the currently known IOAs.
func (s *Store) Keys() []uint32 {
	s.mu.RLock()
	keys := make([]uint32, 0, len(s.points))
	for ioa := range s.points {
		keys = append(keys, ioa)
	}
	s.mu.RUnlock()
	return keys
}

// Subscribe registers a listener and returns its subscription handle.
func (s *Store) Subscribe(fn Listener) Subscription {
	sub := Subscription{id: uuid.New()}
	if fn == nil {
		s.logger.Warn("nil listener, ignoring subscribe")
		return sub
	}

	s.lisMu.Lock()
	s.listeners[sub.id] = fn
	n := len(s.listeners)
	s.lisMu.Unlock()

	s.logger.Info("listener added", zap.Int("total", n))
	if s.softLimit > 0 && n > s.softLimit {
		s.logger.Warn("high listener count, check for leaks", zap.Int("count", n))
	}
	return sub
}

// Unsubscribe removes a listener. Removing an unknown or already removed
// subscription is a no-op.
func (s *Store) Unsubscribe(sub Subscription) {
	s.lisMu.Lock()
	_, ok := s.listeners[sub.id]
	delete(s.listeners, sub.id)
	n := len(s.listeners)
	s.lisMu.Unlock()

	if ok {
		s.logger.Info("listener removed", zap.Int("remaining", n))
	} else {
		s.logger.Warn("listener not found")
	}
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	points := len(s.points)
	s.mu.RUnlock()

	s.pendMu.Lock()
	pendingCount := len(s.pending)
	s.pendMu.Unlock()

	s.lisMu.Lock()
	listeners := len(s.listeners)
	s.lisMu.Unlock()

	return Stats{
		PointCount:           points,
		ListenerCount:        listeners,
		PendingNotifications: pendingCount,
		TotalUpdates:         s.totalUpdates.Load(),
		CoalescedUpdates:     s.coalesced.Load(),
		DroppedNotifications: s.dropped.Load(),
		EstimatedMemoryKB:    int64(points) * bytesPerPoint / 1024,
	}
}

// dispatch runs until Shutdown. Every tick it swaps the pending map for a
// fresh one, so the set of keys removed equals the set delivered and writes
// racing the drain land in the next batch.
func (s *Store) dispatch() {
	defer close(s.done)

	ticker := time.NewTicker(s.batchInterval)
	defer ticker.Stop()

	s.logger.Info("notification dispatcher started")

	for {
		select {
		case <-s.stop:
			s.logger.Info("notification dispatcher stopped")
			return
		case <-ticker.C:
			s.pendMu.Lock()
			if len(s.pending) == 0 {
				s.pendMu.Unlock()
				continue
			}
			batch := s.pending
			s.pending = make(map[uint32]*point.Point, len(batch))
			s.pendMu.Unlock()

			listeners := s.listenerSnapshot()
			if len(listeners) == 0 {
				continue
			}

			for _, p := range batch {
				for _, fn := range listeners {
					p, fn := p, fn
					select {
					case s.jobs <- func() { s.invoke(fn, p) }:
					case <-s.stop:
						s.logger.Info("notification dispatcher stopped")
						return
					}
				}
			}
		}
	}
}

func (s *Store) listenerSnapshot() []Listener {
	s.lisMu.Lock()
	out := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	s.lisMu.Unlock()
	return out
}

// invoke isolates a listener failure to the pool worker running it.
func (s *Store) invoke(fn Listener, p *point.Point) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("listener panic",
				zap.Uint32("ioa", p.IOA),
				zap.Any("panic", r),
			)
		}
	}()
	fn(p)
}

// Shutdown stops the dispatcher and the worker pool, each within the
// configured timeout, then drops and counts whatever was still pending.
// Safe to call more than once.
func (s *Store) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.logger.Info("shutting down store")
	close(s.stop)

	select {
	case <-s.done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("dispatcher did not stop in time")
	}

	close(s.jobs)
	drained := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("worker pool did not drain in time")
	}

	s.pendMu.Lock()
	droppedNow := len(s.pending)
	s.pending = make(map[uint32]*point.Point)
	s.pendMu.Unlock()

	if droppedNow > 0 {
		s.dropped.Add(uint64(droppedNow))
		s.logger.Warn("dropped pending notifications", zap.Int("count", droppedNow))
	}

	s.logger.Info("store shutdown complete")
}

// Clear wipes the live and pending sets. Testing only.
func (s *Store) Clear() {
	s.mu.Lock()
	s.points = make(map[uint32]*point.Point)
	s.mu.Unlock()

	s.pendMu.Lock()
	s.pending = make(map[uint32]*point.Point)
	s.pendMu.Unlock()

	s.logger.Warn("store cleared")
}

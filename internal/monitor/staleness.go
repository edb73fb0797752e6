// Package monitor watches the point store for data-quality problems that
// no single ingress handler can see, currently sources that have gone
// quiet.
package monitor

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dev-anmol/iec-gateway/internal/point"
	"github.com/dev-anmol/iec-gateway/internal/store"
)

// StalenessMonitor scans the store on a fixed interval and warns about
// points that have not been written for longer than the configured age.
// It never mutates points; a stale value keeps serving interrogations.
type StalenessMonitor struct {
	store    *store.Store
	logger   *zap.Logger
	interval time.Duration
	maxAge   time.Duration

	staleSeen atomic.Uint64

	stop chan struct{}
	done chan struct{}
}

// NewStalenessMonitor builds a stopped monitor. A zero interval or maxAge
// falls back to one scan per minute against a five minute age limit.
func NewStalenessMonitor(st *store.Store, logger *zap.Logger, interval, maxAge time.Duration) *StalenessMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &StalenessMonitor{
		store:    st,
		logger:   logger,
		interval: interval,
		maxAge:   maxAge,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the scan loop.
func (m *StalenessMonitor) Start() {
	go m.loop()
	m.logger.Info("staleness monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("max_age", m.maxAge),
	)
}

// Stop ends the scan loop.
func (m *StalenessMonitor) Stop() {
	close(m.stop)
	<-m.done
	m.logger.Info("staleness monitor stopped")
}

// StaleSeen returns the cumulative number of stale observations.
func (m *StalenessMonitor) StaleSeen() uint64 { return m.staleSeen.Load() }

func (m *StalenessMonitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.scan()
		}
	}
}

func (m *StalenessMonitor) scan() {
	stale := m.Scan()
	for _, p := range stale {
		m.logger.Warn("point has gone stale",
			zap.Uint32("ioa", p.IOA),
			zap.String("source", p.SourceProtocol),
			zap.Duration("age", p.Age()),
		)
	}
}

// Scan returns the currently stale points and counts them.
func (m *StalenessMonitor) Scan() []*point.Point {
	var stale []*point.Point
	for _, p := range m.store.Snapshot() {
		if p.IsStale(m.maxAge) {
			stale = append(stale, p)
		}
	}
	m.staleSeen.Add(uint64(len(stale)))
	return stale
}

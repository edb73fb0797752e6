package monitor

import (
	"testing"
	"time"

	"github.com/riclolsen/go-iecp5/asdu"
	"go.uber.org/zap"

	"github.com/dev-anmol/iec-gateway/internal/config"
	"github.com/dev-anmol/iec-gateway/internal/point"
	"github.com/dev-anmol/iec-gateway/internal/store"
)

func newMonitorStore() *store.Store {
	return store.New(config.StoreConfig{
		BatchInterval:   time.Hour,
		Workers:         2,
		ShutdownTimeout: time.Second,
	}, zap.NewNop())
}

func TestScanFindsQuietPoints(t *testing.T) {
	st := newMonitorStore()
	defer st.Shutdown()

	st.Update(point.New(1001, 1, asdu.M_ME_NC_1, point.F32(1), 0, true))
	st.Update(point.New(1002, 1, asdu.M_ME_NC_1, point.F32(2), 0, true))

	m := NewStalenessMonitor(st, zap.NewNop(), time.Minute, 30*time.Millisecond)

	if stale := m.Scan(); len(stale) != 0 {
		t.Fatalf("fresh points reported stale: %d", len(stale))
	}

	time.Sleep(50 * time.Millisecond)
	st.Update(point.New(1002, 1, asdu.M_ME_NC_1, point.F32(3), 0, true))

	stale := m.Scan()
	if len(stale) != 1 {
		t.Fatalf("expected one stale point, got %d", len(stale))
	}
	if stale[0].IOA != 1001 {
		t.Errorf("expected ioa 1001 stale, got %d", stale[0].IOA)
	}
	if got := m.StaleSeen(); got != 1 {
		t.Errorf("expected 1 stale observation counted, got %d", got)
	}
}

func TestScanDoesNotMutatePoints(t *testing.T) {
	st := newMonitorStore()
	defer st.Shutdown()

	st.Update(point.New(1001, 1, asdu.M_ME_NC_1, point.F32(9), 0, true))
	time.Sleep(20 * time.Millisecond)

	m := NewStalenessMonitor(st, zap.NewNop(), time.Minute, 5*time.Millisecond)
	m.Scan()

	p, ok := st.Get(1001)
	if !ok {
		t.Fatal("point missing after scan")
	}
	if !p.Valid {
		t.Error("scan must not flip validity")
	}
	f, _ := p.Value().AsFloat()
	if f != 9 {
		t.Errorf("scan must not touch the value, got %f", f)
	}
}

func TestStartStop(t *testing.T) {
	st := newMonitorStore()
	defer st.Shutdown()

	m := NewStalenessMonitor(st, zap.NewNop(), 10*time.Millisecond, time.Hour)
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()
}

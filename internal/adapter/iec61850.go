package adapter

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dev-anmol/iec-gateway/internal/mapping"
	"github.com/dev-anmol/iec-gateway/internal/point"
	"github.com/dev-anmol/iec-gateway/internal/store"
)

// Report is one typed sample delivered by an IEC 61850 client library.
type Report struct {
	// ChannelID is the gateway-side channel this sample belongs to.
	ChannelID string
	// Ref is the 61850 object reference, e.g. "IC3_F650PRO/LLN0.Mod.stVal".
	Ref string
	// Value is the decoded payload.
	Value point.Value
	// Good reports the source quality; bad samples are dropped.
	Good bool
	// Timestamp is the device event time; the zero value means the
	// device supplied none.
	Timestamp time.Time
}

// ReportSource is the surface required of a 61850 client library: deliver
// report callbacks per subscribed channel. The gateway never talks MMS
// itself.
type ReportSource interface {
	Subscribe(channelID string, fn func(Report)) error
	Unsubscribe(channelID string) error
}

// IEC61850Adapter subscribes the mapped 61850 channels on a ReportSource
// and republishes good samples as canonical points.
type IEC61850Adapter struct {
	source     ReportSource
	table      *mapping.Table
	store      *store.Store
	logger     *zap.Logger
	subscribed []string
}

// NewIEC61850Adapter builds a stopped adapter around the given source.
func NewIEC61850Adapter(source ReportSource, table *mapping.Table, st *store.Store, logger *zap.Logger) *IEC61850Adapter {
	return &IEC61850Adapter{
		source: source,
		table:  table,
		store:  st,
		logger: logger,
	}
}

// Start subscribes every mapped channel. Unmapped channels belong to other
// handlers and are never touched here.
func (a *IEC61850Adapter) Start() error {
	ok, failed := 0, 0
	for _, channelID := range a.table.IEC61850Channels() {
		mp, found := a.table.IEC61850(channelID)
		if !found {
			continue
		}
		id, m := channelID, mp
		if err := a.source.Subscribe(id, func(rep Report) { a.handleReport(id, m, rep) }); err != nil {
			a.logger.Error("subscribe failed",
				zap.String("channel", id),
				zap.Error(err),
			)
			failed++
			continue
		}
		a.subscribed = append(a.subscribed, id)
		a.logger.Info("iec61850 channel mapped",
			zap.String("channel", id),
			zap.Uint32("ioa", m.IOA),
		)
		ok++
	}
	a.logger.Info("iec61850 adapter started", zap.Int("ok", ok), zap.Int("failed", failed))
	if failed > 0 && ok == 0 {
		return fmt.Errorf("iec61850 adapter: all %d subscriptions failed", failed)
	}
	return nil
}

// Stop unsubscribes everything Start managed to subscribe.
func (a *IEC61850Adapter) Stop() {
	for _, channelID := range a.subscribed {
		if err := a.source.Unsubscribe(channelID); err != nil {
			a.logger.Error("unsubscribe failed",
				zap.String("channel", channelID),
				zap.Error(err),
			)
		}
	}
	a.subscribed = nil
	a.logger.Info("iec61850 adapter stopped")
}

func (a *IEC61850Adapter) handleReport(channelID string, mp mapping.Mapping, rep Report) {
	if !rep.Good {
		a.logger.Info("bad quality, skipping sample", zap.String("channel", channelID))
		return
	}

	var ts int64
	if !rep.Timestamp.IsZero() {
		ts = rep.Timestamp.UnixMilli()
	}

	p := point.New(mp.IOA, mp.CommonAddress, mp.Type, rep.Value, ts, true)
	p.ID = channelID
	p.SourceProtocol = "IEC61850"
	p.SourceAddress = rep.Ref
	p.Description = mp.Description
	a.store.Update(p)

	a.logger.Debug("iec61850 sample",
		zap.String("channel", channelID),
		zap.Uint32("ioa", mp.IOA),
	)
}

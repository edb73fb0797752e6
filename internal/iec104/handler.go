package iec104

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/riclolsen/go-iecp5/asdu"
	"go.uber.org/zap"

	"github.com/dev-anmol/iec-gateway/internal/logging"
	"github.com/dev-anmol/iec-gateway/internal/point"
	"github.com/dev-anmol/iec-gateway/internal/store"
)

// ConnHandler owns one accepted client connection. Inbound commands are
// dispatched here by the transport's IO goroutines while spontaneous sends
// arrive from the store's pool workers; the transport serialises the
// actual writes.
type ConnHandler struct {
	logger   *zap.Logger
	clientID string
	conn     asdu.Connect
	store    *store.Store
	builder  *Builder

	active    atomic.Bool
	closeOnce sync.Once
	onClose   func(*ConnHandler)
}

func newConnHandler(
	conn asdu.Connect,
	st *store.Store,
	builder *Builder,
	logger *zap.Logger,
	onClose func(*ConnHandler),
) *ConnHandler {
	h := &ConnHandler{
		clientID: "client-" + uuid.NewString()[:8],
		conn:     conn,
		store:    st,
		builder:  builder,
		onClose:  onClose,
	}
	h.logger = logging.WithClient(logger, h.clientID)
	h.active.Store(true)
	h.logger.Info("connection handler created")
	return h
}

// ClientID returns the handler's identifier for logs.
func (h *ConnHandler) ClientID() string { return h.clientID }

// Active reports whether the handler still accepts sends.
func (h *ConnHandler) Active() bool { return h.active.Load() }

// handleInterrogation answers C_IC_NA_1: activation confirmation, one data
// ASDU per stored point with COT=interrogated-by-station, then activation
// termination. The qualifier of interrogation is not honoured; all points
// are returned.
func (h *ConnHandler) handleInterrogation(req *asdu.ASDU) error {
	h.logger.Info("general interrogation")

	if err := req.SendReplyMirror(h.conn, asdu.ActivationCon); err != nil {
		return err
	}
	h.sendAllPoints()
	return req.SendReplyMirror(h.conn, asdu.ActivationTerm)
}

// handleCounterInterrogation answers C_CI_NA_1 with the same sequence as a
// general interrogation. The gateway emits no integrated-total types, so
// no M_IT_* filter is applied.
func (h *ConnHandler) handleCounterInterrogation(req *asdu.ASDU) error {
	h.logger.Info("counter interrogation")
	h.logger.Debug("counter interrogation returns all points, no M_IT filter")

	if err := req.SendReplyMirror(h.conn, asdu.ActivationCon); err != nil {
		return err
	}
	h.sendAllPoints()
	return req.SendReplyMirror(h.conn, asdu.ActivationTerm)
}

// handleClockSync confirms C_CS_NA_1 without adjusting the gateway clock.
func (h *ConnHandler) handleClockSync(req *asdu.ASDU) error {
	h.logger.Debug("clock synchronization")
	return req.SendReplyMirror(h.conn, asdu.ActivationCon)
}

// rejectUnknown echoes any unsupported command back with COT=unknown type.
func (h *ConnHandler) rejectUnknown(req *asdu.ASDU) error {
	h.logger.Warn("unsupported asdu type", zap.Uint8("type", uint8(req.Type)))
	return req.SendReplyMirror(h.conn, asdu.UnknownTypeID)
}

func (h *ConnHandler) sendAllPoints() {
	snapshot := h.store.Snapshot()
	h.logger.Info("sending data points", zap.Int("count", len(snapshot)))

	sent := 0
	for _, p := range snapshot {
		u, err := h.builder.Build(p, asdu.InterrogatedByStation)
		if err != nil {
			continue
		}
		if err := h.conn.Send(u); err != nil {
			h.logger.Error("failed to send point",
				zap.Uint32("ioa", p.IOA),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	h.logger.Info("interrogation complete", zap.Int("sent", sent))
}

// SendSpontaneous pushes one changed point to the client. Inactive
// handlers drop the update silently.
func (h *ConnHandler) SendSpontaneous(p *point.Point) error {
	if !h.active.Load() {
		return nil
	}
	u, err := h.builder.Build(p, asdu.Spontaneous)
	if err != nil {
		return nil
	}
	return h.conn.Send(u)
}

// markClosed flips the handler inactive and fires the close callback once.
// Used when the transport reports the connection gone.
func (h *ConnHandler) markClosed(err error) {
	if !h.active.CompareAndSwap(true, false) {
		return
	}
	if err != nil {
		h.logger.Warn("connection closed with error", zap.Error(err))
	} else {
		h.logger.Info("connection closed")
	}
	if h.onClose != nil {
		h.onClose(h)
	}
}

// Close shuts the underlying socket. A second Close is a no-op.
func (h *ConnHandler) Close() {
	h.closeOnce.Do(func() {
		h.logger.Info("closing connection")
		h.active.Store(false)
		if nc := h.conn.UnderlyingConn(); nc != nil {
			if err := nc.Close(); err != nil {
				h.logger.Error("error closing connection", zap.Error(err))
			}
		}
		if h.onClose != nil {
			h.onClose(h)
		}
	})
}

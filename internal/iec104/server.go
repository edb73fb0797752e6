package iec104

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riclolsen/go-iecp5/asdu"
	"github.com/riclolsen/go-iecp5/cs104"
	"go.uber.org/zap"

	"github.com/dev-anmol/iec-gateway/internal/config"
	"github.com/dev-anmol/iec-gateway/internal/point"
	"github.com/dev-anmol/iec-gateway/internal/store"
)

// ServerStats is the observational surface of the 104 egress.
type ServerStats struct {
	ActiveConnections int
	SuccessfulSends   uint64
	RemovedHandlers   uint64
	RejectedTotal     uint64
}

// Server accepts 104 masters, serves interrogation per connection and
// broadcasts store updates spontaneously. The transport library owns the
// APCI layer; this type owns admission, per-connection handlers and the
// active set.
type Server struct {
	cfg     config.IEC104Config
	logger  *zap.Logger
	store   *store.Store
	builder *Builder
	srv     *cs104.Server

	mu       sync.Mutex
	handlers map[asdu.Connect]*ConnHandler

	sub        store.Subscription
	subscribed bool

	rejectMu         sync.Mutex
	rejectedSinceLog uint64
	rejectedTotal    atomic.Uint64
	lastRejectLog    time.Time

	sends   atomic.Uint64
	removed atomic.Uint64
}

// NewServer wires a stopped server against the store. Start binds and
// begins accepting.
func NewServer(cfg config.IEC104Config, st *store.Store, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		builder:  NewBuilder(logger),
		handlers: make(map[asdu.Connect]*ConnHandler),
	}
	s.srv = cs104.NewServer(&serverHandler{s: s})
	s.srv.SetParams(asdu.ParamsWide)
	s.srv.SetOnConnectionHandler(s.onConnection)
	s.srv.SetConnectionLostHandler(s.onConnectionLost)
	return s
}

// Start verifies the listen address is bindable, launches the accept loop
// and registers the spontaneous-broadcast listener. A bind failure fails
// activation.
func (s *Server) Start() error {
	addr := s.cfg.ListenAddress()

	probe, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Error("failed to bind", zap.String("addr", addr), zap.Error(err))
		return fmt.Errorf("iec104 server bind %s: %w", addr, err)
	}
	if err := probe.Close(); err != nil {
		return fmt.Errorf("iec104 server bind probe close: %w", err)
	}

	go s.srv.ListenAndServer(addr)

	s.sub = s.store.Subscribe(s.broadcast)
	s.subscribed = true

	s.logger.Info("iec104 server started",
		zap.String("addr", addr),
		zap.Int("max_connections", s.cfg.MaxConnections),
	)
	return nil
}

// Stop removes the store listener, closes all active connections and
// stops accepting.
func (s *Server) Stop() error {
	s.logger.Info("deactivating iec104 server")

	if s.subscribed {
		s.store.Unsubscribe(s.sub)
		s.subscribed = false
	}

	for _, h := range s.handlerList() {
		h.Close()
	}
	s.mu.Lock()
	s.handlers = make(map[asdu.Connect]*ConnHandler)
	s.mu.Unlock()

	if err := s.srv.Close(); err != nil {
		s.logger.Error("error stopping transport server", zap.Error(err))
		return err
	}
	s.logger.Info("iec104 server deactivated")
	return nil
}

// ActiveConnections returns the size of the active set.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Stats returns the server counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		ActiveConnections: s.ActiveConnections(),
		SuccessfulSends:   s.sends.Load(),
		RemovedHandlers:   s.removed.Load(),
		RejectedTotal:     s.rejectedTotal.Load(),
	}
}

// onConnection admits or rejects a freshly accepted client. Rejected
// connections are closed immediately and never enter the active set.
func (s *Server) onConnection(c asdu.Connect) {
	peer := peerOf(c)

	s.mu.Lock()
	if len(s.handlers) >= s.cfg.MaxConnections {
		s.mu.Unlock()
		s.logRejection(peer)
		if nc := c.UnderlyingConn(); nc != nil {
			nc.Close()
		}
		return
	}
	h := newConnHandler(c, s.store, s.builder, s.logger, s.dropHandler)
	s.handlers[c] = h
	total := len(s.handlers)
	s.mu.Unlock()

	s.logger.Info("client connected",
		zap.String("peer", peer),
		zap.String("client_id", h.ClientID()),
		zap.Int("active", total),
	)
}

// logRejection counts a rejected attempt and emits at most one WARN per
// interval, carrying the cumulative count and the latest peer.
func (s *Server) logRejection(peer string) {
	s.rejectedTotal.Add(1)

	s.rejectMu.Lock()
	s.rejectedSinceLog++
	now := time.Now()
	if now.Sub(s.lastRejectLog) <= s.cfg.RejectLogInterval {
		s.rejectMu.Unlock()
		return
	}
	count := s.rejectedSinceLog
	s.rejectedSinceLog = 0
	s.lastRejectLog = now
	s.rejectMu.Unlock()

	s.logger.Warn("max connections reached, rejecting",
		zap.Int("max_connections", s.cfg.MaxConnections),
		zap.Uint64("rejected_since_last_log", count),
		zap.String("latest_peer", peer),
	)
}

func (s *Server) onConnectionLost(c asdu.Connect) {
	s.mu.Lock()
	h := s.handlers[c]
	s.mu.Unlock()
	if h != nil {
		h.markClosed(nil)
	}
}

// dropHandler removes a closed handler from the active set. This is the
// close-callback path; broadcast removes dead handlers itself.
func (s *Server) dropHandler(h *ConnHandler) {
	s.mu.Lock()
	removed := false
	for c, other := range s.handlers {
		if other == h {
			delete(s.handlers, c)
			removed = true
			break
		}
	}
	remaining := len(s.handlers)
	s.mu.Unlock()

	if removed {
		s.logger.Info("client disconnected",
			zap.String("client_id", h.ClientID()),
			zap.Int("remaining", remaining),
		)
	}
}

func (s *Server) handlerList() []*ConnHandler {
	s.mu.Lock()
	out := make([]*ConnHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	s.mu.Unlock()
	return out
}

// broadcast is the store listener: one changed point fans out to every
// active client. Handlers that are already inactive or whose send fails
// are marked dead during the traversal and removed in a single pass.
func (s *Server) broadcast(p *point.Point) {
	handlers := s.handlerList()
	if len(handlers) == 0 {
		s.logger.Info("no active connections, skipping update",
			zap.Uint32("ioa", p.IOA))
		return
	}

	var dead []*ConnHandler
	success := 0
	for _, h := range handlers {
		if !h.Active() {
			dead = append(dead, h)
			continue
		}
		if err := h.SendSpontaneous(p); err != nil {
			s.logger.Warn("send failed, marking for removal",
				zap.String("client_id", h.ClientID()),
				zap.Error(err),
			)
			dead = append(dead, h)
			continue
		}
		success++
	}
	s.sends.Add(uint64(success))

	if len(dead) > 0 {
		s.removeHandlers(dead)
	}

	s.logger.Debug("broadcast complete",
		zap.Uint32("ioa", p.IOA),
		zap.Int("sent", success),
	)
}

// removeHandlers subtracts the dead set from the active set in one pass.
func (s *Server) removeHandlers(dead []*ConnHandler) {
	gone := make(map[*ConnHandler]struct{}, len(dead))
	for _, h := range dead {
		gone[h] = struct{}{}
	}

	s.mu.Lock()
	for c, h := range s.handlers {
		if _, ok := gone[h]; ok {
			delete(s.handlers, c)
		}
	}
	remaining := len(s.handlers)
	s.mu.Unlock()

	s.removed.Add(uint64(len(dead)))
	s.logger.Info("removed dead connections",
		zap.Int("count", len(dead)),
		zap.Int("remaining", remaining),
	)
}

func (s *Server) handlerFor(c asdu.Connect) *ConnHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[c]
}

func peerOf(c asdu.Connect) string {
	if nc := c.UnderlyingConn(); nc != nil {
		if addr := nc.RemoteAddr(); addr != nil {
			return addr.String()
		}
	}
	return "unknown"
}

// serverHandler adapts the transport's per-command callbacks onto the
// per-connection handlers. Commands arriving on a connection that was
// rejected or already dropped are ignored.
type serverHandler struct {
	s *Server
}

var _ cs104.ServerHandlerInterface = (*serverHandler)(nil)

func (sh *serverHandler) InterrogationHandler(c asdu.Connect, req *asdu.ASDU, _ asdu.QualifierOfInterrogation) error {
	if h := sh.s.handlerFor(c); h != nil {
		return h.handleInterrogation(req)
	}
	return nil
}

func (sh *serverHandler) CounterInterrogationHandler(c asdu.Connect, req *asdu.ASDU, _ asdu.QualifierCountCall) error {
	if h := sh.s.handlerFor(c); h != nil {
		return h.handleCounterInterrogation(req)
	}
	return nil
}

func (sh *serverHandler) ClockSyncHandler(c asdu.Connect, req *asdu.ASDU, _ time.Time) error {
	if h := sh.s.handlerFor(c); h != nil {
		return h.handleClockSync(req)
	}
	return nil
}

func (sh *serverHandler) ReadHandler(c asdu.Connect, req *asdu.ASDU, _ asdu.InfoObjAddr) error {
	if h := sh.s.handlerFor(c); h != nil {
		return h.rejectUnknown(req)
	}
	return nil
}

func (sh *serverHandler) ResetProcessHandler(c asdu.Connect, req *asdu.ASDU, _ asdu.QualifierOfResetProcessCmd) error {
	if h := sh.s.handlerFor(c); h != nil {
		return h.rejectUnknown(req)
	}
	return nil
}

func (sh *serverHandler) DelayAcquisitionHandler(c asdu.Connect, req *asdu.ASDU, _ uint16) error {
	if h := sh.s.handlerFor(c); h != nil {
		return h.rejectUnknown(req)
	}
	return nil
}

func (sh *serverHandler) ASDUHandler(c asdu.Connect, req *asdu.ASDU) error {
	if h := sh.s.handlerFor(c); h != nil {
		return h.rejectUnknown(req)
	}
	return nil
}

// ASDUHandlerAll sees every application-layer message before the typed
// dispatch above. The gateway reacts only to the typed callbacks.
func (sh *serverHandler) ASDUHandlerAll(asdu.Connect, *asdu.ASDU, int) error {
	return nil
}

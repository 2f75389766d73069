package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/adapters/clock"
	"github.com/xwp/wp-customize-rest-resources/adapters/metrics"
	"github.com/xwp/wp-customize-rest-resources/core/syncchan"
	"github.com/xwp/wp-customize-rest-resources/ports"
)

var (
	ErrMissingDependency = errors.New("missing required dependency")
	ErrUnknownSession    = errors.New("unknown sync session")
	ErrSideTaken         = errors.New("sync side already attached")
)

// DirectionRelayed labels frames the hub forwards between peers.
const DirectionRelayed = "relayed"

// HubDeps contains dependencies for the relay hub. Clock defaults to the
// real clock.
type HubDeps struct {
	IDs     ports.IDGenerator
	Clock   ports.Clock
	Metrics *metrics.Collector
	Logger  zerolog.Logger
}

// HubConfig contains hub settings.
type HubConfig struct {
	Settings Settings

	// Codec decodes relayed frames for metrics. Frames are forwarded
	// untouched either way.
	Codec syncchan.Codec

	// AllowedOrigins lists origins accepted on upgrade. Empty means the
	// same-origin check of gorilla/websocket; "*" accepts any origin.
	AllowedOrigins []string

	// MaxPending bounds frames buffered for a side that has not attached.
	MaxPending int

	// IdleTimeout drops sessions that have no attached side for this long.
	IdleTimeout time.Duration
}

// Hub pairs the preview and panel connections of each editing session and
// relays frames between them. Frames sent before the peer attaches are
// buffered and flushed in order on attach.
type Hub struct {
	ids      ports.IDGenerator
	clock    ports.Clock
	metrics  *metrics.Collector
	logger   zerolog.Logger
	cfg      HubConfig
	upgrader ws.Upgrader

	mu       sync.Mutex
	sessions map[string]*session

	done      chan struct{}
	closeOnce sync.Once
}

type session struct {
	id string

	mu        sync.Mutex
	idleSince time.Time
	reserved  map[syncchan.Side]bool
	conns    map[syncchan.Side]*Conn
	pending  map[syncchan.Side][][]byte
}

// NewHub creates a relay hub.
func NewHub(deps HubDeps, cfg HubConfig) (*Hub, error) {
	if deps.IDs == nil {
		return nil, fmt.Errorf("%w: IDs", ErrMissingDependency)
	}
	if cfg.Codec == nil {
		cfg.Codec = syncchan.JSONCodec{}
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 256
	}
	if cfg.Settings == (Settings{}) {
		cfg.Settings = DefaultSettings()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}

	h := &Hub{
		ids:      deps.IDs,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
		sessions: make(map[string]*session),
		done:     make(chan struct{}),
	}
	h.upgrader = ws.Upgrader{
		HandshakeTimeout: cfg.Settings.HandshakeTimeout,
		CheckOrigin:      h.checkOrigin(),
	}
	go h.expireLoop()
	return h, nil
}

// CreateSession registers a new session and returns its id.
func (h *Hub) CreateSession() string {
	h.ExpireIdle()

	id := h.ids.New()
	s := &session{
		id:        id,
		idleSince: h.clock.Now(),
		reserved:  make(map[syncchan.Side]bool),
		conns:     make(map[syncchan.Side]*Conn),
		pending:   make(map[syncchan.Side][][]byte),
	}

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SyncSessions.Inc()
	}
	h.logger.Debug().Str("session", id).Msg("sync session created")
	return id
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Serve upgrades the request and attaches it as side of the session. It
// blocks until the connection ends. Errors returned before the upgrade
// leave w untouched so the caller can answer.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, side syncchan.Side) error {
	if _, err := syncchan.ParseSide(string(side)); err != nil {
		return err
	}
	s := h.session(sessionID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if err := s.reserve(side); err != nil {
		return err
	}

	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.release(side, h.clock.Now())
		h.logger.Warn().Err(err).Str("session", sessionID).Msg("websocket upgrade failed")
		return nil
	}
	conn := NewConn(c, h.cfg.Settings)
	log := h.logger.With().Str("session", sessionID).Str("side", string(side)).Logger()

	if err := s.attach(side, conn); err != nil {
		log.Warn().Err(err).Msg("flush pending frames")
	}
	log.Info().Msg("sync peer attached")

	h.relay(r.Context(), s, side, conn)

	conn.Close()
	if h.detach(s, side) {
		log.Info().Msg("sync session closed")
	} else {
		log.Info().Msg("sync peer detached")
	}
	return nil
}

// ExpireIdle drops sessions that have had no attached side for the idle
// timeout and returns how many were dropped.
func (h *Hub) ExpireIdle() int {
	cutoff := h.clock.Now().Add(-h.cfg.IdleTimeout)

	h.mu.Lock()
	var expired []string
	for id, s := range h.sessions {
		if s.idle(cutoff) {
			expired = append(expired, id)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, id := range expired {
		if h.metrics != nil {
			h.metrics.SyncSessions.Dec()
		}
		h.logger.Debug().Str("session", id).Msg("idle sync session expired")
	}
	return len(expired)
}

func (h *Hub) expireLoop() {
	ticker := time.NewTicker(h.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.ExpireIdle()
		}
	}
}

// Close disconnects every peer and drops all sessions.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		if h.metrics != nil {
			h.metrics.SyncSessions.Dec()
		}
	}
	return nil
}

func (h *Hub) relay(ctx context.Context, s *session, side syncchan.Side, conn *Conn) {
	peer := side.Peer()
	for {
		frame, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		h.observe(side, frame)

		dropped, err := s.forward(ctx, peer, frame, h.cfg.MaxPending)
		if err != nil {
			h.logger.Warn().Err(err).Str("session", s.id).Str("to", string(peer)).Msg("relay frame")
		}
		if dropped {
			h.logger.Warn().Str("session", s.id).Str("to", string(peer)).Msg("pending buffer full, dropped oldest frame")
		}
	}
}

func (h *Hub) observe(from syncchan.Side, frame []byte) {
	if h.metrics == nil {
		return
	}
	var m syncchan.Message
	if err := h.cfg.Codec.Unmarshal(frame, &m); err != nil {
		h.metrics.ObserveFrame(from, "unknown", DirectionRelayed)
		return
	}
	h.metrics.ObserveFrame(from, m.Kind, DirectionRelayed)
}

func (h *Hub) session(id string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

// detach removes side from s and drops the session once both sides are
// gone. It reports whether the session was dropped.
func (h *Hub) detach(s *session, side syncchan.Side) bool {
	s.mu.Lock()
	delete(s.conns, side)
	delete(s.reserved, side)
	empty := len(s.reserved) == 0
	s.mu.Unlock()

	if !empty {
		return false
	}
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()

	if ok && h.metrics != nil {
		h.metrics.SyncSessions.Dec()
	}
	return ok
}

func (h *Hub) checkOrigin() func(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return nil
	}
	if slices.Contains(h.cfg.AllowedOrigins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		return slices.Contains(h.cfg.AllowedOrigins, r.Header.Get("Origin"))
	}
}

func (s *session) reserve(side syncchan.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved[side] {
		return fmt.Errorf("%w: %s", ErrSideTaken, side)
	}
	s.reserved[side] = true
	return nil
}

func (s *session) release(side syncchan.Side, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, side)
	if len(s.reserved) == 0 {
		s.idleSince = now
	}
}

// idle reports whether no side has been reserved since before cutoff.
func (s *session) idle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reserved) == 0 && !s.idleSince.After(cutoff)
}

// attach installs conn and flushes frames buffered for side. The session
// lock is held while flushing so concurrent forwards queue behind it.
func (s *session) attach(side syncchan.Side, conn *Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[side] = conn
	pending := s.pending[side]
	delete(s.pending, side)

	var errs []error
	for _, frame := range pending {
		if err := conn.write(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// forward sends frame to side, or buffers it when side is not attached.
func (s *session) forward(ctx context.Context, side syncchan.Side, frame []byte, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn := s.conns[side]; conn != nil {
		return false, conn.Send(ctx, frame)
	}
	q := append(s.pending[side], frame)
	dropped := false
	if len(q) > limit {
		q = q[len(q)-limit:]
		dropped = true
	}
	s.pending[side] = q
	return dropped, nil
}

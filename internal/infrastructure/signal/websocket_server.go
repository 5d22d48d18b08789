package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/services"
	"tilecast/internal/infrastructure/middleware"
	"tilecast/pkg/tracing"
	"tilecast/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ViewerMetrics receives viewer connection and push counts.
type ViewerMetrics interface {
	RecordViewerConnected()
	RecordViewerDisconnected()
	RecordPush(outcome string)
}

// MediaIngest terminates the peer connections viewers publish their media on.
type MediaIngest interface {
	Publish(ctx context.Context, sessionID domain.SessionID, connID domain.ConnectionID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AddICECandidate(sessionID domain.SessionID, connID domain.ConnectionID, candidate webrtc.ICECandidateInit) error
	Unpublish(sessionID domain.SessionID, connID domain.ConnectionID)
}

// Options configures the websocket hub.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
	AllowedOrigins []string

	// NegotiationTimeout bounds answering one offer.
	NegotiationTimeout time.Duration
}

// WebSocketServer pushes visual layouts to viewers. Each viewer reports its own
// viewport list; the hub resolves the session's current layout against it on
// every viewport push and every layout change.
type WebSocketServer struct {
	sessions *services.SessionManager
	limiter  *middleware.WebSocketLimiter
	metrics  ViewerMetrics
	ingest   MediaIngest
	upgrader websocket.Upgrader
	opts     Options

	viewers map[string]*viewer
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

type SignalMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ViewportsPayload struct {
	Viewports []domain.Viewport `json:"viewports"`
	WideMode  bool              `json:"wideMode"`
}

type SDPPayload struct {
	SDP string `json:"sdp"`
}

type answerMessage struct {
	Type    string     `json:"type"`
	Payload SDPPayload `json:"payload"`
}

type RosterPayload struct {
	Streams []domain.AvailableStream `json:"streams"`
}

type visualLayoutMessage struct {
	Type      string              `json:"type"`
	SessionID domain.SessionID    `json:"sessionId"`
	Layout    domain.VisualLayout `json:"layout"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type viewer struct {
	id        string
	session   *services.Session
	conn      *websocket.Conn
	send      chan []byte
	// layout holds at most one pending visual layout; a newer one replaces it.
	layout    chan []byte
	layoutMu  sync.Mutex
	viewports *services.ViewportRegistry
	// reported is set once the viewer sends its own viewport list. Until
	// then it sees the viewports derived from published media.
	reported  atomic.Bool
	limiter   *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func (v *viewer) close() {
	v.closeOnce.Do(func() {
		close(v.done)
		v.conn.Close()
	})
}

func NewWebSocketServer(
	sessions *services.SessionManager,
	limiter *middleware.WebSocketLimiter,
	metrics ViewerMetrics,
	opts Options,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 16
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 2 * opts.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = 10 * time.Second
	}
	s := &WebSocketServer{
		sessions: sessions,
		limiter:  limiter,
		metrics:  metrics,
		opts:     opts,
		viewers:  make(map[string]*viewer),
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

// SetMediaIngest enables the offer and ice_candidate messages. Call it before
// serving.
func (s *WebSocketServer) SetMediaIngest(ingest MediaIngest) {
	s.ingest = ingest
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if err := validation.ValidateSessionID(sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	viewerID := r.URL.Query().Get("viewer_id")
	if viewerID == "" {
		viewerID = uuid.NewString()
	}

	release := func() {}
	if s.limiter != nil {
		var ok bool
		release, ok = s.limiter.Acquire(middleware.ClientIP(r))
		if !ok {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}
	defer release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	ctx := r.Context()
	sess, err := s.sessions.Enter(ctx, domain.SessionID(sessionID))
	if err != nil {
		s.logger.Warnw("failed to enter session", "session_id", sessionID, "error", err)
		conn.Close()
		return
	}
	defer func() {
		if _, err := s.sessions.Leave(sess.ID); err != nil {
			s.logger.Warnw("failed to leave session", "session_id", sess.ID, "error", err)
		}
	}()

	v := &viewer{
		id:        viewerID,
		session:   sess,
		conn:      conn,
		send:      make(chan []byte, s.opts.SendBufferSize),
		layout:    make(chan []byte, 1),
		viewports: services.NewViewportRegistry(),
		done:      make(chan struct{}),
	}
	if s.limiter != nil {
		v.limiter = s.limiter.MessageLimiter()
		if limit := s.limiter.MaxMessageSize(); limit > 0 {
			conn.SetReadLimit(limit)
		}
	}

	// A reconnecting viewer replaces its previous connection.
	s.mu.Lock()
	previous, isReconnect := s.viewers[viewerID]
	s.viewers[viewerID] = v
	s.mu.Unlock()
	if isReconnect {
		previous.close()
		s.logger.Infow("closing old connection for reconnecting viewer", "viewer_id", viewerID)
	}

	if s.metrics != nil {
		s.metrics.RecordViewerConnected()
	}
	s.logger.Infow("viewer connected",
		"viewer_id", viewerID,
		"session_id", sessionID,
		"reconnect", isReconnect,
	)

	unsubscribe := sess.Store.OnChange(func(domain.SessionID, domain.LogicalLayout) {
		s.push(v)
	})

	go s.writePump(v)
	s.push(v)
	s.readPump(ctx, v)

	unsubscribe()
	v.close()

	s.mu.Lock()
	current := s.viewers[viewerID] == v
	if current {
		delete(s.viewers, viewerID)
	}
	s.mu.Unlock()
	if current && s.ingest != nil {
		s.ingest.Unpublish(sess.ID, domain.ConnectionID(viewerID))
	}

	if s.metrics != nil {
		s.metrics.RecordViewerDisconnected()
	}
	s.logger.Infow("viewer disconnected", "viewer_id", viewerID, "session_id", sessionID)
}

func (s *WebSocketServer) readPump(ctx context.Context, v *viewer) {
	v.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		var msg SignalMessage
		if err := v.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from viewer", "viewer_id", v.id, "error", err)
			}
			return
		}
		v.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if v.limiter != nil && !v.limiter.Allow() {
			s.sendError(v, "rate limit exceeded")
			continue
		}

		if err := s.handleMessage(ctx, v, msg); err != nil {
			s.logger.Infow("error handling message from viewer", "viewer_id", v.id, "type", msg.Type, "error", err)
			s.sendError(v, err.Error())
		}
	}
}

func (s *WebSocketServer) writePump(v *viewer) {
	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-v.done:
			return

		case data := <-v.layout:
			if !s.write(v, data) {
				return
			}

		case data := <-v.send:
			if !s.write(v, data) {
				return
			}

		case <-pingTicker.C:
			v.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "viewer_id", v.id, "error", err)
				v.close()
				return
			}
		}
	}
}

func (s *WebSocketServer) write(v *viewer, data []byte) bool {
	v.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Infow("error writing to viewer", "viewer_id", v.id, "error", err)
		v.close()
		return false
	}
	return true
}

func (s *WebSocketServer) handleMessage(ctx context.Context, v *viewer, msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, v.id)
	defer span.End()

	switch msg.Type {
	case "viewports":
		return s.handleViewports(v, msg)
	case "roster":
		return s.handleRoster(v, msg)
	case "offer":
		return s.handleOffer(ctx, v, msg)
	case "ice_candidate":
		return s.handleICECandidate(v, msg)
	case "ping":
		s.enqueue(v, map[string]any{"type": "pong", "timestamp": time.Now().Unix()})
		return nil
	default:
		err := fmt.Errorf("unknown message type: %s", msg.Type)
		tracing.RecordError(ctx, err)
		return err
	}
}

func (s *WebSocketServer) handleViewports(v *viewer, msg SignalMessage) error {
	var payload ViewportsPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid viewports payload: %w", err)
	}
	if err := validation.ValidateViewportCount(len(payload.Viewports)); err != nil {
		return err
	}

	v.viewports.Update(payload.Viewports, payload.WideMode)
	v.reported.Store(true)
	// The session keeps the last list any viewer reported for REST reads.
	v.session.Viewports.Update(payload.Viewports, payload.WideMode)
	s.push(v)
	return nil
}

func (s *WebSocketServer) handleRoster(v *viewer, msg SignalMessage) error {
	var payload RosterPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid roster payload: %w", err)
	}
	for _, st := range payload.Streams {
		if err := validation.ValidateConnectionID(string(st.ConnectionID)); err != nil {
			return err
		}
	}

	v.session.Store.Roster().Replace(payload.Streams)
	s.logger.Debugw("roster updated",
		"viewer_id", v.id,
		"session_id", v.session.ID,
		"streams", len(payload.Streams),
	)
	return nil
}

func (s *WebSocketServer) handleOffer(ctx context.Context, v *viewer, msg SignalMessage) error {
	if s.ingest == nil {
		return fmt.Errorf("media ingest is disabled")
	}
	var payload SDPPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}
	if payload.SDP == "" {
		return fmt.Errorf("offer sdp is required")
	}
	if err := validation.ValidateConnectionID(v.id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.NegotiationTimeout)
	defer cancel()

	answer, err := s.ingest.Publish(ctx, v.session.ID, domain.ConnectionID(v.id), webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  payload.SDP,
	})
	if err != nil {
		return fmt.Errorf("failed to answer offer: %w", err)
	}

	s.enqueue(v, answerMessage{Type: "answer", Payload: SDPPayload{SDP: answer.SDP}})
	return nil
}

func (s *WebSocketServer) handleICECandidate(v *viewer, msg SignalMessage) error {
	if s.ingest == nil {
		return fmt.Errorf("media ingest is disabled")
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Payload, &candidate); err != nil {
		return fmt.Errorf("invalid ice candidate payload: %w", err)
	}
	return s.ingest.AddICECandidate(v.session.ID, domain.ConnectionID(v.id), candidate)
}

// ApplyViewports installs a session's media-derived viewport list and pushes
// the result to its viewers.
func (s *WebSocketServer) ApplyViewports(sessionID domain.SessionID, viewports []domain.Viewport) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		s.logger.Debugw("viewports for inactive session ignored", "session_id", sessionID)
		return
	}
	sess.ApplyMediaViewports(viewports)

	s.mu.RLock()
	targets := make([]*viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		if v.session.ID == sessionID {
			targets = append(targets, v)
		}
	}
	s.mu.RUnlock()

	for _, v := range targets {
		s.push(v)
	}
}

// viewportsFor returns what v's layout is resolved against: its own report,
// or the session's list seen from v's connection.
func (s *WebSocketServer) viewportsFor(v *viewer) ([]domain.Viewport, bool) {
	if v.reported.Load() {
		return v.viewports.Snapshot()
	}
	shared, wide := v.session.Viewports.Snapshot()
	viewports := make([]domain.Viewport, len(shared))
	for i, vp := range shared {
		vp.IsSelf = vp.ConnectionID == domain.ConnectionID(v.id)
		viewports[i] = vp
	}
	return viewports, wide
}

// push resolves the current layout for v and queues it. A layout the writer
// has not picked up yet is replaced, so a slow viewer skips intermediate
// layouts but always ends on the latest one.
func (s *WebSocketServer) push(v *viewer) {
	viewports, wide := s.viewportsFor(v)
	data, err := json.Marshal(visualLayoutMessage{
		Type:      "visual_layout",
		SessionID: v.session.ID,
		Layout:    v.session.VisualFor(viewports, wide),
	})
	if err != nil {
		s.logger.Errorw("failed to marshal visual layout", "viewer_id", v.id, "error", err)
		return
	}
	s.offerLayout(v, data)
}

func (s *WebSocketServer) offerLayout(v *viewer, data []byte) {
	v.layoutMu.Lock()
	defer v.layoutMu.Unlock()

	outcome := "sent"
	select {
	case <-v.done:
		outcome = "dropped"
	default:
		select {
		case <-v.layout:
			outcome = "coalesced"
		default:
		}
		// Only the writer receives besides this locked section, so the slot
		// is free here.
		v.layout <- data
	}
	if s.metrics != nil {
		s.metrics.RecordPush(outcome)
	}
}

func (s *WebSocketServer) enqueue(v *viewer, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Errorw("failed to marshal message", "viewer_id", v.id, "error", err)
		return
	}

	outcome := "sent"
	select {
	case <-v.done:
		outcome = "dropped"
	case v.send <- data:
	default:
		outcome = "dropped"
		s.logger.Warnw("viewer send buffer full, dropping message", "viewer_id", v.id)
	}
	if s.metrics != nil {
		s.metrics.RecordPush(outcome)
	}
}

func (s *WebSocketServer) sendError(v *viewer, message string) {
	s.enqueue(v, errorMessage{Type: "error", Message: message})
}

func (s *WebSocketServer) ViewerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.viewers)
}

func (s *WebSocketServer) IsViewerConnected(viewerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.viewers[viewerID]
	return exists
}

// Close disconnects every viewer.
func (s *WebSocketServer) Close() {
	s.mu.RLock()
	viewers := make([]*viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.RUnlock()

	for _, v := range viewers {
		v.close()
	}
}

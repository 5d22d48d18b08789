package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"tilecast/internal/core/domain"
)

var ErrNotPublishing = errors.New("connection is not publishing")

// Config configures the peer connections opened for publishers.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortMin    uint16
	PortMax    uint16
}

type publisherKey struct {
	session    domain.SessionID
	connection domain.ConnectionID
}

// Ingest accepts receive-only peer connections from participants and keeps
// one ViewportSource per session fed by their tracks. Media is read and
// discarded; only track identity reaches the layout engine.
type Ingest struct {
	api    *webrtc.API
	config webrtc.Configuration

	mu         sync.Mutex
	sources    map[domain.SessionID]*ViewportSource
	publishers map[publisherKey]*webrtc.PeerConnection
	onChange   func(domain.SessionID, []domain.Viewport)

	logger *zap.SugaredLogger
}

func NewIngest(cfg Config, logger *zap.SugaredLogger) (*Ingest, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settings := webrtc.SettingEngine{}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := settings.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}

	return &Ingest{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(settings)),
		config: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		sources:    make(map[domain.SessionID]*ViewportSource),
		publishers: make(map[publisherKey]*webrtc.PeerConnection),
		logger:     logger,
	}, nil
}

// OnViewports registers fn to receive a session's viewport list whenever its
// published tracks change. Set it before the first Publish.
func (i *Ingest) OnViewports(fn func(domain.SessionID, []domain.Viewport)) {
	i.mu.Lock()
	i.onChange = fn
	i.mu.Unlock()
}

func (i *Ingest) sourceLocked(sessionID domain.SessionID) *ViewportSource {
	src, ok := i.sources[sessionID]
	if ok {
		return src
	}
	src = NewViewportSource("", i.logger)
	src.OnChange(func(viewports []domain.Viewport) {
		i.mu.Lock()
		fn := i.onChange
		i.mu.Unlock()
		if fn != nil {
			fn(sessionID, viewports)
		}
	})
	i.sources[sessionID] = src
	return src
}

// Viewports returns the viewports published into a session.
func (i *Ingest) Viewports(sessionID domain.SessionID) []domain.Viewport {
	i.mu.Lock()
	src, ok := i.sources[sessionID]
	i.mu.Unlock()
	if !ok {
		return nil
	}
	return src.Viewports()
}

// Publish answers a participant's offer with a receive-only peer connection.
// A second offer from the same connection replaces the first.
func (i *Ingest) Publish(ctx context.Context, sessionID domain.SessionID, connID domain.ConnectionID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("expected an offer, got %s", offer.Type)
	}

	pc, err := i.api.NewPeerConnection(i.config)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create peer connection: %w", err)
	}

	key := publisherKey{session: sessionID, connection: connID}
	i.mu.Lock()
	previous := i.publishers[key]
	i.publishers[key] = pc
	src := i.sourceLocked(sessionID)
	i.mu.Unlock()

	if previous != nil {
		src.RemoveConnection(connID)
		if err := previous.Close(); err != nil {
			i.logger.Warnw("failed to close replaced publisher", "session_id", sessionID, "connection_id", connID, "error", err)
		}
	}
	src.Attach(connID, pc)

	answer, err := i.negotiate(ctx, pc, offer)
	if err != nil {
		i.Unpublish(sessionID, connID)
		return webrtc.SessionDescription{}, err
	}

	i.logger.Infow("publisher connected",
		"session_id", sessionID,
		"connection_id", connID,
	)
	return answer, nil
}

func (i *Ingest) negotiate(ctx context.Context, pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *pc.LocalDescription(), nil
}

// AddICECandidate passes a trickled candidate to a publisher's connection.
func (i *Ingest) AddICECandidate(sessionID domain.SessionID, connID domain.ConnectionID, candidate webrtc.ICECandidateInit) error {
	i.mu.Lock()
	pc, ok := i.publishers[publisherKey{session: sessionID, connection: connID}]
	i.mu.Unlock()
	if !ok {
		return ErrNotPublishing
	}
	return pc.AddICECandidate(candidate)
}

// Unpublish closes a participant's connection and drops its viewports.
func (i *Ingest) Unpublish(sessionID domain.SessionID, connID domain.ConnectionID) {
	key := publisherKey{session: sessionID, connection: connID}

	i.mu.Lock()
	pc, ok := i.publishers[key]
	delete(i.publishers, key)
	src := i.sources[sessionID]
	i.mu.Unlock()
	if !ok {
		return
	}

	if err := pc.Close(); err != nil {
		i.logger.Warnw("failed to close publisher", "session_id", sessionID, "connection_id", connID, "error", err)
	}
	if src == nil {
		return
	}
	src.RemoveConnection(connID)

	i.mu.Lock()
	if src.Len() == 0 && !i.hasPublishersLocked(sessionID) {
		delete(i.sources, sessionID)
	}
	i.mu.Unlock()
}

func (i *Ingest) hasPublishersLocked(sessionID domain.SessionID) bool {
	for key := range i.publishers {
		if key.session == sessionID {
			return true
		}
	}
	return false
}

// Close ends every publisher connection.
func (i *Ingest) Close() {
	i.mu.Lock()
	keys := make([]publisherKey, 0, len(i.publishers))
	for key := range i.publishers {
		keys = append(keys, key)
	}
	i.mu.Unlock()

	for _, key := range keys {
		i.Unpublish(key.session, key.connection)
	}
}

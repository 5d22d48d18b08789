package webrtc

import (
	"sort"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"tilecast/internal/core/domain"
)

// ScreenTrackPrefix marks a video track as a screen share.
const ScreenTrackPrefix = "screen"

// RemoteTrack is the part of *webrtc.TrackRemote the source reads.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

type participant struct {
	joinedAt int64
	camera   domain.StreamID
	screens  []domain.StreamID
}

// ViewportSource turns the remote tracks of a set of peer connections into the
// viewport list consumed by the layout resolver.
type ViewportSource struct {
	mu           sync.Mutex
	self         domain.ConnectionID
	participants map[domain.ConnectionID]*participant
	peers        map[domain.ConnectionID]*webrtc.PeerConnection
	clock        int64
	listeners    []func([]domain.Viewport)
	logger       *zap.SugaredLogger
}

func NewViewportSource(self domain.ConnectionID, logger *zap.SugaredLogger) *ViewportSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ViewportSource{
		self:         self,
		participants: make(map[domain.ConnectionID]*participant),
		peers:        make(map[domain.ConnectionID]*webrtc.PeerConnection),
		logger:       logger,
	}
}

// OnChange registers fn to receive the full viewport list after every change.
func (s *ViewportSource) OnChange(fn func([]domain.Viewport)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Attach follows pc for connection id: incoming tracks become viewports and
// the connection is dropped once pc fails or closes. Attaching a new pc for
// the same id silences the callbacks of the previous one.
func (s *ViewportSource) Attach(id domain.ConnectionID, pc *webrtc.PeerConnection) {
	s.mu.Lock()
	s.peers[id] = pc
	s.mu.Unlock()
	s.AddConnection(id)

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !s.attached(id, pc) {
			return
		}
		s.AddTrack(id, track)
		go s.drain(id, pc, track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if !s.attached(id, pc) {
				return
			}
			s.logger.Infow("peer connection ended", "connection_id", id, "state", state.String())
			s.RemoveConnection(id)
		}
	})
}

func (s *ViewportSource) attached(id domain.ConnectionID, pc *webrtc.PeerConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id] == pc
}

// drain consumes a remote track until it ends and then forgets it. Media is
// never inspected.
func (s *ViewportSource) drain(id domain.ConnectionID, pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			if s.attached(id, pc) {
				s.RemoveTrack(id, track.ID())
			}
			return
		}
	}
}

// Len returns the number of connections the source follows.
func (s *ViewportSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// AddConnection registers a connection that has not published video yet.
// Calling it again for a known connection keeps the original join order.
func (s *ViewportSource) AddConnection(id domain.ConnectionID) {
	s.mu.Lock()
	if _, ok := s.participants[id]; ok {
		s.mu.Unlock()
		return
	}
	s.participants[id] = &participant{joinedAt: s.tick()}
	snapshot := s.viewportsLocked()
	listeners := s.listeners
	s.mu.Unlock()

	emit(listeners, snapshot)
}

// AddTrack records a remote video track. Audio tracks are ignored.
func (s *ViewportSource) AddTrack(id domain.ConnectionID, track RemoteTrack) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	streamID := domain.StreamID(track.ID())

	s.mu.Lock()
	p, ok := s.participants[id]
	if !ok {
		p = &participant{joinedAt: s.tick()}
		s.participants[id] = p
	}
	if strings.HasPrefix(track.ID(), ScreenTrackPrefix) {
		if !containsStream(p.screens, streamID) {
			p.screens = append(p.screens, streamID)
		}
	} else {
		p.camera = streamID
	}
	snapshot := s.viewportsLocked()
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Debugw("remote video track added",
		"connection_id", id,
		"track_id", track.ID(),
		"msid", track.StreamID(),
	)
	emit(listeners, snapshot)
}

// RemoveTrack forgets one video track of a connection.
func (s *ViewportSource) RemoveTrack(id domain.ConnectionID, trackID string) {
	streamID := domain.StreamID(trackID)

	s.mu.Lock()
	p, ok := s.participants[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if p.camera == streamID {
		p.camera = ""
	}
	screens := p.screens[:0]
	for _, sid := range p.screens {
		if sid != streamID {
			screens = append(screens, sid)
		}
	}
	p.screens = screens
	snapshot := s.viewportsLocked()
	listeners := s.listeners
	s.mu.Unlock()

	emit(listeners, snapshot)
}

func (s *ViewportSource) RemoveConnection(id domain.ConnectionID) {
	s.mu.Lock()
	if _, ok := s.participants[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.participants, id)
	delete(s.peers, id)
	snapshot := s.viewportsLocked()
	listeners := s.listeners
	s.mu.Unlock()

	emit(listeners, snapshot)
}

// Viewports returns the current list ordered by join time. A connection
// yields its camera viewport first (stream-less when no camera is published
// yet, unless it shares a screen) followed by one viewport per screen share.
func (s *ViewportSource) Viewports() []domain.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewportsLocked()
}

func (s *ViewportSource) tick() int64 {
	s.clock++
	return s.clock
}

func (s *ViewportSource) viewportsLocked() []domain.Viewport {
	ids := make([]domain.ConnectionID, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.participants[ids[i]].joinedAt < s.participants[ids[j]].joinedAt
	})

	out := make([]domain.Viewport, 0, len(ids))
	for _, id := range ids {
		p := s.participants[id]
		isSelf := id == s.self

		if p.camera != "" || len(p.screens) == 0 {
			camera := domain.Viewport{
				ConnectionID: id,
				StreamID:     p.camera,
				IsSelf:       isSelf,
				JoinedAt:     p.joinedAt,
				Kind:         domain.KindCamera,
			}
			for _, sid := range p.screens {
				camera.AssociatedIDs = append(camera.AssociatedIDs, string(sid))
			}
			out = append(out, camera)
		}
		for _, sid := range p.screens {
			out = append(out, domain.Viewport{
				ConnectionID: id,
				StreamID:     sid,
				IsSelf:       isSelf,
				JoinedAt:     p.joinedAt,
				Kind:         domain.KindScreen,
			})
		}
	}
	return out
}

func emit(listeners []func([]domain.Viewport), viewports []domain.Viewport) {
	for _, fn := range listeners {
		fn(viewports)
	}
}

func containsStream(ids []domain.StreamID, id domain.StreamID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

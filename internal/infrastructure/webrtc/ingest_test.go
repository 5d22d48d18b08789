package webrtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilecast/internal/core/domain"
)

func newOffer(t *testing.T) (*webrtc.PeerConnection, webrtc.SessionDescription) {
	t.Helper()

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	require.NoError(t, err)

	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(client)
	require.NoError(t, client.SetLocalDescription(offer))
	<-gathered

	return client, *client.LocalDescription()
}

type viewportLog struct {
	mu   sync.Mutex
	last map[domain.SessionID][]domain.Viewport
}

func (l *viewportLog) record(sessionID domain.SessionID, vps []domain.Viewport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[sessionID] = vps
}

func (l *viewportLog) get(sessionID domain.SessionID) ([]domain.Viewport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	vps, ok := l.last[sessionID]
	return vps, ok
}

func TestIngest_PublishAndUnpublish(t *testing.T) {
	ingest, err := NewIngest(Config{}, nil)
	require.NoError(t, err)
	defer ingest.Close()

	log := &viewportLog{last: make(map[domain.SessionID][]domain.Viewport)}
	ingest.OnViewports(log.record)

	_, offer := newOffer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	answer, err := ingest.Publish(ctx, "s1", "c1", offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.NotEmpty(t, answer.SDP)

	vps, ok := log.get("s1")
	require.True(t, ok)
	require.Len(t, vps, 1)
	assert.Equal(t, domain.ConnectionID("c1"), vps[0].ConnectionID)
	assert.False(t, vps[0].HasStream())
	assert.False(t, vps[0].IsSelf)

	assert.Equal(t, vps, ingest.Viewports("s1"))
	assert.Empty(t, ingest.Viewports("s2"))

	ingest.Unpublish("s1", "c1")
	vps, _ = log.get("s1")
	assert.Empty(t, vps)
	assert.Empty(t, ingest.Viewports("s1"))

	assert.ErrorIs(t, ingest.AddICECandidate("s1", "c1", webrtc.ICECandidateInit{}), ErrNotPublishing)
}

func TestIngest_RepublishKeepsOneConnection(t *testing.T) {
	ingest, err := NewIngest(Config{}, nil)
	require.NoError(t, err)
	defer ingest.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, first := newOffer(t)
	_, err = ingest.Publish(ctx, "s1", "c1", first)
	require.NoError(t, err)

	_, second := newOffer(t)
	_, err = ingest.Publish(ctx, "s1", "c1", second)
	require.NoError(t, err)

	// The replaced connection closes asynchronously.
	time.Sleep(100 * time.Millisecond)
	vps := ingest.Viewports("s1")
	require.Len(t, vps, 1)
	assert.Equal(t, domain.ConnectionID("c1"), vps[0].ConnectionID)
}

func TestIngest_RejectsBadOffer(t *testing.T) {
	ingest, err := NewIngest(Config{}, nil)
	require.NoError(t, err)
	defer ingest.Close()

	_, err = ingest.Publish(context.Background(), "s1", "c1", webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "v=0",
	})
	require.Error(t, err)

	_, err = ingest.Publish(context.Background(), "s1", "c1", webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "not sdp",
	})
	require.Error(t, err)
	assert.Empty(t, ingest.Viewports("s1"))
}

func TestNewIngest_InvalidPortRange(t *testing.T) {
	_, err := NewIngest(Config{PortMin: 6000, PortMax: 5000}, nil)
	assert.Error(t, err)
}

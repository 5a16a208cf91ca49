package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"peerchat/internal/core/domain"
	"peerchat/internal/core/ports"

	"github.com/stretchr/testify/require"
)

type emittedCommand struct {
	event   string
	payload interface{}
}

// fakeChannel records emitted commands and lets tests push inbound events
// through the registered handlers.
type fakeChannel struct {
	mu       sync.Mutex
	emits    []emittedCommand
	handlers map[string][]ports.EventHandler
	emitErr  error
	closed   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string][]ports.EventHandler)}
}

func (c *fakeChannel) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emits = append(c.emits, emittedCommand{event: event, payload: payload})
	return nil
}

func (c *fakeChannel) Subscribe(event string, handler ports.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// push delivers one inbound event to every subscribed handler.
func (c *fakeChannel) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	c.mu.Lock()
	handlers := append([]ports.EventHandler(nil), c.handlers[event]...)
	c.mu.Unlock()
	require.NotEmpty(t, handlers, "no handler subscribed for %s", event)
	for _, h := range handlers {
		h(raw)
	}
}

func (c *fakeChannel) emitted(event string) []emittedCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emittedCommand
	for _, e := range c.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeChannel) emitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.emits)
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    ports.TrackKind
	enabled bool
	stopped bool
}

func newFakeTrack(id string, kind ports.TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string            { return t.id }
func (t *fakeTrack) Kind() ports.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

type fakeStream struct {
	mu      sync.Mutex
	id      string
	tracks  []ports.MediaTrack
	stopped bool
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.MediaTrack(nil), s.tracks...)
}

func (s *fakeStream) AudioTracks() []ports.MediaTrack { return s.byKind(ports.TrackAudio) }
func (s *fakeStream) VideoTracks() []ports.MediaTrack { return s.byKind(ports.TrackVideo) }

func (s *fakeStream) byKind(kind ports.TrackKind) []ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeStream) AddTrack(track ports.MediaTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
}

func (s *fakeStream) RemoveTrack(track ports.MediaTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tracks[:0]
	for _, t := range s.tracks {
		if t.ID() != track.ID() {
			kept = append(kept, t)
		}
	}
	s.tracks = kept
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, t := range s.tracks {
		t.Stop()
	}
}

// fakeMedia scripts capture outcomes. videoErr fails any acquisition that
// wants a camera; audio-only captures still succeed.
type fakeMedia struct {
	mu        sync.Mutex
	videoErr  error
	audioErr  error
	onCapture func()
	captured  []*fakeStream
	previews  int
	remotes   []ports.RemoteStream
	detached  int
	seq       int
}

func (m *fakeMedia) Capture(_ context.Context, wantVideo bool) (ports.LocalStream, error) {
	m.mu.Lock()
	onCapture := m.onCapture
	m.mu.Unlock()
	if onCapture != nil {
		onCapture()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audioErr != nil {
		return nil, m.audioErr
	}
	if wantVideo && m.videoErr != nil {
		return nil, m.videoErr
	}
	m.seq++
	stream := &fakeStream{
		id:     fmt.Sprintf("stream-%d", m.seq),
		tracks: []ports.MediaTrack{newFakeTrack(fmt.Sprintf("audio-%d", m.seq), ports.TrackAudio)},
	}
	if wantVideo {
		stream.tracks = append(stream.tracks, newFakeTrack(fmt.Sprintf("video-%d", m.seq), ports.TrackVideo))
	}
	m.captured = append(m.captured, stream)
	return stream, nil
}

func (m *fakeMedia) CaptureVideo(context.Context) ([]ports.MediaTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.videoErr != nil {
		return nil, m.videoErr
	}
	m.seq++
	return []ports.MediaTrack{newFakeTrack(fmt.Sprintf("video-%d", m.seq), ports.TrackVideo)}, nil
}

func (m *fakeMedia) AttachLocalPreview(ports.LocalStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previews++
}

func (m *fakeMedia) AttachRemote(stream ports.RemoteStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotes = append(m.remotes, stream)
}

func (m *fakeMedia) DetachAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detached++
}

type fakeTransport struct {
	mu           sync.Mutex
	added        []ports.MediaTrack
	videoRemoved int
	offerCount   int
	answerCount  int
	remoteDescs  []domain.SessionDescription
	candidates   []domain.ICECandidate
	onCandidate  func(domain.ICECandidate)
	onRemote     func(ports.RemoteStream)
	closed       bool

	offerErr     error
	answerErr    error
	setRemoteErr error
}

func (tr *fakeTransport) AddTrack(track ports.MediaTrack) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.added = append(tr.added, track)
	return nil
}

func (tr *fakeTransport) RemoveVideoTracks() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.videoRemoved++
	kept := tr.added[:0]
	for _, t := range tr.added {
		if t.Kind() != ports.TrackVideo {
			kept = append(kept, t)
		}
	}
	tr.added = kept
	return nil
}

func (tr *fakeTransport) CreateOffer(context.Context) (domain.SessionDescription, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.offerErr != nil {
		return domain.SessionDescription{}, tr.offerErr
	}
	tr.offerCount++
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: fmt.Sprintf("offer-%d", tr.offerCount)}, nil
}

func (tr *fakeTransport) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.answerErr != nil {
		return domain.SessionDescription{}, tr.answerErr
	}
	tr.answerCount++
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: fmt.Sprintf("answer-%d", tr.answerCount)}, nil
}

func (tr *fakeTransport) SetRemoteDescription(_ context.Context, desc domain.SessionDescription) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.setRemoteErr != nil {
		return tr.setRemoteErr
	}
	tr.remoteDescs = append(tr.remoteDescs, desc)
	return nil
}

func (tr *fakeTransport) AddICECandidate(candidate domain.ICECandidate) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.candidates = append(tr.candidates, candidate)
	return nil
}

func (tr *fakeTransport) OnICECandidate(fn func(domain.ICECandidate)) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.onCandidate = fn
}

func (tr *fakeTransport) OnRemoteStream(fn func(ports.RemoteStream)) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.onRemote = fn
}

func (tr *fakeTransport) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.closed = true
	return nil
}

func (tr *fakeTransport) fireCandidate(c domain.ICECandidate) {
	tr.mu.Lock()
	fn := tr.onCandidate
	tr.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (tr *fakeTransport) fireRemoteStream(rs ports.RemoteStream) {
	tr.mu.Lock()
	fn := tr.onRemote
	tr.mu.Unlock()
	if fn != nil {
		fn(rs)
	}
}

type fakeFactory struct {
	mu        sync.Mutex
	transport *fakeTransport
	err       error
	made      int
}

func (f *fakeFactory) NewTransport(context.Context, domain.CallID) (ports.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.made++
	if f.transport == nil {
		f.transport = &fakeTransport{}
	}
	return f.transport, nil
}

type fakeRemoteStream struct {
	mu       sync.Mutex
	id       string
	hasVideo bool
	activity func(bool)
}

func (r *fakeRemoteStream) ID() string { return r.id }

func (r *fakeRemoteStream) HasVideo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasVideo
}

func (r *fakeRemoteStream) OnVideoActivity(fn func(active bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity = fn
}

func (r *fakeRemoteStream) fireActivity(active bool) {
	r.mu.Lock()
	fn := r.activity
	r.mu.Unlock()
	if fn != nil {
		fn(active)
	}
}

func mustEncodeSignal(t *testing.T, data domain.SignalData) json.RawMessage {
	t.Helper()
	raw, err := data.Encode()
	require.NoError(t, err)
	return raw
}

package media

import (
	"errors"
	"io"
	"sync"

	"peerchat/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// SampleSource produces encoded media samples from a capture device or file.
type SampleSource interface {
	// ReadSample blocks until the next sample is available. io.EOF ends the
	// pump loop cleanly.
	ReadSample() (media.Sample, error)
	Close() error
}

// Track is one local capture track: a pion sample track fed by a pump
// goroutine reading from its source. Disabling the track keeps the pump
// running but drops the samples, which matches mute semantics.
type Track struct {
	id     string
	kind   ports.TrackKind
	local  *webrtc.TrackLocalStaticSample
	source SampleSource
	logger *zap.SugaredLogger

	mu      sync.Mutex
	enabled bool
	stopped bool
	done    chan struct{}
}

func newTrack(kind ports.TrackKind, source SampleSource, logger *zap.SugaredLogger) (*Track, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	if kind == ports.TrackVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	}

	id := uuid.New().String()
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, "peerchat")
	if err != nil {
		return nil, err
	}

	t := &Track{
		id:      id,
		kind:    kind,
		local:   local,
		source:  source,
		logger:  logger,
		enabled: true,
		done:    make(chan struct{}),
	}
	go t.pump()
	return t, nil
}

func (t *Track) ID() string            { return t.id }
func (t *Track) Kind() ports.TrackKind { return t.kind }

// PionTrack exposes the sendable pion track to the transport.
func (t *Track) PionTrack() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.done)
	t.mu.Unlock()

	if err := t.source.Close(); err != nil {
		t.logger.Debugw("source close failed", "track_id", t.id, "error", err)
	}
}

func (t *Track) pump() {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		sample, err := t.source.ReadSample()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Warnw("sample read failed", "track_id", t.id, "kind", t.kind, "error", err)
			}
			return
		}
		if !t.Enabled() {
			continue
		}
		if err := t.local.WriteSample(sample); err != nil {
			t.logger.Debugw("sample write failed", "track_id", t.id, "error", err)
		}
	}
}

// Stream is the owned local capture stream.
type Stream struct {
	id string

	mu     sync.Mutex
	tracks []ports.MediaTrack
}

func newStream(tracks ...ports.MediaTrack) *Stream {
	return &Stream{id: uuid.New().String(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.MediaTrack(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []ports.MediaTrack { return s.byKind(ports.TrackAudio) }
func (s *Stream) VideoTracks() []ports.MediaTrack { return s.byKind(ports.TrackVideo) }

func (s *Stream) byKind(kind ports.TrackKind) []ports.MediaTrack {
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

func (s *Stream) AddTrack(track ports.MediaTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()
}

func (s *Stream) RemoveTrack(track ports.MediaTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tracks {
		if t.ID() == track.ID() {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return
		}
	}
}

func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

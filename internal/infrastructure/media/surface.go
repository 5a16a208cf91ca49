package media

import (
	"context"
	"errors"
	"sync"

	"peerchat/internal/core/ports"
	pkgerrors "peerchat/pkg/errors"

	"go.uber.org/zap"
)

// DeviceOpener opens capture devices. Implementations return classified
// *pkgerrors.MediaError values so the fallback rules can match on the code;
// unclassified failures are treated as unknown, which is fatal.
type DeviceOpener interface {
	OpenMicrophone(ctx context.Context) (SampleSource, error)
	OpenCamera(ctx context.Context) (SampleSource, error)
}

// RenderSink receives the streams that should be shown to the user. A nil
// sink is valid for headless use.
type RenderSink interface {
	RenderLocal(stream ports.LocalStream)
	RenderRemote(stream ports.RemoteStream)
	Clear()
}

// Surface acquires local devices through the opener and forwards attach
// requests to the render sink.
type Surface struct {
	opener DeviceOpener
	sink   RenderSink
	logger *zap.SugaredLogger

	mu sync.Mutex
}

func NewSurface(opener DeviceOpener, sink RenderSink, logger *zap.SugaredLogger) *Surface {
	return &Surface{opener: opener, sink: sink, logger: logger}
}

// Capture acquires microphone plus, when wantVideo is set, camera. A failure
// of either device fails the whole acquisition and releases anything already
// opened; degrading to audio-only is the caller's decision.
func (s *Surface) Capture(ctx context.Context, wantVideo bool) (ports.LocalStream, error) {
	micSource, err := s.opener.OpenMicrophone(ctx)
	if err != nil {
		return nil, classify(err)
	}
	audio, err := newTrack(ports.TrackAudio, micSource, s.logger)
	if err != nil {
		micSource.Close()
		return nil, err
	}

	stream := newStream(audio)
	if !wantVideo {
		return stream, nil
	}

	camSource, err := s.opener.OpenCamera(ctx)
	if err != nil {
		stream.Stop()
		return nil, classify(err)
	}
	video, err := newTrack(ports.TrackVideo, camSource, s.logger)
	if err != nil {
		camSource.Close()
		stream.Stop()
		return nil, err
	}
	stream.AddTrack(video)

	s.logger.Debugw("captured local media", "stream_id", stream.ID(), "video", wantVideo)
	return stream, nil
}

// CaptureVideo acquires a camera-only capture for mid-call upgrades.
func (s *Surface) CaptureVideo(ctx context.Context) ([]ports.MediaTrack, error) {
	camSource, err := s.opener.OpenCamera(ctx)
	if err != nil {
		return nil, classify(err)
	}
	video, err := newTrack(ports.TrackVideo, camSource, s.logger)
	if err != nil {
		camSource.Close()
		return nil, err
	}
	return []ports.MediaTrack{video}, nil
}

func (s *Surface) AttachLocalPreview(stream ports.LocalStream) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.RenderLocal(stream)
	}
}

func (s *Surface) AttachRemote(stream ports.RemoteStream) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.RenderRemote(stream)
	}
}

func (s *Surface) DetachAll() {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Clear()
	}
}

// classify wraps unclassified opener failures as unknown media errors.
func classify(err error) error {
	var me *pkgerrors.MediaError
	if errors.As(err, &me) {
		return err
	}
	return pkgerrors.NewMediaError(pkgerrors.CodeUnknown, err)
}

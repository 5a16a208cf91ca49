package webrtc

import "sync"

// remoteStream groups the peer's tracks that share one stream id. Video
// liveness is derived from the RTP flow, so activity flips arrive from the
// read loop, not from signaling.
type remoteStream struct {
	id string

	mu         sync.Mutex
	hasVideo   bool
	active     bool
	onActivity func(active bool)
}

func newRemoteStream(id string) *remoteStream {
	return &remoteStream{id: id}
}

func (s *remoteStream) ID() string {
	return s.id
}

func (s *remoteStream) HasVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasVideo
}

func (s *remoteStream) OnVideoActivity(fn func(active bool)) {
	s.mu.Lock()
	s.onActivity = fn
	s.mu.Unlock()
}

func (s *remoteStream) setHasVideo(hasVideo bool) {
	s.mu.Lock()
	s.hasVideo = hasVideo
	s.mu.Unlock()
}

// setActive reports a liveness change to the registered listener. Repeated
// reports of the same state are swallowed.
func (s *remoteStream) setActive(active bool) {
	s.mu.Lock()
	if s.active == active {
		s.mu.Unlock()
		return
	}
	s.active = active
	fn := s.onActivity
	s.mu.Unlock()

	if fn != nil {
		fn(active)
	}
}

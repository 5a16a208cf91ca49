package ports

import "context"

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaTrack is one local capture track. Enabled flips do not change the
// track set and never require renegotiation; Stop releases the device.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// LocalStream is the owned local capture stream. The audio track is always
// present once acquired; video tracks come and go over the call's lifetime.
type LocalStream interface {
	ID() string
	Tracks() []MediaTrack
	AudioTracks() []MediaTrack
	VideoTracks() []MediaTrack
	AddTrack(track MediaTrack)
	RemoveTrack(track MediaTrack)
	Stop()
}

// RemoteStream is the peer-supplied stream. It is not owned and is replaced
// wholesale on every remote track arrival.
type RemoteStream interface {
	ID() string
	HasVideo() bool

	// OnVideoActivity reports live availability changes of the remote video
	// track (the mute/unmute/ended sub-events), without renegotiation.
	OnVideoActivity(fn func(active bool))
}

// MediaSurface acquires local capture devices and renders local/remote media.
// Treated as a given capability; the core never touches devices directly.
type MediaSurface interface {
	// Capture acquires microphone plus, when wantVideo is set, camera.
	Capture(ctx context.Context, wantVideo bool) (LocalStream, error)

	// CaptureVideo acquires a camera-only capture for mid-call upgrades.
	CaptureVideo(ctx context.Context) ([]MediaTrack, error)

	AttachLocalPreview(stream LocalStream)
	AttachRemote(stream RemoteStream)
	DetachAll()
}

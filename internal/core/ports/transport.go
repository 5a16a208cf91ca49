package ports

import (
	"context"

	"peerchat/internal/core/domain"
)

// PeerTransport is the negotiated transport object of one call session,
// exactly one per session.
type PeerTransport interface {
	AddTrack(track MediaTrack) error

	// RemoveVideoTracks detaches all outbound video senders so the next
	// offer no longer carries a video line.
	RemoveVideoTracks() error

	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)

	// CreateAnswer answers the current remote offer and applies it as the
	// local description.
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)

	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	AddICECandidate(candidate domain.ICECandidate) error

	// OnICECandidate delivers locally discovered candidates as they appear.
	OnICECandidate(fn func(candidate domain.ICECandidate))

	// OnRemoteStream delivers the peer's media stream; each invocation
	// replaces any previous stream wholesale.
	OnRemoteStream(fn func(stream RemoteStream))

	Close() error
}

// TransportFactory creates one transport per call session, lazily, on either
// the initiator or the callee side.
type TransportFactory interface {
	NewTransport(ctx context.Context, callID domain.CallID) (PeerTransport, error)
}

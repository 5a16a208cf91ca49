package domain

type UserID string

type CallID string

// CallKind is the negotiated media mode of a call. It is mutable over the
// call's lifetime (upgrade/downgrade).
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// CallPhase is the lifecycle phase of a call session.
type CallPhase string

const (
	PhaseIdle      CallPhase = "idle"
	PhaseDialing   CallPhase = "dialing"
	PhaseRinging   CallPhase = "ringing"
	PhaseAccepting CallPhase = "accepting"
	PhaseConnected CallPhase = "connected"
	PhaseEnded     CallPhase = "ended"
)

// Active reports whether the phase counts against the single-session limit.
func (p CallPhase) Active() bool {
	return p != PhaseIdle && p != PhaseEnded
}

type CallMeta struct {
	Type CallKind `json:"type"`
}

// UserRef is the short user projection carried on messages, typing signals
// and call invitations.
type UserRef struct {
	ID           UserID `json:"id"`
	Username     string `json:"username"`
	ProfileImage string `json:"profile_image"`
}

// IncomingCall is a ringing invitation that has not been accepted yet.
type IncomingCall struct {
	FromUserID UserID   `json:"fromUserId"`
	CallID     CallID   `json:"callId"`
	Metadata   CallMeta `json:"metadata"`
	Caller     UserRef  `json:"caller"`
}

// CallSession is the reactive state of the one call a client may hold.
// Transport and media handles live on the manager, not here.
type CallSession struct {
	CallID             CallID
	PeerID             UserID
	Metadata           CallMeta
	Phase              CallPhase
	Caller             UserRef
	Muted              bool
	VideoEnabled       bool
	RemoteVideoEnabled bool
}

const RejectReasonBusy = "busy"

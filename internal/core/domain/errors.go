package domain

import "errors"

var (
	ErrBusy              = errors.New("another call is active")
	ErrNoActiveCall      = errors.New("no active call")
	ErrNoIncomingCall    = errors.New("no incoming call")
	ErrCallMismatch      = errors.New("event does not match the active call")
	ErrSessionEnded      = errors.New("call session already ended")
	ErrNoTransport       = errors.New("no peer transport for session")
	ErrOutOfOrderSignal  = errors.New("signaling message out of order")
	ErrMalformedSignal   = errors.New("malformed signaling payload")
	ErrChannelClosed     = errors.New("event channel closed")
	ErrConversationUnset = errors.New("no active conversation")
	ErrInvalidMessage    = errors.New("invalid outgoing message")
)

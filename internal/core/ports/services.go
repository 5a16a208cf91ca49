package ports

import (
	"context"

	"peerchat/internal/core/domain"
)

type CallService interface {
	StartCall(ctx context.Context, peer domain.UserRef, kind domain.CallKind) error
	AcceptCall(ctx context.Context) error
	RejectCall(reason string) error
	Hangup() error
	ToggleMute()
	ToggleVideo(ctx context.Context) error

	// Snapshot returns a copy of the current session state; ok is false when
	// no session exists.
	Snapshot() (session domain.CallSession, ok bool)
}

type ConversationService interface {
	OpenConversation(id domain.UserID, convType domain.ConversationType) error
	LeaveConversation()
	SendMessage(cmd domain.SendMessageCmd) error
	RequestContacts() error
	RequestConversations() error
	SelectProfile(id domain.UserID, profileType domain.ConversationType)

	Conversations() []domain.Conversation
	Groups() []domain.Conversation
	Messages() []domain.Message
	ActiveProfile() (domain.Profile, bool)
	Contacts() []domain.Contact
	Statuses() []domain.UserStatuses
	ProfileDetail() (domain.Profile, bool)
}

// StatsRecorder receives operational counters from the core services.
// Implemented by the monitoring collector; a nop implementation is used in
// tests.
type StatsRecorder interface {
	EventApplied(event string)
	EventDropped(event string, reason string)
	CallStarted(kind domain.CallKind)
	CallEnded(phase domain.CallPhase)
	TypingTimers(active int)
}

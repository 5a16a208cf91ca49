package services

import (
	"sync"
	"time"

	"peerchat/internal/core/domain"
)

// TypingKey identifies one pending typing expiry. 1:1 indicators are keyed by
// the typing peer; group indicators by group plus member. Outbound separates
// the emitter's stop timers from the inbound decay timers, so both halves of
// the typing protocol can share one registry without cancelling each other.
type TypingKey struct {
	Scope          domain.ConversationType
	ConversationID domain.UserID
	UserID         domain.UserID
	Outbound       bool
}

// UserTypingKey builds the key for a 1:1 typing indicator.
func UserTypingKey(peerID domain.UserID) TypingKey {
	return TypingKey{Scope: domain.ConversationUser, ConversationID: peerID}
}

// GroupTypingKey builds the key for one member typing in a group.
func GroupTypingKey(groupID, userID domain.UserID) TypingKey {
	return TypingKey{Scope: domain.ConversationGroup, ConversationID: groupID, UserID: userID}
}

// TypingRegistry owns the per-key debounce timers behind typing indicators.
// Arming a key cancels and replaces any pending timer for that exact key.
type TypingRegistry struct {
	mu     sync.Mutex
	window time.Duration
	timers map[TypingKey]*time.Timer
}

// DefaultTypingWindow is the fixed expiry applied to typing indicators.
const DefaultTypingWindow = time.Second

func NewTypingRegistry(window time.Duration) *TypingRegistry {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingRegistry{
		window: window,
		timers: make(map[TypingKey]*time.Timer),
	}
}

// Window returns the debounce window timers are armed with.
func (r *TypingRegistry) Window() time.Duration {
	return r.window
}

// Arm schedules expire to run after the debounce window, replacing any timer
// already pending for the key. The expire callback runs at most once and the
// key is removed before it fires.
func (r *TypingRegistry) Arm(key TypingKey, expire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[key]; ok {
		t.Stop()
	}
	r.timers[key] = time.AfterFunc(r.window, func() {
		r.mu.Lock()
		delete(r.timers, key)
		r.mu.Unlock()
		expire()
	})
}

// Cancel drops any pending timer for the key without firing it.
func (r *TypingRegistry) Cancel(key TypingKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[key]; ok {
		t.Stop()
		delete(r.timers, key)
	}
}

// Pending reports whether an expiry is armed for the key.
func (r *TypingRegistry) Pending(key TypingKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

// Len returns the number of armed timers.
func (r *TypingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// CancelAll drops every pending timer. Used on teardown.
func (r *TypingRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
}

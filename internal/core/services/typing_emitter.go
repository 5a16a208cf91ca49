package services

import (
	"sync"

	"peerchat/internal/core/domain"
	"peerchat/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TypingEmitter is the outbound half of the typing protocol. The first
// keystroke after idle emits typing=true immediately; subsequent keystrokes
// only extend the expiry timer, with per-conversation rate-limited keepalive
// re-emits so long bursts do not flood the channel. typing=false goes out
// when the input empties, when the window elapses without a keystroke, or
// when the conversation is left.
type TypingEmitter struct {
	channel ports.EventChannel
	typing  *TypingRegistry
	logger  *zap.SugaredLogger

	self domain.UserID

	mu       sync.Mutex
	active   map[TypingKey]domain.TypingCmd
	limiters map[TypingKey]*rate.Limiter
}

func NewTypingEmitter(channel ports.EventChannel, typing *TypingRegistry, self domain.UserID, logger *zap.SugaredLogger) *TypingEmitter {
	return &TypingEmitter{
		channel:  channel,
		typing:   typing,
		logger:   logger,
		self:     self,
		active:   make(map[TypingKey]domain.TypingCmd),
		limiters: make(map[TypingKey]*rate.Limiter),
	}
}

// Keystroke records typing activity towards one conversation.
func (e *TypingEmitter) Keystroke(receiverID domain.UserID, tabType domain.ConversationType) {
	key := e.key(receiverID, tabType)
	cmd := domain.TypingCmd{ReceiverID: receiverID, TabType: tabType, Typing: true}

	e.mu.Lock()
	_, wasTyping := e.active[key]
	e.active[key] = cmd
	limiter, ok := e.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(e.typing.Window()), 1)
		e.limiters[key] = limiter
	}
	e.mu.Unlock()

	if limiter.Allow() || !wasTyping {
		e.emit(cmd)
	}

	e.typing.Arm(key, func() {
		e.stop(key)
	})
}

// InputCleared ends the typing indication for one conversation immediately.
func (e *TypingEmitter) InputCleared(receiverID domain.UserID, tabType domain.ConversationType) {
	key := e.key(receiverID, tabType)
	e.typing.Cancel(key)
	e.stop(key)
}

// StopAll ends every outstanding typing indication. Called on leaving the
// conversation view and on shutdown.
func (e *TypingEmitter) StopAll() {
	e.mu.Lock()
	keys := make([]TypingKey, 0, len(e.active))
	for key := range e.active {
		keys = append(keys, key)
	}
	e.mu.Unlock()

	for _, key := range keys {
		e.typing.Cancel(key)
		e.stop(key)
	}
}

// key builds the outbound timer key. The registry is shared with the inbound
// decay timers, so the keyspaces must stay disjoint: a local keystroke must
// never replace the decay timer of the peer typing to us.
func (e *TypingEmitter) key(receiverID domain.UserID, tabType domain.ConversationType) TypingKey {
	var key TypingKey
	if tabType == domain.ConversationGroup {
		key = GroupTypingKey(receiverID, e.self)
	} else {
		key = UserTypingKey(receiverID)
	}
	key.Outbound = true
	return key
}

// stop emits typing=false once for a key that was active.
func (e *TypingEmitter) stop(key TypingKey) {
	e.mu.Lock()
	cmd, ok := e.active[key]
	delete(e.active, key)
	e.mu.Unlock()
	if !ok {
		return
	}
	cmd.Typing = false
	e.emit(cmd)
}

func (e *TypingEmitter) emit(cmd domain.TypingCmd) {
	if err := e.channel.Emit(domain.CmdTyping, cmd); err != nil {
		e.logger.Warnw("failed to emit typing", "receiver_id", cmd.ReceiverID, "error", err)
	}
}

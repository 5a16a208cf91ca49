package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"peerchat/internal/core/domain"
	"peerchat/internal/core/ports"
	"peerchat/pkg/notify"
	"peerchat/pkg/validation"

	"go.uber.org/zap"
)

// DefaultDeliveryAckDelay spaces the delivery acknowledgment away from the
// message event so the server has persisted the message before the ack
// arrives.
const DefaultDeliveryAckDelay = 500 * time.Millisecond

// ConversationStore is the reconciliation engine: it merges the unordered,
// at-least-once stream of server events into the conversation list, the
// active conversation view and the profile/contact/status caches. All
// mutation happens inside its handlers, under one mutex; accessors hand out
// copies.
type ConversationStore struct {
	channel  ports.EventChannel
	typing   *TypingRegistry
	stats    ports.StatsRecorder
	notifier *notify.Bus
	logger   *zap.SugaredLogger

	self          domain.UserRef
	deliveryDelay time.Duration

	mu            sync.Mutex
	conversations []domain.Conversation
	activeProfile *domain.Profile
	activeConv    *domain.ActiveConversation
	messages      []domain.Message
	contacts      []domain.Contact
	statuses      []domain.UserStatuses

	profileDetail       *domain.Profile
	selectedProfileID   domain.UserID
	selectedProfileType domain.ConversationType
	profileSelected     bool
}

func NewConversationStore(
	channel ports.EventChannel,
	typing *TypingRegistry,
	self domain.UserRef,
	deliveryDelay time.Duration,
	stats ports.StatsRecorder,
	logger *zap.SugaredLogger,
) *ConversationStore {
	if deliveryDelay <= 0 {
		deliveryDelay = DefaultDeliveryAckDelay
	}
	if stats == nil {
		stats = NopStats{}
	}
	return &ConversationStore{
		channel:       channel,
		typing:        typing,
		stats:         stats,
		logger:        logger,
		self:          self,
		deliveryDelay: deliveryDelay,
	}
}

// SetNotifier attaches an optional change-notification bus. Each applied
// event publishes the topic of the state slice it touched.
func (s *ConversationStore) SetNotifier(bus *notify.Bus) {
	s.notifier = bus
}

// Register attaches the conversation event handlers to the channel.
func (s *ConversationStore) Register() {
	subscribe(s, domain.EventUserConversation, s.handleSnapshot)
	subscribe(s, domain.EventNewMessage, s.handleNewMessage)
	subscribe(s, domain.EventDeleteMessaged, s.handleMessageDeleted)
	subscribe(s, domain.EventUpdateConvCount, s.handleCount)
	subscribe(s, domain.EventNewConversation, s.handleNewConversation)
	subscribe(s, domain.EventConversationGone, s.handleConversationDeleted)
	subscribe(s, domain.EventPollUpdated, s.handlePollUpdated)
	subscribe(s, domain.EventSeen, s.handleSeen)
	subscribe(s, domain.EventDelivered, s.handleDelivered)
	subscribe(s, domain.EventAllDelivered, s.handleAllDelivered)
	subscribe(s, domain.EventContacts, s.handleContacts)
	subscribe(s, domain.EventStatuses, s.handleStatuses)
	subscribe(s, domain.EventStatusViewed, s.handleStatusViewed)
	subscribe(s, domain.EventProfile, s.handleProfile)
	subscribe(s, domain.EventTyping, s.HandleTyping)
}

// subscribe decodes the raw payload into T and hands it to the typed handler.
// Undecodable payloads are counted and dropped, never propagated.
func subscribe[T any](s *ConversationStore, event string, handler func(T)) {
	s.channel.Subscribe(event, func(raw json.RawMessage) {
		var payload T
		if err := json.Unmarshal(raw, &payload); err != nil {
			s.stats.EventDropped(event, err.Error())
			s.logger.Warnw("dropping undecodable event", "event", event, "error", err)
			return
		}
		handler(payload)
		s.stats.EventApplied(event)
		s.notifier.Publish(topicFor(event))
	})
}

// topicFor maps a channel event to the state slice it mutates.
func topicFor(event string) notify.Topic {
	switch event {
	case domain.EventContacts:
		return notify.TopicContacts
	case domain.EventStatuses, domain.EventStatusViewed:
		return notify.TopicStatuses
	case domain.EventTyping:
		return notify.TopicTyping
	case domain.EventProfile:
		return notify.TopicProfile
	case domain.EventUserConversation, domain.EventNewMessage,
		domain.EventDeleteMessaged, domain.EventSeen, domain.EventDelivered,
		domain.EventAllDelivered:
		return notify.TopicMessages
	default:
		return notify.TopicConversations
	}
}

// ----- commands -----

// OpenConversation asks the server for the full snapshot of one
// conversation.
func (s *ConversationStore) OpenConversation(id domain.UserID, convType domain.ConversationType) error {
	return s.channel.Emit(domain.CmdGetConversation, domain.GetConversationCmd{
		ModuleID: string(id),
		Type:     convType,
	})
}

// LeaveConversation clears the active conversation view.
func (s *ConversationStore) LeaveConversation() {
	s.mu.Lock()
	s.activeProfile = nil
	s.activeConv = nil
	s.messages = nil
	s.mu.Unlock()
}

// SendMessage emits a message for the server to persist and fan out. The
// server echoes it back as a new-message event, which is where it enters the
// local state.
func (s *ConversationStore) SendMessage(cmd domain.SendMessageCmd) error {
	if err := validation.ValidateSendMessage(cmd); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	return s.channel.Emit(domain.CmdSendMessage, cmd)
}

func (s *ConversationStore) RequestContacts() error {
	return s.channel.Emit(domain.CmdGetContacts, struct{}{})
}

func (s *ConversationStore) RequestConversations() error {
	return s.channel.Emit(domain.CmdGetConversations, struct{}{})
}

// SelectProfile records which profile detail the client is waiting for.
// Profile events for any other id are stale and ignored.
func (s *ConversationStore) SelectProfile(id domain.UserID, profileType domain.ConversationType) {
	s.mu.Lock()
	s.selectedProfileID = id
	s.selectedProfileType = profileType
	s.profileSelected = true
	s.profileDetail = nil
	s.mu.Unlock()
}

// SeedConversations replaces the conversation list wholesale, as returned by
// the conversations fetch.
func (s *ConversationStore) SeedConversations(list []domain.Conversation) {
	s.mu.Lock()
	s.conversations = append([]domain.Conversation(nil), list...)
	s.mu.Unlock()
}

// ----- accessors -----

// Conversations returns a copy of the combined conversation list.
func (s *ConversationStore) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Conversation(nil), s.conversations...)
}

// Groups returns the group entries of the conversation list.
func (s *ConversationStore) Groups() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var groups []domain.Conversation
	for _, c := range s.conversations {
		if c.Type == domain.ConversationGroup {
			groups = append(groups, c)
		}
	}
	return groups
}

func (s *ConversationStore) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

func (s *ConversationStore) ActiveProfile() (domain.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeProfile == nil {
		return domain.Profile{}, false
	}
	return *s.activeProfile, true
}

func (s *ConversationStore) Contacts() []domain.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Contact(nil), s.contacts...)
}

func (s *ConversationStore) Statuses() []domain.UserStatuses {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UserStatuses(nil), s.statuses...)
}

func (s *ConversationStore) ProfileDetail() (domain.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profileDetail == nil {
		return domain.Profile{}, false
	}
	return *s.profileDetail, true
}

// ----- event handlers -----

// handleSnapshot replaces the active conversation view. Group membership is
// derived locally from the member list; when the server reports that no
// conversation exists yet, only the profile survives.
func (s *ConversationStore) handleSnapshot(snap domain.ConversationSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Profile == nil {
		s.activeProfile = nil
	} else {
		p := *snap.Profile
		if p.Type == domain.ConversationGroup {
			p.IsMember = false
			for _, m := range p.Members {
				if m.ID == s.self.ID {
					p.IsMember = true
					break
				}
			}
		}
		s.activeProfile = &p
	}

	if !snap.ConversationsExist {
		s.activeConv = nil
		s.messages = nil
		return
	}
	s.activeConv = snap.Conversation
	s.messages = append([]domain.Message(nil), snap.Messages...)
}

// handleNewMessage applies both effects of a new message: the conversation
// list entry update and, when the message belongs to the open conversation,
// the append to the message list. Messages from other users in conversations
// that are not open additionally schedule a delivery ack.
func (s *ConversationStore) handleNewMessage(msg domain.Message) {
	s.mu.Lock()
	s.updateConversationListLocked(msg)

	activeMatch := s.activeProfile != nil &&
		(s.activeProfile.ID == msg.SenderID || s.activeProfile.ID == msg.ReceiverID) &&
		msg.TabType == s.activeProfile.Type
	if activeMatch {
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()

	if !activeMatch && msg.SenderID != s.self.ID {
		s.scheduleDeliveryAck(msg)
	}
}

func (s *ConversationStore) updateConversationListLocked(msg domain.Message) {
	for i := range s.conversations {
		c := &s.conversations[i]
		if msg.TabType == domain.ConversationGroup {
			if c.Type != domain.ConversationGroup {
				continue
			}
			if c.ReceiverID == msg.ReceiverID && msg.SenderID != s.self.ID {
				c.SentCount++
				setPreview(c, msg)
			} else if s.activeProfile != nil && c.ReceiverID == s.activeProfile.ID && msg.SenderID == s.self.ID {
				setPreview(c, msg)
			}
			continue
		}
		if c.Type != domain.ConversationUser {
			continue
		}
		if c.ReceiverID == msg.SenderID {
			c.SentCount++
			setPreview(c, msg)
		} else if c.ReceiverID == msg.ReceiverID {
			setPreview(c, msg)
		}
	}
}

func setPreview(c *domain.Conversation, msg domain.Message) {
	c.Message = msg.Message
	c.MessageType = msg.Type
	c.Sender = msg.Sender
	c.SendedAt = msg.CreatedAt
}

func (s *ConversationStore) scheduleDeliveryAck(msg domain.Message) {
	time.AfterFunc(s.deliveryDelay, func() {
		err := s.channel.Emit(domain.CmdDelivered, domain.DeliveredCmd{
			ChatID:     msg.ID,
			ReceiverID: msg.SenderID,
			Type:       msg.TabType,
		})
		if err != nil {
			s.logger.Warnw("failed to ack delivery", "message_id", msg.ID, "error", err)
		}
	})
}

func (s *ConversationStore) handleMessageDeleted(ev domain.MessageDeleted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConv == nil || s.activeConv.ID != ev.ConversationID {
		return
	}
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ID != ev.MessageID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
}

// handleCount applies the server-confirmed unread counter. The value is
// authoritative; it overwrites whatever was counted locally.
func (s *ConversationStore) handleCount(ev domain.ConversationCount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == ev.ConversationID {
			s.conversations[i].SentCount = ev.Count
		}
	}
}

// handleNewConversation only surfaces the notice; the entry itself arrives
// with the next conversations fetch.
func (s *ConversationStore) handleNewConversation(ev domain.Conversation) {
	s.logger.Debugw("new conversation notice", "receiver_id", ev.ReceiverID, "type", ev.Type)
}

func (s *ConversationStore) handleConversationDeleted(ev domain.ConversationDeleted) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.conversations[:0]
	for _, c := range s.conversations {
		if c.ID != ev.ConversationID {
			kept = append(kept, c)
		}
	}
	s.conversations = kept

	if s.activeConv != nil && s.activeConv.ID == ev.ConversationID {
		s.activeConv = nil
		s.activeProfile = nil
		s.messages = nil
	}
}

// handlePollUpdated replaces the poll payload on the matching message, but
// only when the poll's group is the open conversation.
func (s *ConversationStore) handlePollUpdated(poll domain.Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeProfile == nil || s.activeProfile.ID != domain.UserID(poll.GroupID) {
		return
	}
	for i := range s.messages {
		if s.messages[i].Poll != nil && s.messages[i].Poll.ID == poll.ID {
			p := poll
			s.messages[i].Poll = &p
		}
	}
}

func (s *ConversationStore) handleSeen(batch []domain.ReceiptUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, upd := range batch {
		s.applyReceiptLocked(upd)
	}
}

func (s *ConversationStore) handleDelivered(upd domain.ReceiptUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyReceiptLocked(upd)
}

// applyReceiptLocked merges a server receipt into the matching message of the
// active list. The merge keeps every transition monotonic, so a stale
// delivered arriving after read changes nothing.
func (s *ConversationStore) applyReceiptLocked(upd domain.ReceiptUpdate) {
	for i := range s.messages {
		if s.messages[i].ID == upd.ID {
			s.messages[i].ReadStatus.Merge(upd.ReadStatus)
			return
		}
	}
}

// handleAllDelivered upgrades every eligible message of the open conversation
// to delivered for one user. Events for any other conversation are dropped.
func (s *ConversationStore) handleAllDelivered(ev domain.AllDelivered) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeProfile == nil || s.activeProfile.ID != ev.ProfileID {
		return
	}

	switch {
	case ev.Type == domain.ConversationGroup && s.activeProfile.Type == domain.ConversationGroup:
		for i := range s.messages {
			s.messages[i].ReadStatus.AdvanceRecipient(ev.UserID, domain.StateDelivered)
		}
	case ev.Type == domain.ConversationUser && s.activeProfile.Type == domain.ConversationUser:
		for i := range s.messages {
			if s.messages[i].SenderID == s.self.ID {
				s.messages[i].ReadStatus.Advance(domain.StateDelivered)
			}
		}
	}
}

func (s *ConversationStore) handleContacts(list []domain.Contact) {
	s.mu.Lock()
	s.contacts = list
	s.mu.Unlock()
}

func (s *ConversationStore) handleStatuses(list []domain.UserStatuses) {
	s.mu.Lock()
	s.statuses = list
	s.mu.Unlock()
}

// handleStatusViewed records a viewer on one of the local user's own
// statuses. Repeated events for the same viewer are no-ops, so the view
// counter moves only on first addition.
func (s *ConversationStore) handleStatusViewed(ev domain.StatusViewed) {
	if ev.Viewer.UserID == s.self.ID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.statuses {
		if s.statuses[i].User.ID != s.self.ID {
			continue
		}
		for j := range s.statuses[i].Statuses {
			st := &s.statuses[i].Statuses[j]
			if st.ID != ev.StatusID {
				continue
			}
			for _, v := range st.Viewers {
				if v.UserID == ev.Viewer.UserID {
					return
				}
			}
			st.Viewers = append(st.Viewers, ev.Viewer)
			st.Views++
		}
	}
}

// handleProfile accepts a profile detail only when it answers the current
// selection; responses for an abandoned selection are stale.
func (s *ConversationStore) handleProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.profileSelected || s.selectedProfileID != p.ID {
		return
	}
	s.profileDetail = &p
}

// ----- typing -----

// HandleTyping applies an inbound typing indicator and (re)arms its decay
// timer. A start on an already-armed key replaces the pending timer, so the
// indicator stays up for a full window past the latest signal; an explicit
// stop clears it immediately.
func (s *ConversationStore) HandleTyping(sig domain.TypingSignal) {
	typing := sig.IsTyping()

	switch sig.TabType {
	case domain.ConversationUser:
		userID := sig.User.ID
		key := UserTypingKey(userID)

		s.mu.Lock()
		s.setUserTypingLocked(userID, typing)
		s.mu.Unlock()

		if typing {
			s.typing.Arm(key, func() {
				s.mu.Lock()
				s.setUserTypingLocked(userID, false)
				s.mu.Unlock()
				s.stats.TypingTimers(s.typing.Len())
				s.notifier.Publish(notify.TopicTyping)
			})
		} else {
			s.typing.Cancel(key)
		}

	case domain.ConversationGroup:
		groupID := sig.ReceiverID
		key := GroupTypingKey(groupID, sig.User.ID)

		s.mu.Lock()
		s.setGroupTypingLocked(groupID, sig.User, typing)
		s.mu.Unlock()

		if typing {
			user := sig.User
			s.typing.Arm(key, func() {
				s.mu.Lock()
				s.setGroupTypingLocked(groupID, user, false)
				s.mu.Unlock()
				s.stats.TypingTimers(s.typing.Len())
				s.notifier.Publish(notify.TopicTyping)
			})
		} else {
			s.typing.Cancel(key)
		}
	}
	s.stats.TypingTimers(s.typing.Len())
}

func (s *ConversationStore) setUserTypingLocked(userID domain.UserID, typing bool) {
	if s.activeProfile != nil && s.activeProfile.ID == userID {
		s.activeProfile.IsTyping = typing
	}
	for i := range s.conversations {
		c := &s.conversations[i]
		if c.ReceiverID == userID && c.Type == domain.ConversationUser {
			c.IsTyping = typing
		}
	}
}

func (s *ConversationStore) setGroupTypingLocked(groupID domain.UserID, user domain.UserRef, typing bool) {
	if s.activeProfile != nil && s.activeProfile.ID == groupID && s.activeProfile.Type == domain.ConversationGroup {
		s.activeProfile.IsTypingUsers = updateTypingUsers(s.activeProfile.IsTypingUsers, user, typing)
		s.activeProfile.IsTyping = len(s.activeProfile.IsTypingUsers) > 0
	}
	for i := range s.conversations {
		c := &s.conversations[i]
		if c.ReceiverID == groupID && c.Type == domain.ConversationGroup {
			c.IsTypingUsers = updateTypingUsers(c.IsTypingUsers, user, typing)
			c.IsTyping = len(c.IsTypingUsers) > 0
		}
	}
}

func updateTypingUsers(m map[domain.UserID]domain.UserRef, user domain.UserRef, typing bool) map[domain.UserID]domain.UserRef {
	if typing {
		if m == nil {
			m = make(map[domain.UserID]domain.UserRef)
		}
		m[user.ID] = user
		return m
	}
	delete(m, user.ID)
	return m
}

// Close cancels all pending typing timers.
func (s *ConversationStore) Close() {
	s.typing.CancelAll()
	s.stats.TypingTimers(0)
}

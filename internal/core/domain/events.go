package domain

import "encoding/json"

// Event names pushed by the server over the event channel.
const (
	EventUserConversation  = "user-conversation"
	EventDeleteMessaged    = "delete-messaged"
	EventUpdateConvCount   = "update-conversation-count"
	EventNewConversation   = "new-conversation"
	EventConversationGone  = "conversation-deleted"
	EventNewMessage        = "new-message"
	EventPollUpdated       = "poll-updated"
	EventSeen              = "seen"
	EventDelivered         = "delivered"
	EventAllDelivered      = "all-delivered"
	EventContacts          = "contacts"
	EventStatuses          = "statuses"
	EventStatusViewed      = "status-viewed"
	EventProfile           = "profile"
	EventTyping            = "typing"
	EventCallIncoming      = "call:incoming"
	EventCallAccepted      = "call:accepted"
	EventCallSignal        = "call:signal"
	EventCallRejected      = "call:rejected"
	EventCallHangup        = "call:hangup"
)

// ConversationSnapshot is the full active-conversation snapshot delivered on
// user-conversation. When the conversation does not exist yet only the
// profile is meaningful.
type ConversationSnapshot struct {
	Profile            *Profile            `json:"profile"`
	ConversationsExist bool                `json:"conversations_exist"`
	Conversation       *ActiveConversation `json:"conversation,omitempty"`
	Messages           []Message           `json:"messages,omitempty"`
}

type MessageDeleted struct {
	MessageID      string           `json:"messageId"`
	ConversationID string           `json:"conversation_id"`
	Type           ConversationType `json:"type"`
}

type ConversationCount struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

type ConversationDeleted struct {
	ConversationID string `json:"conversation_id"`
}

// ReceiptUpdate carries one message's server-assigned read status, used by
// both delivered and the per-element entries of seen.
type ReceiptUpdate struct {
	ID         string     `json:"id"`
	ReadStatus ReadStatus `json:"readStatus"`
}

// AllDelivered marks every eligible message of one conversation delivered for
// one user.
type AllDelivered struct {
	ProfileID UserID           `json:"profile_id"`
	UserID    string           `json:"user_id"`
	Type      ConversationType `json:"type"`
}

type StatusViewed struct {
	StatusID string       `json:"status_id"`
	Viewer   StatusViewer `json:"viewer"`
}

// TypingSignal is an inbound typing indicator. A missing typing field means
// true on the wire.
type TypingSignal struct {
	Typing     *bool            `json:"typing"`
	TabType    ConversationType `json:"tab_type"`
	ReceiverID UserID           `json:"receiver_id"`
	User       UserRef          `json:"user"`
}

// IsTyping resolves the optional typing flag.
func (t TypingSignal) IsTyping() bool {
	return t.Typing == nil || *t.Typing
}

// CallAccepted acknowledges a call-init.
type CallAccepted struct {
	FromUserID UserID `json:"fromUserId"`
	CallID     CallID `json:"callId"`
}

// CallSignalEnvelope wraps a signaling payload before its union shape has
// been decided.
type CallSignalEnvelope struct {
	FromUserID UserID          `json:"fromUserId"`
	CallID     CallID          `json:"callId"`
	Data       json.RawMessage `json:"data"`
	Caller     UserRef         `json:"caller"`
}

type CallRejected struct {
	CallID CallID `json:"callId"`
	Reason string `json:"reason"`
}

type CallHangup struct {
	FromUserID UserID `json:"fromUserId"`
	CallID     CallID `json:"callId"`
}

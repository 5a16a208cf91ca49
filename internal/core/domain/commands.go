package domain

import "encoding/json"

// Command names emitted by the client over the event channel.
const (
	CmdCallInit         = "call:call-init"
	CmdCallAccept       = "call:accept"
	CmdCallReject       = "call:reject"
	CmdCallHangup       = "call:hangup"
	CmdCallSignal       = "call:signal"
	CmdDelivered        = "delivered"
	CmdTyping           = "typing"
	CmdSendMessage      = "send-message"
	CmdGetConversation  = "get-conversation"
	CmdGetContacts      = "get-contacts"
	CmdGetConversations = "get-conversations"
)

type CallInitCmd struct {
	ToUserID UserID   `json:"toUserId"`
	CallID   CallID   `json:"callId"`
	Metadata CallMeta `json:"metadata"`
}

type CallAcceptCmd struct {
	ToUserID UserID `json:"toUserId"`
	CallID   CallID `json:"callId"`
}

type CallRejectCmd struct {
	ToUserID UserID `json:"toUserId"`
	CallID   CallID `json:"callId"`
	Reason   string `json:"reason,omitempty"`
}

type CallHangupCmd struct {
	ToUserID UserID `json:"toUserId"`
	CallID   CallID `json:"callId"`
}

type CallSignalCmd struct {
	ToUserID UserID          `json:"toUserId"`
	CallID   CallID          `json:"callId"`
	Data     json.RawMessage `json:"data"`
}

type DeliveredCmd struct {
	ChatID     string           `json:"chat_Id"`
	ReceiverID UserID           `json:"receiver_id"`
	Type       ConversationType `json:"type"`
}

type TypingCmd struct {
	ReceiverID UserID           `json:"receiver_id"`
	TabType    ConversationType `json:"tab_type"`
	Typing     bool             `json:"typing"`
}

type PollDraft struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type SendMessageCmd struct {
	ReceiverID  UserID           `json:"receiver_id"`
	Message     string           `json:"message"`
	Type        MsgType          `json:"type"`
	Attachments string           `json:"attachments,omitempty"`
	Poll        *PollDraft       `json:"poll,omitempty"`
	TabType     ConversationType `json:"tab_type"`
}

type GetConversationCmd struct {
	ModuleID string           `json:"module_id"`
	Type     ConversationType `json:"type"`
}

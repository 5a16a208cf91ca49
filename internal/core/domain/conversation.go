package domain

import "time"

// ConversationType distinguishes 1:1 chats from group chats.
type ConversationType string

const (
	ConversationUser  ConversationType = "user"
	ConversationGroup ConversationType = "group"
)

// Conversation is one entry of the conversation list, carrying the
// last-message preview, the unread counter and the typing state.
type Conversation struct {
	ID           string           `json:"id"`
	ReceiverID   UserID           `json:"receiver_id"`
	Type         ConversationType `json:"type"`
	Pin          bool             `json:"pin"`
	Mute         bool             `json:"mute"`
	Active       bool             `json:"active"`
	Username     string           `json:"username,omitempty"`
	ProfileImage string           `json:"profile_image,omitempty"`
	GroupName    string           `json:"group_name,omitempty"`
	GroupImage   string           `json:"group_image,omitempty"`

	Message     string    `json:"message"`
	MessageType MsgType   `json:"message_type"`
	Sender      UserRef   `json:"sender"`
	SendedAt    time.Time `json:"sendedAt"`
	SentCount   int       `json:"sentCount"`

	IsTyping      bool               `json:"isTyping"`
	IsTypingUsers map[UserID]UserRef `json:"isTypingUsers,omitempty"`
}

// ActiveConversation is the server-side conversation record of the currently
// open chat.
type ActiveConversation struct {
	ID         string           `json:"id"`
	Type       ConversationType `json:"type"`
	Pin        bool             `json:"pin"`
	Mute       bool             `json:"mute"`
	Active     bool             `json:"active"`
	Deleted    bool             `json:"deleted"`
	SenderID   UserID           `json:"sender_id,omitempty"`
	ReceiverID UserID           `json:"receiver_id,omitempty"`
}

type MemberSettings struct {
	EditGroup        bool `json:"edit_group"`
	SendMessage      bool `json:"send_message"`
	AddMember        bool `json:"add_member"`
	CreateInviteLink bool `json:"create_invite_link"`
}

type Member struct {
	ID        UserID  `json:"id"`
	IsAdmin   bool    `json:"is_admin"`
	IsCreator bool    `json:"is_creator"`
	Detail    UserRef `json:"detail"`
}

// Profile is the detail view of one conversation's counterpart, user or
// group. At most one profile is active at a time.
type Profile struct {
	ID           UserID           `json:"id"`
	Type         ConversationType `json:"type"`
	Username     string           `json:"username,omitempty"`
	ProfileImage string           `json:"profile_image,omitempty"`
	About        string           `json:"about,omitempty"`

	GroupName        string         `json:"group_name,omitempty"`
	GroupImage       string         `json:"group_image,omitempty"`
	GroupDescription string         `json:"group_description,omitempty"`
	InviteLink       string         `json:"invite_link,omitempty"`
	MembersSettings  MemberSettings `json:"members_settings,omitempty"`
	Members          []Member       `json:"members,omitempty"`
	IsMember         bool           `json:"is_member"`

	IsTyping      bool               `json:"isTyping"`
	IsTypingUsers map[UserID]UserRef `json:"isTypingUsers,omitempty"`
}

// Contact is one entry of the contact cache.
type Contact struct {
	ID           UserID `json:"id"`
	Name         string `json:"name"`
	LowerName    string `json:"lowerName"`
	ProfileImage string `json:"profile_image"`
	About        string `json:"about"`
}

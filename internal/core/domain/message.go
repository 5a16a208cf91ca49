package domain

import (
	"encoding/json"
	"time"
)

// MsgType is the content kind of a message.
type MsgType string

const (
	MsgText     MsgType = "text"
	MsgImage    MsgType = "image"
	MsgAudio    MsgType = "audio"
	MsgVideo    MsgType = "video"
	MsgLocation MsgType = "location"
	MsgDocument MsgType = "document"
	MsgPoll     MsgType = "poll"
	MsgFile     MsgType = "file"
	MsgSystem   MsgType = "system"
)

// ReadState is a single recipient's delivery state.
type ReadState string

const (
	StatePending   ReadState = "pending"
	StateSent      ReadState = "sent"
	StateDelivered ReadState = "delivered"
	StateRead      ReadState = "read"
	StateFailed    ReadState = "failed"
)

var readStateRank = map[ReadState]int{
	StatePending:   0,
	StateSent:      1,
	StateDelivered: 2,
	StateRead:      3,
}

// CanAdvance reports whether a transition from one read state to another is
// allowed. States only move forward (pending → sent → delivered → read) and
// failed absorbs everything.
func CanAdvance(from, to ReadState) bool {
	if from == StateFailed {
		return false
	}
	if to == StateFailed {
		return true
	}
	fromRank, ok := readStateRank[from]
	if !ok {
		return true
	}
	toRank, ok := readStateRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// RecipientStatus is one per-recipient entry of a group message's read status.
type RecipientStatus struct {
	ID         string    `json:"_id"`
	ReadStatus ReadState `json:"readStatus"`
}

// ReadStatus is either a scalar state (1:1 chats) or a per-recipient list
// (group chats). The wire carries a bare string for the former and an array
// for the latter.
type ReadStatus struct {
	Single     ReadState
	Recipients []RecipientStatus
}

func (r ReadStatus) IsGroup() bool { return r.Recipients != nil }

func (r *ReadStatus) UnmarshalJSON(data []byte) error {
	var single ReadState
	if err := json.Unmarshal(data, &single); err == nil {
		r.Single = single
		r.Recipients = nil
		return nil
	}
	var recipients []RecipientStatus
	if err := json.Unmarshal(data, &recipients); err != nil {
		return err
	}
	r.Single = ""
	r.Recipients = recipients
	return nil
}

func (r ReadStatus) MarshalJSON() ([]byte, error) {
	if r.IsGroup() {
		return json.Marshal(r.Recipients)
	}
	return json.Marshal(r.Single)
}

// Advance upgrades the scalar state if the transition is monotonic.
func (r *ReadStatus) Advance(to ReadState) bool {
	if r.IsGroup() || !CanAdvance(r.Single, to) {
		return false
	}
	r.Single = to
	return true
}

// Merge applies a server-supplied status onto the current one, keeping every
// transition monotonic. A group-shaped status merges per recipient, adding
// unknown recipients; downgrades are ignored.
func (r *ReadStatus) Merge(in ReadStatus) bool {
	if in.IsGroup() {
		if !r.IsGroup() {
			*r = in
			return true
		}
		changed := false
		for _, inc := range in.Recipients {
			found := false
			for i := range r.Recipients {
				if r.Recipients[i].ID != inc.ID {
					continue
				}
				found = true
				if CanAdvance(r.Recipients[i].ReadStatus, inc.ReadStatus) {
					r.Recipients[i].ReadStatus = inc.ReadStatus
					changed = true
				}
			}
			if !found {
				r.Recipients = append(r.Recipients, inc)
				changed = true
			}
		}
		return changed
	}
	if r.IsGroup() {
		return false
	}
	return r.Advance(in.Single)
}

// AdvanceRecipient upgrades one recipient's entry if the transition is
// monotonic. Returns false when the recipient is absent or already at or past
// the target state.
func (r *ReadStatus) AdvanceRecipient(userID string, to ReadState) bool {
	for i := range r.Recipients {
		if r.Recipients[i].ID != userID {
			continue
		}
		if !CanAdvance(r.Recipients[i].ReadStatus, to) {
			return false
		}
		r.Recipients[i].ReadStatus = to
		return true
	}
	return false
}

type SystemInfo struct {
	Action      string                 `json:"action"`
	TriggeredBy string                 `json:"triggeredBy"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

type PollOptionVote struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	ProfileImage string `json:"profile_image"`
	About        string `json:"about"`
	VotedAt      string `json:"votedAt"`
}

type PollOption struct {
	ID    string           `json:"id"`
	Text  string           `json:"text"`
	Votes []PollOptionVote `json:"votes"`
}

type Poll struct {
	ID        string       `json:"id"`
	Question  string       `json:"question"`
	Options   []PollOption `json:"options"`
	CreatedBy string       `json:"createdBy"`
	GroupID   string       `json:"group_id"`
	CreatedAt string       `json:"createdAt"`
}

// Message belongs to exactly one conversation.
type Message struct {
	ID         string           `json:"id"`
	Message    string           `json:"message"`
	SenderID   UserID           `json:"sender_id"`
	ReceiverID UserID           `json:"receiver_id"`
	Sender     UserRef          `json:"sender"`
	TabType    ConversationType `json:"tab_type"`
	Type       MsgType          `json:"type"`
	ReadStatus ReadStatus       `json:"readStatus"`
	Username   string           `json:"username,omitempty"`
	GroupName  string           `json:"group_name,omitempty"`
	SystemInfo *SystemInfo      `json:"systemInfo,omitempty"`
	Poll       *Poll            `json:"poll,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

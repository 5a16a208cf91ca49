package validation

import (
	"strings"
	"testing"

	"peerchat/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("u-42"))
	assert.NoError(t, ValidateUserID("alice_01"))

	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("has spaces"))
	assert.Error(t, ValidateUserID(domain.UserID(strings.Repeat("x", 101))))
}

func TestValidateChannelURL(t *testing.T) {
	assert.NoError(t, ValidateChannelURL("ws://localhost:4000/socket"))
	assert.NoError(t, ValidateChannelURL("wss://chat.example.com/socket"))

	assert.Error(t, ValidateChannelURL(""))
	assert.Error(t, ValidateChannelURL("http://chat.example.com"))
	assert.Error(t, ValidateChannelURL("wss://"))
}

func TestValidateSendMessage(t *testing.T) {
	valid := domain.SendMessageCmd{
		ReceiverID: "bob",
		Message:    "hello",
		TabType:    domain.ConversationUser,
	}
	assert.NoError(t, ValidateSendMessage(valid))

	cases := []struct {
		name   string
		mutate func(*domain.SendMessageCmd)
	}{
		{"missing receiver", func(c *domain.SendMessageCmd) { c.ReceiverID = "" }},
		{"bad tab type", func(c *domain.SendMessageCmd) { c.TabType = "broadcast" }},
		{"empty content", func(c *domain.SendMessageCmd) { c.Message = "   " }},
		{"oversized message", func(c *domain.SendMessageCmd) { c.Message = strings.Repeat("a", 4097) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := valid
			tc.mutate(&cmd)
			assert.Error(t, ValidateSendMessage(cmd))
		})
	}
}

func TestValidateSendMessageAttachmentOnly(t *testing.T) {
	cmd := domain.SendMessageCmd{
		ReceiverID:  "bob",
		Attachments: "photo.png",
		TabType:     domain.ConversationUser,
	}
	assert.NoError(t, ValidateSendMessage(cmd))
}

func TestValidatePoll(t *testing.T) {
	base := domain.SendMessageCmd{
		ReceiverID: "team",
		TabType:    domain.ConversationGroup,
		Poll: &domain.PollDraft{
			Question: "lunch?",
			Options:  []string{"pizza", "sushi"},
		},
	}
	assert.NoError(t, ValidateSendMessage(base))

	noQuestion := base
	noQuestion.Poll = &domain.PollDraft{Options: []string{"a", "b"}}
	assert.Error(t, ValidateSendMessage(noQuestion))

	oneOption := base
	oneOption.Poll = &domain.PollDraft{Question: "q", Options: []string{"only"}}
	assert.Error(t, ValidateSendMessage(oneOption))

	emptyOption := base
	emptyOption.Poll = &domain.PollDraft{Question: "q", Options: []string{"a", " "}}
	assert.Error(t, ValidateSendMessage(emptyOption))
}

package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"peerchat/internal/core/domain"
)

const (
	maxMessageLength     = 4096
	maxPollOptions       = 10
	maxPollOptionLength  = 100
	maxPollQuestionChars = 255
)

// UserIDRegex validates user id format.
var UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateUserID validates a user or group id.
func ValidateUserID(id domain.UserID) error {
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("user id is too long (max 100 characters)")
	}
	if !UserIDRegex.MatchString(string(id)) {
		return fmt.Errorf("invalid user id format")
	}
	return nil
}

// ValidateChannelURL validates the event channel endpoint.
func ValidateChannelURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("channel url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid channel url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("channel url must use ws or wss scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("channel url has no host")
	}
	return nil
}

// ValidateSendMessage validates an outgoing message before it is emitted.
func ValidateSendMessage(cmd domain.SendMessageCmd) error {
	if err := ValidateUserID(cmd.ReceiverID); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	if cmd.TabType != domain.ConversationUser && cmd.TabType != domain.ConversationGroup {
		return fmt.Errorf("invalid tab type %q", cmd.TabType)
	}

	message := strings.TrimSpace(cmd.Message)
	if message == "" && cmd.Attachments == "" && cmd.Poll == nil {
		return fmt.Errorf("message has no content")
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return fmt.Errorf("message is too long (max %d characters)", maxMessageLength)
	}

	if cmd.Poll != nil {
		if err := validatePoll(cmd.Poll); err != nil {
			return fmt.Errorf("poll: %w", err)
		}
	}
	return nil
}

func validatePoll(poll *domain.PollDraft) error {
	question := strings.TrimSpace(poll.Question)
	if question == "" {
		return fmt.Errorf("question is required")
	}
	if utf8.RuneCountInString(question) > maxPollQuestionChars {
		return fmt.Errorf("question is too long (max %d characters)", maxPollQuestionChars)
	}
	if len(poll.Options) < 2 {
		return fmt.Errorf("at least 2 options are required")
	}
	if len(poll.Options) > maxPollOptions {
		return fmt.Errorf("too many options (max %d)", maxPollOptions)
	}
	for i, option := range poll.Options {
		if strings.TrimSpace(option) == "" {
			return fmt.Errorf("option %d is empty", i+1)
		}
		if utf8.RuneCountInString(option) > maxPollOptionLength {
			return fmt.Errorf("option %d is too long (max %d characters)", i+1, maxPollOptionLength)
		}
	}
	return nil
}

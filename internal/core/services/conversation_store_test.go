package services

import (
	"testing"
	"time"

	"peerchat/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testTypingWindow = 25 * time.Millisecond

func newTestStore(t *testing.T) (*ConversationStore, *fakeChannel, *TypingRegistry) {
	t.Helper()
	channel := newFakeChannel()
	registry := NewTypingRegistry(testTypingWindow)
	store := NewConversationStore(
		channel,
		registry,
		domain.UserRef{ID: "me", Username: "me"},
		5*time.Millisecond,
		nil,
		zaptest.NewLogger(t).Sugar(),
	)
	store.Register()
	t.Cleanup(store.Close)
	return store, channel, registry
}

func boolPtr(b bool) *bool { return &b }

func openUserConversation(t *testing.T, ch *fakeChannel, peer domain.UserID, messages ...domain.Message) {
	t.Helper()
	ch.push(t, domain.EventUserConversation, domain.ConversationSnapshot{
		Profile:            &domain.Profile{ID: peer, Type: domain.ConversationUser, Username: string(peer)},
		ConversationsExist: true,
		Conversation:       &domain.ActiveConversation{ID: "conv-" + string(peer), Type: domain.ConversationUser},
		Messages:           messages,
	})
}

func openGroupConversation(t *testing.T, ch *fakeChannel, groupID domain.UserID, members []domain.Member, messages ...domain.Message) {
	t.Helper()
	ch.push(t, domain.EventUserConversation, domain.ConversationSnapshot{
		Profile:            &domain.Profile{ID: groupID, Type: domain.ConversationGroup, GroupName: string(groupID), Members: members},
		ConversationsExist: true,
		Conversation:       &domain.ActiveConversation{ID: "conv-" + string(groupID), Type: domain.ConversationGroup},
		Messages:           messages,
	})
}

func TestSnapshotReplacesActiveView(t *testing.T) {
	store, ch, _ := newTestStore(t)

	openUserConversation(t, ch, "bob",
		domain.Message{ID: "m1", Message: "hello", SenderID: "bob", ReceiverID: "me", TabType: domain.ConversationUser},
	)

	profile, ok := store.ActiveProfile()
	require.True(t, ok)
	assert.Equal(t, domain.UserID("bob"), profile.ID)
	require.Len(t, store.Messages(), 1)

	// a later snapshot replaces, not merges
	openUserConversation(t, ch, "carol",
		domain.Message{ID: "m9", SenderID: "carol", ReceiverID: "me", TabType: domain.ConversationUser},
	)
	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "m9", messages[0].ID)
}

func TestSnapshotWithoutConversationClearsView(t *testing.T) {
	store, ch, _ := newTestStore(t)
	openUserConversation(t, ch, "bob", domain.Message{ID: "m1"})

	ch.push(t, domain.EventUserConversation, domain.ConversationSnapshot{
		Profile:            &domain.Profile{ID: "carol", Type: domain.ConversationUser},
		ConversationsExist: false,
	})

	profile, ok := store.ActiveProfile()
	require.True(t, ok)
	assert.Equal(t, domain.UserID("carol"), profile.ID)
	assert.Empty(t, store.Messages())
}

func TestSnapshotDerivesGroupMembership(t *testing.T) {
	store, ch, _ := newTestStore(t)

	openGroupConversation(t, ch, "g1", []domain.Member{
		{ID: "me"}, {ID: "bob", IsAdmin: true},
	})
	profile, ok := store.ActiveProfile()
	require.True(t, ok)
	assert.True(t, profile.IsMember)

	openGroupConversation(t, ch, "g2", []domain.Member{{ID: "bob"}})
	profile, ok = store.ActiveProfile()
	require.True(t, ok)
	assert.False(t, profile.IsMember)
}

func TestIncomingMessageUpdatesListAndSchedulesAck(t *testing.T) {
	store, ch, _ := newTestStore(t)
	store.SeedConversations([]domain.Conversation{
		{ID: "c1", ReceiverID: "bob", Type: domain.ConversationUser},
		{ID: "c2", ReceiverID: "carol", Type: domain.ConversationUser, SentCount: 2},
	})

	ch.push(t, domain.EventNewMessage, domain.Message{
		ID: "m1", Message: "hi", SenderID: "bob", ReceiverID: "me",
		TabType: domain.ConversationUser, Type: domain.MsgText,
	})

	convs := store.Conversations()
	assert.Equal(t, 1, convs[0].SentCount)
	assert.Equal(t, "hi", convs[0].Message)
	assert.Equal(t, 2, convs[1].SentCount, "unrelated entries stay untouched")

	require.Eventually(t, func() bool {
		return len(ch.emitted(domain.CmdDelivered)) == 1
	}, time.Second, 2*time.Millisecond)
	ack := ch.emitted(domain.CmdDelivered)[0].payload.(domain.DeliveredCmd)
	assert.Equal(t, "m1", ack.ChatID)
	assert.Equal(t, domain.UserID("bob"), ack.ReceiverID)
	assert.Equal(t, domain.ConversationUser, ack.Type)
}

func TestOwnMessageUpdatesPreviewWithoutCountOrAck(t *testing.T) {
	store, ch, _ := newTestStore(t)
	store.SeedConversations([]domain.Conversation{
		{ID: "c1", ReceiverID: "bob", Type: domain.ConversationUser},
	})

	ch.push(t, domain.EventNewMessage, domain.Message{
		ID: "m1", Message: "sent by me", SenderID: "me", ReceiverID: "bob",
		TabType: domain.ConversationUser, Type: domain.MsgText,
	})

	convs := store.Conversations()
	assert.Equal(t, 0, convs[0].SentCount)
	assert.Equal(t, "sent by me", convs[0].Message)

	time.Sleep(25 * time.Millisecond)
	assert.Empty(t, ch.emitted(domain.CmdDelivered))
}

func TestMessageForOpenConversationAppendsWithoutAck(t *testing.T) {
	store, ch, _ := newTestStore(t)
	openUserConversation(t, ch, "bob")

	ch.push(t, domain.EventNewMessage, domain.Message{
		ID: "m1", SenderID: "bob", ReceiverID: "me",
		TabType: domain.ConversationUser, Type: domain.MsgText,
	})

	require.Len(t, store.Messages(), 1)
	time.Sleep(25 * time.Millisecond)
	assert.Empty(t, ch.emitted(domain.CmdDelivered), "open conversations are acked by the read flow, not here")
}

func TestGroupMessageCounting(t *testing.T) {
	store, ch, _ := newTestStore(t)
	store.SeedConversations([]domain.Conversation{
		{ID: "c1", ReceiverID: "g1", Type: domain.ConversationGroup},
	})
	openGroupConversation(t, ch, "g1", []domain.Member{{ID: "me"}})

	// someone else's message counts
	ch.push(t, domain.EventNewMessage, domain.Message{
		ID: "m1", Message: "from bob", SenderID: "bob", ReceiverID: "g1",
		TabType: domain.ConversationGroup, Type: domain.MsgText,
		Sender: domain.UserRef{ID: "bob", Username: "bob"},
	})
	convs := store.Conversations()
	assert.Equal(t, 1, convs[0].SentCount)
	assert.Equal(t, domain.UserID("bob"), convs[0].Sender.ID)

	// the local user's own message only refreshes the preview
	ch.push(t, domain.EventNewMessage, domain.Message{
		ID: "m2", Message: "from me", SenderID: "me", ReceiverID: "g1",
		TabType: domain.ConversationGroup, Type: domain.MsgText,
		Sender: domain.UserRef{ID: "me"},
	})
	convs = store.Conversations()
	assert.Equal(t, 1, convs[0].SentCount)
	assert.Equal(t, "from me", convs[0].Message)
}

func TestConversationCountIsAuthoritative(t *testing.T) {
	store, ch, _ := newTestStore(t)
	store.SeedConversations([]domain.Conversation{
		{ID: "c1", ReceiverID: "bob", Type: domain.ConversationUser, SentCount: 7},
	})

	ch.push(t, domain.EventUpdateConvCount, domain.ConversationCount{ConversationID: "c1", Count: 0})

	assert.Equal(t, 0, store.Conversations()[0].SentCount)
}

func TestDeleteMessagedOnlyTouchesOpenConversation(t *testing.T) {
	store, ch, _ := newTestStore(t)
	openUserConversation(t, ch, "bob",
		domain.Message{ID: "m1"}, domain.Message{ID: "m2"},
	)

	ch.push(t, domain.EventDeleteMessaged, domain.MessageDeleted{MessageID: "m1", ConversationID: "other-conv"})
	assert.Len(t, store.Messages(), 2)

	ch.push(t, domain.EventDeleteMessaged, domain.MessageDeleted{MessageID: "m1", ConversationID: "conv-bob"})
	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "m2", messages[0].ID)
}

func TestConversationDeleted(t *testing.T) {
	store, ch, _ := newTestStore(t)
	store.SeedConversations([]domain.Conversation{
		{ID: "conv-bob", ReceiverID: "bob", Type: domain.ConversationUser},
		{ID: "conv-carol", ReceiverID: "carol", Type: domain.ConversationUser},
	})
	openUserConversation(t, ch, "bob", domain.Message{ID: "m1"})

	ch.push(t, domain.EventConversationGone, domain.ConversationDeleted{ConversationID: "conv-bob"})

	convs := store.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "conv-carol", convs[0].ID)

	_, ok := store.ActiveProfile()
	assert.False(t, ok)
	assert.Empty(t, store.Messages())
}

func TestPollUpdatedGatedOnOwningGroup(t *testing.T) {
	store, ch, _ := newTestStore(t)
	openGroupConversation(t, ch, "g1", []domain.Member{{ID: "me"}},
		domain.Message{ID: "m1", Type: domain.MsgPoll, Poll: &domain.Poll{ID: "p1", Question: "old"}},
	)

	ch.push(t, domain.EventPollUpdated, domain.Poll{ID: "p1", GroupID: "g2", Question: "wrong group"})
	assert.Equal(t, "old", store.Messages()[0].Poll.Question)

	ch.push(t, domain.EventPollUpdated, domain.Poll{ID: "p1", GroupID: "g1", Question: "updated"})
	assert.Equal(t, "updated", store.Messages()[0].Poll.Question)
}

func TestReceiptsNeverDowngrade(t *testing.T) {
	store, ch, _ := newTestStore(t)
	openUserConversation(t, ch, "bob",
		domain.Message{ID: "m1", SenderID: "me", ReadStatus: domain.ReadStatus{Single: domain.StateRead}},
		domain.Message{ID: "m2", SenderID: "me", ReadStatus: domain.ReadStatus{Single: domain.StateSent}},
	)

	ch.push(t, domain.EventDelivered, domain.ReceiptUpdate{ID: "m1", ReadStatus: domain.ReadStatus{Single: domain.StateDelivered}})
	ch.push(t, domain.EventDelivered, domain.ReceiptUpdate{ID: "m2", ReadStatus: domain.ReadStatus{Single: domain.StateDelivered}})

	messages := store.Messages()
	assert.Equal(t, domain.StateRead, messages[0].ReadStatus.Single, "read never reverts to delivered")
	assert.Equal(t, domain.StateDelivered, messages[1].ReadStatus.Single)

	ch.push(t, domain.EventSeen, []domain.ReceiptUpdate{
		{ID: "m2", ReadStatus: domain.ReadStatus{Single: domain.StateRead}},
	})
	assert.Equal(t, domain.StateRead, store.Messages()[1].ReadStatus.Single)
}

func TestAllDeliveredGroupIsIdempotent(t *testing.T) {
	store, ch, _ := newTestStore(t)
	openGroupConversation(t, ch, "g1", []domain.Member{{ID: "me"}},
		domain.Message{ID: "m1", SenderID: "me", ReadStatus: domain.ReadStatus{Recipients: []domain.RecipientStatus{
			{ID: "u2", ReadStatus: domain.StateSent},
			{ID: "u3", ReadStatus: domain.StateRead},
		}}},
	)

	ev := domain.AllDelivered{ProfileID: "g1", UserID: "u2", Type: domain.ConversationGroup}
	ch.push(t, domain.EventAllDelivered, ev)
	ch.push(t, domain.EventAllDelivered, ev)

	status := store.Messages()[0].ReadStatus
	assert.Equal(t, domain.StateDelivered, status.Recipients[0].ReadStatus)
	assert.Equal(t, domain.StateRead, status.Recipients[1].ReadStatus, "other recipients untouched")
}

func TestAllDeliveredUserUpgradesOwnMessagesOnly(t *testing.T) {
	store, ch, _ := newTestStore(t)
	openUserConversation(t, ch, "bob",
		domain.Message{ID: "m1", SenderID: "me", ReadStatus: domain.ReadStatus{Single: domain.StateSent}},
		domain.Message{ID: "m2", SenderID: "bob", ReadStatus: domain.ReadStatus{Single: domain.StateSent}},
		domain.Message{ID: "m3", SenderID: "me", ReadStatus: domain.ReadStatus{Single: domain.StateRead}},
	)

	ch.push(t, domain.EventAllDelivered, domain.AllDelivered{ProfileID: "bob", UserID: "me", Type: domain.ConversationUser})

	messages := store.Messages()
	assert.Equal(t, domain.StateDelivered, messages[0].ReadStatus.Single)
	assert.Equal(t, domain.StateSent, messages[1].ReadStatus.Single)
	assert.Equal(t, domain.StateRead, messages[2].ReadStatus.Single)
}

func TestAllDeliveredForOtherConversationIgnored(t *testing.T) {
	store, ch, _ := newTestStore(t)
	openUserConversation(t, ch, "bob",
		domain.Message{ID: "m1", SenderID: "me", ReadStatus: domain.ReadStatus{Single: domain.StateSent}},
	)

	ch.push(t, domain.EventAllDelivered, domain.AllDelivered{ProfileID: "carol", UserID: "me", Type: domain.ConversationUser})

	assert.Equal(t, domain.StateSent, store.Messages()[0].ReadStatus.Single)
}

func TestContactsAndStatusesReplaceWholesale(t *testing.T) {
	store, ch, _ := newTestStore(t)

	ch.push(t, domain.EventContacts, []domain.Contact{{ID: "bob", Name: "Bob"}})
	require.Len(t, store.Contacts(), 1)

	ch.push(t, domain.EventContacts, []domain.Contact{{ID: "carol", Name: "Carol"}})
	contacts := store.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, domain.UserID("carol"), contacts[0].ID)

	ch.push(t, domain.EventStatuses, []domain.UserStatuses{
		{User: domain.UserRef{ID: "me"}, Statuses: []domain.Status{{ID: "s1"}}},
	})
	require.Len(t, store.Statuses(), 1)
}

func TestStatusViewedIsIdempotent(t *testing.T) {
	store, ch, _ := newTestStore(t)
	ch.push(t, domain.EventStatuses, []domain.UserStatuses{
		{User: domain.UserRef{ID: "me"}, Statuses: []domain.Status{{ID: "s1"}}},
		{User: domain.UserRef{ID: "bob"}, Statuses: []domain.Status{{ID: "s2"}}},
	})

	view := domain.StatusViewed{StatusID: "s1", Viewer: domain.StatusViewer{ID: "view-1", UserID: "bob"}}
	ch.push(t, domain.EventStatusViewed, view)
	ch.push(t, domain.EventStatusViewed, view)

	statuses := store.Statuses()
	own := statuses[0].Statuses[0]
	assert.Equal(t, 1, own.Views)
	require.Len(t, own.Viewers, 1)

	// views of the local user's own statuses by themselves are not recorded
	ch.push(t, domain.EventStatusViewed, domain.StatusViewed{
		StatusID: "s1", Viewer: domain.StatusViewer{ID: "view-2", UserID: "me"},
	})
	assert.Equal(t, 1, store.Statuses()[0].Statuses[0].Views)
}

func TestProfileDetailIgnoresStaleResponses(t *testing.T) {
	store, ch, _ := newTestStore(t)
	store.SelectProfile("bob", domain.ConversationUser)

	ch.push(t, domain.EventProfile, domain.Profile{ID: "carol", Type: domain.ConversationUser})
	_, ok := store.ProfileDetail()
	assert.False(t, ok)

	ch.push(t, domain.EventProfile, domain.Profile{ID: "bob", Type: domain.ConversationUser})
	detail, ok := store.ProfileDetail()
	require.True(t, ok)
	assert.Equal(t, domain.UserID("bob"), detail.ID)

	// a new selection abandons the old response
	store.SelectProfile("dave", domain.ConversationUser)
	ch.push(t, domain.EventProfile, domain.Profile{ID: "bob", Type: domain.ConversationUser})
	_, ok = store.ProfileDetail()
	assert.False(t, ok)
}

func TestUserTypingExpiresAfterWindow(t *testing.T) {
	store, ch, registry := newTestStore(t)
	store.SeedConversations([]domain.Conversation{
		{ID: "c1", ReceiverID: "bob", Type: domain.ConversationUser},
	})
	openUserConversation(t, ch, "bob")

	ch.push(t, domain.EventTyping, domain.TypingSignal{
		Typing: boolPtr(true), TabType: domain.ConversationUser,
		ReceiverID: "me", User: domain.UserRef{ID: "bob", Username: "bob"},
	})

	profile, _ := store.ActiveProfile()
	assert.True(t, profile.IsTyping)
	assert.True(t, store.Conversations()[0].IsTyping)
	assert.Equal(t, 1, registry.Len())

	require.Eventually(t, func() bool {
		profile, _ := store.ActiveProfile()
		return !profile.IsTyping && !store.Conversations()[0].IsTyping
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, registry.Len())
}

func TestTypingStopClearsImmediately(t *testing.T) {
	store, ch, registry := newTestStore(t)
	store.SeedConversations([]domain.Conversation{
		{ID: "c1", ReceiverID: "bob", Type: domain.ConversationUser},
	})

	ch.push(t, domain.EventTyping, domain.TypingSignal{
		Typing: boolPtr(true), TabType: domain.ConversationUser,
		ReceiverID: "me", User: domain.UserRef{ID: "bob"},
	})
	require.True(t, store.Conversations()[0].IsTyping)

	ch.push(t, domain.EventTyping, domain.TypingSignal{
		Typing: boolPtr(false), TabType: domain.ConversationUser,
		ReceiverID: "me", User: domain.UserRef{ID: "bob"},
	})
	assert.False(t, store.Conversations()[0].IsTyping)
	assert.Equal(t, 0, registry.Len())
}

func TestMissingTypingFlagMeansTyping(t *testing.T) {
	store, ch, _ := newTestStore(t)
	store.SeedConversations([]domain.Conversation{
		{ID: "c1", ReceiverID: "bob", Type: domain.ConversationUser},
	})

	ch.push(t, domain.EventTyping, domain.TypingSignal{
		TabType: domain.ConversationUser, ReceiverID: "me", User: domain.UserRef{ID: "bob"},
	})
	assert.True(t, store.Conversations()[0].IsTyping)
}

func TestGroupTypingTracksMembersIndependently(t *testing.T) {
	store, ch, _ := newTestStore(t)
	store.SeedConversations([]domain.Conversation{
		{ID: "c1", ReceiverID: "g1", Type: domain.ConversationGroup},
	})
	openGroupConversation(t, ch, "g1", []domain.Member{{ID: "me"}})

	ch.push(t, domain.EventTyping, domain.TypingSignal{
		Typing: boolPtr(true), TabType: domain.ConversationGroup,
		ReceiverID: "g1", User: domain.UserRef{ID: "bob", Username: "bob"},
	})
	ch.push(t, domain.EventTyping, domain.TypingSignal{
		Typing: boolPtr(true), TabType: domain.ConversationGroup,
		ReceiverID: "g1", User: domain.UserRef{ID: "carol", Username: "carol"},
	})

	profile, _ := store.ActiveProfile()
	assert.Len(t, profile.IsTypingUsers, 2)
	assert.Len(t, store.Conversations()[0].IsTypingUsers, 2)

	ch.push(t, domain.EventTyping, domain.TypingSignal{
		Typing: boolPtr(false), TabType: domain.ConversationGroup,
		ReceiverID: "g1", User: domain.UserRef{ID: "bob"},
	})
	profile, _ = store.ActiveProfile()
	require.Len(t, profile.IsTypingUsers, 1)
	_, carolStill := profile.IsTypingUsers["carol"]
	assert.True(t, carolStill)

	require.Eventually(t, func() bool {
		profile, _ := store.ActiveProfile()
		return len(profile.IsTypingUsers) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCommandsReachChannel(t *testing.T) {
	store, ch, _ := newTestStore(t)

	require.NoError(t, store.OpenConversation("bob", domain.ConversationUser))
	require.NoError(t, store.RequestContacts())
	require.NoError(t, store.RequestConversations())
	require.NoError(t, store.SendMessage(domain.SendMessageCmd{
		ReceiverID: "bob", Message: "hi", Type: domain.MsgText, TabType: domain.ConversationUser,
	}))

	open := ch.emitted(domain.CmdGetConversation)
	require.Len(t, open, 1)
	assert.Equal(t, "bob", open[0].payload.(domain.GetConversationCmd).ModuleID)
	assert.Len(t, ch.emitted(domain.CmdGetContacts), 1)
	assert.Len(t, ch.emitted(domain.CmdGetConversations), 1)
	assert.Len(t, ch.emitted(domain.CmdSendMessage), 1)
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	store, ch, _ := newTestStore(t)

	err := store.SendMessage(domain.SendMessageCmd{
		ReceiverID: "bob", Message: "   ", TabType: domain.ConversationUser,
	})
	require.ErrorIs(t, err, domain.ErrInvalidMessage)
	assert.Empty(t, ch.emitted(domain.CmdSendMessage))
}

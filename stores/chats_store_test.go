package stores

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestChatsStoreReturnsSameStorePerChat(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")

	if s.chatsStore.DirectChat("bob") != s.chatsStore.DirectChat("bob") {
		t.Fatalf("expected the same direct chat store per peer")
	}
	if s.chatsStore.GroupChat("group.1") != s.chatsStore.GroupChat("group.1") {
		t.Fatalf("expected the same group chat store per chat id")
	}
}

func TestAllChatsSummariesSortedByLastEvent(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	bobCode := ContactCode{DevicePubKey: "bob-dev-1", AgentId: "bob", InboxTopic: "t1", ShareIntent: ShareIntentAddContact}
	carolCode := ContactCode{DevicePubKey: "carol-dev-1", AgentId: "carol", InboxTopic: "t2", ShareIntent: ShareIntentAddContact}
	deviceGroup := DeviceGroupTopicFor("alice")
	s.client.appendAsAt(deviceGroup, "alice-dev-1", 1000000, &Payload{
		DeviceGroup: &DeviceGroupPayload{AddContact: &bobCode},
	})
	s.client.appendAsAt(deviceGroup, "alice-dev-1", 2000000, &Payload{
		DeviceGroup: &DeviceGroupPayload{AddContact: &carolCode},
	})

	// bob's chat has the most recent activity
	s.client.appendAsAt(DirectChatTopicFor("alice", "bob"), "bob-dev-1", 9000000, textPtrPayload("newest"))

	summaries, err := s.chatsStore.AllChatsSummaries().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(summaries), 2)
	assert.Equal(t, summaries[0].ChatId, "bob")
	assert.Equal(t, summaries[0].LastEvent.Summary, "newest")
	assert.Equal(t, summaries[1].ChatId, "carol")
}

func TestPendingRequestsAppearAsSummaries(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	code, err := s.contactsStore.CreateContactCode(ctx)
	assert.Equal(t, err, nil)
	plantRequest(s, code.InboxTopic, "dana", 5000000)

	summaries, err := s.chatsStore.AllChatsSummaries().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(summaries), 1)
	assert.Equal(t, summaries[0].Type, ChatSummaryTypeContactRequest)
	assert.Equal(t, summaries[0].ChatId, "dana")
	assert.Equal(t, summaries[0].Name, "dana")
	assert.Equal(t, summaries[0].LastEvent.Timestamp, int64(5000000))
}

func TestGroupChatIdsIncludeClientKnownGroups(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	// a group joined before the device-group logs were in reach, known
	// only to the client
	s.client.stateLock.Lock()
	s.client.groups = append(s.client.groups, "group.older")
	s.client.stateLock.Unlock()

	chatIds, err := s.chatsStore.GroupChatIds().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, chatIds, []ChatId{"group.older"})
}

func TestGroupSummaryAppearsAfterCreate(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	group, err := s.chatsStore.CreateGroup(ctx, "book club", nil)
	assert.Equal(t, err, nil)

	summaries, err := s.chatsStore.AllChatsSummaries().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(summaries), 1)
	assert.Equal(t, summaries[0].Type, ChatSummaryTypeGroupChat)
	assert.Equal(t, summaries[0].ChatId, group.ChatId())
	assert.Equal(t, summaries[0].Name, "book club")
}

package stores

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestProfileLatestTimestampWins(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	// delivery order differs from timestamp order
	for _, p := range []struct {
		timestamp int64
		name      string
	}{
		{5000000, "Bob"},
		{20000000, "Bobby"},
		{10000000, "Rob"},
	} {
		profile := Profile{Name: p.name}
		s.client.appendAsAt(PersonalTopicFor("bob"), "bob-dev-1", p.timestamp, &Payload{
			Announcements: &AnnouncementPayload{SetProfile: &profile},
		})
	}

	profile, err := s.contactsStore.Profiles("bob").Get(ctx)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, profile, nil)
	assert.Equal(t, profile.Name, "Bobby")
}

func TestProfileAbsentIsNilNotError(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	profile, err := s.contactsStore.Profiles("stranger").Get(ctx)
	assert.Equal(t, err, nil)
	if profile != nil {
		t.Fatalf("expected nil profile, got %+v", profile)
	}
}

func TestSetProfileResolvesAfterLocalWrite(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	err := s.contactsStore.SetProfile(ctx, Profile{Name: "Alice", Surname: "A"})
	assert.Equal(t, err, nil)

	profile, err := s.contactsStore.MyProfile().Get(ctx)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, profile, nil)
	assert.Equal(t, FullName(*profile), "Alice A")
}

func TestContactsFoldEarliestAddWins(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	deviceGroup := DeviceGroupTopicFor("alice")
	bobCode := ContactCode{DevicePubKey: "bob-dev-1", AgentId: "bob", InboxTopic: "t", ShareIntent: ShareIntentAddContact}

	// both of alice's devices added bob
	s.client.appendAsAt(deviceGroup, "alice-dev-2", 7000000, &Payload{
		DeviceGroup: &DeviceGroupPayload{AddContact: &bobCode},
	})
	s.client.appendAsAt(deviceGroup, "alice-dev-1", 9000000, &Payload{
		DeviceGroup: &DeviceGroupPayload{AddContact: &bobCode},
	})

	contacts, err := s.contactsStore.Contacts().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(contacts), 1)
	assert.Equal(t, contacts[0].AgentId, "bob")
	assert.Equal(t, contacts[0].AddedAt, int64(7000000))
}

func TestAddContactCommand(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	code := ContactCode{DevicePubKey: "bob-dev-1", AgentId: "bob", InboxTopic: "t", ShareIntent: ShareIntentAddContact}
	err := s.contactsStore.AddContact(ctx, code)
	assert.Equal(t, err, nil)

	contacts, err := s.contactsStore.Contacts().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(contacts), 1)
	assert.Equal(t, contacts[0].AgentId, "bob")
}

func TestProfilesForAllContactsSkipUnannounced(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	bobCode := ContactCode{DevicePubKey: "bob-dev-1", AgentId: "bob", InboxTopic: "t1", ShareIntent: ShareIntentAddContact}
	err := s.contactsStore.AddContact(ctx, bobCode)
	assert.Equal(t, err, nil)

	// carol never announced a profile and is left out of the list
	carolCode := ContactCode{DevicePubKey: "carol-dev-1", AgentId: "carol", InboxTopic: "t2", ShareIntent: ShareIntentAddContact}
	err = s.contactsStore.AddContact(ctx, carolCode)
	assert.Equal(t, err, nil)

	profile := Profile{Name: "Bob", Surname: "B"}
	s.client.appendAs(PersonalTopicFor("bob"), "bob-dev-1", &Payload{
		Announcements: &AnnouncementPayload{SetProfile: &profile},
	})

	profiles, err := s.contactsStore.ProfilesForAllContacts().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(profiles), 1)
	assert.Equal(t, profiles[0].AgentId, "bob")
	assert.Equal(t, FullName(profiles[0].Profile), "Bob B")
}

func plantRequest(s *testStores, inboxTopic TopicId, agentId AgentId, timestamp int64) {
	s.client.appendAsAt(inboxTopic, agentId+"-dev-1", timestamp, &Payload{
		Inbox: &InboxPayload{
			Contact: &ContactRequestPayload{
				Code: ContactCode{
					DevicePubKey: agentId + "-dev-1",
					AgentId:      agentId,
					InboxTopic:   inboxTopic,
					ShareIntent:  ShareIntentAddContact,
				},
				Profile: Profile{Name: agentId},
			},
		},
	})
}

func TestContactRequestsListPending(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	code, err := s.contactsStore.CreateContactCode(ctx)
	assert.Equal(t, err, nil)

	plantRequest(s, code.InboxTopic, "bob", 5000000)
	plantRequest(s, code.InboxTopic, "carol", 6000000)

	requests, err := s.contactsStore.ContactRequests().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(requests), 2)
	// most recent first
	assert.Equal(t, requests[0].Code.AgentId, "carol")
	assert.Equal(t, requests[1].Code.AgentId, "bob")
}

func TestContactRequestsExcludeAcceptedContacts(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	code, err := s.contactsStore.CreateContactCode(ctx)
	assert.Equal(t, err, nil)
	plantRequest(s, code.InboxTopic, "bob", 5000000)

	bobCode := ContactCode{DevicePubKey: "bob-dev-1", AgentId: "bob", InboxTopic: code.InboxTopic, ShareIntent: ShareIntentAddContact}
	err = s.contactsStore.AddContact(ctx, bobCode)
	assert.Equal(t, err, nil)

	requests, err := s.contactsStore.ContactRequests().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(requests), 0)
}

func TestRejectionSuppressesOnlyEarlierRequests(t *testing.T) {
	s := newTestStores("alice", "alice-dev-1")
	ctx := testCtx(t)

	code, err := s.contactsStore.CreateContactCode(ctx)
	assert.Equal(t, err, nil)
	plantRequest(s, code.InboxTopic, "bob", 5000000)

	s.client.appendAsAt(DeviceGroupTopicFor("alice"), "alice-dev-1", 8000000, &Payload{
		DeviceGroup: &DeviceGroupPayload{
			RejectContactRequest: &RejectContactRequest{AgentId: "bob"},
		},
	})

	requests, err := s.contactsStore.ContactRequests().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(requests), 0)

	// a fresh request after the rejection shows up again
	plantRequest(s, code.InboxTopic, "bob", 9000000)

	requests, err = s.contactsStore.ContactRequests().Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(requests), 1)
	assert.Equal(t, requests[0].Timestamp, int64(9000000))
}

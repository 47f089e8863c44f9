package stores

import (
	"context"
	"time"

	"golang.org/x/exp/slices"

	"github.com/darksoil-studio/dash-chat/reactive"
)

// Contact is an accepted contact, accumulated from AddContact operations
// on the device-group topic.
type Contact struct {
	AgentId AgentId
	// timestamp of the earliest AddContact operation for this agent
	AddedAt int64
}

// IncomingContactRequest is a pending request derived from an active inbox
// topic.
type IncomingContactRequest struct {
	// hash of the inbox operation carrying the request
	RequestId Hash
	Code      ContactCode
	Profile   Profile
	Timestamp int64
}

type ContactProfile struct {
	AgentId AgentId
	Profile Profile
}

type ContactsStore struct {
	logsStore    *LogsStore
	devicesStore *DevicesStore
	client       ContactsClient

	commandTimeout time.Duration

	myAgentId         *reactive.Cell[AgentId]
	myDeviceId        *reactive.Cell[DeviceId]
	profiles          *reactive.Cache[AgentId, *Profile]
	myProfile         *reactive.Cell[*Profile]
	contacts          *reactive.Cell[[]Contact]
	rejections        *reactive.Cell[map[AgentId]int64]
	activeInboxTopics *reactive.Cell[[]TopicId]
	contactRequests   *reactive.Cell[[]IncomingContactRequest]
	contactProfiles   *reactive.Cell[[]ContactProfile]
}

func NewContactsStore(logsStore *LogsStore, devicesStore *DevicesStore, client ContactsClient) *ContactsStore {
	self := &ContactsStore{
		logsStore:      logsStore,
		devicesStore:   devicesStore,
		client:         client,
		commandTimeout: logsStore.settings.FetchTimeout,
	}

	self.myAgentId = reactive.New(func(sc *reactive.Scope) (AgentId, error) {
		ctx, cancel := context.WithTimeout(context.Background(), self.commandTimeout)
		defer cancel()
		return client.MyAgentId(ctx)
	})

	self.myDeviceId = reactive.New(func(sc *reactive.Scope) (DeviceId, error) {
		ctx, cancel := context.WithTimeout(context.Background(), self.commandTimeout)
		defer cancel()
		return client.MyDeviceId(ctx)
	})

	self.profiles = reactive.NewCache(self.deriveProfile)

	self.myProfile = reactive.New(func(sc *reactive.Scope) (*Profile, error) {
		myAgentId, err := self.myAgentId.Await(sc)
		if err != nil {
			return nil, err
		}
		return self.profiles.Await(sc, myAgentId)
	})

	self.contacts = reactive.New(self.deriveContacts)
	self.rejections = reactive.New(self.deriveRejections)

	self.activeInboxTopics = reactive.New(func(sc *reactive.Scope) ([]TopicId, error) {
		ctx, cancel := context.WithTimeout(context.Background(), self.commandTimeout)
		defer cancel()
		return client.ActiveInboxTopics(ctx)
	})

	self.contactRequests = reactive.New(self.deriveContactRequests)
	self.contactProfiles = reactive.New(self.deriveContactProfiles)

	return self
}

func (self *ContactsStore) Client() ContactsClient {
	return self.client
}

func (self *ContactsStore) DevicesStore() *DevicesStore {
	return self.devicesStore
}

func (self *ContactsStore) MyAgentId() *reactive.Cell[AgentId] {
	return self.myAgentId
}

func (self *ContactsStore) MyDeviceId() *reactive.Cell[DeviceId] {
	return self.myDeviceId
}

// Profiles is the latest profile an identity announced, or nil when the
// identity never set one. Absence is a normal state, not an error.
func (self *ContactsStore) Profiles(agentId AgentId) *reactive.Cell[*Profile] {
	return self.profiles.Cell(agentId)
}

func (self *ContactsStore) AwaitProfile(sc *reactive.Scope, agentId AgentId) (*Profile, error) {
	return self.profiles.Await(sc, agentId)
}

func (self *ContactsStore) MyProfile() *reactive.Cell[*Profile] {
	return self.myProfile
}

func (self *ContactsStore) Contacts() *reactive.Cell[[]Contact] {
	return self.contacts
}

// ContactRequests is the pending request list: one request per agent, the
// most recent one, excluding accepted contacts and requests older than the
// agent's latest rejection.
func (self *ContactsStore) ContactRequests() *reactive.Cell[[]IncomingContactRequest] {
	return self.contactRequests
}

func (self *ContactsStore) ProfilesForAllContacts() *reactive.Cell[[]ContactProfile] {
	return self.contactProfiles
}

// ContactAddedTimestamp returns when the agent became a contact. Chat
// summaries fall back to it when a chat has no messages yet.
func (self *ContactsStore) ContactAddedTimestamp(sc *reactive.Scope, agentId AgentId) (int64, error) {
	contacts, err := self.contacts.Await(sc)
	if err != nil {
		return 0, err
	}
	for _, contact := range contacts {
		if contact.AgentId == agentId {
			return contact.AddedAt, nil
		}
	}
	return 0, nil
}

func (self *ContactsStore) deriveProfile(sc *reactive.Scope, agentId AgentId) (*Profile, error) {
	topicId := PersonalTopicFor(agentId)
	logs, err := self.logsStore.AwaitLogsForAllAuthors(sc, topicId)
	if err != nil {
		return nil, err
	}

	var profile *Profile
	var latestTimestamp int64
	var latestHash Hash
	for _, operations := range logs {
		for _, operation := range operations {
			body := operation.Body
			if body == nil || body.Announcements == nil || body.Announcements.SetProfile == nil {
				continue
			}
			later := operation.Header.Timestamp > latestTimestamp ||
				(operation.Header.Timestamp == latestTimestamp && operation.Hash > latestHash)
			if profile == nil || later {
				p := *body.Announcements.SetProfile
				profile = &p
				latestTimestamp = operation.Header.Timestamp
				latestHash = operation.Hash
			}
		}
	}
	return profile, nil
}

// deriveContacts folds every AddContact operation, from every author, in
// the device-group topic into a deduplicated set. Scan order does not
// matter.
func (self *ContactsStore) deriveContacts(sc *reactive.Scope) ([]Contact, error) {
	logs, err := self.devicesStore.MyDeviceGroupTopic().Await(sc)
	if err != nil {
		return nil, err
	}

	addedAt := map[AgentId]int64{}
	for _, operations := range logs {
		for _, operation := range operations {
			body := operation.Body
			if body == nil || body.DeviceGroup == nil || body.DeviceGroup.AddContact == nil {
				continue
			}
			agentId := body.DeviceGroup.AddContact.AgentId
			timestamp, ok := addedAt[agentId]
			if !ok || operation.Header.Timestamp < timestamp {
				addedAt[agentId] = operation.Header.Timestamp
			}
		}
	}

	contacts := []Contact{}
	for agentId, timestamp := range addedAt {
		contacts = append(contacts, Contact{
			AgentId: agentId,
			AddedAt: timestamp,
		})
	}
	slices.SortFunc(contacts, func(a Contact, b Contact) int {
		if a.AddedAt < b.AddedAt {
			return -1
		} else if b.AddedAt < a.AddedAt {
			return 1
		} else if a.AgentId < b.AgentId {
			return -1
		} else if b.AgentId < a.AgentId {
			return 1
		} else {
			return 0
		}
	})
	return contacts, nil
}

// deriveRejections keeps the latest rejection timestamp per agent. A
// rejection suppresses only requests made before it; a fresh request after
// the rejection reappears.
func (self *ContactsStore) deriveRejections(sc *reactive.Scope) (map[AgentId]int64, error) {
	logs, err := self.devicesStore.MyDeviceGroupTopic().Await(sc)
	if err != nil {
		return nil, err
	}

	rejections := map[AgentId]int64{}
	for _, operations := range logs {
		for _, operation := range operations {
			body := operation.Body
			if body == nil || body.DeviceGroup == nil || body.DeviceGroup.RejectContactRequest == nil {
				continue
			}
			agentId := body.DeviceGroup.RejectContactRequest.AgentId
			if rejections[agentId] < operation.Header.Timestamp {
				rejections[agentId] = operation.Header.Timestamp
			}
		}
	}
	return rejections, nil
}

func (self *ContactsStore) deriveContactRequests(sc *reactive.Scope) ([]IncomingContactRequest, error) {
	inboxTopics, err := self.activeInboxTopics.Await(sc)
	if err != nil {
		return nil, err
	}
	contacts, err := self.contacts.Await(sc)
	if err != nil {
		return nil, err
	}
	rejections, err := self.rejections.Await(sc)
	if err != nil {
		return nil, err
	}

	accepted := map[AgentId]struct{}{}
	for _, contact := range contacts {
		accepted[contact.AgentId] = struct{}{}
	}

	// latest request per agent
	latest := map[AgentId]IncomingContactRequest{}
	for _, topicId := range inboxTopics {
		logs, err := self.logsStore.AwaitLogsForAllAuthors(sc, topicId)
		if err != nil {
			return nil, err
		}
		for _, operations := range logs {
			for _, operation := range operations {
				body := operation.Body
				if body == nil || body.Inbox == nil || body.Inbox.Contact == nil {
					continue
				}
				request := IncomingContactRequest{
					RequestId: operation.Hash,
					Code:      body.Inbox.Contact.Code,
					Profile:   body.Inbox.Contact.Profile,
					Timestamp: operation.Header.Timestamp,
				}
				agentId := request.Code.AgentId
				existing, ok := latest[agentId]
				if !ok || existing.Timestamp < request.Timestamp {
					latest[agentId] = request
				}
			}
		}
	}

	requests := []IncomingContactRequest{}
	for agentId, request := range latest {
		if _, ok := accepted[agentId]; ok {
			continue
		}
		if rejectedAt, ok := rejections[agentId]; ok && request.Timestamp < rejectedAt {
			continue
		}
		requests = append(requests, request)
	}
	slices.SortFunc(requests, func(a IncomingContactRequest, b IncomingContactRequest) int {
		if b.Timestamp < a.Timestamp {
			return -1
		} else if a.Timestamp < b.Timestamp {
			return 1
		} else if a.RequestId < b.RequestId {
			return -1
		} else if b.RequestId < a.RequestId {
			return 1
		} else {
			return 0
		}
	})
	return requests, nil
}

func (self *ContactsStore) deriveContactProfiles(sc *reactive.Scope) ([]ContactProfile, error) {
	contacts, err := self.contacts.Await(sc)
	if err != nil {
		return nil, err
	}

	profiles := []ContactProfile{}
	for _, contact := range contacts {
		profile, err := self.profiles.Await(sc, contact.AgentId)
		if err != nil {
			return nil, err
		}
		if profile == nil {
			continue
		}
		profiles = append(profiles, ContactProfile{
			AgentId: contact.AgentId,
			Profile: *profile,
		})
	}
	return profiles, nil
}

/// Commands

// SetProfile announces a new profile and resolves once the resulting
// operation is observed on the personal topic, so reads immediately after
// see the new profile.
func (self *ContactsStore) SetProfile(ctx context.Context, profile Profile) error {
	myAgentId, err := self.myAgentId.Get(ctx)
	if err != nil {
		return err
	}
	myDeviceId, err := self.myDeviceId.Get(ctx)
	if err != nil {
		return err
	}
	topicId := PersonalTopicFor(myAgentId)

	waiter := NotifyOnOperation(self.logsStore.Client(), func(operationTopicId TopicId, operation Operation) bool {
		if operationTopicId != topicId {
			return false
		}
		if operation.Header.PublicKey != myDeviceId {
			return false
		}
		body := operation.Body
		return body != nil && body.Announcements != nil &&
			body.Announcements.SetProfile != nil &&
			*body.Announcements.SetProfile == profile
	})

	if err := self.client.SetProfile(ctx, profile); err != nil {
		waiter.Close()
		return err
	}
	_, err = waiter.Await(ctx)
	return err
}

// AddContact accepts a contact code and resolves once the AddContact
// operation is observed on the device-group topic.
func (self *ContactsStore) AddContact(ctx context.Context, code ContactCode) error {
	deviceGroupTopicId, err := self.devicesStore.MyDeviceGroupTopicId().Get(ctx)
	if err != nil {
		return err
	}

	waiter := NotifyOnOperation(self.logsStore.Client(), func(operationTopicId TopicId, operation Operation) bool {
		if operationTopicId != deviceGroupTopicId {
			return false
		}
		body := operation.Body
		return body != nil && body.DeviceGroup != nil &&
			body.DeviceGroup.AddContact != nil &&
			body.DeviceGroup.AddContact.AgentId == code.AgentId
	})

	if err := self.client.AddContact(ctx, code); err != nil {
		waiter.Close()
		return err
	}
	_, err = waiter.Await(ctx)
	return err
}

// RejectContactRequest suppresses pending requests from the agent. A fresh
// request sent after the rejection shows up again.
func (self *ContactsStore) RejectContactRequest(ctx context.Context, agentId AgentId) error {
	deviceGroupTopicId, err := self.devicesStore.MyDeviceGroupTopicId().Get(ctx)
	if err != nil {
		return err
	}

	waiter := NotifyOnOperation(self.logsStore.Client(), func(operationTopicId TopicId, operation Operation) bool {
		if operationTopicId != deviceGroupTopicId {
			return false
		}
		body := operation.Body
		return body != nil && body.DeviceGroup != nil &&
			body.DeviceGroup.RejectContactRequest != nil &&
			body.DeviceGroup.RejectContactRequest.AgentId == agentId
	})

	if err := self.client.RejectContactRequest(ctx, agentId); err != nil {
		waiter.Close()
		return err
	}
	_, err = waiter.Await(ctx)
	return err
}

// CreateContactCode mints a new shareable contact code.
func (self *ContactsStore) CreateContactCode(ctx context.Context) (ContactCode, error) {
	return self.client.CreateContactCode(ctx)
}

package stores

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// testClient is an in-memory substrate plus command host. Tests use
// appendAs to plant operations from arbitrary identities and the command
// methods to drive the stores the way the host process would.
type testClient struct {
	stateLock sync.Mutex

	publicKey PublicKey
	agentId   AgentId

	logs    map[TopicId]map[PublicKey][]Operation
	inboxes []TopicId
	groups  []ChatId

	callbacks *CallbackList[OperationFunc]

	clock   int64
	opCount int
}

func newTestClient(agentId AgentId, deviceId DeviceId) *testClient {
	return &testClient{
		publicKey: deviceId,
		agentId:   agentId,
		logs:      map[TopicId]map[PublicKey][]Operation{},
		callbacks: NewCallbackList[OperationFunc](),
		clock:     1000000,
	}
}

func (self *testClient) nextTimestamp() int64 {
	self.clock += 1000000
	return self.clock
}

// appendAs plants an operation authored by any identity, as if gossiped
// in, and notifies callbacks.
func (self *testClient) appendAs(topicId TopicId, author PublicKey, body *Payload) Operation {
	self.stateLock.Lock()
	timestamp := self.nextTimestamp()
	self.stateLock.Unlock()
	return self.appendAsAt(topicId, author, timestamp, body)
}

func (self *testClient) appendAsAt(topicId TopicId, author PublicKey, timestamp int64, body *Payload) Operation {
	self.stateLock.Lock()

	authorLogs, ok := self.logs[topicId]
	if !ok {
		authorLogs = map[PublicKey][]Operation{}
		self.logs[topicId] = authorLogs
	}
	log := authorLogs[author]

	header := Header{
		PublicKey: author,
		Timestamp: timestamp,
		SeqNum:    uint64(len(log)),
		Previous:  []Hash{},
	}
	if 0 < len(log) {
		header.Backlink = log[len(log)-1].Hash
	}
	self.opCount += 1
	operation := Operation{
		Hash:   fmt.Sprintf("op-%04d", self.opCount),
		Header: header,
		Body:   body,
	}
	authorLogs[author] = append(log, operation)
	self.stateLock.Unlock()

	for _, callback := range self.callbacks.Get() {
		callback(topicId, operation)
	}
	return operation
}

// renotify redelivers an operation already in the store, as gossip can.
func (self *testClient) renotify(topicId TopicId, operation Operation) {
	for _, callback := range self.callbacks.Get() {
		callback(topicId, operation)
	}
}

/// LogsClient

func (self *testClient) MyPublicKey(ctx context.Context) (PublicKey, error) {
	return self.publicKey, nil
}

func (self *testClient) GetAuthorsForTopic(ctx context.Context, topicId TopicId) ([]PublicKey, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	authors := maps.Keys(self.logs[topicId])
	slices.Sort(authors)
	return authors, nil
}

func (self *testClient) GetLog(ctx context.Context, topicId TopicId, author PublicKey) ([]Operation, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.logs[topicId][author]), nil
}

func (self *testClient) Append(ctx context.Context, topicId TopicId, body *Payload) (Operation, error) {
	return self.appendAs(topicId, self.publicKey, body), nil
}

func (self *testClient) AddOperationCallback(callback OperationFunc) func() {
	return self.callbacks.Add(callback)
}

/// ContactsClient

func (self *testClient) MyAgentId(ctx context.Context) (AgentId, error) {
	return self.agentId, nil
}

func (self *testClient) MyDeviceId(ctx context.Context) (DeviceId, error) {
	return self.publicKey, nil
}

func (self *testClient) SetProfile(ctx context.Context, profile Profile) error {
	self.appendAs(PersonalTopicFor(self.agentId), self.publicKey, &Payload{
		Announcements: &AnnouncementPayload{SetProfile: &profile},
	})
	return nil
}

func (self *testClient) CreateContactCode(ctx context.Context) (ContactCode, error) {
	self.stateLock.Lock()
	inboxTopic := InboxTopicFor(self.agentId, fmt.Sprintf("nonce-%d", len(self.inboxes)))
	self.inboxes = append(self.inboxes, inboxTopic)
	self.stateLock.Unlock()

	return ContactCode{
		DevicePubKey: self.publicKey,
		AgentId:      self.agentId,
		InboxTopic:   inboxTopic,
		ShareIntent:  ShareIntentAddContact,
	}, nil
}

func (self *testClient) ActiveInboxTopics(ctx context.Context) ([]TopicId, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.inboxes), nil
}

func (self *testClient) AddContact(ctx context.Context, code ContactCode) error {
	self.appendAs(DeviceGroupTopicFor(self.agentId), self.publicKey, &Payload{
		DeviceGroup: &DeviceGroupPayload{AddContact: &code},
	})
	return nil
}

func (self *testClient) RejectContactRequest(ctx context.Context, agentId AgentId) error {
	self.appendAs(DeviceGroupTopicFor(self.agentId), self.publicKey, &Payload{
		DeviceGroup: &DeviceGroupPayload{
			RejectContactRequest: &RejectContactRequest{AgentId: agentId},
		},
	})
	return nil
}

/// DevicesClient

func (self *testClient) MyDeviceGroupTopicId(ctx context.Context) (TopicId, error) {
	return DeviceGroupTopicFor(self.agentId), nil
}

/// ChatsClient

func (self *testClient) CreateGroupChat(ctx context.Context, chatId ChatId, name string, initialMembers []AgentId) error {
	self.appendAs(chatId, self.publicKey, &Payload{
		Chat: &ChatPayload{AddMember: &MemberChange{AgentId: self.agentId}},
	})
	for _, member := range initialMembers {
		self.appendAs(chatId, self.publicKey, &Payload{
			Chat: &ChatPayload{AddMember: &MemberChange{AgentId: member}},
		})
	}
	if name != "" {
		self.appendAs(chatId, self.publicKey, &Payload{
			Chat: &ChatPayload{GroupInfo: &GroupInfo{Name: name}},
		})
	}

	self.stateLock.Lock()
	self.groups = append(self.groups, chatId)
	self.stateLock.Unlock()

	self.appendAs(DeviceGroupTopicFor(self.agentId), self.publicKey, &Payload{
		DeviceGroup: &DeviceGroupPayload{JoinGroup: &GroupRef{ChatId: chatId}},
	})
	return nil
}

func (self *testClient) GetGroups(ctx context.Context) ([]ChatId, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.groups), nil
}

func (self *testClient) DirectChat() DirectChatClient {
	return self
}

func (self *testClient) GroupChat() GroupChatClient {
	return self
}

/// DirectChatClient

func (self *testClient) ChatId(ctx context.Context, peer AgentId) (ChatId, error) {
	return DirectChatTopicFor(self.agentId, peer), nil
}

func (self *testClient) SendMessage(ctx context.Context, chatId ChatId, content MessageContent) error {
	self.appendAs(chatId, self.publicKey, &Payload{
		Chat: &ChatPayload{Message: &content},
	})
	return nil
}

func (self *testClient) MarkMessagesRead(ctx context.Context, chatId ChatId, messageHashes []Hash) error {
	self.appendAs(DeviceGroupTopicFor(self.agentId), self.publicKey, &Payload{
		Chat: &ChatPayload{
			ReadMessages: &MessageReceipt{
				ChatId:        chatId,
				MessageHashes: messageHashes,
			},
		},
	})
	return nil
}

/// GroupChatClient

func (self *testClient) AddMember(ctx context.Context, chatId ChatId, member AgentId) error {
	self.appendAs(chatId, self.publicKey, &Payload{
		Chat: &ChatPayload{AddMember: &MemberChange{AgentId: member}},
	})
	return nil
}

func (self *testClient) RemoveMember(ctx context.Context, chatId ChatId, member AgentId) error {
	self.appendAs(chatId, self.publicKey, &Payload{
		Chat: &ChatPayload{RemoveMember: &MemberChange{AgentId: member}},
	})
	return nil
}

func (self *testClient) SetGroupInfo(ctx context.Context, chatId ChatId, info GroupInfo) error {
	self.appendAs(chatId, self.publicKey, &Payload{
		Chat: &ChatPayload{GroupInfo: &info},
	})
	return nil
}

// testStores wires the full store stack over one testClient.
type testStores struct {
	client        *testClient
	logsStore     *LogsStore
	devicesStore  *DevicesStore
	contactsStore *ContactsStore
	chatsStore    *ChatsStore
}

func newTestStores(agentId AgentId, deviceId DeviceId) *testStores {
	client := newTestClient(agentId, deviceId)
	logsStore := NewLogsStore(client)
	devicesStore := NewDevicesStore(logsStore, client)
	contactsStore := NewContactsStore(logsStore, devicesStore, client)
	chatsStore := NewChatsStore(logsStore, contactsStore, client)
	return &testStores{
		client:        client,
		logsStore:     logsStore,
		devicesStore:  devicesStore,
		contactsStore: contactsStore,
		chatsStore:    chatsStore,
	}
}

package stores

import (
	"context"

	"github.com/darksoil-studio/dash-chat/reactive"
)

// DirectChatStore derives the state of one 1:1 chat with a peer agent.
type DirectChatStore struct {
	logsStore     *LogsStore
	contactsStore *ContactsStore
	client        DirectChatClient
	peer          AgentId

	chatId         *reactive.Cell[ChatId]
	peerProfile    *reactive.Cell[*Profile]
	contactRequest *reactive.Cell[*IncomingContactRequest]
	messages       *reactive.Cell[map[Hash]Message]
	messageSets    *reactive.Cell[[]EventSetsInDay[Message]]
	lastMessage    *reactive.Cell[*Message]
	readHashes     *reactive.Cell[map[Hash]struct{}]
	unreadCount    *reactive.Cell[int]
	summary        *reactive.Cell[ChatSummary]
}

func NewDirectChatStore(
	logsStore *LogsStore,
	contactsStore *ContactsStore,
	client DirectChatClient,
	peer AgentId,
) *DirectChatStore {
	self := &DirectChatStore{
		logsStore:     logsStore,
		contactsStore: contactsStore,
		client:        client,
		peer:          peer,
	}

	self.chatId = reactive.New(func(sc *reactive.Scope) (ChatId, error) {
		ctx, cancel := context.WithTimeout(context.Background(), logsStore.settings.FetchTimeout)
		defer cancel()
		return client.ChatId(ctx, peer)
	})

	self.contactRequest = reactive.New(func(sc *reactive.Scope) (*IncomingContactRequest, error) {
		requests, err := contactsStore.ContactRequests().Await(sc)
		if err != nil {
			return nil, err
		}
		for i := range requests {
			if requests[i].Code.AgentId == peer {
				return &requests[i], nil
			}
		}
		return nil, nil
	})

	self.peerProfile = reactive.New(func(sc *reactive.Scope) (*Profile, error) {
		request, err := self.contactRequest.Await(sc)
		if err != nil {
			return nil, err
		}
		if request != nil {
			profile := request.Profile
			return &profile, nil
		}
		return contactsStore.AwaitProfile(sc, peer)
	})

	self.messages = reactive.New(func(sc *reactive.Scope) (map[Hash]Message, error) {
		chatId, err := self.chatId.Await(sc)
		if err != nil {
			return nil, err
		}
		logs, err := logsStore.AwaitLogsForAllAuthors(sc, chatId)
		if err != nil {
			return nil, err
		}
		return foldMessages(logs), nil
	})

	self.messageSets = reactive.New(func(sc *reactive.Scope) ([]EventSetsInDay[Message], error) {
		messages, err := self.messages.Await(sc)
		if err != nil {
			return nil, err
		}
		return messageEventSets(messages), nil
	})

	self.lastMessage = reactive.New(func(sc *reactive.Scope) (*Message, error) {
		messages, err := self.messages.Await(sc)
		if err != nil {
			return nil, err
		}
		return lastMessageOf(messages), nil
	})

	self.readHashes = reactive.New(func(sc *reactive.Scope) (map[Hash]struct{}, error) {
		chatId, err := self.chatId.Await(sc)
		if err != nil {
			return nil, err
		}
		deviceGroupLogs, err := contactsStore.DevicesStore().MyDeviceGroupTopic().Await(sc)
		if err != nil {
			return nil, err
		}
		return foldReadHashes(deviceGroupLogs, chatId), nil
	})

	self.unreadCount = reactive.New(func(sc *reactive.Scope) (int, error) {
		messages, err := self.messages.Await(sc)
		if err != nil {
			return 0, err
		}
		readHashes, err := self.readHashes.Await(sc)
		if err != nil {
			return 0, err
		}
		myDeviceId, err := contactsStore.MyDeviceId().Await(sc)
		if err != nil {
			return 0, err
		}
		return unreadCountOf(messages, readHashes, myDeviceId), nil
	})

	self.summary = reactive.New(self.deriveSummary)

	return self
}

func (self *DirectChatStore) Peer() AgentId {
	return self.peer
}

func (self *DirectChatStore) ChatId() *reactive.Cell[ChatId] {
	return self.chatId
}

// PeerProfile prefers the profile attached to a pending contact request,
// falling back to the peer's announced profile.
func (self *DirectChatStore) PeerProfile() *reactive.Cell[*Profile] {
	return self.peerProfile
}

func (self *DirectChatStore) Messages() *reactive.Cell[map[Hash]Message] {
	return self.messages
}

// MessageSets is the day-bucketed, run-grouped shape of Messages.
func (self *DirectChatStore) MessageSets() *reactive.Cell[[]EventSetsInDay[Message]] {
	return self.messageSets
}

func (self *DirectChatStore) LastMessage() *reactive.Cell[*Message] {
	return self.lastMessage
}

func (self *DirectChatStore) UnreadCount() *reactive.Cell[int] {
	return self.unreadCount
}

func (self *DirectChatStore) Summary() *reactive.Cell[ChatSummary] {
	return self.summary
}

func (self *DirectChatStore) deriveSummary(sc *reactive.Scope) (ChatSummary, error) {
	profile, err := self.peerProfile.Await(sc)
	if err != nil {
		return ChatSummary{}, err
	}
	lastMessage, err := self.lastMessage.Await(sc)
	if err != nil {
		return ChatSummary{}, err
	}
	unreadCount, err := self.unreadCount.Await(sc)
	if err != nil {
		return ChatSummary{}, err
	}

	var lastEvent LastEvent
	if lastMessage != nil {
		lastEvent = LastEvent{
			Summary:   lastMessage.Content.Message,
			Timestamp: lastMessage.Timestamp,
		}
	} else {
		addedAt, err := self.contactsStore.ContactAddedTimestamp(sc, self.peer)
		if err != nil {
			return ChatSummary{}, err
		}
		lastEvent = LastEvent{
			Summary:   "contact added",
			Timestamp: addedAt,
		}
	}

	name := self.peer
	avatar := ""
	if profile != nil {
		name = FullName(*profile)
		avatar = profile.Avatar
	}

	return ChatSummary{
		Type:           ChatSummaryTypeDirectChat,
		ChatId:         self.peer,
		Name:           name,
		Avatar:         avatar,
		LastEvent:      lastEvent,
		UnreadMessages: unreadCount,
	}, nil
}

// OnNewMessage invokes the handler for every message operation observed on
// this chat's topic. The returned function unsubscribes.
func (self *DirectChatStore) OnNewMessage(ctx context.Context, handler func(operation Operation, content MessageContent)) (func(), error) {
	chatId, err := self.chatId.Get(ctx)
	if err != nil {
		return nil, err
	}
	remove := self.logsStore.Client().AddOperationCallback(func(topicId TopicId, operation Operation) {
		if topicId != chatId {
			return
		}
		body := operation.Body
		if body == nil || body.Chat == nil || body.Chat.Message == nil {
			return
		}
		handler(operation, *body.Chat.Message)
	})
	return remove, nil
}

/// Commands

// SendMessage sends a message and resolves once the local log store
// reflects the write, so derived state read right after includes it.
func (self *DirectChatStore) SendMessage(ctx context.Context, content MessageContent) error {
	chatId, err := self.chatId.Get(ctx)
	if err != nil {
		return err
	}
	myDeviceId, err := self.contactsStore.MyDeviceId().Get(ctx)
	if err != nil {
		return err
	}

	waiter := NotifyOnOperation(self.logsStore.Client(), func(operationTopicId TopicId, operation Operation) bool {
		if operationTopicId != chatId {
			return false
		}
		if operation.Header.PublicKey != myDeviceId {
			return false
		}
		body := operation.Body
		return body != nil && body.Chat != nil &&
			body.Chat.Message != nil &&
			*body.Chat.Message == content
	})

	if err := self.client.SendMessage(ctx, chatId, content); err != nil {
		waiter.Close()
		return err
	}
	_, err = waiter.Await(ctx)
	return err
}

// MarkAsRead records the hashes as read on the device-group topic.
func (self *DirectChatStore) MarkAsRead(ctx context.Context, messageHashes []Hash) error {
	chatId, err := self.chatId.Get(ctx)
	if err != nil {
		return err
	}
	return self.client.MarkMessagesRead(ctx, chatId, messageHashes)
}

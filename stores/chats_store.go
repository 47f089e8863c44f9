package stores

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/darksoil-studio/dash-chat/reactive"
)

type ChatSummaryType string

const (
	ChatSummaryTypeDirectChat     ChatSummaryType = "DirectChat"
	ChatSummaryTypeGroupChat      ChatSummaryType = "GroupChat"
	ChatSummaryTypeContactRequest ChatSummaryType = "ContactRequest"
)

type LastEvent struct {
	Summary   string
	Timestamp int64
}

// ChatSummary is one row of the chat overview list.
type ChatSummary struct {
	Type           ChatSummaryType
	ChatId         ChatId
	Name           string
	Avatar         string
	LastEvent      LastEvent
	UnreadMessages int
}

// ChatsStore is the root of per-chat state. It hands out one store per
// chat, caching them so repeated lookups observe the same cells, and
// derives the merged overview list across direct chats, group chats and
// pending contact requests.
type ChatsStore struct {
	logsStore     *LogsStore
	contactsStore *ContactsStore
	client        ChatsClient

	stateLock        sync.Mutex
	directChatStores map[AgentId]*DirectChatStore
	groupChatStores  map[ChatId]*GroupChatStore

	groupChatIds *reactive.Cell[[]ChatId]
	summaries    *reactive.Cell[[]ChatSummary]
}

func NewChatsStore(logsStore *LogsStore, contactsStore *ContactsStore, client ChatsClient) *ChatsStore {
	self := &ChatsStore{
		logsStore:        logsStore,
		contactsStore:    contactsStore,
		client:           client,
		directChatStores: map[AgentId]*DirectChatStore{},
		groupChatStores:  map[ChatId]*GroupChatStore{},
	}

	// joined groups fold out of the device-group logs, so a join on any of
	// the user's devices shows up here. groups the client already knows
	// about, joined before these logs were in reach, are merged in.
	self.groupChatIds = reactive.New(func(sc *reactive.Scope) ([]ChatId, error) {
		logs, err := contactsStore.DevicesStore().MyDeviceGroupTopic().Await(sc)
		if err != nil {
			return nil, err
		}
		joined := map[ChatId]struct{}{}
		for _, operations := range logs {
			for _, operation := range operations {
				body := operation.Body
				if body == nil || body.DeviceGroup == nil || body.DeviceGroup.JoinGroup == nil {
					continue
				}
				joined[body.DeviceGroup.JoinGroup.ChatId] = struct{}{}
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), logsStore.settings.FetchTimeout)
		defer cancel()
		known, err := client.GetGroups(ctx)
		if err != nil {
			return nil, err
		}
		for _, chatId := range known {
			joined[chatId] = struct{}{}
		}
		chatIds := maps.Keys(joined)
		slices.Sort(chatIds)
		return chatIds, nil
	})

	self.summaries = reactive.New(self.deriveSummaries)

	return self
}

func (self *ChatsStore) Client() ChatsClient {
	return self.client
}

func (self *ChatsStore) ContactsStore() *ContactsStore {
	return self.contactsStore
}

// DirectChat returns the store for the 1:1 chat with the given agent.
// The same store is returned for repeated calls with the same agent.
func (self *ChatsStore) DirectChat(peer AgentId) *DirectChatStore {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	store, ok := self.directChatStores[peer]
	if !ok {
		store = NewDirectChatStore(self.logsStore, self.contactsStore, self.client.DirectChat(), peer)
		self.directChatStores[peer] = store
	}
	return store
}

// GroupChat returns the store for the given group chat.
func (self *ChatsStore) GroupChat(chatId ChatId) *GroupChatStore {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	store, ok := self.groupChatStores[chatId]
	if !ok {
		store = NewGroupChatStore(self.logsStore, self.contactsStore, self.client.GroupChat(), chatId)
		self.groupChatStores[chatId] = store
	}
	return store
}

func (self *ChatsStore) GroupChatIds() *reactive.Cell[[]ChatId] {
	return self.groupChatIds
}

// AllChatsSummaries is the overview list: one summary per contact's
// direct chat, one per joined group chat, and one pseudo-summary per
// pending contact request, sorted by last event, most recent first.
func (self *ChatsStore) AllChatsSummaries() *reactive.Cell[[]ChatSummary] {
	return self.summaries
}

func (self *ChatsStore) deriveSummaries(sc *reactive.Scope) ([]ChatSummary, error) {
	contacts, err := self.contactsStore.Contacts().Await(sc)
	if err != nil {
		return nil, err
	}
	groupChatIds, err := self.groupChatIds.Await(sc)
	if err != nil {
		return nil, err
	}
	requests, err := self.contactsStore.ContactRequests().Await(sc)
	if err != nil {
		return nil, err
	}

	summaries := []ChatSummary{}

	for _, contact := range contacts {
		summary, err := self.DirectChat(contact.AgentId).Summary().Await(sc)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	for _, chatId := range groupChatIds {
		summary, err := self.GroupChat(chatId).Summary().Await(sc)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	for _, request := range requests {
		summaries = append(summaries, ChatSummary{
			Type:   ChatSummaryTypeContactRequest,
			ChatId: request.Code.AgentId,
			Name:   FullName(request.Profile),
			Avatar: request.Profile.Avatar,
			LastEvent: LastEvent{
				Summary:   "wants to connect",
				Timestamp: request.Timestamp,
			},
			UnreadMessages: 1,
		})
	}

	slices.SortFunc(summaries, func(a ChatSummary, b ChatSummary) int {
		if b.LastEvent.Timestamp < a.LastEvent.Timestamp {
			return -1
		} else if a.LastEvent.Timestamp < b.LastEvent.Timestamp {
			return 1
		} else if a.ChatId < b.ChatId {
			return -1
		} else if b.ChatId < a.ChatId {
			return 1
		} else {
			return 0
		}
	})

	return summaries, nil
}

/// Commands

// CreateGroup creates a new group chat with the given members and
// resolves to its store once the join is visible locally.
func (self *ChatsStore) CreateGroup(ctx context.Context, name string, initialMembers []AgentId) (*GroupChatStore, error) {
	chatId := ChatId(fmt.Sprintf("group.%s", ulid.Make().String()))

	myDeviceId, err := self.contactsStore.MyDeviceId().Get(ctx)
	if err != nil {
		return nil, err
	}
	deviceGroupTopicId, err := self.contactsStore.DevicesStore().MyDeviceGroupTopicId().Get(ctx)
	if err != nil {
		return nil, err
	}

	waiter := NotifyOnOperation(self.logsStore.Client(), func(topicId TopicId, operation Operation) bool {
		if topicId != deviceGroupTopicId {
			return false
		}
		if operation.Header.PublicKey != myDeviceId {
			return false
		}
		body := operation.Body
		return body != nil && body.DeviceGroup != nil &&
			body.DeviceGroup.JoinGroup != nil &&
			body.DeviceGroup.JoinGroup.ChatId == chatId
	})

	if err := self.client.CreateGroupChat(ctx, chatId, name, initialMembers); err != nil {
		waiter.Close()
		return nil, err
	}
	if _, err := waiter.Await(ctx); err != nil {
		return nil, err
	}

	return self.GroupChat(chatId), nil
}

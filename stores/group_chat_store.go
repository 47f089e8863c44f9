package stores

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/darksoil-studio/dash-chat/reactive"
)

// GroupMember is one current member of a group chat, with whatever
// profile they have announced on their personal topic.
type GroupMember struct {
	AgentId AgentId
	Profile *Profile
	Admin   bool
}

// GroupChatStore derives the state of one group chat topic.
type GroupChatStore struct {
	logsStore     *LogsStore
	contactsStore *ContactsStore
	client        GroupChatClient
	chatId        ChatId

	logs        *reactive.Cell[map[PublicKey][]Operation]
	info        *reactive.Cell[GroupInfo]
	memberIds   *reactive.Cell[[]AgentId]
	members     *reactive.Cell[[]GroupMember]
	messages    *reactive.Cell[map[Hash]Message]
	messageSets *reactive.Cell[[]EventSetsInDay[Message]]
	lastMessage *reactive.Cell[*Message]
	readHashes  *reactive.Cell[map[Hash]struct{}]
	unreadCount *reactive.Cell[int]
	summary     *reactive.Cell[ChatSummary]
}

func NewGroupChatStore(
	logsStore *LogsStore,
	contactsStore *ContactsStore,
	client GroupChatClient,
	chatId ChatId,
) *GroupChatStore {
	self := &GroupChatStore{
		logsStore:     logsStore,
		contactsStore: contactsStore,
		client:        client,
		chatId:        chatId,
	}

	self.logs = reactive.New(func(sc *reactive.Scope) (map[PublicKey][]Operation, error) {
		return logsStore.AwaitLogsForAllAuthors(sc, chatId)
	})

	self.info = reactive.New(self.deriveInfo)
	self.memberIds = reactive.New(self.deriveMemberIds)
	self.members = reactive.New(self.deriveMembers)

	self.messages = reactive.New(func(sc *reactive.Scope) (map[Hash]Message, error) {
		logs, err := self.logs.Await(sc)
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

func (self *GroupChatStore) ChatId() ChatId {
	return self.chatId
}

func (self *GroupChatStore) Info() *reactive.Cell[GroupInfo] {
	return self.info
}

func (self *GroupChatStore) MemberIds() *reactive.Cell[[]AgentId] {
	return self.memberIds
}

// Members resolves each current member id to their announced profile.
func (self *GroupChatStore) Members() *reactive.Cell[[]GroupMember] {
	return self.members
}

func (self *GroupChatStore) Messages() *reactive.Cell[map[Hash]Message] {
	return self.messages
}

func (self *GroupChatStore) MessageSets() *reactive.Cell[[]EventSetsInDay[Message]] {
	return self.messageSets
}

func (self *GroupChatStore) LastMessage() *reactive.Cell[*Message] {
	return self.lastMessage
}

func (self *GroupChatStore) UnreadCount() *reactive.Cell[int] {
	return self.unreadCount
}

func (self *GroupChatStore) Summary() *reactive.Cell[ChatSummary] {
	return self.summary
}

// deriveInfo picks the most recent GroupInfo. Before anyone has set one,
// the group is named after a prefix of its chat id.
func (self *GroupChatStore) deriveInfo(sc *reactive.Scope) (GroupInfo, error) {
	logs, err := self.logs.Await(sc)
	if err != nil {
		return GroupInfo{}, err
	}

	var info *GroupInfo
	var infoTimestamp int64
	var infoHash Hash
	for _, operations := range logs {
		for _, operation := range operations {
			body := operation.Body
			if body == nil || body.Chat == nil || body.Chat.GroupInfo == nil {
				continue
			}
			later := info == nil ||
				infoTimestamp < operation.Header.Timestamp ||
				(infoTimestamp == operation.Header.Timestamp && infoHash < operation.Hash)
			if later {
				info = body.Chat.GroupInfo
				infoTimestamp = operation.Header.Timestamp
				infoHash = operation.Hash
			}
		}
	}
	if info != nil {
		return *info, nil
	}

	name := string(self.chatId)
	if 8 < len(name) {
		name = name[:8]
	}
	return GroupInfo{Name: fmt.Sprintf("group %s", name)}, nil
}

// deriveMemberIds folds AddMember and RemoveMember by timestamp: a member
// is current when their latest membership change is an add. The author of
// the earliest AddMember is the group's creator.
func (self *GroupChatStore) deriveMemberIds(sc *reactive.Scope) ([]AgentId, error) {
	logs, err := self.logs.Await(sc)
	if err != nil {
		return nil, err
	}

	type membership struct {
		timestamp int64
		hash      Hash
		member    bool
	}
	latest := map[AgentId]membership{}

	record := func(agentId AgentId, operation Operation, member bool) {
		current, ok := latest[agentId]
		later := !ok ||
			current.timestamp < operation.Header.Timestamp ||
			(current.timestamp == operation.Header.Timestamp && current.hash < operation.Hash)
		if later {
			latest[agentId] = membership{
				timestamp: operation.Header.Timestamp,
				hash:      operation.Hash,
				member:    member,
			}
		}
	}

	for _, operations := range logs {
		for _, operation := range operations {
			body := operation.Body
			if body == nil || body.Chat == nil {
				continue
			}
			if body.Chat.AddMember != nil {
				record(body.Chat.AddMember.AgentId, operation, true)
			}
			if body.Chat.RemoveMember != nil {
				record(body.Chat.RemoveMember.AgentId, operation, false)
			}
		}
	}

	memberIds := []AgentId{}
	for agentId, state := range latest {
		if state.member {
			memberIds = append(memberIds, agentId)
		}
	}
	slices.Sort(memberIds)
	return memberIds, nil
}

func (self *GroupChatStore) deriveMembers(sc *reactive.Scope) ([]GroupMember, error) {
	memberIds, err := self.memberIds.Await(sc)
	if err != nil {
		return nil, err
	}
	creator, err := self.creator(sc)
	if err != nil {
		return nil, err
	}

	members := []GroupMember{}
	for _, agentId := range memberIds {
		profile, err := self.contactsStore.AwaitProfile(sc, agentId)
		if err != nil {
			return nil, err
		}
		members = append(members, GroupMember{
			AgentId: agentId,
			Profile: profile,
			Admin:   agentId == creator,
		})
	}
	return members, nil
}

func (self *GroupChatStore) creator(sc *reactive.Scope) (AgentId, error) {
	logs, err := self.logs.Await(sc)
	if err != nil {
		return "", err
	}

	var creator AgentId
	var creatorTimestamp int64
	var creatorHash Hash
	found := false
	for _, operations := range logs {
		for _, operation := range operations {
			body := operation.Body
			if body == nil || body.Chat == nil || body.Chat.AddMember == nil {
				continue
			}
			earlier := !found ||
				operation.Header.Timestamp < creatorTimestamp ||
				(operation.Header.Timestamp == creatorTimestamp && operation.Hash < creatorHash)
			if earlier {
				creator = body.Chat.AddMember.AgentId
				creatorTimestamp = operation.Header.Timestamp
				creatorHash = operation.Hash
				found = true
			}
		}
	}
	return creator, nil
}

func (self *GroupChatStore) deriveSummary(sc *reactive.Scope) (ChatSummary, error) {
	info, err := self.info.Await(sc)
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
		logs, err := self.logs.Await(sc)
		if err != nil {
			return ChatSummary{}, err
		}
		var earliest int64
		found := false
		for _, operations := range logs {
			for _, operation := range operations {
				if !found || operation.Header.Timestamp < earliest {
					earliest = operation.Header.Timestamp
					found = true
				}
			}
		}
		lastEvent = LastEvent{
			Summary:   "group created",
			Timestamp: earliest,
		}
	}

	return ChatSummary{
		Type:           ChatSummaryTypeGroupChat,
		ChatId:         self.chatId,
		Name:           info.Name,
		Avatar:         info.Avatar,
		LastEvent:      lastEvent,
		UnreadMessages: unreadCount,
	}, nil
}

/// Commands

func (self *GroupChatStore) awaitOwnChatOperation(ctx context.Context, match func(payload *ChatPayload) bool) (*OperationWaiter, error) {
	myDeviceId, err := self.contactsStore.MyDeviceId().Get(ctx)
	if err != nil {
		return nil, err
	}
	return NotifyOnOperation(self.logsStore.Client(), func(topicId TopicId, operation Operation) bool {
		if topicId != self.chatId {
			return false
		}
		if operation.Header.PublicKey != myDeviceId {
			return false
		}
		body := operation.Body
		return body != nil && body.Chat != nil && match(body.Chat)
	}), nil
}

func (self *GroupChatStore) AddMember(ctx context.Context, member AgentId) error {
	waiter, err := self.awaitOwnChatOperation(ctx, func(payload *ChatPayload) bool {
		return payload.AddMember != nil && payload.AddMember.AgentId == member
	})
	if err != nil {
		return err
	}
	if err := self.client.AddMember(ctx, self.chatId, member); err != nil {
		waiter.Close()
		return err
	}
	_, err = waiter.Await(ctx)
	return err
}

func (self *GroupChatStore) RemoveMember(ctx context.Context, member AgentId) error {
	waiter, err := self.awaitOwnChatOperation(ctx, func(payload *ChatPayload) bool {
		return payload.RemoveMember != nil && payload.RemoveMember.AgentId == member
	})
	if err != nil {
		return err
	}
	if err := self.client.RemoveMember(ctx, self.chatId, member); err != nil {
		waiter.Close()
		return err
	}
	_, err = waiter.Await(ctx)
	return err
}

func (self *GroupChatStore) SetGroupInfo(ctx context.Context, info GroupInfo) error {
	waiter, err := self.awaitOwnChatOperation(ctx, func(payload *ChatPayload) bool {
		return payload.GroupInfo != nil && *payload.GroupInfo == info
	})
	if err != nil {
		return err
	}
	if err := self.client.SetGroupInfo(ctx, self.chatId, info); err != nil {
		waiter.Close()
		return err
	}
	_, err = waiter.Await(ctx)
	return err
}

func (self *GroupChatStore) SendMessage(ctx context.Context, content MessageContent) error {
	waiter, err := self.awaitOwnChatOperation(ctx, func(payload *ChatPayload) bool {
		return payload.Message != nil && *payload.Message == content
	})
	if err != nil {
		return err
	}
	if err := self.client.SendMessage(ctx, self.chatId, content); err != nil {
		waiter.Close()
		return err
	}
	_, err = waiter.Await(ctx)
	return err
}

func (self *GroupChatStore) MarkAsRead(ctx context.Context, messageHashes []Hash) error {
	return self.client.MarkMessagesRead(ctx, self.chatId, messageHashes)
}

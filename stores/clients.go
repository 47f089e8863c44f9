package stores

import (
	"context"
)

// Command clients are thin wrappers over the host process commands. The
// stores call them and then wait for the resulting operation to show up in
// the log store; the clients themselves carry no derivation logic.

type ContactsClient interface {
	MyAgentId(ctx context.Context) (AgentId, error)
	MyDeviceId(ctx context.Context) (DeviceId, error)
	SetProfile(ctx context.Context, profile Profile) error
	CreateContactCode(ctx context.Context) (ContactCode, error)
	ActiveInboxTopics(ctx context.Context) ([]TopicId, error)
	AddContact(ctx context.Context, code ContactCode) error
	RejectContactRequest(ctx context.Context, agentId AgentId) error
}

type DevicesClient interface {
	MyDeviceGroupTopicId(ctx context.Context) (TopicId, error)
}

type ChatsClient interface {
	CreateGroupChat(ctx context.Context, chatId ChatId, name string, initialMembers []AgentId) error
	GetGroups(ctx context.Context) ([]ChatId, error)
	DirectChat() DirectChatClient
	GroupChat() GroupChatClient
}

type DirectChatClient interface {
	ChatId(ctx context.Context, peer AgentId) (ChatId, error)
	SendMessage(ctx context.Context, chatId ChatId, content MessageContent) error
	MarkMessagesRead(ctx context.Context, chatId ChatId, messageHashes []Hash) error
}

type GroupChatClient interface {
	AddMember(ctx context.Context, chatId ChatId, member AgentId) error
	RemoveMember(ctx context.Context, chatId ChatId, member AgentId) error
	SetGroupInfo(ctx context.Context, chatId ChatId, info GroupInfo) error
	SendMessage(ctx context.Context, chatId ChatId, content MessageContent) error
	MarkMessagesRead(ctx context.Context, chatId ChatId, messageHashes []Hash) error
}

package local

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/oklog/ulid/v2"

	"github.com/darksoil-studio/dash-chat/stores"
)

// The command clients all resolve to this client: every command is an
// append to the right topic, with bookkeeping keys for the few things
// derivations cannot recover from logs alone (active inbox topics,
// joined groups).

func inboxKey(topicId stores.TopicId) []byte {
	return []byte(fmt.Sprintf("inbox/%s", topicId))
}

func groupKey(chatId stores.ChatId) []byte {
	return []byte(fmt.Sprintf("group/%s", chatId))
}

/// ContactsClient

func (self *Client) MyAgentId(ctx context.Context) (stores.AgentId, error) {
	return self.agentId, nil
}

func (self *Client) MyDeviceId(ctx context.Context) (stores.DeviceId, error) {
	return self.publicKey, nil
}

func (self *Client) SetProfile(ctx context.Context, profile stores.Profile) error {
	_, err := self.Append(ctx, stores.PersonalTopicFor(self.agentId), &stores.Payload{
		Announcements: &stores.AnnouncementPayload{
			SetProfile: &profile,
		},
	})
	return err
}

// CreateContactCode mints a fresh inbox topic and starts listening on it.
func (self *Client) CreateContactCode(ctx context.Context) (stores.ContactCode, error) {
	inboxTopic := stores.InboxTopicFor(self.agentId, ulid.Make().String())
	if err := self.db.Set(inboxKey(inboxTopic), []byte{}, pebble.Sync); err != nil {
		return stores.ContactCode{}, err
	}
	return stores.ContactCode{
		DevicePubKey: self.publicKey,
		AgentId:      self.agentId,
		InboxTopic:   inboxTopic,
		ShareIntent:  stores.ShareIntentAddContact,
	}, nil
}

func (self *Client) ActiveInboxTopics(ctx context.Context) ([]stores.TopicId, error) {
	return self.scanSuffixes([]byte("inbox/"))
}

// AddContact records the contact on the device group and replies on the
// code's inbox topic with a reciprocal code, so the other side learns
// about us without a prior relationship.
func (self *Client) AddContact(ctx context.Context, code stores.ContactCode) error {
	if _, err := self.Append(ctx, stores.DeviceGroupTopicFor(self.agentId), &stores.Payload{
		DeviceGroup: &stores.DeviceGroupPayload{
			AddContact: &code,
		},
	}); err != nil {
		return err
	}

	profile, err := self.myProfile(ctx)
	if err != nil {
		return err
	}
	replyCode := stores.ContactCode{
		DevicePubKey: self.publicKey,
		AgentId:      self.agentId,
		InboxTopic:   code.InboxTopic,
		ShareIntent:  stores.ShareIntentAddContact,
	}
	_, err = self.Append(ctx, code.InboxTopic, &stores.Payload{
		Inbox: &stores.InboxPayload{
			Contact: &stores.ContactRequestPayload{
				Code:    replyCode,
				Profile: profile,
			},
		},
	})
	return err
}

func (self *Client) RejectContactRequest(ctx context.Context, agentId stores.AgentId) error {
	_, err := self.Append(ctx, stores.DeviceGroupTopicFor(self.agentId), &stores.Payload{
		DeviceGroup: &stores.DeviceGroupPayload{
			RejectContactRequest: &stores.RejectContactRequest{
				AgentId: agentId,
			},
		},
	})
	return err
}

func (self *Client) myProfile(ctx context.Context) (stores.Profile, error) {
	operations, err := self.GetLog(ctx, stores.PersonalTopicFor(self.agentId), self.publicKey)
	if err != nil {
		return stores.Profile{}, err
	}
	profile := stores.Profile{}
	for _, operation := range operations {
		body := operation.Body
		if body != nil && body.Announcements != nil && body.Announcements.SetProfile != nil {
			profile = *body.Announcements.SetProfile
		}
	}
	return profile, nil
}

/// DevicesClient

func (self *Client) MyDeviceGroupTopicId(ctx context.Context) (stores.TopicId, error) {
	return stores.DeviceGroupTopicFor(self.agentId), nil
}

/// ChatsClient

func (self *Client) CreateGroupChat(ctx context.Context, chatId stores.ChatId, name string, initialMembers []stores.AgentId) error {
	if _, err := self.Append(ctx, chatId, &stores.Payload{
		Chat: &stores.ChatPayload{
			AddMember: &stores.MemberChange{AgentId: self.agentId},
		},
	}); err != nil {
		return err
	}
	for _, member := range initialMembers {
		if _, err := self.Append(ctx, chatId, &stores.Payload{
			Chat: &stores.ChatPayload{
				AddMember: &stores.MemberChange{AgentId: member},
			},
		}); err != nil {
			return err
		}
	}
	if name != "" {
		if _, err := self.Append(ctx, chatId, &stores.Payload{
			Chat: &stores.ChatPayload{
				GroupInfo: &stores.GroupInfo{Name: name},
			},
		}); err != nil {
			return err
		}
	}

	if err := self.db.Set(groupKey(chatId), []byte{}, pebble.Sync); err != nil {
		return err
	}
	_, err := self.Append(ctx, stores.DeviceGroupTopicFor(self.agentId), &stores.Payload{
		DeviceGroup: &stores.DeviceGroupPayload{
			JoinGroup: &stores.GroupRef{ChatId: chatId},
		},
	})
	return err
}

func (self *Client) GetGroups(ctx context.Context) ([]stores.ChatId, error) {
	return self.scanSuffixes([]byte("group/"))
}

func (self *Client) DirectChat() stores.DirectChatClient {
	return self
}

func (self *Client) GroupChat() stores.GroupChatClient {
	return self
}

/// DirectChatClient

func (self *Client) ChatId(ctx context.Context, peer stores.AgentId) (stores.ChatId, error) {
	return stores.DirectChatTopicFor(self.agentId, peer), nil
}

func (self *Client) SendMessage(ctx context.Context, chatId stores.ChatId, content stores.MessageContent) error {
	_, err := self.Append(ctx, chatId, &stores.Payload{
		Chat: &stores.ChatPayload{
			Message: &content,
		},
	})
	return err
}

// MarkMessagesRead records the receipt on the device group topic, so the
// read state is shared across the user's devices but stays private.
func (self *Client) MarkMessagesRead(ctx context.Context, chatId stores.ChatId, messageHashes []stores.Hash) error {
	_, err := self.Append(ctx, stores.DeviceGroupTopicFor(self.agentId), &stores.Payload{
		Chat: &stores.ChatPayload{
			ReadMessages: &stores.MessageReceipt{
				ChatId:        chatId,
				MessageHashes: messageHashes,
			},
		},
	})
	return err
}

/// GroupChatClient

func (self *Client) AddMember(ctx context.Context, chatId stores.ChatId, member stores.AgentId) error {
	_, err := self.Append(ctx, chatId, &stores.Payload{
		Chat: &stores.ChatPayload{
			AddMember: &stores.MemberChange{AgentId: member},
		},
	})
	return err
}

func (self *Client) RemoveMember(ctx context.Context, chatId stores.ChatId, member stores.AgentId) error {
	_, err := self.Append(ctx, chatId, &stores.Payload{
		Chat: &stores.ChatPayload{
			RemoveMember: &stores.MemberChange{AgentId: member},
		},
	})
	return err
}

func (self *Client) SetGroupInfo(ctx context.Context, chatId stores.ChatId, info stores.GroupInfo) error {
	_, err := self.Append(ctx, chatId, &stores.Payload{
		Chat: &stores.ChatPayload{
			GroupInfo: &info,
		},
	})
	return err
}

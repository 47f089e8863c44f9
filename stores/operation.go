package stores

import (
	"encoding/json"
	"fmt"
)

// Identifiers on the log substrate. Public keys and hashes travel as hex
// strings, matching the substrate's wire encoding.
type TopicId = string
type PublicKey = string
type DeviceId = PublicKey
type AgentId = string
type Hash = string
type ChatId = string

// Operation is one immutable entry in an author's append-only log.
type Operation struct {
	Hash   Hash     `json:"hash"`
	Header Header   `json:"header"`
	Body   *Payload `json:"body,omitempty"`
}

type Header struct {
	// Author of this operation.
	PublicKey PublicKey `json:"public_key"`
	// Time in microseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
	// Number of operations this author has published to this log. Begins
	// with 0 and increments by 1 with each new operation by the same author.
	SeqNum uint64 `json:"seq_num"`
	// Hash of the previous operation of the same author and log. Empty for
	// the first operation in a log.
	Backlink Hash `json:"backlink,omitempty"`
	// Hashes of causally preceding operations by other authors. May be
	// empty when no partial ordering is required.
	Previous []Hash `json:"previous"`
}

// Payload is the tagged operation body. Exactly one variant is set.
type Payload struct {
	Announcements *AnnouncementPayload
	Chat          *ChatPayload
	DeviceGroup   *DeviceGroupPayload
	Inbox         *InboxPayload
}

const (
	payloadTypeAnnouncements = "Announcements"
	payloadTypeChat          = "Chat"
	payloadTypeDeviceGroup   = "DeviceGroupPayload"
	payloadTypeInbox         = "Inbox"
)

// AnnouncementPayload carries data pushed out to all contacts.
type AnnouncementPayload struct {
	SetProfile *Profile
}

// ChatPayload carries events on a chat topic.
type ChatPayload struct {
	Message          *MessageContent
	Reaction         *Reaction
	ReadMessages     *MessageReceipt
	ReceivedMessages *MessageReceipt
	AddMember        *MemberChange
	RemoveMember     *MemberChange
	GroupInfo        *GroupInfo
}

// DeviceGroupPayload carries mutations private to the user's own device
// group.
type DeviceGroupPayload struct {
	AddContact           *ContactCode
	RejectContactRequest *RejectContactRequest
	JoinGroup            *GroupRef
}

// InboxPayload carries data sent to someone who is not yet a contact.
type InboxPayload struct {
	Contact *ContactRequestPayload
}

type Profile struct {
	Name    string `json:"name"`
	Surname string `json:"surname,omitempty"`
	Avatar  string `json:"avatar,omitempty"`
}

// FullName renders a profile as "name" or "name surname".
func FullName(profile Profile) string {
	if profile.Surname == "" {
		return profile.Name
	}
	return fmt.Sprintf("%s %s", profile.Name, profile.Surname)
}

type MessageContent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	ReplyTo Hash   `json:"reply_to,omitempty"`
}

const MessageContentTypeText = "TextMessage"

func TextMessage(message string) MessageContent {
	return MessageContent{
		Type:    MessageContentTypeText,
		Message: message,
	}
}

// Reaction sets or clears the author's reaction on a message. An empty
// emoji clears it.
type Reaction struct {
	MessageHash Hash   `json:"message_hash"`
	Emoji       string `json:"emoji"`
}

// MessageReceipt marks message hashes as read or received for a chat.
type MessageReceipt struct {
	ChatId        ChatId `json:"chat_id"`
	MessageHashes []Hash `json:"message_hashes"`
}

type MemberChange struct {
	AgentId AgentId `json:"agent_id"`
}

type GroupInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

type RejectContactRequest struct {
	AgentId AgentId `json:"agent_id"`
}

type GroupRef struct {
	ChatId ChatId `json:"chat_id"`
}

type ContactRequestPayload struct {
	Code    ContactCode `json:"code"`
	Profile Profile     `json:"profile"`
}

// The wire shape of a payload is {"type": <tag>, "payload": <inner>} with
// nested unions encoded the same way. Round-trips field for field.

type taggedPayload struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func marshalTagged(tag string, payload any) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedPayload{
		Type:    tag,
		Payload: inner,
	})
}

func (self Payload) MarshalJSON() ([]byte, error) {
	switch {
	case self.Announcements != nil:
		return marshalTagged(payloadTypeAnnouncements, self.Announcements)
	case self.Chat != nil:
		return marshalTagged(payloadTypeChat, self.Chat)
	case self.DeviceGroup != nil:
		return marshalTagged(payloadTypeDeviceGroup, self.DeviceGroup)
	case self.Inbox != nil:
		return marshalTagged(payloadTypeInbox, self.Inbox)
	}
	return nil, fmt.Errorf("payload has no variant set")
}

func (self *Payload) UnmarshalJSON(data []byte) error {
	var tagged taggedPayload
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	*self = Payload{}
	switch tagged.Type {
	case payloadTypeAnnouncements:
		self.Announcements = &AnnouncementPayload{}
		return json.Unmarshal(tagged.Payload, self.Announcements)
	case payloadTypeChat:
		self.Chat = &ChatPayload{}
		return json.Unmarshal(tagged.Payload, self.Chat)
	case payloadTypeDeviceGroup:
		self.DeviceGroup = &DeviceGroupPayload{}
		return json.Unmarshal(tagged.Payload, self.DeviceGroup)
	case payloadTypeInbox:
		self.Inbox = &InboxPayload{}
		return json.Unmarshal(tagged.Payload, self.Inbox)
	}
	return fmt.Errorf("unknown payload type: %s", tagged.Type)
}

func (self AnnouncementPayload) MarshalJSON() ([]byte, error) {
	switch {
	case self.SetProfile != nil:
		return marshalTagged("SetProfile", self.SetProfile)
	}
	return nil, fmt.Errorf("announcement payload has no variant set")
}

func (self *AnnouncementPayload) UnmarshalJSON(data []byte) error {
	var tagged taggedPayload
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	*self = AnnouncementPayload{}
	switch tagged.Type {
	case "SetProfile":
		self.SetProfile = &Profile{}
		return json.Unmarshal(tagged.Payload, self.SetProfile)
	}
	return fmt.Errorf("unknown announcement payload type: %s", tagged.Type)
}

func (self ChatPayload) MarshalJSON() ([]byte, error) {
	switch {
	case self.Message != nil:
		return marshalTagged("Message", self.Message)
	case self.Reaction != nil:
		return marshalTagged("Reaction", self.Reaction)
	case self.ReadMessages != nil:
		return marshalTagged("ReadMessages", self.ReadMessages)
	case self.ReceivedMessages != nil:
		return marshalTagged("ReceivedMessages", self.ReceivedMessages)
	case self.AddMember != nil:
		return marshalTagged("AddMember", self.AddMember)
	case self.RemoveMember != nil:
		return marshalTagged("RemoveMember", self.RemoveMember)
	case self.GroupInfo != nil:
		return marshalTagged("GroupInfo", self.GroupInfo)
	}
	return nil, fmt.Errorf("chat payload has no variant set")
}

func (self *ChatPayload) UnmarshalJSON(data []byte) error {
	var tagged taggedPayload
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	*self = ChatPayload{}
	switch tagged.Type {
	case "Message":
		self.Message = &MessageContent{}
		return json.Unmarshal(tagged.Payload, self.Message)
	case "Reaction":
		self.Reaction = &Reaction{}
		return json.Unmarshal(tagged.Payload, self.Reaction)
	case "ReadMessages":
		self.ReadMessages = &MessageReceipt{}
		return json.Unmarshal(tagged.Payload, self.ReadMessages)
	case "ReceivedMessages":
		self.ReceivedMessages = &MessageReceipt{}
		return json.Unmarshal(tagged.Payload, self.ReceivedMessages)
	case "AddMember":
		self.AddMember = &MemberChange{}
		return json.Unmarshal(tagged.Payload, self.AddMember)
	case "RemoveMember":
		self.RemoveMember = &MemberChange{}
		return json.Unmarshal(tagged.Payload, self.RemoveMember)
	case "GroupInfo":
		self.GroupInfo = &GroupInfo{}
		return json.Unmarshal(tagged.Payload, self.GroupInfo)
	}
	return fmt.Errorf("unknown chat payload type: %s", tagged.Type)
}

func (self DeviceGroupPayload) MarshalJSON() ([]byte, error) {
	switch {
	case self.AddContact != nil:
		return marshalTagged("AddContact", self.AddContact)
	case self.RejectContactRequest != nil:
		return marshalTagged("RejectContactRequest", self.RejectContactRequest)
	case self.JoinGroup != nil:
		return marshalTagged("JoinGroup", self.JoinGroup)
	}
	return nil, fmt.Errorf("device group payload has no variant set")
}

func (self *DeviceGroupPayload) UnmarshalJSON(data []byte) error {
	var tagged taggedPayload
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	*self = DeviceGroupPayload{}
	switch tagged.Type {
	case "AddContact":
		self.AddContact = &ContactCode{}
		return json.Unmarshal(tagged.Payload, self.AddContact)
	case "RejectContactRequest":
		self.RejectContactRequest = &RejectContactRequest{}
		return json.Unmarshal(tagged.Payload, self.RejectContactRequest)
	case "JoinGroup":
		self.JoinGroup = &GroupRef{}
		return json.Unmarshal(tagged.Payload, self.JoinGroup)
	}
	return fmt.Errorf("unknown device group payload type: %s", tagged.Type)
}

func (self InboxPayload) MarshalJSON() ([]byte, error) {
	switch {
	case self.Contact != nil:
		return marshalTagged("Contact", self.Contact)
	}
	return nil, fmt.Errorf("inbox payload has no variant set")
}

func (self *InboxPayload) UnmarshalJSON(data []byte) error {
	var tagged taggedPayload
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	*self = InboxPayload{}
	switch tagged.Type {
	case "Contact":
		self.Contact = &ContactRequestPayload{}
		return json.Unmarshal(tagged.Payload, self.Contact)
	}
	return fmt.Errorf("unknown inbox payload type: %s", tagged.Type)
}

package stores

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ContactCode is the payload behind a shared QR code or deep link. It gives
// the recipient everything needed to reach back: the device key to add to
// groups, the agent identity, and a short-lived inbox topic to reply on.
type ContactCode struct {
	DevicePubKey DeviceId `json:"device_pubkey"`
	AgentId      AgentId  `json:"agent_id"`
	InboxTopic   TopicId  `json:"inbox_topic"`
	ShareIntent  string   `json:"share_intent"`
}

const (
	ShareIntentAddContact = "AddContact"
	ShareIntentAddDevice  = "AddDevice"
)

// EncodeContactCode packs the code as a fixed-order CBOR array and base64
// encodes it for clipboard/QR transport.
func EncodeContactCode(code ContactCode) (string, error) {
	bin, err := cbor.Marshal([]any{
		code.DevicePubKey,
		code.AgentId,
		code.InboxTopic,
		code.ShareIntent,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(bin), nil
}

// DecodeContactCode is the exact inverse of EncodeContactCode.
func DecodeContactCode(encoded string) (ContactCode, error) {
	bin, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ContactCode{}, err
	}
	var fields []string
	if err := cbor.Unmarshal(bin, &fields); err != nil {
		return ContactCode{}, err
	}
	if len(fields) != 4 {
		return ContactCode{}, fmt.Errorf("contact code has %d fields, expected 4", len(fields))
	}
	return ContactCode{
		DevicePubKey: fields[0],
		AgentId:      fields[1],
		InboxTopic:   fields[2],
		ShareIntent:  fields[3],
	}, nil
}

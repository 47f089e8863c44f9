package stores

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestOperationWireShape(t *testing.T) {
	operation := Operation{
		Hash: "abc123",
		Header: Header{
			PublicKey: "device-1",
			Timestamp: 1700000000000000,
			SeqNum:    3,
			Backlink:  "def456",
			Previous:  []Hash{},
		},
		Body: &Payload{
			Chat: &ChatPayload{
				Message: &MessageContent{
					Type:    MessageContentTypeText,
					Message: "hello",
					ReplyTo: "aaa111",
				},
			},
		},
	}

	encoded, err := json.Marshal(operation)
	assert.Equal(t, err, nil)

	// payload unions travel as {"type": ..., "payload": ...}
	var wire map[string]any
	assert.Equal(t, json.Unmarshal(encoded, &wire), nil)
	body := wire["body"].(map[string]any)
	assert.Equal(t, body["type"], "Chat")
	inner := body["payload"].(map[string]any)
	assert.Equal(t, inner["type"], "Message")

	var decoded Operation
	assert.Equal(t, json.Unmarshal(encoded, &decoded), nil)
	assert.Equal(t, decoded, operation)
}

func TestDeviceGroupPayloadRoundTrip(t *testing.T) {
	operation := Operation{
		Hash: "abc123",
		Header: Header{
			PublicKey: "device-1",
			Timestamp: 1700000000000000,
			Previous:  []Hash{},
		},
		Body: &Payload{
			DeviceGroup: &DeviceGroupPayload{
				AddContact: &ContactCode{
					DevicePubKey: "device-2",
					AgentId:      "bob",
					InboxTopic:   "bob.inbox.n1",
					ShareIntent:  ShareIntentAddContact,
				},
			},
		},
	}

	encoded, err := json.Marshal(operation)
	assert.Equal(t, err, nil)

	var decoded Operation
	assert.Equal(t, json.Unmarshal(encoded, &decoded), nil)
	assert.Equal(t, decoded, operation)
}

func TestUnknownPayloadTypeFailsLoudly(t *testing.T) {
	var payload Payload
	err := json.Unmarshal([]byte(`{"type":"Mystery","payload":{}}`), &payload)
	assert.NotEqual(t, err, nil)
}

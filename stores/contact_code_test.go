package stores

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestContactCodeRoundTrip(t *testing.T) {
	code := ContactCode{
		DevicePubKey: "device-key-1",
		AgentId:      "agent-1",
		InboxTopic:   "agent-1.inbox.nonce-0",
		ShareIntent:  ShareIntentAddContact,
	}

	encoded, err := EncodeContactCode(code)
	assert.Equal(t, err, nil)

	decoded, err := DecodeContactCode(encoded)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded, code)
}

func TestDecodeContactCodeRejectsGarbage(t *testing.T) {
	_, err := DecodeContactCode("not base64!!")
	assert.NotEqual(t, err, nil)

	_, err = DecodeContactCode("aGVsbG8=")
	assert.NotEqual(t, err, nil)
}

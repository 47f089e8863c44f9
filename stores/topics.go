package stores

import (
	"fmt"
	"strings"
)

// Topics are derived deterministically from identities. There is no topic
// registry: any device can compute the topic for a conversation from the
// identities involved.

// PersonalTopicFor is the announcement topic of an agent.
func PersonalTopicFor(agentId AgentId) TopicId {
	return agentId
}

// DeviceGroupTopicFor is the private topic shared by one agent's devices.
func DeviceGroupTopicFor(agentId AgentId) TopicId {
	return fmt.Sprintf("%s.device-group", agentId)
}

// InboxTopicFor is a short-lived topic minted per contact code, so the code
// recipient can reply without being a contact yet.
func InboxTopicFor(agentId AgentId, nonce string) TopicId {
	return fmt.Sprintf("%s.inbox.%s", agentId, nonce)
}

// DirectChatTopicFor is the chat topic between two agents. Both sides derive
// the same id regardless of who computes it.
func DirectChatTopicFor(a AgentId, b AgentId) TopicId {
	if strings.Compare(b, a) < 0 {
		a, b = b, a
	}
	return fmt.Sprintf("%s.%s", a, b)
}

package stores

import (
	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Message is a chat message derived from the chat topic's logs, with the
// reactions other authors have applied to it.
type Message struct {
	Hash      Hash
	Content   MessageContent
	Author    DeviceId
	Timestamp int64
	Reactions map[DeviceId]string
}

// foldMessages derives the message map of a chat topic. Messages are
// collected in a first pass; reactions are applied in a second pass over
// the same logs, in timestamp order, so that a later reaction by the same
// author overwrites an earlier one and an empty emoji removes it.
//
// A reaction referencing an unknown message hash is dropped with a warning.
// If its target arrives later, the next re-derivation picks it up.
func foldMessages(logs map[PublicKey][]Operation) map[Hash]Message {
	messages := map[Hash]Message{}

	for author, operations := range logs {
		for _, operation := range operations {
			body := operation.Body
			if body == nil || body.Chat == nil || body.Chat.Message == nil {
				continue
			}
			messages[operation.Hash] = Message{
				Hash:      operation.Hash,
				Content:   *body.Chat.Message,
				Author:    author,
				Timestamp: operation.Header.Timestamp,
				Reactions: map[DeviceId]string{},
			}
		}
	}

	type reactionOp struct {
		author    DeviceId
		timestamp int64
		hash      Hash
		reaction  Reaction
	}
	reactions := []reactionOp{}
	for author, operations := range logs {
		for _, operation := range operations {
			body := operation.Body
			if body == nil || body.Chat == nil || body.Chat.Reaction == nil {
				continue
			}
			reactions = append(reactions, reactionOp{
				author:    author,
				timestamp: operation.Header.Timestamp,
				hash:      operation.Hash,
				reaction:  *body.Chat.Reaction,
			})
		}
	}
	slices.SortFunc(reactions, func(a reactionOp, b reactionOp) int {
		if a.timestamp < b.timestamp {
			return -1
		} else if b.timestamp < a.timestamp {
			return 1
		} else if a.hash < b.hash {
			return -1
		} else if b.hash < a.hash {
			return 1
		} else {
			return 0
		}
	})

	for _, r := range reactions {
		message, ok := messages[r.reaction.MessageHash]
		if !ok {
			glog.Warningf("[chat]reaction targets unknown message %s\n", r.reaction.MessageHash)
			continue
		}
		if r.reaction.Emoji == "" {
			delete(message.Reactions, r.author)
		} else {
			message.Reactions[r.author] = r.reaction.Emoji
		}
	}

	return messages
}

// foldReadHashes collects the message hashes marked read for a chat from
// ReadMessages receipts in the device-group topic.
func foldReadHashes(deviceGroupLogs map[PublicKey][]Operation, chatId ChatId) map[Hash]struct{} {
	readHashes := map[Hash]struct{}{}
	for _, operations := range deviceGroupLogs {
		for _, operation := range operations {
			body := operation.Body
			if body == nil || body.Chat == nil || body.Chat.ReadMessages == nil {
				continue
			}
			receipt := body.Chat.ReadMessages
			if receipt.ChatId != chatId {
				continue
			}
			for _, hash := range receipt.MessageHashes {
				readHashes[hash] = struct{}{}
			}
		}
	}
	return readHashes
}

// lastMessageOf returns the most recent message, or nil if there is none.
func lastMessageOf(messages map[Hash]Message) *Message {
	var last *Message
	for hash := range messages {
		message := messages[hash]
		if last == nil || last.Timestamp < message.Timestamp ||
			(last.Timestamp == message.Timestamp && last.Hash < message.Hash) {
			last = &message
		}
	}
	return last
}

// unreadCountOf counts messages authored by someone else whose hash is not
// in the read set.
func unreadCountOf(messages map[Hash]Message, readHashes map[Hash]struct{}, myDeviceId DeviceId) int {
	count := 0
	for hash, message := range messages {
		if message.Author == myDeviceId {
			continue
		}
		if _, read := readHashes[hash]; read {
			continue
		}
		count += 1
	}
	return count
}

// messageEventSets shapes a message map for rendering. Each device forms
// its own provenance set for now; linking a user's devices into one set is
// where a device-group partition would plug in.
func messageEventSets(messages map[Hash]Message) []EventSetsInDay[Message] {
	events := map[string]ProvenanceEvent[Message]{}
	devices := map[DeviceId]struct{}{}
	for hash, message := range messages {
		devices[message.Author] = struct{}{}
		events[hash] = ProvenanceEvent[Message]{
			Event:     message,
			Timestamp: message.Timestamp,
			Author:    message.Author,
			Type:      "Message",
		}
	}

	deviceIds := maps.Keys(devices)
	slices.Sort(deviceIds)
	provenanceSets := [][]DeviceId{}
	for _, deviceId := range deviceIds {
		provenanceSets = append(provenanceSets, []DeviceId{deviceId})
	}

	return OrderInEventSets(events, provenanceSets)
}

package local

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/golang/glog"

	"github.com/darksoil-studio/dash-chat/stores"
)

// Client is a single-process log substrate backed by an embedded pebble
// store. It implements the log client plus every command client, which
// makes it both the storage layer of a real node and the workhorse of
// tests and the ctl binary.
//
// Key layout:
//
//	meta/public_key                    device identity
//	meta/agent_id                      agent identity
//	log/<topic>/<author>/<seq>         operation, JSON
//	author/<topic>/<author>            author marker
//	inbox/<topic>                      active inbox topic marker
//	group/<chat id>                    joined group marker
type Client struct {
	db *pebble.DB

	publicKey stores.PublicKey
	agentId   stores.AgentId

	// serializes appends so seq numbers and backlinks stay consistent
	appendLock sync.Mutex

	callbacks *stores.CallbackList[stores.OperationFunc]
}

var _ stores.LogsClient = (*Client)(nil)
var _ stores.ContactsClient = (*Client)(nil)
var _ stores.DevicesClient = (*Client)(nil)
var _ stores.ChatsClient = (*Client)(nil)
var _ stores.DirectChatClient = (*Client)(nil)
var _ stores.GroupChatClient = (*Client)(nil)

func NewClient(path string) (*Client, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	self := &Client{
		db:        db,
		callbacks: stores.NewCallbackList[stores.OperationFunc](),
	}

	self.publicKey, err = self.loadOrCreateIdentity("meta/public_key")
	if err != nil {
		db.Close()
		return nil, err
	}
	self.agentId, err = self.loadOrCreateIdentity("meta/agent_id")
	if err != nil {
		db.Close()
		return nil, err
	}

	return self, nil
}

func (self *Client) Close() error {
	return self.db.Close()
}

func (self *Client) loadOrCreateIdentity(key string) (string, error) {
	value, closer, err := self.db.Get([]byte(key))
	if err == nil {
		identity := string(value)
		closer.Close()
		return identity, nil
	}
	if err != pebble.ErrNotFound {
		return "", err
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	identity := hex.EncodeToString(seed)
	if err := self.db.Set([]byte(key), []byte(identity), pebble.Sync); err != nil {
		return "", err
	}
	return identity, nil
}

func logKey(topicId stores.TopicId, author stores.PublicKey, seqNum uint64) []byte {
	return []byte(fmt.Sprintf("log/%s/%s/%020d", topicId, author, seqNum))
}

func authorKey(topicId stores.TopicId, author stores.PublicKey) []byte {
	return []byte(fmt.Sprintf("author/%s/%s", topicId, author))
}

/// LogsClient

func (self *Client) MyPublicKey(ctx context.Context) (stores.PublicKey, error) {
	return self.publicKey, nil
}

func (self *Client) GetAuthorsForTopic(ctx context.Context, topicId stores.TopicId) ([]stores.PublicKey, error) {
	prefix := []byte(fmt.Sprintf("author/%s/", topicId))
	return self.scanSuffixes(prefix)
}

func (self *Client) GetLog(ctx context.Context, topicId stores.TopicId, author stores.PublicKey) ([]stores.Operation, error) {
	prefix := []byte(fmt.Sprintf("log/%s/%s/", topicId, author))
	iter, err := self.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	operations := []stores.Operation{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var operation stores.Operation
		if err := json.Unmarshal(iter.Value(), &operation); err != nil {
			return nil, fmt.Errorf("decode operation %s: %w", iter.Key(), err)
		}
		operations = append(operations, operation)
	}
	return operations, nil
}

// Append writes the next operation of this device's log on the topic and
// notifies operation callbacks.
func (self *Client) Append(ctx context.Context, topicId stores.TopicId, body *stores.Payload) (stores.Operation, error) {
	self.appendLock.Lock()

	last, err := self.lastOperation(topicId)
	if err != nil {
		self.appendLock.Unlock()
		return stores.Operation{}, err
	}

	header := stores.Header{
		PublicKey: self.publicKey,
		Timestamp: time.Now().UnixMicro(),
		Previous:  []stores.Hash{},
	}
	if last != nil {
		header.SeqNum = last.Header.SeqNum + 1
		header.Backlink = last.Hash
	}

	operation := stores.Operation{
		Header: header,
		Body:   body,
	}
	operation.Hash, err = operationHash(operation)
	if err != nil {
		self.appendLock.Unlock()
		return stores.Operation{}, err
	}

	encoded, err := json.Marshal(operation)
	if err != nil {
		self.appendLock.Unlock()
		return stores.Operation{}, err
	}

	batch := self.db.NewBatch()
	defer batch.Close()
	batch.Set(logKey(topicId, self.publicKey, header.SeqNum), encoded, nil)
	batch.Set(authorKey(topicId, self.publicKey), []byte{}, nil)
	if err := self.db.Apply(batch, pebble.Sync); err != nil {
		self.appendLock.Unlock()
		return stores.Operation{}, fmt.Errorf("append operation: %w", err)
	}
	self.appendLock.Unlock()

	glog.V(2).Infof("[local]append topic=%s seq=%d\n", topicId, header.SeqNum)
	self.notify(topicId, operation)
	return operation, nil
}

func (self *Client) AddOperationCallback(callback stores.OperationFunc) func() {
	return self.callbacks.Add(callback)
}

// Ingest stores an operation authored elsewhere, as a gossip layer would,
// and notifies operation callbacks. Operations already present are ignored.
func (self *Client) Ingest(topicId stores.TopicId, operation stores.Operation) error {
	key := logKey(topicId, operation.Header.PublicKey, operation.Header.SeqNum)

	self.appendLock.Lock()
	_, closer, err := self.db.Get(key)
	if err == nil {
		closer.Close()
		self.appendLock.Unlock()
		return nil
	}
	if err != pebble.ErrNotFound {
		self.appendLock.Unlock()
		return err
	}

	encoded, err := json.Marshal(operation)
	if err != nil {
		self.appendLock.Unlock()
		return err
	}
	batch := self.db.NewBatch()
	defer batch.Close()
	batch.Set(key, encoded, nil)
	batch.Set(authorKey(topicId, operation.Header.PublicKey), []byte{}, nil)
	if err := self.db.Apply(batch, pebble.Sync); err != nil {
		self.appendLock.Unlock()
		return fmt.Errorf("ingest operation: %w", err)
	}
	self.appendLock.Unlock()

	self.notify(topicId, operation)
	return nil
}

func (self *Client) lastOperation(topicId stores.TopicId) (*stores.Operation, error) {
	prefix := []byte(fmt.Sprintf("log/%s/%s/", topicId, self.publicKey))
	upperBound := append(append([]byte{}, prefix...), 0xff)
	iter, err := self.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, nil
	}
	var operation stores.Operation
	if err := json.Unmarshal(iter.Value(), &operation); err != nil {
		return nil, fmt.Errorf("decode operation %s: %w", iter.Key(), err)
	}
	return &operation, nil
}

func (self *Client) notify(topicId stores.TopicId, operation stores.Operation) {
	for _, callback := range self.callbacks.Get() {
		callback(topicId, operation)
	}
}

// scanSuffixes lists the key remainders under a prefix.
func (self *Client) scanSuffixes(prefix []byte) ([]string, error) {
	iter, err := self.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	suffixes := []string{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		suffixes = append(suffixes, string(iter.Key()[len(prefix):]))
	}
	return suffixes, nil
}

// operationHash derives the operation id from the canonical JSON of its
// header and body.
func operationHash(operation stores.Operation) (stores.Hash, error) {
	header, err := json.Marshal(operation.Header)
	if err != nil {
		return "", err
	}
	sum := sha256.New()
	sum.Write(header)
	if operation.Body != nil {
		body, err := json.Marshal(operation.Body)
		if err != nil {
			return "", err
		}
		sum.Write(body)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

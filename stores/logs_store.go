package stores

import (
	"context"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"

	"github.com/darksoil-studio/dash-chat/reactive"
)

type LogsStoreSettings struct {
	// timeout for the initial fetch a relay performs on first observation
	FetchTimeout time.Duration
}

func DefaultLogsStoreSettings() *LogsStoreSettings {
	return &LogsStoreSettings{
		FetchTimeout: 30 * time.Second,
	}
}

type logKey struct {
	topicId TopicId
	author  PublicKey
}

// LogsStore exposes the substrate's per-author logs as reactive cells.
// Author sets and logs are relays: populated by an initial fetch, then
// appended to by new-operation notifications for as long as anything
// observes them.
type LogsStore struct {
	client   LogsClient
	settings *LogsStoreSettings

	myPublicKey *reactive.Cell[PublicKey]
	authors     *reactive.Cache[TopicId, []PublicKey]
	logs        *reactive.Cache[logKey, []Operation]
	allLogs     *reactive.Cache[TopicId, map[PublicKey][]Operation]
}

func NewLogsStore(client LogsClient) *LogsStore {
	return NewLogsStoreWithSettings(client, DefaultLogsStoreSettings())
}

func NewLogsStoreWithSettings(client LogsClient, settings *LogsStoreSettings) *LogsStore {
	self := &LogsStore{
		client:   client,
		settings: settings,
	}

	self.myPublicKey = reactive.New(func(sc *reactive.Scope) (PublicKey, error) {
		ctx, cancel := context.WithTimeout(context.Background(), settings.FetchTimeout)
		defer cancel()
		return client.MyPublicKey(ctx)
	})

	self.authors = reactive.NewRelayCache(self.setupAuthors)
	self.logs = reactive.NewRelayCache(self.setupLog)

	self.allLogs = reactive.NewCache(func(sc *reactive.Scope, topicId TopicId) (map[PublicKey][]Operation, error) {
		authors, err := self.authors.Await(sc, topicId)
		if err != nil {
			return nil, err
		}
		logs := map[PublicKey][]Operation{}
		for _, author := range authors {
			log, err := self.logs.Await(sc, logKey{
				topicId: topicId,
				author:  author,
			})
			if err != nil {
				return nil, err
			}
			logs[author] = log
		}
		return logs, nil
	})

	return self
}

func (self *LogsStore) Client() LogsClient {
	return self.client
}

// MyPublicKey is the local device identity.
func (self *LogsStore) MyPublicKey() *reactive.Cell[PublicKey] {
	return self.myPublicKey
}

// AuthorsForTopic is the monotonically growing author set of a topic.
// Authors are never removed.
func (self *LogsStore) AuthorsForTopic(topicId TopicId) *reactive.Cell[[]PublicKey] {
	return self.authors.Cell(topicId)
}

// Log is one author's operation list on a topic, deduplicated by seq_num.
func (self *LogsStore) Log(topicId TopicId, author PublicKey) *reactive.Cell[[]Operation] {
	return self.logs.Cell(logKey{
		topicId: topicId,
		author:  author,
	})
}

// LogsForAllAuthors joins the author set with every author's log. It stays
// current because it depends on both underlying relays.
func (self *LogsStore) LogsForAllAuthors(topicId TopicId) *reactive.Cell[map[PublicKey][]Operation] {
	return self.allLogs.Cell(topicId)
}

// AwaitLogsForAllAuthors reads the join from inside another computation.
func (self *LogsStore) AwaitLogsForAllAuthors(sc *reactive.Scope, topicId TopicId) (map[PublicKey][]Operation, error) {
	return self.allLogs.Await(sc, topicId)
}

func (self *LogsStore) setupAuthors(topicId TopicId, state *reactive.RelayState[[]PublicKey]) func() {
	ctx, cancel := context.WithTimeout(context.Background(), self.settings.FetchTimeout)

	go func() {
		defer cancel()
		authors, err := self.client.GetAuthorsForTopic(ctx, topicId)
		if err != nil {
			glog.Warningf("[logs]author fetch failed for topic %s: %v\n", topicId, err)
			state.Reject(err)
			return
		}
		// notifications may have landed while the fetch was in flight
		current, _ := state.Value()
		state.Set(mergeAuthors(current, authors))
	}()

	removeCallback := self.client.AddOperationCallback(func(operationTopicId TopicId, operation Operation) {
		if operationTopicId != topicId {
			return
		}
		authors, _ := state.Value()
		author := operation.Header.PublicKey
		if slices.Contains(authors, author) {
			return
		}
		state.Set(append(slices.Clone(authors), author))
	})

	return func() {
		cancel()
		removeCallback()
	}
}

func (self *LogsStore) setupLog(key logKey, state *reactive.RelayState[[]Operation]) func() {
	ctx, cancel := context.WithTimeout(context.Background(), self.settings.FetchTimeout)

	go func() {
		defer cancel()
		log, err := self.client.GetLog(ctx, key.topicId, key.author)
		if err != nil {
			glog.Warningf("[logs]log fetch failed for topic %s author %s: %v\n", key.topicId, key.author, err)
			state.Reject(err)
			return
		}
		current, _ := state.Value()
		state.Set(mergeOperations(current, log))
	}()

	removeCallback := self.client.AddOperationCallback(func(operationTopicId TopicId, operation Operation) {
		if operationTopicId != key.topicId {
			return
		}
		if operation.Header.PublicKey != key.author {
			return
		}
		current, _ := state.Value()
		state.Set(mergeOperations(current, []Operation{operation}))
	})

	return func() {
		cancel()
		removeCallback()
	}
}

func mergeAuthors(a []PublicKey, b []PublicKey) []PublicKey {
	merged := slices.Clone(a)
	for _, author := range b {
		if !slices.Contains(merged, author) {
			merged = append(merged, author)
		}
	}
	return merged
}

// mergeOperations unions two operation lists of the same (topic, author)
// log, deduplicating by seq_num. This is the sole safeguard against
// duplicate delivery from the notification stream.
func mergeOperations(a []Operation, b []Operation) []Operation {
	merged := slices.Clone(a)
	for _, operation := range b {
		duplicate := slices.ContainsFunc(merged, func(existing Operation) bool {
			return existing.Header.SeqNum == operation.Header.SeqNum
		})
		if !duplicate {
			merged = append(merged, operation)
		}
	}
	slices.SortFunc(merged, func(a Operation, b Operation) int {
		if a.Header.SeqNum < b.Header.SeqNum {
			return -1
		} else if b.Header.SeqNum < a.Header.SeqNum {
			return 1
		} else {
			return 0
		}
	})
	return merged
}

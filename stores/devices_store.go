package stores

import (
	"context"

	"github.com/darksoil-studio/dash-chat/reactive"
)

// DevicesStore resolves the user's private device-group topic and exposes
// its merged logs. Contact mutations, read receipts and group membership
// all live on this topic, so most sibling stores read it.
type DevicesStore struct {
	logsStore *LogsStore
	client    DevicesClient

	myDeviceGroupTopicId *reactive.Cell[TopicId]
	myDeviceGroupTopic   *reactive.Cell[map[PublicKey][]Operation]
}

func NewDevicesStore(logsStore *LogsStore, client DevicesClient) *DevicesStore {
	self := &DevicesStore{
		logsStore: logsStore,
		client:    client,
	}

	self.myDeviceGroupTopicId = reactive.New(func(sc *reactive.Scope) (TopicId, error) {
		ctx, cancel := context.WithTimeout(context.Background(), logsStore.settings.FetchTimeout)
		defer cancel()
		return client.MyDeviceGroupTopicId(ctx)
	})

	self.myDeviceGroupTopic = reactive.New(func(sc *reactive.Scope) (map[PublicKey][]Operation, error) {
		topicId, err := self.myDeviceGroupTopicId.Await(sc)
		if err != nil {
			return nil, err
		}
		return logsStore.AwaitLogsForAllAuthors(sc, topicId)
	})

	return self
}

func (self *DevicesStore) Client() DevicesClient {
	return self.client
}

func (self *DevicesStore) MyDeviceGroupTopicId() *reactive.Cell[TopicId] {
	return self.myDeviceGroupTopicId
}

// MyDeviceGroupTopic is the merged per-author log map of the device-group
// topic.
func (self *DevicesStore) MyDeviceGroupTopic() *reactive.Cell[map[PublicKey][]Operation] {
	return self.myDeviceGroupTopic
}

package remote

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/darksoil-studio/dash-chat/stores"
	"github.com/darksoil-studio/dash-chat/stores/local"
)

func startHost(t *testing.T) (*local.Client, string) {
	client, err := local.NewClient(t.TempDir())
	assert.Equal(t, err, nil)
	t.Cleanup(func() {
		client.Close()
	})

	server := httptest.NewServer(NewHost(client))
	t.Cleanup(server.Close)

	return client, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestRemoteRequestsRoundTrip(t *testing.T) {
	host, url := startHost(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, url)
	assert.Equal(t, err, nil)
	defer client.Close()

	hostKey, err := host.MyPublicKey(ctx)
	assert.Equal(t, err, nil)
	remoteKey, err := client.MyPublicKey(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, remoteKey, hostKey)

	content := stores.TextMessage("over the wire")
	appended, err := client.Append(ctx, "topic-1", &stores.Payload{
		Chat: &stores.ChatPayload{Message: &content},
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, appended.Header.PublicKey, hostKey)

	authors, err := client.GetAuthorsForTopic(ctx, "topic-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, authors, []stores.PublicKey{hostKey})

	log, err := client.GetLog(ctx, "topic-1", hostKey)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(log), 1)
	assert.Equal(t, log[0].Hash, appended.Hash)
	assert.Equal(t, log[0].Body.Chat.Message.Message, "over the wire")
}

func TestRemotePushesOperations(t *testing.T) {
	host, url := startHost(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, url)
	assert.Equal(t, err, nil)
	defer client.Close()

	pushed := make(chan stores.Operation, 1)
	defer client.AddOperationCallback(func(topicId stores.TopicId, operation stores.Operation) {
		if topicId == "topic-1" {
			pushed <- operation
		}
	})()

	content := stores.TextMessage("pushed")
	appended, err := host.Append(ctx, "topic-1", &stores.Payload{
		Chat: &stores.ChatPayload{Message: &content},
	})
	assert.Equal(t, err, nil)

	select {
	case operation := <-pushed:
		assert.Equal(t, operation.Hash, appended.Hash)
	case <-ctx.Done():
		t.Fatalf("timed out waiting for pushed operation")
	}
}

func TestRemoteStoresOverWebsocket(t *testing.T) {
	_, url := startHost(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, url)
	assert.Equal(t, err, nil)
	defer client.Close()

	logsStore := stores.NewLogsStore(client)

	content := stores.TextMessage("derived remotely")
	_, err = client.Append(ctx, "topic-1", &stores.Payload{
		Chat: &stores.ChatPayload{Message: &content},
	})
	assert.Equal(t, err, nil)

	logs, err := logsStore.LogsForAllAuthors("topic-1").Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(logs), 1)
}

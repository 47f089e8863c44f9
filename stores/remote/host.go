package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/darksoil-studio/dash-chat/stores"
)

// Host serves a log client to remote Clients over websockets. It answers
// request frames and pushes an operation frame for every operation the
// underlying client reports.
type Host struct {
	client   stores.LogsClient
	settings *ClientSettings
	upgrader websocket.Upgrader
}

func NewHost(client stores.LogsClient) *Host {
	return &Host{
		client:   client,
		settings: DefaultClientSettings(),
		upgrader: websocket.Upgrader{},
	}
}

func (self *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[host]upgrade: %s\n", err)
		return
	}
	defer conn.Close()

	var writeLock sync.Mutex
	writeFrame := func(response frame) error {
		writeLock.Lock()
		defer writeLock.Unlock()
		conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		return conn.WriteJSON(response)
	}

	removeCallback := self.client.AddOperationCallback(func(topicId stores.TopicId, operation stores.Operation) {
		pushed := operation
		if err := writeFrame(frame{
			Type:      frameTypeOperation,
			TopicId:   topicId,
			Operation: &pushed,
		}); err != nil {
			glog.Warningf("[host]push operation: %s\n", err)
		}
	})
	defer removeCallback()

	conn.SetPingHandler(func(appData string) error {
		writeLock.Lock()
		defer writeLock.Unlock()
		conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		var request frame
		if err := conn.ReadJSON(&request); err != nil {
			return
		}
		response := self.handle(r.Context(), request)
		if err := writeFrame(response); err != nil {
			glog.Warningf("[host]write result: %s\n", err)
			return
		}
	}
}

func (self *Host) handle(ctx context.Context, request frame) frame {
	fail := func(err error) frame {
		return frame{
			Id:    request.Id,
			Type:  frameTypeError,
			Error: err.Error(),
		}
	}
	result := frame{
		Id:   request.Id,
		Type: frameTypeResult,
	}

	switch request.Type {
	case frameTypeMyPublicKey:
		publicKey, err := self.client.MyPublicKey(ctx)
		if err != nil {
			return fail(err)
		}
		result.PublicKey = publicKey
	case frameTypeGetAuthors:
		authors, err := self.client.GetAuthorsForTopic(ctx, request.TopicId)
		if err != nil {
			return fail(err)
		}
		result.Authors = authors
	case frameTypeGetLog:
		log, err := self.client.GetLog(ctx, request.TopicId, request.Author)
		if err != nil {
			return fail(err)
		}
		result.Log = log
	case frameTypeAppend:
		operation, err := self.client.Append(ctx, request.TopicId, request.Body)
		if err != nil {
			return fail(err)
		}
		result.Operation = &operation
	default:
		glog.Warningf("[host]unknown frame type %s\n", request.Type)
		result.Type = frameTypeError
		result.Error = "unknown frame type"
	}
	return result
}

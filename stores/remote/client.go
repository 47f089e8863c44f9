package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/darksoil-studio/dash-chat/stores"
)

// Client talks to an out-of-process log substrate over a websocket. Each
// request frame carries a fresh id; the host answers with a result frame
// for that id and pushes operation frames for everything it learns about.

type ClientSettings struct {
	RequestTimeout time.Duration
	PingTimeout    time.Duration
	WriteTimeout   time.Duration
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		RequestTimeout: 30 * time.Second,
		PingTimeout:    15 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

const (
	frameTypeMyPublicKey = "my_public_key"
	frameTypeGetAuthors  = "get_authors"
	frameTypeGetLog      = "get_log"
	frameTypeAppend      = "append"
	frameTypeResult      = "result"
	frameTypeError       = "error"
	frameTypeOperation   = "operation"
)

type frame struct {
	Id   string `json:"id,omitempty"`
	Type string `json:"type"`

	TopicId stores.TopicId   `json:"topic_id,omitempty"`
	Author  stores.PublicKey `json:"author,omitempty"`
	Body    *stores.Payload  `json:"body,omitempty"`

	PublicKey stores.PublicKey   `json:"public_key,omitempty"`
	Authors   []stores.PublicKey `json:"authors,omitempty"`
	Log       []stores.Operation `json:"log,omitempty"`
	Operation *stores.Operation  `json:"operation,omitempty"`
	Error     string             `json:"error,omitempty"`
}

type Client struct {
	settings *ClientSettings

	conn      *websocket.Conn
	writeLock sync.Mutex

	stateLock sync.Mutex
	pending   map[string]chan frame
	closed    bool
	closeErr  error

	callbacks *stores.CallbackList[stores.OperationFunc]

	cancel context.CancelFunc
}

var _ stores.LogsClient = (*Client)(nil)

func NewClient(ctx context.Context, url string) (*Client, error) {
	return NewClientWithSettings(ctx, url, DefaultClientSettings())
}

func NewClientWithSettings(ctx context.Context, url string, settings *ClientSettings) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial log host: %w", err)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	self := &Client{
		settings:  settings,
		conn:      conn,
		pending:   map[string]chan frame{},
		callbacks: stores.NewCallbackList[stores.OperationFunc](),
		cancel:    cancel,
	}

	go self.readLoop(cancelCtx)
	go self.pingLoop(cancelCtx)

	return self, nil
}

func (self *Client) Close() error {
	self.cancel()
	return self.conn.Close()
}

func (self *Client) readLoop(ctx context.Context) {
	defer self.shutdown(fmt.Errorf("connection closed"))
	for {
		var message frame
		if err := self.conn.ReadJSON(&message); err != nil {
			if ctx.Err() == nil {
				glog.Warningf("[remote]read: %s\n", err)
			}
			return
		}

		switch message.Type {
		case frameTypeOperation:
			if message.Operation == nil {
				glog.Warningf("[remote]operation frame without operation\n")
				continue
			}
			for _, callback := range self.callbacks.Get() {
				callback(message.TopicId, *message.Operation)
			}
		case frameTypeResult, frameTypeError:
			self.stateLock.Lock()
			result, ok := self.pending[message.Id]
			delete(self.pending, message.Id)
			self.stateLock.Unlock()
			if ok {
				result <- message
			}
		default:
			glog.Warningf("[remote]unknown frame type %s\n", message.Type)
		}
	}
}

func (self *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(self.settings.PingTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		self.writeLock.Lock()
		self.conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		err := self.conn.WriteMessage(websocket.PingMessage, nil)
		self.writeLock.Unlock()
		if err != nil {
			glog.Warningf("[remote]ping: %s\n", err)
			return
		}
	}
}

// shutdown fails all pending requests so callers do not hang on a dead
// connection.
func (self *Client) shutdown(err error) {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	self.closeErr = err
	pending := self.pending
	self.pending = map[string]chan frame{}
	self.stateLock.Unlock()

	for id, result := range pending {
		result <- frame{
			Id:    id,
			Type:  frameTypeError,
			Error: err.Error(),
		}
	}
}

func (self *Client) request(ctx context.Context, request frame) (frame, error) {
	request.Id = ulid.Make().String()
	result := make(chan frame, 1)

	self.stateLock.Lock()
	if self.closed {
		closeErr := self.closeErr
		self.stateLock.Unlock()
		return frame{}, closeErr
	}
	self.pending[request.Id] = result
	self.stateLock.Unlock()

	self.writeLock.Lock()
	self.conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	err := self.conn.WriteJSON(request)
	self.writeLock.Unlock()
	if err != nil {
		self.stateLock.Lock()
		delete(self.pending, request.Id)
		self.stateLock.Unlock()
		return frame{}, fmt.Errorf("write %s: %w", request.Type, err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, self.settings.RequestTimeout)
	defer cancel()

	select {
	case response := <-result:
		if response.Type == frameTypeError {
			return frame{}, fmt.Errorf("%s: %s", request.Type, response.Error)
		}
		return response, nil
	case <-requestCtx.Done():
		self.stateLock.Lock()
		delete(self.pending, request.Id)
		self.stateLock.Unlock()
		return frame{}, requestCtx.Err()
	}
}

/// LogsClient

func (self *Client) MyPublicKey(ctx context.Context) (stores.PublicKey, error) {
	response, err := self.request(ctx, frame{Type: frameTypeMyPublicKey})
	if err != nil {
		return "", err
	}
	return response.PublicKey, nil
}

func (self *Client) GetAuthorsForTopic(ctx context.Context, topicId stores.TopicId) ([]stores.PublicKey, error) {
	response, err := self.request(ctx, frame{
		Type:    frameTypeGetAuthors,
		TopicId: topicId,
	})
	if err != nil {
		return nil, err
	}
	return response.Authors, nil
}

func (self *Client) GetLog(ctx context.Context, topicId stores.TopicId, author stores.PublicKey) ([]stores.Operation, error) {
	response, err := self.request(ctx, frame{
		Type:    frameTypeGetLog,
		TopicId: topicId,
		Author:  author,
	})
	if err != nil {
		return nil, err
	}
	return response.Log, nil
}

func (self *Client) Append(ctx context.Context, topicId stores.TopicId, body *stores.Payload) (stores.Operation, error) {
	response, err := self.request(ctx, frame{
		Type:    frameTypeAppend,
		TopicId: topicId,
		Body:    body,
	})
	if err != nil {
		return stores.Operation{}, err
	}
	if response.Operation == nil {
		return stores.Operation{}, fmt.Errorf("append result without operation")
	}
	return *response.Operation, nil
}

func (self *Client) AddOperationCallback(callback stores.OperationFunc) func() {
	return self.callbacks.Add(callback)
}

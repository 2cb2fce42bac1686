package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// WebSocket message types for the upload feed
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeStored    = "upload:stored"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const (
	feedWriteWait  = 10 * time.Second
	defaultBacklog = 16
)

// feedClient is one websocket subscriber. Only its writer goroutine touches
// the connection for writing.
type feedClient struct {
	rowID string // empty subscribes to every row
	send  chan WSMessage
}

// Feed broadcasts stored-image events to websocket subscribers. Subscribers
// may pass ?rowId= to follow a single row. Slow subscribers drop events
// instead of blocking uploads.
type Feed struct {
	mu       sync.RWMutex
	clients  map[*feedClient]struct{}
	upgrader websocket.Upgrader
	backlog  int
	logger   *zap.Logger
}

// NewFeed creates a feed whose subscribers buffer up to backlog events.
func NewFeed(backlog int, logger *zap.Logger) *Feed {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		backlog: backlog,
		logger:  logger,
	}
}

// Publish sends an upload:stored event for info to every matching subscriber.
func (f *Feed) Publish(info *models.FileInfo) {
	payload := models.StoredEvent{
		Type:      MsgTypeStored,
		RowID:     info.RowID,
		File:      info,
		Timestamp: time.Now().UnixMilli(),
	}
	msg := WSMessage{
		Type:      MsgTypeStored,
		ID:        info.RowID,
		Payload:   mustJSON(payload),
		Timestamp: payload.Timestamp,
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for client := range f.clients {
		if client.rowID != "" && client.rowID != info.RowID {
			continue
		}
		select {
		case client.send <- msg:
		default:
			f.logger.Warn("feed subscriber is behind, dropping event", zap.String("row", info.RowID))
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// HandleWebSocket upgrades the connection and streams events until the
// client disconnects.
func (f *Feed) HandleWebSocket(c echo.Context) error {
	ws, err := f.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	client := &feedClient{
		rowID: c.QueryParam("rowId"),
		send:  make(chan WSMessage, f.backlog),
	}
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		f.writeLoop(ws, client, done)
	}()

	client.send <- WSMessage{Type: MsgTypeConnected, ID: client.rowID, Timestamp: time.Now().UnixMilli()}
	f.register(client)
	defer f.unregister(client)

	f.logger.Debug("feed subscriber connected", zap.String("row", client.rowID))

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("feed connection error", zap.Error(err))
			}
			break
		}

		var reply WSMessage
		switch msg.Type {
		case MsgTypePing:
			reply = WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}
		default:
			reply = WSMessage{
				Type:      MsgTypeError,
				Timestamp: time.Now().UnixMilli(),
				Payload: mustJSON(WSErrorResponse{
					Type:    MsgTypeError,
					Message: "Unknown message type: " + msg.Type,
					Code:    "INVALID_TYPE",
				}),
			}
		}
		select {
		case client.send <- reply:
		default:
		}
	}

	close(done)
	<-writerDone
	f.logger.Debug("feed subscriber disconnected", zap.String("row", client.rowID))
	return nil
}

func (f *Feed) writeLoop(ws *websocket.Conn, client *feedClient, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-client.send:
			ws.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := ws.WriteJSON(msg); err != nil {
				f.logger.Debug("failed to send feed message", zap.Error(err))
				return
			}
		}
	}
}

func (f *Feed) register(client *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[client] = struct{}{}
}

func (f *Feed) unregister(client *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, client)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

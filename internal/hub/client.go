package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/osobh/pingpong-sub001/internal/metrics"
	"github.com/osobh/pingpong-sub001/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	sendQueueSize  = 256
	closeGraceTime = time.Second
)

var ErrSendQueueFull = errors.New("hub: send queue full")

// Client adapts a WebSocket connection to room.Conn. Sends are queued and
// written by a dedicated goroutine so a slow peer never blocks the loop.
type Client struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	open      atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection. Call Serve to start it.
func (h *Hub) NewClient(ws *websocket.Conn) *Client {
	c := &Client{
		hub:     h,
		ws:      ws,
		send:    make(chan []byte, sendQueueSize),
		closeCh: make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

// Send implements room.Conn. It never blocks; when the queue is full the
// event is dropped.
func (c *Client) Send(evt protocol.Event) error {
	if !c.open.Load() {
		return websocket.ErrCloseSent
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closeCh:
		return websocket.ErrCloseSent
	default:
		metrics.SendsDropped.Inc()
		c.hub.logger.Warn().Str("event", string(evt.EventType())).Msg("send queue full, dropping event")
		return ErrSendQueueFull
	}
}

// Open implements room.Conn.
func (c *Client) Open() bool {
	return c.open.Load()
}

// Close implements room.Conn. The writer flushes a close frame and shuts the
// socket down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.closeCh)
	})
	return nil
}

// Serve runs the connection until the peer goes away or the room closes it.
// It blocks in the read loop.
func (c *Client) Serve() {
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.readLoop()
	c.hub.Disconnect(c)
	c.Close()
	<-writerDone
}

func (c *Client) readLoop() {
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		c.hub.Submit(c, data)
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closeCh:
			c.drain()
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGraceTime))
			return
		}
	}
}

// drain flushes events queued before the close, such as a final ERROR.
func (c *Client) drain() {
	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ektasahyog/sahyog-relay/globals"
	"github.com/ektasahyog/sahyog-relay/types"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
)

const sendChannelSize = 1000

var connCounter uint64

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	id string

	// guards displayName and room, which are set by the hub on join and
	// read during room broadcasts
	mu          sync.Mutex
	displayName string
	room        string

	doneChan chan struct{}

	// WaitGroup which keeps track of running read/write loops and write
	// access to Send. If the WaitGroup is done, it is safe to close all
	// channels (all loops are done and there are no more write operations
	// on the channels)
	sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, doneChan chan struct{}) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		id:       fmt.Sprintf("conn-%d", atomic.AddUint64(&connCounter, 1)),
		doneChan: doneChan,
	}
}

// Id is the connection id used as the presence tracker key.
func (c *Client) Id() string {
	return c.id
}

func (c *Client) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName
}

// Room is the connection's current room key, empty until the first join.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setIdentity(room, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
	c.displayName = displayName
}

func (c *Client) closeConn() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// ReadLoop pumps messages from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		close(c.doneChan)
		c.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	message := &types.WebsocketMessage{}
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			globals.AppLogger.Debug("could not read message", "error", err)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Info("ws closed unexpected")
			}
			return
		}

		err = json.Unmarshal(raw, &message)
		if err != nil {
			globals.AppLogger.Error("could not unmarshal ws message", "error", err)
			return
		}

		payload := make(map[string]interface{})
		if len(message.Data) > 0 {
			if err := json.Unmarshal(message.Data, &payload); err != nil {
				globals.AppLogger.Error("could not unmarshal payload", "event", message.Event, "error", err)
				c.hub.sendError(c, "malformed payload")
				continue
			}
		}

		switch message.Event {
		case types.WireEventJoin:
			joinReq := types.JoinRequest{}
			if err := mapstructure.WeakDecode(payload, &joinReq); err != nil {
				globals.AppLogger.Error("could not decode join request", "error", err)
				c.hub.sendError(c, "malformed join request")
				continue
			}
			c.hub.Join <- &joinEvent{client: c, request: joinReq}

		case types.WireEventRequestPresence:
			c.hub.sendPresence(c)

		case types.WireEventSend:
			sendReq := types.SendRequest{}
			if err := mapstructure.WeakDecode(payload, &sendReq); err != nil {
				globals.AppLogger.Error("could not decode send request", "error", err)
				c.hub.sendError(c, "malformed send request")
				continue
			}
			// every message runs its own pipeline, concurrently with any
			// other in-flight messages
			go c.hub.RunPipeline(c, sendReq)

		case types.WireEventTranslateRequest:
			translateReq := types.TranslateRequest{}
			if err := mapstructure.WeakDecode(payload, &translateReq); err != nil {
				globals.AppLogger.Error("could not decode translate request", "error", err)
				c.hub.sendError(c, "malformed translate request")
				continue
			}
			go c.hub.RunTranslateRequest(c, translateReq)

		default:
			globals.AppLogger.Debug("unknown event", "event", message.Event)
		}
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Done()
	}()
	for {
		select {
		case <-c.doneChan:
			globals.AppLogger.Debug("doneChan closed, exiting write loop")
			return
		default:
		}
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				globals.AppLogger.Debug("Send channel closed, exiting write loop")
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				globals.AppLogger.Debug("could not write to ws connection, exiting write loop")
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				globals.AppLogger.Debug("could not send ping message, exiting write loop")
				return
			}

		case <-c.doneChan:
			globals.AppLogger.Debug("doneChan closed, exiting write loop")
			return
		}
	}
}

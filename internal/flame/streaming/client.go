package streaming

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// subscriptionMessage is sent by observers to (un)subscribe to tasks.
type subscriptionMessage struct {
	Action string `json:"action"` // subscribe, unsubscribe
	SsnID  int64  `json:"ssn_id"`
	TaskID int64  `json:"task_id"`
}

// ReadPump reads subscription messages from the client until it
// disconnects, then unregisters it from the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var sub subscriptionMessage
		if err := json.Unmarshal(message, &sub); err != nil {
			c.log.Warn("invalid subscription message", zap.Error(err))
			continue
		}

		switch sub.Action {
		case "subscribe":
			c.Subscribe(sub.SsnID, sub.TaskID)
		case "unsubscribe":
			c.Unsubscribe(sub.SsnID, sub.TaskID)
		default:
			c.log.Warn("unknown subscription action", zap.String("action", sub.Action))
		}
	}
}

// WritePump writes queued updates to the connection, pinging on idle.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribe subscribes this client to a task's updates.
func (c *Client) Subscribe(ssnID, taskID int64) {
	key := taskKey(ssnID, taskID)
	c.mu.Lock()
	c.keys[key] = true
	c.mu.Unlock()
	c.hub.subscribe(c, ssnID, taskID)
}

// Unsubscribe removes this client's subscription to a task.
func (c *Client) Unsubscribe(ssnID, taskID int64) {
	key := taskKey(ssnID, taskID)
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
	c.hub.unsubscribe(c, ssnID, taskID)
}

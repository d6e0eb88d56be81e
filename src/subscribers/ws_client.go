package subscribers

import (
	"encoding/json"
	"sync"
	"time"

	"quote-pipeline/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	clientSendBuf  = 256
)

// -----------------------------------------------------------------------------
// wsClient is one connected websocket consumer. It holds its own symbol
// filter; an empty filter means "all symbols".
// -----------------------------------------------------------------------------

type wsClient struct {
	hub  *BroadcastSubscriber
	conn *websocket.Conn
	send chan models.MBroadcastMessage

	symbolsMu sync.RWMutex
	symbols   map[string]struct{}
}

// -----------------------------------------------------------------------------

// wantsSymbol reports whether the client's filter admits the given symbol.
// Events without a symbol (status, breadth) always pass.
func (c *wsClient) wantsSymbol(symbol string) bool {
	if symbol == "" {
		return true
	}

	c.symbolsMu.RLock()
	defer c.symbolsMu.RUnlock()

	if len(c.symbols) == 0 {
		return true
	}
	_, ok := c.symbols[symbol]
	return ok
}

// -----------------------------------------------------------------------------

func (c *wsClient) updateSubscriptions(cmd models.MSubscribeCommand) {
	c.symbolsMu.Lock()
	defer c.symbolsMu.Unlock()

	switch cmd.Command {
	case "subscribe":
		for _, sym := range cmd.Symbols {
			c.symbols[sym] = struct{}{}
		}
	case "unsubscribe":
		for _, sym := range cmd.Symbols {
			delete(c.symbols, sym)
		}
	}
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// Acts as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *wsClient) readPump() {
	defer func() {
		// The hub stops receiving on unregister once it shuts down; a client
		// disconnecting during shutdown must not block here forever
		select {
		case c.hub.unregister <- c:
		case <-c.hub.hubStop:
		}
		c.conn.Close()
		c.hub.Logger.Info("Broadcast client disconnected")
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
				c.hub.Logger.Info("WebSocket error: %v", err)
			}
			break
		}
		c.handleCommand(message)
	}
}

// -----------------------------------------------------------------------------

// handleCommand parses a control message. Malformed or unknown commands are
// logged and ignored; the connection stays up.
func (c *wsClient) handleCommand(message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.hub.Logger.Warning("Broadcast: ignoring unparseable client command: %v", err)
		return
	}

	if cmd.Command != "subscribe" && cmd.Command != "unsubscribe" {
		c.hub.Logger.Warning("Broadcast: ignoring unknown client command %q", cmd.Command)
		return
	}

	c.updateSubscriptions(cmd)
}

// -----------------------------------------------------------------------------
// writePump - sends messages to client
// -----------------------------------------------------------------------------

func (c *wsClient) writePump() {
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.Logger.Info("Write error: %v", err)
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

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/vitrivr/collabordinator/pkg/collab"
)

const sendBuffSize = 16 // Buffer size of channel for sending messages to clients

// writeWait bounds how long a single write to a client may take.
const writeWait = 10 * time.Second

// client Represents a client on the server.
// Messages placed on send are serialized and written to the connection by
// writePump. ns and removed are guarded by the registry lock.
type client struct {
	id         uint64
	conn       *websocket.Conn
	send       chan collab.Message
	log        *logrus.Entry
	remoteHost string

	ns      *namespace
	removed bool
}

func (c *client) String() string {
	return fmt.Sprintf("Client(%d)", c.id)
}

// readPump decodes messages from the connection and hands them to the
// registry, until the connection fails or is closed.
func (c *client) readPump(reg *registry, pongWait time.Duration) {
	defer reg.removeClient(c, "Connection closed")

	if pongWait > 0 {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		var msg collab.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if isMalformed(err) {
				// A bad frame only poisons itself; the rest of it is
				// discarded on the next read and the connection is kept.
				c.log.WithFields(logrus.Fields{
					"error": err,
				}).Warn("Ignoring malformed message")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithFields(logrus.Fields{
					"error": err,
				}).Warn("Client connection error")
			} else {
				c.log.Info("Client disconnected")
			}
			return
		}

		if err := reg.dispatch(c, msg); err != nil {
			c.log.WithFields(logrus.Fields{
				"error": err,
			}).Warn("Ignoring message")
		}
	}
}

// isMalformed reports whether err is a decode failure local to one frame,
// rather than a connection-level failure.
func isMalformed(err error) bool {
	switch err.(type) {
	case *json.SyntaxError, *json.UnmarshalTypeError:
		return true
	}
	return err == io.ErrUnexpectedEOF
}

// writePump serializes messages from send to the connection, and pings the
// client so dead peers trip the read deadline. When send is closed, writePump
// sends a close frame and tears down the connection.
func (c *client) writePump(timeBetweenPings time.Duration) {
	var pings <-chan time.Time
	if timeBetweenPings > 0 {
		ticker := time.NewTicker(timeBetweenPings)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				deadline := time.Now().Add(writeWait)
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				c.conn.Close()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.WithFields(logrus.Fields{
					"error": err,
				}).Error("Error writing to client")
				c.conn.Close()
				return
			}

		case <-pings:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

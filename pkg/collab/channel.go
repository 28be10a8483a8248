package collab

import (
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// A Channel is a message oriented, full duplex connection to the coordination
// endpoint. *websocket.Conn satisfies Channel.
type Channel interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// A Dialer opens a Channel to the coordination endpoint at addr.
type Dialer func(addr string) (Channel, error)

// DialWebsocket opens a websocket Channel to addr.
// addr must be a ws:// or wss:// URL.
func DialWebsocket(addr string) (Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Dial coordination endpoint")
	}
	return conn, nil
}

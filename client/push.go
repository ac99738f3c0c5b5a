package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// GetStateMessage is the control message a subscriber sends on connect to ask
// for the current state
const GetStateMessage = "get_state"

const pushWriteTimeout = 5 * time.Second

// PushConn is a subscription to the daemon's /ws push channel
type PushConn struct {
	conn *websocket.Conn
}

// pushURL converts c.Address into the ws:// URL of the push channel
func (c *Client) pushURL() string {
	u := c.url("/ws")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	default:
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
}

// Subscribe opens the push channel and sends GetStateMessage, so that the first
// message received is the current state
func (c *Client) Subscribe(ctx context.Context) (*PushConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.pushURL(), nil)
	if err != nil {
		if resp != nil {
			return nil, &HTTPError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("could not connect to push channel: %v", err)
	}
	p := &PushConn{conn: conn}
	if err := p.RequestState(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// RequestState asks the daemon to push the current state
func (p *PushConn) RequestState() error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout)); err != nil {
		return fmt.Errorf("could not send %s: %v", GetStateMessage, err)
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(GetStateMessage)); err != nil {
		return fmt.Errorf("could not send %s: %v", GetStateMessage, err)
	}
	return nil
}

// Next blocks until the next state push arrives. Any error means the
// connection is unusable
func (p *PushConn) Next() (*StatePush, error) {
	var msg StatePush
	if err := p.conn.ReadJSON(&msg); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("push channel closed: %w", err)
		}
		return nil, err
	}
	return &msg, nil
}

// Close closes the underlying connection, unblocking any call to Next
func (p *PushConn) Close() error {
	err := p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if cerr := p.conn.Close(); cerr != nil {
		return cerr
	}
	if err != nil {
		return fmt.Errorf("could not send close message: %v", err)
	}
	return nil
}

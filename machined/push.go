package machined

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/msteffen/machine-chronograph/client"
)

const (
	pushWriteTimeout = 5 * time.Second

	// DefaultPushInterval is how often the current state is re-sent to every
	// subscriber, so that a subscriber that missed a broadcast catches up
	DefaultPushInterval = 5 * time.Second

	// subscriberBuffer is the number of broadcasts queued per subscriber. A
	// subscriber that falls further behind misses broadcasts (and catches up on
	// the next periodic push)
	subscriberBuffer = 16
)

var pushUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		return host == strings.ToLower(strings.TrimSpace(u.Host))
	},
}

// subscriber is one open /ws connection. Only its serve() goroutine writes to
// 'conn'.
type subscriber struct {
	conn *websocket.Conn

	// broadcasts receives state changes recorded by the daemon
	broadcasts chan client.StatePush

	// requests is signalled when the subscriber sends "get_state"
	requests chan struct{}
}

// pushHub tracks the subscribers of the push channel
type pushHub struct {
	//// Not owned
	api client.MachineAPI

	//// Owned
	interval time.Duration

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

func newPushHub(api client.MachineAPI, interval time.Duration) *pushHub {
	if interval <= 0 {
		interval = DefaultPushInterval
	}
	return &pushHub{
		api:      api,
		interval: interval,
		subs:     make(map[*subscriber]struct{}),
		done:     make(chan struct{}),
	}
}

// broadcast queues 'push' for every subscriber
func (h *pushHub) broadcast(push client.StatePush) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.broadcasts <- push:
		default:
			log.Warnf("push subscriber %s is behind; dropping %s", sub.conn.RemoteAddr(), push.State)
		}
	}
}

// close disconnects all subscribers (http.Server.Shutdown doesn't close
// hijacked connections)
func (h *pushHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

func (h *pushHub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[sub] = struct{}{}
	return true
}

func (h *pushHub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// currentState reads the current state from the API server
func (h *pushHub) currentState() (client.StatePush, error) {
	push, err := h.api.CurrentState()
	if err != nil {
		return client.StatePush{}, err
	}
	return *push, nil
}

// serve handles a single /ws connection until it's closed by either side
func (h *pushHub) serve(conn *websocket.Conn) {
	defer conn.Close()
	sub := &subscriber{
		conn:       conn,
		broadcasts: make(chan client.StatePush, subscriberBuffer),
		requests:   make(chan struct{}, 1),
	}
	if !h.add(sub) {
		return
	}
	defer h.remove(sub)

	// reader: the only message subscribers send is "get_state"
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.TrimSpace(string(msg)) != client.GetStateMessage {
				log.Debugf("ignoring push channel message %q", msg)
				continue
			}
			select {
			case sub.requests <- struct{}{}:
			default: // a reply is already pending
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		var push client.StatePush
		select {
		case <-h.done:
			if err := conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second)); err != nil {
				log.Debugf("could not send close message to %s: %v", conn.RemoteAddr(), err)
			}
			return
		case <-readDone:
			return
		case push = <-sub.broadcasts:
		case <-sub.requests:
			var err error
			if push, err = h.currentState(); err != nil {
				log.Errorf("could not read current state for push: %v", err)
				continue
			}
		case <-ticker.C:
			var err error
			if push, err = h.currentState(); err != nil {
				log.Errorf("could not read current state for push: %v", err)
				continue
			}
		}
		if err := writePush(conn, push); err != nil {
			log.Infof("push subscriber %s went away: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func writePush(conn *websocket.Conn, push client.StatePush) error {
	if err := conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(push)
}

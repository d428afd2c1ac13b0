package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bluecollar/bluecollar/internal/broker"
	"github.com/bluecollar/bluecollar/internal/envelope"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 1 << 20
)

// inboundFrame is probed for the two control shapes (subscribe,
// unsubscribe) before falling back to treating the frame as a request
// envelope (spec §4.7).
type inboundFrame struct {
	Subscribe   []string  `json:"subscribe"`
	Unsubscribe *[]string `json:"unsubscribe"`
}

// client owns one upgraded connection: a reader goroutine that processes
// inbound frames sequentially, a single writer goroutine (gorilla/websocket
// permits exactly one), and at most one live pub/sub pump goroutine.
type client struct {
	gw   *Gateway
	conn *websocket.Conn
	send chan []byte

	pumpMu     sync.Mutex
	pubsub     broker.PubSub
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

func newClient(gw *Gateway, conn *websocket.Conn) *client {
	return &client{gw: gw, conn: conn, send: make(chan []byte, 32)}
}

func (c *client) run() {
	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump()
	c.stopPump()
	_ = c.conn.Close()
	<-done
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(raw)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch classifies one inbound frame: a subscribe/unsubscribe control
// message, or a request to forward through the ordinary rendezvous.
// Frames are handled one at a time by readPump's loop, matching spec
// §4.7's "processes inbound frames sequentially" invariant.
func (c *client) dispatch(raw []byte) {
	var probe inboundFrame
	if err := json.Unmarshal(raw, &probe); err == nil {
		switch {
		case len(probe.Subscribe) > 0:
			c.handleSubscribe(probe.Subscribe)
			return
		case probe.Unsubscribe != nil:
			c.handleUnsubscribe(*probe.Unsubscribe)
			return
		}
	}
	c.handleRequest(raw)
}

func (c *client) handleRequest(raw []byte) {
	env, err := envelope.Decode(raw)
	if err != nil {
		c.deliver(buildErrorReply("Malformed request."))
		return
	}
	env.ReplyChannel = c.gw.rendezvous.NewReplyChannel()

	ctx, cancel := context.WithTimeout(context.Background(), c.gw.cfg.Timeout)
	defer cancel()

	reply, err := c.gw.rendezvous.Dispatch(ctx, *env, c.gw.cfg.Timeout)
	if err != nil {
		c.deliver(buildErrorReply("Application did not respond in a timely fashion."))
		return
	}
	c.deliver(reply)
}

func (c *client) deliver(reply envelope.Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow client; drop rather than block the reader.
	}
}

// handleSubscribe authenticates, attaches the requested channels to the
// client's single pub/sub handle (creating it on first use), and restarts
// the pump so it observes the new channel set (spec §4.7, "Subscribe").
func (c *client) handleSubscribe(channels []string) {
	if c.gw.cfg.Authenticate != nil && !c.gw.cfg.Authenticate(nil, channels) {
		c.deliver(buildErrorReply("Not authorized."))
		return
	}

	c.pumpMu.Lock()
	defer c.pumpMu.Unlock()

	if c.pubsub == nil {
		ps, err := c.gw.broker.Subscribe(context.Background(), channels...)
		if err != nil {
			c.gw.log.Warnw("websocket subscribe failed", "error", err)
			return
		}
		c.pubsub = ps
		c.gw.metrics.pubsubOpen.Inc()
	} else if err := c.pubsub.Subscribe(context.Background(), channels...); err != nil {
		c.gw.log.Warnw("websocket subscribe failed", "error", err)
		return
	}

	c.restartPumpLocked()
}

// handleUnsubscribe removes channels from the live subscription. An empty
// list, or a client with no subscription at all, drops the pub/sub state
// entirely; a client that never subscribed is ignored (spec §4.7,
// "Unsubscribe").
func (c *client) handleUnsubscribe(channels []string) {
	c.pumpMu.Lock()
	defer c.pumpMu.Unlock()

	if c.pubsub == nil {
		return
	}

	c.stopPumpLocked()

	if len(channels) == 0 {
		_ = c.pubsub.Close()
		c.pubsub = nil
		c.gw.metrics.pubsubOpen.Dec()
		return
	}

	_ = c.pubsub.Unsubscribe(context.Background(), channels...)
	c.restartPumpLocked()
}

// restartPumpLocked kills any prior pump before starting a new one, per
// spec §3's "at most one live pump per client" — resubscription always
// kills and replaces rather than running two pumps concurrently.
func (c *client) restartPumpLocked() {
	c.stopPumpLocked()

	ctx, cancel := context.WithCancel(context.Background())
	c.pumpCancel = cancel
	c.pumpDone = make(chan struct{})
	go c.pump(ctx, c.pubsub, c.pumpDone)
}

func (c *client) stopPumpLocked() {
	if c.pumpCancel == nil {
		return
	}
	c.pumpCancel()
	<-c.pumpDone
	c.pumpCancel = nil
	c.pumpDone = nil
}

func (c *client) stopPump() {
	c.pumpMu.Lock()
	defer c.pumpMu.Unlock()
	c.stopPumpLocked()
	if c.pubsub != nil {
		_ = c.pubsub.Close()
		c.pubsub = nil
		c.gw.metrics.pubsubOpen.Dec()
	}
}

// pump forwards one pub/sub handle's messages onto the client's send
// channel until ctx is cancelled or the handle closes.
func (c *client) pump(ctx context.Context, ps broker.PubSub, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ps.Messages():
			if !ok {
				return
			}
			data, _ := json.Marshal(map[string]any{
				"type":    "message",
				"channel": msg.Channel,
				"data":    json.RawMessage(msg.Payload),
			})
			c.gw.metrics.pubsubEvents.Inc()
			select {
			case c.send <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

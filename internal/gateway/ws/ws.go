// Package ws implements BlueCollar's WebSocket gateway (spec §4.7): one
// long-lived connection multiplexing ordinary request/reply traffic with
// broker pub/sub subscriptions, plus an XHR long-poll fallback for clients
// that cannot upgrade.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bluecollar/bluecollar/internal/broker"
	"github.com/bluecollar/bluecollar/internal/envelope"
	"github.com/bluecollar/bluecollar/internal/gateway"
)

// Config configures one WebSocket gateway instance.
type Config struct {
	// Timeout bounds both a request/reply round trip and an XHR long-poll
	// wait.
	Timeout time.Duration

	// Fallback names the protocol a client that cannot upgrade should be
	// handed off to when XHR long-polling is not requested: "http", "rest",
	// or "" to answer 400 (spec §4.7, "Fallback").
	Fallback string

	// LongPollSuffix is the path suffix (default "/xhr/") that selects the
	// XHR long-poll path instead of the configured Fallback.
	LongPollSuffix string

	// Authenticate gates subscribe requests (spec §1: "authentication
	// decorator (pluggable predicate)" is an external collaborator this
	// gateway only calls through). A nil Authenticate admits every
	// subscription.
	Authenticate func(*http.Request, []string) bool
}

func (c Config) longPollSuffix() string {
	if c.LongPollSuffix == "" {
		return "/xhr/"
	}
	return c.LongPollSuffix
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway is the WebSocket front end. It also serves the XHR long-poll
// fallback and an optional delegate for clients that request neither.
type Gateway struct {
	rendezvous *gateway.Rendezvous
	broker     broker.Broker
	cfg        Config
	log        *zap.SugaredLogger
	metrics    *metrics

	httpFallback http.Handler
	restFallback http.Handler
}

// New builds a WebSocket gateway. httpFallback and restFallback may be nil;
// whichever one cfg.Fallback names is used when a client cannot upgrade and
// is not requesting the long-poll path.
func New(rendezvous *gateway.Rendezvous, b broker.Broker, cfg Config, log *zap.SugaredLogger, reg prometheus.Registerer, httpFallback, restFallback http.Handler) *Gateway {
	return &Gateway{
		rendezvous:   rendezvous,
		broker:       b,
		cfg:          cfg,
		log:          log,
		metrics:      newMetrics(reg),
		httpFallback: httpFallback,
		restFallback: restFallback,
	}
}

// Router returns the net/http handler to mount on the gateway's listener.
func (g *Gateway) Router() http.Handler {
	return http.HandlerFunc(g.handle)
}

func (g *Gateway) handle(w http.ResponseWriter, req *http.Request) {
	if websocket.IsWebSocketUpgrade(req) {
		g.upgrade(w, req)
		return
	}
	if strings.HasSuffix(req.URL.Path, g.cfg.longPollSuffix()) {
		g.handleLongPoll(w, req)
		return
	}
	switch g.cfg.Fallback {
	case "http":
		if g.httpFallback != nil {
			g.httpFallback.ServeHTTP(w, req)
			return
		}
	case "rest":
		if g.restFallback != nil {
			g.restFallback.ServeHTTP(w, req)
			return
		}
	}
	http.Error(w, "This endpoint requires a WebSocket upgrade.", http.StatusBadRequest)
}

func (g *Gateway) upgrade(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		g.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	g.metrics.connectionsTotal.Inc()
	g.metrics.connectionsOpen.Inc()
	defer g.metrics.connectionsOpen.Dec()

	c := newClient(g, conn)
	c.run()
}

// handleLongPoll serves one XHR long-poll wait: subscribe, block for the
// first message or the timeout, reply with exactly that one event (spec
// §4.7, "XHR long-poll fallback").
func (g *Gateway) handleLongPoll(w http.ResponseWriter, req *http.Request) {
	channels, callback, err := parseLongPollRequest(req)
	if err != nil || len(channels) == 0 {
		http.Error(w, "Requires subscribe.", http.StatusBadRequest)
		return
	}
	if g.cfg.Authenticate != nil && !g.cfg.Authenticate(req, channels) {
		http.Error(w, "Not authorized.", http.StatusForbidden)
		return
	}

	ps, err := g.broker.Subscribe(req.Context(), channels...)
	if err != nil {
		http.Error(w, "Subscription failed.", http.StatusInternalServerError)
		return
	}
	defer ps.Close()

	ctx, cancel := context.WithTimeout(req.Context(), g.cfg.Timeout)
	defer cancel()

	select {
	case msg := <-ps.Messages():
		g.metrics.pubsubEvents.Inc()
		writeLongPollEvent(w, msg, callback)
	case <-ctx.Done():
		http.Error(w, "No message arrived before the timeout.", http.StatusGatewayTimeout)
	}
}

func writeLongPollEvent(w http.ResponseWriter, msg broker.Message, callback string) {
	body, _ := json.Marshal(map[string]any{
		"type":    "message",
		"channel": msg.Channel,
		"data":    json.RawMessage(msg.Payload),
	})
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if callback != "" {
		w.Header().Set("Content-Type", "text/javascript")
		_, _ = w.Write([]byte(callback + "(" + string(body) + ");"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func parseLongPollRequest(req *http.Request) (channels []string, callback string, err error) {
	if req.Method == http.MethodPost {
		var body struct {
			Subscribe []string `json:"subscribe"`
			Callback  string   `json:"callback"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return nil, "", err
		}
		return body.Subscribe, body.Callback, nil
	}
	return splitQueryList(req.URL.Query(), "subscribe"), req.URL.Query().Get("callback"), nil
}

func splitQueryList(values url.Values, key string) []string {
	var out []string
	for _, raw := range values[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// buildErrorReply mirrors the error-record shape a worker would have sent
// had the request reached one, so a gateway timeout looks the same to a
// WebSocket client whichever half of the round trip failed.
func buildErrorReply(message string) envelope.Reply {
	return envelope.Error(message, http.StatusGatewayTimeout)
}

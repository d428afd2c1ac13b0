package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bluecollar/bluecollar/internal/broker"
	"github.com/bluecollar/bluecollar/internal/envelope"
	"github.com/bluecollar/bluecollar/internal/gateway"
)

func newTestGateway(t *testing.T) (*Gateway, *broker.MemoryBroker) {
	t.Helper()
	b := broker.NewMemoryBroker()
	rendezvous := &gateway.Rendezvous{Broker: b, QueueKey: "list_bcqueue", ReplyPrefix: "bc"}
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("zap.NewDevelopment: %v", err)
	}
	g := New(rendezvous, b, Config{Timeout: 2 * time.Second}, logger.Sugar(), nil, nil, nil)
	return g, b
}

func startEchoWorker(t *testing.T, b *broker.MemoryBroker) {
	t.Helper()
	go func() {
		raw, err := b.BlockingPop(context.Background(), "list_bcqueue", 2*time.Second)
		if err != nil || raw == nil {
			return
		}
		var env envelope.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return
		}
		reply, _ := envelope.OK(map[string]any{"method": env.Method})
		data, _ := json.Marshal(reply)
		_ = b.Push(context.Background(), env.ReplyChannel, data)
	}()
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWebSocketRequestReplyRoundTrip(t *testing.T) {
	g, b := newTestGateway(t)
	startEchoWorker(t, b)

	server := httptest.NewServer(g.Router())
	defer server.Close()

	conn := dialWS(t, server)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"method": "calc.add", "args": []int{2, 3}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if decoded["method"] != "calc.add" {
		t.Fatalf("expected echoed method, got %v", decoded)
	}
}

func TestWebSocketSubscribeDeliversPublishedMessage(t *testing.T) {
	g, b := newTestGateway(t)

	server := httptest.NewServer(g.Router())
	defer server.Close()

	conn := dialWS(t, server)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"subscribe": []string{"room1"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// Give the subscribe handler time to attach before publishing.
	time.Sleep(50 * time.Millisecond)
	if err := b.Publish(context.Background(), "room1", []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "message" || decoded["channel"] != "room1" {
		t.Fatalf("unexpected pub/sub frame: %v", decoded)
	}
}

func TestWebSocketUnsubscribeStopsDelivery(t *testing.T) {
	g, b := newTestGateway(t)

	server := httptest.NewServer(g.Router())
	defer server.Close()

	conn := dialWS(t, server)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"subscribe": []string{"room1"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := conn.WriteJSON(map[string]any{"unsubscribe": []string{}}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := b.Publish(context.Background(), "room1", []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected no message after unsubscribe, but one arrived")
	}
}

func TestLongPollDeliversFirstMessage(t *testing.T) {
	g, b := newTestGateway(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = b.Publish(context.Background(), "room1", []byte(`{"x":1}`))
	}()

	req := httptest.NewRequest(http.MethodGet, "/xhr/?subscribe=room1", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["channel"] != "room1" {
		t.Fatalf("expected channel room1, got %v", decoded)
	}
}

func TestLongPollRequiresSubscribe(t *testing.T) {
	g, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/xhr/", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestNonUpgradeWithoutFallbackReturns400(t *testing.T) {
	g, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestNonUpgradeDelegatesToHTTPFallback(t *testing.T) {
	b := broker.NewMemoryBroker()
	rendezvous := &gateway.Rendezvous{Broker: b, QueueKey: "list_bcqueue", ReplyPrefix: "bc"}
	logger, _ := zap.NewDevelopment()
	delegate := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	g := New(rendezvous, b, Config{Timeout: time.Second, Fallback: "http"}, logger.Sugar(), nil, delegate, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected delegate's 418, got %d", rec.Code)
	}
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bluecollar/bluecollar/internal/broker"
	"github.com/bluecollar/bluecollar/internal/envelope"
	"github.com/bluecollar/bluecollar/internal/gateway"
	"go.uber.org/zap"
)

func newTestGatewayWithTimeout(t *testing.T, timeout time.Duration) (*Gateway, *broker.MemoryBroker) {
	t.Helper()
	b := broker.NewMemoryBroker()
	rendezvous := &gateway.Rendezvous{Broker: b, QueueKey: "list_bcqueue", ReplyPrefix: "bc"}
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("zap.NewDevelopment: %v", err)
	}
	g := New(rendezvous, Config{Prefix: "/", Timeout: timeout}, logger.Sugar())
	return g, b
}

func newTestGateway(t *testing.T) (*Gateway, *broker.MemoryBroker) {
	t.Helper()
	return newTestGatewayWithTimeout(t, 2*time.Second)
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
		reply, _ := envelope.OK(map[string]any{"method": env.Method, "args": env.Args})
		data, _ := json.Marshal(reply)
		_ = b.Push(context.Background(), env.ReplyChannel, data)
	}()
}

func TestHTTPGatewayGET(t *testing.T) {
	g, b := newTestGateway(t)
	startEchoWorker(t, b)

	req := httptest.NewRequest(http.MethodGet, "/calc.add/2/3", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPGatewayPOST(t *testing.T) {
	g, b := newTestGateway(t)
	startEchoWorker(t, b)

	body := []byte(`{"method":"calc.add","args":[2,3]}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPGatewayUnsupportedMethod(t *testing.T) {
	g, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPut, "/calc.add/2/3", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestHTTPGatewayTimeout(t *testing.T) {
	g, _ := newTestGatewayWithTimeout(t, 30*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/calc.add/2/3", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on timeout, got %d", rec.Code)
	}
}

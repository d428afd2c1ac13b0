// Package http implements BlueCollar's plain HTTP gateway (spec §4.5):
// GET /<prefix>/<method>/<arg>... and POST /<prefix>/ with a JSON envelope
// body, both rendezvousing with a worker over the broker.
package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bluecollar/bluecollar/internal/envelope"
	"github.com/bluecollar/bluecollar/internal/gateway"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
)

// Config configures one HTTP gateway instance.
type Config struct {
	Prefix  string
	Timeout time.Duration
}

// Gateway is the HTTP front end. It holds no per-request state; each
// request builds its own envelope and reply channel.
type Gateway struct {
	rendezvous *gateway.Rendezvous
	cfg        Config
	log        *zap.SugaredLogger
}

// New builds an HTTP gateway that dispatches through rendezvous.
func New(rendezvous *gateway.Rendezvous, cfg Config, log *zap.SugaredLogger) *Gateway {
	return &Gateway{rendezvous: rendezvous, cfg: cfg, log: log}
}

// Router returns the chi handler to mount on the gateway's listener.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.HandleFunc("/*", g.handle)
	return r
}

func (g *Gateway) handle(w http.ResponseWriter, req *http.Request) {
	replyChannel := g.rendezvous.NewReplyChannel()

	var env envelope.Envelope
	switch req.Method {
	case http.MethodGet:
		e, ok := g.buildFromPath(w, req)
		if !ok {
			return
		}
		env = e
	case http.MethodPost:
		e, ok := g.buildFromBody(w, req)
		if !ok {
			return
		}
		env = e
	default:
		http.Error(w, "501: Method not implemented. Only GET/POST are expected.", http.StatusNotImplemented)
		return
	}
	env.ReplyChannel = replyChannel

	reply, err := g.rendezvous.Dispatch(req.Context(), env, g.cfg.Timeout)
	if err == gateway.ErrTimeout {
		http.Error(w, "500: Timed out waiting for response.", http.StatusInternalServerError)
		return
	}
	if err != nil {
		g.log.Errorw("http gateway dispatch failed", "error", err)
		http.Error(w, fmt.Sprintf("500: %v", err), http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(reply)
	if err != nil {
		http.Error(w, fmt.Sprintf("500: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (g *Gateway) buildFromPath(w http.ResponseWriter, req *http.Request) (envelope.Envelope, bool) {
	if !strings.HasPrefix(req.URL.Path, g.cfg.Prefix) {
		http.Error(w, fmt.Sprintf("500: Expected prefix %s not found in request path.", g.cfg.Prefix), http.StatusInternalServerError)
		return envelope.Envelope{}, false
	}
	trimmed := strings.TrimPrefix(req.URL.Path, g.cfg.Prefix)
	segments := strings.Split(trimmed, "/")
	if len(segments) == 0 || segments[0] == "" {
		http.Error(w, "500: Expected a method in request path.", http.StatusInternalServerError)
		return envelope.Envelope{}, false
	}

	method := segments[0]
	args := make([]json.RawMessage, 0, len(segments)-1)
	for _, seg := range segments[1:] {
		raw, _ := json.Marshal(seg)
		args = append(args, raw)
	}

	kwargs := queryToKwargs(req.URL.Query())

	return envelope.Envelope{Method: method, Args: args, Kwargs: kwargs}, true
}

func (g *Gateway) buildFromBody(w http.ResponseWriter, req *http.Request) (envelope.Envelope, bool) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "500: Unable to read POST body.", http.StatusInternalServerError)
		return envelope.Envelope{}, false
	}

	var env envelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		http.Error(w, "500: Unable to parse JSON data in POST.", http.StatusInternalServerError)
		return envelope.Envelope{}, false
	}
	return env, true
}

// queryToKwargs mirrors Python's parse_qs: every value is a list, even a
// single one, matching the original HTTP gateway's kwargs shape.
func queryToKwargs(values url.Values) map[string]any {
	if len(values) == 0 {
		return nil
	}
	kwargs := make(map[string]any, len(values))
	for k, v := range values {
		list := make([]any, len(v))
		for i, s := range v {
			list[i] = s
		}
		kwargs[k] = list
	}
	return kwargs
}

// Package rest implements BlueCollar's REST gateway (spec §4.6): a
// resource-discovery walk over the URL path, consulting the worker pool
// via no_exec envelopes and caching the outcome so repeat requests for
// the same resource never probe twice.
package rest

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bluecollar/bluecollar/internal/envelope"
	"github.com/bluecollar/bluecollar/internal/gateway"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
)

// Config configures one REST gateway instance.
type Config struct {
	Prefix      string
	Timeout     time.Duration
	ErrorDocURL string
}

// negativeMarker is stored in the method cache for a prefix that probing
// has already shown is not a resource (spec §3, "Resolver entry").
const negativeMarker = -1

// methodCache is the REST gateway's process-local resource cache (spec
// §4.6, "The REST method cache is process-local to the gateway"). Unlike
// the worker's single-goroutine caches, the REST gateway serves many
// concurrent HTTP requests, so this one is guarded by a mutex.
type methodCache struct {
	mu      sync.RWMutex
	entries map[string]int
}

func newMethodCache() *methodCache {
	return &methodCache{entries: make(map[string]int)}
}

func (c *methodCache) get(path string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[path]
	return v, ok
}

func (c *methodCache) set(path string, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = value
}

// Gateway is the REST front end.
type Gateway struct {
	rendezvous *gateway.Rendezvous
	cfg        Config
	cache      *methodCache
	log        *zap.SugaredLogger
}

// New builds a REST gateway that dispatches through rendezvous.
func New(rendezvous *gateway.Rendezvous, cfg Config, log *zap.SugaredLogger) *Gateway {
	return &Gateway{rendezvous: rendezvous, cfg: cfg, cache: newMethodCache(), log: log}
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
	ctx := req.Context()
	replyChannel := g.rendezvous.NewReplyChannel()

	kwargs := queryToKwargs(req.URL.Query())
	suppressCodes := popSuppressFlag(kwargs)

	var callback string
	if v, ok := popFirst(kwargs, "callback"); ok {
		callback = v
	}

	httpMethod := strings.ToLower(req.Method)
	if v, ok := peekFirst(kwargs, "method"); ok && v != "" {
		httpMethod = v
	}

	if httpMethod == "options" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if h := req.Header.Get("Access-Control-Request-Headers"); h != "" {
			w.Header().Set("Access-Control-Allow-Headers", h)
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	if httpMethod == "post" {
		body, err := readAndParseForm(req)
		if err == nil {
			for k, v := range body {
				kwargs[k] = v
			}
		}
	}

	if !strings.HasPrefix(req.URL.Path, g.cfg.Prefix) {
		g.appError(w, req, http.StatusNotFound,
			fmt.Sprintf("Invalid request path. Expected prefix %s", g.cfg.Prefix), suppressCodes)
		return
	}

	trimmed := strings.TrimPrefix(req.URL.Path, g.cfg.Prefix)
	elements := strings.Split(trimmed, "/")
	if len(elements) > 0 {
		last := elements[len(elements)-1]
		if dot := strings.LastIndex(last, "."); dot > 0 {
			ext := last[dot:]
			elements[len(elements)-1] = last[:dot]
			if ext != ".json" {
				g.appError(w, req, http.StatusNotAcceptable,
					fmt.Sprintf("Unsupported content type %s.", strings.TrimPrefix(ext, ".")), suppressCodes)
				return
			}
		}
	}

	resource, args, err := g.discoverResource(ctx, elements, httpMethod, replyChannel)
	if err == gateway.ErrTimeout {
		g.appError(w, req, http.StatusGatewayTimeout, "Application did not respond in a timely fashion.", suppressCodes)
		return
	}
	if err != nil {
		g.log.Errorw("rest gateway discovery failed", "error", err)
		g.appError(w, req, http.StatusGatewayTimeout, "Application did not respond in a timely fashion.", suppressCodes)
		return
	}
	if resource == "" {
		g.appError(w, req, http.StatusNotFound, "No supported server method found.", suppressCodes)
		return
	}

	argValues := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw, _ := json.Marshal(a)
		argValues[i] = raw
	}

	env := envelope.Envelope{
		Method:       fmt.Sprintf("%s.http_%s", resource, httpMethod),
		Args:         argValues,
		Kwargs:       kwargs,
		ReplyChannel: replyChannel,
	}
	reply, err := g.rendezvous.Dispatch(ctx, env, g.cfg.Timeout)
	if err == gateway.ErrTimeout {
		g.appError(w, req, http.StatusGatewayTimeout, "Application did not respond in a timely fashion.", suppressCodes)
		return
	}
	if err != nil {
		g.log.Errorw("rest gateway dispatch failed", "error", err)
		g.appError(w, req, http.StatusGatewayTimeout, "Application did not respond in a timely fashion.", suppressCodes)
		return
	}

	body, err := json.Marshal(reply)
	if err != nil {
		g.appError(w, req, http.StatusInternalServerError, err.Error(), suppressCodes)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	if callback != "" {
		body = []byte(fmt.Sprintf("%s(%s);", callback, body))
		w.Header().Set("Content-Type", "text/javascript")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}

	compressed := deflate(body)
	w.Header().Set("Content-Encoding", "deflate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(compressed)
}

// discoverResource walks elements left-to-right, consulting the method
// cache and probing the worker pool with no_exec envelopes, per spec
// §4.6 step 4.
func (g *Gateway) discoverResource(ctx context.Context, elements []string, httpMethod, replyChannel string) (resource string, args []string, err error) {
	var prefix string
	for i, el := range elements {
		if prefix == "" {
			prefix = el
		} else {
			prefix = prefix + "." + el
		}

		if idx, ok := g.cache.get(prefix); ok {
			if idx == negativeMarker {
				continue
			}
			return prefix, elements[idx:], nil
		}

		found, _, probeErr := g.rendezvous.Probe(ctx, fmt.Sprintf("%s.http_%s", prefix, httpMethod), g.cfg.Timeout)
		if probeErr != nil {
			return "", nil, probeErr
		}
		if found {
			g.cache.set(prefix, i+1)
			return prefix, elements[i+1:], nil
		}
		g.cache.set(prefix, negativeMarker)
	}
	return "", nil, nil
}

func (g *Gateway) appError(w http.ResponseWriter, req *http.Request, code int, message string, suppressCodes bool) {
	body := map[string]any{"message": message}
	if g.cfg.ErrorDocURL != "" {
		body["more_info"] = g.cfg.ErrorDocURL + url.QueryEscape(message)
	}
	status := code
	if suppressCodes {
		body["response_code"] = code
		status = http.StatusOK
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(body)
	_, _ = w.Write(data)
}

func queryToKwargs(values url.Values) map[string]any {
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

// popSuppressFlag accepts both the historically misspelled
// "supress_response_codes" and the correct spelling (spec §9 Open
// Question resolution), removing whichever is present.
func popSuppressFlag(kwargs map[string]any) bool {
	for _, key := range []string{"supress_response_codes", "suppress_response_codes"} {
		if v, ok := popFirst(kwargs, key); ok {
			return v != "" && v != "0"
		}
	}
	return false
}

func popFirst(kwargs map[string]any, key string) (string, bool) {
	v, ok := peekFirst(kwargs, key)
	if ok {
		delete(kwargs, key)
	}
	return v, ok
}

func peekFirst(kwargs map[string]any, key string) (string, bool) {
	raw, ok := kwargs[key]
	if !ok {
		return "", false
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return "", false
	}
	s, _ := list[0].(string)
	return s, true
}

func readAndParseForm(req *http.Request) (map[string]any, error) {
	if err := req.ParseForm(); err != nil {
		return nil, err
	}
	return queryToKwargs(req.PostForm), nil
}

func deflate(data []byte) []byte {
	var buf bytes.Buffer
	writer := zlib.NewWriter(&buf)
	_, _ = writer.Write(data)
	_ = writer.Close()
	return buf.Bytes()
}

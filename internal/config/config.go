// Package config loads BlueCollar's runtime configuration from environment
// variables (spec §6). Each process (worker, httpgw, restgw, wsgw) loads
// only the struct it needs; defaults are applied the same way this
// codebase's YAML config loader applies them — read, then fill zero values.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Broker holds the connection settings shared by every process that talks
// to the broker (worker and all three gateways).
type Broker struct {
	RedisHost  string
	RedisPort  int
	RedisDB    int
	Queue      string
	WorkerList string
}

// LoadBroker reads BC_REDISHOST / BC_REDISPORT / BC_REDISDB / BC_QUEUE /
// BC_WORKERLIST, applying spec §6's defaults.
func LoadBroker() (Broker, error) {
	port, err := parseIntEnv("BC_REDISPORT", 6379)
	if err != nil {
		return Broker{}, err
	}
	db, err := parseIntEnv("BC_REDISDB", 0)
	if err != nil {
		return Broker{}, err
	}
	if db < 0 || db > 15 {
		return Broker{}, fmt.Errorf("config: BC_REDISDB must be 0-15, got %d", db)
	}
	return Broker{
		RedisHost:  getEnv("BC_REDISHOST", "localhost"),
		RedisPort:  port,
		RedisDB:    db,
		Queue:      getEnv("BC_QUEUE", "list_bcqueue"),
		WorkerList: getEnv("BC_WORKERLIST", "list_bcworkers"),
	}, nil
}

// HTTPGateway holds BC_HTTP_* settings.
type HTTPGateway struct {
	Host        string
	Port        int
	Prefix      string
	TimeoutSecs int
	ReplyPrefix string
}

func LoadHTTPGateway() (HTTPGateway, error) {
	port, err := parseIntEnv("BC_HTTP_PORT", 8001)
	if err != nil {
		return HTTPGateway{}, err
	}
	timeout, err := parseIntEnv("BC_HTTP_TIMEOUT", 300)
	if err != nil {
		return HTTPGateway{}, err
	}
	return HTTPGateway{
		Host:        getEnv("BC_HTTP_HOST", "0.0.0.0"),
		Port:        port,
		Prefix:      getEnv("BC_HTTP_PREFIX", "/"),
		TimeoutSecs: timeout,
		ReplyPrefix: getEnv("BC_HTTP_REPLY_PREFIX", "bc"),
	}, nil
}

// RESTGateway holds BC_REST_* settings.
type RESTGateway struct {
	Host        string
	Port        int
	Prefix      string
	TimeoutSecs int
	ReplyPrefix string
	ErrorDocURL string
}

func LoadRESTGateway() (RESTGateway, error) {
	port, err := parseIntEnv("BC_REST_PORT", 8002)
	if err != nil {
		return RESTGateway{}, err
	}
	timeout, err := parseIntEnv("BC_REST_TIMEOUT", 300)
	if err != nil {
		return RESTGateway{}, err
	}
	return RESTGateway{
		Host:        getEnv("BC_REST_HOST", "0.0.0.0"),
		Port:        port,
		Prefix:      getEnv("BC_REST_PREFIX", "/"),
		TimeoutSecs: timeout,
		ReplyPrefix: getEnv("BC_REST_REPLY_PREFIX", "bc"),
		ErrorDocURL: getEnv("BC_REST_ERROR_DOC_URL", ""),
	}, nil
}

// WSGateway holds BC_WS_* settings. Its broker connection can be
// independently configured (BC_WS_REDISHOST etc.) per spec §6, falling back
// to the shared Broker settings when unset.
type WSGateway struct {
	Host            string
	Port            int
	TimeoutSecs     int
	ReplyPrefix     string
	Fallback        string // "", "http", or "rest"
	SkipLongPolling bool
}

func LoadWSGateway() (WSGateway, error) {
	port, err := parseIntEnv("BC_WS_PORT", 8003)
	if err != nil {
		return WSGateway{}, err
	}
	timeout, err := parseIntEnv("BC_WS_TIMEOUT", 300)
	if err != nil {
		return WSGateway{}, err
	}
	return WSGateway{
		Host:            getEnv("BC_WS_HOST", "0.0.0.0"),
		Port:            port,
		TimeoutSecs:     timeout,
		ReplyPrefix:     getEnv("BC_WS_REPLY_PREFIX", "bc"),
		Fallback:        getEnv("BC_WS_FALLBACK", ""),
		SkipLongPolling: getBoolEnv("BC_WS_SKIP_LONGPOLLING", false),
	}, nil
}

// LoadWSBroker resolves the WebSocket gateway's own broker override,
// falling back to the shared broker config's host/port/db when
// BC_WS_REDISHOST etc. are unset.
func LoadWSBroker(shared Broker) (Broker, error) {
	b := shared
	if v := os.Getenv("BC_WS_REDISHOST"); v != "" {
		b.RedisHost = v
	}
	if v := os.Getenv("BC_WS_REDISPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Broker{}, fmt.Errorf("config: invalid BC_WS_REDISPORT: %w", err)
		}
		b.RedisPort = port
	}
	if v := os.Getenv("BC_WS_REDISDB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return Broker{}, fmt.Errorf("config: invalid BC_WS_REDISDB: %w", err)
		}
		b.RedisDB = db
	}
	return b, nil
}

// Debug reports whether verbose logging was requested via DEBUG.
func Debug() bool {
	return getBoolEnv("DEBUG", false)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseIntEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	if n < 0 {
		n = -n
	}
	return n, nil
}

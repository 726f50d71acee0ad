// Package client provides a high-level SDK for embedding the sync agent in
// a Go application. It wires the engine, the durable queue and the websocket
// channel behind one facade.
package client

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/shiftsync/shiftsync/internal/auth"
	"github.com/shiftsync/shiftsync/internal/core/channel"
	"github.com/shiftsync/shiftsync/internal/core/engine"
	"github.com/shiftsync/shiftsync/internal/core/events/bus"
	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/queue"
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

// Config holds configuration for the client.
type Config struct {
	// ServerURL is the base http(s):// URL of the sync server.
	ServerURL string
	// EventsURL is the ws(s):// URL of the event hub. Derived from
	// ServerURL when empty.
	EventsURL string

	// DataDir holds the durable offline queue. Empty selects an in-memory
	// queue that does not survive restarts.
	DataDir string

	// Tokens supplies bearer tokens. Required.
	Tokens auth.TokenProvider

	// Engine timings; zero fields take engine defaults.
	DebounceWindow    time.Duration
	ConnectTimeout    time.Duration
	ReconcileInterval time.Duration

	// Logging
	LogLevel log.Level
}

// DefaultConfig returns default client configuration for a local server.
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://127.0.0.1:8080",
		LogLevel:  log.LevelInfo,
	}
}

// ChangeHandler receives every remote document change applied locally.
type ChangeHandler func(key sync.Key, value json.RawMessage)

// StatusHandler receives connection status transitions.
type StatusHandler func(status engine.Status)

// Client is one embedded sync session.
type Client struct {
	config Config
	logger log.Log

	eng *engine.SyncEngine
	q   queue.Store
	bus bus.EventBus

	onChange atomic.Pointer[ChangeHandler]
	onStatus atomic.Pointer[StatusHandler]

	started int32 // atomic bool
	closed  int32 // atomic bool
}

// New creates a client. The engine does not connect until Start.
func New(config Config) (*Client, error) {
	if config.ServerURL == "" {
		return nil, ErrInvalidConfig
	}
	if config.Tokens == nil {
		return nil, ErrNoTokenProvider
	}
	if config.EventsURL == "" {
		config.EventsURL = deriveEventsURL(config.ServerURL)
	}

	logger := log.New(config.LogLevel).With(log.String("component", "sdk_client"))

	var (
		q   queue.Store
		err error
	)
	if config.DataDir != "" {
		q, err = queue.OpenSQLite(config.DataDir)
		if err != nil {
			return nil, err
		}
	} else {
		q = queue.NewMemoryStore()
	}

	c := &Client{
		config: config,
		logger: logger,
		q:      q,
		bus:    bus.New(),
	}

	c.eng = engine.New(engine.Config{
		DebounceWindow:    config.DebounceWindow,
		ConnectTimeout:    config.ConnectTimeout,
		ReconcileInterval: config.ReconcileInterval,
	}, engine.Deps{
		Queue:     q,
		Channel:   channel.NewWebSocketAdapter(channel.DefaultWebSocketConfig(config.EventsURL), logger),
		Transport: engine.NewTransport(config.ServerURL, 0),
		Tokens:    config.Tokens,
		Bus:       c.bus,
		Logger:    logger,
		LocalApply: func(key sync.Key, value json.RawMessage) {
			if h := c.onChange.Load(); h != nil {
				(*h)(key, value)
			}
		},
	})

	_, _ = c.bus.Subscribe(engine.EventStatus, func(ev bus.Event) error {
		if h := c.onStatus.Load(); h != nil {
			if status, ok := ev.Data().(engine.Status); ok {
				(*h)(status)
			}
		}
		return nil
	})

	return c, nil
}

// Start begins connecting and flushing any queued writes from a previous
// session.
func (c *Client) Start() error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return ErrAlreadyStarted
	}
	return c.eng.Init()
}

// Close stops the engine and releases the queue. Pending writes stay queued
// for the next session.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil // already closed
	}
	c.eng.Shutdown()
	return c.q.Close()
}

// Write records one local mutation for debounced sync.
func (c *Client) Write(key sync.Key, value json.RawMessage) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if !sync.Valid(key) {
		return ErrInvalidKey
	}
	c.eng.OnLocalWrite(key, value)
	return nil
}

// Flush pushes all queued writes immediately instead of waiting for the
// next subscribe.
func (c *Client) Flush() error {
	return c.eng.FlushQueue("manual")
}

// Reconnect forces a fresh connect attempt.
func (c *Client) Reconnect() {
	c.eng.ForceReconnect()
}

// OnChange installs the remote-change handler. Only one handler is active;
// installing replaces the previous one.
func (c *Client) OnChange(h ChangeHandler) {
	c.onChange.Store(&h)
}

// OnStatus installs the status handler.
func (c *Client) OnStatus(h StatusHandler) {
	c.onStatus.Store(&h)
}

// State returns the current connection state.
func (c *Client) State() engine.ConnState {
	return c.eng.State()
}

// ClientID returns the id stamped on this session's pushes.
func (c *Client) ClientID() string {
	return c.eng.ClientID()
}

// Pending returns the queued, not-yet-flushed writes.
func (c *Client) Pending() ([]queue.Entry, error) {
	return c.q.All()
}

// deriveEventsURL maps the server base URL onto the websocket endpoint.
func deriveEventsURL(serverURL string) string {
	ws := serverURL
	switch {
	case len(ws) > 8 && ws[:8] == "https://":
		ws = "wss://" + ws[8:]
	case len(ws) > 7 && ws[:7] == "http://":
		ws = "ws://" + ws[7:]
	}
	return ws + "/sync/events"
}

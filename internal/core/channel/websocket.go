package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

var _ Adapter = (*WebSocketAdapter)(nil)

// authFrame is the in-band control frame used to rotate the bearer token
// without dropping the socket.
type authFrame struct {
	Action string `json:"action"`
	Token  string `json:"token"`
}

// WebSocketAdapter subscribes to the server's /sync/events endpoint.
type WebSocketAdapter struct {
	endpoint     string
	dialTimeout  time.Duration
	pingInterval time.Duration
	pongWait     time.Duration
	logger       log.Log

	mu   gosync.Mutex
	conn *websocket.Conn
}

// WebSocketConfig holds adapter settings.
type WebSocketConfig struct {
	// Endpoint is the ws:// or wss:// URL of the event hub.
	Endpoint     string
	DialTimeout  time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
}

func DefaultWebSocketConfig(endpoint string) WebSocketConfig {
	return WebSocketConfig{
		Endpoint:     endpoint,
		DialTimeout:  10 * time.Second,
		PingInterval: 25 * time.Second,
		PongWait:     60 * time.Second,
	}
}

func NewWebSocketAdapter(cfg WebSocketConfig, logger log.Log) *WebSocketAdapter {
	if logger == nil {
		logger = log.Nop()
	}
	return &WebSocketAdapter{
		endpoint:     cfg.Endpoint,
		dialTimeout:  cfg.DialTimeout,
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		logger:       logger.With(log.String("component", "ws_channel")),
	}
}

func (a *WebSocketAdapter) Subscribe(ctx context.Context, token string, onChange ChangeFunc, onStatus StatusFunc) (Unsubscribe, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, a.dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.endpoint, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	var once gosync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			close(done)
			_ = conn.Close()
			a.mu.Lock()
			if a.conn == conn {
				a.conn = nil
			}
			a.mu.Unlock()
		})
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(a.pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(a.pongWait))

	// keepalive pinger
	go func() {
		ticker := time.NewTicker(a.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				a.mu.Unlock()
				if err != nil {
					a.logger.Debug("ping failed", log.Error(err))
					return
				}
			case <-done:
				return
			}
		}
	}()

	// read loop
	go func() {
		defer stop()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
					onStatus(StatusClosed, nil)
				default:
					if isTimeout(err) {
						onStatus(StatusTimedOut, err)
					} else {
						onStatus(StatusChannelError, err)
					}
				}
				return
			}

			var ev sync.ChangeEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				a.logger.Warn("undecodable change event", log.Error(err))
				continue
			}
			if ev.Key == "" {
				continue
			}
			onChange(ev)
		}
	}()

	onStatus(StatusSubscribed, nil)
	return Unsubscribe(stop), nil
}

// Reauthorize sends the rotated token as an in-band auth frame. When no
// socket is live the caller falls back to a full resubscribe.
func (a *WebSocketAdapter) Reauthorize(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return ErrReauthorizeUnavailable
	}
	frame, err := json.Marshal(authFrame{Action: "auth", Token: token})
	if err != nil {
		return err
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return ErrReauthorizeUnavailable
	}
	return nil
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

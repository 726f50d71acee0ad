package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftsync/shiftsync/internal/auth"
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

type bridgeRig struct {
	hub      *Hub
	bridge   *RedisBridge
	srv      *httptest.Server
	verifier *auth.Verifier
}

func newBridgeRig(t *testing.T, addr, instanceID string) *bridgeRig {
	t.Helper()

	cfg := DefaultConfig()
	cfg.TokenSecret = "test-secret"
	verifier := auth.NewVerifier([]byte(cfg.TokenSecret))
	hub := NewHub(cfg, verifier, nil)
	t.Cleanup(hub.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sync/events", hub.HandleSubscribe)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	bridge := NewRedisBridge(addr, cfg.RedisChannel, instanceID, hub, nil)
	require.NoError(t, bridge.Start(context.Background()))
	t.Cleanup(bridge.Stop)

	return &bridgeRig{hub: hub, bridge: bridge, srv: srv, verifier: verifier}
}

func (r *bridgeRig) subscribe(t *testing.T) *websocket.Conn {
	t.Helper()
	token, err := r.verifier.Sign(auth.Identity{UserID: "u-1", Role: auth.RoleMember}, time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/sync/events?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return r.hub.ClientCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) sync.ChangeEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev sync.ChangeEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestRedisBridge_FansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	rigA := newBridgeRig(t, mr.Addr(), "instance-a")
	rigB := newBridgeRig(t, mr.Addr(), "instance-b")

	conn := rigB.subscribe(t)

	rigA.hub.Broadcast(sync.ChangeEvent{
		Key:               sync.KeyAnnouncements,
		Value:             json.RawMessage(`[{"id":"a1"}]`),
		UpdatedByClientID: "client-a",
		UpdatedAt:         time.Now().UTC(),
	})

	ev := readEvent(t, conn)
	assert.Equal(t, sync.KeyAnnouncements, ev.Key)
	assert.Equal(t, "client-a", ev.UpdatedByClientID)
}

func TestRedisBridge_SkipsOwnMessages(t *testing.T) {
	mr := miniredis.RunT(t)

	rig := newBridgeRig(t, mr.Addr(), "instance-a")
	conn := rig.subscribe(t)

	rig.hub.Broadcast(sync.ChangeEvent{
		Key:   sync.KeyReminders,
		Value: json.RawMessage(`[]`),
	})

	// exactly one delivery: the direct local fan-out. The echo coming back
	// through redis carries this instance's id and must be dropped.
	ev := readEvent(t, conn)
	assert.Equal(t, sync.KeyReminders, ev.Key)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "own redis message was re-delivered")
}

func TestRedisBridge_StartFailsWithoutRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenSecret = "test-secret"
	hub := NewHub(cfg, auth.NewVerifier([]byte(cfg.TokenSecret)), nil)
	defer hub.Close()

	bridge := NewRedisBridge("127.0.0.1:1", cfg.RedisChannel, "instance-x", hub, nil)

	assert.Error(t, bridge.Start(context.Background()))
}

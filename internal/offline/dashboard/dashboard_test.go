package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/koinonia-app/koinonia/internal/offline/events"
	"github.com/koinonia-app/koinonia/internal/offline/metrics"
	"github.com/koinonia-app/koinonia/internal/offline/notify"
	"github.com/koinonia-app/koinonia/internal/offline/schema"
	offlinesync "github.com/koinonia-app/koinonia/internal/offline/sync"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticQueue []schema.PendingDevotional

func (q staticQueue) Pending() []schema.PendingDevotional { return q }

type drainerFunc func(ctx context.Context) (offlinesync.SyncResult, error)

func (f drainerFunc) Drain(ctx context.Context) (offlinesync.SyncResult, error) { return f(ctx) }

func startServer(t *testing.T, config *Config) *Server {
	t.Helper()
	config.Addr = "127.0.0.1:0"
	config.Logger = zerolog.Nop()

	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
		http.DefaultClient.CloseIdleConnections()
	})
	return server
}

func dial(t *testing.T, server *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func pendingItems(n int) staticQueue {
	items := make(staticQueue, n)
	for i := range items {
		items[i] = schema.NewPending("offline-"+string(rune('a'+i)), schema.Draft{Title: "T", Text: "x"}, time.Now())
	}
	return items
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: zerolog.Nop()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("unexpected listen address %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	server := NewServer(nil)
	assert.NoError(t, server.Stop())
	assert.Equal(t, DefaultConfig().Addr, server.GetAddr())
}

func TestWebSocketWelcome(t *testing.T) {
	server := startServer(t, &Config{Queue: pendingItems(2)})
	conn, ctx := dial(t, server)

	msg := readMessage(t, ctx, conn)
	assert.Equal(t, MessageTypePendingCount, msg.Type)

	var data PendingCountData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, 2, data.Pending)

	require.Eventually(t, func() bool { return server.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandlerBroadcastsBusEvents(t *testing.T) {
	queue := pendingItems(1)
	server := startServer(t, &Config{Queue: queue})
	conn, ctx := dial(t, server)
	readMessage(t, ctx, conn) // welcome
	require.Eventually(t, func() bool { return server.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	bus := events.NewBus(zerolog.Nop())
	detach := NewHandler(server, queue, zerolog.Nop()).Attach(bus)
	defer detach()

	bus.Emit(events.SyncComplete, offlinesync.SyncResult{Success: 3, Failed: 1})

	msg := readMessage(t, ctx, conn)
	require.Equal(t, MessageTypeSyncComplete, msg.Type)
	var sc SyncCompleteData
	require.NoError(t, json.Unmarshal(msg.Data, &sc))
	assert.Equal(t, SyncCompleteData{Success: 3, Failed: 1, Pending: 1}, sc)

	assert.Equal(t, MessageTypePendingCount, readMessage(t, ctx, conn).Type)

	bus.Emit(events.ConnectionOffline, nil)
	msg = readMessage(t, ctx, conn)
	require.Equal(t, MessageTypeConnectivity, msg.Type)
	var cd ConnectivityData
	require.NoError(t, json.Unmarshal(msg.Data, &cd))
	assert.False(t, cd.Online)

	notify.Publish(bus).Notify(notify.Notice{Title: "Saved offline", Variant: notify.VariantSuccess})
	msg = readMessage(t, ctx, conn)
	require.Equal(t, MessageTypeNotice, msg.Type)
	var nd NoticeData
	require.NoError(t, json.Unmarshal(msg.Data, &nd))
	assert.Equal(t, NoticeData{Title: "Saved offline", Variant: "success"}, nd)

	detach()
	assert.Equal(t, 0, bus.Subscribers(events.SyncComplete))
}

func TestHealthAndPending(t *testing.T) {
	server := startServer(t, &Config{Queue: pendingItems(2)})
	base := "http://" + server.GetAddr()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 2.0, health["pending"])

	resp2, err := http.Get(base + "/pending")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var items []schema.PendingDevotional
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&items))
	assert.Len(t, items, 2)
	assert.True(t, items[0].IsPending)
}

func TestSyncEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		drainer    Drainer
		method     string
		wantStatus int
	}{
		{
			name: "ok",
			drainer: drainerFunc(func(context.Context) (offlinesync.SyncResult, error) {
				return offlinesync.SyncResult{Success: 2}, nil
			}),
			method:     http.MethodPost,
			wantStatus: http.StatusOK,
		},
		{
			name: "in progress",
			drainer: drainerFunc(func(context.Context) (offlinesync.SyncResult, error) {
				return offlinesync.SyncResult{}, offlinesync.ErrSyncInProgress
			}),
			method:     http.MethodPost,
			wantStatus: http.StatusConflict,
		},
		{name: "not configured", method: http.MethodPost, wantStatus: http.StatusServiceUnavailable},
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, &Config{Drainer: tt.drainer})

			req, err := http.NewRequest(tt.method, "http://"+server.GetAddr()+"/sync", nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetPending(5)

	server := startServer(t, &Config{Gatherer: reg})

	resp, err := http.Get("http://" + server.GetAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "koinonia_devotionals_pending 5")
}

func TestRootAndNotFound(t *testing.T) {
	server := startServer(t, &Config{})
	base := "http://" + server.GetAddr()

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ddos-guard/api/internal/storage"
	"ddos-guard/internal/blocklist"
	"ddos-guard/internal/capture"
	"ddos-guard/internal/control"
	"ddos-guard/internal/counter"
	"ddos-guard/internal/detector"
	"ddos-guard/internal/enforcement"
	"ddos-guard/internal/metrics"
	"ddos-guard/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	mu       sync.Mutex
	unblocks int
	fail     error
	ctxErrs  []error
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) Block(ctx context.Context, source model.SourceIdentifier) enforcement.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	return enforcement.Result{Action: enforcement.ActionBlock, Source: source, Backend: "stub"}
}

func (g *stubGateway) Unblock(ctx context.Context, source model.SourceIdentifier) enforcement.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unblocks++
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	return enforcement.Result{Action: enforcement.ActionUnblock, Source: source, Backend: "stub", Err: g.fail}
}

type idleSource struct{}

func (idleSource) NextPacket() (gopacket.Packet, error) {
	time.Sleep(time.Millisecond)
	return nil, pcap.NextErrorTimeoutExpired
}

func (idleSource) Close() {}

type fixture struct {
	router *mux.Router
	engine *detector.Engine
	store  *storage.Storage
	gw     *stubGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry := metrics.NewRegistry()
	gw := &stubGateway{}
	engine := detector.NewEngine(3, counter.New(time.Minute), blocklist.NewRegistry(), gw, logger)
	engine.SetMetrics(metrics.NewGuardMetrics(registry))
	controller := capture.NewController(func() (capture.Source, error) { return idleSource{}, nil }, engine, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		controller.Stop()
		cancel()
	})

	store := storage.NewStorage(logger)
	go store.Consume(ctx, engine.Events())

	h := NewHandlers(control.NewSurface(ctx, engine, controller), store, nil, time.Second, logger)
	return &fixture{router: NewRouter(h, registry), engine: engine, store: store, gw: gw}
}

func (f *fixture) do(t *testing.T, method, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestRoot(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "DDoS Detection API is running", body["message"])
}

func TestPacketCountsAndBlockedIPs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 4; i++ {
		f.engine.Process(ctx, model.Packet{Source: "10.0.0.1", Timestamp: now})
	}
	f.engine.Process(ctx, model.Packet{Source: "10.0.0.2", Timestamp: now})

	code, body := f.do(t, http.MethodGet, "/packet_counts")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"10.0.0.1": 0.0, "10.0.0.2": 1.0}, body["packet_counts"])

	_, body = f.do(t, http.MethodGet, "/blocked_ips")
	assert.Equal(t, []interface{}{"10.0.0.1"}, body["blocked_ips"])
}

func TestUnblockIP(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Block(context.Background(), "10.0.0.1", "")
	require.NoError(t, err)

	code, body := f.do(t, http.MethodGet, "/unblock_ip/10.0.0.1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "IP 10.0.0.1 unblocked.", body["message"])
	assert.Equal(t, true, body["unblocked"])

	code, body = f.do(t, http.MethodGet, "/unblock_ip/10.0.0.1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "IP 10.0.0.1 is not blocked.", body["message"])
	assert.Equal(t, false, body["unblocked"])
	assert.Equal(t, 1, f.gw.unblocks)
}

func TestUnblockIP_Errors(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/unblock_ip/not-an-ip")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "invalid IP address")

	_, err := f.engine.Block(context.Background(), "10.0.0.1", "")
	require.NoError(t, err)
	f.gw.fail = errors.New("rule missing")

	code, body = f.do(t, http.MethodGet, "/unblock_ip/10.0.0.1")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body["error"], "rule missing")
}

func TestBlockIP(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/block_ip/192.0.2.7", strings.NewReader(`{"reason":"scanner"}`))
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "IP 192.0.2.7 blocked.")

	_, body := f.do(t, http.MethodGet, "/block_ip/192.0.2.7")
	assert.Equal(t, "IP 192.0.2.7 is already blocked.", body["message"])
	assert.Equal(t, false, body["blocked"])

	entries := f.engine.Registry().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "scanner", entries[0].Reason)
}

func TestStartStopSniffing(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/start_sniffing")
	assert.Equal(t, "Packet sniffing started.", body["message"])
	assert.Equal(t, true, body["started"])

	_, body = f.do(t, http.MethodGet, "/start_sniffing")
	assert.Equal(t, "Packet sniffing already running.", body["message"])
	assert.Equal(t, false, body["started"])

	_, body = f.do(t, http.MethodGet, "/status")
	assert.Equal(t, "running", body["capture"].(map[string]interface{})["state"])

	_, body = f.do(t, http.MethodGet, "/stop_sniffing")
	assert.Equal(t, true, body["stopped"])
	_, body = f.do(t, http.MethodGet, "/stop_sniffing")
	assert.Equal(t, false, body["stopped"])
}

func TestEventsHistory(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Block(context.Background(), "10.0.0.1", "")
	require.NoError(t, err)
	_, err = f.engine.Unblock(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.store.Len() == 2 }, time.Second, 5*time.Millisecond)

	_, body := f.do(t, http.MethodGet, "/api/v1/events?type=block")
	assert.Equal(t, 1.0, body["total"])

	_, body = f.do(t, http.MethodGet, "/api/v1/events")
	items := body["items"].([]interface{})
	require.Len(t, items, 2)
	latest := items[0].(map[string]interface{})
	assert.Equal(t, "unblock", latest["type"])

	code, _ := f.do(t, http.MethodGet, "/api/v1/events/"+latest["id"].(string))
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/events/missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTrafficHistoryWithoutPrometheus(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/v1/traffic/history?minutes=5")

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "Prometheus is not configured", body["error"])
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t)
	f.engine.Process(context.Background(), model.Packet{Source: "10.0.0.1", Protocol: model.Protocol_TCP})

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ddos_guard_packets_total{protocol="TCP"} 1`)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestStreamEvents(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/stream/events?type=block"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])

	_, err = f.engine.Block(context.Background(), "203.0.113.9", "")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event model.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, model.EventBlock, event.Type)
	assert.Equal(t, model.SourceIdentifier("203.0.113.9"), event.Source)
}

func TestBlockUnblock_SurviveClientDisconnect(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/block_ip/198.51.100.4", "/unblock_ip/198.51.100.4"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		ctx, cancel := context.WithCancel(req.Context())
		cancel()

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req.WithContext(ctx))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	assert.Equal(t, []error{nil, nil}, f.gw.ctxErrs)
	assert.Empty(t, f.engine.BlockedSources())
}

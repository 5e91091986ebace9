package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/pairing-relay/internal/infrastructure/config"
	"github.com/nerrad567/pairing-relay/internal/infrastructure/logging"
	"github.com/nerrad567/pairing-relay/internal/pairing"
)

type fakeBroker struct{ connected bool }

func (f fakeBroker) IsConnected() bool { return f.connected }

// testServer creates a Server around a fresh engine and serves it with httptest.
func testServer(t *testing.T, mutate func(*Deps)) (*Server, *httptest.Server) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     32,
		},
		Logger:  log,
		Engine:  pairing.NewEngine(pairing.Options{Logger: log}),
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.hub.close() //nolint:errcheck // test teardown
		ts.Close()
	})
	return srv, ts
}

// dial opens a WebSocket connection with the given query string.
func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readEnvelope reads one message with a short deadline.
func readEnvelope(t *testing.T, ws *websocket.Conn) pairing.Envelope {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env pairing.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return env
}

// readUntil reads messages until one of the given kind satisfies match.
func readUntil(t *testing.T, ws *websocket.Conn, kind string, match func(pairing.Envelope) bool) pairing.Envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		env := readEnvelope(t, ws)
		if env.Type == kind && (match == nil || match(env)) {
			return env
		}
	}
	t.Fatalf("no %s message matched", kind)
	return pairing.Envelope{}
}

// waitForConnections polls until the engine holds n connections.
func waitForConnections(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.engine.Registry().Len() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("registry has %d connections, want %d", srv.engine.Registry().Len(), n)
}

func availability(t *testing.T, env pairing.Envelope) []pairing.AvailabilityEntry {
	t.Helper()
	var entries []pairing.AvailabilityEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	return entries
}

func reason(t *testing.T, env pairing.Envelope) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatalf("decode reason: %v", err)
	}
	return s
}

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.Discard()
	engine := pairing.NewEngine(pairing.Options{})

	if _, err := New(Deps{Engine: engine}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without engine should fail")
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	srv, _ := testServer(t, nil)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestNewHTTPServer_Timeouts(t *testing.T) {
	tests := []struct {
		name     string
		timeouts config.APITimeoutConfig
		read     time.Duration
		write    time.Duration
		idle     time.Duration
	}{
		{"configured", config.APITimeoutConfig{Read: 5, Write: 7, Idle: 90}, 5 * time.Second, 7 * time.Second, 90 * time.Second},
		{"unset", config.APITimeoutConfig{}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, func(d *Deps) {
				d.Config.Port = 9443
				d.Config.Timeouts = tt.timeouts
			})

			hs := srv.newHTTPServer()
			if hs.Addr != "127.0.0.1:9443" {
				t.Errorf("Addr = %q", hs.Addr)
			}
			if hs.ReadTimeout != tt.read || hs.ReadHeaderTimeout != tt.read {
				t.Errorf("read timeouts = %v/%v, want %v", hs.ReadTimeout, hs.ReadHeaderTimeout, tt.read)
			}
			if hs.WriteTimeout != tt.write {
				t.Errorf("WriteTimeout = %v, want %v", hs.WriteTimeout, tt.write)
			}
			if hs.IdleTimeout != tt.idle {
				t.Errorf("IdleTimeout = %v, want %v", hs.IdleTimeout, tt.idle)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	_, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if rid := resp.Header.Get("X-Request-ID"); rid == "" {
		t.Error("missing X-Request-ID header")
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestNotFound(t *testing.T) {
	_, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/devices")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	var apiErr Error
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if apiErr.Code != ErrCodeUnknownRoute {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeUnknownRoute)
	}
}

func TestErrorResponses(t *testing.T) {
	_, ts := testServer(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"unknown role filter", http.MethodGet, "/api/v1/connections?role=admin", http.StatusBadRequest, ErrCodeInvalidRole},
		{"missing upgrade role", http.MethodGet, "/ws", http.StatusBadRequest, ErrCodeInvalidRole},
		{"unknown route", http.MethodGet, "/api/v1/pairs", http.StatusNotFound, ErrCodeUnknownRoute},
		{"wrong method", http.MethodPost, "/api/v1/health", http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			if err != nil {
				t.Fatalf("NewRequest: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s %s: %v", tt.method, tt.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var apiErr Error
			if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if apiErr.Code != tt.wantCode || apiErr.Status != tt.wantStatus || apiErr.Message == "" {
				t.Errorf("body = %+v, want code %q", apiErr, tt.wantCode)
			}
		})
	}
}

// syncBuffer collects log output written from server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// entries decodes every JSON log line written so far.
func (b *syncBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b.buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestWebSocket_RegistrationFailureLogsRemoteAddr(t *testing.T) {
	out := &syncBuffer{}
	log := &logging.Logger{Logger: slog.New(slog.NewJSONHandler(out, nil))}

	srv, ts := testServer(t, func(d *Deps) {
		d.Logger = log
		// An empty id fails registration after the upgrade.
		d.Engine = pairing.NewEngine(pairing.Options{NewID: func() string { return "" }})
	})
	ws := dial(t, ts, "role=device")
	remote := ws.LocalAddr().String()

	var found map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for found == nil && time.Now().Before(deadline) {
		for _, entry := range out.entries(t) {
			if entry["msg"] == "pairing registration failed" {
				found = entry
			}
		}
		time.Sleep(5 * time.Millisecond)
	}

	if found == nil {
		t.Fatal("registration failure was not logged")
	}
	if found["remote_addr"] != remote {
		t.Errorf("remote_addr = %v, want %s", found["remote_addr"], remote)
	}
	if found["role"] != string(pairing.RoleDevice) || found["error"] == nil {
		t.Errorf("entry = %v", found)
	}
	if srv.engine.Registry().Len() != 0 {
		t.Errorf("registry has %d connections, want 0", srv.engine.Registry().Len())
	}
}

func TestRoleFromRequest(t *testing.T) {
	tests := []struct {
		query   string
		want    pairing.Role
		wantErr bool
	}{
		{"role=controller", pairing.RoleController, false},
		{"role=device", pairing.RoleDevice, false},
		{"clientType=user", pairing.RoleController, false},
		{"clientType=robot", pairing.RoleDevice, false},
		{"role=device&clientType=user", pairing.RoleDevice, false},
		{"", "", true},
		{"role=admin", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			got, err := roleFromRequest(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("roleFromRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, pairing.ErrInvalidRole) {
				t.Errorf("error = %v, want ErrInvalidRole", err)
			}
			if got != tt.want {
				t.Errorf("role = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebSocket_RejectsBadRole(t *testing.T) {
	_, ts := testServer(t, nil)
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	for _, query := range []string{"", "?role=admin"} {
		_, resp, err := websocket.DefaultDialer.Dial(base+query, nil)
		if err == nil {
			t.Fatalf("dial %q should fail", query)
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("dial %q: resp = %v, want 400", query, resp)
		}
	}
}

func TestWSClient_Send(t *testing.T) {
	c := newWSClient(nil, nil, 1)

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, pairing.ErrSendQueueFull) {
		t.Errorf("Send() on full queue error = %v, want ErrSendQueueFull", err)
	}

	c.closeSend()
	c.closeSend()
	if err := c.Send([]byte("c")); !errors.Is(err, pairing.ErrPeerClosed) {
		t.Errorf("Send() after close error = %v, want ErrPeerClosed", err)
	}

	if got := <-c.send; string(got) != "a" {
		t.Errorf("queued = %q, want a", got)
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
}

func TestWebSocket_ControllerReceivesInitialAvailability(t *testing.T) {
	_, ts := testServer(t, nil)

	ctrl := dial(t, ts, "role=controller")
	env := readEnvelope(t, ctrl)
	if env.Type != pairing.KindAvailability {
		t.Fatalf("first message type = %q, want availability", env.Type)
	}
	if got := availability(t, env); len(got) != 0 {
		t.Errorf("availability = %+v, want empty", got)
	}
}

func TestWebSocket_RelayScenario(t *testing.T) {
	srv, ts := testServer(t, nil)

	device := dial(t, ts, "clientType=robot")
	waitForConnections(t, srv, 1)
	ctrl := dial(t, ts, "role=controller")

	env := readUntil(t, ctrl, pairing.KindAvailability, func(e pairing.Envelope) bool {
		return len(availability(t, e)) == 1
	})
	entry := availability(t, env)[0]
	if entry.Role != pairing.RoleDevice {
		t.Fatalf("available role = %q, want device", entry.Role)
	}

	// Pair
	if err := ctrl.WriteJSON(map[string]any{"type": "pairRequest", "data": entry.ID}); err != nil {
		t.Fatalf("write pairRequest: %v", err)
	}
	paired := readUntil(t, ctrl, pairing.KindPaired, nil)
	var payload pairing.PairedPayload
	if err := json.Unmarshal(paired.Data, &payload); err != nil {
		t.Fatalf("decode paired: %v", err)
	}
	if payload.DeviceID != entry.ID || payload.ControllerID == "" {
		t.Errorf("paired = %+v", payload)
	}
	if got := readEnvelope(t, device); got.Type != pairing.KindPaired {
		t.Fatalf("device got %q, want paired", got.Type)
	}

	// Relay both ways
	if err := ctrl.WriteMessage(websocket.TextMessage, []byte(`{"type":"relay","data":{"drive":1}}`)); err != nil {
		t.Fatalf("write relay: %v", err)
	}
	got := readEnvelope(t, device)
	if got.Type != pairing.KindRelay || string(got.Data) != `{"drive":1}` {
		t.Errorf("device received %s %s", got.Type, got.Data)
	}

	if err := device.WriteMessage(websocket.TextMessage, []byte(`{"type":"relay","data":"ack"}`)); err != nil {
		t.Fatalf("write relay: %v", err)
	}
	got = readUntil(t, ctrl, pairing.KindRelay, nil)
	if string(got.Data) != `"ack"` {
		t.Errorf("controller received %s", got.Data)
	}

	// Device leaves
	device.Close()
	unpaired := readUntil(t, ctrl, pairing.KindUnpaired, nil)
	if r := reason(t, unpaired); r != pairing.ReasonPartnerDisconnected {
		t.Errorf("unpaired reason = %q, want %q", r, pairing.ReasonPartnerDisconnected)
	}
	avail := readUntil(t, ctrl, pairing.KindAvailability, nil)
	if got := availability(t, avail); len(got) != 0 {
		t.Errorf("availability after device left = %+v", got)
	}
	waitForConnections(t, srv, 1)
}

func TestWebSocket_ProtocolErrors(t *testing.T) {
	_, ts := testServer(t, nil)
	device := dial(t, ts, "role=device")

	tests := []struct {
		frame  string
		kind   string
		reason string
	}{
		{`garbage`, pairing.KindError, pairing.ReasonMalformedMessage},
		{`{"data":1}`, pairing.KindError, pairing.ReasonMissingType},
		{`{"type":"hello"}`, pairing.KindError, pairing.ReasonUnknownType},
		{`{"type":"relay","data":1}`, pairing.KindError, pairing.ReasonNotPaired},
		{`{"type":"pairRequest","data":"x"}`, pairing.KindPairError, pairing.ReasonNotController},
	}

	for _, tt := range tests {
		if err := device.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
			t.Fatalf("write %s: %v", tt.frame, err)
		}
		env := readEnvelope(t, device)
		if env.Type != tt.kind || reason(t, env) != tt.reason {
			t.Errorf("%s: got %s %s, want %s %q", tt.frame, env.Type, env.Data, tt.kind, tt.reason)
		}
	}
}

func TestHandleListConnections(t *testing.T) {
	srv, ts := testServer(t, nil)
	dial(t, ts, "role=device")
	dial(t, ts, "role=controller")
	waitForConnections(t, srv, 2)

	resp, err := http.Get(ts.URL + "/api/v1/connections?role=device")
	if err != nil {
		t.Fatalf("GET /connections: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Connections []ConnectionView `json:"connections"`
		Count       int              `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Connections) != 1 {
		t.Fatalf("body = %+v, want one device", body)
	}
	c := body.Connections[0]
	if c.Role != pairing.RoleDevice || c.State != string(pairing.StateUnpaired) || c.CreatedAt == 0 {
		t.Errorf("connection = %+v", c)
	}

	bad, err := http.Get(ts.URL + "/api/v1/connections?role=admin")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", bad.StatusCode)
	}
}

func TestHandleAvailability(t *testing.T) {
	srv, ts := testServer(t, nil)
	dial(t, ts, "role=device")
	waitForConnections(t, srv, 1)

	resp, err := http.Get(ts.URL + "/api/v1/availability")
	if err != nil {
		t.Fatalf("GET /availability: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Available []pairing.AvailabilityEntry `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Available) != 1 {
		t.Errorf("available = %+v, want 1 entry", body.Available)
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, ts := testServer(t, func(d *Deps) { d.MQTT = fakeBroker{connected: true} })
	dial(t, ts, "role=controller")
	waitForConnections(t, srv, 1)

	resp, err := http.Get(ts.URL + "/api/v1/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	var m SystemMetrics
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Pairing.Controllers != 1 {
		t.Errorf("controllers = %d, want 1", m.Pairing.Controllers)
	}
	if m.WebSocket.ConnectedClients != 1 || m.WebSocket.Subscribers != 1 {
		t.Errorf("websocket = %+v", m.WebSocket)
	}
	if m.MQTT == nil || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v, want connected", m.MQTT)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime metrics not populated")
	}
}

func TestPrometheusRoute(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "relay_connections 0\n") //nolint:errcheck // test handler
	})

	tests := []struct {
		name    string
		enabled bool
		want    int
	}{
		{"enabled", true, http.StatusOK},
		{"disabled", false, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := testServer(t, func(d *Deps) {
				d.Metrics = config.MetricsConfig{Enabled: tt.enabled, Path: "/metrics"}
				d.MetricsHandler = handler
			})

			resp, err := http.Get(ts.URL + "/metrics")
			if err != nil {
				t.Fatalf("GET /metrics: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://console.example"}
	})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/health", nil)
	req.Header.Set("Origin", "https://console.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://console.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestServer_StartClose(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Config.Port = 0 })

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

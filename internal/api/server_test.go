package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/launchdarkly/eventsource"

	"github.com/correomqtt/correo-core/internal/auth"
	"github.com/correomqtt/correo-core/internal/connection"
	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/history"
	"github.com/correomqtt/correo-core/internal/infrastructure/config"
	"github.com/correomqtt/correo-core/internal/infrastructure/database"
	"github.com/correomqtt/correo-core/internal/infrastructure/logging"
	"github.com/correomqtt/correo-core/internal/infrastructure/mqtt"
	"github.com/correomqtt/correo-core/internal/message"
	"github.com/correomqtt/correo-core/internal/session"
	"github.com/correomqtt/correo-core/internal/subscription"
	"github.com/correomqtt/correo-core/internal/telemetry"
	"github.com/correomqtt/correo-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeSessions records calls and answers from canned state.
type fakeSessions struct {
	mu         sync.Mutex
	statuses   []session.Status
	subs       map[string][]subscription.Subscription
	connectErr error
	publishErr error
	published  []message.Message
	unsubbed   []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		statuses: []session.Status{
			{ID: "conn1", Name: "local", Host: "localhost", Port: 1883, State: connection.StateDisconnected},
			{ID: "conn2", Name: "remote", Host: "broker.example.com", Port: 8883, State: connection.StateDisconnected},
		},
		subs: make(map[string][]subscription.Subscription),
	}
}

func (f *fakeSessions) known(id string) bool {
	for _, st := range f.statuses {
		if st.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeSessions) setState(id string, state connection.State) {
	for i := range f.statuses {
		if f.statuses[i].ID == id {
			f.statuses[i].State = state
		}
	}
}

func (f *fakeSessions) Connect(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known(id) {
		return session.ErrUnknownConnection
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.setState(id, connection.StateConnected)
	return nil
}

func (f *fakeSessions) Disconnect(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known(id) {
		return session.ErrUnknownConnection
	}
	f.setState(id, connection.StateDisconnectedGraceful)
	return nil
}

func (f *fakeSessions) Subscribe(_ context.Context, id, topic string, qos byte) (subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known(id) {
		return subscription.Subscription{}, session.ErrUnknownConnection
	}
	if err := mqtt.ValidateTopicFilter(topic); err != nil {
		return subscription.Subscription{}, err
	}
	sub := subscription.Subscription{
		ID:           fmt.Sprintf("sub-%d", len(f.subs[id])+1),
		ConnectionID: id,
		Topic:        topic,
		QoS:          qos,
		Status:       subscription.StatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	f.subs[id] = append(f.subs[id], sub)
	return sub, nil
}

func (f *fakeSessions) Unsubscribe(_ context.Context, id, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs[id] {
		if s.Topic == topic {
			f.subs[id] = append(f.subs[id][:i], f.subs[id][i+1:]...)
			f.unsubbed = append(f.unsubbed, topic)
			return nil
		}
	}
	return session.ErrNotSubscribed
}

func (f *fakeSessions) UnsubscribeAll(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs[id] {
		f.unsubbed = append(f.unsubbed, s.Topic)
	}
	delete(f.subs, id)
	return nil
}

func (f *fakeSessions) Subscriptions(id string) ([]subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known(id) {
		return nil, session.ErrUnknownConnection
	}
	return append([]subscription.Subscription(nil), f.subs[id]...), nil
}

func (f *fakeSessions) Publish(_ context.Context, id, topic string, payload []byte, qos byte, retained bool) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known(id) {
		return message.Message{}, session.ErrUnknownConnection
	}
	if f.publishErr != nil {
		return message.Message{}, f.publishErr
	}
	m := message.New(id, message.DirectionOutgoing, topic, payload, qos, retained)
	m.PublishStatus = message.PublishStatusSucceeded
	f.published = append(f.published, m)
	return m, nil
}

func (f *fakeSessions) Statuses() []session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Status(nil), f.statuses...)
}

type testEnv struct {
	srv      *Server
	http     *httptest.Server
	bus      *event.Bus
	sessions *fakeSessions
	store    *history.SQLiteStore
}

// newTestEnv starts the API on an httptest listener. An empty secret
// disables authentication.
func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath, BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("migrations.Apply() error = %v", err)
	}
	store := history.NewSQLiteStore(db, history.DefaultLimits())

	bus := event.NewBus()
	sessions := newFakeSessions()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5 * time.Second, Write: 5 * time.Second, Idle: 5 * time.Second},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
		},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: secret}},
		Logger:   logging.Discard(),
		Bus:      bus,
		Sessions: sessions,
		History:  store,
		Counters: func() telemetry.Counters { return telemetry.Counters{Received: 3, Published: 2} },
		DB:       db,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		// Closing the SSE server first ends open event streams.
		_ = srv.Close()
		ts.Close()
	})
	return &testEnv{srv: srv, http: ts, bus: bus, sessions: sessions, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

// ─── Middleware ───────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Bus: event.NewBus(), Sessions: newFakeSessions()}); err == nil {
		t.Error("New() without logger error = nil, want error")
	}
	if _, err := New(Deps{Logger: logging.Discard(), Sessions: newFakeSessions()}); err == nil {
		t.Error("New() without bus error = nil, want error")
	}
	if _, err := New(Deps{Logger: logging.Discard(), Bus: event.NewBus()}); err == nil {
		t.Error("New() without sessions error = nil, want error")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testSecret)

	resp := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v, want status ok and version test", body)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if got := resp.Header.Get("X-Request-ID"); len(got) != 2*requestIDBytes {
		t.Errorf("generated X-Request-ID = %q, want %d hex chars", got, 2*requestIDBytes)
	}

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "client-id" {
		t.Errorf("X-Request-ID = %q, want client-id", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, "")

	req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/api/v1/connections", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight error = %v", err)
	}
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusNoContent)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want the request origin", got)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, testSecret)
	token, _, err := auth.GenerateToken("tester", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	foreign, _, err := auth.GenerateToken("tester", "another-secret-entirely", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no token", "/api/v1/connections", "", http.StatusUnauthorized},
		{"wrong secret", "/api/v1/connections", foreign, http.StatusUnauthorized},
		{"bearer header", "/api/v1/connections", token, http.StatusOK},
		{"query parameter", "/api/v1/connections?access_token=" + token, "", http.StatusOK},
		{"health needs none", "/api/v1/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.path, "", tt.token)
			if resp.StatusCode != tt.want {
				t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAuth_DisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodGet, "/api/v1/connections", "", "")
	expectStatus(t, resp, http.StatusOK)
}

// ─── Connections ──────────────────────────────────────────────────

func TestListConnections(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodGet, "/api/v1/connections", "", "")
	expectStatus(t, resp, http.StatusOK)
	body := decode[struct {
		Connections []session.Status `json:"connections"`
		Count       int              `json:"count"`
	}](t, resp)

	if body.Count != 2 || len(body.Connections) != 2 {
		t.Fatalf("count = %d (%d entries), want 2", body.Count, len(body.Connections))
	}
	if body.Connections[0].ID != "conn1" || body.Connections[0].State != connection.StateDisconnected {
		t.Errorf("first connection = %+v, want conn1 DISCONNECTED", body.Connections[0])
	}
}

func TestGetConnection(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodGet, "/api/v1/connections/conn2", "", "")
	expectStatus(t, resp, http.StatusOK)
	if st := decode[session.Status](t, resp); st.Host != "broker.example.com" {
		t.Errorf("Host = %q, want broker.example.com", st.Host)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/connections/missing", "", "")
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodGet, "/api/v1/connections/"+strings.Repeat("x", maxConnectionIDLen+1), "", "")
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestConnectAndDisconnect(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodPost, "/api/v1/connections/conn1/connect", "", "")
	expectStatus(t, resp, http.StatusOK)
	if st := decode[session.Status](t, resp); st.State != connection.StateConnected {
		t.Errorf("State after connect = %v, want %v", st.State, connection.StateConnected)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/connections/conn1/disconnect", "", "")
	expectStatus(t, resp, http.StatusOK)
	if st := decode[session.Status](t, resp); st.State != connection.StateDisconnectedGraceful {
		t.Errorf("State after disconnect = %v, want %v", st.State, connection.StateDisconnectedGraceful)
	}
}

func TestConnect_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		err      error
		wantCode int
		wantErr  string
	}{
		{"unknown connection", "missing", nil, http.StatusNotFound, ErrCodeNotFound},
		{"already active", "conn1", session.ErrAlreadyActive, http.StatusConflict, ErrCodeConflict},
		{"aborted", "conn1", session.ErrAborted, http.StatusConflict, ErrCodeConflict},
		{"closed", "conn1", session.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"broker refused", "conn1", fmt.Errorf("dial: %w", context.DeadlineExceeded), http.StatusBadGateway, ErrCodeBroker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			env.sessions.connectErr = tt.err

			resp := env.do(t, http.MethodPost, "/api/v1/connections/"+tt.id+"/connect", "", "")
			expectStatus(t, resp, tt.wantCode)
			if body := decode[Error](t, resp); body.Code != tt.wantErr {
				t.Errorf("error code = %q, want %q", body.Code, tt.wantErr)
			}
		})
	}
}

// ─── Subscriptions ────────────────────────────────────────────────

func TestSubscribeAndList(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.qos = 1

	resp := env.do(t, http.MethodPost, "/api/v1/connections/conn1/subscriptions", `{"topic":"sensors/#"}`, "")
	expectStatus(t, resp, http.StatusCreated)
	sub := decode[subscription.Subscription](t, resp)
	if sub.Topic != "sensors/#" || sub.QoS != 1 {
		t.Errorf("subscription = %+v, want sensors/# with default QoS 1", sub)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/connections/conn1/subscriptions", `{"topic":"alarms","qos":2}`, "")
	expectStatus(t, resp, http.StatusCreated)

	resp = env.do(t, http.MethodGet, "/api/v1/connections/conn1/subscriptions", "", "")
	expectStatus(t, resp, http.StatusOK)
	body := decode[struct {
		Subscriptions []subscription.Subscription `json:"subscriptions"`
		Count         int                         `json:"count"`
	}](t, resp)
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	if body.Subscriptions[1].QoS != 2 {
		t.Errorf("explicit QoS = %d, want 2", body.Subscriptions[1].QoS)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing topic", `{"qos":1}`, http.StatusBadRequest},
		{"qos out of range", `{"topic":"a","qos":3}`, http.StatusBadRequest},
		{"negative qos", `{"topic":"a","qos":-1}`, http.StatusBadRequest},
		{"bad filter", `{"topic":"a/#/b"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/v1/connections/conn1/subscriptions", tt.body, "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	env := newTestEnv(t, "")
	for _, topic := range []string{"a", "b", "c"} {
		if _, err := env.sessions.Subscribe(context.Background(), "conn1", topic, 0); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	resp := env.do(t, http.MethodDelete, "/api/v1/connections/conn1/subscriptions?topic=b", "", "")
	expectStatus(t, resp, http.StatusNoContent)

	resp = env.do(t, http.MethodDelete, "/api/v1/connections/conn1/subscriptions?topic=b", "", "")
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodDelete, "/api/v1/connections/conn1/subscriptions", "", "")
	expectStatus(t, resp, http.StatusNoContent)

	subs, _ := env.sessions.Subscriptions("conn1")
	if len(subs) != 0 {
		t.Errorf("subscriptions after unsubscribe all = %d, want 0", len(subs))
	}
	if got := strings.Join(env.sessions.unsubbed, ","); got != "b,a,c" {
		t.Errorf("unsubscribed = %q, want b,a,c", got)
	}
}

// ─── Publish ──────────────────────────────────────────────────────

func TestPublish(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodPost, "/api/v1/connections/conn1/publish",
		`{"topic":"lights/kitchen","payload":"{\"on\":true}","qos":1,"retained":true}`, "")
	expectStatus(t, resp, http.StatusOK)

	msg := decode[message.Message](t, resp)
	if msg.Topic != "lights/kitchen" || string(msg.Payload) != `{"on":true}` {
		t.Errorf("message = %s %q, want lights/kitchen {\"on\":true}", msg.Topic, msg.Payload)
	}
	if !msg.Retained || msg.QoS != 1 {
		t.Errorf("retained/qos = %v/%d, want true/1", msg.Retained, msg.QoS)
	}
	if msg.PublishStatus != message.PublishStatusSucceeded {
		t.Errorf("PublishStatus = %q, want %q", msg.PublishStatus, message.PublishStatusSucceeded)
	}
}

func TestPublish_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"missing topic", nil, `{"payload":"x"}`, http.StatusBadRequest},
		{"not connected", session.ErrNotConnected, `{"topic":"a"}`, http.StatusConflict},
		{"invalid topic", mqtt.ErrInvalidTopic, `{"topic":"a/+"}`, http.StatusBadRequest},
		{"broker failure", fmt.Errorf("publish timed out"), `{"topic":"a"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			env.sessions.publishErr = tt.err
			resp := env.do(t, http.MethodPost, "/api/v1/connections/conn1/publish", tt.body, "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

// ─── History ──────────────────────────────────────────────────────

func TestHistory(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	for _, topic := range []string{"a/#", "b", "c"} {
		if err := env.store.RecordSubscribe(ctx, "conn1", topic, 1); err != nil {
			t.Fatalf("RecordSubscribe() error = %v", err)
		}
	}
	m := message.New("conn1", message.DirectionOutgoing, "out", []byte("hi"), 0, false)
	m.PublishStatus = message.PublishStatusSucceeded
	if err := env.store.RecordPublish(ctx, m); err != nil {
		t.Fatalf("RecordPublish() error = %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/connections/conn1/history/subscribe?limit=2", "", "")
	expectStatus(t, resp, http.StatusOK)
	subs := decode[struct {
		ConnectionID string                   `json:"connection_id"`
		Entries      []history.SubscribeEntry `json:"entries"`
		Count        int                      `json:"count"`
	}](t, resp)
	if subs.ConnectionID != "conn1" || subs.Count != 2 {
		t.Errorf("subscribe history = %s/%d, want conn1/2", subs.ConnectionID, subs.Count)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/connections/conn1/history/publish", "", "")
	expectStatus(t, resp, http.StatusOK)
	pubs := decode[struct {
		Entries []message.Message `json:"entries"`
	}](t, resp)
	if len(pubs.Entries) != 1 || pubs.Entries[0].Topic != "out" {
		t.Errorf("publish history = %+v, want one message on out", pubs.Entries)
	}
}

func TestHistory_BadRequests(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/connections/missing/history/subscribe", http.StatusNotFound},
		{"/api/v1/connections/conn1/history/subscribe?limit=abc", http.StatusBadRequest},
		{"/api/v1/connections/conn1/history/publish?limit=0", http.StatusBadRequest},
		{"/api/v1/connections/conn1/history/publish?limit=501", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp := env.do(t, http.MethodGet, tt.path, "", "")
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestHistory_Unavailable(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.history = nil

	resp := env.do(t, http.MethodGet, "/api/v1/connections/conn1/history/publish", "", "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
}

// ─── Metrics ──────────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, "")
	env.sessions.setState("conn2", connection.StateConnected)

	resp := env.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	expectStatus(t, resp, http.StatusOK)
	m := decode[SystemMetrics](t, resp)

	if m.Connections.Total != 2 {
		t.Errorf("Connections.Total = %d, want 2", m.Connections.Total)
	}
	if m.Connections.ByState[connection.StateConnected.String()] != 1 {
		t.Errorf("ByState = %v, want one CONNECTED", m.Connections.ByState)
	}
	if m.Messages == nil || m.Messages.Received != 3 {
		t.Errorf("Messages = %+v, want Received 3", m.Messages)
	}
	if m.Database == nil {
		t.Error("Database metrics = nil, want pool stats")
	}
}

// ─── Events ───────────────────────────────────────────────────────

func dialWS(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	if token != "" {
		url += "?access_token=" + token
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	return msg
}

func subscribeWS(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe message: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %s/%s, want %s/sub-1", resp.Type, resp.ID, WSTypeResponse)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := newTestEnv(t, testSecret)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() without token error = nil, want handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %v, want 401", resp)
	}
}

func TestWebSocket_ConnectionScopedChannel(t *testing.T) {
	env := newTestEnv(t, testSecret)
	token, _, err := auth.GenerateToken("tester", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	ws := dialWS(t, env, token)
	subscribeWS(t, ws, ChannelConnectionState+":conn1")

	// The conn2 event is filtered out, so the first delivery is conn1's.
	env.bus.Fire(connection.StateChangedEvent{ConnectionID: "conn2", State: connection.StateConnecting, Previous: connection.StateDisconnected})
	env.bus.Fire(connection.StateChangedEvent{
		ConnectionID: "conn1",
		State:        connection.StateDisconnectedUngraceful,
		Previous:     connection.StateConnected,
		Cause:        fmt.Errorf("connection reset"),
	})

	msg := readWS(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelConnectionState || msg.ConnectionID != "conn1" {
		t.Fatalf("event = %s/%s/%s, want event/%s/conn1", msg.Type, msg.EventType, msg.ConnectionID, ChannelConnectionState)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["state"] != connection.StateDisconnectedUngraceful.String() || payload["cause"] != "connection reset" {
		t.Errorf("payload = %v, want DISCONNECTED_UNGRACEFUL with cause", payload)
	}
}

func TestWebSocket_PingAndUnknownType(t *testing.T) {
	env := newTestEnv(t, "")
	ws := dialWS(t, env, "")

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %s/%s, want %s/p1", msg.Type, msg.ID, WSTypePong)
	}

	if err := ws.WriteJSON(WSMessage{Type: "bogus", ID: "b1"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError {
		t.Errorf("bogus reply type = %s, want %s", msg.Type, WSTypeError)
	}
}

func TestHub_ClientCount(t *testing.T) {
	env := newTestEnv(t, "")
	ws := dialWS(t, env, "")
	subscribeWS(t, ws, WSChannelAll)

	if got := env.srv.hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

func TestRelay_MessagePayloadText(t *testing.T) {
	env := newTestEnv(t, "")
	ws := dialWS(t, env, "")
	subscribeWS(t, ws, ChannelMessageReceived)

	m := message.New("conn1", message.DirectionIncoming, "sensors/t", []byte("21.5"), 0, false)
	env.bus.Fire(message.ReceivedEvent{Message: m})

	msg := readWS(t, ws)
	payload, _ := msg.Payload.(map[string]any)
	if payload["payload_text"] != "21.5" || payload["topic"] != "sensors/t" {
		t.Errorf("payload = %v, want topic sensors/t and text 21.5", payload)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, testSecret)
	token, _, err := auth.GenerateToken("tester", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/connections/conn1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	stream, err := eventsource.SubscribeWithRequestAndOptions(req)
	if err != nil {
		t.Fatalf("SubscribeWithRequestAndOptions() error = %v", err)
	}
	defer stream.Close()

	sub := subscription.Subscription{ID: "s1", ConnectionID: "conn1", Topic: "a/#", Status: subscription.StatusActive}
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case ev := <-stream.Events:
			if ev.Event() != ChannelSubscriptionAdded {
				t.Fatalf("event name = %q, want %q", ev.Event(), ChannelSubscriptionAdded)
			}
			var got subscription.Subscription
			if err := json.Unmarshal([]byte(ev.Data()), &got); err != nil {
				t.Fatalf("decode event data: %v", err)
			}
			if got.Topic != "a/#" || got.ConnectionID != "conn1" {
				t.Errorf("event data = %+v, want a/# on conn1", got)
			}
			return
		case <-tick.C:
			// Events for other connections never reach this stream.
			env.bus.Fire(subscription.AddedEvent{Subscription: subscription.Subscription{ConnectionID: "conn2", Topic: "x"}})
			env.bus.Fire(subscription.AddedEvent{Subscription: sub})
		case <-deadline:
			t.Fatal("no event received on the conn1 stream")
		}
	}
}

func TestEventStream_UnknownConnection(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodGet, "/api/v1/connections/missing/events", "", "")
	expectStatus(t, resp, http.StatusNotFound)
}

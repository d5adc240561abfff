package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/alertcast/backend/internal/handler/web"
	"github.com/zhouzirui/alertcast/backend/internal/model/alert"
	"github.com/zhouzirui/alertcast/backend/internal/model/session"
	alertservice "github.com/zhouzirui/alertcast/backend/internal/service/alert"
	"github.com/zhouzirui/alertcast/backend/internal/service/auth"
	"github.com/zhouzirui/alertcast/backend/internal/service/broadcast"
	sessionservice "github.com/zhouzirui/alertcast/backend/internal/service/session"
)

type testEnv struct {
	server *httptest.Server
	store  *alert.FileStore
	hub    *broadcast.Hub
}

func setupServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	store := alert.NewFileStore(filepath.Join(t.TempDir(), "data", "alerts.json"), logger)
	require.NoError(t, store.Init())

	hub := broadcast.NewHub(16, logger)
	alerts := alertservice.NewService(store, hub, logger)

	sessions, err := sessionservice.NewManager(session.NewMemoryStore(), sessionservice.Config{
		Secret: []byte("router-test-secret"),
		TTL:    time.Hour,
	}, logger)
	require.NoError(t, err)

	router, err := NewRouter(logger, auth.NewStaticVerifier(auth.DefaultCredentials()), sessions, alerts, hub, opts)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testEnv{server: srv, store: store, hub: hub}
}

func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: 5 * time.Second,
	}
}

func (e *testEnv) login(t *testing.T, c *http.Client, userType, username, password string) *http.Response {
	t.Helper()
	resp, err := c.PostForm(e.server.URL+"/", url.Values{
		"user_type": {userType},
		"username":  {username},
		"password":  {password},
	})
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, c *http.Client, path string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (e *testEnv) sendAlert(t *testing.T, c *http.Client, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := c.Post(e.server.URL+"/send_alert", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func TestLoginWithBuiltInAccounts(t *testing.T) {
	env := setupServer(t, Options{})

	cases := []struct {
		userType, username, password, dashboard string
	}{
		{"admin", "admin", "admin123", "/admin"},
		{"user", "user", "user123", "/user"},
	}
	for _, tc := range cases {
		c := env.client(t)
		resp := env.login(t, c, tc.userType, tc.username, tc.password)
		require.Equal(t, http.StatusFound, resp.StatusCode)
		require.Equal(t, tc.dashboard, resp.Header.Get("Location"))

		dash, _ := env.get(t, c, tc.dashboard)
		require.Equal(t, http.StatusOK, dash.StatusCode, tc.dashboard)
	}
}

func TestLoginRejectsOtherCombinations(t *testing.T) {
	env := setupServer(t, Options{})

	cases := [][3]string{
		{"admin", "admin", "user123"},
		{"user", "admin", "admin123"},
		{"admin", "user", "user123"},
		{"", "", ""},
		{"admin", "Admin", "admin123"},
	}
	for _, tc := range cases {
		c := env.client(t)
		resp := env.login(t, c, tc[0], tc[1], tc[2])
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, string(body), "Invalid credentials. Try admin/admin123 or user/user123.")
		for _, ck := range resp.Cookies() {
			require.NotEqual(t, sessionservice.CookieName, ck.Name, "no session on failure")
		}

		dash, _ := env.get(t, c, "/admin")
		require.Equal(t, http.StatusFound, dash.StatusCode)
	}
}

func TestDashboardsRedirectOnRoleMismatch(t *testing.T) {
	env := setupServer(t, Options{})

	anon := env.client(t)
	admin := env.client(t)
	env.login(t, admin, "admin", "admin", "admin123")
	viewer := env.client(t)
	env.login(t, viewer, "user", "user", "user123")

	checks := []struct {
		client *http.Client
		path   string
	}{
		{anon, "/admin"},
		{anon, "/user"},
		{admin, "/user"},
		{viewer, "/admin"},
	}
	for _, c := range checks {
		resp, _ := env.get(t, c.client, c.path)
		require.Equal(t, http.StatusFound, resp.StatusCode, c.path)
		require.Equal(t, "/", resp.Header.Get("Location"), c.path)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	env := setupServer(t, Options{})
	c := env.client(t)
	env.login(t, c, "admin", "admin", "admin123")

	resp, _ := env.get(t, c, "/logout")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))

	resp, _ = env.get(t, c, "/admin")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp, _ = env.get(t, c, "/logout")
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func dialRealtime(t *testing.T, env *testEnv, jar http.CookieJar) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	dialer := websocket.Dialer{Jar: jar, HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSendAlertStoresAndBroadcasts(t *testing.T) {
	env := setupServer(t, Options{})

	subscriber := dialRealtime(t, env, nil)
	require.Equal(t, broadcast.EventConnected, readMessage(t, subscriber).Type)

	admin := env.client(t)
	env.login(t, admin, "admin", "admin", "admin123")

	resp, payload := env.sendAlert(t, admin, `{"title":"Test","message":"Hello","priority":"High"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", payload["status"])

	stored := env.store.LoadAll(context.Background())
	require.Len(t, stored, 1)
	created := stored[0]
	require.Equal(t, 1, created.ID)
	require.Equal(t, "Test", created.Title)
	require.Equal(t, "Hello", created.Message)
	require.Equal(t, "High", created.Priority)
	ts, err := time.Parse(alert.TimestampLayout, created.Timestamp)
	require.NoError(t, err)
	require.Equal(t, time.UTC, ts.Location())

	respAlert := payload["alert"].(map[string]any)
	require.Equal(t, float64(1), respAlert["id"])
	require.Equal(t, created.Timestamp, respAlert["timestamp"])

	msg := readMessage(t, subscriber)
	require.Equal(t, broadcast.EventNewAlert, msg.Type)
	var pushed alert.Alert
	require.NoError(t, json.Unmarshal(msg.Data, &pushed))
	require.Equal(t, created, pushed)

	// Exactly one event: the next frame must be the history reply, not a second alert.
	require.NoError(t, subscriber.WriteJSON(map[string]string{"type": "history"}))
	history := readMessage(t, subscriber)
	require.Equal(t, broadcast.EventAlertHistory, history.Type)
	var listed []alert.Alert
	require.NoError(t, json.Unmarshal(history.Data, &listed))
	require.Equal(t, []alert.Alert{created}, listed)
}

func TestSendAlertDefaultsAndSequentialIDs(t *testing.T) {
	env := setupServer(t, Options{})
	admin := env.client(t)
	env.login(t, admin, "admin", "admin", "admin123")

	resp, first := env.sendAlert(t, admin, `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, env.store.LoadAll(context.Background()), 1)

	resp, second := env.sendAlert(t, admin, `{"message":"second"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, env.store.LoadAll(context.Background()), 2)

	a1 := first["alert"].(map[string]any)
	a2 := second["alert"].(map[string]any)
	require.Equal(t, float64(1), a1["id"])
	require.Equal(t, float64(2), a2["id"])
	require.Equal(t, "Alert", a1["title"])
	require.Equal(t, "", a1["message"])
	require.Equal(t, "Medium", a1["priority"])
	require.Equal(t, "second", a2["message"])
}

func TestSendAlertRejectsNonAdmin(t *testing.T) {
	env := setupServer(t, Options{})

	viewer := env.client(t)
	env.login(t, viewer, "user", "user", "user123")

	for _, c := range []*http.Client{viewer, env.client(t)} {
		resp, payload := env.sendAlert(t, c, `{"title":"nope"}`)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, map[string]any{"status": "error", "message": "Unauthorized"}, payload)
	}
	require.Empty(t, env.store.LoadAll(context.Background()))
}

func TestSendAlertRejectsMalformedJSON(t *testing.T) {
	env := setupServer(t, Options{})
	admin := env.client(t)
	env.login(t, admin, "admin", "admin", "admin123")

	resp, payload := env.sendAlert(t, admin, `{"title":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "error", payload["status"])
	require.Empty(t, env.store.LoadAll(context.Background()))
}

func TestCorruptStoreRendersEmptyDashboard(t *testing.T) {
	env := setupServer(t, Options{})
	require.NoError(t, os.WriteFile(env.store.Path(), []byte("<<garbage>>"), 0o644))

	viewer := env.client(t)
	env.login(t, viewer, "user", "user", "user123")

	resp, body := env.get(t, viewer, "/user")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "No alerts yet.")

	resp, body = env.get(t, viewer, "/api/alerts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ok":true,"alerts":[]}`, body)
}

func TestDashboardListsMostRecentFirst(t *testing.T) {
	env := setupServer(t, Options{})
	admin := env.client(t)
	env.login(t, admin, "admin", "admin", "admin123")

	env.sendAlert(t, admin, `{"title":"first-sent"}`)
	env.sendAlert(t, admin, `{"title":"second-sent"}`)

	_, body := env.get(t, admin, "/admin")
	require.Less(t, strings.Index(body, "second-sent"), strings.Index(body, "first-sent"))

	_, body = env.get(t, admin, "/api/alerts")
	var listed struct {
		Alerts []alert.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listed))
	require.Equal(t, "second-sent", listed.Alerts[0].Title)
}

func TestAPIAlertsRequiresSession(t *testing.T) {
	env := setupServer(t, Options{})
	resp, body := env.get(t, env.client(t), "/api/alerts")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.JSONEq(t, `{"error":"Not logged in"}`, body)
}

func TestPing(t *testing.T) {
	env := setupServer(t, Options{})
	admin := env.client(t)
	env.login(t, admin, "admin", "admin", "admin123")

	for _, c := range []*http.Client{env.client(t), admin} {
		resp, body := env.get(t, c, "/ping")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &payload))
		require.Equal(t, true, payload["pong"])
		ts, ok := payload["time"].(string)
		require.True(t, ok)
		require.True(t, strings.HasSuffix(ts, "Z"))
		_, err := time.Parse(alert.TimestampLayout, ts)
		require.NoError(t, err)
	}
	require.Empty(t, env.store.LoadAll(context.Background()))
}

func TestRealtimeSessionGate(t *testing.T) {
	env := setupServer(t, Options{RequireRealtimeSession: true})
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	viewer := env.client(t)
	env.login(t, viewer, "user", "user", "user123")
	conn := dialRealtime(t, env, viewer.Jar)
	require.Equal(t, broadcast.EventConnected, readMessage(t, conn).Type)
}

func TestRealtimeUnknownMessageType(t *testing.T) {
	env := setupServer(t, Options{})
	conn := dialRealtime(t, env, nil)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	msg := readMessage(t, conn)
	require.Equal(t, broadcast.EventError, msg.Type)
	require.Contains(t, string(msg.Data), "unsupported message type: subscribe")
}

func TestHubCloseEndsRealtimeConnections(t *testing.T) {
	env := setupServer(t, Options{})
	conn := dialRealtime(t, env, nil)
	readMessage(t, conn)

	env.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestNotFoundAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "alertcast_test_total", Help: "test"}))
	env := setupServer(t, Options{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})

	resp, _ := env.get(t, env.client(t), "/nope")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.get(t, env.client(t), "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "alertcast_test_total")
}

func TestLoginPageRenders(t *testing.T) {
	env := setupServer(t, Options{})
	resp, body := env.get(t, env.client(t), "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `name="user_type"`)
	require.NotContains(t, body, web.InvalidCredentialsMessage)
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func readSSEEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestEventStreamDeliversNewAlert(t *testing.T) {
	env := setupServer(t, Options{})

	resp, err := env.client(t).Get(env.server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stream := bufio.NewReader(resp.Body)
	event, _ := readSSEEvent(t, stream)
	require.Equal(t, broadcast.EventConnected, event)

	admin := env.client(t)
	env.login(t, admin, "admin", "admin", "admin123")
	sent, _ := env.sendAlert(t, admin, `{"title":"Streamed","priority":"Low"}`)
	require.Equal(t, http.StatusOK, sent.StatusCode)

	event, data := readSSEEvent(t, stream)
	require.Equal(t, broadcast.EventNewAlert, event)

	var msg struct {
		Type string      `json:"type"`
		Data alert.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	require.Equal(t, broadcast.EventNewAlert, msg.Type)
	require.Equal(t, "Streamed", msg.Data.Title)
	require.Equal(t, 1, msg.Data.ID)
}

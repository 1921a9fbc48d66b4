// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jeranaias/ipa/internal/config"
	"github.com/jeranaias/ipa/internal/gateway"
	"github.com/jeranaias/ipa/internal/gateway/gatewaytest"
	"github.com/jeranaias/ipa/internal/protocol"
	"github.com/jeranaias/ipa/internal/storage"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

type testServer struct {
	srv   *Server
	ts    *httptest.Server
	store *storage.DocumentStore
	gw    *gatewaytest.Scripted
}

func newTestServer(t *testing.T, gw *gatewaytest.Scripted, tweak func(*config.Config)) *testServer {
	t.Helper()
	store, err := storage.NewDocumentStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.RateLimitPerMinute = 0
	cfg.Server.SocketEventsPerSecond = 0
	cfg.Model.TimeoutSecs = 5
	if tweak != nil {
		tweak(cfg)
	}
	if gw == nil {
		gw = gatewaytest.New()
	}

	srv := New(cfg, gw, store, zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testServer{srv: srv, ts: ts, store: store, gw: gw}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.ts.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	env := readEvent(t, conn)
	require.Equal(t, protocol.EventConnectionEstablished, env.Event)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event, id string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, id, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	return env
}

func bind[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, env.Bind(&v))
	return v
}

// ============================================================================
// REST TESTS
// ============================================================================

func TestREST_ArticleLifecycle(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	resp, body := ts.do(t, http.MethodGet, "/articles", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, body = ts.do(t, http.MethodPost, "/articles", `{"filename":"weld_safety","content":"# Weld Safety"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created ArticleResult
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, created.Success)
	assert.Equal(t, "weld_safety.md", created.Filename)

	resp, body = ts.do(t, http.MethodGet, "/api/articles", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["weld_safety.md"]`, string(body))

	resp, body = ts.do(t, http.MethodPut, "/articles/weld_safety.md", `{"content":"# v2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/articles/weld_safety", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var article ArticleBody
	require.NoError(t, json.Unmarshal(body, &article))
	assert.Equal(t, ArticleBody{Filename: "weld_safety.md", Content: "# v2"}, article)

	resp, _ = ts.do(t, http.MethodDelete, "/api/articles/weld_safety.md", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodDelete, "/articles/weld_safety.md", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"success":false,"error":"Article not found"}`, string(body))
}

func TestREST_Errors(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		error  string
	}{
		{"missing article", http.MethodGet, "/articles/nope.md", "", http.StatusNotFound, "Article not found"},
		{"hidden name", http.MethodGet, "/articles/.secret", "", http.StatusBadRequest, "Invalid article name"},
		{"create without content", http.MethodPost, "/articles", `{"filename":"a"}`, http.StatusBadRequest, "Filename and content are required"},
		{"update without content", http.MethodPut, "/articles/a.md", `{}`, http.StatusBadRequest, "Content is required"},
		{"malformed body", http.MethodPost, "/articles", `{"filename":`, http.StatusBadRequest, "Invalid request format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			var out map[string]any
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, tt.error, out["error"])
		})
	}
}

func TestREST_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, nil, func(c *config.Config) { c.Server.MaxMessageBytes = 64 })

	big := `{"filename":"a","content":"` + strings.Repeat("x", 200) + `"}`
	resp, _ := ts.do(t, http.MethodPost, "/articles", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestREST_HealthAndStats(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	_, err := ts.store.Put("one", "a\nb\n")
	require.NoError(t, err)

	resp, body := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "OK", health.Status)
	assert.Equal(t, Version, health.Version)
	assert.Equal(t, "scripted", health.Model)
	assert.Equal(t, 0, health.Sessions)

	resp, body = ts.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats storage.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Count)
	require.Len(t, stats.Documents, 1)
	assert.Equal(t, "one.md", stats.Documents[0].Name)
}

func TestREST_SecurityHeaders(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	resp, _ := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestCORS_Preflight(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.ts.URL+"/articles", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3002")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3002", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimit_PerIP(t *testing.T) {
	ts := newTestServer(t, nil, func(c *config.Config) { c.Server.RateLimitPerMinute = 2 })

	for i := 0; i < 2; i++ {
		resp, _ := ts.do(t, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, string(body), "Too many requests")
}

// ============================================================================
// SOCKET TESTS
// ============================================================================

func TestSocket_HandshakeOpensSession(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ts.dial(t)

	assert.Eventually(t, func() bool { return ts.srv.Registry().Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSocket_RejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	url := "ws" + strings.TrimPrefix(ts.ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSocket_CreateArticleFlow(t *testing.T) {
	gw := gatewaytest.Replies(
		`{"action":"CREATE_ARTICLE","responseText":"Saved your notes.","filename":"weld_safety","content":"# Weld Safety"}`,
	)
	ts := newTestServer(t, gw, nil)
	conn := ts.dial(t)

	send(t, conn, protocol.EventSendMessage, "r1", protocol.SendMessage{Message: "write about weld safety"})

	reply := readEvent(t, conn)
	require.Equal(t, protocol.EventAIResponse, reply.Event)
	assert.Equal(t, "r1", reply.ID)
	ai := bind[protocol.AIResponse](t, reply)
	assert.Equal(t, "Saved your notes.", ai.Text)
	assert.Equal(t, "CREATE_ARTICLE", ai.Action)
	assert.True(t, protocol.ExpectsFollowUp(ai))

	saved := readEvent(t, conn)
	require.Equal(t, protocol.EventArticleSaved, saved.Event)
	assert.Equal(t, "r1", saved.ID)
	assert.Equal(t, "weld_safety.md", bind[protocol.ArticleSaved](t, saved).Filename)

	content, err := ts.store.Get("weld_safety.md")
	require.NoError(t, err)
	assert.Equal(t, "# Weld Safety", content)
}

func TestSocket_BusyRejection(t *testing.T) {
	gate := make(chan struct{})
	gw := gatewaytest.New(gatewaytest.Step{Reply: `{"action":"CHAT","responseText":"first"}`, Gate: gate})
	ts := newTestServer(t, gw, nil)
	conn := ts.dial(t)

	send(t, conn, protocol.EventSendMessage, "r1", protocol.SendMessage{Message: "one"})
	select {
	case <-gw.Calls:
	case <-time.After(5 * time.Second):
		t.Fatal("model never called")
	}

	send(t, conn, protocol.EventSendMessage, "r2", protocol.SendMessage{Message: "two"})
	rejected := readEvent(t, conn)
	require.Equal(t, protocol.EventError, rejected.Event)
	assert.Equal(t, "r2", rejected.ID)
	assert.Equal(t, "A request is already in progress", bind[protocol.Error](t, rejected).Message)

	close(gate)
	reply := readEvent(t, conn)
	assert.Equal(t, protocol.EventAIResponse, reply.Event)
	assert.Equal(t, "r1", reply.ID)

	resp, body := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, 1, health.Turns.Rejected)
}

func TestSocket_ImageAttachment(t *testing.T) {
	gw := gatewaytest.Replies(`{"action":"CHAT","responseText":"nice photo"}`)
	ts := newTestServer(t, gw, nil)
	conn := ts.dial(t)

	data := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})
	send(t, conn, protocol.EventSendMessage, "r1", protocol.SendMessage{
		Message:   "what is this?",
		ImageFile: &protocol.ImageFile{Data: data},
	})
	require.Equal(t, protocol.EventAIResponse, readEvent(t, conn).Event)

	turns := gw.Turns()
	require.Len(t, turns, 1)
	require.NotNil(t, turns[0].Attachment)
	assert.Equal(t, gateway.Attachment{Data: []byte{0x89, 'P', 'N', 'G'}, MimeType: "image/png"}, *turns[0].Attachment)
}

func TestSocket_InvalidFrames(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	conn := ts.dial(t)

	tests := []struct {
		name    string
		frame   string
		id      string
		message string
	}{
		{"not json", `hello`, "", msgInvalidFormat},
		{"unknown event", `{"event":"reboot","id":"x1"}`, "x1", msgUnknownEvent},
		{"empty message", `{"event":"send_message","id":"x2","data":{"message":"  "}}`, "x2", msgMessageRequired},
		{"bad image", `{"event":"send_message","id":"x3","data":{"message":"a","imageFile":{"data":"%%%","mimeType":"image/png"}}}`, "x3", msgInvalidImage},
		{"get without filename", `{"event":"get_article","id":"x4","data":{}}`, "x4", msgFilenameRequired},
		{"save without content", `{"event":"save_article","id":"x5","data":{"filename":"a"}}`, "x5", msgContentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			env := readEvent(t, conn)
			require.Equal(t, protocol.EventError, env.Event)
			assert.Equal(t, tt.id, env.ID)
			assert.Equal(t, tt.message, bind[protocol.Error](t, env).Message)
		})
	}
}

func TestSocket_DocumentEvents(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	conn := ts.dial(t)

	send(t, conn, protocol.EventSaveArticle, "s1", protocol.SaveArticle{Filename: "notes", Content: "# Notes"})
	saved := readEvent(t, conn)
	require.Equal(t, protocol.EventArticleSaved, saved.Event)
	assert.Equal(t, "s1", saved.ID)

	send(t, conn, protocol.EventGetArticles, "l1", nil)
	list := readEvent(t, conn)
	require.Equal(t, protocol.EventArticlesList, list.Event)
	assert.Equal(t, []string{"notes.md"}, bind[protocol.ArticlesList](t, list).Articles)

	send(t, conn, protocol.EventGetArticle, "g1", protocol.ArticleRef{Filename: "notes.md"})
	got := readEvent(t, conn)
	require.Equal(t, protocol.EventArticleContent, got.Event)
	assert.Equal(t, "# Notes", bind[protocol.ArticleContent](t, got).Content)

	send(t, conn, protocol.EventGetArticle, "g2", protocol.ArticleRef{Filename: "missing"})
	missing := readEvent(t, conn)
	require.Equal(t, protocol.EventError, missing.Event)
	assert.Equal(t, "Article not found", bind[protocol.Error](t, missing).Message)

	send(t, conn, protocol.EventDeleteArticle, "d1", protocol.ArticleRef{Filename: "notes"})
	deleted := readEvent(t, conn)
	require.Equal(t, protocol.EventArticleDeleted, deleted.Event)
	assert.True(t, bind[protocol.ArticleDeleted](t, deleted).Success)
}

func TestSocket_EventRateLimit(t *testing.T) {
	ts := newTestServer(t, nil, func(c *config.Config) { c.Server.SocketEventsPerSecond = 1 })
	conn := ts.dial(t)

	// Burst is twice the rate, so the third frame in a row is refused.
	for i := 0; i < 3; i++ {
		send(t, conn, protocol.EventGetArticles, "", nil)
	}
	var sawLimit bool
	for i := 0; i < 3; i++ {
		env := readEvent(t, conn)
		if env.Event == protocol.EventError && bind[protocol.Error](t, env).Message == msgRateLimited {
			sawLimit = true
		}
	}
	assert.True(t, sawLimit)
}

func TestSocket_RateLimitEchoesRequestID(t *testing.T) {
	ts := newTestServer(t, nil, func(c *config.Config) { c.Server.SocketEventsPerSecond = 1 })
	conn := ts.dial(t)

	send(t, conn, protocol.EventGetArticles, "l1", nil)
	send(t, conn, protocol.EventGetArticles, "l2", nil)
	send(t, conn, protocol.EventSendMessage, "turn-3", protocol.SendMessage{Message: "hello"})

	var limited protocol.Envelope
	for i := 0; i < 3; i++ {
		env := readEvent(t, conn)
		if env.Event == protocol.EventError {
			limited = env
		}
	}
	require.Equal(t, protocol.EventError, limited.Event)
	assert.Equal(t, msgRateLimited, bind[protocol.Error](t, limited).Message)
	assert.Equal(t, "turn-3", limited.ID)
}

func TestSocket_DisconnectClosesSession(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	conn := ts.dial(t)
	require.Eventually(t, func() bool { return ts.srv.Registry().Len() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return ts.srv.Registry().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_BroadcastsExternalChanges(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ts.srv.Watch(ctx))

	conn := ts.dial(t)
	require.NoError(t, os.WriteFile(filepath.Join(ts.store.Dir, "external.md"), []byte("# hand edited"), 0644))

	env := readEvent(t, conn)
	require.Equal(t, protocol.EventArticlesList, env.Event)
	assert.Empty(t, env.ID)
	assert.Contains(t, bind[protocol.ArticlesList](t, env).Articles, "external.md")
}

func TestShutdown_ClosesSockets(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	conn := ts.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, ts.srv.Registry().Len())
}

func TestDecodeTurn(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("img"))

	turn, err := decodeTurn(protocol.SendMessage{Message: "hi"})
	require.NoError(t, err)
	assert.Nil(t, turn.Attachment)

	turn, err = decodeTurn(protocol.SendMessage{ImageFile: &protocol.ImageFile{Data: raw, MimeType: "image/jpeg"}})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", turn.Attachment.MimeType)

	_, err = decodeTurn(protocol.SendMessage{ImageFile: &protocol.ImageFile{Data: raw}})
	assert.Error(t, err)

	_, err = decodeTurn(protocol.SendMessage{ImageFile: &protocol.ImageFile{Data: "data:image/png;base64"}})
	assert.Error(t, err)
}

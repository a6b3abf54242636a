package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"discussion_forum/internal/pkg/config"
	"discussion_forum/internal/pkg/middleware"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubThreads map[string]bool

func (s stubThreads) ThreadExists(_ context.Context, id string) (bool, error) {
	if id == "broken" {
		return false, errors.New("db down")
	}
	return s[id], nil
}

type recordingConn struct {
	id     string
	mu     sync.Mutex
	frames []realtime.Envelope
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(frame []byte) error {
	var env realtime.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, env)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) lastEvent() realtime.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return realtime.Envelope{}
	}
	return c.frames[len(c.frames)-1]
}

func newTestGateway() (*GatewayHandler, *realtime.Registry) {
	router := realtime.NewRouter(nil, nil)
	reg := realtime.NewRegistry(router, stubThreads{"t1": true}, nil, nil)
	return NewGatewayHandler(reg, Options{}, nil), reg
}

func frame(t *testing.T, event string, data interface{}) []byte {
	t.Helper()
	b, err := realtime.Encode(event, data)
	require.NoError(t, err)
	return b
}

func errorMessage(t *testing.T, env realtime.Envelope) realtime.ErrorPayload {
	t.Helper()
	require.Equal(t, realtime.EventError, env.Event)
	var p realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func TestHandleFrame(t *testing.T) {
	ctx := context.Background()
	alice := identity{userID: "u1", userName: "alice"}

	t.Run("join sends roster", func(t *testing.T) {
		h, reg := newTestGateway()
		conn := &recordingConn{id: "c1"}

		h.handleFrame(ctx, conn, alice, frame(t, realtime.EventJoinThread, JoinThreadMessage{ThreadID: "t1"}))

		env := conn.lastEvent()
		require.Equal(t, realtime.EventThreadUsers, env.Event)
		assert.Equal(t, []realtime.RosterUser{{UserID: "u1", UserName: "alice"}}, reg.Roster("t1"))
	})

	t.Run("join unknown thread replies error", func(t *testing.T) {
		h, reg := newTestGateway()
		conn := &recordingConn{id: "c1"}

		h.handleFrame(ctx, conn, alice, frame(t, realtime.EventJoinThread, JoinThreadMessage{ThreadID: "missing"}))

		p := errorMessage(t, conn.lastEvent())
		assert.Equal(t, realtime.EventJoinThread, p.Event)
		assert.Contains(t, p.Message, "not found")
		assert.Equal(t, 0, reg.Stats().Rooms)
	})

	t.Run("join store failure hides details", func(t *testing.T) {
		h, _ := newTestGateway()
		conn := &recordingConn{id: "c1"}

		h.handleFrame(ctx, conn, alice, frame(t, realtime.EventJoinThread, JoinThreadMessage{ThreadID: "broken"}))

		assert.Equal(t, "internal error", errorMessage(t, conn.lastEvent()).Message)
	})

	t.Run("identity mismatch is rejected", func(t *testing.T) {
		h, reg := newTestGateway()
		conn := &recordingConn{id: "c1"}

		h.handleFrame(ctx, conn, alice, frame(t, realtime.EventJoinThread, JoinThreadMessage{ThreadID: "t1", UserID: "u2"}))

		errorMessage(t, conn.lastEvent())
		assert.Empty(t, reg.Roster("t1"))
	})

	t.Run("malformed frames", func(t *testing.T) {
		h, _ := newTestGateway()
		conn := &recordingConn{id: "c1"}

		h.handleFrame(ctx, conn, alice, []byte("not json"))
		assert.Equal(t, "malformed frame", errorMessage(t, conn.lastEvent()).Message)

		h.handleFrame(ctx, conn, alice, []byte(`{"event":"join-thread"}`))
		assert.Equal(t, "missing data", errorMessage(t, conn.lastEvent()).Message)

		h.handleFrame(ctx, conn, alice, frame(t, realtime.EventJoinThread, map[string]string{}))
		assert.Contains(t, errorMessage(t, conn.lastEvent()).Message, "ThreadID")

		h.handleFrame(ctx, conn, alice, frame(t, "shout", map[string]string{}))
		assert.Equal(t, "unknown event", errorMessage(t, conn.lastEvent()).Message)
	})

	t.Run("typing requires isTyping", func(t *testing.T) {
		h, _ := newTestGateway()
		conn := &recordingConn{id: "c1"}

		h.handleFrame(ctx, conn, alice, frame(t, realtime.EventTyping, map[string]string{"threadId": "t1"}))
		assert.Contains(t, errorMessage(t, conn.lastEvent()).Message, "IsTyping")
	})

	t.Run("typing and leave reach other occupants", func(t *testing.T) {
		h, reg := newTestGateway()
		a := &recordingConn{id: "c1"}
		b := &recordingConn{id: "c2"}
		bob := identity{userID: "u2", userName: "bob"}

		h.handleFrame(ctx, a, alice, frame(t, realtime.EventJoinThread, JoinThreadMessage{ThreadID: "t1"}))
		h.handleFrame(ctx, b, bob, frame(t, realtime.EventJoinThread, JoinThreadMessage{ThreadID: "t1"}))
		assert.Equal(t, realtime.EventUserJoined, a.lastEvent().Event)

		typing := true
		h.handleFrame(ctx, a, alice, frame(t, realtime.EventTyping, TypingMessage{ThreadID: "t1", IsTyping: &typing}))
		assert.Equal(t, realtime.EventUserTyping, b.lastEvent().Event)
		assert.Len(t, reg.Typing("t1"), 1)

		h.handleFrame(ctx, a, alice, frame(t, realtime.EventLeaveThread, LeaveThreadMessage{ThreadID: "t1"}))
		assert.Equal(t, []realtime.RosterUser{{UserID: "u2", UserName: "bob"}}, reg.Roster("t1"))
		assert.Empty(t, reg.Typing("t1"))
	})
}

func TestWSConnSendClosesWhenFull(t *testing.T) {
	conn := newWSConn(nil, Options{SendBuffer: 1}, zap.NewNop())

	require.NoError(t, conn.Send([]byte("a")))
	assert.ErrorIs(t, conn.Send([]byte("b")), realtime.ErrSendFull)

	select {
	case <-conn.closed():
	default:
		t.Fatal("connection should be closed after overflow")
	}
	assert.ErrorIs(t, conn.Send([]byte("c")), realtime.ErrConnClosed)
}

func TestCheckOrigin(t *testing.T) {
	h := NewGatewayHandler(nil, Options{AllowedOrigins: []string{"http://localhost:3000"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws/threads", nil)
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, h.checkOrigin(req))
}

func TestServeOverWebsocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config.GlobalConfig.JWT.Secret = "test-secret-that-is-long-enough-123456"

	h, reg := newTestGateway()
	engine := gin.New()
	engine.GET("/ws/threads", middleware.AuthMiddleware(), h.Serve)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	token, _, err := utils.GenerateToken("u1", "alice")
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/threads?token=" + token

	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame(t, realtime.EventJoinThread, JoinThreadMessage{ThreadID: "t1"})))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env realtime.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	assert.Equal(t, realtime.EventThreadUsers, env.Event)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		return reg.Stats().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestGateway()
	engine := gin.New()
	engine.GET("/ws/threads", middleware.AuthMiddleware(), h.Serve)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/threads"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

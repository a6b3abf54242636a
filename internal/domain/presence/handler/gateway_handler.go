package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"discussion_forum/internal/pkg/middleware"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/pkg/apperror"
	"discussion_forum/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options websocket 参数
type Options struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

func (o *Options) normalize() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
}

// identity 连接对应的认证用户
type identity struct {
	userID   string
	userName string
}

// GatewayHandler 讨论串实时网关
type GatewayHandler struct {
	registry *realtime.Registry
	upgrader websocket.Upgrader
	validate *validator.Validate
	opts     Options
	log      *zap.Logger
}

func NewGatewayHandler(registry *realtime.Registry, opts Options, log *zap.Logger) *GatewayHandler {
	opts.normalize()
	if log == nil {
		log = zap.NewNop()
	}
	h := &GatewayHandler{
		registry: registry,
		validate: validator.New(),
		opts:     opts,
		log:      log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *GatewayHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Serve 升级为 websocket 并阻塞处理直到连接关闭
func (h *GatewayHandler) Serve(c *gin.Context) {
	userID, userName := middleware.CurrentUser(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回错误响应
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	conn := newWSConn(ws, h.opts, h.log)
	go conn.writePump()

	h.log.Info("connection opened", zap.String("conn_id", conn.ID()), zap.String("user_id", userID))
	ctx := c.Request.Context()
	user := identity{userID: userID, userName: userName}
	conn.readPump(func(frame []byte) {
		h.handleFrame(ctx, conn, user, frame)
	})

	conn.Close()
	h.registry.Disconnect(conn)
	h.log.Info("connection closed", zap.String("conn_id", conn.ID()), zap.String("user_id", userID))
}

// handleFrame 处理一帧客户端消息
func (h *GatewayHandler) handleFrame(ctx context.Context, conn realtime.Conn, user identity, frame []byte) {
	var env realtime.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		h.replyError(conn, "", "malformed frame")
		return
	}
	h.registry.Touch(conn)

	switch env.Event {
	case realtime.EventJoinThread:
		var msg JoinThreadMessage
		if !h.decode(conn, env, &msg) || !h.sameUser(conn, env.Event, user, msg.UserID) {
			return
		}
		name := user.userName
		if name == "" {
			name = msg.UserName
		}
		if err := h.registry.Join(ctx, msg.ThreadID, user.userID, name, conn); err != nil {
			if apperror.Is(err, apperror.KindNotFound) {
				h.replyError(conn, env.Event, err.Error())
				return
			}
			h.log.Error("join thread failed",
				zap.String("thread_id", msg.ThreadID),
				zap.String("user_id", user.userID),
				zap.Error(err))
			h.replyError(conn, env.Event, "internal error")
		}

	case realtime.EventLeaveThread:
		var msg LeaveThreadMessage
		if !h.decode(conn, env, &msg) || !h.sameUser(conn, env.Event, user, msg.UserID) {
			return
		}
		h.registry.Leave(msg.ThreadID, user.userID, conn)

	case realtime.EventTyping:
		var msg TypingMessage
		if !h.decode(conn, env, &msg) || !h.sameUser(conn, env.Event, user, msg.UserID) {
			return
		}
		name := user.userName
		if name == "" {
			name = msg.UserName
		}
		h.registry.SetTyping(msg.ThreadID, user.userID, name, *msg.IsTyping, conn)

	default:
		h.replyError(conn, env.Event, "unknown event")
	}
}

func (h *GatewayHandler) decode(conn realtime.Conn, env realtime.Envelope, dst interface{}) bool {
	if len(env.Data) == 0 {
		h.replyError(conn, env.Event, "missing data")
		return false
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		h.replyError(conn, env.Event, "malformed data")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.replyError(conn, env.Event, err.Error())
		return false
	}
	return true
}

// sameUser 帧里带了 userId 时必须和认证用户一致
func (h *GatewayHandler) sameUser(conn realtime.Conn, event string, user identity, claimed string) bool {
	if claimed == "" || claimed == user.userID {
		return true
	}
	h.replyError(conn, event, "userId does not match the authenticated user")
	return false
}

func (h *GatewayHandler) replyError(conn realtime.Conn, event, message string) {
	frame, err := realtime.Encode(realtime.EventError, realtime.ErrorPayload{Event: event, Message: message})
	if err != nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		h.log.Debug("send error frame failed", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}

// Roster 讨论串当前在线用户
func (h *GatewayHandler) Roster(c *gin.Context) {
	threadID := c.Param("id")
	response.Success(c, realtime.RosterPayload{ThreadID: threadID, Users: h.registry.Roster(threadID)})
}

// Stats 在线统计
func (h *GatewayHandler) Stats(c *gin.Context) {
	response.Success(c, h.registry.Stats())
}

package presence

import (
	"errors"

	"discussion_forum/internal/domain/presence/handler"
	"discussion_forum/internal/pkg/middleware"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/internal/pkg/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PresenceModule 在线状态模块
type PresenceModule struct{}

func init() {
	registry.Register(&PresenceModule{})
}

func (m *PresenceModule) Name() string {
	return "presence"
}

// Priority 依赖 discussion 模块提供的 Threads
func (m *PresenceModule) Priority() int {
	return 20
}

func (m *PresenceModule) Init(ctx *registry.ModuleContext) error {
	if ctx.Events == nil {
		return errors.New("presence: event router is not configured")
	}
	if ctx.Threads == nil {
		return errors.New("presence: thread checker is not configured")
	}

	log := ctx.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("presence")

	// 1. 依赖注入
	presence := realtime.NewRegistry(ctx.Events, ctx.Threads, log, ctx.Metrics)
	ctx.Presence = presence

	var opts handler.Options
	if ctx.Config != nil {
		rt := ctx.Config.Realtime
		opts = handler.Options{
			SendBuffer:     rt.SendBuffer,
			WriteTimeout:   rt.WriteTimeout,
			PingInterval:   rt.PingInterval,
			AllowedOrigins: ctx.Config.Server.AllowedOrigins,
		}
	}
	h := handler.NewGatewayHandler(presence, opts, log)

	// 2. 路由注册
	setupRoutes(ctx.Router, h)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.GatewayHandler) {
	// 浏览器通过 ?token= 认证
	r.GET("/ws/threads", middleware.AuthMiddleware(), h.Serve)
	r.GET("/threads/:id/users", h.Roster)
	r.GET("/presence/stats", h.Stats)
}

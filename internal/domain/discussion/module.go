package discussion

import (
	"discussion_forum/internal/domain/discussion/handler"
	"discussion_forum/internal/domain/discussion/repository"
	"discussion_forum/internal/domain/discussion/service"
	"discussion_forum/internal/pkg/middleware"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// DiscussionModule 讨论模块
type DiscussionModule struct{}

func init() {
	registry.Register(&DiscussionModule{})
}

func (m *DiscussionModule) Name() string {
	return "discussion"
}

func (m *DiscussionModule) Priority() int {
	return 10
}

func (m *DiscussionModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	var repo repository.DiscussionRepository
	if ctx.DB != nil {
		repo = repository.NewDiscussionRepository(ctx.DB)
	} else {
		repo = repository.NewMemoryRepository(nil)
	}

	opts := service.Options{
		Notifier: ctx.Notifier,
		Cache:    ctx.Cache,
		Metrics:  ctx.Metrics,
		Logger:   ctx.Logger,
	}
	if ctx.Events != nil {
		opts.Publisher = ctx.Events
	}
	if ctx.Config != nil {
		opts.Timeout = ctx.Config.Database.QueryTimeout
	}

	threads := service.NewThreadService(repo, opts)
	posts := service.NewPostService(repo, opts)
	reactions := service.NewReactionService(repo, opts)
	h := handler.NewDiscussionHandler(threads, posts, reactions)

	// 在线状态需要判断讨论串是否存在
	ctx.Threads = threads

	// 2. 路由注册
	setupRoutes(ctx.Router, h)

	return nil
}

var _ realtime.ThreadChecker = service.ThreadService(nil)

func setupRoutes(r *gin.Engine, h *handler.DiscussionHandler) {
	auth := middleware.AuthMiddleware()

	threads := r.Group("/threads")
	{
		threads.GET("", h.ListThreads)
		threads.GET("/:id", h.GetThread)
		threads.POST("", auth, h.CreateThread)
		threads.PUT("/:id", auth, h.UpdateThread)
		threads.DELETE("/:id", auth, h.DeleteThread)
	}

	posts := r.Group("/posts")
	{
		posts.GET("/check-review", h.CheckReview)
		posts.GET("/:id", h.GetPost)
		posts.GET("/:id/replies", h.ListReplies)
		posts.POST("", auth, h.CreatePost)
		posts.PATCH("/:id", auth, h.UpdatePost)
		posts.DELETE("/:id", auth, h.DeletePost)
	}

	reactions := r.Group("/reactions")
	{
		reactions.GET("/:id", h.GetReaction)
		reactions.GET("/post/:id", h.ListPostReactions)
		reactions.POST("", auth, h.CreateReaction)
		reactions.PATCH("/:id", auth, h.UpdateReaction)
		reactions.DELETE("/:id", auth, h.DeleteReaction)
	}
}

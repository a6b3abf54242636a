package registry

import (
	"fmt"
	"sort"

	"discussion_forum/internal/pkg/config"
	"discussion_forum/internal/pkg/notify"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/pkg/cache"
	"discussion_forum/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ModuleContext 模块初始化所需的上下文
// DB 为 nil 时模块使用内存存储
type ModuleContext struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Router   *gin.Engine
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.MetricsCollector
	Cache    cache.CacheService
	Notifier notify.Notifier

	// 实时推送
	Events *realtime.Router

	// 由 discussion 模块填入，presence 模块使用
	Threads realtime.ThreadChecker
	// 由 presence 模块填入，main 用来启动清理任务
	Presence *realtime.Registry
}

// Module 模块接口
type Module interface {
	// Name 返回模块名称
	Name() string

	// Init 初始化模块（依赖注入、路由注册等）
	Init(ctx *ModuleContext) error

	// Priority 返回初始化优先级（数字越小越先初始化）
	// 例如：presence 模块依赖 discussion 模块提供的 Threads
	Priority() int
}

// moduleRegistry 全局模块注册表
var moduleRegistry = make(map[string]Module)

// Register 注册模块
func Register(module Module) {
	moduleRegistry[module.Name()] = module
}

// GetModules 获取所有已注册的模块
func GetModules() map[string]Module {
	return moduleRegistry
}

// sorted 按优先级排序，优先级相同时按名称
func sorted() []Module {
	modules := make([]Module, 0, len(moduleRegistry))
	for _, m := range moduleRegistry {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Priority() != modules[j].Priority() {
			return modules[i].Priority() < modules[j].Priority()
		}
		return modules[i].Name() < modules[j].Name()
	})
	return modules
}

// InitModules 按优先级初始化所有模块
func InitModules(ctx *ModuleContext) error {
	for _, module := range sorted() {
		if err := module.Init(ctx); err != nil {
			return fmt.Errorf("init module %s: %w", module.Name(), err)
		}
		if ctx.Logger != nil {
			ctx.Logger.Info("module initialized", zap.String("module", module.Name()), zap.Int("priority", module.Priority()))
		}
	}
	return nil
}

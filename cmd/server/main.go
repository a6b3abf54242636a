package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "discussion_forum/internal/domain/discussion"
	_ "discussion_forum/internal/domain/presence"
	"discussion_forum/internal/pkg/config"
	"discussion_forum/internal/pkg/middleware"
	"discussion_forum/internal/pkg/notify"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/internal/pkg/registry"
	"discussion_forum/pkg/cache"
	"discussion_forum/pkg/database"
	"discussion_forum/pkg/logger"
	"discussion_forum/pkg/metrics"
	"discussion_forum/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

func main() {
	config.LoadConfig()
	cfg := &config.GlobalConfig

	log, err := logger.Init(cfg.Server.Mode)
	if err != nil {
		stdlog.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.Server.Mode)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetricsCollector(reg)

	mctx := &registry.ModuleContext{Config: cfg, Logger: log, Metrics: m}
	var checks []healthCheck

	// 1. 存储
	if cfg.Database.Driver == "postgres" {
		db, err := database.OpenPostgres(cfg.Database, log)
		if err != nil {
			return err
		}
		pool, err := database.NewPoolMonitor(db, cfg.Database.DBName, reg)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		mctx.DB = db
		checks = append(checks, healthCheck{name: "database", check: pool.HealthCheck})
	} else {
		log.Warn("using in-memory store, data will not survive a restart")
	}

	if cfg.Redis.Enabled {
		rdb, err := database.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		mctx.Redis = rdb
		mctx.Cache = cache.NewRedisCache(rdb, "forum:")
		checks = append(checks, healthCheck{name: "redis", check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		mctx.Cache = cache.NewMemoryCache(nil)
	}

	// 2. 实时推送
	events := realtime.NewRouter(log.Named("realtime"), m)
	mctx.Events = events
	if cfg.Realtime.Relay == "redis" {
		relay := realtime.NewRedisRelay(mctx.Redis, cfg.Realtime.RelayChannel, events, log.Named("relay"))
		events.SetForwarder(relay)
		go relay.Run(ctx)
	}

	// 3. 通知
	dispatcher, err := newDispatcher(cfg, log, m)
	if err != nil {
		return err
	}
	if dispatcher != nil {
		mctx.Notifier = dispatcher
		dispatcher.Start(ctx)
	}

	// 4. HTTP
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.TraceMiddleware(),
		middleware.LoggerMiddleware(),
		middleware.MetricsMiddleware(m),
		middleware.CORSMiddleware(cfg.Server.AllowedOrigins),
	)
	mctx.Router = engine

	if err := registry.InitModules(mctx); err != nil {
		return err
	}
	engine.GET("/health", healthHandler(checks, mctx.Presence))
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	reaper := realtime.NewReaper(mctx.Presence, cfg.Realtime.ReapInterval, cfg.Realtime.InactiveThreshold, log.Named("reaper"), m)
	go reaper.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			stop()
			return err
		}
	}

	// 先停后台任务，再关闭 HTTP
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
	return nil
}

// newDispatcher 没有配置任何通知通道时返回 nil
func newDispatcher(cfg *config.Config, log *zap.Logger, m *metrics.MetricsCollector) (*notify.Dispatcher, error) {
	var senders notify.MultiSender
	if cfg.Notification.URL != "" {
		senders = append(senders, notify.NewHTTPSender(cfg.Notification.URL, cfg.Notification.Timeout))
	}
	if cfg.Push.AccessKeyID != "" {
		push, err := notify.NewAliyunPushSender(cfg.Push)
		if err != nil {
			return nil, err
		}
		senders = append(senders, push)
	}
	if len(senders) == 0 {
		log.Warn("no notification channel configured, notifications are disabled")
		return nil, nil
	}

	n := cfg.Notification
	return notify.NewDispatcher(senders, notify.Options{
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		MaxRetry:   n.MaxRetry,
		RatePerSec: n.RatePerSec,
		Timeout:    n.Timeout,
	}, log.Named("notify"), m), nil
}

func healthHandler(checks []healthCheck, presence *realtime.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{}
		healthy := true
		for _, hc := range checks {
			if err := hc.check(ctx); err != nil {
				status[hc.name] = err.Error()
				healthy = false
				continue
			}
			status[hc.name] = "ok"
		}
		if presence != nil {
			status["presence"] = presence.Stats()
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, response.Response{
				Code:    response.ErrServerInternal,
				Message: "unhealthy",
				Data:    status,
			})
			return
		}
		response.Success(c, status)
	}
}

package realtime

import (
	"context"
	"time"

	"discussion_forum/pkg/metrics"

	"go.uber.org/zap"
)

// Reaper 定期清理长时间不活跃的在线用户
type Reaper struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.MetricsCollector
}

// NewReaper 创建清理器
func NewReaper(registry *Registry, interval, threshold time.Duration, log *zap.Logger, m *metrics.MetricsCollector) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
		log:       log,
		metrics:   m,
	}
}

// Run 阻塞运行直到 ctx 取消
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("inactivity reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("threshold", r.threshold))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("inactivity reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Sweep 以 now 为基准清理一次
func (r *Reaper) Sweep(now time.Time) SweepResult {
	res := r.registry.Sweep(now.Add(-r.threshold))
	r.metrics.RecordEvictions(res.Evicted)
	if res.Evicted > 0 {
		r.log.Info("evicted inactive users",
			zap.Int("evicted", res.Evicted),
			zap.Int("rooms_dropped", res.RoomsDropped))
	}
	return res
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"discussion_forum/internal/domain/discussion/repository"
	"discussion_forum/internal/pkg/notify"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/pkg/apperror"
	"discussion_forum/pkg/cache"
	"discussion_forum/pkg/metrics"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// invalidTextRepresentation uuid 列收到非法字符串时 Postgres 返回的错误码
const invalidTextRepresentation = "22P02"

// Options 服务依赖，零值字段使用空实现
type Options struct {
	Publisher realtime.Publisher
	Notifier  notify.Notifier
	Cache     cache.CacheService
	Metrics   *metrics.MetricsCollector
	Logger    *zap.Logger
	Timeout   time.Duration // 单次存储调用超时
	Now       func() time.Time
}

type deps struct {
	repo       repository.DiscussionRepository
	publisher  realtime.Publisher
	notifier   notify.Notifier
	cache      cache.CacheService
	metrics    *metrics.MetricsCollector
	log        *zap.Logger
	timeout    time.Duration
	now        func() time.Time
	aggregator *ReplyAggregator
	cascader   *SoftDeleteCascader
}

func newDeps(repo repository.DiscussionRepository, opts Options) *deps {
	d := &deps{
		repo:      repo,
		publisher: opts.Publisher,
		notifier:  opts.Notifier,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		timeout:   opts.Timeout,
		now:       opts.Now,
	}
	if d.publisher == nil {
		d.publisher = realtime.NopPublisher{}
	}
	if d.notifier == nil {
		d.notifier = notify.NopNotifier{}
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.timeout <= 0 {
		d.timeout = 5 * time.Second
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.aggregator = NewReplyAggregator(repo)
	d.cascader = NewSoftDeleteCascader()
	return d
}

// withTimeout 给存储调用加上截止时间
func (d *deps) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

// storeError 把存储层错误转换为业务错误
func storeError(err error, what, id string) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return apperror.NotFound("%s %s not found", what, id)
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

// isNotFound 记录不存在，或者 id 不是合法的 uuid（不可能存在）
func isNotFound(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

// pageOffset page 从 1 开始
func pageOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

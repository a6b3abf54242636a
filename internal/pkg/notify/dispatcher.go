package notify

import (
	"context"
	"sync"
	"time"

	"discussion_forum/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type task struct {
	n     Notification
	retry int // 重试次数
}

// Options 通知协程池配置
type Options struct {
	Workers    int
	QueueSize  int
	MaxRetry   int
	RatePerSec float64
	Timeout    time.Duration
	RetryDelay time.Duration // 第 n 次重试等待 n*RetryDelay
}

// Dispatcher 异步投递通知的协程池
type Dispatcher struct {
	tasks      chan task
	retries    chan task // 重试队列
	sender     Sender
	workers    int
	maxRetry   int
	timeout    time.Duration
	retryDelay time.Duration
	limiter    *rate.Limiter
	log        *zap.Logger
	metrics    *metrics.MetricsCollector
	wg         sync.WaitGroup
}

// NewDispatcher 创建通知协程池
func NewDispatcher(sender Sender, opts Options, log *zap.Logger, m *metrics.MetricsCollector) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	limit := rate.Inf
	burst := opts.Workers
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}

	retrySize := opts.QueueSize / 2
	if retrySize == 0 {
		retrySize = 1
	}

	return &Dispatcher{
		tasks:      make(chan task, opts.QueueSize),
		retries:    make(chan task, retrySize),
		sender:     sender,
		workers:    opts.Workers,
		maxRetry:   opts.MaxRetry,
		timeout:    opts.Timeout,
		retryDelay: opts.RetryDelay,
		limiter:    rate.NewLimiter(limit, burst),
		log:        log,
		metrics:    m,
	}
}

// Start 启动协程，ctx 取消后退出
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	// 启动重试处理协程
	d.wg.Add(1)
	go d.retryWorker(ctx)
	d.log.Info("notification dispatcher started", zap.Int("workers", d.workers))
}

// Wait 等待所有协程退出
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue 非阻塞入队，队列满时丢弃
func (d *Dispatcher) Enqueue(n Notification) bool {
	select {
	case d.tasks <- task{n: n}:
		return true
	default:
		d.deadLetter(task{n: n}, nil, "queue full")
		return false
	}
}

func (d *Dispatcher) NotifyComment(n CommentNotice) {
	if n.RecipientID == "" || n.RecipientID == n.AuthorID {
		return
	}
	d.Enqueue(NewCommentNotification(n))
}

func (d *Dispatcher) NotifyReaction(n ReactionNotice) {
	if n.RecipientID == "" || n.RecipientID == n.ReactorID {
		return
	}
	d.Enqueue(NewReactionNotification(n))
}

func (d *Dispatcher) NotifyMention(n MentionNotice) {
	if n.RecipientID == "" || n.RecipientID == n.MentionedByID {
		return
	}
	d.Enqueue(NewMentionNotification(n))
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.process(ctx, id, t)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, id int, t task) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.sender.Send(sendCtx, t.n)
	cancel()
	d.metrics.RecordNotification(string(t.n.Type), err)
	if err == nil {
		return
	}

	d.log.Warn("send notification failed",
		zap.Int("worker", id),
		zap.String("type", string(t.n.Type)),
		zap.Int("attempt", t.retry+1),
		zap.Error(err))

	// 如果未达到最大重试次数，加入重试队列
	if t.retry >= d.maxRetry {
		d.deadLetter(t, err, "max retries exceeded")
		return
	}
	t.retry++
	select {
	case d.retries <- t:
	default:
		d.deadLetter(t, err, "retry queue full")
	}
}

func (d *Dispatcher) retryWorker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.retries:
			// 延迟重试，避免立即重试
			timer := time.NewTimer(time.Duration(t.retry) * d.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			select {
			case d.tasks <- t:
			default:
				d.deadLetter(t, nil, "queue full")
			}
		}
	}
}

func (d *Dispatcher) deadLetter(t task, err error, reason string) {
	d.log.Error("notification dropped",
		zap.String("reason", reason),
		zap.String("type", string(t.n.Type)),
		zap.Strings("recipients", t.n.Recipients),
		zap.Int("retry", t.retry),
		zap.Error(err))
}

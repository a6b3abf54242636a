package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type relayMessage struct {
	Origin   string          `json:"origin"`
	ThreadID string          `json:"threadId"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// RedisRelay 通过 Redis pub/sub 在多个实例间转发内容事件
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	router  *Router
	timeout time.Duration
	log     *zap.Logger
}

// NewRedisRelay 创建转发器，origin 用于丢弃自己发出的消息
func NewRedisRelay(client *redis.Client, channel string, router *Router, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		router:  router,
		timeout: 2 * time.Second,
		log:     log,
	}
}

// Forward 发布到 Redis
func (r *RedisRelay) Forward(threadID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(relayMessage{
		Origin:   r.origin,
		ThreadID: threadID,
		Event:    event,
		Data:     data,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Publish(ctx, r.channel, msg).Err()
}

// Run 订阅频道并在本地重新推送，直到 ctx 取消
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	r.log.Info("redis relay subscribed", zap.String("channel", r.channel))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			r.handle(m.Payload)
		}
	}
}

func (r *RedisRelay) handle(raw string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.log.Warn("drop malformed relay message", zap.Error(err))
		return
	}
	if msg.Origin == r.origin {
		return
	}
	r.router.Broadcast(msg.ThreadID, msg.Event, msg.Data)
}

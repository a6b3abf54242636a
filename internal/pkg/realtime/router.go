package realtime

import (
	"sync"

	"discussion_forum/pkg/metrics"

	"go.uber.org/zap"
)

// Forwarder 把事件转发给其他实例
type Forwarder interface {
	Forward(threadID, event string, payload interface{}) error
}

// Router 按讨论串房间推送事件
type Router struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]Conn
	forwarder Forwarder
	log       *zap.Logger
	metrics   *metrics.MetricsCollector
}

// NewRouter 创建推送路由
func NewRouter(log *zap.Logger, m *metrics.MetricsCollector) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		rooms:   make(map[string]map[string]Conn),
		log:     log,
		metrics: m,
	}
}

// SetForwarder 设置跨实例转发
func (r *Router) SetForwarder(f Forwarder) {
	r.mu.Lock()
	r.forwarder = f
	r.mu.Unlock()
}

// Subscribe 订阅房间
func (r *Router) Subscribe(threadID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.rooms[threadID]
	if !ok {
		subs = make(map[string]Conn)
		r.rooms[threadID] = subs
	}
	subs[c.ID()] = c
}

// Unsubscribe 取消订阅，空房间直接删除
func (r *Router) Unsubscribe(threadID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.rooms[threadID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(r.rooms, threadID)
	}
}

// Subscribers 房间订阅数
func (r *Router) Subscribers(threadID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[threadID])
}

// Broadcast 推送给房间内所有连接，返回成功入队数
func (r *Router) Broadcast(threadID, event string, payload interface{}) int {
	return r.BroadcastExcept(threadID, event, payload, "")
}

// BroadcastExcept 推送给房间内除 exceptConnID 之外的连接
func (r *Router) BroadcastExcept(threadID, event string, payload interface{}, exceptConnID string) int {
	targets := r.snapshot(threadID, exceptConnID)
	if len(targets) == 0 {
		return 0
	}

	frame, err := Encode(event, payload)
	if err != nil {
		r.log.Error("encode event failed", zap.String("event", event), zap.Error(err))
		return 0
	}

	delivered, failed := 0, 0
	for _, c := range targets {
		if err := c.Send(frame); err != nil {
			failed++
			r.log.Warn("deliver event failed",
				zap.String("event", event),
				zap.String("thread_id", threadID),
				zap.String("conn_id", c.ID()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	r.metrics.RecordBroadcast(event, failed)
	return delivered
}

// SendTo 推送给单个连接
func (r *Router) SendTo(c Conn, event string, payload interface{}) bool {
	frame, err := Encode(event, payload)
	if err != nil {
		r.log.Error("encode event failed", zap.String("event", event), zap.Error(err))
		return false
	}
	if err := c.Send(frame); err != nil {
		r.log.Warn("deliver event failed",
			zap.String("event", event),
			zap.String("conn_id", c.ID()),
			zap.Error(err))
		r.metrics.RecordBroadcast(event, 1)
		return false
	}
	return true
}

// Publish 本地推送，配置了转发时同时发布到其他实例
func (r *Router) Publish(threadID, event string, payload interface{}) {
	r.Broadcast(threadID, event, payload)

	r.mu.RLock()
	f := r.forwarder
	r.mu.RUnlock()
	if f == nil {
		return
	}
	if err := f.Forward(threadID, event, payload); err != nil {
		r.log.Warn("forward event failed",
			zap.String("event", event),
			zap.String("thread_id", threadID),
			zap.Error(err))
	}
}

func (r *Router) snapshot(threadID, exceptConnID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.rooms[threadID]
	out := make([]Conn, 0, len(subs))
	for id, c := range subs {
		if id == exceptConnID {
			continue
		}
		out = append(out, c)
	}
	return out
}

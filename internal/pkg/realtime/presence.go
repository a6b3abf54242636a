package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"discussion_forum/pkg/apperror"
	"discussion_forum/pkg/metrics"

	"go.uber.org/zap"
)

// ThreadChecker 判断讨论串是否存在
type ThreadChecker interface {
	ThreadExists(ctx context.Context, threadID string) (bool, error)
}

type presenceEntry struct {
	userID       string
	userName     string
	conns        map[string]Conn
	joinedAt     time.Time
	lastActivity time.Time
}

type room struct {
	mu     sync.Mutex
	id     string
	users  map[string]*presenceEntry
	typing map[string]string // userID -> userName
	closed bool
}

// Stats 在线统计
type Stats struct {
	Rooms       int `json:"rooms"`
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

// SweepResult 一次清理的结果
type SweepResult struct {
	Evicted      int
	RoomsDropped int
}

// Registry 在线状态
// 锁顺序: registry.mu -> room.mu -> connMu
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	connMu    sync.Mutex
	connRooms map[string]map[string]string // connID -> threadID -> userID

	router  *Router
	threads ThreadChecker
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.MetricsCollector
}

// NewRegistry 创建在线状态表
func NewRegistry(router *Router, threads ThreadChecker, log *zap.Logger, m *metrics.MetricsCollector) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		rooms:     make(map[string]*room),
		connRooms: make(map[string]map[string]string),
		router:    router,
		threads:   threads,
		now:       time.Now,
		log:       log,
		metrics:   m,
	}
}

// SetClock 测试用
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Join 加入讨论串房间
func (r *Registry) Join(ctx context.Context, threadID, userID, userName string, c Conn) error {
	ok, err := r.threads.ThreadExists(ctx, threadID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("thread %s not found", threadID)
	}

	now := r.now()
	rm := r.acquireRoom(threadID)

	e, present := rm.users[userID]
	if !present {
		e = &presenceEntry{
			userID:   userID,
			conns:    make(map[string]Conn),
			joinedAt: now,
		}
		rm.users[userID] = e
	}
	if userName != "" {
		e.userName = userName
	}
	e.conns[c.ID()] = c
	e.lastActivity = now

	r.router.Subscribe(threadID, c)
	r.trackConn(c.ID(), threadID, userID)

	// 在房间锁内推送，保证同一房间的事件顺序
	r.router.SendTo(c, EventThreadUsers, RosterPayload{ThreadID: threadID, Users: rm.roster()})
	if !present {
		r.router.BroadcastExcept(threadID, EventUserJoined, RosterUser{UserID: userID, UserName: e.userName}, c.ID())
	}
	r.releaseRoom(rm)

	r.log.Debug("user joined thread",
		zap.String("thread_id", threadID),
		zap.String("user_id", userID),
		zap.String("conn_id", c.ID()))
	r.reportStats()
	return nil
}

// Leave 离开讨论串房间
func (r *Registry) Leave(threadID, userID string, c Conn) {
	defer r.untrackConn(c.ID(), threadID)

	rm := r.lockExisting(threadID)
	if rm == nil {
		return
	}
	r.leaveLocked(rm, userID, c.ID())
	r.releaseRoom(rm)
	r.reportStats()
}

// Disconnect 连接关闭时离开所有房间
func (r *Registry) Disconnect(c Conn) {
	r.connMu.Lock()
	joined := r.connRooms[c.ID()]
	delete(r.connRooms, c.ID())
	r.connMu.Unlock()

	for threadID, userID := range joined {
		rm := r.lockExisting(threadID)
		if rm == nil {
			continue
		}
		r.leaveLocked(rm, userID, c.ID())
		r.releaseRoom(rm)
	}
	if len(joined) > 0 {
		r.reportStats()
	}
}

// SetTyping 更新输入状态，仅对房间内的用户生效
func (r *Registry) SetTyping(threadID, userID, userName string, isTyping bool, origin Conn) {
	rm := r.lockExisting(threadID)
	if rm == nil {
		return
	}
	defer r.releaseRoom(rm)

	e, ok := rm.users[userID]
	if !ok {
		return
	}
	e.lastActivity = r.now()

	name := userName
	if name == "" {
		name = e.userName
	}
	_, wasTyping := rm.typing[userID]
	if isTyping == wasTyping {
		return
	}
	if isTyping {
		rm.typing[userID] = name
	} else {
		delete(rm.typing, userID)
	}

	exceptID := ""
	if origin != nil {
		exceptID = origin.ID()
	}
	r.router.BroadcastExcept(threadID, EventUserTyping, TypingPayload{ThreadID: threadID, Users: rm.typingUsers()}, exceptID)
}

// Touch 刷新连接所在房间的活跃时间
func (r *Registry) Touch(c Conn) {
	r.connMu.Lock()
	joined := make(map[string]string, len(r.connRooms[c.ID()]))
	for threadID, userID := range r.connRooms[c.ID()] {
		joined[threadID] = userID
	}
	r.connMu.Unlock()

	now := r.now()
	for threadID, userID := range joined {
		rm := r.lockExisting(threadID)
		if rm == nil {
			continue
		}
		if e, ok := rm.users[userID]; ok {
			if _, held := e.conns[c.ID()]; held {
				e.lastActivity = now
			}
		}
		r.releaseRoom(rm)
	}
}

// Roster 房间用户列表
func (r *Registry) Roster(threadID string) []RosterUser {
	rm := r.lockExisting(threadID)
	if rm == nil {
		return []RosterUser{}
	}
	defer r.releaseRoom(rm)
	return rm.roster()
}

// Typing 房间正在输入的用户
func (r *Registry) Typing(threadID string) []RosterUser {
	rm := r.lockExisting(threadID)
	if rm == nil {
		return []RosterUser{}
	}
	defer r.releaseRoom(rm)
	return rm.typingUsers()
}

// Stats 在线统计
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	var s Stats
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.closed && len(rm.users) > 0 {
			s.Rooms++
			s.Users += len(rm.users)
		}
		rm.mu.Unlock()
	}

	r.connMu.Lock()
	s.Connections = len(r.connRooms)
	r.connMu.Unlock()
	return s
}

// Sweep 清理 lastActivity 早于 cutoff 的用户
func (r *Registry) Sweep(cutoff time.Time) SweepResult {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	var res SweepResult
	for _, rm := range rooms {
		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			continue
		}

		evicted := 0
		for userID, e := range rm.users {
			if !e.lastActivity.Before(cutoff) {
				continue
			}
			for connID := range e.conns {
				r.router.Unsubscribe(rm.id, connID)
				r.untrackConn(connID, rm.id)
			}
			delete(rm.users, userID)
			delete(rm.typing, userID)
			evicted++
		}

		if evicted > 0 && len(rm.users) > 0 {
			r.router.Broadcast(rm.id, EventThreadUsers, RosterPayload{ThreadID: rm.id, Users: rm.roster()})
		}
		res.Evicted += evicted
		if len(rm.users) == 0 {
			res.RoomsDropped++
		}
		r.releaseRoom(rm)
	}

	r.reportStats()
	return res
}

// leaveLocked 调用方持有 rm.mu
func (r *Registry) leaveLocked(rm *room, userID, connID string) {
	e, ok := rm.users[userID]
	if !ok {
		return
	}
	if _, held := e.conns[connID]; !held {
		return
	}
	delete(e.conns, connID)
	r.router.Unsubscribe(rm.id, connID)
	if len(e.conns) > 0 {
		return
	}

	delete(rm.users, userID)
	_, wasTyping := rm.typing[userID]
	delete(rm.typing, userID)
	if len(rm.users) == 0 {
		return
	}

	r.router.Broadcast(rm.id, EventThreadUsers, RosterPayload{ThreadID: rm.id, Users: rm.roster()})
	if wasTyping {
		r.router.Broadcast(rm.id, EventUserTyping, TypingPayload{ThreadID: rm.id, Users: rm.typingUsers()})
	}
}

// acquireRoom 返回已加锁且未关闭的房间，不存在时创建
func (r *Registry) acquireRoom(threadID string) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[threadID]
		if !ok {
			rm = &room{
				id:     threadID,
				users:  make(map[string]*presenceEntry),
				typing: make(map[string]string),
			}
			r.rooms[threadID] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if !rm.closed {
			return rm
		}
		rm.mu.Unlock()
	}
}

// lockExisting 返回已加锁的房间，不存在时返回 nil
func (r *Registry) lockExisting(threadID string) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[threadID]
		r.mu.Unlock()
		if !ok {
			return nil
		}

		rm.mu.Lock()
		if !rm.closed {
			return rm
		}
		rm.mu.Unlock()
	}
}

// releaseRoom 解锁房间，空房间先标记关闭再移除
func (r *Registry) releaseRoom(rm *room) {
	if len(rm.users) > 0 {
		rm.mu.Unlock()
		return
	}
	rm.closed = true
	rm.mu.Unlock()

	r.mu.Lock()
	if cur, ok := r.rooms[rm.id]; ok && cur == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
}

func (r *Registry) trackConn(connID, threadID, userID string) {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	joined, ok := r.connRooms[connID]
	if !ok {
		joined = make(map[string]string)
		r.connRooms[connID] = joined
	}
	joined[threadID] = userID
}

func (r *Registry) untrackConn(connID, threadID string) {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	joined, ok := r.connRooms[connID]
	if !ok {
		return
	}
	delete(joined, threadID)
	if len(joined) == 0 {
		delete(r.connRooms, connID)
	}
}

func (r *Registry) reportStats() {
	if r.metrics == nil {
		return
	}
	s := r.Stats()
	r.metrics.UpdatePresence(s.Rooms, s.Users, s.Connections)
}

func (rm *room) roster() []RosterUser {
	users := make([]RosterUser, 0, len(rm.users))
	for _, e := range rm.users {
		users = append(users, RosterUser{UserID: e.userID, UserName: e.userName})
	}
	sortUsers(users)
	return users
}

func (rm *room) typingUsers() []RosterUser {
	users := make([]RosterUser, 0, len(rm.typing))
	for userID, name := range rm.typing {
		users = append(users, RosterUser{UserID: userID, UserName: name})
	}
	sortUsers(users)
	return users
}

func sortUsers(users []RosterUser) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].UserName != users[j].UserName {
			return users[i].UserName < users[j].UserName
		}
		return users[i].UserID < users[j].UserID
	})
}

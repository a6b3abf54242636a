package realtime

import "encoding/json"

// 推送事件
const (
	EventNewPost        = "new-post"
	EventUpdatePost     = "update-post"
	EventDeletePost     = "delete-post"
	EventNewReaction    = "new-reaction"
	EventUpdateReaction = "update-reaction"
	EventDeleteReaction = "delete-reaction"
	EventThreadUsers    = "thread-users"
	EventUserJoined     = "user-joined"
	EventUserTyping     = "user-typing"
	EventError          = "error"
)

// 客户端事件
const (
	EventJoinThread  = "join-thread"
	EventLeaveThread = "leave-thread"
	EventTyping      = "typing"
)

// Envelope 线上帧格式
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode 编码一帧
func Encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Publisher 业务层推送接口
type Publisher interface {
	Publish(threadID, event string, payload interface{})
}

// NopPublisher 丢弃所有事件
type NopPublisher struct{}

func (NopPublisher) Publish(string, string, interface{}) {}

// RosterUser 房间内的用户
type RosterUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// RosterPayload thread-users
type RosterPayload struct {
	ThreadID string       `json:"threadId"`
	Users    []RosterUser `json:"users"`
}

// TypingPayload user-typing
type TypingPayload struct {
	ThreadID string       `json:"threadId"`
	Users    []RosterUser `json:"users"`
}

// PostDeletedPayload delete-post
type PostDeletedPayload struct {
	PostID     string   `json:"postId"`
	DeletedIDs []string `json:"deletedIds,omitempty"`
}

// ReactionDeletedPayload delete-reaction
type ReactionDeletedPayload struct {
	ReactionID string `json:"reactionId"`
	PostID     string `json:"postId"`
}

// ErrorPayload error
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

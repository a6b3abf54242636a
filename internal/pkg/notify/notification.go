package notify

import (
	"fmt"
	"regexp"
)

// Type 通知类型
type Type string

const (
	TypeComment Type = "SOCIAL_COMMENT"
	TypeLike    Type = "SOCIAL_LIKE"
	TypeMention Type = "SOCIAL_MENTION"
)

const defaultPriority = 2

// Notification 通知服务请求体
type Notification struct {
	Type       Type                   `json:"type"`
	Title      string                 `json:"title"`
	Content    string                 `json:"content"`
	Link       string                 `json:"link"`
	IsGlobal   bool                   `json:"isGlobal"`
	Priority   int                    `json:"priority"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Recipients []string               `json:"recipients"`
}

// CommentNotice 有人回复了帖子
type CommentNotice struct {
	PostID         string
	CommentID      string
	CommentContent string
	AuthorID       string
	AuthorName     string
	RecipientID    string
}

// ReactionNotice 有人对帖子做出反应
type ReactionNotice struct {
	PostID       string
	ThreadID     string
	PostContent  string
	ReactionType string
	ReactorID    string
	ReactorName  string
	RecipientID  string
}

// MentionNotice 有人在帖子中提到了用户
type MentionNotice struct {
	PostID          string
	CommentID       string
	CommentContent  string
	MentionedByID   string
	MentionedByName string
	RecipientID     string
}

// Notifier 业务层通知接口，实现不能阻塞调用方
type Notifier interface {
	NotifyComment(n CommentNotice)
	NotifyReaction(n ReactionNotice)
	NotifyMention(n MentionNotice)
}

// NopNotifier 丢弃所有通知
type NopNotifier struct{}

func (NopNotifier) NotifyComment(CommentNotice)   {}
func (NopNotifier) NotifyReaction(ReactionNotice) {}
func (NopNotifier) NotifyMention(MentionNotice)   {}

// NewCommentNotification 回复通知
func NewCommentNotification(n CommentNotice) Notification {
	return Notification{
		Type:     TypeComment,
		Title:    "New reply",
		Content:  fmt.Sprintf("%s replied to your post", displayName(n.AuthorName, n.AuthorID)),
		Link:     fmt.Sprintf("/forum/posts/%s/comments", n.PostID),
		Priority: defaultPriority,
		Metadata: map[string]interface{}{
			"postId":          n.PostID,
			"commentId":       n.CommentID,
			"commentContent":  n.CommentContent,
			"commentAuthor":   n.AuthorName,
			"commentAuthorId": n.AuthorID,
		},
		Recipients: []string{n.RecipientID},
	}
}

// NewReactionNotification 反应通知
func NewReactionNotification(n ReactionNotice) Notification {
	return Notification{
		Type:     TypeLike,
		Title:    "New reaction",
		Content:  fmt.Sprintf("%s reacted to your post", displayName(n.ReactorName, n.ReactorID)),
		Link:     fmt.Sprintf("/forum/posts/%s", n.PostID),
		Priority: defaultPriority,
		Metadata: map[string]interface{}{
			"postId":       n.PostID,
			"threadId":     n.ThreadID,
			"postContent":  n.PostContent,
			"reactionType": n.ReactionType,
			"reactorName":  n.ReactorName,
			"reactorId":    n.ReactorID,
		},
		Recipients: []string{n.RecipientID},
	}
}

// NewMentionNotification 提及通知
func NewMentionNotification(n MentionNotice) Notification {
	return Notification{
		Type:     TypeMention,
		Title:    "You were mentioned",
		Content:  fmt.Sprintf("%s mentioned you in a post", displayName(n.MentionedByName, n.MentionedByID)),
		Link:     fmt.Sprintf("/forum/posts/%s/comments/%s", n.PostID, n.CommentID),
		Priority: defaultPriority,
		Metadata: map[string]interface{}{
			"postId":         n.PostID,
			"commentId":      n.CommentID,
			"commentContent": n.CommentContent,
			"mentionedBy":    n.MentionedByName,
			"mentionedById":  n.MentionedByID,
		},
		Recipients: []string{n.RecipientID},
	}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

var mentionPattern = regexp.MustCompile(`<@([A-Za-z0-9_-]+)>`)

// ParseMentions 提取 <@userId> 形式的提及，去重并保持出现顺序
func ParseMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

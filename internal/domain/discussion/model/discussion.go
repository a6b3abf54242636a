package model

import (
	baseModel "discussion_forum/pkg/model"

	"github.com/shopspring/decimal"
)

// DiscussionType 讨论类型
type DiscussionType string

const (
	CourseReview     DiscussionType = "COURSE_REVIEW"
	LessonDiscussion DiscussionType = "LESSON_DISCUSSION"
)

func (t DiscussionType) Valid() bool {
	return t == CourseReview || t == LessonDiscussion
}

// Thread 讨论串，每个外部资源（课程/课时）对应一个
type Thread struct {
	baseModel.BaseModel
	Type          DiscussionType      `gorm:"type:varchar(32);not null" json:"type"`
	ResourceID    string              `gorm:"not null;index" json:"resourceId"`
	OverallRating decimal.NullDecimal `gorm:"type:numeric(3,2)" json:"overallRating"`

	PostCount int64 `gorm:"->;-:migration" json:"postCount,omitempty"`
}

// Post 帖子，ParentID 为空表示顶层帖子
type Post struct {
	baseModel.BaseModel
	ThreadID string  `gorm:"type:uuid;not null;index" json:"threadId"`
	ParentID *string `gorm:"type:uuid;index" json:"parentId"`
	AuthorID string  `gorm:"not null;index" json:"authorId"`
	Content  string  `gorm:"type:text;not null" json:"content"`
	Rating   *int    `json:"rating"`
	IsEdited bool    `gorm:"default:false" json:"isEdited"`
}

// IsTopLevel 是否顶层帖子
func (p *Post) IsTopLevel() bool {
	return p.ParentID == nil
}

// Reaction 表情回应，同一用户对同一帖子只能有一个
type Reaction struct {
	baseModel.BaseModel
	PostID string       `gorm:"type:uuid;not null;index" json:"postId"`
	UserID string       `gorm:"not null" json:"userId"`
	Type   ReactionType `gorm:"type:varchar(16);not null" json:"type"`
}

// PostView 帖子及其统计信息，Replies 只包含直接子帖
type PostView struct {
	Post
	TotalRepliesCount int            `json:"totalRepliesCount"`
	ReactionCounts    ReactionCounts `json:"reactionCounts"`
	Replies           []PostView     `json:"replies,omitempty"`
}

// ThreadView 讨论串及其顶层帖子
type ThreadView struct {
	Thread
	Posts []PostView `json:"posts,omitempty"`
}

// ReviewStatus 用户是否已评价
type ReviewStatus struct {
	HasReviewed bool   `json:"hasReviewed"`
	ReviewID    string `json:"reviewId,omitempty"`
}

// ThreadFilter 列表过滤条件
type ThreadFilter struct {
	Type       DiscussionType
	ResourceID string
}

// Clone 返回副本，内存存储用来隔离调用方修改
func (p Post) Clone() Post {
	if p.ParentID != nil {
		parent := *p.ParentID
		p.ParentID = &parent
	}
	if p.Rating != nil {
		rating := *p.Rating
		p.Rating = &rating
	}
	return p
}

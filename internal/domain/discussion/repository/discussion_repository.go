package repository

import (
	"context"
	"time"

	"discussion_forum/internal/domain/discussion/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// batchSize IN 查询的分批大小，避免超过 Postgres 参数上限
const batchSize = 1000

// DiscussionRepository 讨论存储接口
// 未找到记录返回 gorm.ErrRecordNotFound，唯一约束冲突返回 gorm.ErrDuplicatedKey
type DiscussionRepository interface {
	// Transaction 在同一事务内执行 fn，fn 返回错误则整体回滚
	Transaction(ctx context.Context, fn func(tx DiscussionRepository) error) error

	CreateThread(ctx context.Context, thread *model.Thread) error
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	FindThreadByResource(ctx context.Context, threadType model.DiscussionType, resourceID string) (*model.Thread, error)
	ListThreads(ctx context.Context, filter model.ThreadFilter, offset, limit int) ([]model.Thread, int64, error)
	// LockThread 读取并锁定讨论串，直到事务结束
	LockThread(ctx context.Context, id string) (*model.Thread, error)
	UpdateThreadRating(ctx context.Context, id string, rating decimal.NullDecimal) error
	// UpdateThread 更新类型、资源和评分，未删除的讨论串才会被更新
	UpdateThread(ctx context.Context, thread *model.Thread) error
	// SoftDeleteThread 软删除讨论串及其全部帖子
	SoftDeleteThread(ctx context.Context, id string, at time.Time) error

	CreatePost(ctx context.Context, post *model.Post) error
	GetPost(ctx context.Context, id string, includeDeleted bool) (*model.Post, error)
	UpdatePost(ctx context.Context, post *model.Post) error
	FindChildren(ctx context.Context, postID string, includeDeleted bool) ([]model.Post, error)
	// FindChildrenOf 批量查询多个父帖的直接子帖
	FindChildrenOf(ctx context.Context, parentIDs []string, includeDeleted bool) ([]model.Post, error)
	ListReplies(ctx context.Context, postID string, offset, limit int) ([]model.Post, int64, error)
	ListTopLevelPosts(ctx context.Context, threadID string) ([]model.Post, error)
	// TopLevelRatings 返回未删除顶层帖子的评分
	TopLevelRatings(ctx context.Context, threadID string) ([]int, error)
	FindReviewPost(ctx context.Context, threadID, authorID string) (*model.Post, error)
	// BulkSoftDelete 把 ids 中未删除的帖子标记为删除，返回受影响行数
	BulkSoftDelete(ctx context.Context, ids []string, at time.Time) (int64, error)

	CreateReaction(ctx context.Context, reaction *model.Reaction) error
	GetReaction(ctx context.Context, id string) (*model.Reaction, error)
	UpdateReaction(ctx context.Context, reaction *model.Reaction) error
	DeleteReaction(ctx context.Context, id string) error
	FindReactionsForPost(ctx context.Context, postID string) ([]model.Reaction, error)
	FindReactionsForPosts(ctx context.Context, postIDs []string) ([]model.Reaction, error)
	FindExistingReaction(ctx context.Context, postID, userID string) (*model.Reaction, error)
}

type discussionRepository struct {
	db *gorm.DB
}

// NewDiscussionRepository 创建 gorm 实现
func NewDiscussionRepository(db *gorm.DB) DiscussionRepository {
	return &discussionRepository{db: db}
}

func (r *discussionRepository) Transaction(ctx context.Context, fn func(tx DiscussionRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&discussionRepository{db: tx})
	})
}

// --- Thread ---

func (r *discussionRepository) CreateThread(ctx context.Context, thread *model.Thread) error {
	return r.db.WithContext(ctx).Create(thread).Error
}

func (r *discussionRepository) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	var thread model.Thread
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&thread).Error; err != nil {
		return nil, err
	}
	return &thread, nil
}

func (r *discussionRepository) FindThreadByResource(ctx context.Context, threadType model.DiscussionType, resourceID string) (*model.Thread, error) {
	var thread model.Thread
	err := r.db.WithContext(ctx).
		Where("type = ? AND resource_id = ?", threadType, resourceID).
		First(&thread).Error
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (r *discussionRepository) ListThreads(ctx context.Context, filter model.ThreadFilter, offset, limit int) ([]model.Thread, int64, error) {
	var threads []model.Thread
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Thread{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.ResourceID != "" {
		query = query.Where("resource_id = ?", filter.ResourceID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Select("threads.*, (SELECT COUNT(*) FROM posts WHERE posts.thread_id = threads.id AND posts.deleted_at IS NULL) AS post_count").
		Order("created_at desc").Offset(offset).Limit(limit).
		Find(&threads).Error
	if err != nil {
		return nil, 0, err
	}
	return threads, total, nil
}

func (r *discussionRepository) LockThread(ctx context.Context, id string) (*model.Thread, error) {
	var thread model.Thread
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&thread).Error
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (r *discussionRepository) UpdateThreadRating(ctx context.Context, id string, rating decimal.NullDecimal) error {
	return r.db.WithContext(ctx).Model(&model.Thread{}).Where("id = ?", id).Update("overall_rating", rating).Error
}

func (r *discussionRepository) UpdateThread(ctx context.Context, thread *model.Thread) error {
	thread.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Model(&model.Thread{}).
		Where("id = ?", thread.ID).
		Updates(map[string]interface{}{
			"type":           thread.Type,
			"resource_id":    thread.ResourceID,
			"overall_rating": thread.OverallRating,
			"updated_at":     thread.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *discussionRepository) SoftDeleteThread(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Thread{}).Where("id = ?", id).Update("deleted_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return r.db.WithContext(ctx).Model(&model.Post{}).Where("thread_id = ?", id).Update("deleted_at", at).Error
}

// --- Post ---

func (r *discussionRepository) CreatePost(ctx context.Context, post *model.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *discussionRepository) GetPost(ctx context.Context, id string, includeDeleted bool) (*model.Post, error) {
	var post model.Post
	query := r.db.WithContext(ctx)
	if includeDeleted {
		query = query.Unscoped()
	}
	if err := query.Where("id = ?", id).First(&post).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

// UpdatePost 只更新可编辑字段；帖子已被删除时返回 ErrRecordNotFound，不会回写 deleted_at
func (r *discussionRepository) UpdatePost(ctx context.Context, post *model.Post) error {
	post.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Model(&model.Post{}).
		Where("id = ?", post.ID).
		Updates(map[string]interface{}{
			"content":    post.Content,
			"rating":     post.Rating,
			"is_edited":  post.IsEdited,
			"updated_at": post.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *discussionRepository) FindChildren(ctx context.Context, postID string, includeDeleted bool) ([]model.Post, error) {
	return r.FindChildrenOf(ctx, []string{postID}, includeDeleted)
}

func (r *discussionRepository) FindChildrenOf(ctx context.Context, parentIDs []string, includeDeleted bool) ([]model.Post, error) {
	var children []model.Post
	for _, chunk := range chunkIDs(parentIDs) {
		var batch []model.Post
		query := r.db.WithContext(ctx)
		if includeDeleted {
			query = query.Unscoped()
		}
		if err := query.Where("parent_id IN ?", chunk).Order("created_at asc").Find(&batch).Error; err != nil {
			return nil, err
		}
		children = append(children, batch...)
	}
	return children, nil
}

func (r *discussionRepository) ListReplies(ctx context.Context, postID string, offset, limit int) ([]model.Post, int64, error) {
	var replies []model.Post
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Post{}).Where("parent_id = ?", postID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&replies).Error; err != nil {
		return nil, 0, err
	}
	return replies, total, nil
}

func (r *discussionRepository) ListTopLevelPosts(ctx context.Context, threadID string) ([]model.Post, error) {
	var posts []model.Post
	err := r.db.WithContext(ctx).
		Where("thread_id = ? AND parent_id IS NULL", threadID).
		Order("created_at asc").
		Find(&posts).Error
	return posts, err
}

func (r *discussionRepository) TopLevelRatings(ctx context.Context, threadID string) ([]int, error) {
	var ratings []int
	err := r.db.WithContext(ctx).Model(&model.Post{}).
		Where("thread_id = ? AND parent_id IS NULL AND rating IS NOT NULL", threadID).
		Pluck("rating", &ratings).Error
	return ratings, err
}

func (r *discussionRepository) FindReviewPost(ctx context.Context, threadID, authorID string) (*model.Post, error) {
	var post model.Post
	err := r.db.WithContext(ctx).
		Where("thread_id = ? AND author_id = ? AND parent_id IS NULL AND rating IS NOT NULL", threadID, authorID).
		First(&post).Error
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *discussionRepository) BulkSoftDelete(ctx context.Context, ids []string, at time.Time) (int64, error) {
	var affected int64
	for _, chunk := range chunkIDs(ids) {
		res := r.db.WithContext(ctx).Model(&model.Post{}).Where("id IN ?", chunk).Update("deleted_at", at)
		if res.Error != nil {
			return 0, res.Error
		}
		affected += res.RowsAffected
	}
	return affected, nil
}

// --- Reaction ---

func (r *discussionRepository) CreateReaction(ctx context.Context, reaction *model.Reaction) error {
	return r.db.WithContext(ctx).Create(reaction).Error
}

func (r *discussionRepository) GetReaction(ctx context.Context, id string) (*model.Reaction, error) {
	var reaction model.Reaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reaction).Error; err != nil {
		return nil, err
	}
	return &reaction, nil
}

func (r *discussionRepository) UpdateReaction(ctx context.Context, reaction *model.Reaction) error {
	return r.db.WithContext(ctx).Model(reaction).Update("type", reaction.Type).Error
}

func (r *discussionRepository) DeleteReaction(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Reaction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *discussionRepository) FindReactionsForPost(ctx context.Context, postID string) ([]model.Reaction, error) {
	var reactions []model.Reaction
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("created_at asc").Find(&reactions).Error
	return reactions, err
}

func (r *discussionRepository) FindReactionsForPosts(ctx context.Context, postIDs []string) ([]model.Reaction, error) {
	var reactions []model.Reaction
	for _, chunk := range chunkIDs(postIDs) {
		var batch []model.Reaction
		if err := r.db.WithContext(ctx).Where("post_id IN ?", chunk).Find(&batch).Error; err != nil {
			return nil, err
		}
		reactions = append(reactions, batch...)
	}
	return reactions, nil
}

func (r *discussionRepository) FindExistingReaction(ctx context.Context, postID, userID string) (*model.Reaction, error) {
	var reaction model.Reaction
	err := r.db.WithContext(ctx).Where("post_id = ? AND user_id = ?", postID, userID).First(&reaction).Error
	if err != nil {
		return nil, err
	}
	return &reaction, nil
}

func chunkIDs(ids []string) [][]string {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(ids)+batchSize-1)/batchSize)
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"discussion_forum/internal/domain/discussion/model"
	"discussion_forum/internal/domain/discussion/repository"
	"discussion_forum/pkg/apperror"
	"discussion_forum/pkg/cache"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const threadExistsTTL = 10 * time.Minute

type ThreadService interface {
	CreateThread(ctx context.Context, authorID string, input CreateThreadInput) (*model.ThreadView, error)
	GetThread(ctx context.Context, id string, includePosts bool) (*model.ThreadView, error)
	GetThreadByResource(ctx context.Context, threadType model.DiscussionType, resourceID string) (*model.Thread, error)
	ListThreads(ctx context.Context, filter model.ThreadFilter, page, limit int) ([]model.Thread, int64, error)
	UpdateThread(ctx context.Context, id string, input UpdateThreadInput) (*model.Thread, error)
	DeleteThread(ctx context.Context, id string) error
	ThreadExists(ctx context.Context, id string) (bool, error)
}

// InitialPost 创建讨论串时附带的第一条帖子
type InitialPost struct {
	Content string `json:"content" binding:"required"`
	Rating  *int   `json:"rating" binding:"omitempty,min=1,max=5"`
}

type CreateThreadInput struct {
	Type        model.DiscussionType `json:"type" binding:"required"`
	ResourceID  string               `json:"resourceId" binding:"required"`
	InitialPost *InitialPost         `json:"initialPost"`
}

// UpdateThreadInput 未提供的字段保持不变
type UpdateThreadInput struct {
	Type       *model.DiscussionType `json:"type"`
	ResourceID *string               `json:"resourceId"`
}

type threadService struct {
	*deps
}

func NewThreadService(repo repository.DiscussionRepository, opts Options) ThreadService {
	return &threadService{deps: newDeps(repo, opts)}
}

func (s *threadService) CreateThread(ctx context.Context, authorID string, input CreateThreadInput) (view *model.ThreadView, err error) {
	defer func() { s.metrics.RecordMutation("create_thread", err) }()

	if !input.Type.Valid() {
		return nil, apperror.InvalidState("unknown discussion type %q", input.Type)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.repo.FindThreadByResource(ctx, input.Type, input.ResourceID); err == nil {
		return nil, apperror.Conflict("thread for %s %s already exists", input.Type, input.ResourceID)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find thread by resource: %w", err)
	}

	thread := &model.Thread{Type: input.Type, ResourceID: input.ResourceID}
	var first *model.Post
	err = s.repo.Transaction(ctx, func(tx repository.DiscussionRepository) error {
		if err := tx.CreateThread(ctx, thread); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperror.Conflict("thread for %s %s already exists", input.Type, input.ResourceID)
			}
			return fmt.Errorf("create thread: %w", err)
		}
		if input.InitialPost == nil {
			return nil
		}

		first = &model.Post{
			ThreadID: thread.ID,
			AuthorID: authorID,
			Content:  input.InitialPost.Content,
		}
		// 只有课程评价保留评分
		if thread.Type == model.CourseReview && input.InitialPost.Rating != nil {
			if !validRating(*input.InitialPost.Rating) {
				return apperror.InvalidState("rating must be between %d and %d", minRating, maxRating)
			}
			rating := *input.InitialPost.Rating
			first.Rating = &rating
		}
		if err := tx.CreatePost(ctx, first); err != nil {
			return fmt.Errorf("create initial post: %w", err)
		}
		if first.Rating != nil {
			rating, err := recomputeRating(ctx, tx, thread.ID)
			if err != nil {
				return fmt.Errorf("recompute rating: %w", err)
			}
			thread.OverallRating = rating
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("thread created",
		zap.String("thread_id", thread.ID),
		zap.String("type", string(thread.Type)),
		zap.String("resource_id", thread.ResourceID))

	view = &model.ThreadView{Thread: *thread}
	if first != nil {
		view.Thread.PostCount = 1
		view.Posts = []model.PostView{{Post: *first, Replies: []model.PostView{}}}
	}
	return view, nil
}

func (s *threadService) GetThread(ctx context.Context, id string, includePosts bool) (*model.ThreadView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	thread, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return nil, storeError(err, "thread", id)
	}

	view := &model.ThreadView{Thread: *thread}
	if !includePosts {
		return view, nil
	}

	posts, err := s.repo.ListTopLevelPosts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list top level posts: %w", err)
	}
	view.Posts, err = s.aggregator.Enrich(ctx, posts, nil)
	if err != nil {
		return nil, fmt.Errorf("enrich posts: %w", err)
	}
	return view, nil
}

func (s *threadService) GetThreadByResource(ctx context.Context, threadType model.DiscussionType, resourceID string) (*model.Thread, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	thread, err := s.repo.FindThreadByResource(ctx, threadType, resourceID)
	if err != nil {
		return nil, storeError(err, "thread for resource", resourceID)
	}
	return thread, nil
}

func (s *threadService) ListThreads(ctx context.Context, filter model.ThreadFilter, page, limit int) ([]model.Thread, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	threads, total, err := s.repo.ListThreads(ctx, filter, pageOffset(page, limit), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list threads: %w", err)
	}
	return threads, total, nil
}

// UpdateThread 修改讨论串的类型或资源
// 有评分的课程评价不能改为课程讨论，评分只属于课程评价
func (s *threadService) UpdateThread(ctx context.Context, id string, input UpdateThreadInput) (thread *model.Thread, err error) {
	defer func() { s.metrics.RecordMutation("update_thread", err) }()

	if input.Type != nil && !input.Type.Valid() {
		return nil, apperror.InvalidState("unknown discussion type %q", *input.Type)
	}
	if input.ResourceID != nil && *input.ResourceID == "" {
		return nil, apperror.InvalidState("resourceId cannot be empty")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.repo.Transaction(ctx, func(tx repository.DiscussionRepository) error {
		var err error
		thread, err = tx.LockThread(ctx, id)
		if err != nil {
			return storeError(err, "thread", id)
		}

		next := *thread
		if input.Type != nil {
			next.Type = *input.Type
		}
		if input.ResourceID != nil {
			next.ResourceID = *input.ResourceID
		}
		if next.Type == thread.Type && next.ResourceID == thread.ResourceID {
			return nil
		}

		if other, err := tx.FindThreadByResource(ctx, next.Type, next.ResourceID); err == nil && other.ID != id {
			return apperror.Conflict("thread for %s %s already exists", next.Type, next.ResourceID)
		} else if err != nil && !isNotFound(err) {
			return fmt.Errorf("find thread by resource: %w", err)
		}

		if thread.Type == model.CourseReview && next.Type != model.CourseReview {
			ratings, err := tx.TopLevelRatings(ctx, id)
			if err != nil {
				return fmt.Errorf("load ratings: %w", err)
			}
			if len(ratings) > 0 {
				return apperror.InvalidState("thread %s has rated reviews and must stay %s", id, model.CourseReview)
			}
			next.OverallRating = decimal.NullDecimal{}
		}

		if err := tx.UpdateThread(ctx, &next); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperror.Conflict("thread for %s %s already exists", next.Type, next.ResourceID)
			}
			return storeError(err, "thread", id)
		}
		thread = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("thread updated",
		zap.String("thread_id", thread.ID),
		zap.String("type", string(thread.Type)),
		zap.String("resource_id", thread.ResourceID))
	return thread, nil
}

func (s *threadService) DeleteThread(ctx context.Context, id string) (err error) {
	defer func() { s.metrics.RecordMutation("delete_thread", err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.repo.Transaction(ctx, func(tx repository.DiscussionRepository) error {
		return tx.SoftDeleteThread(ctx, id, s.now())
	})
	if err != nil {
		return storeError(err, "thread", id)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, threadExistsKey(id)); err != nil {
			s.log.Warn("invalidate thread cache failed", zap.String("thread_id", id), zap.Error(err))
		}
	}
	s.log.Info("thread deleted", zap.String("thread_id", id))
	return nil
}

// ThreadExists 只缓存存在的讨论串，删除时失效
func (s *threadService) ThreadExists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if s.cache != nil {
		var exists bool
		err := s.cache.Get(ctx, threadExistsKey(id), &exists)
		if err == nil && exists {
			return true, nil
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("read thread cache failed", zap.String("thread_id", id), zap.Error(err))
		}
	}

	_, err := s.repo.GetThread(ctx, id)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get thread %s: %w", id, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, threadExistsKey(id), true, threadExistsTTL); err != nil {
			s.log.Warn("write thread cache failed", zap.String("thread_id", id), zap.Error(err))
		}
	}
	return true, nil
}

func threadExistsKey(id string) string {
	return "thread:exists:" + id
}

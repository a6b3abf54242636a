package service

import (
	"context"
	"fmt"

	"discussion_forum/internal/domain/discussion/model"
	"discussion_forum/internal/domain/discussion/repository"
	"discussion_forum/internal/pkg/notify"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/pkg/apperror"

	"go.uber.org/zap"
)

type PostService interface {
	CreatePost(ctx context.Context, authorID string, input CreatePostInput) (*model.Post, error)
	UpdatePost(ctx context.Context, postID, authorID string, input UpdatePostInput) (*model.PostView, error)
	// DeletePost 级联软删除，返回被标记删除的帖子数
	DeletePost(ctx context.Context, postID, authorID string) (int64, error)
	GetPostWithCounts(ctx context.Context, postID string, includeDeleted bool) (*model.PostView, error)
	ListReplies(ctx context.Context, postID string, page, limit int) ([]model.PostView, int64, error)
	HasUserReviewed(ctx context.Context, threadID, authorID string) (*model.ReviewStatus, error)
}

type CreatePostInput struct {
	ThreadID string  `json:"threadId" binding:"required"`
	ParentID *string `json:"parentId"`
	Content  string  `json:"content" binding:"required"`
	Rating   *int    `json:"rating" binding:"omitempty,min=1,max=5"`

	// AuthorName 用于通知文案，由调用方从身份信息中填入
	AuthorName string `json:"-"`
}

type UpdatePostInput struct {
	Content *string `json:"content" binding:"omitempty,min=1"`
	Rating  *int    `json:"rating" binding:"omitempty,min=1,max=5"`
}

type postService struct {
	*deps
}

func NewPostService(repo repository.DiscussionRepository, opts Options) PostService {
	return &postService{deps: newDeps(repo, opts)}
}

func (s *postService) CreatePost(ctx context.Context, authorID string, input CreatePostInput) (post *model.Post, err error) {
	defer func() { s.metrics.RecordMutation("create_post", err) }()

	if input.Rating != nil && !validRating(*input.Rating) {
		return nil, apperror.InvalidState("rating must be between %d and %d", minRating, maxRating)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var parent *model.Post
	err = s.repo.Transaction(ctx, func(tx repository.DiscussionRepository) error {
		// 带评分时锁住讨论串，串行化评分重算
		var thread *model.Thread
		var err error
		if input.Rating != nil {
			thread, err = tx.LockThread(ctx, input.ThreadID)
		} else {
			thread, err = tx.GetThread(ctx, input.ThreadID)
		}
		if err != nil {
			return storeError(err, "thread", input.ThreadID)
		}

		if input.ParentID != nil {
			parent, err = tx.GetPost(ctx, *input.ParentID, false)
			if err != nil {
				return storeError(err, "parent post", *input.ParentID)
			}
			if parent.ThreadID != thread.ID {
				return apperror.InvalidState("parent post %s belongs to another thread", parent.ID)
			}
			if input.Rating != nil {
				return apperror.InvalidState("replies cannot carry a rating")
			}
		} else if input.Rating != nil && thread.Type != model.CourseReview {
			return apperror.InvalidState("ratings are only allowed on %s threads", model.CourseReview)
		}

		post = &model.Post{
			ThreadID: thread.ID,
			ParentID: input.ParentID,
			AuthorID: authorID,
			Content:  input.Content,
			Rating:   input.Rating,
		}
		if err := tx.CreatePost(ctx, post); err != nil {
			return fmt.Errorf("create post: %w", err)
		}

		if post.IsTopLevel() && post.Rating != nil {
			if _, err := recomputeRating(ctx, tx, thread.ID); err != nil {
				return fmt.Errorf("recompute rating: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("post created",
		zap.String("post_id", post.ID),
		zap.String("thread_id", post.ThreadID),
		zap.String("author_id", authorID))

	s.publisher.Publish(post.ThreadID, realtime.EventNewPost, post)
	s.notifyCreated(post, parent, input.AuthorName)
	return post, nil
}

func (s *postService) notifyCreated(post, parent *model.Post, authorName string) {
	subjectID := post.ID
	if parent != nil {
		subjectID = parent.ID
		s.notifier.NotifyComment(notify.CommentNotice{
			PostID:         parent.ID,
			CommentID:      post.ID,
			CommentContent: post.Content,
			AuthorID:       post.AuthorID,
			AuthorName:     authorName,
			RecipientID:    parent.AuthorID,
		})
	}

	for _, userID := range notify.ParseMentions(post.Content) {
		s.notifier.NotifyMention(notify.MentionNotice{
			PostID:          subjectID,
			CommentID:       post.ID,
			CommentContent:  post.Content,
			MentionedByID:   post.AuthorID,
			MentionedByName: authorName,
			RecipientID:     userID,
		})
	}
}

func (s *postService) UpdatePost(ctx context.Context, postID, authorID string, input UpdatePostInput) (view *model.PostView, err error) {
	defer func() { s.metrics.RecordMutation("update_post", err) }()

	if input.Rating != nil && !validRating(*input.Rating) {
		return nil, apperror.InvalidState("rating must be between %d and %d", minRating, maxRating)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var post *model.Post
	err = s.repo.Transaction(ctx, func(tx repository.DiscussionRepository) error {
		var err error
		post, err = tx.GetPost(ctx, postID, false)
		if err != nil {
			return storeError(err, "post", postID)
		}
		if post.AuthorID != authorID {
			return apperror.Forbidden("only the author can edit post %s", postID)
		}

		if input.Rating != nil {
			if !post.IsTopLevel() {
				return apperror.InvalidState("replies cannot carry a rating")
			}
			thread, err := tx.LockThread(ctx, post.ThreadID)
			if err != nil {
				return storeError(err, "thread", post.ThreadID)
			}
			if thread.Type != model.CourseReview {
				return apperror.InvalidState("ratings are only allowed on %s threads", model.CourseReview)
			}
			rating := *input.Rating
			post.Rating = &rating
		}
		if input.Content != nil {
			post.Content = *input.Content
		}
		post.IsEdited = true

		if err := tx.UpdatePost(ctx, post); err != nil {
			// 读取之后被级联删除
			if isNotFound(err) {
				return apperror.NotFound("post %s not found", postID)
			}
			return fmt.Errorf("update post: %w", err)
		}
		if input.Rating != nil {
			if _, err := recomputeRating(ctx, tx, post.ThreadID); err != nil {
				return fmt.Errorf("recompute rating: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(post.ThreadID, realtime.EventUpdatePost, post)
	return s.enrichOne(ctx, post, false)
}

func (s *postService) DeletePost(ctx context.Context, postID, authorID string) (deleted int64, err error) {
	defer func() { s.metrics.RecordMutation("delete_post", err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var post *model.Post
	var ids []string
	err = s.repo.Transaction(ctx, func(tx repository.DiscussionRepository) error {
		var err error
		post, err = tx.GetPost(ctx, postID, false)
		if err != nil {
			return storeError(err, "post", postID)
		}
		if post.AuthorID != authorID {
			return apperror.Forbidden("only the author can delete post %s", postID)
		}

		// 先锁讨论串再写帖子，和更新路径保持相同的加锁顺序
		thread, err := tx.LockThread(ctx, post.ThreadID)
		if err != nil {
			return storeError(err, "thread", post.ThreadID)
		}

		deleted, ids, err = s.cascader.Cascade(ctx, tx, post.ID, s.now())
		if err != nil {
			return fmt.Errorf("cascade delete: %w", err)
		}

		if post.IsTopLevel() && thread.Type == model.CourseReview {
			if _, err := recomputeRating(ctx, tx, thread.ID); err != nil {
				return fmt.Errorf("recompute rating: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.RecordCascade(deleted)
	s.log.Info("post deleted",
		zap.String("post_id", postID),
		zap.String("thread_id", post.ThreadID),
		zap.Int64("deleted", deleted))

	s.publisher.Publish(post.ThreadID, realtime.EventDeletePost, realtime.PostDeletedPayload{
		PostID:     postID,
		DeletedIDs: ids,
	})
	return deleted, nil
}

func (s *postService) GetPostWithCounts(ctx context.Context, postID string, includeDeleted bool) (*model.PostView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	post, err := s.repo.GetPost(ctx, postID, includeDeleted)
	if err != nil {
		return nil, storeError(err, "post", postID)
	}
	return s.enrichOne(ctx, post, includeDeleted)
}

func (s *postService) enrichOne(ctx context.Context, post *model.Post, includeDeleted bool) (*model.PostView, error) {
	children, err := s.repo.FindChildren(ctx, post.ID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("find children of %s: %w", post.ID, err)
	}

	views, err := s.aggregator.Enrich(ctx, []model.Post{*post}, map[string][]model.Post{post.ID: children})
	if err != nil {
		return nil, fmt.Errorf("enrich post %s: %w", post.ID, err)
	}
	return &views[0], nil
}

func (s *postService) ListReplies(ctx context.Context, postID string, page, limit int) ([]model.PostView, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.repo.GetPost(ctx, postID, false); err != nil {
		return nil, 0, storeError(err, "post", postID)
	}

	replies, total, err := s.repo.ListReplies(ctx, postID, pageOffset(page, limit), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list replies of %s: %w", postID, err)
	}

	views, err := s.aggregator.Enrich(ctx, replies, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("enrich replies of %s: %w", postID, err)
	}
	return views, total, nil
}

func (s *postService) HasUserReviewed(ctx context.Context, threadID, authorID string) (*model.ReviewStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, storeError(err, "thread", threadID)
	}
	if thread.Type != model.CourseReview {
		return &model.ReviewStatus{}, nil
	}

	post, err := s.repo.FindReviewPost(ctx, threadID, authorID)
	if isNotFound(err) {
		return &model.ReviewStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find review post: %w", err)
	}
	return &model.ReviewStatus{HasReviewed: true, ReviewID: post.ID}, nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"discussion_forum/internal/domain/discussion/model"
	"discussion_forum/internal/domain/discussion/repository"
	"discussion_forum/internal/pkg/notify"
	"discussion_forum/internal/pkg/realtime"
	"discussion_forum/pkg/apperror"

	"gorm.io/gorm"
)

type ReactionService interface {
	CreateReaction(ctx context.Context, userID string, input CreateReactionInput) (*model.Reaction, error)
	GetReaction(ctx context.Context, id string) (*model.Reaction, error)
	ListReactions(ctx context.Context, postID string) ([]model.Reaction, model.ReactionCounts, error)
	UpdateReaction(ctx context.Context, id, userID string, reactionType model.ReactionType) (*model.Reaction, error)
	DeleteReaction(ctx context.Context, id, userID string) error
}

type CreateReactionInput struct {
	PostID string             `json:"postId" binding:"required"`
	Type   model.ReactionType `json:"type" binding:"required"`

	UserName string `json:"-"`
}

type reactionService struct {
	*deps
}

func NewReactionService(repo repository.DiscussionRepository, opts Options) ReactionService {
	return &reactionService{deps: newDeps(repo, opts)}
}

func (s *reactionService) CreateReaction(ctx context.Context, userID string, input CreateReactionInput) (reaction *model.Reaction, err error) {
	defer func() { s.metrics.RecordMutation("create_reaction", err) }()

	if !input.Type.Valid() {
		return nil, apperror.InvalidState("unknown reaction type %q", input.Type)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	post, err := s.repo.GetPost(ctx, input.PostID, false)
	if err != nil {
		return nil, storeError(err, "post", input.PostID)
	}

	if _, err := s.repo.FindExistingReaction(ctx, post.ID, userID); err == nil {
		return nil, apperror.InvalidState("user %s already reacted to post %s", userID, post.ID)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find existing reaction: %w", err)
	}

	reaction = &model.Reaction{PostID: post.ID, UserID: userID, Type: input.Type}
	if err := s.repo.CreateReaction(ctx, reaction); err != nil {
		// 并发创建时由唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperror.InvalidState("user %s already reacted to post %s", userID, post.ID)
		}
		return nil, fmt.Errorf("create reaction: %w", err)
	}

	s.publisher.Publish(post.ThreadID, realtime.EventNewReaction, reaction)
	s.notifier.NotifyReaction(notify.ReactionNotice{
		PostID:       post.ID,
		ThreadID:     post.ThreadID,
		PostContent:  post.Content,
		ReactionType: string(reaction.Type),
		ReactorID:    userID,
		ReactorName:  input.UserName,
		RecipientID:  post.AuthorID,
	})
	return reaction, nil
}

func (s *reactionService) GetReaction(ctx context.Context, id string) (*model.Reaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reaction, err := s.repo.GetReaction(ctx, id)
	if err != nil {
		return nil, storeError(err, "reaction", id)
	}
	return reaction, nil
}

func (s *reactionService) ListReactions(ctx context.Context, postID string) ([]model.Reaction, model.ReactionCounts, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.repo.GetPost(ctx, postID, false); err != nil {
		return nil, model.ReactionCounts{}, storeError(err, "post", postID)
	}
	reactions, err := s.repo.FindReactionsForPost(ctx, postID)
	if err != nil {
		return nil, model.ReactionCounts{}, fmt.Errorf("find reactions for %s: %w", postID, err)
	}
	return reactions, s.aggregator.Tally(reactions), nil
}

func (s *reactionService) UpdateReaction(ctx context.Context, id, userID string, reactionType model.ReactionType) (reaction *model.Reaction, err error) {
	defer func() { s.metrics.RecordMutation("update_reaction", err) }()

	if !reactionType.Valid() {
		return nil, apperror.InvalidState("unknown reaction type %q", reactionType)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reaction, err = s.repo.GetReaction(ctx, id)
	if err != nil {
		return nil, storeError(err, "reaction", id)
	}
	if reaction.UserID != userID {
		return nil, apperror.Forbidden("reaction %s belongs to another user", id)
	}

	post, err := s.repo.GetPost(ctx, reaction.PostID, false)
	if err != nil {
		return nil, storeError(err, "post", reaction.PostID)
	}

	reaction.Type = reactionType
	if err := s.repo.UpdateReaction(ctx, reaction); err != nil {
		return nil, fmt.Errorf("update reaction: %w", err)
	}

	s.publisher.Publish(post.ThreadID, realtime.EventUpdateReaction, reaction)
	return reaction, nil
}

func (s *reactionService) DeleteReaction(ctx context.Context, id, userID string) (err error) {
	defer func() { s.metrics.RecordMutation("delete_reaction", err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reaction, err := s.repo.GetReaction(ctx, id)
	if err != nil {
		return storeError(err, "reaction", id)
	}
	if reaction.UserID != userID {
		return apperror.Forbidden("reaction %s belongs to another user", id)
	}

	// 帖子可能已被删除，事件仍然推送到原讨论串
	post, err := s.repo.GetPost(ctx, reaction.PostID, true)
	if err != nil {
		return storeError(err, "post", reaction.PostID)
	}

	if err := s.repo.DeleteReaction(ctx, id); err != nil {
		return storeError(err, "reaction", id)
	}

	s.publisher.Publish(post.ThreadID, realtime.EventDeleteReaction, realtime.ReactionDeletedPayload{
		ReactionID: id,
		PostID:     reaction.PostID,
	})
	return nil
}

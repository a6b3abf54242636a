package service

import (
	"context"
	"time"

	"discussion_forum/internal/domain/discussion/model"
	"discussion_forum/internal/domain/discussion/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockDiscussionRepository is a mock of DiscussionRepository
type MockDiscussionRepository struct {
	mock.Mock
}

// Transaction 直接在 mock 自身上执行 fn
func (m *MockDiscussionRepository) Transaction(ctx context.Context, fn func(tx repository.DiscussionRepository) error) error {
	return fn(m)
}

func (m *MockDiscussionRepository) CreateThread(ctx context.Context, thread *model.Thread) error {
	args := m.Called(ctx, thread)
	return args.Error(0)
}

func (m *MockDiscussionRepository) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Thread), args.Error(1)
}

func (m *MockDiscussionRepository) FindThreadByResource(ctx context.Context, threadType model.DiscussionType, resourceID string) (*model.Thread, error) {
	args := m.Called(ctx, threadType, resourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Thread), args.Error(1)
}

func (m *MockDiscussionRepository) ListThreads(ctx context.Context, filter model.ThreadFilter, offset, limit int) ([]model.Thread, int64, error) {
	args := m.Called(ctx, filter, offset, limit)
	return args.Get(0).([]model.Thread), args.Get(1).(int64), args.Error(2)
}

func (m *MockDiscussionRepository) LockThread(ctx context.Context, id string) (*model.Thread, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Thread), args.Error(1)
}

func (m *MockDiscussionRepository) UpdateThreadRating(ctx context.Context, id string, rating decimal.NullDecimal) error {
	args := m.Called(ctx, id, rating)
	return args.Error(0)
}

func (m *MockDiscussionRepository) UpdateThread(ctx context.Context, thread *model.Thread) error {
	args := m.Called(ctx, thread)
	return args.Error(0)
}

func (m *MockDiscussionRepository) SoftDeleteThread(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockDiscussionRepository) CreatePost(ctx context.Context, post *model.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

func (m *MockDiscussionRepository) GetPost(ctx context.Context, id string, includeDeleted bool) (*model.Post, error) {
	args := m.Called(ctx, id, includeDeleted)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Post), args.Error(1)
}

func (m *MockDiscussionRepository) UpdatePost(ctx context.Context, post *model.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

func (m *MockDiscussionRepository) FindChildren(ctx context.Context, postID string, includeDeleted bool) ([]model.Post, error) {
	args := m.Called(ctx, postID, includeDeleted)
	return args.Get(0).([]model.Post), args.Error(1)
}

func (m *MockDiscussionRepository) FindChildrenOf(ctx context.Context, parentIDs []string, includeDeleted bool) ([]model.Post, error) {
	args := m.Called(ctx, parentIDs, includeDeleted)
	return args.Get(0).([]model.Post), args.Error(1)
}

func (m *MockDiscussionRepository) ListReplies(ctx context.Context, postID string, offset, limit int) ([]model.Post, int64, error) {
	args := m.Called(ctx, postID, offset, limit)
	return args.Get(0).([]model.Post), args.Get(1).(int64), args.Error(2)
}

func (m *MockDiscussionRepository) ListTopLevelPosts(ctx context.Context, threadID string) ([]model.Post, error) {
	args := m.Called(ctx, threadID)
	return args.Get(0).([]model.Post), args.Error(1)
}

func (m *MockDiscussionRepository) TopLevelRatings(ctx context.Context, threadID string) ([]int, error) {
	args := m.Called(ctx, threadID)
	return args.Get(0).([]int), args.Error(1)
}

func (m *MockDiscussionRepository) FindReviewPost(ctx context.Context, threadID, authorID string) (*model.Post, error) {
	args := m.Called(ctx, threadID, authorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Post), args.Error(1)
}

func (m *MockDiscussionRepository) BulkSoftDelete(ctx context.Context, ids []string, at time.Time) (int64, error) {
	args := m.Called(ctx, ids, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDiscussionRepository) CreateReaction(ctx context.Context, reaction *model.Reaction) error {
	args := m.Called(ctx, reaction)
	return args.Error(0)
}

func (m *MockDiscussionRepository) GetReaction(ctx context.Context, id string) (*model.Reaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reaction), args.Error(1)
}

func (m *MockDiscussionRepository) UpdateReaction(ctx context.Context, reaction *model.Reaction) error {
	args := m.Called(ctx, reaction)
	return args.Error(0)
}

func (m *MockDiscussionRepository) DeleteReaction(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDiscussionRepository) FindReactionsForPost(ctx context.Context, postID string) ([]model.Reaction, error) {
	args := m.Called(ctx, postID)
	return args.Get(0).([]model.Reaction), args.Error(1)
}

func (m *MockDiscussionRepository) FindReactionsForPosts(ctx context.Context, postIDs []string) ([]model.Reaction, error) {
	args := m.Called(ctx, postIDs)
	return args.Get(0).([]model.Reaction), args.Error(1)
}

func (m *MockDiscussionRepository) FindExistingReaction(ctx context.Context, postID, userID string) (*model.Reaction, error) {
	args := m.Called(ctx, postID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reaction), args.Error(1)
}

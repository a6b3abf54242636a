package service

import (
	"context"
	"time"

	"discussion_forum/internal/domain/discussion/model"
	"discussion_forum/internal/domain/discussion/repository"
)

// SoftDeleteCascader 级联软删除一棵回复子树
type SoftDeleteCascader struct{}

func NewSoftDeleteCascader() *SoftDeleteCascader {
	return &SoftDeleteCascader{}
}

// Cascade 收集 rootID 及全部未删除子孙并一次性标记删除
// tx 必须是调用方事务内的存储，返回受影响数量和被删除的 id
func (c *SoftDeleteCascader) Cascade(ctx context.Context, tx repository.DiscussionRepository, rootID string, at time.Time) (int64, []string, error) {
	ids := []string{rootID}
	err := walkDescendants(ctx, tx, []string{rootID}, func(child model.Post) {
		ids = append(ids, child.ID)
	})
	if err != nil {
		return 0, nil, err
	}

	affected, err := tx.BulkSoftDelete(ctx, ids, at)
	if err != nil {
		return 0, nil, err
	}
	return affected, ids, nil
}

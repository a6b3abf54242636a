package service

import (
	"context"

	"discussion_forum/internal/domain/discussion/model"
	"discussion_forum/internal/domain/discussion/repository"
)

// ReplyCounts 帖子 id -> 未删除子孙数量，不在表中的帖子为 0
type ReplyCounts map[string]int

// ReplyAggregator 回复数与表情统计
type ReplyAggregator struct {
	repo repository.DiscussionRepository
}

func NewReplyAggregator(repo repository.DiscussionRepository) *ReplyAggregator {
	return &ReplyAggregator{repo: repo}
}

// CountReplies 统计任意深度的未删除回复数
func (a *ReplyAggregator) CountReplies(ctx context.Context, postID string) (int, error) {
	total := 0
	err := walkDescendants(ctx, a.repo, []string{postID}, func(model.Post) {
		total++
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SubtreeCounts 一次遍历得到 roots 及其所有子孙的回复数
// roots 之间不能互为祖先
func (a *ReplyAggregator) SubtreeCounts(ctx context.Context, roots ...string) (ReplyCounts, error) {
	parentOf := make(map[string]string)
	order := make([]string, 0)
	err := walkDescendants(ctx, a.repo, roots, func(child model.Post) {
		if child.ParentID == nil {
			return
		}
		parentOf[child.ID] = *child.ParentID
		order = append(order, child.ID)
	})
	if err != nil {
		return nil, err
	}

	counts := make(ReplyCounts, len(order)+len(roots))
	for _, id := range roots {
		counts[id] = 0
	}
	// 逆序即自底向上，子节点先于父节点累加
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		counts[parentOf[id]] += counts[id] + 1
	}
	return counts, nil
}

// Tally 按类型统计表情，未知类型忽略
func (a *ReplyAggregator) Tally(reactions []model.Reaction) model.ReactionCounts {
	var counts model.ReactionCounts
	for _, r := range reactions {
		counts.Add(r.Type)
	}
	return counts
}

// Enrich 为 posts 及其直接子帖附加回复数与表情统计
// children 为 nil 时不展开子帖
func (a *ReplyAggregator) Enrich(ctx context.Context, posts []model.Post, children map[string][]model.Post) ([]model.PostView, error) {
	roots := make([]string, 0, len(posts))
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		roots = append(roots, p.ID)
		ids = append(ids, p.ID)
		for _, c := range children[p.ID] {
			ids = append(ids, c.ID)
		}
	}

	counts, err := a.SubtreeCounts(ctx, roots...)
	if err != nil {
		return nil, err
	}

	reactions, err := a.repo.FindReactionsForPosts(ctx, ids)
	if err != nil {
		return nil, err
	}
	byPost := make(map[string][]model.Reaction, len(ids))
	for _, r := range reactions {
		byPost[r.PostID] = append(byPost[r.PostID], r)
	}

	views := make([]model.PostView, 0, len(posts))
	for _, p := range posts {
		view := model.PostView{
			Post:              p,
			TotalRepliesCount: counts[p.ID],
			ReactionCounts:    a.Tally(byPost[p.ID]),
		}
		if kids, ok := children[p.ID]; ok {
			view.Replies = make([]model.PostView, 0, len(kids))
			for _, c := range kids {
				view.Replies = append(view.Replies, model.PostView{
					Post:              c,
					TotalRepliesCount: counts[c.ID],
					ReactionCounts:    a.Tally(byPost[c.ID]),
				})
			}
		}
		views = append(views, view)
	}
	return views, nil
}

package service

import (
	"context"

	"discussion_forum/internal/domain/discussion/model"
	"discussion_forum/internal/domain/discussion/repository"
)

// walkDescendants 按层广度优先遍历 roots 的未删除子孙，每个节点只访问一次
func walkDescendants(ctx context.Context, repo repository.DiscussionRepository, roots []string, visit func(child model.Post)) error {
	visited := make(map[string]struct{}, len(roots))
	frontier := make([]string, 0, len(roots))
	for _, id := range roots {
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		frontier = append(frontier, id)
	}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		children, err := repo.FindChildrenOf(ctx, frontier, false)
		if err != nil {
			return err
		}

		next := make([]string, 0, len(children))
		for _, child := range children {
			if _, ok := visited[child.ID]; ok {
				continue
			}
			visited[child.ID] = struct{}{}
			visit(child)
			next = append(next, child.ID)
		}
		frontier = next
	}
	return nil
}

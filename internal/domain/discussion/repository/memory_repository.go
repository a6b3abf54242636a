package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"discussion_forum/internal/domain/discussion/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// memoryState 内存存储的全部数据，事务内操作的是它的副本
type memoryState struct {
	threads   map[string]model.Thread
	posts     map[string]model.Post
	reactions map[string]model.Reaction
	seq       map[string]uint64 // 插入顺序，时间相同时用于稳定排序
	nextSeq   uint64
}

func newMemoryState() *memoryState {
	return &memoryState{
		threads:   make(map[string]model.Thread),
		posts:     make(map[string]model.Post),
		reactions: make(map[string]model.Reaction),
		seq:       make(map[string]uint64),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.threads {
		c.threads[k] = v
	}
	for k, v := range s.posts {
		c.posts[k] = v.Clone()
	}
	for k, v := range s.reactions {
		c.reactions[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	c.nextSeq = s.nextSeq
	return c
}

func (s *memoryState) track(id string) {
	s.nextSeq++
	s.seq[id] = s.nextSeq
}

type memoryStore struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

// memoryRepository 进程内存储，用于本地开发和测试
// 事务持有全局锁并在副本上执行，提交时整体替换，因此同一时间只有一个事务
type memoryRepository struct {
	store *memoryStore
	tx    *memoryState
}

// NewMemoryRepository 创建内存实现，now 为空时使用 time.Now
func NewMemoryRepository(now func() time.Time) DiscussionRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryRepository{store: &memoryStore{state: newMemoryState(), now: now}}
}

func (r *memoryRepository) view(ctx context.Context, fn func(s *memoryState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

func (r *memoryRepository) Transaction(ctx context.Context, fn func(tx DiscussionRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx != nil {
		return fn(r)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	working := r.store.state.clone()
	if err := fn(&memoryRepository{store: r.store, tx: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.state = working
	return nil
}

// --- Thread ---

func (r *memoryRepository) CreateThread(ctx context.Context, thread *model.Thread) error {
	return r.view(ctx, func(s *memoryState) error {
		for _, t := range s.threads {
			if !t.IsDeleted() && t.Type == thread.Type && t.ResourceID == thread.ResourceID {
				return gorm.ErrDuplicatedKey
			}
		}
		thread.EnsureID()
		now := r.store.now()
		thread.CreatedAt, thread.UpdatedAt = now, now
		s.threads[thread.ID] = *thread
		s.track(thread.ID)
		return nil
	})
}

func (r *memoryRepository) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	var out *model.Thread
	err := r.view(ctx, func(s *memoryState) error {
		t, ok := s.threads[id]
		if !ok || t.IsDeleted() {
			return gorm.ErrRecordNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *memoryRepository) FindThreadByResource(ctx context.Context, threadType model.DiscussionType, resourceID string) (*model.Thread, error) {
	var out *model.Thread
	err := r.view(ctx, func(s *memoryState) error {
		for _, t := range s.threads {
			if !t.IsDeleted() && t.Type == threadType && t.ResourceID == resourceID {
				found := t
				out = &found
				return nil
			}
		}
		return gorm.ErrRecordNotFound
	})
	return out, err
}

func (r *memoryRepository) ListThreads(ctx context.Context, filter model.ThreadFilter, offset, limit int) ([]model.Thread, int64, error) {
	var out []model.Thread
	var total int64
	err := r.view(ctx, func(s *memoryState) error {
		var matched []model.Thread
		for _, t := range s.threads {
			if t.IsDeleted() {
				continue
			}
			if filter.Type != "" && t.Type != filter.Type {
				continue
			}
			if filter.ResourceID != "" && t.ResourceID != filter.ResourceID {
				continue
			}
			for _, p := range s.posts {
				if p.ThreadID == t.ID && !p.IsDeleted() {
					t.PostCount++
				}
			}
			matched = append(matched, t)
		}
		// created_at desc
		sort.Slice(matched, func(i, j int) bool {
			a, b := matched[i], matched[j]
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return s.seq[a.ID] > s.seq[b.ID]
		})
		total = int64(len(matched))
		out = paginate(matched, offset, limit)
		return nil
	})
	return out, total, err
}

func (r *memoryRepository) LockThread(ctx context.Context, id string) (*model.Thread, error) {
	// 事务本身已串行化
	return r.GetThread(ctx, id)
}

func (r *memoryRepository) UpdateThreadRating(ctx context.Context, id string, rating decimal.NullDecimal) error {
	return r.view(ctx, func(s *memoryState) error {
		t, ok := s.threads[id]
		if !ok || t.IsDeleted() {
			return gorm.ErrRecordNotFound
		}
		t.OverallRating = rating
		t.UpdatedAt = r.store.now()
		s.threads[id] = t
		return nil
	})
}

func (r *memoryRepository) UpdateThread(ctx context.Context, thread *model.Thread) error {
	return r.view(ctx, func(s *memoryState) error {
		cur, ok := s.threads[thread.ID]
		if !ok || cur.IsDeleted() {
			return gorm.ErrRecordNotFound
		}
		for id, t := range s.threads {
			if id != thread.ID && !t.IsDeleted() && t.Type == thread.Type && t.ResourceID == thread.ResourceID {
				return gorm.ErrDuplicatedKey
			}
		}
		cur.Type = thread.Type
		cur.ResourceID = thread.ResourceID
		cur.OverallRating = thread.OverallRating
		cur.UpdatedAt = r.store.now()
		thread.UpdatedAt = cur.UpdatedAt
		s.threads[thread.ID] = cur
		return nil
	})
}

func (r *memoryRepository) SoftDeleteThread(ctx context.Context, id string, at time.Time) error {
	return r.view(ctx, func(s *memoryState) error {
		t, ok := s.threads[id]
		if !ok || t.IsDeleted() {
			return gorm.ErrRecordNotFound
		}
		t.DeletedAt = gorm.DeletedAt{Time: at, Valid: true}
		s.threads[id] = t
		for pid, p := range s.posts {
			if p.ThreadID == id && !p.IsDeleted() {
				p.DeletedAt = gorm.DeletedAt{Time: at, Valid: true}
				s.posts[pid] = p
			}
		}
		return nil
	})
}

// --- Post ---

func (r *memoryRepository) CreatePost(ctx context.Context, post *model.Post) error {
	return r.view(ctx, func(s *memoryState) error {
		post.EnsureID()
		now := r.store.now()
		post.CreatedAt, post.UpdatedAt = now, now
		s.posts[post.ID] = post.Clone()
		s.track(post.ID)
		return nil
	})
}

func (r *memoryRepository) GetPost(ctx context.Context, id string, includeDeleted bool) (*model.Post, error) {
	var out *model.Post
	err := r.view(ctx, func(s *memoryState) error {
		p, ok := s.posts[id]
		if !ok || (!includeDeleted && p.IsDeleted()) {
			return gorm.ErrRecordNotFound
		}
		c := p.Clone()
		out = &c
		return nil
	})
	return out, err
}

func (r *memoryRepository) UpdatePost(ctx context.Context, post *model.Post) error {
	return r.view(ctx, func(s *memoryState) error {
		cur, ok := s.posts[post.ID]
		if !ok || cur.DeletedAt.Valid {
			return gorm.ErrRecordNotFound
		}
		post.UpdatedAt = r.store.now()
		post.DeletedAt = cur.DeletedAt
		s.posts[post.ID] = post.Clone()
		return nil
	})
}

func (r *memoryRepository) FindChildren(ctx context.Context, postID string, includeDeleted bool) ([]model.Post, error) {
	return r.FindChildrenOf(ctx, []string{postID}, includeDeleted)
}

func (r *memoryRepository) FindChildrenOf(ctx context.Context, parentIDs []string, includeDeleted bool) ([]model.Post, error) {
	var out []model.Post
	err := r.view(ctx, func(s *memoryState) error {
		parents := make(map[string]struct{}, len(parentIDs))
		for _, id := range parentIDs {
			parents[id] = struct{}{}
		}
		for _, p := range s.posts {
			if p.ParentID == nil || (!includeDeleted && p.IsDeleted()) {
				continue
			}
			if _, ok := parents[*p.ParentID]; ok {
				out = append(out, p.Clone())
			}
		}
		sortPosts(s, out, false)
		return nil
	})
	return out, err
}

func (r *memoryRepository) ListReplies(ctx context.Context, postID string, offset, limit int) ([]model.Post, int64, error) {
	var out []model.Post
	var total int64
	err := r.view(ctx, func(s *memoryState) error {
		var replies []model.Post
		for _, p := range s.posts {
			if p.ParentID != nil && *p.ParentID == postID && !p.IsDeleted() {
				replies = append(replies, p.Clone())
			}
		}
		sortPosts(s, replies, true)
		total = int64(len(replies))
		out = paginate(replies, offset, limit)
		return nil
	})
	return out, total, err
}

func (r *memoryRepository) ListTopLevelPosts(ctx context.Context, threadID string) ([]model.Post, error) {
	var out []model.Post
	err := r.view(ctx, func(s *memoryState) error {
		for _, p := range s.posts {
			if p.ThreadID == threadID && p.ParentID == nil && !p.IsDeleted() {
				out = append(out, p.Clone())
			}
		}
		sortPosts(s, out, false)
		return nil
	})
	return out, err
}

func (r *memoryRepository) TopLevelRatings(ctx context.Context, threadID string) ([]int, error) {
	var out []int
	err := r.view(ctx, func(s *memoryState) error {
		for _, p := range s.posts {
			if p.ThreadID == threadID && p.ParentID == nil && p.Rating != nil && !p.IsDeleted() {
				out = append(out, *p.Rating)
			}
		}
		return nil
	})
	return out, err
}

func (r *memoryRepository) FindReviewPost(ctx context.Context, threadID, authorID string) (*model.Post, error) {
	var out *model.Post
	err := r.view(ctx, func(s *memoryState) error {
		var candidates []model.Post
		for _, p := range s.posts {
			if p.ThreadID == threadID && p.AuthorID == authorID && p.ParentID == nil && p.Rating != nil && !p.IsDeleted() {
				candidates = append(candidates, p.Clone())
			}
		}
		if len(candidates) == 0 {
			return gorm.ErrRecordNotFound
		}
		sortPosts(s, candidates, false)
		out = &candidates[0]
		return nil
	})
	return out, err
}

func (r *memoryRepository) BulkSoftDelete(ctx context.Context, ids []string, at time.Time) (int64, error) {
	var affected int64
	err := r.view(ctx, func(s *memoryState) error {
		for _, id := range ids {
			p, ok := s.posts[id]
			if !ok || p.IsDeleted() {
				continue
			}
			p.DeletedAt = gorm.DeletedAt{Time: at, Valid: true}
			p.UpdatedAt = at
			s.posts[id] = p
			affected++
		}
		return nil
	})
	return affected, err
}

// --- Reaction ---

func (r *memoryRepository) CreateReaction(ctx context.Context, reaction *model.Reaction) error {
	return r.view(ctx, func(s *memoryState) error {
		for _, existing := range s.reactions {
			if !existing.IsDeleted() && existing.PostID == reaction.PostID && existing.UserID == reaction.UserID {
				return gorm.ErrDuplicatedKey
			}
		}
		reaction.EnsureID()
		now := r.store.now()
		reaction.CreatedAt, reaction.UpdatedAt = now, now
		s.reactions[reaction.ID] = *reaction
		s.track(reaction.ID)
		return nil
	})
}

func (r *memoryRepository) GetReaction(ctx context.Context, id string) (*model.Reaction, error) {
	var out *model.Reaction
	err := r.view(ctx, func(s *memoryState) error {
		reaction, ok := s.reactions[id]
		if !ok || reaction.IsDeleted() {
			return gorm.ErrRecordNotFound
		}
		out = &reaction
		return nil
	})
	return out, err
}

func (r *memoryRepository) UpdateReaction(ctx context.Context, reaction *model.Reaction) error {
	return r.view(ctx, func(s *memoryState) error {
		existing, ok := s.reactions[reaction.ID]
		if !ok || existing.IsDeleted() {
			return gorm.ErrRecordNotFound
		}
		existing.Type = reaction.Type
		existing.UpdatedAt = r.store.now()
		s.reactions[reaction.ID] = existing
		*reaction = existing
		return nil
	})
}

func (r *memoryRepository) DeleteReaction(ctx context.Context, id string) error {
	return r.view(ctx, func(s *memoryState) error {
		reaction, ok := s.reactions[id]
		if !ok || reaction.IsDeleted() {
			return gorm.ErrRecordNotFound
		}
		reaction.DeletedAt = gorm.DeletedAt{Time: r.store.now(), Valid: true}
		s.reactions[id] = reaction
		return nil
	})
}

func (r *memoryRepository) FindReactionsForPost(ctx context.Context, postID string) ([]model.Reaction, error) {
	return r.FindReactionsForPosts(ctx, []string{postID})
}

func (r *memoryRepository) FindReactionsForPosts(ctx context.Context, postIDs []string) ([]model.Reaction, error) {
	var out []model.Reaction
	err := r.view(ctx, func(s *memoryState) error {
		wanted := make(map[string]struct{}, len(postIDs))
		for _, id := range postIDs {
			wanted[id] = struct{}{}
		}
		for _, reaction := range s.reactions {
			if reaction.IsDeleted() {
				continue
			}
			if _, ok := wanted[reaction.PostID]; ok {
				out = append(out, reaction)
			}
		}
		sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
		return nil
	})
	return out, err
}

func (r *memoryRepository) FindExistingReaction(ctx context.Context, postID, userID string) (*model.Reaction, error) {
	var out *model.Reaction
	err := r.view(ctx, func(s *memoryState) error {
		for _, reaction := range s.reactions {
			if !reaction.IsDeleted() && reaction.PostID == postID && reaction.UserID == userID {
				found := reaction
				out = &found
				return nil
			}
		}
		return gorm.ErrRecordNotFound
	})
	return out, err
}

func sortPosts(s *memoryState, posts []model.Post, desc bool) {
	sort.Slice(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if desc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if desc {
			return s.seq[a.ID] > s.seq[b.ID]
		}
		return s.seq[a.ID] < s.seq[b.ID]
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

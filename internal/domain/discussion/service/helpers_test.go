package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"discussion_forum/internal/domain/discussion/model"
	"discussion_forum/internal/domain/discussion/repository"
	"discussion_forum/internal/pkg/notify"
	"discussion_forum/pkg/cache"

	"github.com/stretchr/testify/require"
)

type publishedEvent struct {
	threadID string
	event    string
	payload  interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(threadID, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{threadID: threadID, event: event, payload: payload})
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.event)
	}
	return out
}

type recordingNotifier struct {
	mu        sync.Mutex
	comments  []notify.CommentNotice
	reactions []notify.ReactionNotice
	mentions  []notify.MentionNotice
}

func (n *recordingNotifier) NotifyComment(c notify.CommentNotice) {
	n.mu.Lock()
	n.comments = append(n.comments, c)
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyReaction(r notify.ReactionNotice) {
	n.mu.Lock()
	n.reactions = append(n.reactions, r)
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyMention(m notify.MentionNotice) {
	n.mu.Lock()
	n.mentions = append(n.mentions, m)
	n.mu.Unlock()
}

// countingCache 统计 Get 次数
type countingCache struct {
	*cache.MemoryCache
	mu   sync.Mutex
	gets int
}

func newMemoryCache() *countingCache {
	return &countingCache{MemoryCache: cache.NewMemoryCache(nil)}
}

func (c *countingCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.MemoryCache.Get(ctx, key, dest)
}

type fixture struct {
	repo      repository.DiscussionRepository
	threads   ThreadService
	posts     PostService
	reactions ReactionService
	publisher *recordingPublisher
	notifier  *recordingNotifier
	cache     *countingCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	f := &fixture{
		repo:      repository.NewMemoryRepository(now),
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		cache:     newMemoryCache(),
	}
	opts := Options{
		Publisher: f.publisher,
		Notifier:  f.notifier,
		Cache:     f.cache,
		Now:       now,
	}
	f.threads = NewThreadService(f.repo, opts)
	f.posts = NewPostService(f.repo, opts)
	f.reactions = NewReactionService(f.repo, opts)
	return f
}

func (f *fixture) thread(t *testing.T, kind model.DiscussionType) *model.Thread {
	t.Helper()
	view, err := f.threads.CreateThread(context.Background(), "owner", CreateThreadInput{
		Type:       kind,
		ResourceID: "resource-" + string(kind),
	})
	require.NoError(t, err)
	return &view.Thread
}

func (f *fixture) post(t *testing.T, threadID string, parent *model.Post, author string, rating *int) *model.Post {
	t.Helper()
	input := CreatePostInput{ThreadID: threadID, Content: "content by " + author, Rating: rating}
	if parent != nil {
		parentID := parent.ID
		input.ParentID = &parentID
	}
	post, err := f.posts.CreatePost(context.Background(), author, input)
	require.NoError(t, err)
	return post
}

func intPtr(v int) *int { return &v }

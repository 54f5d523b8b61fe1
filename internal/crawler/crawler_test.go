package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/classifier"
	"github.com/luisdavi29052005/pipfox/internal/dedup"
	"github.com/luisdavi29052005/pipfox/internal/feed"
	"github.com/luisdavi29052005/pipfox/internal/fingerprint"
)

// fakePage scripts a feed page: per-cycle candidate batches and a height
// sequence. The first ContentHeight call returns heights[0]; later calls walk
// the slice and repeat the last value once exhausted.
type fakePage struct {
	mu        sync.Mutex
	cycles    [][]feed.Candidate
	heights   []int64
	growAfter bool // once heights are exhausted, keep growing instead

	navigated []string
	candCalls int
	heightIdx int
	scrolls   int
	seen      []string
	captured  []string

	navErr  error
	candErr error
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return p.navErr
}

func (p *fakePage) WaitFeedReady(context.Context) error { return nil }

func (p *fakePage) Candidates(context.Context) ([]feed.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candErr != nil {
		return nil, p.candErr
	}
	idx := p.candCalls
	p.candCalls++
	if idx < len(p.cycles) {
		return p.cycles[idx], nil
	}
	return nil, nil
}

func (p *fakePage) MarkSeen(_ context.Context, domIDs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, domIDs...)
	return nil
}

func (p *fakePage) ScrollBy(_ context.Context, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	return nil
}

func (p *fakePage) ContentHeight(context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.heightIdx
	p.heightIdx++
	if idx < len(p.heights) {
		return p.heights[idx], nil
	}
	if p.growAfter {
		return p.heights[len(p.heights)-1] + int64(idx)*10, nil
	}
	return p.heights[len(p.heights)-1], nil
}

func (p *fakePage) CaptureNode(_ context.Context, domID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured = append(p.captured, domID)
	return []byte("png"), nil
}

func (p *fakePage) GroupName(context.Context) (string, error) { return "Test Group", nil }

func (p *fakePage) Close(context.Context) error { return nil }

func (p *fakePage) scrollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

type fakeBlobStore struct {
	mu    sync.Mutex
	paths []string
}

func (s *fakeBlobStore) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return "mem://" + path, nil
}

func postCandidate(id, url, author, text string) feed.Candidate {
	return feed.Candidate{
		DOMID:    id,
		Features: classifier.Features{Toolbar: true, Timestamp: true, TextLength: len(text)},
		URL:      url,
		Author:   author,
		Text:     text,
	}
}

func fastConfig() Config {
	return Config{
		ScrollIncrementPx: 500,
		ScrollPause:       time.Millisecond,
		DrainThreshold:    3,
	}
}

func collectPosts(posts *[]feed.Post, mu *sync.Mutex) feed.EmitFunc {
	return func(_ context.Context, post feed.Post) error {
		mu.Lock()
		defer mu.Unlock()
		*posts = append(*posts, post)
		return nil
	}
}

func TestCrawlStopsAfterThreeFlatCycles(t *testing.T) {
	t.Parallel()

	// Height sequence [H, H, H, H]: the initial measurement plus three
	// consecutive equal post-scroll measurements must stop the run after
	// exactly three scrolls.
	page := &fakePage{heights: []int64{1000, 1000, 1000, 1000}}
	c := New(nil, nil, fastConfig(), zap.NewNop())

	var mu sync.Mutex
	var posts []feed.Post
	err := c.Crawl(context.Background(), page, "wf-1",
		feed.WorkflowNode{GroupURL: "https://facebook.com/groups/1"},
		collectPosts(&posts, &mu))
	require.NoError(t, err)
	require.Equal(t, 3, page.scrollCount())
	require.Empty(t, posts)
}

func TestCrawlDrainCounterResetsOnGrowth(t *testing.T) {
	t.Parallel()

	// Two flat cycles, then growth, then three flat cycles: six scrolls.
	page := &fakePage{heights: []int64{1000, 1000, 1000, 1400, 1400, 1400, 1400}}
	c := New(nil, nil, fastConfig(), zap.NewNop())

	err := c.Crawl(context.Background(), page, "wf-1",
		feed.WorkflowNode{GroupURL: "https://facebook.com/groups/1"},
		func(context.Context, feed.Post) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 6, page.scrollCount())
}

func TestCrawlEmitsClassifiedPostsOnce(t *testing.T) {
	t.Parallel()

	dup := postCandidate("n1", "https://fb.com/groups/1/posts/9", "Ana", "first post text")
	page := &fakePage{
		heights: []int64{100, 100, 100, 100},
		cycles: [][]feed.Candidate{
			{
				dup,
				{
					// Only one signal: filtered by the classifier.
					DOMID:    "n2",
					Features: classifier.Features{TextLength: 50},
					Text:     "not a post",
				},
			},
			// Same post re-observed on the next pass.
			{dup},
		},
	}

	c := New(nil, nil, fastConfig(), zap.NewNop())

	var mu sync.Mutex
	var posts []feed.Post
	err := c.Crawl(context.Background(), page, "wf-1",
		feed.WorkflowNode{GroupURL: "https://facebook.com/groups/1"},
		collectPosts(&posts, &mu))
	require.NoError(t, err)

	require.Len(t, posts, 1)
	require.Equal(t, "Ana", posts[0].Author)
	require.Equal(t,
		fingerprint.Sum(dup.URL, dup.Author, dup.Text),
		posts[0].ContentHash)
	// Every enumerated node is marked seen, post or not.
	require.Contains(t, page.seen, "n1")
	require.Contains(t, page.seen, "n2")
}

func TestCrawlSkipsHashesPersistedInDedupStore(t *testing.T) {
	t.Parallel()

	cand := postCandidate("n1", "https://fb.com/groups/1/posts/9", "Ana", "already seen")
	hash := fingerprint.Sum(cand.URL, cand.Author, cand.Text)

	store := dedup.NewMemory()
	require.NoError(t, store.Add(context.Background(), "https://facebook.com/groups/1|"+hash))

	page := &fakePage{
		heights: []int64{100, 100, 100, 100},
		cycles:  [][]feed.Candidate{{cand}},
	}
	c := New(store, nil, fastConfig(), zap.NewNop())

	var mu sync.Mutex
	var posts []feed.Post
	err := c.Crawl(context.Background(), page, "wf-1",
		feed.WorkflowNode{GroupURL: "https://facebook.com/groups/1"},
		collectPosts(&posts, &mu))
	require.NoError(t, err)
	require.Empty(t, posts)
}

func TestCrawlRecordsHashInDedupStore(t *testing.T) {
	t.Parallel()

	cand := postCandidate("n1", "https://fb.com/groups/1/posts/9", "Ana", "fresh post")
	store := dedup.NewMemory()
	page := &fakePage{
		heights: []int64{100, 100, 100, 100},
		cycles:  [][]feed.Candidate{{cand}},
	}
	c := New(store, nil, fastConfig(), zap.NewNop())

	err := c.Crawl(context.Background(), page, "wf-1",
		feed.WorkflowNode{GroupURL: "https://facebook.com/groups/1"},
		func(context.Context, feed.Post) error { return nil })
	require.NoError(t, err)

	hash := fingerprint.Sum(cand.URL, cand.Author, cand.Text)
	seen, err := store.Seen(context.Background(), "https://facebook.com/groups/1|"+hash)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestCrawlCapturesAuditScreenshot(t *testing.T) {
	t.Parallel()

	cand := postCandidate("n1", "https://fb.com/groups/1/posts/9", "Ana", "audited post")
	blobs := &fakeBlobStore{}
	page := &fakePage{
		heights: []int64{100, 100, 100, 100},
		cycles:  [][]feed.Candidate{{cand}},
	}
	c := New(nil, blobs, fastConfig(), zap.NewNop())

	err := c.Crawl(context.Background(), page, "wf-1",
		feed.WorkflowNode{GroupURL: "https://facebook.com/groups/1"},
		func(context.Context, feed.Post) error { return nil })
	require.NoError(t, err)

	hash := fingerprint.Sum(cand.URL, cand.Author, cand.Text)
	require.Equal(t, []string{"n1"}, page.captured)
	require.Equal(t, []string{"wf-1/" + hash + ".png"}, blobs.paths)
}

func TestCrawlStopsAfterCancellation(t *testing.T) {
	t.Parallel()

	// A feed that keeps growing would crawl forever; cancellation must end
	// it within one scroll cycle, without an error.
	page := &fakePage{heights: []int64{100}, growAfter: true}
	c := New(nil, nil, fastConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var posts []feed.Post
	done := make(chan error, 1)
	go func() {
		done <- c.Crawl(ctx, page, "wf-1",
			feed.WorkflowNode{GroupURL: "https://facebook.com/groups/1"},
			collectPosts(&posts, &mu))
	}()

	require.Eventually(t, func() bool { return page.scrollCount() > 2 },
		time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("crawl did not stop after cancellation")
	}
}

func TestCrawlNavigationFailureIsFatalToRun(t *testing.T) {
	t.Parallel()

	page := &fakePage{heights: []int64{100}, navErr: errors.New("net::ERR_TIMED_OUT")}
	c := New(nil, nil, fastConfig(), zap.NewNop())

	err := c.Crawl(context.Background(), page, "wf-1",
		feed.WorkflowNode{GroupURL: "https://facebook.com/groups/1"},
		func(context.Context, feed.Post) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "navigate")
}

func TestCrawlEmitErrorPropagates(t *testing.T) {
	t.Parallel()

	cand := postCandidate("n1", "https://fb.com/groups/1/posts/9", "Ana", "some text")
	page := &fakePage{
		heights: []int64{100, 100, 100, 100},
		cycles:  [][]feed.Candidate{{cand}},
	}
	c := New(nil, nil, fastConfig(), zap.NewNop())

	wantErr := errors.New("downstream broke")
	err := c.Crawl(context.Background(), page, "wf-1",
		feed.WorkflowNode{GroupURL: "https://facebook.com/groups/1"},
		func(context.Context, feed.Post) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
}

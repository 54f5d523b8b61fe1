package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luisdavi29052005/pipfox/internal/feed"
	"github.com/luisdavi29052005/pipfox/internal/registry"
	memstore "github.com/luisdavi29052005/pipfox/internal/store/memory"
)

type fakeSession struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) NewPage(context.Context) (feed.Page, error) { return nil, errors.New("unused") }
func (s *fakeSession) IsConnected() bool                          { return true }
func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeOpener struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
	headless []bool
}

func (o *fakeOpener) OpenSession(_ context.Context, _, _ string, headless bool) (feed.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := &fakeSession{}
	o.sessions = append(o.sessions, s)
	o.headless = append(o.headless, headless)
	return s, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	lastID   string
	nodes    []feed.WorkflowNode
	err      error
	reg      *registry.Registry
	blockCtx bool
}

func (r *fakeRunner) Run(ctx context.Context, workflowID string, session feed.Session, nodes []feed.WorkflowNode) error {
	r.mu.Lock()
	r.calls++
	r.lastID = workflowID
	r.nodes = nodes
	r.mu.Unlock()
	if r.blockCtx {
		<-ctx.Done()
	}
	// Mirror the real runner's cleanup contract.
	_ = session.Close(context.Background())
	if r.reg != nil {
		r.reg.Remove(workflowID)
	}
	return r.err
}

type fakeCommenter struct {
	mu      sync.Mutex
	postURL string
	comment string
	err     error
}

func (c *fakeCommenter) PostComment(_ context.Context, _ feed.Session, postURL, comment string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postURL = postURL
	c.comment = comment
	return c.err
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-0001", nil }

func seedWorkflow(t *testing.T, store *memstore.WorkflowStore, id string, activeNodes int) {
	t.Helper()
	nodes := make([]feed.WorkflowNode, 0, activeNodes+1)
	for i := 0; i < activeNodes; i++ {
		nodes = append(nodes, feed.WorkflowNode{
			GroupURL: "https://facebook.com/groups/" + id,
			Keywords: []string{"sale"},
			Active:   true,
		})
	}
	nodes = append(nodes, feed.WorkflowNode{GroupURL: "inactive", Active: false})
	store.Seed(feed.Workflow{
		ID:        id,
		AccountID: "acct-1",
		UserID:    "user-1",
		Status:    feed.StatusIdle,
		Nodes:     nodes,
	})
}

func newIntake(store feed.WorkflowStore, opener feed.SessionOpener, runner WorkflowRunner,
	reg *registry.Registry, comments Commenter) *Intake {
	return New(nil, store, opener, runner, reg, comments, nil, fixedIDs{},
		Config{MaxConcurrent: 2, Headless: true}, zap.NewNop())
}

func TestStartWorkflowHappyPath(t *testing.T) {
	t.Parallel()

	store := memstore.NewWorkflowStore()
	seedWorkflow(t, store, "wf-1", 2)
	reg := registry.New()
	runner := &fakeRunner{reg: reg}
	opener := &fakeOpener{}

	in := newIntake(store, opener, runner, reg, nil)
	err := in.Process(context.Background(), feed.Job{
		Kind:       feed.JobStartWorkflow,
		WorkflowID: "wf-1",
		UserID:     "user-1",
		AccountID:  "acct-1",
	})
	require.NoError(t, err)

	require.Equal(t, 1, runner.calls)
	require.Equal(t, "wf-1", runner.lastID)
	// Only the active nodes reach the runner.
	require.Len(t, runner.nodes, 2)
	require.Equal(t, []bool{true}, opener.headless)

	// Normal completion resets status to idle and releases the registry.
	wf, err := store.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, feed.StatusIdle, wf.Status)
	require.False(t, reg.Running("wf-1"))
}

func TestStartWorkflowNoActiveNodes(t *testing.T) {
	t.Parallel()

	store := memstore.NewWorkflowStore()
	store.Seed(feed.Workflow{
		ID:     "wf-1",
		Status: feed.StatusIdle,
		Nodes:  []feed.WorkflowNode{{GroupURL: "g", Active: false}},
	})
	reg := registry.New()
	runner := &fakeRunner{reg: reg}

	in := newIntake(store, &fakeOpener{}, runner, reg, nil)
	err := in.Process(context.Background(), feed.Job{
		Kind:       feed.JobStartWorkflow,
		WorkflowID: "wf-1",
	})
	require.NoError(t, err)
	require.Zero(t, runner.calls)

	wf, err := store.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, feed.StatusIdle, wf.Status)
}

func TestStartWorkflowUnknownID(t *testing.T) {
	t.Parallel()

	store := memstore.NewWorkflowStore()
	reg := registry.New()
	in := newIntake(store, &fakeOpener{}, &fakeRunner{reg: reg}, reg, nil)

	err := in.Process(context.Background(), feed.Job{
		Kind:       feed.JobStartWorkflow,
		WorkflowID: "missing",
	})
	require.ErrorIs(t, err, feed.ErrWorkflowNotFound)
}

func TestStartWorkflowRunnerErrorMarksError(t *testing.T) {
	t.Parallel()

	store := memstore.NewWorkflowStore()
	seedWorkflow(t, store, "wf-1", 1)
	reg := registry.New()
	runner := &fakeRunner{reg: reg, err: feed.ErrSessionDisconnected}

	in := newIntake(store, &fakeOpener{}, runner, reg, nil)
	err := in.Process(context.Background(), feed.Job{
		Kind:       feed.JobStartWorkflow,
		WorkflowID: "wf-1",
	})
	require.ErrorIs(t, err, feed.ErrSessionDisconnected)

	wf, err := store.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, feed.StatusError, wf.Status)
	require.False(t, reg.Running("wf-1"))
}

func TestStartWorkflowSessionOpenFailure(t *testing.T) {
	t.Parallel()

	store := memstore.NewWorkflowStore()
	seedWorkflow(t, store, "wf-1", 1)
	reg := registry.New()
	opener := &fakeOpener{err: errors.New("profile locked")}

	in := newIntake(store, opener, &fakeRunner{reg: reg}, reg, nil)
	err := in.Process(context.Background(), feed.Job{
		Kind:       feed.JobStartWorkflow,
		WorkflowID: "wf-1",
	})
	require.Error(t, err)

	wf, err := store.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, feed.StatusError, wf.Status)
	require.False(t, reg.Running("wf-1"))
}

func TestStartWorkflowAlreadyRunning(t *testing.T) {
	t.Parallel()

	store := memstore.NewWorkflowStore()
	seedWorkflow(t, store, "wf-1", 1)
	reg := registry.New()
	_, err := reg.Start(context.Background(), "wf-1")
	require.NoError(t, err)
	runner := &fakeRunner{reg: reg}

	in := newIntake(store, &fakeOpener{}, runner, reg, nil)
	err = in.Process(context.Background(), feed.Job{
		Kind:       feed.JobStartWorkflow,
		WorkflowID: "wf-1",
	})
	require.ErrorIs(t, err, registry.ErrAlreadyRunning)
	require.Zero(t, runner.calls)

	// The live run's status is untouched.
	wf, err := store.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, feed.StatusIdle, wf.Status)
}

func TestStopRemovesRegistryEntry(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	token, err := reg.Start(context.Background(), "wf-1")
	require.NoError(t, err)

	in := newIntake(memstore.NewWorkflowStore(), &fakeOpener{}, &fakeRunner{}, reg, nil)
	require.NoError(t, in.Process(context.Background(), feed.Job{
		Kind:       feed.JobStopWorkflow,
		WorkflowID: "wf-1",
	}))

	require.False(t, reg.Running("wf-1"))
	require.Error(t, token.Err())
}

func TestPostCommentJob(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	comments := &fakeCommenter{}
	in := newIntake(memstore.NewWorkflowStore(), opener, &fakeRunner{}, registry.New(), comments)

	err := in.Process(context.Background(), feed.Job{
		Kind:      feed.JobPostComment,
		AccountID: "acct-1",
		UserID:    "user-1",
		PostURL:   "https://facebook.com/groups/1/posts/9",
		Comment:   "nice find",
	})
	require.NoError(t, err)
	require.Equal(t, "https://facebook.com/groups/1/posts/9", comments.postURL)
	require.Equal(t, "nice find", comments.comment)
	require.Len(t, opener.sessions, 1)
	require.True(t, opener.sessions[0].closed)
}

func TestUnknownJobKind(t *testing.T) {
	t.Parallel()

	in := newIntake(memstore.NewWorkflowStore(), &fakeOpener{}, &fakeRunner{}, registry.New(), nil)
	err := in.Process(context.Background(), feed.Job{Kind: "reindex"})
	require.Error(t, err)
}

func TestRunHonorsConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	store := memstore.NewWorkflowStore()
	seedWorkflow(t, store, "wf-1", 1)
	seedWorkflow(t, store, "wf-2", 1)
	seedWorkflow(t, store, "wf-3", 1)

	reg := registry.New()
	runner := &fakeRunner{reg: reg, blockCtx: true}
	queue := newTestQueue(8)

	in := New(queue, store, &fakeOpener{}, runner, reg, nil, nil, fixedIDs{},
		Config{MaxConcurrent: 2}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	for _, id := range []string{"wf-1", "wf-2", "wf-3"} {
		require.NoError(t, queue.Enqueue(ctx, feed.Job{
			Kind:       feed.JobStartWorkflow,
			WorkflowID: id,
		}))
	}

	// Two jobs occupy the ceiling; the third must wait.
	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.calls == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	runner.mu.Lock()
	require.Equal(t, 2, runner.calls)
	runner.mu.Unlock()
}

// testQueue is a minimal channel-backed feed.Queue for intake tests.
type testQueue struct {
	ch chan feed.Job
}

func newTestQueue(capacity int) *testQueue {
	return &testQueue{ch: make(chan feed.Job, capacity)}
}

func (q *testQueue) Enqueue(ctx context.Context, job feed.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- job:
		return nil
	}
}

func (q *testQueue) Dequeue(ctx context.Context) (feed.Job, error) {
	select {
	case <-ctx.Done():
		return feed.Job{}, ctx.Err()
	case job := <-q.ch:
		return job, nil
	}
}

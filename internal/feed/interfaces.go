package feed

import (
	"context"
	"errors"
	"time"
)

// ErrWorkflowNotFound is returned by WorkflowStore lookups for unknown IDs.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrSessionDisconnected marks a workflow run abandoned because the shared
// browser session died underneath its crawlers.
var ErrSessionDisconnected = errors.New("browser session disconnected")

// WorkflowStore reads workflow state and writes status transitions.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id string) (Workflow, error)
	ActiveNodes(ctx context.Context, workflowID string) ([]WorkflowNode, error)
	UpdateStatus(ctx context.Context, id string, status WorkflowStatus) error
}

// DedupStore is the persistent layer behind the run-local dedup set. A key,
// once added, is never removed by the pipeline.
type DedupStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Add(ctx context.Context, key string) error
}

// BlobStore writes audit artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Queue provides enqueue/dequeue semantics for intake jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// SessionOpener produces an already-authenticated browser session for a
// tenant/account pair. Login is never performed here.
type SessionOpener interface {
	OpenSession(ctx context.Context, tenantID, accountID string, headless bool) (Session, error)
}

// Session is a shared browser session acting as a page factory for one
// workflow run.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	IsConnected() bool
	Close(ctx context.Context) error
}

// Page is one exclusively-owned browser tab driven by a single crawler.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitFeedReady(ctx context.Context) error
	Candidates(ctx context.Context) ([]Candidate, error)
	MarkSeen(ctx context.Context, domIDs []string) error
	ScrollBy(ctx context.Context, pixels int) error
	ContentHeight(ctx context.Context) (int64, error)
	CaptureNode(ctx context.Context, domID string) ([]byte, error)
	GroupName(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Deliverer forwards a discovered post to the external consumer. Delivery is
// best effort: implementations absorb failures.
type Deliverer interface {
	Deliver(ctx context.Context, env Envelope)
}

// EmitFunc receives each newly discovered post in scroll order.
type EmitFunc func(ctx context.Context, post Post) error

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job-run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

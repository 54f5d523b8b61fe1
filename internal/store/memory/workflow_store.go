// Package memory provides an in-memory workflow store for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/luisdavi29052005/pipfox/internal/feed"
)

// WorkflowStore keeps workflows in a map guarded by a mutex.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]feed.Workflow
}

// NewWorkflowStore creates an empty store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{workflows: make(map[string]feed.Workflow)}
}

// Seed inserts or replaces a workflow.
func (s *WorkflowStore) Seed(workflow feed.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[workflow.ID] = workflow
}

// GetWorkflow returns the workflow or feed.ErrWorkflowNotFound.
func (s *WorkflowStore) GetWorkflow(_ context.Context, id string) (feed.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workflow, ok := s.workflows[id]
	if !ok {
		return feed.Workflow{}, feed.ErrWorkflowNotFound
	}
	return workflow, nil
}

// ActiveNodes returns the workflow's active nodes in stored order.
func (s *WorkflowStore) ActiveNodes(_ context.Context, workflowID string) ([]feed.WorkflowNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workflow, ok := s.workflows[workflowID]
	if !ok {
		return nil, feed.ErrWorkflowNotFound
	}
	var nodes []feed.WorkflowNode
	for _, node := range workflow.Nodes {
		if node.Active {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// UpdateStatus writes the workflow status.
func (s *WorkflowStore) UpdateStatus(_ context.Context, id string, status feed.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	workflow, ok := s.workflows[id]
	if !ok {
		return feed.ErrWorkflowNotFound
	}
	workflow.Status = status
	s.workflows[id] = workflow
	return nil
}

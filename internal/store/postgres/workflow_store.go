// Package postgres provides the Postgres-backed workflow store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luisdavi29052005/pipfox/internal/feed"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of pgxpool.Pool the store needs (mockable in tests).
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// WorkflowStore reads workflow state and writes status transitions.
type WorkflowStore struct {
	pool querier
}

// New creates a WorkflowStore with its own connection pool.
func New(ctx context.Context, cfg Config) (*WorkflowStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &WorkflowStore{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*WorkflowStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &WorkflowStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *WorkflowStore) Close() {
	s.pool.Close()
}

// GetWorkflow loads one workflow row (without nodes).
func (s *WorkflowStore) GetWorkflow(ctx context.Context, id string) (feed.Workflow, error) {
	const query = `
		SELECT id, account_id, user_id, status
		FROM workflows
		WHERE id = $1;
	`
	var workflow feed.Workflow
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&workflow.ID,
		&workflow.AccountID,
		&workflow.UserID,
		&workflow.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return feed.Workflow{}, feed.ErrWorkflowNotFound
	}
	if err != nil {
		return feed.Workflow{}, fmt.Errorf("select workflow %s: %w", id, err)
	}
	return workflow, nil
}

// ActiveNodes loads the workflow's active nodes in position order.
func (s *WorkflowStore) ActiveNodes(ctx context.Context, workflowID string) ([]feed.WorkflowNode, error) {
	const query = `
		SELECT group_url, prompt, keywords
		FROM workflow_nodes
		WHERE workflow_id = $1 AND active
		ORDER BY position;
	`
	rows, err := s.pool.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("select active nodes: %w", err)
	}
	defer rows.Close()

	var nodes []feed.WorkflowNode
	for rows.Next() {
		node := feed.WorkflowNode{Active: true}
		if err := rows.Scan(&node.GroupURL, &node.Prompt, &node.Keywords); err != nil {
			return nil, fmt.Errorf("scan workflow node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow nodes: %w", err)
	}
	return nodes, nil
}

// UpdateStatus writes the workflow status transition.
func (s *WorkflowStore) UpdateStatus(ctx context.Context, id string, status feed.WorkflowStatus) error {
	const query = `
		UPDATE workflows
		SET status = $2, updated_at = now()
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return feed.ErrWorkflowNotFound
	}
	return nil
}

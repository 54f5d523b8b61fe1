// Package storage hosts the blob store implementations used for audit
// screenshots. All implementations satisfy feed.BlobStore.
package storage

import (
	"context"
	"path"

	"github.com/luisdavi29052005/pipfox/internal/feed"
)

// NoOp discards writes. Used when audit capture is disabled.
type NoOp struct{}

// PutObject does nothing and reports an empty URI.
func (NoOp) PutObject(_ context.Context, _ string, _ string, _ []byte) (string, error) {
	return "", nil
}

// WithPrefix nests every write under a fixed object prefix. An empty prefix
// returns the store unchanged.
func WithPrefix(store feed.BlobStore, prefix string) feed.BlobStore {
	if prefix == "" {
		return store
	}
	return &prefixed{inner: store, prefix: prefix}
}

type prefixed struct {
	inner  feed.BlobStore
	prefix string
}

func (p *prefixed) PutObject(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	return p.inner.PutObject(ctx, path.Join(p.prefix, objectPath), contentType, data)
}

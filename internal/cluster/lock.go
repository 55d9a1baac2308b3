// Package cluster implements the cross-node pieces of the runtime: the
// cluster-wide advisory lock C2's lazy start takes before spinning up a
// source's periodic tasks, the insert/rate broadcaster (C9), and the
// cluster aggregator (C8) that fans a recent-logs read out to every peer.
package cluster

import (
	"context"

	"tapline/internal/callgroup"
)

// Lock is the cluster-wide advisory lock recentlogs.Cache.ensureStarted takes
// before registering a source's periodic tasks, so that in a multi-node
// deployment only one node actually runs them for a given source. It is
// satisfied by recentlogs.Lock's shape (Do(ctx, key, fn)); recentlogs
// depends only on that narrower interface so it never imports this
// package directly.
type Lock interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// LocalLock dedupes concurrent Do calls for the same key within this
// process, via the teacher's internal/callgroup single-flight primitive.
// It never talks to other nodes: in a single-node deployment, or one
// where each source is pinned to exactly one node by the caller, this is
// the whole story. A cross-node Lock (e.g. backed by a shared database
// row or a distributed lock service) can satisfy the same interface
// without recentlogs or the supervisor needing to change.
type LocalLock struct {
	group callgroup.Group[string]
}

// NewLocalLock creates a LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// Do runs fn if no call for key is already in flight in this process;
// otherwise it waits for the in-flight call and returns its result.
func (l *LocalLock) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ch := l.group.DoChan(key, func() error { return fn(ctx) })
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Lock = (*LocalLock)(nil)

package chain

import (
	"context"
	"sync"
)

// NonceTracker hands out sequential nonces for one sender. The pending nonce
// is fetched from the node once; later transactions in the same run count up
// locally so back-to-back submissions do not collide.
type NonceTracker struct {
	mu     sync.Mutex
	fetch  func(ctx context.Context) (uint64, error)
	next   uint64
	loaded bool
}

// NewNonceTracker builds a tracker around a pending-nonce query.
func NewNonceTracker(fetch func(ctx context.Context) (uint64, error)) *NonceTracker {
	return &NonceTracker{fetch: fetch}
}

// Next reserves and returns the next nonce.
func (n *NonceTracker) Next(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.loaded {
		v, err := n.fetch(ctx)
		if err != nil {
			return 0, err
		}
		n.next, n.loaded = v, true
	}
	v := n.next
	n.next++
	return v, nil
}

// Reset forgets the local counter; the next call re-queries the node. Call it
// when a transaction was never accepted, so its nonce is still free.
func (n *NonceTracker) Reset() {
	n.mu.Lock()
	n.loaded = false
	n.mu.Unlock()
}

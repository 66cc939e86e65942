package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Electron-Labs/nitro-attestation/pkg/attestation"
)

// Attestation is a fetched document together with its verified contents.
type Attestation struct {
	Raw       []byte
	Document  *attestation.Document
	FetchedAt time.Time
}

// LoadFunc fetches and verifies a fresh document.
type LoadFunc func(ctx context.Context) (*Attestation, error)

const loadKey = "document"

// DocumentCache keeps the last verified document for ttl; a zero ttl keeps
// nothing. Callers that miss while a load is in flight wait for that load
// instead of starting their own.
type DocumentCache struct {
	ttl   time.Duration
	load  LoadFunc
	group singleflight.Group

	mu        sync.Mutex
	entry     *Attestation
	expiresAt time.Time
}

func NewDocumentCache(ttl time.Duration, load LoadFunc) *DocumentCache {
	return &DocumentCache{ttl: ttl, load: load}
}

// Get returns the cached document while now is before its expiry, and loads
// a new one otherwise. Failed loads are not cached. A caller whose ctx ends
// stops waiting; the shared load carries on for the others.
func (c *DocumentCache) Get(ctx context.Context, now time.Time) (*Attestation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a := c.cached(now); a != nil {
		return a, nil
	}

	ch := c.group.DoChan(loadKey, func() (any, error) {
		a, err := c.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.entry = a
			c.expiresAt = now.Add(c.ttl)
			c.mu.Unlock()
		}
		return a, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Attestation), nil
	}
}

func (c *DocumentCache) cached(now time.Time) *Attestation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry != nil && now.Before(c.expiresAt) {
		return c.entry
	}
	return nil
}

// Invalidate drops the cached document.
func (c *DocumentCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

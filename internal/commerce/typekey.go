package commerce

import (
	"context"
	"fmt"
	"sync"

	"github.com/briq-connect/api/internal/domain"
)

// TypeKeyResolver memoizes custom-type lookups by key. Type definitions
// change rarely; the cache lives for the process and can be dropped with
// Invalidate when a deployment changes types underneath a running instance.
type TypeKeyResolver struct {
	types TypeClient

	mu    sync.RWMutex
	cache map[string]domain.TypeReference
}

// NewTypeKeyResolver wraps a TypeClient with memoization.
func NewTypeKeyResolver(types TypeClient) (*TypeKeyResolver, error) {
	if types == nil {
		return nil, fmt.Errorf("commerce: type client is required")
	}
	return &TypeKeyResolver{
		types: types,
		cache: make(map[string]domain.TypeReference),
	}, nil
}

// Resolve returns the type reference for the given key, fetching it at most
// once per key until Invalidate is called. Lookup errors are not cached.
func (r *TypeKeyResolver) Resolve(ctx context.Context, key string) (domain.TypeReference, error) {
	r.mu.RLock()
	ref, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return ref, nil
	}

	ref, err := r.types.GetTypeByKey(ctx, key)
	if err != nil {
		return domain.TypeReference{}, fmt.Errorf("resolve type %q: %w", key, err)
	}

	r.mu.Lock()
	r.cache[key] = ref
	r.mu.Unlock()
	return ref, nil
}

// Invalidate drops all memoized entries.
func (r *TypeKeyResolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]domain.TypeReference)
	r.mu.Unlock()
}

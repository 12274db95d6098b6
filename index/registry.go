package index

import "sync"

// Registry caches index resources by canonical index path so every
// handle open on the same mailbox shares one Resource. Each storage
// instance owns its own Registry; there is no process-wide cache.
type Registry struct {
	mu        sync.Mutex
	resources map[string]*Resource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]*Resource)}
}

// key returns the cache key for a resource. In-memory resources have no
// index path and are keyed by their data path instead.
func key(dataPath, indexPath string) string {
	if indexPath == "" {
		return dataPath
	}
	return indexPath
}

// Lookup returns the cached resource for an index path, adding a
// reference, or nil if none is cached.
func (g *Registry) Lookup(dataPath, indexPath string) *Resource {
	g.mu.Lock()
	r := g.resources[key(dataPath, indexPath)]
	g.mu.Unlock()

	if r != nil {
		r.Ref()
	}
	return r
}

// Allocate creates a new resource with one reference. The caller must
// Register it to make it visible to later lookups.
func (g *Registry) Allocate(dataPath, indexPath string) *Resource {
	return newResource(dataPath, indexPath)
}

// Register adds a resource to the cache.
func (g *Registry) Register(r *Resource) {
	g.mu.Lock()
	g.resources[key(r.dataPath, r.indexPath)] = r
	g.mu.Unlock()
}

// DestroyUnrefed drops every cached resource no handle references
// anymore, closing their lock files. Called before index directories
// are removed from disk so no live resource keeps deleted files open.
func (g *Registry) DestroyUnrefed() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, r := range g.resources {
		if r.Refs() == 0 {
			_ = r.Close()
			delete(g.resources, k)
		}
	}
}

// Close releases every cached resource regardless of references.
func (g *Registry) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for k, r := range g.resources {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(g.resources, k)
	}
	return firstErr
}

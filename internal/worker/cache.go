package worker

import "github.com/bluecollar/bluecollar/internal/registry"

// instanceCache holds one live instance per reusable (Singleton) type,
// keyed by the type's registered path. It is owned exclusively by the
// worker loop goroutine that calls materialize — spec §5 is explicit that
// the instance cache is "process-local and mutated only by the single
// scheduler thread; no locks needed." None of the caches evict (§5
// "Resource bounds").
type instanceCache struct {
	instances map[string]any
}

func newInstanceCache() *instanceCache {
	return &instanceCache{instances: make(map[string]any)}
}

// materialize returns the instance to invoke a method on for handle,
// constructing and caching it on first use for Singleton types, and
// building a fresh one every time for PerCall types (spec §3 "Instance
// cache" invariant, spec §4.3 "Materialize" step).
func (c *instanceCache) materialize(handle *registry.TypeHandle) any {
	if handle.Policy() != registry.Singleton {
		return handle.New()
	}

	path := handle.Path()
	if inst, ok := c.instances[path]; ok {
		return inst
	}
	inst := handle.New()
	c.instances[path] = inst
	return inst
}

// Package resolver layers the worker loop's executable cache over a
// registry.Registry: repeated lookups of the same dotted path hit the
// cache instead of re-walking the trie, and failed lookups are cached
// too so a client hammering a bad method name fails fast (spec §4.3,
// "Resolve": "cache the result (including negative caching ... repeat
// requests fail fast)").
package resolver

import "github.com/bluecollar/bluecollar/internal/registry"

// Resolver is owned by a single worker loop goroutine. It is not
// safe for concurrent use — the worker loop resolves synchronously,
// before spawning the executor that actually invokes the target, so no
// locking is needed (spec §9, "process-global caches" become explicit,
// single-owner struct fields rather than shared global state).
type Resolver struct {
	reg   *registry.Registry
	cache map[string]cacheEntry
}

type cacheEntry struct {
	target registry.Target
	miss   bool
}

// New wraps reg with an empty executable cache.
func New(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg, cache: make(map[string]cacheEntry)}
}

// Resolve returns the cached target for path, or walks the registry and
// caches the outcome (success or failure) for next time.
func (r *Resolver) Resolve(path string) (registry.Target, bool) {
	if entry, ok := r.cache[path]; ok {
		if entry.miss {
			return registry.Target{}, false
		}
		return entry.target, true
	}

	target, err := r.reg.Resolve(path)
	if err != nil {
		r.cache[path] = cacheEntry{miss: true}
		return registry.Target{}, false
	}

	r.cache[path] = cacheEntry{target: target}
	return target, true
}

// Forget drops path from the cache. Only tests call it; the worker loop
// itself never does.
func (r *Resolver) Forget(path string) {
	delete(r.cache, path)
}

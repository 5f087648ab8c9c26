package executor

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"foreman/internal/agent/ports"
	"foreman/internal/tools"
)

// adapterCache holds one bound adapter instance per (worker, tool) pair so a
// worker reuses the same adapter across calls within an orchestration run.
// Entries survive until Purge; the LRU bound only protects against unbounded
// growth with many dynamic tools.
type adapterCache struct {
	registry *tools.Registry
	cache    *lru.Cache[string, ports.Tool]
}

func newAdapterCache(registry *tools.Registry, size int) *adapterCache {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[string, ports.Tool](size)
	if err != nil {
		// lru.New only errors on a non-positive size, guarded above.
		panic(err)
	}
	return &adapterCache{registry: registry, cache: cache}
}

// Resolve returns the worker's adapter for a tool name, binding and caching
// it on first use. Worker-bound adapters (the shell) get a per-worker copy;
// stateless adapters are shared as-is.
func (c *adapterCache) Resolve(workerID, name string) (ports.Tool, error) {
	key := workerID + "/" + name
	if tool, ok := c.cache.Get(key); ok {
		return tool, nil
	}

	tool, err := c.registry.ForWorker(workerID).Get(name)
	if err != nil {
		return nil, err
	}
	if bound, ok := tool.(tools.WorkerBound); ok {
		tool = bound.BindWorker(workerID)
	}
	c.cache.Add(key, tool)
	return tool, nil
}

// Purge drops every cached adapter.
func (c *adapterCache) Purge() {
	c.cache.Purge()
}

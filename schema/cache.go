package schema

import "sync"

// CompileCache caches compiled schemas per task type so a dynamic-schema
// task's schema is only recompiled when it explicitly invalidates its
// entry (on a schemaChange event).
type CompileCache struct {
	mu    sync.RWMutex
	byKey map[string]*Compiled
}

// NewCompileCache returns an empty compile cache.
func NewCompileCache() *CompileCache {
	return &CompileCache{byKey: make(map[string]*Compiled)}
}

// GetOrCompile returns the cached compiled schema for key, compiling and
// storing it from s if absent.
func (c *CompileCache) GetOrCompile(key string, s *Schema) *Compiled {
	c.mu.RLock()
	if compiled, ok := c.byKey[key]; ok {
		c.mu.RUnlock()
		return compiled
	}
	c.mu.RUnlock()

	compiled := Compile(s)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byKey[key]; ok {
		return existing
	}
	c.byKey[key] = compiled
	return compiled
}

// Invalidate drops the cached entry for key, forcing recompilation on next
// access. Called when a task emits schemaChange (dynamic-schema tasks).
func (c *CompileCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byKey, key)
}

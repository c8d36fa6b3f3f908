package fs

import (
	"path"
	"runtime"
	"strings"
	"sync"
	"weak"
)

// IdentityCache maps absolute paths to weakly held shell handles so that
// repeated listings hand out the same *ShellHandle for the same path.
//
// Entries never keep a handle alive. Dead entries are dropped when their
// handle is collected; Invalidate and InvalidateTree drop entries eagerly when
// a mutation makes them meaningless.
type IdentityCache struct {
	mu      sync.Mutex
	entries map[string]weak.Pointer[ShellHandle]
}

func NewIdentityCache() *IdentityCache {
	return &IdentityCache{entries: make(map[string]weak.Pointer[ShellHandle])}
}

// Add stores h under its path, replacing any previous entry.
func (c *IdentityCache) Add(h *ShellHandle) {
	if h == nil {
		return
	}
	key := h.Path()
	wp := weak.Make(h)

	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && cur == wp {
		c.mu.Unlock()
		return
	}
	c.entries[key] = wp
	c.mu.Unlock()

	runtime.AddCleanup(h, c.forget, cacheEntry{path: key, ptr: wp})
}

// Get returns the live handle for p, if any.
func (c *IdentityCache) Get(p string) (*ShellHandle, bool) {
	p = cleanPath(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	wp, ok := c.entries[p]
	if !ok {
		return nil, false
	}
	h := wp.Value()
	if h == nil {
		delete(c.entries, p)
		return nil, false
	}
	return h, true
}

// Invalidate drops the entry for p.
func (c *IdentityCache) Invalidate(p string) {
	p = cleanPath(p)
	c.mu.Lock()
	delete(c.entries, p)
	c.mu.Unlock()
}

// InvalidateTree drops the entry for dir and every entry below it.
func (c *IdentityCache) InvalidateTree(dir string) {
	dir = cleanPath(dir)
	prefix := dir + "/"
	if dir == "/" {
		prefix = "/"
	}
	c.mu.Lock()
	for k := range c.entries {
		if k == dir || strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of entries, live or not yet reclaimed.
func (c *IdentityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type cacheEntry struct {
	path string
	ptr  weak.Pointer[ShellHandle]
}

func (c *IdentityCache) forget(e cacheEntry) {
	c.mu.Lock()
	if cur, ok := c.entries[e.path]; ok && cur == e.ptr {
		delete(c.entries, e.path)
	}
	c.mu.Unlock()
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

package level

import (
	"sync"
	"time"
)

// Level describes the loaded level.
type Level struct {
	Name     string    `json:"name"`
	LoadedAt time.Time `json:"loadedAt"`
	// Host is true when this process owns the authoritative break history.
	Host bool `json:"host"`
}

// Loaded reports whether a level has been set.
func (l Level) Loaded() bool {
	return l.Name != ""
}

// Context holds the current level
type Context struct {
	mu    sync.RWMutex
	level Level
}

// NewContext creates a Context with no level loaded.
func NewContext() *Context {
	return &Context{}
}

// Get returns the current level
func (c *Context) Get() Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

// Name returns the current level name, or "unloaded".
func (c *Context) Name() string {
	l := c.Get()
	if !l.Loaded() {
		return "unloaded"
	}
	return l.Name
}

// Set replaces the current level, stamping LoadedAt when unset.
func (c *Context) Set(l Level) {
	if l.LoadedAt.IsZero() {
		l.LoadedAt = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = l
}

// Clear marks no level loaded.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = Level{}
}

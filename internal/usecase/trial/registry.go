package trial

import (
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultIdleTTL is how long an unused control keeps its coordinator.
const DefaultIdleTTL = 30 * time.Minute

// Registry keeps one coordinator per control instance. Controls unused for
// the idle TTL are dropped; a coordinator with an action in flight is kept.
type Registry struct {
	mu     sync.Mutex
	items  *cache.Cache
	create func() *Coordinator
}

// NewRegistry creates a registry that builds coordinators with create.
// A non-positive idleTTL uses DefaultIdleTTL.
func NewRegistry(create func() *Coordinator, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	// No janitor: expired entries are swept under mu so a lookup never races an eviction.
	r := &Registry{items: cache.New(idleTTL, 0), create: create}
	r.items.OnEvicted(r.evicted)
	return r
}

// Key identifies a control instance.
func Key(userID, featureID, control string) string {
	return strings.Join([]string{userID, featureID, control}, "|")
}

// For returns the coordinator for key, creating it on first use.
// Every lookup restarts the key's idle timer.
func (r *Registry) For(key string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.lookup(key); ok {
		return c
	}
	r.items.DeleteExpired()
	if c, ok := r.lookup(key); ok {
		return c
	}
	c := r.create()
	r.items.SetDefault(key, c)
	return c
}

// Sweep drops idle controls.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items.DeleteExpired()
}

// Len returns the number of held controls, including idle ones not yet swept.
func (r *Registry) Len() int {
	return r.items.ItemCount()
}

// lookup must be called with r.mu held.
func (r *Registry) lookup(key string) (*Coordinator, bool) {
	v, ok := r.items.Get(key)
	if !ok {
		return nil, false
	}
	c := v.(*Coordinator)
	r.items.SetDefault(key, c)
	return c, true
}

// evicted runs inside DeleteExpired, so r.mu is already held.
func (r *Registry) evicted(key string, v any) {
	if c, ok := v.(*Coordinator); ok && c.IsLoading() {
		r.items.SetDefault(key, c)
	}
}

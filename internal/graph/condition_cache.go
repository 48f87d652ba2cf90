package graph

import (
	"container/list"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionCache is a thread-safe LRU of compiled expr programs keyed by
// expression source, adapted from the workflow engine's edge-condition
// cache: expressions run by the expr kernel, such as If-block clauses, are
// re-evaluated far more often than they change, so compiling once per
// distinct source string avoids re-parsing on every execution.
type ConditionCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type cacheEntry struct {
	key     string
	program *vm.Program
}

// NewConditionCache creates a cache holding at most capacity programs.
func NewConditionCache(capacity int) *ConditionCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &ConditionCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached program for source, if present.
func (c *ConditionCache) Get(source string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[source]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).program, true
	}
	return nil, false
}

// Put inserts or refreshes the cached program for source.
func (c *ConditionCache) Put(source string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[source]; ok {
		el.Value.(*cacheEntry).program = program
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: source, program: program})
	c.items[source] = el
	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *ConditionCache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.items, el.Value.(*cacheEntry).key)
}

// Len reports the number of cached programs.
func (c *ConditionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear empties the cache.
func (c *ConditionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
}

// CompileAndCache compiles source against env if not already cached,
// returning the cached program either way.
func (c *ConditionCache) CompileAndCache(source string, env interface{}) (*vm.Program, error) {
	if program, ok := c.Get(source); ok {
		return program, nil
	}
	program, err := expr.Compile(source, expr.Env(env))
	if err != nil {
		return nil, err
	}
	c.Put(source, program)
	return program, nil
}

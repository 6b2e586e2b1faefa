package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/23skdu/qkernels/internal/metrics"
	"github.com/cespare/xxhash/v2"
)

type entry[T any] struct {
	key       uint64
	dataset   string
	value     T
	expiresAt time.Time
}

// QueryCache is an LRU of query results with a fixed TTL. Entries are
// tagged with the dataset they were computed from so a changed dataset can
// be invalidated in one call. Each dataset also has a generation that
// invalidation bumps; a result computed under an older generation is not
// stored.
type QueryCache[T any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[uint64]*list.Element
	lru      *list.List
	gens     map[string]uint64
}

// NewQueryCache returns a cache holding at most capacity entries. A
// non-positive capacity gives a disabled cache that never stores anything.
func NewQueryCache[T any](capacity int, ttl time.Duration) *QueryCache[T] {
	return &QueryCache[T]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[uint64]*list.Element),
		lru:      list.New(),
		gens:     make(map[string]uint64),
	}
}

// Key hashes a dataset name and query text.
func Key(dataset, query string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(dataset)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(query)
	return d.Sum64()
}

func (c *QueryCache[T]) Get(key uint64) (T, bool) {
	var zero T
	if c == nil || c.capacity <= 0 {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		metrics.QueryCacheRequestsTotal.WithLabelValues("miss").Inc()
		return zero, false
	}
	e := elem.Value.(*entry[T])
	if c.now().After(e.expiresAt) {
		c.remove(elem)
		metrics.QueryCacheRequestsTotal.WithLabelValues("miss").Inc()
		return zero, false
	}
	c.lru.MoveToFront(elem)
	metrics.QueryCacheRequestsTotal.WithLabelValues("hit").Inc()
	return e.value, true
}

// Generation returns the current generation of dataset. Read it before
// computing a result and hand it to Put.
func (c *QueryCache[T]) Generation(dataset string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[dataset]
}

// Put stores value unless dataset was invalidated after gen was read. It
// reports whether the value was stored.
func (c *QueryCache[T]) Put(key uint64, dataset string, gen uint64, value T) bool {
	if c == nil || c.capacity <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[dataset] != gen {
		return false
	}

	exp := c.now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[T])
		e.value, e.dataset, e.expiresAt = value, dataset, exp
		c.lru.MoveToFront(elem)
		return true
	}

	c.items[key] = c.lru.PushFront(&entry[T]{key: key, dataset: dataset, value: value, expiresAt: exp})
	for c.lru.Len() > c.capacity {
		c.remove(c.lru.Back())
		metrics.QueryCacheEvictionsTotal.Inc()
	}
	metrics.QueryCacheSize.Set(float64(c.lru.Len()))
	return true
}

// InvalidateDataset drops every entry computed from dataset and starts a new
// generation for it.
func (c *QueryCache[T]) InvalidateDataset(dataset string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[dataset]++
	n := 0
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*entry[T]).dataset == dataset {
			c.remove(elem)
			n++
		}
		elem = next
	}
	return n
}

func (c *QueryCache[T]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *QueryCache[T]) remove(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry[T]).key)
	metrics.QueryCacheSize.Set(float64(c.lru.Len()))
}

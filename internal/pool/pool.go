// Package pool keeps idle, reusable engine instances keyed by their
// configuration fingerprint.
package pool

import (
	"sync"
	"time"
)

// Entry is what the pool holds. The manager stores its full runtime
// instance here; the pool only needs identity and a way to terminate
// evicted entries.
type Entry interface {
	ID() string
	Fingerprint() string
}

type pooled struct {
	entry      Entry
	releasedAt time.Time
}

// bucket holds the idle entries for one fingerprint. Acquire, release
// and reaping for a fingerprint all take the bucket lock, so a pooled
// instance can never be handed out and reaped at the same time.
type bucket struct {
	mu      sync.Mutex
	entries []pooled // oldest first; reuse pops from the back
}

// Pool is a bounded cache of idle instances
type Pool struct {
	mu        sync.RWMutex
	buckets   map[string]*bucket
	capacity  int
	count     int
	terminate func(Entry)
}

// New creates a pool with a global capacity. terminate is called for
// every entry the pool decides to discard (eviction, reaping, drain)
// and must not call back into the pool.
func New(capacity int, terminate func(Entry)) *Pool {
	return &Pool{
		buckets:   make(map[string]*bucket),
		capacity:  capacity,
		terminate: terminate,
	}
}

func (p *Pool) bucketFor(fingerprint string) *bucket {
	p.mu.RLock()
	b, ok := p.buckets[fingerprint]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buckets[fingerprint]; ok {
		return b
	}
	b = &bucket{}
	p.buckets[fingerprint] = b
	return b
}

// Acquire returns the most recently released idle entry for an exactly
// matching fingerprint, or nil
func (p *Pool) Acquire(fingerprint string) Entry {
	b := p.bucketFor(fingerprint)

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil
	}

	last := len(b.entries) - 1
	entry := b.entries[last].entry
	b.entries = b.entries[:last]

	p.mu.Lock()
	p.count--
	p.mu.Unlock()

	return entry
}

// Release stores an entry for reuse. If the global capacity is
// exceeded the least recently released entry across all buckets is
// evicted and terminated. Returns false if the entry was rejected
// outright (zero-capacity pool), in which case the caller keeps
// ownership.
func (p *Pool) Release(entry Entry) bool {
	if p.capacity == 0 {
		return false
	}

	b := p.bucketFor(entry.Fingerprint())

	b.mu.Lock()
	b.entries = append(b.entries, pooled{entry: entry, releasedAt: time.Now()})
	b.mu.Unlock()

	p.mu.Lock()
	p.count++
	over := p.count > p.capacity
	p.mu.Unlock()

	if over {
		if victim := p.evictOldest(); victim != nil {
			p.terminate(victim)
		}
	}
	return true
}

// evictOldest removes the least recently released entry pool-wide
func (p *Pool) evictOldest() Entry {
	p.mu.RLock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.RUnlock()

	var (
		oldestBucket *bucket
		oldestAt     time.Time
	)
	for _, b := range buckets {
		b.mu.Lock()
		if len(b.entries) > 0 {
			at := b.entries[0].releasedAt
			if oldestBucket == nil || at.Before(oldestAt) {
				oldestBucket = b
				oldestAt = at
			}
		}
		b.mu.Unlock()
	}
	if oldestBucket == nil {
		return nil
	}

	oldestBucket.mu.Lock()
	defer oldestBucket.mu.Unlock()
	if len(oldestBucket.entries) == 0 || !oldestBucket.entries[0].releasedAt.Equal(oldestAt) {
		// Raced with an acquire; give up, the pool is no longer over
		return nil
	}
	victim := oldestBucket.entries[0].entry
	oldestBucket.entries = oldestBucket.entries[1:]

	p.mu.Lock()
	p.count--
	p.mu.Unlock()

	return victim
}

// ReapIdle removes and terminates entries released before the cutoff.
// It takes each bucket's lock, so a reaped entry was observably idle
// and not concurrently acquired.
func (p *Pool) ReapIdle(cutoff time.Time) int {
	p.mu.RLock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.RUnlock()

	var victims []Entry
	for _, b := range buckets {
		b.mu.Lock()
		kept := b.entries[:0]
		for _, item := range b.entries {
			if item.releasedAt.Before(cutoff) {
				victims = append(victims, item.entry)
			} else {
				kept = append(kept, item)
			}
		}
		b.entries = kept
		b.mu.Unlock()
	}

	if len(victims) > 0 {
		p.mu.Lock()
		p.count -= len(victims)
		p.mu.Unlock()
	}

	for _, v := range victims {
		p.terminate(v)
	}
	return len(victims)
}

// Drain terminates every pooled entry
func (p *Pool) Drain() {
	p.ReapIdle(time.Now().Add(time.Second))
}

// Len reports the number of pooled entries
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}

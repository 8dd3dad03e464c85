// Package metrics records per-operation timings in bounded ring
// buffers and aggregates them on demand.
package metrics

import (
	"sync"
	"time"

	"github.com/adnanbaig/browserfarm/pkg/models"
)

type ring struct {
	samples []models.Sample
	next    int
	full    bool
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]models.Sample, capacity)}
}

// add drops the oldest sample silently once the ring is full
func (r *ring) add(s models.Sample) {
	r.samples[r.next] = s
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) aggregate() models.Aggregate {
	count := r.next
	if r.full {
		count = len(r.samples)
	}

	agg := models.Aggregate{Count: count}
	if count == 0 {
		return agg
	}

	var total time.Duration
	var failures int
	for i := 0; i < count; i++ {
		s := r.samples[i]
		total += s.Duration
		if !s.Success {
			failures++
		}
	}

	agg.ErrorRate = float64(failures) / float64(count)
	agg.AvgDuration = total / time.Duration(count)
	return agg
}

// Collector keeps one ring per instance plus a global ring
type Collector struct {
	mu       sync.Mutex
	capacity int
	global   *ring
	byID     map[string]*ring

	cacheHits   int64
	cacheMisses int64
}

func NewCollector(capacity int) *Collector {
	if capacity < 1 {
		capacity = 1
	}
	return &Collector{
		capacity: capacity,
		global:   newRing(capacity),
		byID:     make(map[string]*ring),
	}
}

// Record appends a sample to both the instance ring and the global ring
func (c *Collector) Record(instanceID, kind string, duration time.Duration, success bool) {
	sample := models.Sample{
		At:       time.Now(),
		Kind:     kind,
		Duration: duration,
		Success:  success,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.add(sample)
	r, ok := c.byID[instanceID]
	if !ok {
		r = newRing(c.capacity)
		c.byID[instanceID] = r
	}
	r.add(sample)
}

// Aggregate summarizes one instance's samples, or the global ring when
// instanceID is empty
func (c *Collector) Aggregate(instanceID string) models.Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()

	if instanceID == "" {
		return c.global.aggregate()
	}
	r, ok := c.byID[instanceID]
	if !ok {
		return models.Aggregate{}
	}
	return r.aggregate()
}

// Forget drops the ring for a destroyed instance
func (c *Collector) Forget(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, instanceID)
}

// CacheHit implements config.CounterSink
func (c *Collector) CacheHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
}

// CacheMiss implements config.CounterSink
func (c *Collector) CacheMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheMisses++
}

// CacheCounts returns the options-cache hit and miss totals
func (c *Collector) CacheCounts() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheHits, c.cacheMisses
}

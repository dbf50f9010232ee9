// Package metrics records operation counts and latencies for the memory
// manager.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Status is the outcome of a recorded operation.
type Status string

// Operation outcomes.
const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

// Recorder is the observability sink used by the memory manager.
type Recorder interface {
	RecordOperation(op, tenant string, status Status, d time.Duration)
	RecordEmbedding(status Status)
	RecordSearch(tenant string)
	SetMemoryCount(tenant string, n int)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordOperation(string, string, Status, time.Duration) {}
func (Noop) RecordEmbedding(Status)                                {}
func (Noop) RecordSearch(string)                                   {}
func (Noop) SetMemoryCount(string, int)                            {}

// OperationStats aggregates one (operation, tenant, status) series.
type OperationStats struct {
	Operation     string        `json:"operation"`
	Tenant        string        `json:"tenant"`
	Status        Status        `json:"status"`
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
}

// Mean returns the average duration.
func (s OperationStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

// Snapshot is a point-in-time copy of collected metrics.
type Snapshot struct {
	Operations   []OperationStats `json:"operations"`
	Embeddings   map[Status]int64 `json:"embeddings"`
	Searches     map[string]int64 `json:"searches"`
	MemoryCounts map[string]int   `json:"memory_counts"`
}

// Operation returns the stats for one series, or the zero value.
func (s Snapshot) Operation(op, tenant string, status Status) OperationStats {
	for _, o := range s.Operations {
		if o.Operation == op && o.Tenant == tenant && o.Status == status {
			return o
		}
	}
	return OperationStats{Operation: op, Tenant: tenant, Status: status}
}

type opKey struct {
	op     string
	tenant string
	status Status
}

// Collector keeps metrics in memory. Safe for concurrent use.
type Collector struct {
	mu           sync.Mutex
	operations   map[opKey]*OperationStats
	embeddings   map[Status]int64
	searches     map[string]int64
	memoryCounts map[string]int
}

// Compile-time interface assertions.
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Noop{}
)

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		operations:   make(map[opKey]*OperationStats),
		embeddings:   make(map[Status]int64),
		searches:     make(map[string]int64),
		memoryCounts: make(map[string]int),
	}
}

func (c *Collector) RecordOperation(op, tenant string, status Status, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := opKey{op, tenant, status}
	s, ok := c.operations[k]
	if !ok {
		s = &OperationStats{Operation: op, Tenant: tenant, Status: status}
		c.operations[k] = s
	}
	s.Count++
	s.TotalDuration += d
	if d > s.MaxDuration {
		s.MaxDuration = d
	}
}

func (c *Collector) RecordEmbedding(status Status) {
	c.mu.Lock()
	c.embeddings[status]++
	c.mu.Unlock()
}

func (c *Collector) RecordSearch(tenant string) {
	c.mu.Lock()
	c.searches[tenant]++
	c.mu.Unlock()
}

func (c *Collector) SetMemoryCount(tenant string, n int) {
	c.mu.Lock()
	c.memoryCounts[tenant] = n
	c.mu.Unlock()
}

// Snapshot copies the current values. Operations are sorted by operation,
// tenant, then status.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Operations:   make([]OperationStats, 0, len(c.operations)),
		Embeddings:   make(map[Status]int64, len(c.embeddings)),
		Searches:     make(map[string]int64, len(c.searches)),
		MemoryCounts: make(map[string]int, len(c.memoryCounts)),
	}
	for _, s := range c.operations {
		snap.Operations = append(snap.Operations, *s)
	}
	sort.Slice(snap.Operations, func(i, j int) bool {
		a, b := snap.Operations[i], snap.Operations[j]
		if a.Operation != b.Operation {
			return a.Operation < b.Operation
		}
		if a.Tenant != b.Tenant {
			return a.Tenant < b.Tenant
		}
		return a.Status < b.Status
	})
	for k, v := range c.embeddings {
		snap.Embeddings[k] = v
	}
	for k, v := range c.searches {
		snap.Searches[k] = v
	}
	for k, v := range c.memoryCounts {
		snap.MemoryCounts[k] = v
	}
	return snap
}

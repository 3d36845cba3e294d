// Package metrics exposes engine counters as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultNamespace = "novastore"

// Collector groups every counter the engine updates. Nop returns an
// unregistered instance for callers that do not export metrics.
type Collector struct {
	BlockReads     prometheus.Counter
	BlockWrites    prometheus.Counter
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	LogCommits       prometheus.Counter
	LogFlushes       prometheus.Counter
	LogBytes         prometheus.Counter
	RecoveredBatches prometheus.Counter

	PagesAllocated    *prometheus.CounterVec
	PagesFreed        *prometheus.CounterVec
	RecordOps         *prometheus.CounterVec
	RecordRelocations prometheus.Counter
	FreeSlotReuses    prometheus.Counter
}

// New builds the collectors and registers them on reg when reg is non-nil.
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	c := &Collector{
		BlockReads:     counter("cache", "block_reads_total", "Blocks read from the data file."),
		BlockWrites:    counter("cache", "block_writes_total", "Blocks written to the data file."),
		CacheHits:      counter("cache", "hits_total", "Block checkouts served from memory."),
		CacheMisses:    counter("cache", "misses_total", "Block checkouts that required a read."),
		CacheEvictions: counter("cache", "evictions_total", "Clean buffers evicted from the free pool."),

		LogCommits:       counter("wal", "commits_total", "Transactions appended and synced to the log."),
		LogFlushes:       counter("wal", "flushes_total", "Log rotations that wrote logged blocks to the data file."),
		LogBytes:         counter("wal", "bytes_written_total", "Bytes appended to the log."),
		RecoveredBatches: counter("wal", "recovered_batches_total", "Batches replayed during recovery."),

		PagesAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pages",
			Name:      "allocated_total",
			Help:      "Pages appended to a typed page list.",
		}, []string{"type"}),
		PagesFreed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pages",
			Name:      "freed_total",
			Help:      "Pages returned to the free page list.",
		}, []string{"type"}),
		RecordOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "operations_total",
			Help:      "Record operations by kind.",
		}, []string{"op"}),
		RecordRelocations: counter("records", "relocations_total", "Updates that moved a record to a new physical slot."),
		FreeSlotReuses:    counter("records", "free_slot_reuse_total", "Allocations satisfied from the physical free list."),
	}

	if reg == nil {
		return c, nil
	}
	for _, col := range c.all() {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Nop returns unregistered collectors.
func Nop() *Collector {
	c, _ := New(nil, DefaultNamespace)
	return c
}

func (c *Collector) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.BlockReads, c.BlockWrites, c.CacheHits, c.CacheMisses, c.CacheEvictions,
		c.LogCommits, c.LogFlushes, c.LogBytes, c.RecoveredBatches,
		c.PagesAllocated, c.PagesFreed, c.RecordOps, c.RecordRelocations, c.FreeSlotReuses,
	}
}

package timeline

import (
	"sync"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// Registry is the single-slot handle to the currently active collector. The
// orchestrator swaps it between specs; the log aggregation server reads it on
// every submission. A submission whose spec tag no longer matches the active
// collector belongs to a previous spec and is dropped rather than recorded
// into the next spec's timeline.
type Registry struct {
	mu     sync.Mutex
	active *Collector
}

// NewRegistry returns an empty registry with no active collector.
func NewRegistry() *Registry {
	return &Registry{}
}

// Activate installs the collector for the spec that is about to run.
func (r *Registry) Activate(c *Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = c
}

// Deactivate clears the active collector. Entries submitted afterwards are
// dropped until the next Activate.
func (r *Registry) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
}

// Record attributes one entry to the active collector. The check-and-append
// happens under the registry lock so a submission is recorded atomically
// against the collector that was active when it arrived. It returns false if
// the entry was dropped (no active collector, or spec tag mismatch). The
// submission wire format always carries the spec tag, so an untagged entry
// cannot be attributed and is dropped too.
func (r *Registry) Record(entry types.LogEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return false
	}
	if entry.SpecName != r.active.testName {
		return false
	}
	r.active.Record(entry)
	return true
}

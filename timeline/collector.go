// Package timeline accumulates the merged, arrival-ordered log of all nodes
// in one spec and dumps it to the run artifacts.
package timeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// Collector gathers log entries for exactly one spec. A fresh collector is
// created per spec; entries are appended in arrival order and never mutated.
type Collector struct {
	testName   string
	methodName string

	mu      sync.Mutex
	entries []types.LogEntry
}

// NewCollector creates a collector for the given spec identifiers.
func NewCollector(testName, methodName string) *Collector {
	return &Collector{
		testName:   testName,
		methodName: methodName,
	}
}

// TestName returns the spec identifier this collector belongs to.
func (c *Collector) TestName() string {
	return c.testName
}

// Record appends one entry. Safe to call concurrently from multiple node
// output streams; arrival order under the lock is the timeline order.
func (c *Collector) Record(entry types.LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// Len returns the number of recorded entries.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SpecLog returns an immutable snapshot of the accumulated timeline, usable
// after the collector itself is discarded.
func (c *Collector) SpecLog() types.SpecLog {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]types.LogEntry, len(c.entries))
	copy(entries, c.entries)
	return types.SpecLog{
		TestName:   c.testName,
		MethodName: c.methodName,
		Entries:    entries,
	}
}

// DumpToFile writes every accumulated entry, one per line, in arrival order.
// Parent directories are created if absent; an existing file is overwritten.
// I/O errors propagate to the caller, which decides whether they are fatal.
func (c *Collector) DumpToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating timeline directory for %s: %w", path, err)
	}

	var b strings.Builder
	for _, entry := range c.snapshot() {
		b.WriteString(entry.String())
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing timeline file %s: %w", path, err)
	}
	return nil
}

// Fprint writes the timeline to w, same format as DumpToFile.
func (c *Collector) Fprint(w io.Writer) {
	for _, entry := range c.snapshot() {
		fmt.Fprintln(w, entry.String())
	}
}

// PrintToConsole writes the timeline to standard output.
func (c *Collector) PrintToConsole() {
	c.Fprint(os.Stdout)
}

func (c *Collector) snapshot() []types.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]types.LogEntry, len(c.entries))
	copy(entries, c.entries)
	return entries
}

package supervisor

import (
	"fmt"
	"os"
	"sync"
)

// AsyncFile appends to a per-node raw log file from a background goroutine so
// the node output drain loop never blocks on disk I/O. The raw log is a run
// artifact: a write that fails in the background is latched and reported by
// Close, never dropped.
type AsyncFile struct {
	file  *os.File
	queue chan []byte
	wg    sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	closed   bool
	closeErr error

	// writeErr is set by the writer goroutine only; readers observe it
	// after wg.Wait, which orders the accesses.
	writeErr error
}

// NewAsyncFile creates the file (truncating any previous run's copy) and
// starts the background writer.
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously.
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			if af.writeErr == nil {
				af.writeErr = err
			}
		}
	}
}

// Close drains the queue and closes the file. Every queued line is on disk
// when Close returns, or the first lost write is returned as an error.
// Idempotent: repeated calls return the same outcome.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()

	af.mu.Lock()
	defer af.mu.Unlock()
	if !af.closed {
		af.closed = true
		af.closeErr = af.file.Close()
	}
	if af.writeErr != nil {
		return fmt.Errorf("raw log write lost: %w", af.writeErr)
	}
	return af.closeErr
}

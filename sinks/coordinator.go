package sinks

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-multinode/metrics"
	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// mailboxSize bounds the coordinator's event channel. Producers block when
// the mailbox is full rather than dropping events.
const mailboxSize = 1024

// Event union delivered to the coordinator. Per-spec ordering (spec start,
// then node completions and runner messages in arrival order, then spec end)
// is preserved by the single ordered channel.
type event interface{ isEvent() }

type runnerMessageEvent struct{ message string }
type specStartedEvent struct{ spec types.Spec }
type nodeCompletedEvent struct {
	result  types.NodeResult
	message string
}
type specEndedEvent struct {
	specLog types.SpecLog
	verdict types.Verdict
}
type enableSinkEvent struct{ sink Sink }

func (runnerMessageEvent) isEvent() {}
func (specStartedEvent) isEvent()   {}
func (nodeCompletedEvent) isEvent() {}
func (specEndedEvent) isEvent()     {}
func (enableSinkEvent) isEvent()    {}

// Coordinator is the single ingress point for all reporting events. A
// dedicated goroutine dispatches events to the registered sinks one at a
// time, so sink implementations need no locking of their own.
type Coordinator struct {
	log    log.Logger
	events chan event
	done   chan struct{}

	mu     sync.Mutex
	closed bool

	// sinks is touched only by the dispatch goroutine after start.
	sinks []Sink
}

// NewCoordinator creates a coordinator and starts its dispatch goroutine.
func NewCoordinator(logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New()
	}
	c := &Coordinator{
		log:    logger,
		events: make(chan event, mailboxSize),
		done:   make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

func (c *Coordinator) dispatchLoop() {
	defer close(c.done)

	for ev := range c.events {
		switch ev := ev.(type) {
		case enableSinkEvent:
			c.sinks = append(c.sinks, ev.sink)
		case runnerMessageEvent:
			for _, sink := range c.sinks {
				if err := sink.HandleRunnerMessage(ev.message); err != nil {
					c.sinkError("runner message", err)
				}
			}
		case specStartedEvent:
			for _, sink := range c.sinks {
				if err := sink.HandleSpecStarted(ev.spec); err != nil {
					c.sinkError("spec started", err)
				}
			}
		case nodeCompletedEvent:
			for _, sink := range c.sinks {
				if err := sink.HandleNodeCompleted(ev.result, ev.message); err != nil {
					c.sinkError("node completed", err)
				}
			}
		case specEndedEvent:
			for _, sink := range c.sinks {
				if err := sink.HandleSpecEnded(ev.specLog, ev.verdict); err != nil {
					c.sinkError("spec ended", err)
				}
			}
		}
	}
}

func (c *Coordinator) sinkError(eventName string, err error) {
	c.log.Error("Sink failed to consume event", "event", eventName, "err", err)
	metrics.RecordErrorDetails("sink_event_"+eventName, err)
}

// send enqueues an event unless the coordinator is already closed. Sending
// after CloseAll is a contract violation; it is reported, not honored.
func (c *Coordinator) send(ev event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.log.Error("Event submitted after CloseAll; dropping", "event", fmt.Sprintf("%T", ev))
		metrics.RecordError("sink_event_after_close")
		return
	}
	c.events <- ev
}

// EnableSink registers a sink. Sinks registered mid-run do not retroactively
// receive earlier events; registration is ordered with the event stream.
func (c *Coordinator) EnableSink(sink Sink) {
	c.send(enableSinkEvent{sink: sink})
}

// RunnerMessage publishes a free-text runner message.
func (c *Coordinator) RunnerMessage(message string) {
	c.send(runnerMessageEvent{message: message})
}

// SpecStarted publishes the start of a spec with its full node test list.
func (c *Coordinator) SpecStarted(spec types.Spec) {
	c.send(specStartedEvent{spec: spec})
}

// NodeCompleted publishes one node's completion.
func (c *Coordinator) NodeCompleted(result types.NodeResult, message string) {
	c.send(nodeCompletedEvent{result: result, message: message})
}

// SpecEnded publishes the complete spec log and verdict.
func (c *Coordinator) SpecEnded(specLog types.SpecLog, verdict types.Verdict) {
	c.send(specEndedEvent{specLog: specLog, verdict: verdict})
}

// CloseAll drains the mailbox, closes every sink and returns once all sinks
// have finished flushing. It must be the coordinator's last interaction.
func (c *Coordinator) CloseAll() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	<-c.done

	var closeErr error
	for _, sink := range c.sinks {
		if err := sink.Close(); err != nil {
			c.log.Error("Sink failed to close", "err", err)
			if closeErr == nil {
				closeErr = fmt.Errorf("closing sinks: %w", err)
			}
		}
	}
	return closeErr
}

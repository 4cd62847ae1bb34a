package compute

import (
	"fmt"

	"github.com/pkg/errors"
)

// Event is the completion token of a command enqueued in a CommandQueue: a copy or a kernel dispatch.
//
// Events are created by the asynchronous operations of Buffers and Kernel, and can be given as
// antecedents to later commands, in the same or in another queue, to order them explicitly.
type Event struct {
	name string
	done chan struct{}
	err  error
}

// newEvent creates an incomplete Event.
func newEvent(name string) *Event {
	return &Event{name: name, done: make(chan struct{})}
}

// complete marks the event as done with the given result. It must be called exactly once.
func (e *Event) complete(err error) {
	e.err = err
	close(e.done)
}

// Done returns a channel that is closed when the command associated with the event is complete.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// IsComplete returns whether the command associated with the event has completed, without blocking.
func (e *Event) IsComplete() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Await blocks until the command associated with the event is complete, then returns its error, if any.
func (e *Event) Await() error {
	if e == nil {
		return errors.New("Event is nil, was it returned by a failed operation?")
	}
	<-e.done
	return e.err
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	if e == nil {
		return "Event(nil)"
	}
	state := "pending"
	if e.IsComplete() {
		state = "complete"
		if e.err != nil {
			state = "failed"
		}
	}
	return fmt.Sprintf("Event(%s, %s)", e.name, state)
}

// WaitForEvents blocks until all the given events are complete.
// nil events are ignored. It returns the first error (in the order given) of the events, if any.
func WaitForEvents(events ...*Event) error {
	var firstErr error
	for _, e := range events {
		if e == nil {
			continue
		}
		if err := e.Await(); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "waiting for %s", e.name)
		}
	}
	return firstErr
}

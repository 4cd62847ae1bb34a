package compute

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// queueDepth is the number of commands that can be enqueued before Enqueue blocks.
const queueDepth = 1024

type command struct {
	name    string
	waitFor []*Event
	run     func() error
	event   *Event
}

// CommandQueue runs commands strictly in the order they were enqueued, one at a time, on its own goroutine.
//
// Each command may list antecedent events (from this or any other queue): it only starts after all of them
// are complete, and it fails without running if any of them failed.
type CommandQueue struct {
	name     string
	commands chan *command

	mu     sync.Mutex
	closed bool

	stopped chan struct{}
}

// newCommandQueue creates the queue and starts its goroutine. It must be closed with Close.
func newCommandQueue(name string) *CommandQueue {
	q := &CommandQueue{
		name:     name,
		commands: make(chan *command, queueDepth),
		stopped:  make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *CommandQueue) loop() {
	defer close(q.stopped)
	for cmd := range q.commands {
		err := q.runCommand(cmd)
		if err != nil {
			klog.V(1).Infof("command queue %q: %s failed: %v", q.name, cmd.name, err)
		}
		cmd.event.complete(err)
	}
}

func (q *CommandQueue) runCommand(cmd *command) error {
	for _, antecedent := range cmd.waitFor {
		if err := antecedent.Await(); err != nil {
			return errors.WithMessagef(err, "%s not executed, antecedent %s failed", cmd.name, antecedent.name)
		}
	}
	return cmd.run()
}

// Name of the queue, used for logging.
func (q *CommandQueue) Name() string {
	return q.name
}

// Enqueue adds a command to the queue and returns the Event that completes when it has run.
// run is called on the queue's goroutine, after all events in waitFor are complete.
//
// It fails if the queue is closed or if any of the antecedent events is nil.
func (q *CommandQueue) Enqueue(name string, waitFor []*Event, run func() error) (*Event, error) {
	for ii, e := range waitFor {
		if e == nil {
			return nil, backendErrorf(StatusInvalidEventWaitList, "%s: antecedent event #%d is nil", name, ii)
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, backendErrorf(StatusInvalidCommandQueue, "%s: command queue %q is closed", name, q.name)
	}
	cmd := &command{
		name:    name,
		waitFor: append([]*Event(nil), waitFor...),
		run:     run,
		event:   newEvent(name),
	}
	q.commands <- cmd
	return cmd.event, nil
}

// Finish blocks until every command enqueued so far has run.
// Failures of individual commands are reported by their events only: Finish fails only if the queue is closed.
func (q *CommandQueue) Finish() error {
	e, err := q.Enqueue("finish", nil, func() error { return nil })
	if err != nil {
		return err
	}
	return e.Await()
}

// Close waits for the pending commands to run and stops the queue goroutine.
// Enqueueing commands after Close fails. It is safe to call Close more than once.
func (q *CommandQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.commands)
	}
	q.mu.Unlock()
	<-q.stopped
}

package compute

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCommandQueueOrder(t *testing.T) {
	q := newCommandQueue(t.Name())
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var events []*Event
	for ii := range 10 {
		e, err := q.Enqueue("append", nil, func() error {
			// Earlier commands sleep longer: the queue must still run them in order.
			time.Sleep(time.Duration(10-ii) * time.Millisecond)
			mu.Lock()
			order = append(order, ii)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		events = append(events, e)
	}
	require.NoError(t, q.Finish())
	for _, e := range events {
		require.True(t, e.IsComplete())
	}
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestCommandQueueAntecedents(t *testing.T) {
	q1 := newCommandQueue("q1")
	q2 := newCommandQueue("q2")
	defer q1.Close()
	defer q2.Close()

	release := make(chan struct{})
	var value int
	first, err := q1.Enqueue("first", nil, func() error {
		<-release
		value = 1
		return nil
	})
	require.NoError(t, err)

	// Command on a different queue waiting on first.
	var seen int
	second, err := q2.Enqueue("second", []*Event{first}, func() error {
		seen = value
		return nil
	})
	require.NoError(t, err)
	require.False(t, second.IsComplete())
	close(release)
	require.NoError(t, WaitForEvents(first, nil, second))
	require.Equal(t, 1, seen)

	// A failed antecedent fails the dependent commands without running them.
	failed, err := q1.Enqueue("failing", nil, func() error { return errors.New("boom") })
	require.NoError(t, err)
	ran := false
	dependent, err := q2.Enqueue("dependent", []*Event{failed}, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	err = dependent.Await()
	require.ErrorContains(t, err, "boom")
	require.ErrorContains(t, err, "antecedent failing failed")
	require.False(t, ran)
	require.ErrorContains(t, WaitForEvents(second, failed), "waiting for failing")

	// nil antecedents are rejected at enqueue time.
	e, err := q1.Enqueue("nil antecedent", []*Event{nil}, func() error { return nil })
	require.Nil(t, e)
	require.Equal(t, StatusInvalidEventWaitList, StatusOf(err))
}

func TestCommandQueueClose(t *testing.T) {
	q := newCommandQueue(t.Name())
	done := false
	e, err := q.Enqueue("pending", nil, func() error {
		time.Sleep(10 * time.Millisecond)
		done = true
		return nil
	})
	require.NoError(t, err)
	q.Close()
	require.True(t, done, "Close should wait for pending commands")
	require.True(t, e.IsComplete())
	q.Close() // No-op.

	_, err = q.Enqueue("after close", nil, func() error { return nil })
	require.Equal(t, StatusInvalidCommandQueue, StatusOf(err))
	require.Error(t, q.Finish())

	var nilEvent *Event
	require.Error(t, nilEvent.Await())
}

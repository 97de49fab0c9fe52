package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerQueueFiresInPriorityOrder(t *testing.T) {
	fired := make(chan interface{}, 4)
	q := NewTimerQueue(func(v interface{}) { fired <- v })
	q.Start()
	defer func() { q.Halt(); q.Wait() }()

	now := time.Now()
	q.Push(uint64(now.Add(30*time.Millisecond).UnixNano()), "second")
	q.Push(uint64(now.Add(10*time.Millisecond).UnixNano()), "first")

	var got []interface{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-fired:
			got = append(got, v)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for timer fire")
		}
	}
	require.Equal(t, []interface{}{"first", "second"}, got)
}

func TestTimerQueuePopCancelsEarliestEntry(t *testing.T) {
	q := NewTimerQueue(func(interface{}) {})
	now := uint64(time.Now().UnixNano())
	q.Push(now+1, "a")
	q.Push(now+2, "b")

	require.Equal(t, "a", q.Peek().Value)
	q.Pop()
	require.Equal(t, "b", q.Peek().Value)
}

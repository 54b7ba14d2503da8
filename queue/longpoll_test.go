package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// fakeClock moves forward only when somebody waits on it.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) waited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.waits {
		total += d
	}
	return total
}

func delivery(receipt string) ReceivedMessage {
	return ReceivedMessage{Id: uuid.New(), Queue: "q", Content: receipt, ReceiptHandle: receipt}
}

func TestLongPollSatisfied(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	messages, state, err := NewLongPoll(250*time.Millisecond, clock).Run(context.Background(), 3,
		10*time.Second, func(_ context.Context, n int) ([]ReceivedMessage, error) {
			calls++
			assert.Equal(t, 4-calls, n)
			return []ReceivedMessage{delivery(fmt.Sprintf("r%d", calls))}, nil
		})
	assert.Nil(t, err)
	assert.Equal(t, Satisfied, state)
	assert.Equal(t, 3, len(messages))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 500*time.Millisecond, clock.waited())
}

func TestLongPollExpired(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	messages, state, err := NewLongPoll(250*time.Millisecond, clock).Run(context.Background(), 1,
		time.Second, func(context.Context, int) ([]ReceivedMessage, error) {
			calls++
			return nil, nil
		})
	assert.Nil(t, err)
	assert.Equal(t, Expired, state)
	assert.NotNil(t, messages)
	assert.Equal(t, 0, len(messages))
	assert.Equal(t, 5, calls)
	assert.Equal(t, time.Second, clock.waited())
}

func TestLongPollNeverOversleepsDeadline(t *testing.T) {
	clock := newFakeClock()
	_, state, err := NewLongPoll(250*time.Millisecond, clock).Run(context.Background(), 1,
		100*time.Millisecond, func(context.Context, int) ([]ReceivedMessage, error) { return nil, nil })
	assert.Nil(t, err)
	assert.Equal(t, Expired, state)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clock.waits)
}

func TestLongPollZeroWaitPollsOnce(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	_, state, err := NewLongPoll(0, clock).Run(context.Background(), 1, 0,
		func(context.Context, int) ([]ReceivedMessage, error) {
			calls++
			return nil, nil
		})
	assert.Nil(t, err)
	assert.Equal(t, Expired, state)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, len(clock.waits))
}

func TestLongPollKeepsEachDeliveryOnce(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	messages, state, err := NewLongPoll(time.Millisecond, clock).Run(context.Background(), 2,
		time.Second, func(context.Context, int) ([]ReceivedMessage, error) {
			calls++
			if calls < 3 {
				return []ReceivedMessage{delivery("a")}, nil
			}
			return []ReceivedMessage{delivery("a"), delivery("b")}, nil
		})
	assert.Nil(t, err)
	assert.Equal(t, Satisfied, state)
	assert.Equal(t, 2, len(messages))
	assert.Equal(t, "a", messages[0].ReceiptHandle)
	assert.Equal(t, "b", messages[1].ReceiptHandle)
}

func TestLongPollCancelledReturnsPartial(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	messages, state, err := NewLongPoll(time.Millisecond, clock).Run(ctx, 5, time.Minute,
		func(ctx context.Context, _ int) ([]ReceivedMessage, error) {
			calls++
			if calls == 1 {
				return []ReceivedMessage{delivery("a")}, nil
			}
			cancel()
			return nil, ctx.Err()
		})
	assert.Nil(t, err)
	assert.Equal(t, Cancelled, state)
	assert.Equal(t, 1, len(messages))
	assert.Equal(t, 2, calls)
}

func TestLongPollCancelledEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	messages, state, err := NewLongPoll(time.Millisecond, newFakeClock()).Run(ctx, 1, time.Minute,
		func(context.Context, int) ([]ReceivedMessage, error) {
			called = true
			return nil, nil
		})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Cancelled, state)
	assert.Equal(t, 0, len(messages))
	assert.False(t, called)
}

func TestLongPollFetchError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := NewLongPoll(time.Millisecond, newFakeClock()).Run(context.Background(), 1, time.Minute,
		func(context.Context, int) ([]ReceivedMessage, error) { return nil, boom })
	assert.Equal(t, boom, err)
}

func TestLongPollFetchErrorKeepsCollected(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	messages, _, err := NewLongPoll(time.Millisecond, newFakeClock()).Run(context.Background(), 3, time.Minute,
		func(context.Context, int) ([]ReceivedMessage, error) {
			calls++
			if calls == 1 {
				return []ReceivedMessage{delivery("a")}, nil
			}
			return nil, boom
		})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, len(messages))
	assert.Equal(t, "a", messages[0].ReceiptHandle)
}

func TestPollStateString(t *testing.T) {
	assert.Equal(t, "satisfied", Satisfied.String())
	assert.Equal(t, "unknown", PollState(42).String())
}

package queue

import (
	"context"
	"time"
)

type PollState int

const (
	Polling PollState = iota
	Waiting
	Satisfied
	Expired
	Cancelled
)

func (s PollState) String() string {
	switch s {
	case Polling:
		return "polling"
	case Waiting:
		return "waiting"
	case Satisfied:
		return "satisfied"
	case Expired:
		return "expired"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

var SystemClock Clock = systemClock{}

const DefaultPollInterval = 250 * time.Millisecond

// Fetch performs one short receive of at most n messages. n is what the run still needs.
type Fetch func(ctx context.Context, n int) ([]ReceivedMessage, error)

// LongPoll emulates long polling on top of short receives:
//
//	Polling -> Waiting(Interval) -> Polling -> ... -> Satisfied | Expired | Cancelled
//
// Attempts never overlap.
type LongPoll struct {
	Interval time.Duration
	Clock    Clock
}

func NewLongPoll(interval time.Duration, clock Clock) *LongPoll {
	return &LongPoll{Interval: interval, Clock: clock}
}

func (p *LongPoll) interval() time.Duration {
	if p == nil || p.Interval <= 0 {
		return DefaultPollInterval
	}
	return p.Interval
}

func (p *LongPoll) clock() Clock {
	if p == nil || p.Clock == nil {
		return SystemClock
	}
	return p.Clock
}

// Run polls until want messages are accumulated or wait has elapsed. A delivery seen
// twice within one run (same receipt handle) is kept once. Cancellation returns what was
// collected so far; only an empty cancelled run reports ctx.Err(). A fetch error ends the
// run and is returned along with whatever was collected before it.
func (p *LongPoll) Run(ctx context.Context, want int, wait time.Duration, fetch Fetch) (
	[]ReceivedMessage, PollState, error) {
	clock, interval := p.clock(), p.interval()
	deadline := clock.Now().Add(wait)
	received, seen := make([]ReceivedMessage, 0), make(map[string]struct{})

	state := Polling
	for {
		switch state {
		case Polling:
			if ctx.Err() != nil {
				state = Cancelled
				continue
			}
			batch, err := fetch(ctx, want-len(received))
			if err != nil {
				if ctx.Err() != nil {
					state = Cancelled
					continue
				}
				return received, state, err
			}
			for _, m := range batch {
				if len(received) >= want {
					break
				}
				if m.ReceiptHandle != "" {
					if _, ok := seen[m.ReceiptHandle]; ok {
						continue
					}
					seen[m.ReceiptHandle] = struct{}{}
				}
				received = append(received, m)
			}
			if len(received) >= want {
				state = Satisfied
			} else if !clock.Now().Before(deadline) {
				state = Expired
			} else {
				state = Waiting
			}
		case Waiting:
			d := deadline.Sub(clock.Now())
			if d <= 0 {
				state = Expired
				continue
			}
			if d > interval {
				d = interval
			}
			select {
			case <-ctx.Done():
				state = Cancelled
			case <-clock.After(d):
				state = Polling
			}
		case Cancelled:
			if len(received) == 0 {
				return received, state, ctx.Err()
			}
			return received, state, nil
		default:
			return received, state, nil
		}
	}
}

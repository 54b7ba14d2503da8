// Package memory is an in-process queue provider for tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
)

type queuedMessage struct {
	id      uuid.UUID
	queue   string
	content string
	expiry  *time.Time
}

type Options struct {
	PollInterval time.Duration
	Clock        queue.Clock
}

// Provider keeps messages in a sync.Map keyed by message id. Receiving does not remove a
// message; only Delete does. The zero value is usable and runs on the system clock.
type Provider struct {
	messages sync.Map
	poller   *queue.LongPoll
	clock    queue.Clock
	logger   logrus.FieldLogger
}

var _ queue.Provider = (*Provider)(nil)
var _ queue.Capable = (*Provider)(nil)

func (p *Provider) Capabilities() queue.Capabilities {
	return queue.Capabilities{Name: "MemoryProvider", LongPolling: true}
}

func (p *Provider) Dispatch(ctx context.Context, message queue.Message) (*queue.DispatchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := message.Id
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, loaded := p.messages.LoadOrStore(id.String(), &queuedMessage{
		id:      id,
		queue:   message.Queue,
		content: message.Content,
		expiry:  message.Expiry,
	}); loaded {
		p.log().WithField("&", "Dispatch").Warn("=> Already queued: ", id)
	}
	return &queue.DispatchResponse{MessageId: id}, nil
}

func (p *Provider) Receive(ctx context.Context, receivable queue.Receivable) (*queue.ReceiveResponse, error) {
	if !receivable.LongPoll() {
		return &queue.ReceiveResponse{Messages: p.take(receivable.Queue, receivable.MessagesToReceive, nil)}, nil
	}
	returned := make(map[uuid.UUID]struct{})
	messages, state, err := p.longPoll().Run(ctx, receivable.MessagesToReceive, receivable.Wait(),
		func(_ context.Context, n int) ([]queue.ReceivedMessage, error) {
			batch := p.take(receivable.Queue, n, returned)
			for _, m := range batch {
				returned[m.Id] = struct{}{}
			}
			return batch, nil
		})
	if err != nil {
		return nil, err
	}
	p.log().WithField("&", "Receive").Debugf("=> Long poll %s: %d", state, len(messages))
	return &queue.ReceiveResponse{Messages: messages}, nil
}

// take skips anything in returned.
func (p *Provider) take(q string, n int, returned map[uuid.UUID]struct{}) []queue.ReceivedMessage {
	now := p.now()
	messages := make([]queue.ReceivedMessage, 0)
	for _, m := range p.snapshot() {
		if len(messages) >= n {
			break
		}
		if m.queue != q || (m.expiry != nil && !m.expiry.After(now)) {
			continue
		}
		if _, ok := returned[m.id]; ok {
			continue
		}
		messages = append(messages, queue.ReceivedMessage{
			Id:            m.id,
			Queue:         m.queue,
			Content:       m.content,
			Expiry:        m.expiry,
			ReceiptHandle: m.id.String(),
		})
	}
	return messages
}

func (p *Provider) now() time.Time {
	if p.clock == nil {
		return queue.SystemClock.Now()
	}
	return p.clock.Now()
}

func (p *Provider) longPoll() *queue.LongPoll {
	if p.poller == nil {
		return queue.NewLongPoll(queue.DefaultPollInterval, p.clock)
	}
	return p.poller
}

func (p *Provider) log() logrus.FieldLogger {
	if p.logger == nil {
		return logrus.StandardLogger().WithField("#", "MemoryProvider")
	}
	return p.logger
}

func (p *Provider) snapshot() []*queuedMessage {
	var all []*queuedMessage
	p.messages.Range(func(_, value interface{}) bool {
		if m, ok := value.(*queuedMessage); ok {
			all = append(all, m)
		}
		return true
	})
	return all
}

func (p *Provider) Delete(_ context.Context, deletable queue.Deletable) (*queue.DeleteResponse, error) {
	if _, loaded := p.messages.LoadAndDelete(deletable.ReceiptHandle); !loaded {
		p.log().WithField("&", "Delete").Debug("=> Absent: ", deletable.ReceiptHandle)
	}
	return &queue.DeleteResponse{Success: true}, nil
}

// HasMessage is for tests.
func (p *Provider) HasMessage(id uuid.UUID) bool {
	_, ok := p.messages.Load(id.String())
	return ok
}

// HasMessages is for tests.
func (p *Provider) HasMessages() bool {
	has := false
	p.messages.Range(func(_, _ interface{}) bool {
		has = true
		return false
	})
	return has
}

func (p *Provider) Len() int { return len(p.snapshot()) }

func New(opts Options, logger logrus.FieldLogger) *Provider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = queue.SystemClock
	}
	return &Provider{
		poller: queue.NewLongPoll(opts.PollInterval, clock),
		clock:  clock,
		logger: logger.WithField("#", "MemoryProvider"),
	}
}

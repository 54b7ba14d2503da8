// Package consumer runs workers that keep receiving from one queue, hand each message to
// a handler and delete it once handled.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/s4mli/cola/cleaner"
	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
)

// Handler processes one delivery. A nil error deletes the message; an error leaves it
// for redelivery.
type Handler func(context.Context, queue.ReceivedMessage) error

// Receiver is satisfied by *queue.Manager.
type Receiver interface {
	Receive(context.Context, *queue.Receivable) (*queue.ReceiveResponse, error)
	DeleteReceived(context.Context, *queue.ReceivedMessage) (*queue.DeleteResponse, error)
}

type Consumer struct {
	ctx        context.Context
	cancel     context.CancelFunc
	receiver   Receiver
	receivable queue.Receivable
	handler    Handler
	backoff    time.Duration
	workers    map[int]*worker
	wg         sync.WaitGroup
	logger     logrus.FieldLogger
}

func (c *Consumer) Name() string { return fmt.Sprintf("C(%s)", c.receivable.Queue) }

// Stop cancels every worker and waits for in-flight messages to finish.
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
	c.logger.WithField("&", "Stop").Info("=> Stopped")
}

func (c *Consumer) Run() *Consumer {
	for _, w := range c.workers {
		c.wg.Add(1)
		go func(w *worker) {
			defer c.wg.Done()
			w.run(c)
		}(w)
	}
	return c
}

type worker struct {
	id     int
	logger logrus.FieldLogger
}

func (w *worker) run(c *Consumer) {
	for {
		select {
		case <-c.ctx.Done():
			w.logger.WithField("&", "Run").Debug("=> Done")
			return
		default:
		}
		resp, err := c.receiver.Receive(c.ctx, &c.receivable)
		if err != nil {
			if c.ctx.Err() != nil {
				continue
			}
			w.logger.WithField("&", "Run@Receive").Error(err)
			select {
			case <-c.ctx.Done():
			case <-time.After(c.backoff):
			}
			continue
		}
		for i := range resp.Messages {
			m := resp.Messages[i]
			if err := c.handler(c.ctx, m); err != nil {
				w.logger.WithFields(logrus.Fields{
					"&": "Run@Handle",
					"*": m.Id,
				}).Error(err)
				continue
			}
			if _, err := c.receiver.DeleteReceived(c.ctx, &m); err != nil {
				w.logger.WithField("&", "Run@Delete").Error(err)
			}
		}
	}
}

// New starts nothing; call Run. A receivable without SecondsToWait makes the workers
// spin on short polls, so give it one.
func New(
	parentCtx context.Context,
	receiver Receiver,
	receivable queue.Receivable,
	count int,
	handler Handler,
	logger logrus.FieldLogger,
) *Consumer {
	if count < 1 {
		count = 1
	}
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Consumer{
		ctx:        ctx,
		cancel:     cancel,
		receiver:   receiver,
		receivable: receivable,
		handler:    handler,
		backoff:    time.Second,
		logger:     logger.WithField("#", fmt.Sprintf("C(%s)", receivable.Queue)),
	}
	c.workers = make(map[int]*worker, count)
	for id := 0; id < count; id++ {
		c.workers[id] = &worker{
			id:     id,
			logger: c.logger.WithField("@", id),
		}
	}
	cleaner.Register(c)
	return c
}

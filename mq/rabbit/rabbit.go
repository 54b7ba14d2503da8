// Package rabbit is the RabbitMQ queue provider. RabbitMQ has no long-poll receive, so
// long polls on these queues need the manager's emulation.
package rabbit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/s4mli/cola/common"
	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

type Options struct {
	Uri           string
	User          string
	Password      string
	Exchange      string
	Queue         string
	PrefetchCount int
}

type Provider struct {
	mu          sync.Mutex
	source      ChannelSource
	exchange    string
	queue       string
	outstanding sync.Map
	decoder     *queue.Decoder
	logger      logrus.FieldLogger
}

var _ queue.Provider = (*Provider)(nil)
var _ queue.Capable = (*Provider)(nil)

func (p *Provider) Capabilities() queue.Capabilities {
	return queue.Capabilities{Name: "RabbitProvider", LongPolling: false}
}

// routingKey is the broker queue, which defaults to the registered queue name.
func (p *Provider) routingKey(q string) string {
	if p.queue != "" {
		return p.queue
	}
	return q
}

func expiration(expiry *time.Time, now time.Time) string {
	if expiry == nil {
		return ""
	}
	ms := expiry.Sub(now).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms, 10)
}

func (p *Provider) Dispatch(ctx context.Context, message queue.Message) (*queue.DispatchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer common.LogMetrics(p.logger, "Dispatch", time.Now(), time.Second)
	body, err := queue.Encode(message)
	if err != nil {
		return nil, err
	}
	ch, _, err := p.source.Channel()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	p.mu.Lock()
	err = ch.Publish(p.exchange, p.routingKey(message.Queue), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    message.Id.String(),
		Timestamp:    now,
		Expiration:   expiration(message.Expiry, now),
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"&": "Dispatch",
			"*": message.Id,
		}).Error("=> Publish failed: ", err)
		return nil, err
	}
	p.logger.WithField("&", "Dispatch").Debug("=> Published: ", message.Id)
	return &queue.DispatchResponse{MessageId: message.Id}, nil
}

func receipt(generation, tag uint64) string { return fmt.Sprintf("%d:%d", generation, tag) }

func parseReceipt(handle string) (generation, tag uint64, err error) {
	parts := strings.SplitN(handle, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed receipt ( %s )", handle)
	}
	if generation, err = strconv.ParseUint(parts[0], 10, 64); err != nil {
		return 0, 0, err
	}
	if tag, err = strconv.ParseUint(parts[1], 10, 64); err != nil {
		return 0, 0, err
	}
	return generation, tag, nil
}

// Receive gets up to MessagesToReceive deliveries one by one and returns at once.
func (p *Provider) Receive(ctx context.Context, receivable queue.Receivable) (*queue.ReceiveResponse, error) {
	if receivable.LongPoll() {
		return nil, &queue.FeatureNotSupportedError{Provider: p.Capabilities().Name, Feature: queue.FeatureLongPolling}
	}
	ch, generation, err := p.source.Channel()
	if err != nil {
		return nil, err
	}
	messages := make([]queue.ReceivedMessage, 0)
	for i := 0; i < receivable.MessagesToReceive; i++ {
		if ctx.Err() != nil {
			break
		}
		p.mu.Lock()
		d, ok, err := ch.Get(p.routingKey(receivable.Queue), false)
		p.mu.Unlock()
		if err != nil {
			p.logger.WithField("&", "Receive").Error("=> Get failed: ", err)
			p.requeue(messages)
			return nil, err
		}
		if !ok {
			break
		}
		handle := receipt(generation, d.DeliveryTag)
		p.outstanding.Store(handle, struct{}{})
		if received, ok := p.decoder.Handle(ctx, d.Body,
			*queue.OffOfQueue(receivable.Queue).WithReceiptHandle(handle)); ok {
			messages = append(messages, *received)
		}
	}
	return &queue.ReceiveResponse{Messages: messages}, nil
}

// Delete acks an outstanding delivery. Deliveries that are unknown, already acked or
// from a channel that has since been replaced count as deleted.
func (p *Provider) Delete(_ context.Context, deletable queue.Deletable) (*queue.DeleteResponse, error) {
	if _, ok := p.outstanding.Load(deletable.ReceiptHandle); !ok {
		return &queue.DeleteResponse{Success: true}, nil
	}
	return p.settle(deletable.ReceiptHandle, func(ch Channel, tag uint64) error {
		return ch.Ack(tag, false)
	})
}

func (p *Provider) reject(_ context.Context, deletable queue.Deletable) {
	if _, err := p.settle(deletable.ReceiptHandle, func(ch Channel, tag uint64) error {
		return ch.Nack(tag, false, false)
	}); err != nil {
		p.logger.WithField("&", "Reject").Error("=> Nack failed: ", err)
	}
}

// requeue hands deliveries that never reached the caller back to the broker.
func (p *Provider) requeue(messages []queue.ReceivedMessage) {
	for _, m := range messages {
		if _, err := p.settle(m.ReceiptHandle, func(ch Channel, tag uint64) error {
			return ch.Nack(tag, false, true)
		}); err != nil {
			p.logger.WithField("&", "Requeue").Error("=> Nack failed: ", err)
		}
	}
}

func (p *Provider) settle(handle string, fn func(Channel, uint64) error) (*queue.DeleteResponse, error) {
	generation, tag, err := parseReceipt(handle)
	if err != nil {
		p.outstanding.Delete(handle)
		return &queue.DeleteResponse{Success: true}, nil
	}
	ch, current, err := p.source.Channel()
	if err != nil {
		return nil, err
	}
	if generation != current {
		p.outstanding.Delete(handle)
		return &queue.DeleteResponse{Success: true}, nil
	}
	p.mu.Lock()
	err = fn(ch, tag)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.outstanding.Delete(handle)
	return &queue.DeleteResponse{Success: true}, nil
}

func NewWithSource(source ChannelSource, opts Options, logger logrus.FieldLogger) *Provider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("#", fmt.Sprintf("Rabbit(%s,%s)", opts.Exchange, opts.Queue))
	p := &Provider{
		source:   source,
		exchange: opts.Exchange,
		queue:    opts.Queue,
		logger:   logger,
	}
	p.decoder = &queue.Decoder{Logger: logger, Delete: p.Delete, Reject: p.reject}
	return p
}

func New(ctx context.Context, opts Options, logger logrus.FieldLogger) (*Provider, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	conn := NewConnection(ctx, opts.Uri, opts.User, opts.Password, opts.PrefetchCount, logger)
	if err := conn.Start(); err != nil {
		return nil, err
	}
	return NewWithSource(conn, opts, logger), nil
}

package queue

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registration is one (queue name, provider) pair supplied at startup.
type Registration struct {
	Name               string
	Provider           Provider
	EmulateLongPolling bool
}

type RegisteredQueueProvider struct {
	Name               string
	Provider           Provider
	EmulateLongPolling bool
}

type RegistrationOption func(*RegisteredQueueProvider)

// WithLongPollEmulation downgrades the long polling capability fault into a polling
// emulation for providers that cannot long poll.
func WithLongPollEmulation() RegistrationOption {
	return func(r *RegisteredQueueProvider) { r.EmulateLongPolling = true }
}

// WithPoller replaces the poller used for emulated long polls.
func WithPoller(p *LongPoll) ManagerOption {
	return func(m *Manager) { m.poller = p }
}

type ManagerOption func(*Manager)

// Manager routes dispatch, receive and delete to the provider registered for a queue.
// Entries are never replaced once added.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]*RegisteredQueueProvider
	ordered   []*RegisteredQueueProvider
	poller    *LongPoll
	logger    logrus.FieldLogger
}

func NewManager(logger logrus.FieldLogger, registrations []Registration, opts ...ManagerOption) (*Manager, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{
		providers: make(map[string]*RegisteredQueueProvider, len(registrations)),
		poller:    NewLongPoll(DefaultPollInterval, SystemClock),
		logger:    logger.WithField("#", "QueueManager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, r := range registrations {
		var ro []RegistrationOption
		if r.EmulateLongPolling {
			ro = append(ro, WithLongPollEmulation())
		}
		if err := m.AddQueue(r.Name, r.Provider, ro...); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func (m *Manager) AddQueue(name string, provider Provider, opts ...RegistrationOption) error {
	if blank(name) {
		return &MissingQueueError{Kind: "Registration"}
	}
	if provider == nil {
		return ErrNilArgument
	}
	r := &RegisteredQueueProvider{Name: name, Provider: provider}
	for _, opt := range opts {
		opt(r)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[name]; ok {
		return &DuplicateQueueError{Queue: name}
	}
	m.providers[name] = r
	m.ordered = append(m.ordered, r)
	m.logger.WithFields(logrus.Fields{
		"&":     "AddQueue",
		"queue": name,
	}).Info("=> Registered ", CapabilitiesOf(provider).Name)
	return nil
}

func (m *Manager) RegisteredQueueProviders() []RegisteredQueueProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	registered := make([]RegisteredQueueProvider, 0, len(m.ordered))
	for _, r := range m.ordered {
		registered = append(registered, *r)
	}
	return registered
}

func (m *Manager) resolve(queue string) (*RegisteredQueueProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.providers[queue]; ok {
		return r, nil
	}
	return nil, &QueueNotFoundError{Queue: queue}
}

func (m *Manager) Dispatch(ctx context.Context, message *Message) (*DispatchResponse, error) {
	if message == nil {
		return nil, ErrNilArgument
	}
	if blank(message.Queue) {
		return nil, &MissingQueueError{Kind: "Message"}
	}
	if message.Content == "" {
		return nil, ErrMissingContent
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := m.resolve(message.Queue)
	if err != nil {
		return nil, err
	}

	msg := *message
	if msg.Id == uuid.Nil {
		msg.Id = uuid.New()
	}
	logger := m.logger.WithFields(logrus.Fields{"&": "Dispatch", "queue": msg.Queue})
	// the id established here is what callers get back, whatever the backend reports
	if _, err := r.Provider.Dispatch(ctx, msg); err != nil {
		logger.Error("=> Dispatch failed: ", err)
		return nil, err
	} else {
		logger.Debug("=> Dispatched: ", msg.Id)
		return &DispatchResponse{MessageId: msg.Id}, nil
	}
}

func (m *Manager) Receive(ctx context.Context, receivable *Receivable) (*ReceiveResponse, error) {
	if receivable == nil {
		return nil, ErrNilArgument
	}
	if blank(receivable.Queue) {
		return nil, &MissingQueueError{Kind: "Receivable"}
	}
	if receivable.MessagesToReceive < 1 {
		return nil, &InvalidReceiveCountError{Count: receivable.MessagesToReceive}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := m.resolve(receivable.Queue)
	if err != nil {
		return nil, err
	}

	logger := m.logger.WithFields(logrus.Fields{"&": "Receive", "queue": receivable.Queue})
	if receivable.LongPoll() && !CapabilitiesOf(r.Provider).LongPolling {
		if !r.EmulateLongPolling {
			return nil, &FeatureNotSupportedError{
				Provider: CapabilitiesOf(r.Provider).Name,
				Feature:  FeatureLongPolling,
			}
		}
		return m.emulateLongPoll(ctx, r.Provider, *receivable, logger)
	}

	if resp, err := r.Provider.Receive(ctx, *receivable); err != nil {
		logger.Error("=> Receive failed: ", err)
		return nil, err
	} else {
		logger.Debugf("=> Received: %d", len(resp.Messages))
		return resp, nil
	}
}

func (m *Manager) emulateLongPoll(ctx context.Context, p Provider, receivable Receivable,
	logger logrus.FieldLogger) (*ReceiveResponse, error) {
	short := Receivable{Queue: receivable.Queue}
	messages, state, err := m.poller.Run(ctx, receivable.MessagesToReceive, receivable.Wait(),
		func(ctx context.Context, n int) ([]ReceivedMessage, error) {
			short.MessagesToReceive = n
			if resp, err := p.Receive(ctx, short); err != nil {
				return nil, err
			} else {
				return resp.Messages, nil
			}
		})
	if err != nil {
		if len(messages) == 0 {
			logger.Error("=> Emulated long poll failed: ", err)
			return nil, err
		}
		logger.Warnf("=> Emulated long poll cut short with %d: %v", len(messages), err)
	}
	logger.Debugf("=> Emulated long poll %s: %d", state, len(messages))
	return &ReceiveResponse{Messages: messages}, nil
}

func (m *Manager) Delete(ctx context.Context, deletable *Deletable) (*DeleteResponse, error) {
	if deletable == nil {
		return nil, ErrNilArgument
	}
	if blank(deletable.Queue) {
		return nil, &MissingQueueError{Kind: "Deletable"}
	}
	return m.delete(ctx, *deletable)
}

// DeleteReceived acknowledges a delivery using the handle carried by the received message.
func (m *Manager) DeleteReceived(ctx context.Context, received *ReceivedMessage) (*DeleteResponse, error) {
	if received == nil {
		return nil, ErrNilArgument
	}
	if blank(received.Queue) {
		return nil, &MissingQueueError{Kind: "ReceivedMessage"}
	}
	return m.delete(ctx, received.Deletable())
}

func (m *Manager) delete(ctx context.Context, deletable Deletable) (*DeleteResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := m.resolve(deletable.Queue)
	if err != nil {
		return nil, err
	}
	logger := m.logger.WithFields(logrus.Fields{"&": "Delete", "queue": deletable.Queue})
	if resp, err := r.Provider.Delete(ctx, deletable); err != nil {
		logger.Error("=> Delete failed: ", err)
		return nil, err
	} else {
		logger.Debug("=> Deleted: ", deletable.ReceiptHandle)
		return resp, nil
	}
}

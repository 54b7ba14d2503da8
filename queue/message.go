package queue

import (
	"time"

	"github.com/google/uuid"
)

// Message is what callers dispatch. A nil Id is filled in by the Manager.
type Message struct {
	Id      uuid.UUID
	Queue   string
	Content string
	Expiry  *time.Time
}

func OnQueue(queue string) *Message       { return &Message{Queue: queue} }
func WithContent(content string) *Message { return &Message{Content: content} }

func (m *Message) OnQueue(queue string) *Message {
	m.Queue = queue
	return m
}
func (m *Message) WithContent(content string) *Message {
	m.Content = content
	return m
}
func (m *Message) WithId(id uuid.UUID) *Message {
	m.Id = id
	return m
}
func (m *Message) WhichExpiresAt(expiry time.Time) *Message {
	m.Expiry = &expiry
	return m
}
func (m *Message) WhichExpiresIn(d time.Duration) *Message {
	return m.WhichExpiresAt(time.Now().Add(d))
}

// Expired reports whether the message is no longer deliverable at now.
func (m Message) Expired(now time.Time) bool { return expired(m.Expiry, now) }

func expired(expiry *time.Time, now time.Time) bool {
	return expiry != nil && !expiry.After(now)
}

// ReceivedMessage is one delivery of a message. ReceiptHandle identifies the delivery,
// not the message.
type ReceivedMessage struct {
	Id                 uuid.UUID
	Queue              string
	Content            string
	Expiry             *time.Time
	ReceiptHandle      string
	DeletionAttributes map[string]string
}

func (m ReceivedMessage) Expired(now time.Time) bool { return expired(m.Expiry, now) }

// Deletable returns the handle a provider needs to acknowledge this delivery.
func (m ReceivedMessage) Deletable() Deletable {
	d := Deletable{Queue: m.Queue, ReceiptHandle: m.ReceiptHandle}
	for k, v := range m.DeletionAttributes {
		d.WithDeletionAttribute(k, v)
	}
	return d
}

type Deletable struct {
	Queue              string
	ReceiptHandle      string
	DeletionAttributes map[string]string
}

func OffOfQueue(queue string) *Deletable { return &Deletable{Queue: queue} }

func (d *Deletable) WithReceiptHandle(handle string) *Deletable {
	d.ReceiptHandle = handle
	return d
}

func (d *Deletable) WithDeletionAttribute(key, value string) *Deletable {
	if d.DeletionAttributes == nil {
		d.DeletionAttributes = make(map[string]string)
	}
	d.DeletionAttributes[key] = value
	return d
}

// Receivable describes a receive request. SecondsToWait, when set, asks for a long poll.
type Receivable struct {
	Queue             string
	MessagesToReceive int
	SecondsToWait     *int
}

func FromQueue(queue string) *Receivable { return &Receivable{Queue: queue, MessagesToReceive: 1} }

func (r *Receivable) TakeMessages(n int) *Receivable {
	r.MessagesToReceive = n
	return r
}
func (r *Receivable) WaitFor(seconds int) *Receivable {
	r.SecondsToWait = &seconds
	return r
}

// Wait is the long poll duration, zero when none was asked for.
func (r Receivable) Wait() time.Duration {
	if r.SecondsToWait == nil {
		return 0
	}
	return time.Duration(*r.SecondsToWait) * time.Second
}

func (r Receivable) LongPoll() bool { return r.SecondsToWait != nil }

type DispatchResponse struct{ MessageId uuid.UUID }
type DeleteResponse struct{ Success bool }
type ReceiveResponse struct{ Messages []ReceivedMessage }

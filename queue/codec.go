package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EnvelopeVersion is the wire version written by Encode. Payloads without a version are
// read as version 1.
const EnvelopeVersion = 1

// Envelope is the wire form of a message, shared by every provider that leaves the process.
type Envelope struct {
	Version int        `json:"version"`
	Id      uuid.UUID  `json:"id"`
	Queue   string     `json:"queue"`
	Content string     `json:"content"`
	Expiry  *time.Time `json:"expiry,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(Envelope{
		Version: EnvelopeVersion,
		Id:      m.Id,
		Queue:   m.Queue,
		Content: m.Content,
		Expiry:  m.Expiry,
	})
}

func EncodeString(m Message) (string, error) {
	if b, err := Encode(m); err != nil {
		return "", err
	} else {
		return string(b), nil
	}
}

func Decode(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, &DecodeError{Payload: string(payload), Err: err}
	}
	if e.Version == 0 {
		e.Version = 1
	}
	if e.Version > EnvelopeVersion {
		return nil, &DecodeError{Payload: string(payload),
			Err: fmt.Errorf("unsupported version %d", e.Version)}
	}
	if e.Id == uuid.Nil {
		return nil, &DecodeError{Payload: string(payload), Err: fmt.Errorf("missing id")}
	}
	return &e, nil
}

// Received turns the envelope into a delivery. The queue is the one it was received from.
func (e *Envelope) Received(d Deletable) ReceivedMessage {
	return ReceivedMessage{
		Id:                 e.Id,
		Queue:              d.Queue,
		Content:            e.Content,
		Expiry:             e.Expiry,
		ReceiptHandle:      d.ReceiptHandle,
		DeletionAttributes: d.DeletionAttributes,
	}
}

// Decoder turns raw provider payloads into ReceivedMessages for a receive batch.
// Malformed payloads are logged, handed to Reject if set, and skipped; expired ones are
// deleted, if Delete is set, and skipped.
type Decoder struct {
	Logger logrus.FieldLogger
	Delete func(context.Context, Deletable) (*DeleteResponse, error)
	Reject func(context.Context, Deletable)
	Now    func() time.Time
}

func (d *Decoder) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Decoder) Handle(ctx context.Context, payload []byte, deletable Deletable) (*ReceivedMessage, bool) {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if e, err := Decode(payload); err != nil {
		logger.WithFields(logrus.Fields{
			"&":     "Decode",
			"queue": deletable.Queue,
		}).Warn("=> Skipped: ", err)
		if d.Reject != nil {
			d.Reject(ctx, deletable)
		}
		return nil, false
	} else {
		m := e.Received(deletable)
		if m.Expired(d.now()) {
			logger.WithFields(logrus.Fields{
				"&":     "Decode",
				"queue": deletable.Queue,
			}).Debug("=> Expired: ", m.Id)
			if d.Delete != nil {
				if _, err := d.Delete(ctx, deletable); err != nil {
					logger.WithField("&", "Decode").Warn("=> Delete expired failed: ", err)
				}
			}
			return nil, false
		}
		return &m, true
	}
}

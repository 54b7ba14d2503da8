package queue

import (
	"errors"
	"fmt"
)

var (
	// Programming faults.
	ErrNilArgument = errors.New("cola: nil argument")

	// Caller input faults.
	ErrMissingQueue        = errors.New("cola: missing queue")
	ErrMissingContent      = errors.New("cola: missing content")
	ErrInvalidReceiveCount = errors.New("cola: invalid number of messages to receive")

	// Routing faults.
	ErrQueueNotFound  = errors.New("cola: queue not found")
	ErrDuplicateQueue = errors.New("cola: duplicate queue")

	// Capability faults.
	ErrFeatureNotSupported = errors.New("cola: feature not supported")

	// Per message faults, recovered by the receive path.
	ErrDecode = errors.New("cola: decode failed")
)

// MissingQueueError is returned when Kind (Message, Receivable, Deletable, ...) names no queue.
type MissingQueueError struct{ Kind string }

func (e *MissingQueueError) Error() string { return fmt.Sprintf("cola: %s has no queue", e.Kind) }
func (e *MissingQueueError) Unwrap() error { return ErrMissingQueue }

type QueueNotFoundError struct{ Queue string }

func (e *QueueNotFoundError) Error() string {
	return fmt.Sprintf("cola: queue ( %s ) is not registered", e.Queue)
}
func (e *QueueNotFoundError) Unwrap() error { return ErrQueueNotFound }

type DuplicateQueueError struct{ Queue string }

func (e *DuplicateQueueError) Error() string {
	return fmt.Sprintf("cola: queue ( %s ) is already registered", e.Queue)
}
func (e *DuplicateQueueError) Unwrap() error { return ErrDuplicateQueue }

type InvalidReceiveCountError struct{ Count int }

func (e *InvalidReceiveCountError) Error() string {
	return fmt.Sprintf("cola: messages to receive must be at least 1, got %d", e.Count)
}
func (e *InvalidReceiveCountError) Unwrap() error { return ErrInvalidReceiveCount }

// FeatureNotSupportedError is a capability fault, e.g. long polling on a provider without it.
type FeatureNotSupportedError struct {
	Provider string
	Feature  string
}

func (e *FeatureNotSupportedError) Error() string {
	return fmt.Sprintf("cola: %s does not support %s", e.Provider, e.Feature)
}
func (e *FeatureNotSupportedError) Unwrap() error { return ErrFeatureNotSupported }

type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cola: decode ( %s ) failed ( %v )", e.Payload, e.Err)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
func (e *DecodeError) Unwrap() error        { return e.Err }

package queue

import (
	"context"
	"fmt"
)

// Provider is a pluggable queue backend.
//
// Dispatch must honor ctx and never block indefinitely. Receive returns at once with up to
// MessagesToReceive messages, or, when SecondsToWait is set, waits up to that long for at
// least one. Delete of an unknown or already deleted handle reports success.
type Provider interface {
	Dispatch(ctx context.Context, message Message) (*DispatchResponse, error)
	Receive(ctx context.Context, receivable Receivable) (*ReceiveResponse, error)
	Delete(ctx context.Context, deletable Deletable) (*DeleteResponse, error)
}

// Capable is implemented by providers that declare optional features. A provider
// that does not implement it is assumed to have none.
type Capable interface {
	Capabilities() Capabilities
}

type Capabilities struct {
	Name        string
	LongPolling bool
}

const FeatureLongPolling = "long polling"

func CapabilitiesOf(p Provider) Capabilities {
	if c, ok := p.(Capable); ok {
		return c.Capabilities()
	}
	return Capabilities{Name: fmt.Sprintf("%T", p)}
}

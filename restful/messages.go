package restful

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/s4mli/cola/queue"
)

// Manager is the part of *queue.Manager the resources serve.
type Manager interface {
	Dispatch(context.Context, *queue.Message) (*queue.DispatchResponse, error)
	Receive(context.Context, *queue.Receivable) (*queue.ReceiveResponse, error)
	Delete(context.Context, *queue.Deletable) (*queue.DeleteResponse, error)
	RegisteredQueueProviders() []queue.RegisteredQueueProvider
}

type dispatchBody struct {
	Id        *uuid.UUID `json:"id,omitempty"`
	Queue     string     `json:"queue"`
	Content   string     `json:"content"`
	Expiry    *time.Time `json:"expiry,omitempty"`
	ExpiresIn string     `json:"expiresIn,omitempty"`
}

type deleteBody struct {
	Queue              string            `json:"queue"`
	ReceiptHandle      string            `json:"receiptHandle"`
	DeletionAttributes map[string]string `json:"deletionAttributes,omitempty"`
}

type receivedView struct {
	Id                 uuid.UUID         `json:"id"`
	Queue              string            `json:"queue"`
	Content            string            `json:"content"`
	Expiry             *time.Time        `json:"expiry,omitempty"`
	ReceiptHandle      string            `json:"receiptHandle"`
	DeletionAttributes map[string]string `json:"deletionAttributes,omitempty"`
}

// Messages serves POST (dispatch), GET (receive) and DELETE on one path.
type Messages struct{ manager Manager }

func (m *Messages) Post(ctx context.Context, r *Request) (interface{}, error) {
	var b dispatchBody
	if err := json.Unmarshal(r.Body, &b); err != nil {
		return nil, &BadRequestError{err}
	}
	msg := queue.OnQueue(b.Queue).WithContent(b.Content)
	if b.Id != nil {
		msg.WithId(*b.Id)
	}
	if b.Expiry != nil {
		msg.WhichExpiresAt(*b.Expiry)
	} else if b.ExpiresIn != "" {
		if d, err := time.ParseDuration(b.ExpiresIn); err != nil {
			return nil, &BadRequestError{err}
		} else {
			msg.WhichExpiresIn(d)
		}
	}
	if resp, err := m.manager.Dispatch(ctx, msg); err != nil {
		return nil, err
	} else {
		return map[string]uuid.UUID{"messageId": resp.MessageId}, nil
	}
}

func formInt(r *Request, key string) (*int, error) {
	v := r.Form.Get(key)
	if v == "" {
		return nil, nil
	}
	if n, err := strconv.Atoi(v); err != nil {
		return nil, &BadRequestError{fmt.Errorf("%s: %w", key, err)}
	} else {
		return &n, nil
	}
}

func (m *Messages) Get(ctx context.Context, r *Request) (interface{}, error) {
	receivable := queue.FromQueue(r.Form.Get("queue"))
	if n, err := formInt(r, "n"); err != nil {
		return nil, err
	} else if n != nil {
		receivable.TakeMessages(*n)
	}
	if wait, err := formInt(r, "wait"); err != nil {
		return nil, err
	} else if wait != nil {
		receivable.WaitFor(*wait)
	}
	resp, err := m.manager.Receive(ctx, receivable)
	if err != nil {
		return nil, err
	}
	views := make([]receivedView, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		views = append(views, receivedView(msg))
	}
	return views, nil
}

func (m *Messages) Delete(ctx context.Context, r *Request) (interface{}, error) {
	var b deleteBody
	if err := json.Unmarshal(r.Body, &b); err != nil {
		return nil, &BadRequestError{err}
	}
	d := queue.OffOfQueue(b.Queue).WithReceiptHandle(b.ReceiptHandle)
	for k, v := range b.DeletionAttributes {
		d.WithDeletionAttribute(k, v)
	}
	if resp, err := m.manager.Delete(ctx, d); err != nil {
		return nil, err
	} else {
		return map[string]bool{"success": resp.Success}, nil
	}
}

type queueView struct {
	Name               string `json:"name"`
	Provider           string `json:"provider"`
	LongPolling        bool   `json:"longPolling"`
	EmulateLongPolling bool   `json:"emulateLongPolling"`
}

// Queues lists the registrations.
type Queues struct{ manager Manager }

func (q *Queues) Get(context.Context, *Request) (interface{}, error) {
	registered := q.manager.RegisteredQueueProviders()
	views := make([]queueView, 0, len(registered))
	for _, r := range registered {
		caps := queue.CapabilitiesOf(r.Provider)
		views = append(views, queueView{r.Name, caps.Name, caps.LongPolling, r.EmulateLongPolling})
	}
	return views, nil
}

// ForManager registers the message and queue resources.
func (api *API) ForManager(m Manager) *API {
	return api.
		RegisterResource(&Messages{m}, "/messages").
		RegisterResource(&Queues{m}, "/queues")
}

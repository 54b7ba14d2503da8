// Package sqlqueue keeps queues in a relational table. A receive leases rows for a
// visibility window; a delete needs both the message id and the lease receipt.
package sqlqueue

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/s4mli/cola/common"
	sqldb "github.com/s4mli/cola/db/sql"
	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTable      = "cola_messages"
	DefaultVisibility = 30 * time.Second

	AttributeMessageId = "MessageId"
	AttributeReceipt   = "Receipt"
)

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

type Options struct {
	Table      string
	Visibility time.Duration
}

type row struct {
	Id      string `db:"id"`
	Payload string `db:"payload"`
}

type Provider struct {
	db         sqldb.SqlDB
	dialect    dialect
	table      string
	visibility time.Duration
	now        func() time.Time
	decoder    *queue.Decoder
	logger     logrus.FieldLogger
}

var _ queue.Provider = (*Provider)(nil)
var _ queue.Capable = (*Provider)(nil)

func (p *Provider) Capabilities() queue.Capabilities {
	return queue.Capabilities{Name: "SQLProvider(" + p.db.DriverName() + ")", LongPolling: false}
}

func (p *Provider) Migrate(ctx context.Context) error {
	return p.db.Query(func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, p.dialect.create(p.table))
		return err
	})
}

func (p *Provider) Dispatch(ctx context.Context, message queue.Message) (*queue.DispatchResponse, error) {
	defer common.LogMetrics(p.logger, "Dispatch", time.Now(), time.Second)
	payload, err := queue.EncodeString(message)
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()
	var expiry interface{}
	if message.Expiry != nil {
		expiry = message.Expiry.UTC()
	}
	if err := p.db.Query(func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, db.Rebind(fmt.Sprintf(
			"INSERT INTO %s (id, queue, payload, expiry, visible_at, receipt, enqueued_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			p.table)), message.Id.String(), message.Queue, payload, expiry, now, "", now)
		return err
	}); err != nil {
		p.logger.WithFields(logrus.Fields{
			"&": "Dispatch",
			"*": message.Id,
		}).Error("=> Insert failed: ", err)
		return nil, err
	}
	return &queue.DispatchResponse{MessageId: message.Id}, nil
}

// Receive purges expired rows of the queue, then leases up to MessagesToReceive rows
// in one transaction.
func (p *Provider) Receive(ctx context.Context, receivable queue.Receivable) (*queue.ReceiveResponse, error) {
	if receivable.LongPoll() {
		return nil, &queue.FeatureNotSupportedError{Provider: p.Capabilities().Name, Feature: queue.FeatureLongPolling}
	}
	now := p.now().UTC()
	type leased struct {
		row
		receipt string
	}
	var picked []leased
	if err := p.db.QueryTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf(
			"DELETE FROM %s WHERE queue = ? AND expiry IS NOT NULL AND expiry <= ?", p.table)),
			receivable.Queue, now); err != nil {
			return err
		}
		var rows []row
		if err := tx.SelectContext(ctx, &rows, tx.Rebind(p.dialect.pick(p.table, receivable.MessagesToReceive)),
			receivable.Queue, now, now); err != nil {
			return err
		}
		for _, r := range rows {
			receipt := uuid.New().String()
			if _, err := tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf(
				"UPDATE %s SET receipt = ?, visible_at = ? WHERE id = ?", p.table)),
				receipt, now.Add(p.visibility), r.Id); err != nil {
				return err
			}
			picked = append(picked, leased{r, receipt})
		}
		return nil
	}); err != nil {
		p.logger.WithField("&", "Receive").Error("=> Lease failed: ", err)
		return nil, err
	}

	messages := make([]queue.ReceivedMessage, 0, len(picked))
	for _, l := range picked {
		d := queue.OffOfQueue(receivable.Queue).
			WithReceiptHandle(l.receipt).
			WithDeletionAttribute(AttributeMessageId, l.Id).
			WithDeletionAttribute(AttributeReceipt, l.receipt)
		if received, ok := p.decoder.Handle(ctx, []byte(l.Payload), *d); ok {
			messages = append(messages, *received)
		}
	}
	return &queue.ReceiveResponse{Messages: messages}, nil
}

// Delete removes the row only while the lease is still the caller's; a stale or unknown
// lease deletes nothing and still reports success.
func (p *Provider) Delete(ctx context.Context, deletable queue.Deletable) (*queue.DeleteResponse, error) {
	id := deletable.DeletionAttributes[AttributeMessageId]
	receipt := deletable.DeletionAttributes[AttributeReceipt]
	if receipt == "" {
		receipt = deletable.ReceiptHandle
	}
	if id == "" || receipt == "" {
		p.logger.WithField("&", "Delete").Warn("=> Nothing to delete: missing id or receipt")
		return &queue.DeleteResponse{Success: true}, nil
	}
	var affected int64
	if err := p.db.Query(func(db *sqlx.DB) error {
		if result, err := db.ExecContext(ctx, db.Rebind(fmt.Sprintf(
			"DELETE FROM %s WHERE id = ? AND receipt = ?", p.table)), id, receipt); err != nil {
			return err
		} else {
			affected, err = result.RowsAffected()
			return err
		}
	}); err != nil {
		p.logger.WithField("&", "Delete").Error("=> Delete failed: ", err)
		return nil, err
	}
	if affected == 0 {
		p.logger.WithField("&", "Delete").Debug("=> Already gone: ", id)
	}
	return &queue.DeleteResponse{Success: true}, nil
}

// reject drops a row whose payload cannot be decoded; it would otherwise come back after
// every visibility window.
func (p *Provider) reject(ctx context.Context, deletable queue.Deletable) {
	if _, err := p.Delete(ctx, deletable); err != nil {
		p.logger.WithField("&", "Reject").Error("=> Drop failed: ", err)
	}
}

func New(db sqldb.SqlDB, opts Options, logger logrus.FieldLogger) (*Provider, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d, ok := dialects[db.DriverName()]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver ( %s )", db.DriverName())
	}
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}
	if !validTable.MatchString(table) {
		return nil, fmt.Errorf("invalid table name ( %s )", table)
	}
	visibility := opts.Visibility
	if visibility <= 0 {
		visibility = DefaultVisibility
	}
	logger = logger.WithField("#", fmt.Sprintf("SQL(%s,%s)", db.DriverName(), table))
	p := &Provider{
		db:         db,
		dialect:    d,
		table:      table,
		visibility: visibility,
		now:        time.Now,
		logger:     logger,
	}
	p.decoder = &queue.Decoder{
		Logger: logger,
		Delete: p.Delete,
		Reject: p.reject,
		Now:    func() time.Time { return p.now() },
	}
	return p, nil
}

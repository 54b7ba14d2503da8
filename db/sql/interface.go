package sqldb

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type SqlDB interface {
	Query(func(*sqlx.DB) error) error
	QueryTx(context.Context, func(*sqlx.Tx) error) error
	DriverName() string
	Close() error
}

type helper struct{ db *sqlx.DB }

func (h *helper) Stop()                                 { h.Close() }
func (h *helper) Close() error                          { return h.db.Close() }
func (h *helper) DriverName() string                    { return h.db.DriverName() }
func (h *helper) Query(f func(db *sqlx.DB) error) error { return f(h.db) }

// QueryTx runs f in a transaction, committed when f succeeds and rolled back otherwise.
func (h *helper) QueryTx(ctx context.Context, f func(*sqlx.Tx) error) error {
	if tx, err := h.db.BeginTxx(ctx, nil); err != nil {
		return err
	} else {
		if err := f(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}
}

// Wrap adapts an already open database, e.g. in tests. It is not registered with the cleaner.
func Wrap(db *sqlx.DB) SqlDB { return &helper{db} }

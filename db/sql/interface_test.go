package sqldb

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func mocked(t *testing.T) (SqlDB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	assert.Nil(t, err)
	return Wrap(sqlx.NewDb(db, "postgres")), mock
}

func TestQueryTxCommits(t *testing.T) {
	db, mock := mocked(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE t").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	assert.Nil(t, db.QueryTx(context.Background(), func(tx *sqlx.Tx) error {
		_, err := tx.Exec("UPDATE t SET x = 1")
		return err
	}))
	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestQueryTxRollsBack(t *testing.T) {
	db, mock := mocked(t)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.Equal(t, boom, db.QueryTx(context.Background(), func(*sqlx.Tx) error { return boom }))
	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", Params{Host: "h"}, logrus.StandardLogger())
	assert.NotNil(t, err)
}

func TestDSNs(t *testing.T) {
	p := Params{Host: "h", Port: "1", User: "u", Password: "p", DBName: "d"}
	assert.Equal(t, "u:p@tcp(h:1)/d?charset=utf8&parseTime=true&loc=UTC", dsns["mysql"](p))
	assert.Contains(t, dsns["postgres"](p), "dbname=d")
	assert.Contains(t, dsns["mssql"](p), "database=d")
}

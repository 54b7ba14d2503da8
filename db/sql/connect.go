package sqldb

import (
	"context"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/s4mli/cola/cleaner"
	"github.com/s4mli/cola/common"
	"github.com/sirupsen/logrus"
)

const (
	maxConns       = 50
	connectRetries = 3
)

type Params struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// dsns by driver name; all timestamps are read and written as UTC.
var dsns = map[string]func(Params) string{
	"mysql": func(p Params) string {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8&parseTime=true&loc=UTC",
			p.User, p.Password, p.Host, p.Port, p.DBName)
	},
	"postgres": func(p Params) string {
		return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable password=%s timezone=UTC",
			p.Host, p.Port, p.User, p.DBName, p.Password)
	},
	// the legacy mssql driver name keeps ? placeholders working
	"mssql": func(p Params) string {
		return fmt.Sprintf("server=%s;user id=%s;password=%s;port=%s;database=%s",
			p.Host, p.User, p.Password, p.Port, p.DBName)
	},
}

// Pool is an open database registered with the cleaner.
type Pool struct {
	*helper
	name string
}

func (p *Pool) Name() string { return p.name }

// Open connects with driver mysql, postgres or mssql, retrying a few times with jitter.
func Open(ctx context.Context, driver string, params Params, logger logrus.FieldLogger) (SqlDB, error) {
	dsn, ok := dsns[driver]
	if !ok {
		return nil, fmt.Errorf("unknown sql driver ( %s )", driver)
	}
	logger = logger.WithField("#", fmt.Sprintf("%s(%s/%s)", driver, params.Host, params.DBName))
	var err error
	for retry := 1; retry <= connectRetries; retry++ {
		var db *sqlx.DB
		if db, err = sqlx.ConnectContext(ctx, driver, dsn(params)); err == nil {
			db.SetMaxOpenConns(maxConns)
			db.SetMaxIdleConns(maxConns)
			pool := &Pool{&helper{db}, fmt.Sprintf("%s(%s/%s)", driver, params.Host, params.DBName)}
			cleaner.Register(pool)
			logger.WithField("&", "Open").Info("=> Connected")
			return pool, nil
		}
		logger.WithField("&", "Open").Errorf("=> Failed ( %d, %s )", retry, err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(common.RandomDuration(retry)):
		}
	}
	return nil, err
}

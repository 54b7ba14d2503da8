package sqlqueue

import "fmt"

type dialect struct {
	create func(table string) string
	// pick selects up to n visible, unexpired rows of a queue and locks them.
	pick func(table string, n int) string
}

var dialects = map[string]dialect{
	"postgres": {
		create: func(table string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	queue VARCHAR(255) NOT NULL,
	payload TEXT NOT NULL,
	expiry TIMESTAMPTZ NULL,
	visible_at TIMESTAMPTZ NOT NULL,
	receipt VARCHAR(36) NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL
)`, table)
		},
		pick: func(table string, n int) string {
			return fmt.Sprintf(`SELECT id, payload FROM %s
WHERE queue = ? AND visible_at <= ? AND (expiry IS NULL OR expiry > ?)
ORDER BY enqueued_at LIMIT %d FOR UPDATE SKIP LOCKED`, table, n)
		},
	},
	"mysql": {
		create: func(table string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	queue VARCHAR(255) NOT NULL,
	payload TEXT NOT NULL,
	expiry DATETIME(6) NULL,
	visible_at DATETIME(6) NOT NULL,
	receipt VARCHAR(36) NOT NULL,
	enqueued_at DATETIME(6) NOT NULL
)`, table)
		},
		pick: func(table string, n int) string {
			return fmt.Sprintf(`SELECT id, payload FROM %s
WHERE queue = ? AND visible_at <= ? AND (expiry IS NULL OR expiry > ?)
ORDER BY enqueued_at LIMIT %d FOR UPDATE SKIP LOCKED`, table, n)
		},
	},
	"mssql": {
		create: func(table string) string {
			return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (
	id VARCHAR(36) PRIMARY KEY,
	queue NVARCHAR(255) NOT NULL,
	payload NVARCHAR(MAX) NOT NULL,
	expiry DATETIME2 NULL,
	visible_at DATETIME2 NOT NULL,
	receipt VARCHAR(36) NOT NULL,
	enqueued_at DATETIME2 NOT NULL
)`, table, table)
		},
		pick: func(table string, n int) string {
			return fmt.Sprintf(`SELECT TOP (%d) id, payload FROM %s WITH (UPDLOCK, READPAST, ROWLOCK)
WHERE queue = ? AND visible_at <= ? AND (expiry IS NULL OR expiry > ?)
ORDER BY enqueued_at`, n, table)
		},
	},
}

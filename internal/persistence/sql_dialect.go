package persistence

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the SQL backends SQLStore runs on.
type Dialect struct {
	Name string

	keyType    string
	blobType   string
	intType    string
	serialPK   string
	positional bool // $1, $2, ... instead of ?

	insertIgnore string // prefix replacing "INSERT INTO"
	onConflict   string // suffix appended to insert-if-absent statements

	// inlineIndex is appended to CREATE TABLE for engines without
	// CREATE INDEX IF NOT EXISTS.
	inlineIndex bool
}

var (
	// SQLite expects an *sql.DB opened with the "sqlite" driver
	// (modernc.org/sqlite).
	SQLite = Dialect{
		Name:         "sqlite",
		keyType:      "TEXT",
		blobType:     "BLOB",
		intType:      "INTEGER",
		serialPK:     "INTEGER PRIMARY KEY AUTOINCREMENT",
		insertIgnore: "INSERT INTO",
		onConflict:   " ON CONFLICT DO NOTHING",
	}

	// Postgres expects an *sql.DB opened with the "pgx" driver
	// (github.com/jackc/pgx/v5/stdlib).
	Postgres = Dialect{
		Name:         "postgres",
		keyType:      "TEXT",
		blobType:     "BYTEA",
		intType:      "BIGINT",
		serialPK:     "BIGSERIAL PRIMARY KEY",
		positional:   true,
		insertIgnore: "INSERT INTO",
		onConflict:   " ON CONFLICT DO NOTHING",
	}

	// MySQL expects an *sql.DB opened with the "mysql" driver
	// (github.com/go-sql-driver/mysql).
	MySQL = Dialect{
		Name:         "mysql",
		keyType:      "VARCHAR(191)",
		blobType:     "LONGBLOB",
		intType:      "BIGINT",
		serialPK:     "BIGINT AUTO_INCREMENT PRIMARY KEY",
		insertIgnore: "INSERT IGNORE INTO",
		inlineIndex:  true,
	}
)

// rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertIfAbsent builds an INSERT that silently skips existing keys.
func (d Dialect) insertIfAbsent(table, columns, values string) string {
	return d.insertIgnore + " " + table + " (" + columns + ") VALUES (" + values + ")" + d.onConflict
}

func (d Dialect) schema() []string {
	runs := `CREATE TABLE IF NOT EXISTS runs (
		id ` + d.keyType + ` PRIMARY KEY,
		workflow_id ` + d.keyType + ` NOT NULL,
		status VARCHAR(32) NOT NULL,
		attempts ` + d.intType + ` NOT NULL,
		event ` + d.blobType + `,
		output ` + d.blobType + `,
		error TEXT,
		created_at ` + d.intType + ` NOT NULL,
		updated_at ` + d.intType + ` NOT NULL`

	steps := `CREATE TABLE IF NOT EXISTS step_results (
		run_id ` + d.keyType + ` NOT NULL,
		label ` + d.keyType + ` NOT NULL,
		value ` + d.blobType + `,
		recorded_at ` + d.intType + ` NOT NULL,
		PRIMARY KEY (run_id, label)
	)`

	leases := `CREATE TABLE IF NOT EXISTS run_leases (
		run_id ` + d.keyType + ` PRIMARY KEY,
		owner ` + d.keyType + ` NOT NULL,
		expires_at ` + d.intType + ` NOT NULL
	)`

	history := `CREATE TABLE IF NOT EXISTS run_history (
		id ` + d.serialPK + `,
		run_id ` + d.keyType + ` NOT NULL,
		at ` + d.intType + ` NOT NULL,
		type VARCHAR(64) NOT NULL,
		workflow_id ` + d.keyType + ` NOT NULL DEFAULT '',
		step ` + d.keyType + ` NOT NULL DEFAULT '',
		attempt ` + d.intType + ` NOT NULL DEFAULT 0,
		detail TEXT`

	if d.inlineIndex {
		return []string{
			runs + `,
		INDEX idx_runs_status (status, workflow_id)
	)`,
			steps,
			leases,
			history + `,
		INDEX idx_run_history_run_id (run_id, id)
	)`,
		}
	}
	return []string{
		runs + `
	)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status, workflow_id)`,
		steps,
		leases,
		history + `
	)`,
		`CREATE INDEX IF NOT EXISTS idx_run_history_run_id ON run_history(run_id, id)`,
	}
}

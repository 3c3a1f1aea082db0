package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/text-extractor/internal/domain"
)

// SQL drivers accepted by NewSQLStore.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const createJobRecordsTable = `
CREATE TABLE IF NOT EXISTS job_records (
	task_id    TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	record     TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// SQLStore keeps records in a job_records table on PostgreSQL or SQLite.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens dsn and creates the table when missing.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, domain.ConfigError(fmt.Sprintf("unsupported job store driver %q", driver), nil)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer at a time avoids SQLITE_BUSY under concurrent workers
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if _, err := db.ExecContext(ctx, createJobRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create job_records: %w", err)
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Put(ctx context.Context, rec *domain.JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	query := s.rebind(`
INSERT INTO job_records (task_id, state, record, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (task_id) DO UPDATE SET state = excluded.state, record = excluded.record, updated_at = excluded.updated_at`)

	if _, err := s.db.ExecContext(ctx, query, rec.TaskID, string(rec.State), string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert job record: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, taskID string) (*domain.JobRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT record FROM job_records WHERE task_id = ?`), taskID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recordNotFound(taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("select job record: %w", err)
	}

	var rec domain.JobRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job record: %w", err)
	}
	return &rec, nil
}

// Purge deletes records last updated before cutoff and returns how many.
func (s *SQLStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM job_records WHERE updated_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge job records: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

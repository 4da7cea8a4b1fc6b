package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JonMunkholm/viability/internal/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS addresses (
	seq               INTEGER NOT NULL,
	viabilidade_atual TEXT,
	uf                TEXT,
	municipio         TEXT,
	localidade        TEXT,
	bairro            TEXT,
	logradouro        TEXT,
	cod_logradouro    TEXT,
	n_fachada         TEXT,
	comp_1            TEXT,
	comp_2            TEXT,
	comp_3            TEXT,
	regiao            TEXT,
	cep               TEXT,
	total_hps         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reload_history (
	id          TEXT    PRIMARY KEY,
	source      TEXT    NOT NULL,
	success     INTEGER NOT NULL,
	failure     TEXT    NOT NULL DEFAULT '',
	message     TEXT    NOT NULL DEFAULT '',
	records     INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reload_history_started_at ON reload_history (started_at DESC);

CREATE TABLE IF NOT EXISTS dataset_meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	generation INTEGER NOT NULL,
	loaded_at  INTEGER NOT NULL
);
`

const sqliteBumpVersion = `
INSERT INTO dataset_meta (id, generation, loaded_at) VALUES (1, 1, ?)
ON CONFLICT (id) DO UPDATE SET generation = dataset_meta.generation + 1, loaded_at = excluded.loaded_at
RETURNING generation, loaded_at`

// SQLite persists the dataset in a local SQLite file. WAL mode lets lookups
// through other connections continue while a replace transaction is open.
type SQLite struct {
	db     *sql.DB
	insert string
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLite{
		db: db,
		insert: "INSERT INTO addresses (" + strings.Join(addressColumns, ", ") + ") VALUES (" +
			strings.TrimSuffix(strings.Repeat("?, ", len(addressColumns)), ", ") + ")",
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, stmt := range addressIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Load returns every stored record in load order.
func (s *SQLite) Load(ctx context.Context) ([]core.AddressRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectAddresses)
	if err != nil {
		return nil, fmt.Errorf("query addresses: %w", err)
	}
	defer rows.Close()

	var records []core.AddressRecord
	texts := make([]sql.NullString, len(textColumns))
	dest := make([]any, 0, len(textColumns)+1)
	for i := range texts {
		dest = append(dest, &texts[i])
	}
	var hps int64
	dest = append(dest, &hps)

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		var rec core.AddressRecord
		for i, f := range textFields(&rec) {
			*f = fromNullString(texts[i])
		}
		rec.TotalHPs = int(hps)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read addresses: %w", err)
	}
	return records, nil
}

// Version returns the generation and load time of the stored dataset.
func (s *SQLite) Version(ctx context.Context) (core.DatasetVersion, error) {
	var generation, loadedAt int64
	err := s.db.QueryRowContext(ctx, "SELECT generation, loaded_at FROM dataset_meta WHERE id = 1").Scan(&generation, &loadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DatasetVersion{}, nil
	}
	if err != nil {
		return core.DatasetVersion{}, fmt.Errorf("query dataset version: %w", err)
	}
	return core.DatasetVersion{Generation: generation, LoadedAt: time.Unix(0, loadedAt).UTC()}, nil
}

// Replace swaps the stored dataset and bumps its generation in one transaction.
func (s *SQLite) Replace(ctx context.Context, records []core.AddressRecord, batchSize int, progress core.ProgressFunc) (core.DatasetVersion, error) {
	var none core.DatasetVersion
	if batchSize <= 0 {
		batchSize = core.DefaultBatchSize
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return none, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM addresses"); err != nil {
		return none, fmt.Errorf("delete addresses: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return none, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(addressColumns))
	for i := range records {
		args[0] = int64(i)
		for j, f := range textFields(&records[i]) {
			args[j+1] = toNullString(*f)
		}
		args[len(args)-1] = int64(records[i].TotalHPs)

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return none, fmt.Errorf("insert record %d: %w", i, err)
		}
		if done := i + 1; progress != nil && (done%batchSize == 0 || done == len(records)) {
			progress(done, len(records))
		}
	}

	var generation, loadedAt int64
	if err := tx.QueryRowContext(ctx, sqliteBumpVersion, time.Now().UnixNano()).Scan(&generation, &loadedAt); err != nil {
		return none, fmt.Errorf("bump dataset version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return none, fmt.Errorf("commit: %w", err)
	}
	return core.DatasetVersion{Generation: generation, LoadedAt: time.Unix(0, loadedAt).UTC()}, nil
}

// RecordReload stores one reload history entry.
func (s *SQLite) RecordReload(ctx context.Context, e core.ReloadHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reload_history (id, source, success, failure, message, records, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, e.Success, string(e.Failure), e.Message, e.Records, e.Duration.Milliseconds(), e.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert reload history: %w", err)
	}
	return nil
}

// ListReloads returns up to limit entries, newest first.
func (s *SQLite) ListReloads(ctx context.Context, limit int) ([]core.ReloadHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, success, failure, message, records, duration_ms, started_at
		FROM reload_history
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reload history: %w", err)
	}
	defer rows.Close()

	var entries []core.ReloadHistoryEntry
	for rows.Next() {
		var (
			e          core.ReloadHistoryEntry
			failure    string
			durationMS int64
			startedAt  int64
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Success, &failure, &e.Message, &e.Records, &durationMS, &startedAt); err != nil {
			return nil, fmt.Errorf("scan reload history: %w", err)
		}
		e.Failure = core.FailureKind(failure)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.StartedAt = time.Unix(0, startedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reload history: %w", err)
	}
	return entries, nil
}

// Ping checks the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/viability/internal/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS addresses (
	seq               BIGINT  NOT NULL,
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
	id          TEXT        PRIMARY KEY,
	source      TEXT        NOT NULL,
	success     BOOLEAN     NOT NULL,
	failure     TEXT        NOT NULL DEFAULT '',
	message     TEXT        NOT NULL DEFAULT '',
	records     INTEGER     NOT NULL DEFAULT 0,
	duration_ms BIGINT      NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reload_history_started_at ON reload_history (started_at DESC);

CREATE TABLE IF NOT EXISTS dataset_meta (
	id         INTEGER     PRIMARY KEY CHECK (id = 1),
	generation BIGINT      NOT NULL,
	loaded_at  TIMESTAMPTZ NOT NULL
);
`

const postgresBumpVersion = `
INSERT INTO dataset_meta (id, generation, loaded_at) VALUES (1, 1, now())
ON CONFLICT (id) DO UPDATE SET generation = dataset_meta.generation + 1, loaded_at = excluded.loaded_at
RETURNING generation, loaded_at`

// Postgres persists the dataset in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres builds a pool from cfg, verifies it, and applies the schema.
func OpenPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool and applies the schema.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, stmt := range addressIndexes {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Load returns every stored record in load order.
func (p *Postgres) Load(ctx context.Context) ([]core.AddressRecord, error) {
	rows, err := p.pool.Query(ctx, selectAddresses)
	if err != nil {
		return nil, fmt.Errorf("query addresses: %w", err)
	}
	defer rows.Close()

	var records []core.AddressRecord
	texts := make([]pgtype.Text, len(textColumns))
	dest := make([]any, 0, len(textColumns)+1)
	for i := range texts {
		dest = append(dest, &texts[i])
	}
	var hps int32
	dest = append(dest, &hps)

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		var rec core.AddressRecord
		for i, f := range textFields(&rec) {
			*f = fromPgText(texts[i])
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
func (p *Postgres) Version(ctx context.Context) (core.DatasetVersion, error) {
	var v core.DatasetVersion
	err := p.pool.QueryRow(ctx, "SELECT generation, loaded_at FROM dataset_meta WHERE id = 1").Scan(&v.Generation, &v.LoadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.DatasetVersion{}, nil
	}
	if err != nil {
		return core.DatasetVersion{}, fmt.Errorf("query dataset version: %w", err)
	}
	return v, nil
}

// Replace swaps the stored dataset in one transaction, copying in batches,
// and bumps its generation in the same transaction.
func (p *Postgres) Replace(ctx context.Context, records []core.AddressRecord, batchSize int, progress core.ProgressFunc) (core.DatasetVersion, error) {
	var v core.DatasetVersion
	if batchSize <= 0 {
		batchSize = core.DefaultBatchSize
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return v, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, "DELETE FROM addresses"); err != nil {
		return v, fmt.Errorf("delete addresses: %w", err)
	}

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		rows := make([][]any, 0, end-start)
		for i := start; i < end; i++ {
			rows = append(rows, copyRow(int64(i), &records[i]))
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"addresses"}, addressColumns, pgx.CopyFromRows(rows)); err != nil {
			return v, fmt.Errorf("copy batch at %d: %w", start, err)
		}
		if progress != nil {
			progress(end, len(records))
		}
	}

	if err := tx.QueryRow(ctx, postgresBumpVersion).Scan(&v.Generation, &v.LoadedAt); err != nil {
		return core.DatasetVersion{}, fmt.Errorf("bump dataset version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.DatasetVersion{}, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

func copyRow(seq int64, r *core.AddressRecord) []any {
	row := make([]any, 0, len(addressColumns))
	row = append(row, seq)
	for _, f := range textFields(r) {
		row = append(row, toPgText(*f))
	}
	return append(row, int32(r.TotalHPs))
}

// RecordReload stores one reload history entry.
func (p *Postgres) RecordReload(ctx context.Context, e core.ReloadHistoryEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO reload_history (id, source, success, failure, message, records, duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Source, e.Success, string(e.Failure), e.Message, e.Records, e.Duration.Milliseconds(), e.StartedAt)
	if err != nil {
		return fmt.Errorf("insert reload history: %w", err)
	}
	return nil
}

// ListReloads returns up to limit entries, newest first.
func (p *Postgres) ListReloads(ctx context.Context, limit int) ([]core.ReloadHistoryEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, source, success, failure, message, records, duration_ms, started_at
		FROM reload_history
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reload history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ReloadHistoryEntry, error) {
		var (
			e          core.ReloadHistoryEntry
			failure    string
			records    int32
			durationMS int64
		)
		err := row.Scan(&e.ID, &e.Source, &e.Success, &failure, &e.Message, &records, &durationMS, &e.StartedAt)
		e.Failure = core.FailureKind(failure)
		e.Records = int(records)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("read reload history: %w", err)
	}
	return entries, nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func toPgText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func fromPgText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

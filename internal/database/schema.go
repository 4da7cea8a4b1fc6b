// Package database persists the published address dataset and reload history.
//
// Two backends implement core.Persister: PostgreSQL through pgx, and SQLite
// through the pure-Go modernc driver. Both replace the dataset inside one
// transaction, so a failed publish leaves the previous rows in place.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/viability/internal/core"
)

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// textColumns are the nullable text columns, in record field order.
var textColumns = []string{
	"viabilidade_atual", "uf", "municipio", "localidade", "bairro", "logradouro",
	"cod_logradouro", "n_fachada", "comp_1", "comp_2", "comp_3", "regiao", "cep",
}

// addressColumns is the insert and select column order: seq, text columns, total_hps.
var addressColumns = append(append([]string{"seq"}, textColumns...), "total_hps")

var (
	selectAddresses = "SELECT " + strings.Join(addressColumns[1:], ", ") + " FROM addresses ORDER BY seq"

	addressIndexes = []string{
		"CREATE INDEX IF NOT EXISTS idx_addresses_cep_n_fachada ON addresses (cep, n_fachada)",
		"CREATE INDEX IF NOT EXISTS idx_addresses_cep ON addresses (cep)",
		"CREATE INDEX IF NOT EXISTS idx_addresses_cod_logradouro ON addresses (cod_logradouro)",
	}
)

// textFields returns pointers to the record's text fields in textColumns order.
func textFields(r *core.AddressRecord) []**string {
	return []**string{
		&r.Viability, &r.State, &r.Municipality, &r.Locality, &r.Neighborhood, &r.StreetName,
		&r.StreetCode, &r.BuildingNumber, &r.Complement1, &r.Complement2, &r.Complement3, &r.Region, &r.PostalCode,
	}
}

// Config selects and configures a backend.
type Config struct {
	Driver          string
	URL             string
	Path            string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open connects to the configured backend and applies the schema.
// DriverMemory returns a nil Persister: the dataset lives only in memory.
func Open(ctx context.Context, cfg Config) (core.Persister, error) {
	switch cfg.Driver {
	case DriverPostgres:
		p, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case DriverSQLite, "":
		s, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

package core

import (
	"context"
	"sort"
	"time"
)

// AddressRecord is one row of the viability dataset.
// Optional text fields are nil when the source cell was empty.
// JSON names follow the source workbook's column headers.
type AddressRecord struct {
	Viability      *string `json:"viabilidade_atual"`
	State          *string `json:"uf"`
	Municipality   *string `json:"municipio"`
	Locality       *string `json:"localidade"`
	Neighborhood   *string `json:"bairro"`
	StreetName     *string `json:"logradouro"`
	StreetCode     *string `json:"cod_logradouro"`
	BuildingNumber *string `json:"n_fachada"`
	Complement1    *string `json:"comp_1"`
	Complement2    *string `json:"comp_2"`
	Complement3    *string `json:"comp_3"`
	Region         *string `json:"regiao"`
	PostalCode     *string `json:"cep"`
	TotalHPs       int     `json:"total_hps"`
}

// Value dereferences an optional field, returning "" for nil.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NullBucket is the statistics key for records whose grouping field is absent.
const NullBucket = "(null)"

// Stats aggregates the published dataset.
type Stats struct {
	Total          int            `json:"total_records"`
	ByViability    map[string]int `json:"by_viability"`
	ByMunicipality map[string]int `json:"by_municipality"`
}

// BucketCount is a single group from Stats, used for ordered display.
type BucketCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Ranked returns the buckets of m ordered by count descending, then key.
func Ranked(m map[string]int) []BucketCount {
	out := make([]BucketCount, 0, len(m))
	for k, v := range m {
		out = append(out, BucketCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ProgressFunc is called after each batch is written during a publish.
type ProgressFunc func(done, total int)

// DatasetVersion identifies a persisted dataset. Generation increases by one
// on every Replace and is zero before the first one.
type DatasetVersion struct {
	Generation int64
	LoadedAt   time.Time
}

// Persister stores the published dataset so it survives restarts and is
// shared between processes using the same database.
// Replace must be atomic: on error the previously stored rows and version remain.
type Persister interface {
	Load(ctx context.Context) ([]AddressRecord, error)
	Version(ctx context.Context) (DatasetVersion, error)
	Replace(ctx context.Context, records []AddressRecord, batchSize int, progress ProgressFunc) (DatasetVersion, error)
	RecordReload(ctx context.Context, entry ReloadHistoryEntry) error
	ListReloads(ctx context.Context, limit int) ([]ReloadHistoryEntry, error)
	Close() error
}

// ReloadHistoryEntry is one finished reload or clear, successful or not.
type ReloadHistoryEntry struct {
	ID        string        `json:"id"`
	Source    string        `json:"source"`
	Success   bool          `json:"success"`
	Failure   FailureKind   `json:"failure,omitempty"`
	Message   string        `json:"message"`
	Records   int           `json:"records"`
	Duration  time.Duration `json:"duration_ns"`
	StartedAt time.Time     `json:"started_at"`
}

// QueryResult is the boundary response for a viability lookup.
type QueryResult struct {
	Found     bool           `json:"found"`
	Viability *string        `json:"viability"`
	Record    *AddressRecord `json:"record"`
	Message   string         `json:"message"`

	// Code is set when the query was rejected before lookup, e.g. VAL010.
	Code string `json:"code,omitempty"`
}

// StatsResult wraps Stats with the populated flag.
type StatsResult struct {
	Populated bool      `json:"populated"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
	Stats     Stats     `json:"stats"`
}

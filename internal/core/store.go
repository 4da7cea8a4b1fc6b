package core

// store.go holds the published dataset.
//
// The dataset lives in an immutable snapshot behind an atomic pointer.
// Readers load the pointer and never take a lock; a publish builds a complete
// new snapshot, persists it, and only then swaps the pointer. A reader sees
// either the old dataset or the new one, never a mix.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBatchSize is the number of records persisted per batch.
const DefaultBatchSize = 5000

type recordKey struct {
	postal string
	number string
}

type snapshot struct {
	records  []AddressRecord
	byKey    map[recordKey][]int
	byPostal map[string][]int
	byStreet map[string][]int
	stats    Stats
	loadedAt time.Time

	// generation is the persisted version this snapshot was built from.
	generation int64
}

// buildSnapshot indexes records. Bucket order follows load order, so the first
// entry of a bucket is the tie-break winner for duplicate keys.
func buildSnapshot(records []AddressRecord, loadedAt time.Time) *snapshot {
	snap := &snapshot{
		records:  records,
		byKey:    make(map[recordKey][]int, len(records)),
		byPostal: make(map[string][]int),
		byStreet: make(map[string][]int),
		stats: Stats{
			Total:          len(records),
			ByViability:    make(map[string]int),
			ByMunicipality: make(map[string]int),
		},
		loadedAt: loadedAt,
	}

	for i := range records {
		rec := &records[i]

		if rec.PostalCode != nil {
			postal := *rec.PostalCode
			snap.byPostal[postal] = append(snap.byPostal[postal], i)
			if rec.BuildingNumber != nil {
				k := recordKey{postal: postal, number: *rec.BuildingNumber}
				snap.byKey[k] = append(snap.byKey[k], i)
			}
		}
		if rec.StreetCode != nil {
			snap.byStreet[*rec.StreetCode] = append(snap.byStreet[*rec.StreetCode], i)
		}

		snap.stats.ByViability[bucketKey(rec.Viability)]++
		snap.stats.ByMunicipality[bucketKey(rec.Municipality)]++
	}
	return snap
}

func bucketKey(s *string) string {
	if s == nil {
		return NullBucket
	}
	return *s
}

// Store serves lookups from the current snapshot and publishes new ones.
type Store struct {
	current   atomic.Pointer[snapshot]
	persister Persister
	batchSize int

	// publishMu serializes writers. Readers never touch it.
	publishMu sync.Mutex
}

// NewStore creates an empty store. A nil persister keeps the dataset in
// memory only.
func NewStore(persister Persister, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	s := &Store{persister: persister, batchSize: batchSize}
	s.current.Store(buildSnapshot(nil, time.Time{}))
	return s
}

// Restore loads the persisted dataset into memory. Used once at startup.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	return s.restoreLocked(ctx)
}

// Refresh reloads the persisted dataset when another process has published a
// newer version. It reports whether the in-memory dataset changed. A refresh
// is skipped while this store is publishing; the next call picks it up.
func (s *Store) Refresh(ctx context.Context) (bool, error) {
	if s.persister == nil {
		return false, nil
	}

	v, err := s.persister.Version(ctx)
	if err != nil {
		return false, fmt.Errorf("read dataset version: %w", err)
	}
	if v.Generation == s.Generation() {
		return false, nil
	}

	if !s.publishMu.TryLock() {
		return false, nil
	}
	defer s.publishMu.Unlock()

	before := s.Generation()
	if _, err := s.restoreLocked(ctx); err != nil {
		return false, err
	}
	return s.Generation() != before, nil
}

// restoreLocked reads the version before the rows. A publish landing between
// the two reads leaves a stale generation, which only costs one extra refresh.
func (s *Store) restoreLocked(ctx context.Context) (int, error) {
	v, err := s.persister.Version(ctx)
	if err != nil {
		return 0, fmt.Errorf("read dataset version: %w", err)
	}
	records, err := s.persister.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore dataset: %w", err)
	}

	var loadedAt time.Time
	if len(records) > 0 {
		loadedAt = v.LoadedAt
	}
	next := buildSnapshot(records, loadedAt)
	next.generation = v.Generation
	s.current.Store(next)
	return len(records), nil
}

// ReplaceAll discards the current dataset and publishes records in its place.
// If persisting fails the current dataset stays published.
// The store takes ownership of records.
func (s *Store) ReplaceAll(ctx context.Context, records []AddressRecord, progress ProgressFunc) (int, error) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	var loadedAt time.Time
	if len(records) > 0 {
		loadedAt = time.Now()
	}
	next := buildSnapshot(records, loadedAt)

	if s.persister != nil {
		v, err := s.persister.Replace(ctx, records, s.batchSize, progress)
		if err != nil {
			return 0, fmt.Errorf("persist dataset: %w", err)
		}
		next.generation = v.Generation
		if len(records) > 0 && !v.LoadedAt.IsZero() {
			next.loadedAt = v.LoadedAt
		}
	} else if progress != nil {
		for done := 0; done < len(records); {
			done = min(done+s.batchSize, len(records))
			progress(done, len(records))
		}
	}

	s.current.Store(next)
	return len(records), nil
}

// Generation returns the persisted version of the published dataset.
func (s *Store) Generation() int64 {
	return s.current.Load().generation
}

// Lookup returns the first record loaded for (postal, number) and how many
// records share that key. Zero matches means a miss. Both inputs must already
// be normalized.
func (s *Store) Lookup(postal, number string) (AddressRecord, int) {
	snap := s.current.Load()
	idx := snap.byKey[recordKey{postal: postal, number: number}]
	if len(idx) == 0 {
		return AddressRecord{}, 0
	}
	return snap.records[idx[0]], len(idx)
}

// ByPostalCode returns every record for a normalized postal code.
func (s *Store) ByPostalCode(postal string) []AddressRecord {
	snap := s.current.Load()
	return snap.collect(snap.byPostal[postal])
}

// ByStreetCode returns every record carrying the street code.
func (s *Store) ByStreetCode(code string) []AddressRecord {
	snap := s.current.Load()
	return snap.collect(snap.byStreet[code])
}

func (snap *snapshot) collect(idx []int) []AddressRecord {
	out := make([]AddressRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, snap.records[i])
	}
	return out
}

// Stats returns aggregates of the published dataset. The maps are copies.
func (s *Store) Stats() Stats {
	snap := s.current.Load()
	return Stats{
		Total:          snap.stats.Total,
		ByViability:    copyCounts(snap.stats.ByViability),
		ByMunicipality: copyCounts(snap.stats.ByMunicipality),
	}
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsPopulated reports whether at least one record is published.
func (s *Store) IsPopulated() bool {
	return len(s.current.Load().records) > 0
}

// Len returns the number of published records.
func (s *Store) Len() int {
	return len(s.current.Load().records)
}

// LoadedAt returns when the current dataset was published. Zero when empty.
func (s *Store) LoadedAt() time.Time {
	return s.current.Load().loadedAt
}

package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/viability/internal/core"
)

func str(s string) *string { return &s }

func sampleRecords() []core.AddressRecord {
	return []core.AddressRecord{
		{Viability: str("VIAVEL"), Municipality: str("FORTALEZA"), StreetCode: str("13784"), BuildingNumber: str("144"), PostalCode: str("60876672"), TotalHPs: 2},
		{Viability: str("INVIAVEL"), Municipality: str("FORTALEZA"), BuildingNumber: str("144"), PostalCode: str("60876672")},
		{Viability: str("VIAVEL"), Complement1: str("APTO 1"), TotalHPs: 7},
	}
}

// replace stores records and returns the new version.
func replace(t *testing.T, p core.Persister, records []core.AddressRecord) core.DatasetVersion {
	t.Helper()
	v, err := p.Replace(context.Background(), records, 0, nil)
	require.NoError(t, err)
	return v
}

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "addresses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_ReplaceAndLoad(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	var progress []int
	_, err := s.Replace(ctx, sampleRecords(), 2, func(done, total int) {
		assert.Equal(t, 3, total)
		progress = append(progress, done)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, progress)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, sampleRecords(), got, "load order and nulls must round-trip")
}

func TestSQLite_ReplaceDiscardsPrevious(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	replace(t, s, sampleRecords())
	replace(t, s, sampleRecords()[:1])

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	replace(t, s, nil)
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_CancelledReplaceKeepsPrevious(t *testing.T) {
	s := openTestSQLite(t)
	replace(t, s, sampleRecords())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Replace(ctx, sampleRecords()[:1], 1, func(done, total int) { cancel() })
	require.Error(t, err)

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 3, "rolled back replace must keep the previous rows")

	v, err := s.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Generation, "rolled back replace must keep the previous version")
}

func TestSQLite_VersionAdvancesPerReplace(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, v.Generation, "fresh database has no version")
	assert.True(t, v.LoadedAt.IsZero())

	before := time.Now().Add(-time.Second)
	first := replace(t, s, sampleRecords())
	assert.Equal(t, int64(1), first.Generation)
	assert.True(t, first.LoadedAt.After(before))

	second := replace(t, s, nil)
	assert.Equal(t, int64(2), second.Generation, "a clear is a new version too")

	got, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestSQLite_SharedFileVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.db")
	ctx := context.Background()

	a, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer b.Close()

	written := replace(t, a, sampleRecords())
	seen, err := b.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, written, seen)

	got, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	replace(t, s, sampleRecords())
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSQLite_ReloadHistory(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordReload(ctx, core.ReloadHistoryEntry{
		ID: "a", Source: "first.xlsx", Success: true, Message: "ok", Records: 10,
		Duration: 1500 * time.Millisecond, StartedAt: base,
	}))
	require.NoError(t, s.RecordReload(ctx, core.ReloadHistoryEntry{
		ID: "b", Source: "second.xlsx", Failure: core.FailureEmpty, Message: "empty",
		StartedAt: base.Add(time.Hour),
	}))

	got, err := s.ListReloads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, core.FailureEmpty, got[0].Failure)
	assert.False(t, got[0].Success)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, 1500*time.Millisecond, got[1].Duration)
	assert.True(t, got[1].StartedAt.Equal(base))

	limited, err := s.ListReloads(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	p, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = Open(ctx, Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Close())

	_, err = Open(ctx, Config{Driver: "mysql"})
	assert.Error(t, err)
}

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/viability/internal/logging"
	"github.com/JonMunkholm/viability/internal/metrics"
)

// missLogLimit caps how many known building numbers are logged for a missed postal code.
const missLogLimit = 5

// ServiceConfig wires a Service. Only fields that are set are used.
type ServiceConfig struct {
	Persister    Persister
	BatchSize    int
	Lock         ReloadLock
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer
	HistoryLimit int
}

// Service is the entry point used by the HTTP layer and the CLI.
type Service struct {
	store    *Store
	reloader *Reloader
	metrics  *metrics.Metrics
}

// NewService builds the store and reloader.
func NewService(cfg ServiceConfig) *Service {
	store := NewStore(cfg.Persister, cfg.BatchSize)
	return &Service{
		store: store,
		reloader: NewReloader(store, ReloaderConfig{
			Guard:        NewReloadGuard(cfg.Lock),
			Metrics:      cfg.Metrics,
			Tracer:       cfg.Tracer,
			HistoryLimit: cfg.HistoryLimit,
		}),
		metrics: cfg.Metrics,
	}
}

// Query looks up viability for a raw postal code and building number.
// An invalid postal code returns a *ValidationError; a miss is a normal result
// with Found false.
func (s *Service) Query(ctx context.Context, rawPostal, rawNumber string) (QueryResult, error) {
	if !ValidatePostalCode(rawPostal) {
		s.metrics.IncLookup(metrics.LookupInvalid)
		return QueryResult{}, &ValidationError{
			Field:   "cep",
			Value:   rawPostal,
			Message: fmt.Sprintf("must contain exactly %d digits", PostalCodeLength),
			Err:     ErrInvalidPostalCode,
		}
	}

	postal := NormalizePostalCode(rawPostal)
	number := NormalizeBuildingNumber(rawNumber)

	rec, matches := s.store.Lookup(postal, number)
	if matches == 0 {
		s.metrics.IncLookup(metrics.LookupNotFound)
		s.logMiss(ctx, postal, number)
		return QueryResult{
			Message: fmt.Sprintf("No record for CEP %s, number %s", FormatPostalCode(postal), number),
		}, nil
	}

	s.metrics.IncLookup(metrics.LookupFound)
	if matches > 1 {
		logging.FromContext(ctx).Debug("duplicate address rows, first loaded wins",
			"cep", postal, "numero", number, "matches", matches)
	}
	return QueryResult{
		Found:     true,
		Viability: rec.Viability,
		Record:    &rec,
		Message:   "Address found",
	}, nil
}

func (s *Service) logMiss(ctx context.Context, postal, number string) {
	log := logging.FromContext(ctx)
	candidates := s.store.ByPostalCode(postal)
	if len(candidates) == 0 {
		log.Debug("lookup miss: unknown postal code", "cep", postal, "numero", number)
		return
	}

	known := make([]string, 0, missLogLimit)
	for _, c := range candidates {
		if len(known) == missLogLimit {
			break
		}
		known = append(known, Value(c.BuildingNumber))
	}
	log.Debug("lookup miss: postal code known, number not found",
		"cep", postal, "numero", number, "records_for_cep", len(candidates), "sample_numbers", known)
}

// ByStreetCode returns every record carrying the street code.
func (s *Service) ByStreetCode(code string) []AddressRecord {
	return s.store.ByStreetCode(strings.TrimSpace(code))
}

// Reload replaces the dataset from src.
func (s *Service) Reload(ctx context.Context, src Source) ReloadResult {
	return s.reloader.Reload(ctx, src)
}

// ReloadFile replaces the dataset from the workbook at path.
func (s *Service) ReloadFile(ctx context.Context, path string) ReloadResult {
	return s.reloader.Reload(ctx, FileSource(path))
}

// ClearAll removes every record.
func (s *Service) ClearAll(ctx context.Context) ReloadResult {
	return s.reloader.Clear(ctx)
}

// Stats returns dataset aggregates.
func (s *Service) Stats() StatsResult {
	return StatsResult{
		Populated: s.store.IsPopulated(),
		LoadedAt:  s.store.LoadedAt(),
		Stats:     s.store.Stats(),
	}
}

// IsPopulated reports whether any record is published.
func (s *Service) IsPopulated() bool {
	return s.store.IsPopulated()
}

// ReloadStatus returns the reloader's current phase and progress.
func (s *Service) ReloadStatus() ReloadStatus {
	return s.reloader.Status()
}

// ReloadBusy reports whether a reload or clear is running in this process.
func (s *Service) ReloadBusy() bool {
	return s.reloader.Busy()
}

// ReloadHistory returns recent reloads, newest first.
func (s *Service) ReloadHistory(ctx context.Context, limit int) []ReloadHistoryEntry {
	return s.reloader.History(ctx, limit)
}

// Restore loads the persisted dataset. Call once before serving.
func (s *Service) Restore(ctx context.Context) (int, error) {
	n, err := s.store.Restore(ctx)
	if err == nil {
		s.metrics.SetRecordsPublished(n)
	}
	return n, err
}

// Refresh loads a dataset published by another process sharing the database.
// It reports whether the served dataset changed.
func (s *Service) Refresh(ctx context.Context) (bool, error) {
	changed, err := s.store.Refresh(ctx)
	if err != nil {
		return false, err
	}
	if changed {
		s.metrics.SetRecordsPublished(s.store.Len())
		logging.FromContext(ctx).Info("dataset refreshed from database",
			"generation", s.store.Generation(), "records", s.store.Len())
	}
	return changed, nil
}

// WatchDataset calls Refresh every interval until ctx is done. Refresh errors
// are logged and retried on the next tick. A non-positive interval returns at once.
func (s *Service) WatchDataset(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				logging.FromContext(ctx).Warn("dataset refresh failed", "error", err)
			}
		}
	}
}

// Autoload reloads from path when the store is empty and the file exists.
// It reports whether a reload was attempted.
func (s *Service) Autoload(ctx context.Context, path string) (ReloadResult, bool) {
	log := logging.FromContext(ctx)
	if path == "" || s.store.IsPopulated() {
		return ReloadResult{}, false
	}
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("autoload source unreadable", "path", path, "error", err)
		} else {
			log.Info("no autoload source, starting empty", "path", path)
		}
		return ReloadResult{}, false
	}

	log.Info("store empty, loading workbook", "path", path)
	return s.ReloadFile(ctx, path), true
}

// WaitForDrain blocks until a running reload finishes or ctx is done.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.reloader.WaitForDrain(ctx)
}

package core

// reload.go orchestrates replacing the dataset from a workbook.
//
// Phases: idle -> staging -> swapping -> idle. Any failure passes through
// failed and returns to idle with the previous dataset still published.
// Staging parses the whole workbook into memory before anything is written,
// so a parse error or an empty workbook never touches published data.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/viability/internal/logging"
	"github.com/JonMunkholm/viability/internal/metrics"
)

// ReloadPhase is the reloader's state.
type ReloadPhase string

const (
	PhaseIdle     ReloadPhase = "idle"
	PhaseStaging  ReloadPhase = "staging"
	PhaseSwapping ReloadPhase = "swapping"
	PhaseFailed   ReloadPhase = "failed"
)

// ClearSource is the source name recorded for ClearAll.
const ClearSource = "(clear)"

// DefaultHistoryLimit is how many reloads are kept when history is not persisted.
const DefaultHistoryLimit = 50

// stagingCheckInterval is how often staging checks ctx and updates progress.
const stagingCheckInterval = 1000

// historyWriteTimeout bounds persisting one history entry.
const historyWriteTimeout = 5 * time.Second

// ReloadResult is the outcome of a reload or clear.
type ReloadResult struct {
	ReloadID        string      `json:"reload_id"`
	Source          string      `json:"source"`
	Success         bool        `json:"success"`
	Message         string      `json:"message"`
	RecordsInserted int         `json:"records_inserted"`
	ElapsedSeconds  float64     `json:"elapsed_seconds"`
	Failure         FailureKind `json:"failure,omitempty"`
	Err             error       `json:"-"`
}

// ReloadStatus is a point-in-time view of the reloader.
type ReloadStatus struct {
	Phase     ReloadPhase   `json:"phase"`
	ReloadID  string        `json:"reload_id,omitempty"`
	Source    string        `json:"source,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Staged    int           `json:"staged"`
	Published int           `json:"published"`
	Total     int           `json:"total"`
	Last      *ReloadResult `json:"last,omitempty"`
}

// Source is a workbook that can be opened for one reload.
type Source interface {
	Name() string
	Open() (*Workbook, error)
}

type fileSource struct{ path string }

// FileSource reads the workbook at path.
func FileSource(path string) Source { return fileSource{path: path} }

func (s fileSource) Name() string { return filepath.Base(s.path) }

func (s fileSource) Open() (*Workbook, error) {
	if _, err := os.Stat(s.path); err != nil {
		return nil, &SourceParseError{Reason: "cannot open workbook", Err: err}
	}
	return OpenWorkbookFile(s.path)
}

// ReloaderConfig configures a Reloader. Zero values are usable.
type ReloaderConfig struct {
	Guard        *ReloadGuard
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer
	HistoryLimit int
}

// Reloader runs reloads and clears against a Store.
type Reloader struct {
	store   *Store
	guard   *ReloadGuard
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu           sync.RWMutex
	status       ReloadStatus
	history      []ReloadHistoryEntry
	historyLimit int
}

// NewReloader creates a reloader for store.
func NewReloader(store *Store, cfg ReloaderConfig) *Reloader {
	if cfg.Guard == nil {
		cfg.Guard = NewReloadGuard(nil)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/JonMunkholm/viability/internal/core")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Reloader{
		store:        store,
		guard:        cfg.Guard,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		status:       ReloadStatus{Phase: PhaseIdle},
		historyLimit: cfg.HistoryLimit,
	}
}

// Reload replaces the dataset with the records from src. It never panics and
// never leaves a partially published dataset; failures are reported in the
// result and the previous dataset stays live.
func (r *Reloader) Reload(ctx context.Context, src Source) ReloadResult {
	return r.run(ctx, src.Name(), func(ctx context.Context, log *slog.Logger) (int, error) {
		records, err := r.stage(ctx, src, log)
		if err != nil {
			return 0, err
		}
		if len(records) == 0 {
			return 0, ErrEmptySource
		}

		r.setPhase(PhaseSwapping, len(records))
		return r.store.ReplaceAll(ctx, records, func(done, total int) {
			r.setPublished(done)
			log.Debug("batch published", "done", done, "total", total)
		})
	})
}

// Clear removes every record. It runs under the same single-writer guard as
// Reload.
func (r *Reloader) Clear(ctx context.Context) ReloadResult {
	return r.run(ctx, ClearSource, func(ctx context.Context, log *slog.Logger) (int, error) {
		r.setPhase(PhaseSwapping, 0)
		return r.store.ReplaceAll(ctx, nil, nil)
	})
}

func (r *Reloader) run(ctx context.Context, source string, work func(context.Context, *slog.Logger) (int, error)) (result ReloadResult) {
	start := time.Now()
	result = ReloadResult{ReloadID: uuid.NewString(), Source: source}
	log := logging.ForReload(ctx, result.ReloadID, source)

	release, err := r.guard.TryAcquire(ctx)
	if err != nil {
		log.Warn("reload rejected", "error", err)
		result = completeResult(result, 0, err, start)
		r.metrics.ObserveReload(string(result.Failure), start)
		return result
	}
	defer release()

	ctx, span := r.tracer.Start(ctx, "reload", trace.WithAttributes(
		attribute.String("reload.id", result.ReloadID),
		attribute.String("reload.source", source),
	))
	defer span.End()

	r.begin(result.ReloadID, source, start)
	log.Info("reload started")

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic during reload", "panic", p, "stack", string(debug.Stack()))
			result = r.finish(ctx, log, span, result, 0, fmt.Errorf("%w: %v", ErrReloadPanicked, p), start)
		}
	}()

	n, err := work(ctx, log)
	return r.finish(ctx, log, span, result, n, err, start)
}

func (r *Reloader) stage(ctx context.Context, src Source, log *slog.Logger) ([]AddressRecord, error) {
	r.setPhase(PhaseStaging, 0)

	wb, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	var records []AddressRecord
	for rec, err := range wb.Records() {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		if len(records)%stagingCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r.setStaged(len(records))
		}
	}
	r.setStaged(len(records))

	log.Info("staging complete", "records", len(records), "sheets", wb.SheetCounts())
	return records, nil
}

func completeResult(result ReloadResult, n int, err error, start time.Time) ReloadResult {
	result.ElapsedSeconds = time.Since(start).Seconds()
	if err != nil {
		result.Failure = classifyFailure(err)
		result.Message = FormatUserError(err)
		result.Err = err
		return result
	}
	result.Success = true
	result.RecordsInserted = n
	if result.Source == ClearSource {
		result.Message = "All records removed"
	} else {
		result.Message = fmt.Sprintf("Loaded %d records from %s", n, result.Source)
	}
	return result
}

func (r *Reloader) finish(ctx context.Context, log *slog.Logger, span trace.Span, result ReloadResult, n int, err error, start time.Time) ReloadResult {
	result = completeResult(result, n, err, start)

	outcome := "success"
	if err != nil {
		outcome = string(result.Failure)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(result.Failure))
		r.setPhase(PhaseFailed, 0)
		log.Error("reload failed", "failure", result.Failure, "error", err, "elapsed_s", result.ElapsedSeconds)
	} else {
		span.SetAttributes(attribute.Int("reload.records", n))
		log.Info("reload complete", "records", n, "elapsed_s", result.ElapsedSeconds)
	}

	r.metrics.ObserveReload(outcome, start)
	r.metrics.SetRecordsPublished(r.store.Len())

	r.mu.Lock()
	last := result
	r.status = ReloadStatus{Phase: PhaseIdle, Last: &last}
	r.mu.Unlock()

	r.recordHistory(ctx, log, ReloadHistoryEntry{
		ID:        result.ReloadID,
		Source:    result.Source,
		Success:   result.Success,
		Failure:   result.Failure,
		Message:   result.Message,
		Records:   result.RecordsInserted,
		Duration:  time.Since(start),
		StartedAt: start.UTC(),
	})
	return result
}

func (r *Reloader) recordHistory(ctx context.Context, log *slog.Logger, entry ReloadHistoryEntry) {
	r.mu.Lock()
	r.history = append(r.history, entry)
	if len(r.history) > r.historyLimit {
		r.history = r.history[len(r.history)-r.historyLimit:]
	}
	r.mu.Unlock()

	if r.store.persister == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := r.store.persister.RecordReload(writeCtx, entry); err != nil {
		log.Warn("persist reload history", "error", err)
	}
}

// History returns up to limit recent reloads, newest first. Persisted history
// is preferred; the in-memory log is used without a persister or when the
// read fails.
func (r *Reloader) History(ctx context.Context, limit int) []ReloadHistoryEntry {
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}

	if r.store.persister != nil {
		entries, err := r.store.persister.ListReloads(ctx, limit)
		if err == nil {
			return entries
		}
		logging.FromContext(ctx).Warn("list reload history", "error", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ReloadHistoryEntry, 0, min(limit, len(r.history)))
	for i := len(r.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.history[i])
	}
	return out
}

// Status returns the current phase and progress.
func (r *Reloader) Status() ReloadStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Busy reports whether a reload or clear is running in this process.
func (r *Reloader) Busy() bool {
	return r.guard.Busy()
}

// WaitForDrain blocks until any running reload finishes or ctx is done.
func (r *Reloader) WaitForDrain(ctx context.Context) error {
	return r.guard.WaitForDrain(ctx)
}

func (r *Reloader) begin(id, source string, start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = ReloadStatus{
		Phase:     PhaseIdle,
		ReloadID:  id,
		Source:    source,
		StartedAt: &start,
		Last:      r.status.Last,
	}
}

func (r *Reloader) setPhase(phase ReloadPhase, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Phase = phase
	if total > 0 {
		r.status.Total = total
	}
}

func (r *Reloader) setStaged(n int) {
	r.mu.Lock()
	r.status.Staged = n
	r.mu.Unlock()
}

func (r *Reloader) setPublished(n int) {
	r.mu.Lock()
	r.status.Published = n
	r.mu.Unlock()
}

package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidPostalCode marks a query whose postal code is not eight digits.
	ErrInvalidPostalCode = errors.New("invalid postal code")

	// ErrNoSheets is returned when a workbook opens but holds no sheets.
	ErrNoSheets = errors.New("workbook has no sheets")

	// ErrUnmappableColumns is returned when a header row has fewer than ColumnCount columns.
	ErrUnmappableColumns = errors.New("unmappable columns")

	// ErrEmptySource is returned when a source parses but yields no qualifying rows.
	// The reload fails so a malformed file cannot wipe a good dataset.
	ErrEmptySource = errors.New("source yielded no qualifying rows")

	// ErrWorkbookConsumed is returned by a second pass over a workbook's records.
	ErrWorkbookConsumed = errors.New("workbook records already consumed")

	// ErrReloadInProgress is returned when a reload or clear is already running.
	ErrReloadInProgress = errors.New("reload already in progress")

	// ErrReloadLockUnavailable is returned when the shared reload lock cannot be reached.
	ErrReloadLockUnavailable = errors.New("reload lock unavailable")

	// ErrReloadPanicked wraps a panic recovered inside a reload.
	ErrReloadPanicked = errors.New("reload panicked")

	// ErrUnsupportedFile is returned for uploads that are not .xlsx workbooks.
	ErrUnsupportedFile = errors.New("unsupported file type: only .xlsx workbooks are accepted")
)

// ValidationError describes input rejected at the query boundary.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SourceParseError reports why a workbook could not be turned into records.
// Sheet and Row are zero when the failure is not tied to a location.
type SourceParseError struct {
	Sheet  string
	Row    int
	Reason string
	Err    error
}

func (e *SourceParseError) Error() string {
	msg := "source parse error"
	if e.Sheet != "" {
		msg += fmt.Sprintf(" in sheet %q", e.Sheet)
	}
	if e.Row > 0 {
		msg += fmt.Sprintf(" row %d", e.Row)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceParseError) Unwrap() error { return e.Err }

// FailureKind classifies a failed reload for results, metrics, and history.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureSource     FailureKind = "source_parse"
	FailureEmpty      FailureKind = "empty_result"
	FailureConcurrent FailureKind = "concurrent_reload"
	FailureLock       FailureKind = "lock_unavailable"
	FailurePublish    FailureKind = "publish"
	FailureTimeout    FailureKind = "timeout"
	FailureCanceled   FailureKind = "canceled"
	FailureInternal   FailureKind = "internal"
)

// classifyFailure maps a reload error onto its FailureKind.
func classifyFailure(err error) FailureKind {
	var parseErr *SourceParseError
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrReloadInProgress):
		return FailureConcurrent
	case errors.Is(err, ErrReloadLockUnavailable):
		return FailureLock
	case errors.Is(err, ErrReloadPanicked):
		return FailureInternal
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, ErrEmptySource):
		return FailureEmpty
	case errors.As(err, &parseErr):
		return FailureSource
	default:
		return FailurePublish
	}
}

package web

// errors.go turns errors into JSON responses. The technical error is logged
// with the request ID; the client gets the mapped message, action, and code.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/viability/internal/core"
	"github.com/JonMunkholm/viability/internal/logging"
)

var (
	errMissingParam = errors.New("missing parameter: cep and numero are required")
	errNoFile       = errors.New("no file provided")
	errFileTooLarge = errors.New("file too large")
	errRateLimited  = errors.New("rate limit exceeded")
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// reloadErrorResponse adds the reload's identity to a failed reload or clear.
type reloadErrorResponse struct {
	ErrorResponse
	ReloadID string           `json:"reload_id"`
	Failure  core.FailureKind `json:"failure"`
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)
	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)
	respondErrorJSON(w, msg, status)
}

func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(toErrorResponse(msg))
}

func toErrorResponse(msg core.UserMessage) ErrorResponse {
	return ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

func (s *Server) respondReloadFailure(w http.ResponseWriter, r *http.Request, result core.ReloadResult) {
	status := reloadFailureStatus(result.Failure)
	msg := core.MapError(result.Err)
	logging.ForReload(r.Context(), result.ReloadID, result.Source).Warn("reload request failed",
		"status", status,
		"failure", result.Failure,
		"code", msg.Code,
	)
	writeJSON(w, status, reloadErrorResponse{
		ErrorResponse: toErrorResponse(msg),
		ReloadID:      result.ReloadID,
		Failure:       result.Failure,
	})
}

func reloadFailureStatus(kind core.FailureKind) int {
	switch kind {
	case core.FailureConcurrent:
		return http.StatusConflict
	case core.FailureLock, core.FailureCanceled:
		return http.StatusServiceUnavailable
	case core.FailureTimeout:
		return http.StatusGatewayTimeout
	case core.FailureSource, core.FailureEmpty:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/viability/internal/core"
	"github.com/JonMunkholm/viability/internal/logging"
	"github.com/JonMunkholm/viability/internal/web/templates"
)

// multipartMemory is how much of an upload is buffered before spilling to disk.
const multipartMemory = 32 << 20

// healthPingTimeout bounds the backend check in /health.
const healthPingTimeout = 2 * time.Second

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	view := templates.StatusView{
		Stats:  s.service.Stats(),
		Reload: s.service.ReloadStatus(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.StatusPage(view).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render status page", "error", err)
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string           `json:"status"`
	Database     string           `json:"database"`
	TotalRecords int              `json:"total_records"`
	Populated    bool             `json:"populated"`
	LoadedAt     *time.Time       `json:"loaded_at,omitempty"`
	Stats        core.Stats       `json:"stats"`
	Reload       core.ReloadPhase `json:"reload"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.service.Stats()
	resp := HealthResponse{
		Status:       "healthy",
		Database:     "empty",
		TotalRecords: stats.Stats.Total,
		Populated:    stats.Populated,
		Stats:        stats.Stats,
		Reload:       s.service.ReloadStatus().Phase,
	}
	if stats.Populated {
		resp.Database = "connected"
		loadedAt := stats.LoadedAt
		resp.LoadedAt = &loadedAt
	}

	status := http.StatusOK
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health: backend unreachable", "error", err)
			resp.Status = "unhealthy"
			resp.Database = "error"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cep, numero := q.Get("cep"), q.Get("numero")
	if strings.TrimSpace(cep) == "" || strings.TrimSpace(numero) == "" {
		s.respondError(w, r, errMissingParam, http.StatusBadRequest)
		return
	}

	result, err := s.service.Query(r.Context(), cep, numero)
	if err != nil {
		var vErr *core.ValidationError
		if !errors.As(err, &vErr) {
			s.respondError(w, r, err, http.StatusInternalServerError)
			return
		}
		// A malformed CEP is a negative answer with a reason, not a fault.
		msg := core.MapError(err)
		logging.FromContext(r.Context()).Debug("query rejected", "field", vErr.Field, "value", vErr.Value)
		result = core.QueryResult{Message: msg.Message, Code: msg.Code}
	}
	writeJSON(w, http.StatusOK, result)
}

// uploadSource is a saved upload reported under the client's file name.
type uploadSource struct {
	name string
	path string
}

func (u uploadSource) Name() string { return u.name }

func (u uploadSource) Open() (*core.Workbook, error) {
	return core.OpenWorkbookFile(u.path)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	// Fail before reading a large body when the answer is already known.
	if s.service.ReloadBusy() {
		s.respondError(w, r, core.ErrReloadInProgress, http.StatusConflict)
		return
	}

	if r.ContentLength > s.cfg.Reload.MaxFileSize {
		s.respondError(w, r, errFileTooLarge, http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Reload.MaxFileSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, errFileTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		s.respondError(w, r, core.ErrUnsupportedFile, http.StatusBadRequest)
		return
	}

	path, err := s.saveUpload(file)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	defer os.Remove(path)

	// A client disconnect must not abort a publish that is already underway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.Reload.Timeout)
	defer cancel()

	result := s.service.Reload(ctx, uploadSource{name: name, path: path})
	if !result.Success {
		s.respondReloadFailure(w, r, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// saveUpload copies an upload into the upload directory and returns its path.
func (s *Server) saveUpload(src io.Reader) (string, error) {
	if err := os.MkdirAll(s.cfg.Reload.UploadDir, 0o755); err != nil {
		return "", err
	}
	dst, err := os.CreateTemp(s.cfg.Reload.UploadDir, "upload-*.xlsx")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.Reload.Timeout)
	defer cancel()

	logging.FromContext(r.Context()).Warn("clearing all records")
	result := s.service.ClearAll(ctx)
	if !result.Success {
		s.respondReloadFailure(w, r, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReloadStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ReloadStatus())
}

func (s *Server) handleReloadHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", s.cfg.Reload.HistoryLimit)
	writeJSON(w, http.StatusOK, map[string]any{
		"reloads": s.service.ReloadHistory(r.Context(), limit),
	})
}

// StreetResponse is the body of GET /api/streets/{code}.
type StreetResponse struct {
	Code    string               `json:"cod_logradouro"`
	Count   int                  `json:"count"`
	Records []core.AddressRecord `json:"records"`
}

func (s *Server) handleStreet(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	records := s.service.ByStreetCode(code)
	if records == nil {
		records = []core.AddressRecord{}
	}
	writeJSON(w, http.StatusOK, StreetResponse{Code: code, Count: len(records), Records: records})
}

// parseIntParam parses a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

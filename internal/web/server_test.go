package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/viability/internal/config"
	"github.com/JonMunkholm/viability/internal/core"
	"github.com/JonMunkholm/viability/internal/metrics"
	"github.com/JonMunkholm/viability/internal/testutil"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func testConfig(t *testing.T, overrides ...string) *config.Config {
	t.Helper()
	vars := map[string]string{
		"DB_DRIVER":         "memory",
		"RELOAD_UPLOAD_DIR": t.TempDir(),
	}
	for i := 0; i+1 < len(overrides); i += 2 {
		vars[overrides[i]] = overrides[i+1]
	}
	cfg, err := config.LoadFrom(func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	svc := core.NewService(core.ServiceConfig{Metrics: metrics.New(reg)})
	s := NewServer(svc, cfg, append([]Option{WithGatherer(reg)}, opts...)...)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, method, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, "/api/reload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func loadFortaleza(t *testing.T, s *Server) {
	t.Helper()
	rec := do(t, s, uploadRequest(t, http.MethodPost, "addresses.xlsx", testutil.Fortaleza(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth_Empty(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "empty", resp.Database)
	assert.False(t, resp.Populated)
	assert.Zero(t, resp.TotalRecords)
	assert.Nil(t, resp.LoadedAt)
}

func TestHealth_BackendDown(t *testing.T) {
	s := newTestServer(t, testConfig(t), WithPinger(fakePinger{err: errors.New("connection refused")}))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "error", resp.Database)
}

func TestReloadThenQuery(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := do(t, s, uploadRequest(t, http.MethodPost, "addresses.xlsx", testutil.Fortaleza(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[core.ReloadResult](t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RecordsInserted)
	assert.Equal(t, "addresses.xlsx", result.Source)
	assert.NotEmpty(t, result.ReloadID)

	t.Run("found", func(t *testing.T) {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/query?cep=60876-672&numero=144", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[core.QueryResult](t, rec)
		assert.True(t, res.Found)
		assert.Equal(t, "VIAVEL", core.Value(res.Viability))
	})

	t.Run("miss", func(t *testing.T) {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/query?cep=60876672&numero=1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[core.QueryResult](t, rec)
		assert.False(t, res.Found)
		assert.Nil(t, res.Record)
	})

	t.Run("invalid postal code", func(t *testing.T) {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/query?cep=123&numero=1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[core.QueryResult](t, rec)
		assert.False(t, res.Found)
		assert.Equal(t, "VAL010", res.Code)
		assert.Contains(t, res.Message, "8 digits")
	})

	t.Run("missing parameter", func(t *testing.T) {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/query?cep=60876672", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VAL011", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("health reports data", func(t *testing.T) {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "connected", resp.Database)
		assert.Equal(t, 2, resp.TotalRecords)
		assert.Equal(t, 2, resp.Stats.ByMunicipality["FORTALEZA"])
		assert.NotNil(t, resp.LoadedAt)
	})
}

func TestReload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		cfg      []string
		filename string
		data     []byte
		status   int
		code     string
	}{
		{"wrong extension", nil, "addresses.csv", []byte("a,b"), http.StatusBadRequest, "FILE002"},
		{"no file", nil, "", nil, http.StatusBadRequest, "FILE004"},
		{"too large", []string{"RELOAD_MAX_FILE_SIZE", "64"}, "addresses.xlsx", bytes.Repeat([]byte("x"), 1024), http.StatusRequestEntityTooLarge, "FILE001"},
		{"not a workbook", nil, "addresses.xlsx", []byte("plain text"), http.StatusUnprocessableEntity, "SRC001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, testConfig(t, tt.cfg...))
			rec := do(t, s, uploadRequest(t, http.MethodPost, tt.filename, tt.data))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestReload_EmptyWorkbookKeepsData(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	loadFortaleza(t, s)

	empty := testutil.BuildWorkbook(t, testutil.StandardSheet("CE"))
	rec := do(t, s, uploadRequest(t, http.MethodPost, "empty.xlsx", empty))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp reloadErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SRC004", resp.Code)
	assert.Equal(t, core.FailureEmpty, resp.Failure)
	assert.NotEmpty(t, resp.ReloadID)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/query?cep=60876672&numero=144", nil))
	assert.True(t, decode[core.QueryResult](t, rec).Found)
}

func TestClear(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	loadFortaleza(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodDelete, "/api/data", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[core.ReloadResult](t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, core.ClearSource, result.Source)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.False(t, decode[HealthResponse](t, rec).Populated)
}

func TestStreetsAndHistory(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	loadFortaleza(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/streets/13784", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	street := decode[StreetResponse](t, rec)
	assert.Equal(t, "13784", street.Code)
	require.Equal(t, 1, street.Count)
	assert.Equal(t, "RUA A", core.Value(street.Records[0].StreetName))

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/streets/99999", nil))
	assert.Equal(t, 0, decode[StreetResponse](t, rec).Count)
	assert.Contains(t, rec.Body.String(), `"records":[]`)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/reloads?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[map[string][]core.ReloadHistoryEntry](t, rec)
	require.Len(t, history["reloads"], 1)
	assert.True(t, history["reloads"][0].Success)
	assert.Equal(t, 2, history["reloads"][0].Records)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/reload/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[core.ReloadStatus](t, rec)
	assert.Equal(t, core.PhaseIdle, status.Phase)
	require.NotNil(t, status.Last)
	assert.True(t, status.Last.Success)
}

func TestStatusPageAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No data loaded")

	loadFortaleza(t, s)
	do(t, s, httptest.NewRequest(http.MethodGet, "/api/query?cep=60876672&numero=144", nil))

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "2 records loaded")
	assert.Contains(t, rec.Body.String(), "FORTALEZA")

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "viability_lookups_total")
}

func TestMiddleware_HeadersAndCORS(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := do(t, s, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, testConfig(t, "RATE_LIMIT_REQUESTS_PER_MINUTE", "2"))

	for i := 0; i < 2; i++ {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("1.1.1.1"))
	assert.False(t, rl.allow("1.1.1.1"))
	assert.True(t, rl.allow("2.2.2.2"), "limits are per IP")

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.allow("1.1.1.1"))
}

func TestReloadFailureStatus(t *testing.T) {
	tests := []struct {
		kind core.FailureKind
		want int
	}{
		{core.FailureConcurrent, http.StatusConflict},
		{core.FailureLock, http.StatusServiceUnavailable},
		{core.FailureSource, http.StatusUnprocessableEntity},
		{core.FailureEmpty, http.StatusUnprocessableEntity},
		{core.FailurePublish, http.StatusInternalServerError},
		{core.FailureTimeout, http.StatusGatewayTimeout},
		{core.FailureCanceled, http.StatusServiceUnavailable},
		{core.FailureInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := reloadFailureStatus(tt.kind); got != tt.want {
			t.Errorf("reloadFailureStatus(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=5", 5},
		{"limit=0", 50},
		{"limit=abc", 50},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/reloads?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 50); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

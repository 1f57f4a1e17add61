package server

import (
	"benritz/dtd/internal/calc"
	"benritz/dtd/internal/config"
	"benritz/dtd/internal/merton"
	"benritz/dtd/internal/metrics"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const firmsCSV = `Market Capitalization,Short Term Debt,Long Term Debt,Other Liability,Daily Risk-Free Rate
100,30,40,10,0.0001
50,,20,0,0.00008
`

func newTestServer(t *testing.T, mutate ...func(*config.ServerConfig)) (*Server, *prometheus.Registry) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	c, err := calc.New(merton.DefaultParams(), calc.WithLogger(logger), calc.WithRecorder(m))
	require.NoError(t, err)

	cfg := config.Default().Server
	cfg.RateLimit.Enabled = false
	for _, fn := range mutate {
		fn(&cfg)
	}

	return New(c, cfg, logger, reg), reg
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if filename == "" {
		require.NoError(t, mw.WriteField(field, ""))
	} else {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUploadPage(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<input class="form-control" type="file" name="file" id="formFile">`)
	assert.NotContains(t, rec.Body.String(), "alert")
}

func TestUploadForm(t *testing.T) {
	s, reg := newTestServer(t)

	body, ct := multipartBody(t, "file", "firms.csv", firmsCSV)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)

	rec := do(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, "File processed successfully!")
	assert.Contains(t, out, "alert-success")
	assert.Contains(t, out, `<table class="table table-striped table-bordered data">`)
	assert.Contains(t, out, "<th>Error</th>")

	mrec := do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, mrec.Body.String(), `dtd_rows_total{outcome="failed"} 1`)
	assert.Contains(t, mrec.Body.String(), "dtd_runs_total 1")

	n, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, n)
}

func TestUploadForm_Messages(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name     string
		field    string
		filename string
		content  string
		want     string
	}{
		{"no file part", "other", "firms.csv", firmsCSV, "No file part in request."},
		{"no file selected", "file", "", "", "No file selected."},
		{"unsupported file", "file", "firms.pdf", "%PDF", "Error processing file: unsupported format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.field, tt.filename, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/", body)
			req.Header.Set("Content-Type", ct)

			rec := do(s, req)
			assert.NotEqual(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Contains(t, rec.Body.String(), "alert-danger")
		})
	}
}

func TestUploadForm_NotMultipart(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := do(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No file part in request.")
}

func TestUploadForm_TooLarge(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.ServerConfig) { c.MaxUploadBytes = 64 })

	body, ct := multipartBody(t, "file", "firms.csv", strings.Repeat(firmsCSV, 10))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)

	rec := do(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error processing file")
}

func TestCalculate(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dtd", strings.NewReader(`{"rows":[
		{"Market Capitalization":100,"Short Term Debt":30,"Long Term Debt":40,"Other Liability":10,"Daily Risk-Free Rate":0.0001},
		{"Market Capitalization":"50","Short Term Debt":"20","Long Term Debt":20,"Other Liability":0,"Daily Risk-Free Rate":0.00008},
		{"Market Capitalization":100,"Long Term Debt":40,"Other Liability":10,"Daily Risk-Free Rate":0.0001}
	]}`))
	req.Header.Set("Content-Type", "application/json")

	rec := do(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CalculateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, 3, resp.Rows)
	assert.Equal(t, 2, resp.Converged)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, int64(1), resp.Results[0].Row)
	assert.True(t, resp.Results[0].Converged)
	require.NotNil(t, resp.Results[0].DTD)
	assert.Greater(t, *resp.Results[0].DTD, 0.0)

	assert.Nil(t, resp.Results[2].AV)
	assert.Contains(t, resp.Results[2].Error, "Short Term Debt")
}

func TestCalculate_Invalid(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.ServerConfig) { c.MaxRows = 1 })

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{"rows":`, http.StatusBadRequest},
		{"no rows", `{"rows":[]}`, http.StatusBadRequest},
		{"missing rows", `{}`, http.StatusBadRequest},
		{"too many rows", `{"rows":[{},{}]}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/dtd", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			rec := do(s, req)
			assert.Equal(t, tt.status, rec.Code)

			var p Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.status, p.Status)
			assert.NotEmpty(t, p.RequestID)
		})
	}
}

func TestCalculateUpload(t *testing.T) {
	s, _ := newTestServer(t)

	body, ct := multipartBody(t, "file", "firms.csv", firmsCSV)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dtd/upload?format=json", body)
	req.Header.Set("Content-Type", ct)

	rec := do(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=\"firms-")
	assert.NotEmpty(t, rec.Header().Get("X-Run-Id"))

	var recs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)
}

func TestCalculateUpload_BadFormat(t *testing.T) {
	s, _ := newTestServer(t)

	body, ct := multipartBody(t, "file", "firms.csv", firmsCSV)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dtd/upload?format=pdf", body)
	req.Header.Set("Content-Type", ct)

	rec := do(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.ServerConfig) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	})

	assert.Equal(t, http.StatusOK, do(s, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(s, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.ServerConfig) {
		c.Address = "127.0.0.1:0"
		c.ShutdownTimeout = time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

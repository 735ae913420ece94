package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTableGateway REST 网关的测试替身，数据存在 MemoryBackend 里
type fakeTableGateway struct {
	store       *MemoryBackend
	quotaLeft   atomic.Int32
	writesOK    atomic.Int32
	lastAuthHdr atomic.Value
}

func (f *fakeTableGateway) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	fail := func(w http.ResponseWriter, err error) {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrTableNotFound) || errors.Is(err, ErrRowNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": err.Error()}})
	}
	quota := func(w http.ResponseWriter) bool {
		if f.quotaLeft.Load() > 0 {
			f.quotaLeft.Add(-1)
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]any{
				"code": 429, "status": "RESOURCE_EXHAUSTED", "message": "Quota exceeded for quota metric 'Write requests'",
			}})
			return true
		}
		return false
	}

	mux.HandleFunc("GET /v1/spreadsheets/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuthHdr.Store(r.Header.Get("Authorization"))
		tables, _ := f.store.Describe(r.Context())
		var out apiDescribeResponse
		for name, h := range tables {
			out.Tables = append(out.Tables, apiTable{Name: name, Headers: h})
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("GET /v1/spreadsheets/{id}/tables/{table}/rows", func(w http.ResponseWriter, r *http.Request) {
		recs, err := f.store.ReadRows(r.Context(), r.PathValue("table"))
		if err != nil {
			fail(w, err)
			return
		}
		var out apiRowsResponse
		for _, rec := range recs {
			out.Rows = append(out.Rows, apiRow{Row: rec.Handle, Values: rec.Values})
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("POST /v1/spreadsheets/{id}/tables/{table}/rows", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Rows []Row `json:"rows"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if err := f.store.AppendRows(r.Context(), r.PathValue("table"), body.Rows); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("PUT /v1/spreadsheets/{id}/tables/{table}/rows/{row}", func(w http.ResponseWriter, r *http.Request) {
		if quota(w) {
			return
		}
		var body struct {
			Values Row `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		n, _ := strconv.ParseInt(r.PathValue("row"), 10, 64)
		if err := f.store.WriteRow(r.Context(), r.PathValue("table"), n, body.Values); err != nil {
			fail(w, err)
			return
		}
		f.writesOK.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("DELETE /v1/spreadsheets/{id}/tables/{table}/rows/{row}", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.ParseInt(r.PathValue("row"), 10, 64)
		if err := f.store.DeleteRow(r.Context(), r.PathValue("table"), n); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("PUT /v1/spreadsheets/{id}/tables/{table}/headers", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Headers []string `json:"headers"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = f.store.WriteHeaders(r.Context(), r.PathValue("table"), body.Headers)
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	return mux
}

func newHTTPGateway(t *testing.T) (*Gateway, *fakeTableGateway) {
	t.Helper()
	fake := &fakeTableGateway{store: NewMemoryBackend()}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	backend := NewHTTPBackend(srv.URL, "sheet-123", "secret-token", zap.NewNop())
	g := NewGateway(backend, Options{
		CallTimeout:    2 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	}, zap.NewNop())
	return g, fake
}

func TestHTTPBackend_QuotaTwiceThenOneWrite(t *testing.T) {
	g, fake := newHTTPGateway(t)
	ctx := context.Background()

	require.NoError(t, g.EnsureHeaders(ctx, "Employees", []string{"id", "firstName", "status"}))
	require.NoError(t, g.AddRow(ctx, "Employees", Row{"id": "e1", "firstName": "Jan", "status": "active"}))
	assert.Equal(t, "Bearer secret-token", fake.lastAuthHdr.Load())

	fake.quotaLeft.Store(2)
	require.NoError(t, g.FindAndUpdateRow(ctx, "Employees", ByColumn("id", "e1"), Row{"status": "dismissed"}))
	assert.Equal(t, int32(1), fake.writesOK.Load())

	rows, err := g.GetRows(ctx, "Employees")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "dismissed", rows[0].String("status"))
}

func TestHTTPBackend_QuotaExhaustedSurfaces(t *testing.T) {
	g, fake := newHTTPGateway(t)
	ctx := context.Background()

	require.NoError(t, g.EnsureHeaders(ctx, "Employees", []string{"id", "status"}))
	require.NoError(t, g.AddRow(ctx, "Employees", Row{"id": "e1", "status": "active"}))

	fake.quotaLeft.Store(10)
	err := g.FindAndUpdateRow(ctx, "Employees", ByColumn("id", "e1"), Row{"status": "dismissed"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, int32(0), fake.writesOK.Load())
	assert.Equal(t, int32(6), fake.quotaLeft.Load(), "1 attempt + 3 retries consumed")
}

func TestHTTPBackend_NotFound(t *testing.T) {
	g, _ := newHTTPGateway(t)
	_, err := g.GetRows(context.Background(), "Missing")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speles7172/lahak/internal/adapter/storage"
	"github.com/speles7172/lahak/internal/core/service"
)

func newTestRouter(t *testing.T, assetDir string) http.Handler {
	ten := 10.0
	fx := &storage.Fixture{
		Locations: []storage.FixtureLocation{{Code: "MAIN", Name: "Main store"}},
		Users: []storage.FixtureUser{
			{Email: "ada@example.com", Name: "Ada", DefaultLocation: "MAIN"},
		},
		Items: []storage.FixtureItem{
			{Code: "BK-001", Series: "120", Name: "Crate", Volume: "12L", Total: &ten},
		},
	}

	catalog := storage.NewMemoryAdapter()
	require.NoError(t, catalog.Load(fx))

	svc := service.NewLedgerService(catalog, catalog, storage.NewMemoryLockManager(time.Second))
	return NewHTTPHandler(svc, assetDir).Router()
}

func doJSON(t *testing.T, router http.Handler, method, target string, body []byte, out interface{}) int {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestBootstrapEndpoint(t *testing.T) {
	router := newTestRouter(t, "")

	var resp bootstrapResponse
	code := doJSON(t, router, http.MethodGet, "/sync?action=bootstrap&identity=ada@example.com", nil, &resp)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "Ada", resp.User.Name)
	assert.Equal(t, "MAIN", resp.User.DefaultLocation)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "BK001", resp.Items[0].Code)
	require.NotNil(t, resp.Items[0].Total)
	assert.Equal(t, 10.0, *resp.Items[0].Total)
}

func TestBootstrapEndpoint_Unauthorized(t *testing.T) {
	router := newTestRouter(t, "")

	var resp errorResponse
	code := doJSON(t, router, http.MethodGet, "/sync?action=bootstrap&identity=mallory@example.com", nil, &resp)

	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", resp.Error)
	assert.NotEmpty(t, resp.Message)
}

func TestBootstrapEndpoint_MissingIdentity(t *testing.T) {
	router := newTestRouter(t, "")

	var resp errorResponse
	code := doJSON(t, router, http.MethodGet, "/sync?action=bootstrap", nil, &resp)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", resp.Error)
}

func TestLookupEndpoint(t *testing.T) {
	router := newTestRouter(t, "")

	// Raw code with spacing and hyphens still resolves; the reply is the
	// bare item, not an envelope.
	var item itemPayload
	code := doJSON(t, router, http.MethodGet, "/sync?code=bk-001", nil, &item)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "BK001", item.Code)
	assert.Equal(t, "Crate", item.Name)
}

func TestLookupEndpoint_NotFound(t *testing.T) {
	router := newTestRouter(t, "")

	var resp errorResponse
	code := doJSON(t, router, http.MethodGet, "/sync?code=ZZ999", nil, &resp)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not-found", resp.Error)
}

func TestSubmitEndpoint(t *testing.T) {
	router := newTestRouter(t, "")

	body := []byte(`{"item_code":"bk-001","qty":5,"location":"main","user":"ada@example.com","comments":"delivery"}`)
	var resp submitResponse
	code := doJSON(t, router, http.MethodPost, "/sync", body, &resp)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "BK001", resp.ItemCode)
	assert.Equal(t, "Crate", resp.ItemName)
	assert.Equal(t, "MAIN", resp.Location)
	assert.Equal(t, 10.0, resp.OldQty)
	assert.Equal(t, 15.0, resp.NewQty)
	assert.Equal(t, 5.0, resp.Delta)

	ts, err := time.Parse(time.RFC3339Nano, resp.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestSubmitEndpoint_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		category string
	}{
		{"malformed body", `{"item_code":`, http.StatusBadRequest, "validation"},
		{"missing qty", `{"item_code":"BK001","location":"MAIN","user":"ada@example.com"}`, http.StatusBadRequest, "validation"},
		{"unknown item", `{"item_code":"ZZ999","qty":1,"location":"MAIN","user":"ada@example.com"}`, http.StatusNotFound, "not-found"},
		{"unregistered location", `{"item_code":"BK001","qty":1,"location":"Z","user":"ada@example.com"}`, http.StatusNotFound, "not-found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, "")

			var resp errorResponse
			code := doJSON(t, router, http.MethodPost, "/sync", []byte(tt.body), &resp)

			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.category, resp.Error)
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, "")

	var resp map[string]string
	code := doJSON(t, router, http.MethodGet, "/health", nil, &resp)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp["status"])
}

func TestAssetsEndpoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	router := newTestRouter(t, dir)

	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	// With no asset directory configured the prefix is not mounted.
	bare := newTestRouter(t, "")
	rec = httptest.NewRecorder()
	bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

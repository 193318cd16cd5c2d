// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corsHandler(origins []string, loopback bool) http.Handler {
	return CORS(origins, loopback)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	h := corsHandler([]string{"https://app.example.com"}, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSBlocksUnlistedOrigin(t *testing.T) {
	h := corsHandler([]string{"https://app.example.com"}, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	// The request itself still runs; the browser enforces the block.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSExactMatchOnly(t *testing.T) {
	h := corsHandler([]string{"https://app.example.com"}, false)

	for _, origin := range []string{
		"https://app.example.com.evil.com",
		"http://app.example.com",
		"https://app.example.com:8443",
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "origin %s", origin)
	}
}

func TestCORSLoopbackOnlyOutsideProduction(t *testing.T) {
	loopbacks := []string{"http://localhost:3000", "http://127.0.0.1:5173", "http://[::1]:8080"}

	dev := corsHandler(nil, true)
	for _, origin := range loopbacks {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		dev.ServeHTTP(rec, req)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"), "origin %s", origin)
	}

	prod := corsHandler(nil, false)
	for _, origin := range loopbacks {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		prod.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "origin %s", origin)
	}
}

func TestCORSNoOriginNoHeaders(t *testing.T) {
	h := corsHandler([]string{"https://app.example.com"}, true)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
}

func TestCORSPreflight(t *testing.T) {
	h := corsHandler([]string{"https://app.example.com"}, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveCORS(cfg CORSConfig, method, origin string) *httptest.ResponseRecorder {
	h := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/api/v1/orders", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORS_DevelopmentWithoutOriginsIsWildcard(t *testing.T) {
	rec := serveCORS(NewCORSConfig(nil, "development"), http.MethodGet, "https://shop.test")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ExplicitOrigins(t *testing.T) {
	cfg := NewCORSConfig([]string{"https://admin.example.com"}, "development")

	rec := serveCORS(cfg, http.MethodGet, "https://admin.example.com")
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = serveCORS(cfg, http.MethodGet, "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ProductionWithoutOriginsAllowsNone(t *testing.T) {
	rec := serveCORS(NewCORSConfig(nil, "production"), http.MethodGet, "https://shop.test")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_WildcardInList(t *testing.T) {
	rec := serveCORS(NewCORSConfig([]string{"*"}, "production"), http.MethodGet, "https://any.test")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	rec := serveCORS(NewCORSConfig(nil, "development"), http.MethodOptions, "https://shop.test")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, PATCH, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), UserIDHeader)
	assert.Equal(t, CorrelationHeader, rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_AllowCredentials(t *testing.T) {
	cfg := NewCORSConfig([]string{"https://admin.example.com"}, "production")
	cfg.AllowCredentials = true

	rec := serveCORS(cfg, http.MethodGet, "https://admin.example.com")
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

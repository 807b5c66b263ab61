package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/menulink/ad-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled:   true,
		MasterKey: "secret",
		SkipPaths: []string{"/health", "/events/*"},
	}
	handler := NewAuthMiddleware(cfg, zap.NewNop()).Handler(okHandler)

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{"missing key", "/ads", "", http.StatusUnauthorized},
		{"wrong key", "/ads", "nope", http.StatusUnauthorized},
		{"valid key", "/ads", "secret", http.StatusOK},
		{"skip path exact", "/health", "", http.StatusOK},
		{"skip path wildcard", "/events/impression", "", http.StatusOK},
		{"wildcard does not leak", "/eventsomething", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(AuthHeaderName, tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestAuthMiddlewareQueryParam(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, MasterKey: "secret"}
	handler := NewAuthMiddleware(cfg, zap.NewNop()).Handler(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/ads?api_key=secret", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	handler := NewAuthMiddleware(config.AuthConfig{Enabled: false}, zap.NewNop()).Handler(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/ads", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:    true,
		EventRPS:   1000,
		EventBurst: 100,
		MgmtRPS:    1,
		MgmtBurst:  2,
	}
	handler := NewRateLimitMiddleware(cfg, zap.NewNop()).Handler(okHandler)

	// Management bucket: burst of 2, then rejected.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ads", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/ads", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// The event bucket is separate and still has capacity.
	req = httptest.NewRequest(http.MethodPost, "/events/impression", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddlewarePerIP(t *testing.T) {
	// Shared event bucket is huge; the per-IP limiter (a tenth of the
	// event burst, so 2 here) is what trips first.
	cfg := config.RateLimitConfig{
		Enabled:    true,
		EventRPS:   1,
		EventBurst: 20,
		MgmtRPS:    1000,
		MgmtBurst:  100,
	}
	rl := NewRateLimitMiddleware(cfg, zap.NewNop())
	handler := rl.Handler(okHandler)

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/events/impression", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, send("10.0.0.1"))
	}
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1"))

	// A different client has its own budget.
	assert.Equal(t, http.StatusOK, send("10.0.0.2"))

	// Cleanup resets the per-IP state.
	rl.CleanupIPLimiters()
	assert.Equal(t, http.StatusOK, send("10.0.0.1"))
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := NewRecoveryMiddleware(zap.NewNop()).Handler(panicky)

	req := httptest.NewRequest(http.MethodGet, "/ads", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	handler := NewLoggingMiddleware(zap.NewNop(), nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/ads", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

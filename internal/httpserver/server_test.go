package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/menulink/ad-engine/internal/config"
	"github.com/menulink/ad-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	handler, _ := NewServer(&Dependencies{
		Config: &config.Config{
			Frequency: config.FrequencyConfig{SessionTTL: time.Hour},
		},
		Logger: zap.NewNop(),
	})
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func testAd(id string) models.Advertisement {
	now := time.Now().UTC()
	return models.Advertisement{
		ID:       id,
		Status:   models.StatusActive,
		Priority: models.PriorityMedium,
		Targeting: models.Targeting{
			Pages:              []string{"home"},
			BusinessCategories: []string{"restaurant"},
		},
		Window: models.Window{
			StartDate: now.AddDate(0, 0, -1),
			EndDate:   now.AddDate(0, 0, 7),
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAdLifecycleOverHTTP(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/ads", testAd("ad-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/ads/ad-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Advertisement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.StatusActive, got.Status)

	rec = doJSON(t, handler, http.MethodPost, "/ads/ad-1/status", map[string]string{"status": "paused"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Paused ads cannot jump back to draft.
	rec = doJSON(t, handler, http.MethodPost, "/ads/ad-1/status", map[string]string{"status": "draft"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/ads/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdValidationOverHTTP(t *testing.T) {
	handler := newTestServer(t)

	bad := testAd("ad-1")
	bad.Targeting.Pages = nil
	rec := doJSON(t, handler, http.MethodPost, "/ads", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEligibilityAndEventsOverHTTP(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/ads", testAd("ad-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet,
		"/ads/eligible?page=home&business_category=restaurant&session_id=s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var eligible []models.Advertisement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eligible))
	require.Len(t, eligible, 1)

	// Missing context fields are a client error.
	rec = doJSON(t, handler, http.MethodGet, "/ads/eligible?page=home", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/events/impression", map[string]string{
		"ad_id": "ad-1", "page": "home", "business_category": "restaurant", "session_id": "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/events/click", map[string]string{
		"ad_id": "ad-1", "session_id": "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/events/impression", map[string]string{
		"ad_id": "missing", "page": "home", "business_category": "restaurant",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/ads/ad-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Advertisement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.Counters.Impressions)
	assert.Equal(t, int64(1), got.Counters.Clicks)
}

func TestDashboardOverHTTP(t *testing.T) {
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/ads", testAd("ad-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	for i := 0; i < 3; i++ {
		rec = doJSON(t, handler, http.MethodPost, "/events/impression", map[string]string{
			"ad_id": "ad-1", "page": "home", "business_category": "restaurant",
			"session_id": fmt.Sprintf("s%d", i),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/dashboard?time_range=today", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Series           []map[string]interface{} `json:"series"`
		TotalImpressions int64                    `json:"total_impressions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Series, 24)
	assert.Equal(t, int64(3), body.TotalImpressions)

	rec = doJSON(t, handler, http.MethodGet, "/dashboard?time_range=quarter", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodDelete, "/events/impression", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/dashboard", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

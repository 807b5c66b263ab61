package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/menulink/ad-engine/internal/ads"
	"github.com/menulink/ad-engine/internal/config"
	"github.com/menulink/ad-engine/internal/database"
	"github.com/menulink/ad-engine/internal/geo"
	"github.com/menulink/ad-engine/internal/metrics"
	"github.com/menulink/ad-engine/internal/models"
	"github.com/menulink/ad-engine/internal/storage"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server wraps HTTP handlers around the ad engine services.
type Server struct {
	adRepo     storage.AdRepo
	evaluator  *ads.Evaluator
	lifecycle  *ads.LifecycleManager
	recorder   *ads.Recorder
	aggregator *ads.Aggregator
	logger     *zap.Logger
	config     *config.Config
	metrics    *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
// Missing Postgres or Redis dependencies fall back to in-memory
// implementations so the engine runs standalone in development.
func NewServer(deps *Dependencies) (http.Handler, *ads.LifecycleManager) {
	var adRepo storage.AdRepo
	var eventStore storage.EventStore

	if deps.DB != nil {
		adRepo = storage.NewPostgresAdRepo(deps.DB.Pool)
		eventStore = storage.NewPostgresEventStore(deps.DB.Pool)
	} else {
		adRepo = storage.NewInMemoryAdRepo()
		eventStore = storage.NewInMemoryEventStore()
	}

	var tracker ads.FrequencyTracker
	if deps.Redis != nil {
		tracker = ads.NewRedisFrequencyTracker(deps.Redis.Client, deps.Config.Frequency)
	} else {
		tracker = ads.NewInMemoryFrequencyTracker(deps.Config.Frequency.SessionTTL)
	}

	var geoProvider geo.Provider
	if deps.Config.Geo.Enabled {
		mm, err := geo.NewMaxMindProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo provider, events stay unenriched", zap.Error(err))
		} else {
			geoProvider = geo.NewCachingProvider(mm, deps.Config.Geo.CacheSize, deps.Config.Geo.CacheTTL)
		}
	}

	lifecycle := ads.NewLifecycleManager(adRepo, deps.Logger)

	s := &Server{
		adRepo:     adRepo,
		evaluator:  ads.NewEvaluator(tracker, deps.Logger, deps.Metrics),
		lifecycle:  lifecycle,
		recorder:   ads.NewRecorder(eventStore, adRepo, tracker, geoProvider, deps.Logger, deps.Metrics),
		aggregator: ads.NewAggregator(eventStore, adRepo, deps.Logger, deps.Metrics),
		logger:     deps.Logger,
		config:     deps.Config,
		metrics:    deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Delivery
	mux.HandleFunc("/ads/eligible", s.handleEligible)

	// Ad management
	mux.HandleFunc("/ads", s.handleAds)
	mux.HandleFunc("/ads/", s.handleAdByID)

	// Events
	mux.HandleFunc("/events/impression", s.handleImpression)
	mux.HandleFunc("/events/click", s.handleClick)
	mux.HandleFunc("/events/conversion", s.handleConversion)

	// Analytics
	mux.HandleFunc("/dashboard", s.handleDashboard)

	return mux, lifecycle
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Eligibility ----

func (s *Server) handleEligible(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var reqCtx ads.Context
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&reqCtx); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
	} else {
		q := r.URL.Query()
		reqCtx = ads.Context{
			Page:             q.Get("page"),
			BusinessCategory: q.Get("business_category"),
			UserID:           q.Get("user_id"),
			SessionID:        q.Get("session_id"),
		}
	}

	candidates, err := s.adRepo.GetCandidates(r.Context(), time.Now())
	if err != nil {
		s.logger.Error("failed to load candidates", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	eligible, err := s.evaluator.Evaluate(r.Context(), candidates, reqCtx)
	if err != nil {
		s.serviceError(w, err, "eligibility failed")
		return
	}

	s.jsonResponse(w, eligible)
}

// ---- Ad Management ----

func (s *Server) handleAds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var list []*models.Advertisement
		var err error
		if status := r.URL.Query().Get("status"); status != "" {
			st := models.AdStatus(status)
			if !st.Valid() {
				s.errorResponse(w, "unknown status", http.StatusBadRequest)
				return
			}
			list, err = s.adRepo.GetByStatus(r.Context(), st)
		} else {
			list, err = s.adRepo.ListAll(r.Context())
		}
		if err != nil {
			s.logger.Error("failed to list ads", zap.Error(err))
			s.errorResponse(w, "failed to list", http.StatusInternalServerError)
			return
		}
		now := time.Now()
		for _, ad := range list {
			ad.Status = ads.EffectiveStatus(ad, now)
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var ad models.Advertisement
		if err := json.NewDecoder(r.Body).Decode(&ad); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := ad.Validate(); err != nil {
			s.errorResponse(w, "invalid advertisement: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.adRepo.Upsert(r.Context(), &ad); err != nil {
			s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
			return
		}
		s.jsonResponse(w, ad)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAdByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/ads/")
	if rest == "" || rest == "eligible" {
		http.NotFound(w, r)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/status"); ok {
		s.handleStatusChange(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		ad, err := s.adRepo.GetByID(r.Context(), rest)
		if err != nil {
			s.logger.Error("failed to get ad", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		if ad == nil {
			http.NotFound(w, r)
			return
		}
		ad.Status = ads.EffectiveStatus(ad, time.Now())
		s.jsonResponse(w, ad)

	case http.MethodDelete:
		if err := s.adRepo.Delete(r.Context(), rest); err != nil {
			s.errorResponse(w, "failed to delete: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStatusChange(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Status models.AdStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	ad, err := s.lifecycle.Transition(r.Context(), id, body.Status)
	if err != nil {
		s.serviceError(w, err, "status change failed")
		return
	}
	s.jsonResponse(w, ad)
}

// ---- Events ----

func (s *Server) handleImpression(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		AdID string `json:"ad_id"`
		ads.ImpressionContext
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.AdID == "" {
		s.errorResponse(w, "ad_id is required", http.StatusBadRequest)
		return
	}
	if body.UserAgent == "" {
		body.UserAgent = r.UserAgent()
	}
	if body.IP == "" {
		body.IP = clientIP(r)
	}

	if err := s.recorder.RecordImpression(r.Context(), body.AdID, body.ImpressionContext); err != nil {
		s.serviceError(w, err, "impression failed")
		return
	}
	s.jsonResponse(w, map[string]string{"status": "recorded"})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	s.handleFollowUp(w, r, s.recorder.RecordClick)
}

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	s.handleFollowUp(w, r, s.recorder.RecordConversion)
}

func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request, record func(ctx context.Context, adID, identity string, at time.Time) error) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		AdID      string `json:"ad_id"`
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.AdID == "" {
		s.errorResponse(w, "ad_id is required", http.StatusBadRequest)
		return
	}
	identity := body.UserID
	if identity == "" {
		identity = body.SessionID
	}

	if err := record(r.Context(), body.AdID, identity, time.Now()); err != nil {
		s.serviceError(w, err, "event failed")
		return
	}
	s.jsonResponse(w, map[string]string{"status": "recorded"})
}

// ---- Analytics ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tr, err := ads.ParseTimeRange(r.URL.Query().Get("time_range"))
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := s.aggregator.Dashboard(r.Context(), r.URL.Query().Get("category"), tr)
	if err != nil {
		s.serviceError(w, err, "dashboard failed")
		return
	}
	s.jsonResponse(w, d)
}

// ---- Helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serviceError maps service-layer sentinel errors onto HTTP statuses.
func (s *Server) serviceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ads.ErrInvalidContext), errors.Is(err, ads.ErrInvalidTransition):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ads.ErrNotFound):
		s.errorResponse(w, "not found", http.StatusNotFound)
	default:
		s.logger.Error(logMsg, zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

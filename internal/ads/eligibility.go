package ads

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/menulink/ad-engine/internal/metrics"
	"github.com/menulink/ad-engine/internal/models"
	"go.uber.org/zap"
)

// Context carries the request attributes eligibility is judged against.
type Context struct {
	Page             string `json:"page"`
	BusinessCategory string `json:"business_category"`
	UserID           string `json:"user_id,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
}

// Identity returns the frequency-capping identity for the request.
func (c *Context) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.SessionID
}

// Exclusion reasons, exported through metrics.
const (
	excludeInactive = "inactive"
	excludeWindow   = "out_of_window"
	excludePage     = "page_mismatch"
	excludeCategory = "category_mismatch"
	excludeWeekday  = "weekday"
	excludeSession  = "session_seen"
	excludeFreqCap  = "frequency_cap"
)

// Evaluator decides which candidate ads are valid for a request. It is
// read-only and deterministic for a fixed clock and tracker state, so
// unrelated requests evaluate fully in parallel.
type Evaluator struct {
	tracker FrequencyTracker
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEvaluator creates an eligibility evaluator.
func NewEvaluator(tracker FrequencyTracker, logger *zap.Logger, m *metrics.Metrics) *Evaluator {
	return &Evaluator{
		tracker: tracker,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Evaluate filters the pre-filtered candidate set down to the ads valid
// for the request, ordered by priority (high first) with ties broken by
// most recent creation. An empty result is the normal outcome when
// nothing matches; the only error is ErrInvalidContext for a missing
// page or business category.
//
// Checks run in order and short-circuit per candidate: effective
// status, scheduling window in the ad's timezone, page targeting,
// business category, weekends-only, once-per-session, frequency cap.
// Tracker failures fail open: caps go unenforced rather than blocking
// delivery.
func (e *Evaluator) Evaluate(ctx context.Context, candidates []*models.Advertisement, req Context) ([]*models.Advertisement, error) {
	if req.Page == "" || req.BusinessCategory == "" {
		return nil, fmt.Errorf("%w: page and business category are required", ErrInvalidContext)
	}

	now := e.now()
	eligible := make([]*models.Advertisement, 0, len(candidates))
	for _, ad := range candidates {
		if reason := e.exclude(ctx, ad, req, now); reason != "" {
			if e.metrics != nil {
				e.metrics.RecordExclusion(reason)
			}
			continue
		}
		eligible = append(eligible, ad)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if ri, rj := eligible[i].Priority.Rank(), eligible[j].Priority.Rank(); ri != rj {
			return ri > rj
		}
		return eligible[i].CreatedAt.After(eligible[j].CreatedAt)
	})

	if e.metrics != nil {
		e.metrics.EligibilityRequests.Inc()
		e.metrics.EligibleAds.Observe(float64(len(eligible)))
	}
	return eligible, nil
}

// exclude returns the first failed check's reason, or "" when the ad
// passes all of them.
func (e *Evaluator) exclude(ctx context.Context, ad *models.Advertisement, req Context, now time.Time) string {
	if EffectiveStatus(ad, now) != models.StatusActive {
		return excludeInactive
	}
	if !ad.Window.Contains(now) {
		return excludeWindow
	}
	if !ad.Targeting.MatchesPage(req.Page) {
		return excludePage
	}
	if !ad.Targeting.MatchesCategory(req.BusinessCategory) {
		return excludeCategory
	}
	if ad.Rules.WeekendsOnly {
		wd := now.In(ad.Window.Location()).Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			return excludeWeekday
		}
	}
	if ad.Rules.OncePerSession && req.SessionID != "" {
		seen, err := e.tracker.HasSeenAnyAd(ctx, req.SessionID)
		if err != nil {
			e.failOpen(ad.ID, "session", err)
		} else if seen {
			return excludeSession
		}
	}
	if ad.Rules.MaxShowsPerIdentity != nil {
		count, err := e.tracker.ShownCount(ctx, ad.ID, req.Identity())
		if err != nil {
			e.failOpen(ad.ID, "shown_count", err)
		} else if count >= int64(*ad.Rules.MaxShowsPerIdentity) {
			return excludeFreqCap
		}
	}
	return ""
}

// failOpen logs a tracker failure and lets the candidate through. Caps
// are a best-effort control; availability wins over strictness.
func (e *Evaluator) failOpen(adID, op string, err error) {
	e.logger.Warn("frequency tracker unavailable, serving without cap",
		zap.String("ad_id", adID),
		zap.String("op", op),
		zap.Error(err),
	)
	if e.metrics != nil {
		e.metrics.RecordTrackerError(op)
	}
}

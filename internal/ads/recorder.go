package ads

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/menulink/ad-engine/internal/geo"
	"github.com/menulink/ad-engine/internal/metrics"
	"github.com/menulink/ad-engine/internal/models"
	"github.com/menulink/ad-engine/internal/storage"
	"go.uber.org/zap"
)

// retryBackoff is slept once before the single write retry.
const retryBackoff = 100 * time.Millisecond

// ImpressionContext carries the request attributes recorded with an
// impression.
type ImpressionContext struct {
	Page             string `json:"page"`
	BusinessCategory string `json:"business_category"`
	UserID           string `json:"user_id,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	UserAgent        string `json:"user_agent,omitempty"`
	IP               string `json:"ip,omitempty"`
	Referrer         string `json:"referrer,omitempty"`
}

// Recorder appends impression-class events and keeps each ad's rolling
// counters in step. Counters ride the same logical call as the event
// append, which bounds how far the cached sums can drift from the
// store.
//
// Recording happens after the ad has already been rendered, so storage
// failures must never surface to the caller: every write is retried
// once with backoff, then dropped and logged. Deduplicating retried
// client submissions is the caller's job via idempotent event IDs; the
// recorder accepts one call per logical event.
type Recorder struct {
	events  storage.EventStore
	ads     storage.AdRepo
	tracker FrequencyTracker
	geo     geo.Provider
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRecorder creates an event recorder. The geo provider is optional;
// without it events carry no country.
func NewRecorder(events storage.EventStore, ads storage.AdRepo, tracker FrequencyTracker, geoProvider geo.Provider, logger *zap.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		events:  events,
		ads:     ads,
		tracker: tracker,
		geo:     geoProvider,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// RecordImpression appends one view event, bumps the ad's impression
// counter and advances the frequency tracker. Returns ErrNotFound only
// when the ad does not exist; storage trouble is absorbed.
func (r *Recorder) RecordImpression(ctx context.Context, adID string, ic ImpressionContext) error {
	ad, err := r.ads.GetByID(ctx, adID)
	if err != nil {
		// Can't even check existence: drop, the render already happened.
		r.drop("impression", adID, err)
		return nil
	}
	if ad == nil {
		return ErrNotFound
	}

	now := r.now()
	ev := r.buildEvent(ad.ID, ic, now)

	r.write(ctx, "impression_event", ad.ID, func(ctx context.Context) error {
		return r.events.SaveImpression(ctx, ev)
	})
	r.write(ctx, "impression_counter", ad.ID, func(ctx context.Context) error {
		return r.ads.IncrementCounters(ctx, ad.ID, storage.CounterDelta{Impressions: 1, ViewedAt: &now})
	})

	if err := r.tracker.RecordShown(ctx, ad.ID, ev.Identity(), ic.SessionID, ad.Window.EndDate); err != nil {
		r.logger.Warn("failed to advance frequency tracker",
			zap.String("ad_id", ad.ID),
			zap.Error(err),
		)
		if r.metrics != nil {
			r.metrics.RecordTrackerError("record_shown")
		}
	}

	if r.metrics != nil {
		r.metrics.RecordImpression(ad.AdType)
	}
	return nil
}

// RecordClick marks the identity's most recent unclicked impression of
// the ad as clicked and bumps the click counter. When no open
// impression exists (render beacon lost, click beacon delivered) an
// implicit impression is created already marked clicked, advancing both
// counters so impressions never fall below clicks.
func (r *Recorder) RecordClick(ctx context.Context, adID, identity string, at time.Time) error {
	ad, err := r.ads.GetByID(ctx, adID)
	if err != nil {
		r.drop("click", adID, err)
		return nil
	}
	if ad == nil {
		return ErrNotFound
	}
	if at.IsZero() {
		at = r.now()
	}

	ev, err := r.events.LatestUnclicked(ctx, adID, identity)
	if err != nil {
		r.drop("click", adID, err)
		return nil
	}

	delta := storage.CounterDelta{Clicks: 1, ClickedAt: &at}
	if ev == nil {
		implicit := r.buildEvent(adID, ImpressionContext{UserID: identity}, at)
		implicit.Clicked = true
		implicit.ClickedAt = &at
		r.write(ctx, "click_event", adID, func(ctx context.Context) error {
			return r.events.SaveImpression(ctx, implicit)
		})
		delta.Impressions = 1
		delta.ViewedAt = &at
	} else {
		r.write(ctx, "click_event", adID, func(ctx context.Context) error {
			return r.events.MarkClicked(ctx, ev.ID, at)
		})
	}

	r.write(ctx, "click_counter", adID, func(ctx context.Context) error {
		return r.ads.IncrementCounters(ctx, adID, delta)
	})

	if r.metrics != nil {
		r.metrics.RecordClick(ad.AdType)
	}
	return nil
}

// RecordConversion marks the identity's most recent unconverted
// impression (preferring a clicked one) as converted and bumps the
// conversion counter. A conversion implies a click: when the chosen
// impression was never clicked it is marked clicked as well, and the
// click counter advances with it, keeping
// impressions >= clicks >= conversions. Mirrors the click policy when
// no impression exists.
func (r *Recorder) RecordConversion(ctx context.Context, adID, identity string, at time.Time) error {
	ad, err := r.ads.GetByID(ctx, adID)
	if err != nil {
		r.drop("conversion", adID, err)
		return nil
	}
	if ad == nil {
		return ErrNotFound
	}
	if at.IsZero() {
		at = r.now()
	}

	ev, err := r.events.LatestUnconverted(ctx, adID, identity)
	if err != nil {
		r.drop("conversion", adID, err)
		return nil
	}

	delta := storage.CounterDelta{Conversions: 1}
	if ev == nil {
		implicit := r.buildEvent(adID, ImpressionContext{UserID: identity}, at)
		implicit.Clicked = true
		implicit.ClickedAt = &at
		implicit.Converted = true
		implicit.ConvertedAt = &at
		r.write(ctx, "conversion_event", adID, func(ctx context.Context) error {
			return r.events.SaveImpression(ctx, implicit)
		})
		delta.Impressions = 1
		delta.ViewedAt = &at
		delta.Clicks = 1
		delta.ClickedAt = &at
	} else {
		if !ev.Clicked {
			r.write(ctx, "conversion_event", adID, func(ctx context.Context) error {
				return r.events.MarkClicked(ctx, ev.ID, at)
			})
			delta.Clicks = 1
			delta.ClickedAt = &at
		}
		r.write(ctx, "conversion_event", adID, func(ctx context.Context) error {
			return r.events.MarkConverted(ctx, ev.ID, at)
		})
	}

	r.write(ctx, "conversion_counter", adID, func(ctx context.Context) error {
		return r.ads.IncrementCounters(ctx, adID, delta)
	})

	if r.metrics != nil {
		r.metrics.RecordConversion(ad.AdType)
	}
	return nil
}

func (r *Recorder) buildEvent(adID string, ic ImpressionContext, at time.Time) *models.ImpressionEvent {
	ev := &models.ImpressionEvent{
		ID:               uuid.NewString(),
		AdID:             adID,
		UserID:           ic.UserID,
		SessionID:        ic.SessionID,
		Page:             ic.Page,
		BusinessCategory: ic.BusinessCategory,
		Device:           models.ClassifyDevice(ic.UserAgent),
		Timestamp:        at,
		UserAgent:        ic.UserAgent,
		IP:               ic.IP,
		Referrer:         ic.Referrer,
	}
	if r.geo != nil && ic.IP != "" {
		if info, err := r.geo.Lookup(ic.IP); err == nil {
			ev.Country = info.CountryCode
		}
	}
	return ev
}

// write runs fn, retrying once with backoff, then drops and logs. The
// render path has already completed when recording starts, so a failed
// write costs one event, never a failed response.
func (r *Recorder) write(ctx context.Context, kind, adID string, fn func(context.Context) error) {
	err := fn(ctx)
	if err == nil {
		return
	}
	if r.metrics != nil {
		r.metrics.RetriedWrites.Inc()
	}
	select {
	case <-ctx.Done():
		r.drop(kind, adID, ctx.Err())
		return
	case <-time.After(retryBackoff):
	}
	if err = fn(ctx); err != nil {
		r.drop(kind, adID, err)
	}
}

func (r *Recorder) drop(kind, adID string, err error) {
	r.logger.Error("dropping recording write",
		zap.String("kind", kind),
		zap.String("ad_id", adID),
		zap.Error(err),
	)
	if r.metrics != nil {
		r.metrics.RecordDroppedWrite(kind)
	}
}

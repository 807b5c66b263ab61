package storage

import (
	"context"
	"time"

	"github.com/menulink/ad-engine/internal/models"
)

// CounterDelta describes an atomic adjustment to an ad's rolling
// counters. Deltas are applied in a single statement at the storage
// layer; callers never read-modify-write.
type CounterDelta struct {
	Impressions int64
	Clicks      int64
	Conversions int64
	ViewedAt    *time.Time
	ClickedAt   *time.Time
}

// =============================================
// AD REPOSITORY
// =============================================

// AdRepo defines operations for advertisement storage (the Ad Catalog).
type AdRepo interface {
	// Basic CRUD
	ListAll(ctx context.Context) ([]*models.Advertisement, error)
	GetByID(ctx context.Context, id string) (*models.Advertisement, error)
	Upsert(ctx context.Context, ad *models.Advertisement) error
	Delete(ctx context.Context, id string) error

	// Queries
	GetByStatus(ctx context.Context, status models.AdStatus) ([]*models.Advertisement, error)
	// GetCandidates returns active ads whose window loosely overlaps now.
	// The date filter is coarse (one day of slack either side) because
	// precise window checks happen in the ad's own timezone at the
	// evaluator; the catalog only trims the candidate set.
	GetCandidates(ctx context.Context, now time.Time) ([]*models.Advertisement, error)

	// Mutations
	UpdateStatus(ctx context.Context, id string, status models.AdStatus) error
	// IncrementCounters atomically applies the delta to the ad's
	// rolling counters.
	IncrementCounters(ctx context.Context, id string, delta CounterDelta) error
}

// =============================================
// EVENT STORE
// =============================================

// EventStore defines operations for impression-class events: one row
// per view, upgraded in place when clicked or converted.
type EventStore interface {
	SaveImpression(ctx context.Context, ev *models.ImpressionEvent) error
	GetByID(ctx context.Context, id string) (*models.ImpressionEvent, error)

	MarkClicked(ctx context.Context, id string, at time.Time) error
	MarkConverted(ctx context.Context, id string, at time.Time) error

	// LatestUnclicked returns the most recent impression for the
	// (ad, identity) pair that has not been clicked, or nil.
	LatestUnclicked(ctx context.Context, adID, identity string) (*models.ImpressionEvent, error)
	// LatestUnconverted returns the most recent unconverted impression
	// for the pair, preferring impressions that were clicked, or nil.
	LatestUnconverted(ctx context.Context, adID, identity string) (*models.ImpressionEvent, error)

	// ListRange returns events with from <= timestamp < to, optionally
	// filtered by business category. Queries are bounded by the range so
	// cost scales with the range, not total history.
	ListRange(ctx context.Context, from, to time.Time, category string) ([]*models.ImpressionEvent, error)
	// FirstEventTime returns the timestamp of the earliest stored event,
	// or the zero time when the store is empty.
	FirstEventTime(ctx context.Context) (time.Time, error)
}

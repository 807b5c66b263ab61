package ads

import (
	"context"
	"fmt"
	"time"

	"github.com/menulink/ad-engine/internal/models"
	"github.com/menulink/ad-engine/internal/storage"
	"go.uber.org/zap"
)

// transitions lists the allowed stored-status changes. Expiry is not
// here: it is derived from the clock, not requested by an admin.
var transitions = map[models.AdStatus][]models.AdStatus{
	models.StatusDraft:     {models.StatusScheduled, models.StatusActive},
	models.StatusScheduled: {models.StatusActive, models.StatusArchived},
	models.StatusActive:    {models.StatusPaused, models.StatusArchived},
	models.StatusPaused:    {models.StatusActive, models.StatusArchived},
	models.StatusExpired:   {models.StatusArchived},
	models.StatusArchived:  {}, // terminal
}

// LifecycleManager validates status transitions and derives an ad's
// effective status from its scheduling window.
type LifecycleManager struct {
	repo   storage.AdRepo
	logger *zap.Logger
	now    func() time.Time
}

// NewLifecycleManager creates a lifecycle manager over the given catalog.
func NewLifecycleManager(repo storage.AdRepo, logger *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// EffectiveStatus derives the state an ad behaves as at the given time.
// A stored scheduled/active ad whose window has closed is effectively
// expired even if no write has happened yet; derivation is lazy so the
// engine needs no background scheduler for correctness.
func EffectiveStatus(ad *models.Advertisement, now time.Time) models.AdStatus {
	switch ad.Status {
	case models.StatusScheduled, models.StatusActive:
		if ad.Window.Ended(now) {
			return models.StatusExpired
		}
	}
	return ad.Status
}

// CanTransition reports whether the stored-status change is legal.
func CanTransition(from, to models.AdStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves an ad to a new stored status, rejecting illegal
// changes with ErrInvalidTransition. The check runs against the ad's
// effective status, so an ad that already ran past its window can only
// move to archived even while the stored field still says active.
func (m *LifecycleManager) Transition(ctx context.Context, id string, to models.AdStatus) (*models.Advertisement, error) {
	if !to.Valid() || to == models.StatusExpired {
		// Expired is derived, never requested.
		return nil, fmt.Errorf("%w: cannot request %q", ErrInvalidTransition, to)
	}

	ad, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if ad == nil {
		return nil, ErrNotFound
	}

	from := EffectiveStatus(ad, m.now())
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if err := m.repo.UpdateStatus(ctx, id, to); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	m.logger.Info("advertisement status changed",
		zap.String("ad_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	ad.Status = to
	return ad, nil
}

// Sweep persists derived expirations back to the catalog. Purely an
// optimization that keeps stored rows readable; eligibility is correct
// without it because EffectiveStatus is computed at read time.
func (m *LifecycleManager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	swept := 0
	for _, status := range []models.AdStatus{models.StatusScheduled, models.StatusActive} {
		ads, err := m.repo.GetByStatus(ctx, status)
		if err != nil {
			return swept, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		for _, ad := range ads {
			if EffectiveStatus(ad, now) != models.StatusExpired {
				continue
			}
			if err := m.repo.UpdateStatus(ctx, ad.ID, models.StatusExpired); err != nil {
				m.logger.Warn("failed to persist expiry",
					zap.String("ad_id", ad.ID),
					zap.Error(err),
				)
				continue
			}
			swept++
		}
	}
	if swept > 0 {
		m.logger.Info("expired advertisements swept", zap.Int("count", swept))
	}
	return swept, nil
}

package ads

import (
	"context"
	"testing"
	"time"

	"github.com/menulink/ad-engine/internal/models"
	"github.com/menulink/ad-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLifecycle(t *testing.T, ads ...*models.Advertisement) (*LifecycleManager, *storage.InMemoryAdRepo) {
	t.Helper()
	repo := storage.NewInMemoryAdRepo()
	for _, ad := range ads {
		require.NoError(t, repo.Upsert(context.Background(), ad))
	}
	m := NewLifecycleManager(repo, zap.NewNop())
	m.now = func() time.Time { return fixedNow }
	return m, repo
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to models.AdStatus }{
		{models.StatusDraft, models.StatusScheduled},
		{models.StatusDraft, models.StatusActive},
		{models.StatusScheduled, models.StatusActive},
		{models.StatusScheduled, models.StatusArchived},
		{models.StatusActive, models.StatusPaused},
		{models.StatusActive, models.StatusArchived},
		{models.StatusPaused, models.StatusActive},
		{models.StatusPaused, models.StatusArchived},
		{models.StatusExpired, models.StatusArchived},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	denied := []struct{ from, to models.AdStatus }{
		{models.StatusDraft, models.StatusPaused},
		{models.StatusActive, models.StatusDraft},
		{models.StatusExpired, models.StatusActive},
		{models.StatusArchived, models.StatusActive},
		{models.StatusArchived, models.StatusDraft},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestTransition(t *testing.T) {
	ad := activeAd("ad-1")
	ad.Status = models.StatusDraft
	m, repo := newTestLifecycle(t, ad)

	got, err := m.Transition(context.Background(), "ad-1", models.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	stored, err := repo.GetByID(context.Background(), "ad-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)

	_, err = m.Transition(context.Background(), "ad-1", models.StatusDraft)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Transition(context.Background(), "missing", models.StatusActive)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionRejectsRequestedExpiry(t *testing.T) {
	m, _ := newTestLifecycle(t, activeAd("ad-1"))
	_, err := m.Transition(context.Background(), "ad-1", models.StatusExpired)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionUsesEffectiveStatus(t *testing.T) {
	// Stored active, window long over: behaves as expired, so pausing is
	// illegal while archiving still works.
	ad := activeAd("ad-1")
	ad.Window.EndDate = fixedNow.AddDate(0, 0, -3)
	m, _ := newTestLifecycle(t, ad)

	_, err := m.Transition(context.Background(), "ad-1", models.StatusPaused)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := m.Transition(context.Background(), "ad-1", models.StatusArchived)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, got.Status)
}

func TestEffectiveStatus(t *testing.T) {
	ad := activeAd("ad-1")
	assert.Equal(t, models.StatusActive, EffectiveStatus(ad, fixedNow))

	ended := activeAd("ad-2")
	ended.Window.EndDate = fixedNow.AddDate(0, 0, -2)
	assert.Equal(t, models.StatusExpired, EffectiveStatus(ended, fixedNow))

	scheduled := activeAd("ad-3")
	scheduled.Status = models.StatusScheduled
	scheduled.Window.EndDate = fixedNow.AddDate(0, 0, -2)
	assert.Equal(t, models.StatusExpired, EffectiveStatus(scheduled, fixedNow))

	// Paused ads never derive to expired; they stay paused.
	paused := activeAd("ad-4")
	paused.Status = models.StatusPaused
	paused.Window.EndDate = fixedNow.AddDate(0, 0, -2)
	assert.Equal(t, models.StatusPaused, EffectiveStatus(paused, fixedNow))
}

func TestSweep(t *testing.T) {
	live := activeAd("live")
	over := activeAd("over")
	over.Window.EndDate = fixedNow.AddDate(0, 0, -2)
	scheduledOver := activeAd("scheduled-over")
	scheduledOver.Status = models.StatusScheduled
	scheduledOver.Window.EndDate = fixedNow.AddDate(0, 0, -2)

	m, repo := newTestLifecycle(t, live, over, scheduledOver)

	n, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, _ := repo.GetByID(context.Background(), "over")
	assert.Equal(t, models.StatusExpired, stored.Status)
	stored, _ = repo.GetByID(context.Background(), "scheduled-over")
	assert.Equal(t, models.StatusExpired, stored.Status)
	stored, _ = repo.GetByID(context.Background(), "live")
	assert.Equal(t, models.StatusActive, stored.Status)
}

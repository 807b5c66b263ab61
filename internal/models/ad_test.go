package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetingMatchesPage(t *testing.T) {
	tests := []struct {
		name string
		tg   Targeting
		page string
		want bool
	}{
		{"exact token", Targeting{Pages: []string{"home", "menu"}}, "menu", true},
		{"missing token", Targeting{Pages: []string{"home"}}, "menu", false},
		{"custom exact url", Targeting{Pages: []string{"custom"}, CustomURLs: []string{"/specials"}}, "/specials", true},
		{"custom prefix wildcard", Targeting{Pages: []string{"custom"}, CustomURLs: []string{"/menu/*"}}, "/menu/drinks", true},
		{"prefix needs custom page", Targeting{Pages: []string{"home"}, CustomURLs: []string{"/menu/*"}}, "/menu/drinks", false},
		{"wildcard matches own prefix", Targeting{Pages: []string{"custom"}, CustomURLs: []string{"/menu/*"}}, "/menu/", true},
		{"no match among urls", Targeting{Pages: []string{"custom"}, CustomURLs: []string{"/a", "/b"}}, "/c", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tg.MatchesPage(tt.page))
		})
	}
}

func TestTargetingMatchesCategory(t *testing.T) {
	tg := Targeting{BusinessCategories: []string{"restaurant", "cafe"}}
	assert.True(t, tg.MatchesCategory("cafe"))
	assert.False(t, tg.MatchesCategory("bar"))

	all := Targeting{BusinessCategories: []string{CategoryAll}}
	assert.True(t, all.MatchesCategory("bar"))
}

func TestWindowTimezoneBoundaries(t *testing.T) {
	// Window runs Jan 10-12 in New York. A UTC instant late on Jan 12
	// UTC is still inside the window because New York is behind UTC.
	w := Window{
		StartDate: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC),
		Timezone:  "America/New_York",
	}

	// Jan 13 02:00 UTC is Jan 12 21:00 in New York: still open.
	assert.True(t, w.Contains(time.Date(2026, 1, 13, 2, 0, 0, 0, time.UTC)))
	assert.False(t, w.Ended(time.Date(2026, 1, 13, 2, 0, 0, 0, time.UTC)))

	// Jan 13 06:00 UTC is Jan 13 01:00 in New York: closed.
	assert.False(t, w.Contains(time.Date(2026, 1, 13, 6, 0, 0, 0, time.UTC)))
	assert.True(t, w.Ended(time.Date(2026, 1, 13, 6, 0, 0, 0, time.UTC)))

	// Before the start day's local midnight: not open yet.
	assert.False(t, w.Contains(time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC)))
}

func TestWindowUnknownTimezoneFallsBackToUTC(t *testing.T) {
	w := Window{
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Timezone:  "Mars/Olympus",
	}
	assert.True(t, w.Contains(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)))
	assert.True(t, w.Ended(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)))
}

func TestCountersCTR(t *testing.T) {
	assert.Equal(t, 0.0, (&Counters{}).CTR())
	assert.Equal(t, 50.0, (&Counters{Impressions: 10, Clicks: 5}).CTR())
	assert.Equal(t, 33.33, (&Counters{Impressions: 3, Clicks: 1}).CTR())
	assert.Equal(t, 66.67, (&Counters{Impressions: 3, Clicks: 2}).CTR())
}

func TestAdvertisementValidate(t *testing.T) {
	valid := func() Advertisement {
		return Advertisement{
			ID:       "ad-1",
			Status:   StatusDraft,
			Priority: PriorityMedium,
			Targeting: Targeting{
				Pages:              []string{"home"},
				BusinessCategories: []string{"restaurant"},
			},
			Window: Window{
				StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
			},
		}
	}

	require.NoError(t, func() error { a := valid(); return a.Validate() }())

	a := valid()
	a.ID = ""
	assert.Error(t, a.Validate())

	a = valid()
	a.Status = "running"
	assert.Error(t, a.Validate())

	a = valid()
	a.Priority = "urgent"
	assert.Error(t, a.Validate())

	a = valid()
	a.Targeting.Pages = nil
	assert.Error(t, a.Validate())

	a = valid()
	a.Targeting.Pages = []string{PageCustom}
	assert.Error(t, a.Validate(), "custom targeting without URLs")

	a = valid()
	a.Targeting.Pages = []string{PageCustom}
	a.Targeting.CustomURLs = []string{"/specials"}
	assert.NoError(t, a.Validate())

	a = valid()
	a.Window.EndDate = a.Window.StartDate.AddDate(0, 0, -1)
	assert.Error(t, a.Validate())
}

func TestPriorityRank(t *testing.T) {
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Equal(t, 0, AdPriority("").Rank())
}

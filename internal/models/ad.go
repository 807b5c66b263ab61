package models

import (
	"errors"
	"time"
)

// AdStatus is the stored lifecycle state of an advertisement.
type AdStatus string

const (
	StatusDraft     AdStatus = "draft"
	StatusScheduled AdStatus = "scheduled"
	StatusActive    AdStatus = "active"
	StatusPaused    AdStatus = "paused"
	StatusExpired   AdStatus = "expired"
	StatusArchived  AdStatus = "archived"
)

// Valid reports whether s is a known status value.
func (s AdStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusActive, StatusPaused, StatusExpired, StatusArchived:
		return true
	}
	return false
}

// AdPriority orders ads within an eligible set.
type AdPriority string

const (
	PriorityHigh   AdPriority = "high"
	PriorityMedium AdPriority = "medium"
	PriorityLow    AdPriority = "low"
)

// Rank returns a sortable weight, higher wins.
func (p AdPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// PageCustom is the page token that switches page targeting to the
// CustomURLs list.
const PageCustom = "custom"

// CategoryAll matches any business category.
const CategoryAll = "all"

// Targeting defines where and for whom an ad may be served.
type Targeting struct {
	// Pages holds page tokens (e.g. "home", "menu") or PageCustom.
	Pages []string `json:"pages"`
	// CustomURLs is consulted when Pages contains PageCustom. Entries
	// match exactly; an entry ending in "*" matches by prefix.
	CustomURLs []string `json:"custom_urls,omitempty"`
	// BusinessCategories holds category tokens or CategoryAll.
	BusinessCategories []string `json:"business_categories"`
}

// MatchesPage reports whether the given page token or URL is targeted.
func (t *Targeting) MatchesPage(page string) bool {
	custom := false
	for _, p := range t.Pages {
		if p == page {
			return true
		}
		if p == PageCustom {
			custom = true
		}
	}
	if !custom {
		return false
	}
	for _, u := range t.CustomURLs {
		if u == page {
			return true
		}
		if n := len(u); n > 1 && u[n-1] == '*' && len(page) >= n-1 && page[:n-1] == u[:n-1] {
			return true
		}
	}
	return false
}

// MatchesCategory reports whether the business category is targeted.
func (t *Targeting) MatchesCategory(category string) bool {
	for _, c := range t.BusinessCategories {
		if c == CategoryAll || c == category {
			return true
		}
	}
	return false
}

// Window bounds when an ad may run. StartDate and EndDate are
// interpreted in Timezone, not server-local time.
type Window struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Timezone  string    `json:"timezone,omitempty"`
}

// Location resolves the window's timezone, falling back to UTC when the
// name is empty or unknown.
func (w *Window) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Contains reports whether now falls inside [StartDate, EndDate].
// Boundaries are whole calendar days in the window's own timezone: the
// window opens at local midnight of StartDate and closes at the end of
// EndDate's local day. Evaluating against the server's local day would
// shift the window by up to a day for ads in other timezones.
func (w *Window) Contains(now time.Time) bool {
	loc := w.Location()
	local := now.In(loc)
	return !local.Before(w.opensAt(loc)) && local.Before(w.closesAt(loc))
}

// Ended reports whether now is past the end of EndDate's local day.
func (w *Window) Ended(now time.Time) bool {
	loc := w.Location()
	return !now.In(loc).Before(w.closesAt(loc))
}

func (w *Window) opensAt(loc *time.Location) time.Time {
	s := w.StartDate.In(loc)
	return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
}

func (w *Window) closesAt(loc *time.Location) time.Time {
	e := w.EndDate.In(loc)
	return time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}

// SchedulingRules are per-ad delivery constraints. DelaySeconds and
// ScrollTriggerPercent are presentation hints for the client; the
// server never gates on them.
type SchedulingRules struct {
	WeekendsOnly         bool `json:"weekends_only,omitempty"`
	MaxShowsPerIdentity  *int `json:"max_shows_per_identity,omitempty"`
	OncePerSession       bool `json:"once_per_session,omitempty"`
	DelaySeconds         int  `json:"delay_seconds,omitempty"`
	ScrollTriggerPercent int  `json:"scroll_trigger_percent,omitempty"`
}

// Counters is a rolling, eventually-consistent cache of event sums for
// one ad. Values only increase; impressions >= clicks >= conversions.
type Counters struct {
	Impressions   int64      `json:"impressions"`
	Clicks        int64      `json:"clicks"`
	Conversions   int64      `json:"conversions"`
	LastViewedAt  *time.Time `json:"last_viewed_at,omitempty"`
	LastClickedAt *time.Time `json:"last_clicked_at,omitempty"`
}

// CTR returns the click-through rate as a percentage rounded to two
// decimals. Zero impressions yields 0.
func (c *Counters) CTR() float64 {
	if c.Impressions == 0 {
		return 0
	}
	ratio := float64(c.Clicks) / float64(c.Impressions) * 100
	return float64(int64(ratio*100+0.5)) / 100
}

// Advertisement is a promotional unit shown on restaurant menu pages.
// Content is opaque to the engine and passed through to the client.
type Advertisement struct {
	ID        string            `json:"id"`
	Campaign  string            `json:"campaign,omitempty"`
	AdType    string            `json:"ad_type,omitempty"`
	Status    AdStatus          `json:"status"`
	Priority  AdPriority        `json:"priority"`
	Content   map[string]string `json:"content,omitempty"`
	Targeting Targeting         `json:"targeting"`
	Window    Window            `json:"window"`
	Rules     SchedulingRules   `json:"scheduling_rules"`
	Counters  Counters          `json:"counters"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

var (
	errNoID          = errors.New("advertisement id is required")
	errBadStatus     = errors.New("unknown status")
	errBadPriority   = errors.New("unknown priority")
	errEmptyPages    = errors.New("targeting must name at least one page")
	errEmptyCustom   = errors.New("custom page targeting requires at least one URL")
	errWindowOrder   = errors.New("window end date precedes start date")
	errEmptyCategory = errors.New("targeting must name at least one business category")
)

// Validate checks structural invariants before persisting.
func (a *Advertisement) Validate() error {
	if a.ID == "" {
		return errNoID
	}
	if !a.Status.Valid() {
		return errBadStatus
	}
	if a.Priority.Rank() == 0 {
		return errBadPriority
	}
	if len(a.Targeting.Pages) == 0 {
		return errEmptyPages
	}
	if len(a.Targeting.BusinessCategories) == 0 {
		return errEmptyCategory
	}
	hasConcrete := false
	for _, p := range a.Targeting.Pages {
		if p != PageCustom {
			hasConcrete = true
		}
	}
	if !hasConcrete && len(a.Targeting.CustomURLs) == 0 {
		return errEmptyCustom
	}
	if a.Window.EndDate.Before(a.Window.StartDate) {
		return errWindowOrder
	}
	return nil
}

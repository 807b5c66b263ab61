package ads

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/menulink/ad-engine/internal/metrics"
	"github.com/menulink/ad-engine/internal/models"
	"github.com/menulink/ad-engine/internal/storage"
	"go.uber.org/zap"
)

// TimeRange selects the dashboard aggregation window.
type TimeRange string

const (
	RangeToday TimeRange = "today"
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
	RangeYear  TimeRange = "year"
)

// ParseTimeRange validates a range token, defaulting to week when empty.
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case RangeToday, RangeWeek, RangeMonth, RangeYear:
		return TimeRange(s), nil
	case "":
		return RangeWeek, nil
	}
	return "", fmt.Errorf("unknown time range %q", s)
}

// BucketPoint is one chart slot. Buckets with zero events are present
// with zero counts so charts stay stable.
type BucketPoint struct {
	Label       string `json:"label"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
}

// DeviceStats reports the device mix as whole percentages. Desktop is
// the remainder after mobile and tablet, absorbing rounding error.
type DeviceStats struct {
	MobilePct  int `json:"mobile_pct"`
	TabletPct  int `json:"tablet_pct"`
	DesktopPct int `json:"desktop_pct"`
}

// PeakHour is one of the busiest hours of day in the range.
type PeakHour struct {
	Hour  int    `json:"hour"`
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// CategoryStat aggregates events for one business category.
type CategoryStat struct {
	Category    string  `json:"category"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
}

// CountryStat aggregates events for one country, populated when geo
// enrichment is enabled.
type CountryStat struct {
	Country     string `json:"country"`
	Impressions int64  `json:"impressions"`
}

// AdPerformance reports per-ad metrics over the requested range.
type AdPerformance struct {
	AdID        string  `json:"ad_id"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	CTR         float64 `json:"ctr"`
}

// Dashboard is the aggregated snapshot served to the UI.
type Dashboard struct {
	TimeRange        TimeRange       `json:"time_range"`
	Category         string          `json:"category,omitempty"`
	Series           []BucketPoint   `json:"series"`
	TotalImpressions int64           `json:"total_impressions"`
	TotalClicks      int64           `json:"total_clicks"`
	TotalConversions int64           `json:"total_conversions"`
	CTR              float64         `json:"ctr"`
	GrowthPercentage int             `json:"growth_percentage"`
	Devices          DeviceStats     `json:"devices"`
	PeakHours        []PeakHour      `json:"peak_hours"`
	CategoryStats    []CategoryStat  `json:"category_stats"`
	CountryStats     []CountryStat   `json:"country_stats,omitempty"`
	AdPerformance    []AdPerformance `json:"ad_performance"`
	AvgDailyScans    float64         `json:"avg_daily_scans"`
}

// Aggregator time-buckets stored events into dashboard series and
// derived metrics. All event queries are bounded to the requested range
// so cost scales with the range, not total history.
type Aggregator struct {
	events  storage.EventStore
	ads     storage.AdRepo
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAggregator creates a dashboard aggregator.
func NewAggregator(events storage.EventStore, ads storage.AdRepo, logger *zap.Logger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		events:  events,
		ads:     ads,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Dashboard builds the snapshot for the range, optionally filtered to
// one business category.
func (a *Aggregator) Dashboard(ctx context.Context, category string, tr TimeRange) (*Dashboard, error) {
	started := time.Now()
	now := a.now()

	from, to, prevFrom, prevTo := rangeBounds(now, tr)

	events, err := a.events.ListRange(ctx, from, to, category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	prevEvents, err := a.events.ListRange(ctx, prevFrom, prevTo, category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	d := &Dashboard{
		TimeRange: tr,
		Category:  category,
		Series:    bucketize(events, tr, now),
	}

	var clicks, conversions int64
	hourCounts := make([]int64, 24)
	deviceCounts := map[string]int64{}
	categories := map[string]*CategoryStat{}
	countries := map[string]int64{}
	perAd := map[string]*AdPerformance{}

	for _, ev := range events {
		d.TotalImpressions++
		if ev.Clicked {
			clicks++
		}
		if ev.Converted {
			conversions++
		}
		hourCounts[ev.Timestamp.In(now.Location()).Hour()]++
		deviceCounts[ev.Device]++

		cs, ok := categories[ev.BusinessCategory]
		if !ok {
			cs = &CategoryStat{Category: ev.BusinessCategory}
			categories[ev.BusinessCategory] = cs
		}
		cs.Impressions++
		if ev.Clicked {
			cs.Clicks++
		}

		if ev.Country != "" {
			countries[ev.Country]++
		}

		ap, ok := perAd[ev.AdID]
		if !ok {
			ap = &AdPerformance{AdID: ev.AdID}
			perAd[ev.AdID] = ap
		}
		ap.Impressions++
		if ev.Clicked {
			ap.Clicks++
		}
		if ev.Converted {
			ap.Conversions++
		}
	}

	d.TotalClicks = clicks
	d.TotalConversions = conversions
	d.CTR = ctr(clicks, d.TotalImpressions)
	d.GrowthPercentage = GrowthPercentage(int64(len(prevEvents)), d.TotalImpressions)
	d.Devices = deviceStats(deviceCounts, d.TotalImpressions)
	d.PeakHours = peakHours(hourCounts)

	for _, cs := range categories {
		cs.CTR = ctr(cs.Clicks, cs.Impressions)
		d.CategoryStats = append(d.CategoryStats, *cs)
	}
	sort.Slice(d.CategoryStats, func(i, j int) bool {
		return d.CategoryStats[i].Impressions > d.CategoryStats[j].Impressions
	})

	for country, count := range countries {
		d.CountryStats = append(d.CountryStats, CountryStat{Country: country, Impressions: count})
	}
	sort.Slice(d.CountryStats, func(i, j int) bool {
		return d.CountryStats[i].Impressions > d.CountryStats[j].Impressions
	})

	for _, ap := range perAd {
		ap.CTR = ctr(ap.Clicks, ap.Impressions)
		d.AdPerformance = append(d.AdPerformance, *ap)
	}
	sort.Slice(d.AdPerformance, func(i, j int) bool {
		return d.AdPerformance[i].Impressions > d.AdPerformance[j].Impressions
	})

	d.AvgDailyScans = a.avgDailyScans(ctx, now)

	if a.metrics != nil {
		a.metrics.ObserveDashboard(time.Since(started))
	}
	return d, nil
}

// rangeBounds returns the current window [from, to) and the preceding
// window of equal shape used for the growth rate.
func rangeBounds(now time.Time, tr TimeRange) (from, to, prevFrom, prevTo time.Time) {
	loc := now.Location()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	to = now

	switch tr {
	case RangeToday:
		from = midnight
		prevFrom, prevTo = from.AddDate(0, 0, -1), from
	case RangeWeek:
		from = midnight.AddDate(0, 0, -6)
		prevFrom, prevTo = from.AddDate(0, 0, -7), from
	case RangeMonth:
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		prevFrom, prevTo = from.AddDate(0, -1, 0), from
	case RangeYear:
		from = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
		prevFrom, prevTo = from.AddDate(-1, 0, 0), from
	}
	return from, to, prevFrom, prevTo
}

// bucketize groups events into the fixed labeled buckets for the
// range. Every bucket is present even at zero.
func bucketize(events []*models.ImpressionEvent, tr TimeRange, now time.Time) []BucketPoint {
	loc := now.Location()
	var buckets []BucketPoint
	index := func(t time.Time) int { return -1 }

	switch tr {
	case RangeToday:
		buckets = make([]BucketPoint, 24)
		for h := range buckets {
			buckets[h].Label = fmt.Sprintf("%d:00", h)
		}
		index = func(t time.Time) int { return t.In(loc).Hour() }

	case RangeWeek:
		buckets = make([]BucketPoint, 7)
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -6)
		for i := range buckets {
			buckets[i].Label = start.AddDate(0, 0, i).Weekday().String()[:3]
		}
		index = func(t time.Time) int {
			days := int(t.In(loc).Sub(start).Hours() / 24)
			return days
		}

	case RangeMonth:
		buckets = make([]BucketPoint, 4)
		for i := range buckets {
			buckets[i].Label = fmt.Sprintf("Week %d", i+1)
		}
		// Days 1-7, 8-14, 15-21; Week 4 absorbs the 22nd onward.
		index = func(t time.Time) int {
			w := (t.In(loc).Day() - 1) / 7
			if w > 3 {
				w = 3
			}
			return w
		}

	case RangeYear:
		buckets = make([]BucketPoint, 12)
		for i := range buckets {
			buckets[i].Label = time.Month(i + 1).String()[:3]
		}
		index = func(t time.Time) int { return int(t.In(loc).Month()) - 1 }
	}

	for _, ev := range events {
		i := index(ev.Timestamp)
		if i < 0 || i >= len(buckets) {
			continue
		}
		buckets[i].Impressions++
		if ev.Clicked {
			buckets[i].Clicks++
		}
	}
	return buckets
}

// GrowthPercentage compares current volume against the previous period,
// rounded to a whole percent. A start from zero counts as 100% growth;
// two silent periods count as flat.
func GrowthPercentage(previous, current int64) int {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return int(math.Round(float64(current-previous) / float64(previous) * 100))
}

func deviceStats(counts map[string]int64, total int64) DeviceStats {
	if total == 0 {
		return DeviceStats{}
	}
	mobile := int(math.Round(float64(counts[models.DeviceMobile]) / float64(total) * 100))
	tablet := int(math.Round(float64(counts[models.DeviceTablet]) / float64(total) * 100))
	return DeviceStats{
		MobilePct:  mobile,
		TabletPct:  tablet,
		DesktopPct: 100 - mobile - tablet,
	}
}

// peakHours ranks hours of day by volume, keeps the top five, then
// re-sorts that subset by hour descending for display. The two-phase
// sort is deliberate: rank by volume first, order by time of day after.
func peakHours(hourCounts []int64) []PeakHour {
	var hours []PeakHour
	for h, c := range hourCounts {
		if c == 0 {
			continue
		}
		hours = append(hours, PeakHour{Hour: h, Label: fmt.Sprintf("%d:00", h), Count: c})
	}
	sort.SliceStable(hours, func(i, j int) bool { return hours[i].Count > hours[j].Count })
	if len(hours) > 5 {
		hours = hours[:5]
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Hour > hours[j].Hour })
	return hours
}

// avgDailyScans divides lifetime impressions (from the cached ad
// counters, cheap to sum) by the days elapsed since the first stored
// event, floored at one day.
func (a *Aggregator) avgDailyScans(ctx context.Context, now time.Time) float64 {
	ads, err := a.ads.ListAll(ctx)
	if err != nil {
		a.logger.Warn("failed to list ads for avg daily scans", zap.Error(err))
		return 0
	}
	var total int64
	for _, ad := range ads {
		total += ad.Counters.Impressions
	}
	if total == 0 {
		return 0
	}

	first, err := a.events.FirstEventTime(ctx)
	if err != nil {
		a.logger.Warn("failed to read first event time", zap.Error(err))
		return 0
	}
	days := 1
	if !first.IsZero() {
		if d := int(now.Sub(first).Hours() / 24); d > days {
			days = d
		}
	}
	return round2(float64(total) / float64(days))
}

func ctr(clicks, impressions int64) float64 {
	if impressions == 0 {
		return 0
	}
	return round2(float64(clicks) / float64(impressions) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/menulink/ad-engine/internal/models"
)

// InMemoryAdRepo is a map-backed AdRepo. It is used by tests and as a
// degraded fallback when PostgreSQL is not available at startup.
type InMemoryAdRepo struct {
	mu  sync.RWMutex
	ads map[string]*models.Advertisement
}

// NewInMemoryAdRepo creates an empty in-memory ad repository.
func NewInMemoryAdRepo() *InMemoryAdRepo {
	return &InMemoryAdRepo{ads: make(map[string]*models.Advertisement)}
}

func (r *InMemoryAdRepo) ListAll(ctx context.Context) ([]*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.Advertisement, 0, len(r.ads))
	for _, ad := range r.ads {
		cp := *ad
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (r *InMemoryAdRepo) GetByID(ctx context.Context, id string) (*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ad, ok := r.ads[id]
	if !ok {
		return nil, nil
	}
	cp := *ad
	return &cp, nil
}

// Upsert stores a copy of the ad to avoid external mutation of the
// stored object.
func (r *InMemoryAdRepo) Upsert(ctx context.Context, ad *models.Advertisement) error {
	if ad == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ad
	if existing, ok := r.ads[ad.ID]; ok {
		// Counters are owned by IncrementCounters, not by catalog writes.
		cp.Counters = existing.Counters
		cp.CreatedAt = existing.CreatedAt
	}
	r.ads[ad.ID] = &cp
	return nil
}

func (r *InMemoryAdRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ads, id)
	return nil
}

func (r *InMemoryAdRepo) GetByStatus(ctx context.Context, status models.AdStatus) ([]*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.Advertisement
	for _, ad := range r.ads {
		if ad.Status == status {
			cp := *ad
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (r *InMemoryAdRepo) GetCandidates(ctx context.Context, now time.Time) ([]*models.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.Advertisement
	for _, ad := range r.ads {
		if ad.Status != models.StatusActive {
			continue
		}
		// Coarse overlap with a day of slack; the evaluator applies the
		// precise timezone-aware window check.
		if ad.Window.StartDate.After(now.Add(24*time.Hour)) || ad.Window.EndDate.Before(now.Add(-24*time.Hour)) {
			continue
		}
		cp := *ad
		res = append(res, &cp)
	}
	return res, nil
}

func (r *InMemoryAdRepo) UpdateStatus(ctx context.Context, id string, status models.AdStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ad, ok := r.ads[id]; ok {
		ad.Status = status
		ad.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// IncrementCounters applies the delta under the repo lock, which makes
// it atomic with respect to concurrent increments.
func (r *InMemoryAdRepo) IncrementCounters(ctx context.Context, id string, delta CounterDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ad, ok := r.ads[id]
	if !ok {
		return nil
	}
	ad.Counters.Impressions += delta.Impressions
	ad.Counters.Clicks += delta.Clicks
	ad.Counters.Conversions += delta.Conversions
	if delta.ViewedAt != nil {
		t := *delta.ViewedAt
		ad.Counters.LastViewedAt = &t
	}
	if delta.ClickedAt != nil {
		t := *delta.ClickedAt
		ad.Counters.LastClickedAt = &t
	}
	return nil
}

// InMemoryEventStore keeps impression events in memory. Not durable;
// intended for tests and degraded single-node operation.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*models.ImpressionEvent
	order  []string // insertion order, oldest first
}

// NewInMemoryEventStore constructs an empty event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string]*models.ImpressionEvent)}
}

func (s *InMemoryEventStore) SaveImpression(ctx context.Context, ev *models.ImpressionEvent) error {
	if ev == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	if _, ok := s.events[ev.ID]; !ok {
		s.order = append(s.order, ev.ID)
	}
	s.events[ev.ID] = &cp
	return nil
}

func (s *InMemoryEventStore) GetByID(ctx context.Context, id string) (*models.ImpressionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (s *InMemoryEventStore) MarkClicked(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[id]; ok && !ev.Clicked {
		ev.Clicked = true
		t := at
		ev.ClickedAt = &t
	}
	return nil
}

func (s *InMemoryEventStore) MarkConverted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[id]; ok && !ev.Converted {
		ev.Converted = true
		t := at
		ev.ConvertedAt = &t
	}
	return nil
}

func (s *InMemoryEventStore) LatestUnclicked(ctx context.Context, adID, identity string) (*models.ImpressionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.ImpressionEvent
	for _, ev := range s.events {
		if ev.AdID != adID || ev.Identity() != identity || ev.Clicked {
			continue
		}
		if best == nil || ev.Timestamp.After(best.Timestamp) {
			best = ev
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *InMemoryEventStore) LatestUnconverted(ctx context.Context, adID, identity string) (*models.ImpressionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.ImpressionEvent
	for _, ev := range s.events {
		if ev.AdID != adID || ev.Identity() != identity || ev.Converted {
			continue
		}
		if best == nil || better(ev, best) {
			best = ev
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// better prefers clicked impressions, then recency.
func better(a, b *models.ImpressionEvent) bool {
	if a.Clicked != b.Clicked {
		return a.Clicked
	}
	return a.Timestamp.After(b.Timestamp)
}

func (s *InMemoryEventStore) ListRange(ctx context.Context, from, to time.Time, category string) ([]*models.ImpressionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*models.ImpressionEvent
	for _, id := range s.order {
		ev := s.events[id]
		if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		if category != "" && ev.BusinessCategory != category {
			continue
		}
		cp := *ev
		res = append(res, &cp)
	}
	return res, nil
}

func (s *InMemoryEventStore) FirstEventTime(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var first time.Time
	for _, ev := range s.events {
		if first.IsZero() || ev.Timestamp.Before(first) {
			first = ev.Timestamp
		}
	}
	return first, nil
}

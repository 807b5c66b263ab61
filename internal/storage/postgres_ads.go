package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/menulink/ad-engine/internal/models"
)

// PostgresAdRepo implements AdRepo using PostgreSQL.
type PostgresAdRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresAdRepo creates a new PostgreSQL-backed ad repository.
func NewPostgresAdRepo(pool *pgxpool.Pool) *PostgresAdRepo {
	return &PostgresAdRepo{pool: pool}
}

const adColumns = `id, campaign, ad_type, status, priority, content, targeting,
	start_date, end_date, timezone, scheduling_rules,
	impressions, clicks, conversions, last_viewed_at, last_clicked_at,
	created_at, updated_at`

func scanAd(row pgx.Row) (*models.Advertisement, error) {
	var (
		ad            models.Advertisement
		contentJSON   []byte
		targetingJSON []byte
		rulesJSON     []byte
	)
	err := row.Scan(
		&ad.ID, &ad.Campaign, &ad.AdType, &ad.Status, &ad.Priority,
		&contentJSON, &targetingJSON,
		&ad.Window.StartDate, &ad.Window.EndDate, &ad.Window.Timezone, &rulesJSON,
		&ad.Counters.Impressions, &ad.Counters.Clicks, &ad.Counters.Conversions,
		&ad.Counters.LastViewedAt, &ad.Counters.LastClickedAt,
		&ad.CreatedAt, &ad.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(contentJSON) > 0 {
		if err := json.Unmarshal(contentJSON, &ad.Content); err != nil {
			return nil, fmt.Errorf("failed to decode content: %w", err)
		}
	}
	if err := json.Unmarshal(targetingJSON, &ad.Targeting); err != nil {
		return nil, fmt.Errorf("failed to decode targeting: %w", err)
	}
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &ad.Rules); err != nil {
			return nil, fmt.Errorf("failed to decode scheduling rules: %w", err)
		}
	}
	return &ad, nil
}

func (r *PostgresAdRepo) collect(rows pgx.Rows) ([]*models.Advertisement, error) {
	defer rows.Close()
	var ads []*models.Advertisement
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

func (r *PostgresAdRepo) ListAll(ctx context.Context) ([]*models.Advertisement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+adColumns+` FROM advertisements ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list advertisements: %w", err)
	}
	return r.collect(rows)
}

func (r *PostgresAdRepo) GetByID(ctx context.Context, id string) (*models.Advertisement, error) {
	ad, err := scanAd(r.pool.QueryRow(ctx, `
		SELECT `+adColumns+` FROM advertisements WHERE id = $1
	`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get advertisement: %w", err)
	}
	return ad, nil
}

func (r *PostgresAdRepo) Upsert(ctx context.Context, ad *models.Advertisement) error {
	if ad == nil {
		return nil
	}
	contentJSON, err := json.Marshal(ad.Content)
	if err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}
	targetingJSON, err := json.Marshal(ad.Targeting)
	if err != nil {
		return fmt.Errorf("failed to encode targeting: %w", err)
	}
	rulesJSON, err := json.Marshal(ad.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode scheduling rules: %w", err)
	}

	// Counters are owned by IncrementCounters; an upsert never touches them.
	_, err = r.pool.Exec(ctx, `
		INSERT INTO advertisements (
			id, campaign, ad_type, status, priority, content, targeting,
			start_date, end_date, timezone, scheduling_rules, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			campaign = EXCLUDED.campaign,
			ad_type = EXCLUDED.ad_type,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			content = EXCLUDED.content,
			targeting = EXCLUDED.targeting,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			timezone = EXCLUDED.timezone,
			scheduling_rules = EXCLUDED.scheduling_rules,
			updated_at = EXCLUDED.updated_at
	`, ad.ID, ad.Campaign, ad.AdType, ad.Status, ad.Priority, contentJSON, targetingJSON,
		ad.Window.StartDate, ad.Window.EndDate, ad.Window.Timezone, rulesJSON,
		ad.CreatedAt, ad.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert advertisement: %w", err)
	}
	return nil
}

func (r *PostgresAdRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM advertisements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete advertisement: %w", err)
	}
	return nil
}

func (r *PostgresAdRepo) GetByStatus(ctx context.Context, status models.AdStatus) ([]*models.Advertisement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+adColumns+` FROM advertisements WHERE status = $1 ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query by status: %w", err)
	}
	return r.collect(rows)
}

func (r *PostgresAdRepo) GetCandidates(ctx context.Context, now time.Time) ([]*models.Advertisement, error) {
	// One day of slack either side covers timezone skew; the evaluator
	// applies the precise window check in the ad's own timezone.
	rows, err := r.pool.Query(ctx, `
		SELECT `+adColumns+` FROM advertisements
		WHERE status = $1
		  AND start_date <= $2
		  AND end_date >= $3
	`, models.StatusActive, now.Add(24*time.Hour), now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	return r.collect(rows)
}

func (r *PostgresAdRepo) UpdateStatus(ctx context.Context, id string, status models.AdStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE advertisements SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// IncrementCounters applies the delta in a single UPDATE so concurrent
// recorders never lose increments.
func (r *PostgresAdRepo) IncrementCounters(ctx context.Context, id string, delta CounterDelta) error {
	sets := []string{
		"impressions = impressions + $2",
		"clicks = clicks + $3",
		"conversions = conversions + $4",
	}
	args := []interface{}{id, delta.Impressions, delta.Clicks, delta.Conversions}
	if delta.ViewedAt != nil {
		args = append(args, *delta.ViewedAt)
		sets = append(sets, fmt.Sprintf("last_viewed_at = $%d", len(args)))
	}
	if delta.ClickedAt != nil {
		args = append(args, *delta.ClickedAt)
		sets = append(sets, fmt.Sprintf("last_clicked_at = $%d", len(args)))
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE advertisements SET `+strings.Join(sets, ", ")+` WHERE id = $1
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to increment counters: %w", err)
	}
	return nil
}

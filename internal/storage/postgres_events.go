package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/menulink/ad-engine/internal/models"
)

// PostgresEventStore implements EventStore using PostgreSQL.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

const eventColumns = `id, ad_id, user_id, session_id, page, business_category, device, country,
	clicked, clicked_at, converted, converted_at, ts, user_agent, ip, referrer`

func scanEvent(row pgx.Row) (*models.ImpressionEvent, error) {
	var ev models.ImpressionEvent
	err := row.Scan(
		&ev.ID, &ev.AdID, &ev.UserID, &ev.SessionID, &ev.Page, &ev.BusinessCategory,
		&ev.Device, &ev.Country,
		&ev.Clicked, &ev.ClickedAt, &ev.Converted, &ev.ConvertedAt,
		&ev.Timestamp, &ev.UserAgent, &ev.IP, &ev.Referrer,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *PostgresEventStore) SaveImpression(ctx context.Context, ev *models.ImpressionEvent) error {
	if ev == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO impression_events (
			id, ad_id, user_id, session_id, page, business_category, device, country,
			clicked, clicked_at, converted, converted_at, ts, user_agent, ip, referrer
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.AdID, ev.UserID, ev.SessionID, ev.Page, ev.BusinessCategory, ev.Device, ev.Country,
		ev.Clicked, ev.ClickedAt, ev.Converted, ev.ConvertedAt, ev.Timestamp, ev.UserAgent, ev.IP, ev.Referrer)
	if err != nil {
		return fmt.Errorf("failed to save impression: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) GetByID(ctx context.Context, id string) (*models.ImpressionEvent, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM impression_events WHERE id = $1
	`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get impression: %w", err)
	}
	return ev, nil
}

func (s *PostgresEventStore) MarkClicked(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE impression_events SET clicked = TRUE, clicked_at = $2
		WHERE id = $1 AND clicked = FALSE
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark clicked: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) MarkConverted(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE impression_events SET converted = TRUE, converted_at = $2
		WHERE id = $1 AND converted = FALSE
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark converted: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) LatestUnclicked(ctx context.Context, adID, identity string) (*models.ImpressionEvent, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM impression_events
		WHERE ad_id = $1 AND (user_id = $2 OR session_id = $2) AND clicked = FALSE
		ORDER BY ts DESC
		LIMIT 1
	`, adID, identity))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find unclicked impression: %w", err)
	}
	return ev, nil
}

func (s *PostgresEventStore) LatestUnconverted(ctx context.Context, adID, identity string) (*models.ImpressionEvent, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM impression_events
		WHERE ad_id = $1 AND (user_id = $2 OR session_id = $2) AND converted = FALSE
		ORDER BY clicked DESC, ts DESC
		LIMIT 1
	`, adID, identity))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find unconverted impression: %w", err)
	}
	return ev, nil
}

func (s *PostgresEventStore) ListRange(ctx context.Context, from, to time.Time, category string) ([]*models.ImpressionEvent, error) {
	query := `
		SELECT ` + eventColumns + ` FROM impression_events
		WHERE ts >= $1 AND ts < $2`
	args := []interface{}{from, to}
	if category != "" {
		query += ` AND business_category = $3`
		args = append(args, category)
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.ImpressionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresEventStore) FirstEventTime(ctx context.Context) (time.Time, error) {
	// min(ts) is NULL on an empty table, hence the pointer scan.
	var first *time.Time
	err := s.pool.QueryRow(ctx, `SELECT min(ts) FROM impression_events`).Scan(&first)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query first event time: %w", err)
	}
	if first == nil {
		return time.Time{}, nil
	}
	return *first, nil
}

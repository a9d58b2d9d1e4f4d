package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxListLimit = 500

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Report is one rendered report together with the metrics it was built from.
type Report struct {
	ID        int64              `json:"id"`
	Source    string             `json:"source"`
	Metrics   map[string]float64 `json:"metrics"`
	Message   string             `json:"message"`
	Sent      bool               `json:"sent"`
	CreatedAt time.Time          `json:"created_at"`
}

func (s *Store) SaveReport(ctx context.Context, r Report) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reports (source, metrics, message, sent)
		VALUES ($1, $2, $3, $4)`,
		r.Source, metrics, r.Message, r.Sent)
	return err
}

// LatestReport returns the most recent delivered report for source, or nil
// when none has been sent yet.
func (s *Store) LatestReport(ctx context.Context, source string) (*Report, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source, metrics, message, sent, created_at
		FROM reports WHERE source = $1 AND sent = true
		ORDER BY created_at DESC LIMIT 1`, source)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReports returns the newest reports first. An empty source lists all.
func (s *Store) ListReports(ctx context.Context, source string, limit int) ([]Report, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, metrics, message, sent, created_at
		FROM reports WHERE ($1 = '' OR source = $1)
		ORDER BY created_at DESC LIMIT $2`, source, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// PruneReports deletes reports older than maxAge.
func (s *Store) PruneReports(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reports WHERE created_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanReport(row pgx.Row) (*Report, error) {
	var (
		r   Report
		raw []byte
	)
	if err := row.Scan(&r.ID, &r.Source, &raw, &r.Message, &r.Sent, &r.CreatedAt); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &r.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return &r, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceattr/internal/config"
	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/internal/vision"
)

var ErrNotFound = errors.New("analysis not found")

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type PostgresStore struct {
	pool DB
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithDB wraps an existing pool (or a mock of one).
func NewPostgresStoreWithDB(db DB) *PostgresStore {
	return &PostgresStore{pool: db}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const analysisColumns = `id, source, result, snapshot_key, created_at`

// SaveAnalysis inserts a history entry. A zero ID is replaced with a new UUID;
// CreatedAt is set by the database. Saving an ID that already exists is a
// no-op that reports the stored CreatedAt, so redelivered results are safe.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, a *models.Analysis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	result, err := json.Marshal(a.Result)
	if err != nil {
		return fmt.Errorf("encode analysis result: %w", err)
	}
	vec := pgvector.NewVector(models.AttributeVector(&a.Result))

	err = s.pool.QueryRow(ctx,
		`INSERT INTO analyses (id, source, age_label, age_confidence, gender_label, gender_confidence,
			expression_label, expression_confidence, processing_time_ms, faces_detected, result, attributes, snapshot_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING created_at`,
		a.ID, a.Source,
		a.Result.Age.Label, a.Result.Age.Confidence,
		a.Result.Gender.Label, a.Result.Gender.Confidence,
		a.Result.Expression.Label, a.Result.Expression.Confidence,
		a.Result.ProcessingTimeMs, a.Result.FacesDetected,
		result, vec, a.SnapshotKey,
	).Scan(&a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.pool.QueryRow(ctx, `SELECT created_at FROM analyses WHERE id = $1`, a.ID).Scan(&a.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// GetAnalysis returns nil, nil when id does not exist.
func (s *PostgresStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	a, err := scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

// ListAnalyses returns one page of history, newest first, and the total count.
func (s *PostgresStore) ListAnalyses(ctx context.Context, limit, offset int) ([]models.Analysis, int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+analysisColumns+` FROM analyses ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	analyses := []models.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		analyses = append(analyses, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	return analyses, total, nil
}

// DeleteAnalysis removes one entry and returns its snapshot key so the caller
// can drop the object.
func (s *PostgresStore) DeleteAnalysis(ctx context.Context, id uuid.UUID) (string, error) {
	var snapshotKey string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM analyses WHERE id = $1 RETURNING snapshot_key`, id,
	).Scan(&snapshotKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("delete analysis: %w", err)
	}
	return snapshotKey, nil
}

// ClearAnalyses removes the whole history and returns the non-empty snapshot
// keys of the deleted entries together with the number of rows removed.
func (s *PostgresStore) ClearAnalyses(ctx context.Context) ([]string, int, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM analyses RETURNING snapshot_key`)
	if err != nil {
		return nil, 0, fmt.Errorf("clear analyses: %w", err)
	}
	defer rows.Close()

	var (
		keys    []string
		deleted int
	)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, 0, fmt.Errorf("scan snapshot key: %w", err)
		}
		deleted++
		if key != "" {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("clear analyses: %w", err)
	}
	return keys, deleted, nil
}

// SimilarAnalyses ranks other entries by cosine similarity of their attribute
// vectors to the vector of id.
func (s *PostgresStore) SimilarAnalyses(ctx context.Context, id uuid.UUID, limit int) ([]models.SimilarAnalysis, error) {
	if limit <= 0 {
		limit = 5
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.pool.Query(ctx,
		`WITH target AS (SELECT attributes FROM analyses WHERE id = $1)
		 SELECT a.id, a.source, a.result, a.snapshot_key, a.created_at,
			1 - (a.attributes <=> target.attributes) AS similarity
		 FROM analyses a, target
		 WHERE a.id <> $1
		 ORDER BY a.attributes <=> target.attributes
		 LIMIT $2`,
		id, limit)
	if err != nil {
		return nil, fmt.Errorf("similar analyses: %w", err)
	}
	defer rows.Close()

	matches := []models.SimilarAnalysis{}
	for rows.Next() {
		var (
			m      models.SimilarAnalysis
			result []byte
		)
		if err := rows.Scan(&m.ID, &m.Source, &result, &m.SnapshotKey, &m.CreatedAt, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan similar analysis: %w", err)
		}
		if err := json.Unmarshal(result, &m.Result); err != nil {
			return nil, fmt.Errorf("decode analysis %s: %w", m.ID, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similar analyses: %w", err)
	}
	return matches, nil
}

// Stats aggregates the history: totals, mean processing time and per-domain
// label counts.
func (s *PostgresStore) Stats(ctx context.Context) (*models.AnalysisStats, error) {
	stats := &models.AnalysisStats{LabelCounts: map[string]map[string]int64{}}
	for _, d := range vision.Domains {
		stats.LabelCounts[string(d)] = map[string]int64{}
	}

	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(processing_time_ms), 0), MAX(created_at) FROM analyses`,
	).Scan(&stats.Total, &stats.AvgProcessingMs, &last)
	if err != nil {
		return nil, fmt.Errorf("analysis totals: %w", err)
	}
	stats.LastAnalysisAt = last

	rows, err := s.pool.Query(ctx,
		`SELECT 'age', age_label, COUNT(*) FROM analyses GROUP BY age_label
		 UNION ALL
		 SELECT 'gender', gender_label, COUNT(*) FROM analyses GROUP BY gender_label
		 UNION ALL
		 SELECT 'expression', expression_label, COUNT(*) FROM analyses GROUP BY expression_label`)
	if err != nil {
		return nil, fmt.Errorf("label counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			domain, label string
			count         int64
		)
		if err := rows.Scan(&domain, &label, &count); err != nil {
			return nil, fmt.Errorf("scan label count: %w", err)
		}
		if stats.LabelCounts[domain] == nil {
			stats.LabelCounts[domain] = map[string]int64{}
		}
		stats.LabelCounts[domain][label] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("label counts: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*models.Analysis, error) {
	var (
		a      models.Analysis
		result []byte
	)
	if err := row.Scan(&a.ID, &a.Source, &result, &a.SnapshotKey, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(result, &a.Result); err != nil {
		return nil, fmt.Errorf("decode analysis %s: %w", a.ID, err)
	}
	return &a, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/variantlabs/experiment-controller/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	ListExperiments(ctx context.Context) ([]models.Experiment, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
	GetExperiment(ctx context.Context, id string) (models.Experiment, error)
	UpdateExperiment(ctx context.Context, id string, in UpdateExperimentInput) (models.Experiment, error)
	CreateDeploymentRecord(ctx context.Context, in DeploymentRecordInput) (models.DeploymentRecord, error)
	Ping(ctx context.Context) error
}

// UpdateExperimentInput is a partial update; nil fields are left untouched.
type UpdateExperimentInput struct {
	Status       *models.ExperimentStatus
	Results      *models.ExperimentResults
	PausedReason *string
	PausedAt     *time.Time
}

type DeploymentRecordInput struct {
	ID           uuid.UUID
	ExperimentID string
	VariantID    string
	Pipeline     string
	Message      string
	Environment  string
	Status       string
	InitiatedBy  string
	StartedAt    time.Time
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) ListExperiments(ctx context.Context) ([]models.Experiment, error) {
	const query = `
		SELECT id, name, variants, status, start_date, end_date, metadata, results,
		       paused_reason, paused_at, created_at, updated_at
		FROM experiments
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []models.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return out, nil
}

func (s *PGStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	const query = `
		SELECT experiment_id, variant_id, event_type, ts
		FROM events
		ORDER BY ts
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ExperimentID, &ev.VariantID, &ev.EventType, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (s *PGStore) GetExperiment(ctx context.Context, id string) (models.Experiment, error) {
	const query = `
		SELECT id, name, variants, status, start_date, end_date, metadata, results,
		       paused_reason, paused_at, created_at, updated_at
		FROM experiments
		WHERE id=$1
	`
	row := s.db.QueryRowContext(ctx, query, id)
	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Experiment{}, ErrNotFound
	}
	if err != nil {
		return models.Experiment{}, err
	}
	return exp, nil
}

func (s *PGStore) UpdateExperiment(ctx context.Context, id string, in UpdateExperimentInput) (models.Experiment, error) {
	var resultsJSON interface{}
	if in.Results != nil {
		raw, err := json.Marshal(in.Results)
		if err != nil {
			return models.Experiment{}, fmt.Errorf("marshal results: %w", err)
		}
		resultsJSON = raw
	}

	const query = `
		UPDATE experiments
		SET status = COALESCE($2::text, status),
		    results = COALESCE($3::jsonb, results),
		    paused_reason = COALESCE($4::text, paused_reason),
		    paused_at = COALESCE($5::timestamptz, paused_at),
		    updated_at = NOW()
		WHERE id=$1
		RETURNING id, name, variants, status, start_date, end_date, metadata, results,
		          paused_reason, paused_at, created_at, updated_at
	`
	var status interface{}
	if in.Status != nil {
		status = string(*in.Status)
	}
	row := s.db.QueryRowContext(ctx, query, id, status, resultsJSON, in.PausedReason, in.PausedAt)
	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Experiment{}, ErrNotFound
	}
	if err != nil {
		return models.Experiment{}, fmt.Errorf("update experiment: %w", err)
	}
	return exp, nil
}

func (s *PGStore) CreateDeploymentRecord(ctx context.Context, in DeploymentRecordInput) (models.DeploymentRecord, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO deployment_log (id, experiment_id, variant_id, pipeline, message, environment, status, initiated_by, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	if _, err := s.db.ExecContext(ctx, query, in.ID, in.ExperimentID, in.VariantID, in.Pipeline, in.Message, in.Environment, in.Status, in.InitiatedBy, in.StartedAt); err != nil {
		return models.DeploymentRecord{}, fmt.Errorf("insert deployment record: %w", err)
	}
	return models.DeploymentRecord{
		ID:           in.ID,
		ExperimentID: in.ExperimentID,
		VariantID:    in.VariantID,
		Pipeline:     in.Pipeline,
		Message:      in.Message,
		Environment:  in.Environment,
		Status:       in.Status,
		InitiatedBy:  in.InitiatedBy,
		StartedAt:    in.StartedAt,
	}, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(row rowScanner) (models.Experiment, error) {
	var (
		exp          models.Experiment
		variants     []byte
		metadata     []byte
		results      []byte
		startDate    sql.NullTime
		endDate      sql.NullTime
		pausedReason sql.NullString
		pausedAt     sql.NullTime
	)
	err := row.Scan(
		&exp.ID,
		&exp.Name,
		&variants,
		&exp.Status,
		&startDate,
		&endDate,
		&metadata,
		&results,
		&pausedReason,
		&pausedAt,
		&exp.CreatedAt,
		&exp.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Experiment{}, sql.ErrNoRows
	}
	if err != nil {
		return models.Experiment{}, fmt.Errorf("scan experiment: %w", err)
	}
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &exp.Variants); err != nil {
			return models.Experiment{}, fmt.Errorf("decode variants for %s: %w", exp.ID, err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &exp.Metadata); err != nil {
			return models.Experiment{}, fmt.Errorf("decode metadata for %s: %w", exp.ID, err)
		}
	}
	if len(results) > 0 {
		var r models.ExperimentResults
		if err := json.Unmarshal(results, &r); err != nil {
			return models.Experiment{}, fmt.Errorf("decode results for %s: %w", exp.ID, err)
		}
		exp.Results = &r
	}
	if startDate.Valid {
		t := startDate.Time
		exp.StartDate = &t
	}
	if endDate.Valid {
		t := endDate.Time
		exp.EndDate = &t
	}
	if pausedReason.Valid {
		exp.PausedReason = pausedReason.String
	}
	if pausedAt.Valid {
		t := pausedAt.Time
		exp.PausedAt = &t
	}
	return exp, nil
}

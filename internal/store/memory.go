package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/variantlabs/experiment-controller/internal/models"
)

// MemoryStore provides an in-memory implementation useful for tests.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]models.Experiment
	events      []models.Event
	deployments map[uuid.UUID]models.DeploymentRecord

	// UpdateErr, when set, is returned by UpdateExperiment for the matching
	// experiment id; it lets tests simulate per-experiment write failures.
	UpdateErr map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: map[string]models.Experiment{},
		deployments: map[uuid.UUID]models.DeploymentRecord{},
		UpdateErr:   map[string]error{},
	}
}

func (m *MemoryStore) PutExperiment(exp models.Experiment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}
	m.experiments[exp.ID] = exp
}

func (m *MemoryStore) AppendEvents(events ...models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
}

func (m *MemoryStore) ListExperiments(ctx context.Context) ([]models.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Experiment, 0, len(m.experiments))
	for _, exp := range m.experiments {
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Event(nil), m.events...), nil
}

func (m *MemoryStore) GetExperiment(ctx context.Context, id string) (models.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.experiments[id]
	if !ok {
		return models.Experiment{}, ErrNotFound
	}
	return exp, nil
}

func (m *MemoryStore) UpdateExperiment(ctx context.Context, id string, in UpdateExperimentInput) (models.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.UpdateErr[id]; ok && err != nil {
		return models.Experiment{}, err
	}
	exp, ok := m.experiments[id]
	if !ok {
		return models.Experiment{}, ErrNotFound
	}
	if in.Status != nil {
		exp.Status = *in.Status
	}
	if in.Results != nil {
		exp.Results = in.Results
	}
	if in.PausedReason != nil {
		exp.PausedReason = *in.PausedReason
	}
	if in.PausedAt != nil {
		t := *in.PausedAt
		exp.PausedAt = &t
	}
	exp.UpdatedAt = time.Now().UTC()
	m.experiments[id] = exp
	return exp, nil
}

func (m *MemoryStore) CreateDeploymentRecord(ctx context.Context, in DeploymentRecordInput) (models.DeploymentRecord, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = time.Now().UTC()
	}
	rec := models.DeploymentRecord{
		ID:           in.ID,
		ExperimentID: in.ExperimentID,
		VariantID:    in.VariantID,
		Pipeline:     in.Pipeline,
		Message:      in.Message,
		Environment:  in.Environment,
		Status:       in.Status,
		InitiatedBy:  in.InitiatedBy,
		StartedAt:    in.StartedAt,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[rec.ID] = rec
	return rec, nil
}

// DeploymentRecords returns the persisted deployment log entries, for test
// assertions.
func (m *MemoryStore) DeploymentRecords() []models.DeploymentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DeploymentRecord, 0, len(m.deployments))
	for _, rec := range m.deployments {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

package sweep_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/variantlabs/experiment-controller/internal/deploy"
	"github.com/variantlabs/experiment-controller/internal/models"
	"github.com/variantlabs/experiment-controller/internal/store"
	"github.com/variantlabs/experiment-controller/internal/sweep"
)

var now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fakeTrigger struct {
	mu       sync.Mutex
	requests []deploy.Request
	err      error
}

func (f *fakeTrigger) DeployWinner(ctx context.Context, req deploy.Request) (deploy.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return deploy.Handle{}, f.err
	}
	return deploy.Handle{PipelineID: "pipe-1", Status: "queued"}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingNotifier) Notify(ctx context.Context, subject, body string, recipients []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func newExperiment(id string, status models.ExperimentStatus) models.Experiment {
	return models.Experiment{
		ID:     id,
		Name:   id,
		Status: status,
		Variants: []models.Variant{
			{ID: "x", Name: "control"},
			{ID: "y", Name: "challenger"},
		},
	}
}

func seedEvents(st *store.MemoryStore, expID, variantID string, impressions, conversions int) {
	events := make([]models.Event, 0, impressions+conversions)
	for i := 0; i < impressions; i++ {
		events = append(events, models.Event{ExperimentID: expID, VariantID: variantID, EventType: models.EventImpression, Timestamp: now})
	}
	for i := 0; i < conversions; i++ {
		events = append(events, models.Event{ExperimentID: expID, VariantID: variantID, EventType: models.EventConversion, Timestamp: now})
	}
	st.AppendEvents(events...)
}

func TestSweepStartsScheduledDraft(t *testing.T) {
	st := store.NewMemoryStore()
	exp := newExperiment("exp-draft", models.StatusDraft)
	past := now.Add(-time.Hour)
	exp.StartDate = &past
	st.PutExperiment(exp)

	report, err := sweep.New(st, nil, nil, nil, sweep.Config{}).Run(context.Background(), now)

	assert.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 0, report.Errors)

	got, _ := st.GetExperiment(context.Background(), "exp-draft")
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestSweepDeclaresWinnerAndDeploys(t *testing.T) {
	st := store.NewMemoryStore()
	exp := newExperiment("exp-sig", models.StatusActive)
	exp.Metadata.AutoDeploy = true
	exp.Metadata.DeploymentEnvironment = "production"
	st.PutExperiment(exp)
	seedEvents(st, "exp-sig", "x", 120, 30)
	seedEvents(st, "exp-sig", "y", 120, 12)

	trigger := &fakeTrigger{}
	notifier := &recordingNotifier{}
	report, err := sweep.New(st, notifier, trigger, nil, sweep.Config{}).Run(context.Background(), now)

	assert.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.WinnersDeclared)
	assert.Equal(t, 1, report.DeploymentsStarted)
	assert.Equal(t, 0, report.Errors)

	got, _ := st.GetExperiment(context.Background(), "exp-sig")
	assert.Equal(t, models.StatusCompleted, got.Status)
	if assert.NotNil(t, got.Results) {
		assert.Equal(t, "x", got.Results.WinnerVariantID)
		assert.GreaterOrEqual(t, got.Results.ConfidencePercent, 95.0)
	}

	if assert.Len(t, trigger.requests, 1) {
		assert.Equal(t, "x", trigger.requests[0].VariantID)
		assert.Equal(t, "production", trigger.requests[0].Environment)
	}
	records := st.DeploymentRecords()
	if assert.Len(t, records, 1) {
		assert.Equal(t, "pending", records[0].Status)
		assert.Equal(t, "system", records[0].InitiatedBy)
		assert.Equal(t, "production", records[0].Environment)
	}
	assert.NotEmpty(t, notifier.subjects)
}

func TestSweepRecordsDeploymentIntentEvenWhenTriggerFails(t *testing.T) {
	st := store.NewMemoryStore()
	exp := newExperiment("exp-sig", models.StatusActive)
	exp.Metadata.AutoDeploy = true
	st.PutExperiment(exp)
	seedEvents(st, "exp-sig", "x", 120, 30)
	seedEvents(st, "exp-sig", "y", 120, 12)

	trigger := &fakeTrigger{err: errors.New("pipeline rejected")}
	report, err := sweep.New(st, nil, trigger, nil, sweep.Config{}).Run(context.Background(), now)

	assert.NoError(t, err, "a trigger failure never fails the sweep")
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.DeploymentsStarted)
	assert.Equal(t, 1, report.Errors)
	assert.Len(t, st.DeploymentRecords(), 1)

	got, _ := st.GetExperiment(context.Background(), "exp-sig")
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestSweepDoesNotCompleteUnderSampleGate(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutExperiment(newExperiment("exp-small", models.StatusActive))
	seedEvents(st, "exp-small", "x", 50, 5)
	seedEvents(st, "exp-small", "y", 50, 4)

	report, err := sweep.New(st, nil, nil, nil, sweep.Config{}).Run(context.Background(), now)

	assert.NoError(t, err)
	assert.Equal(t, 0, report.Completed)

	got, _ := st.GetExperiment(context.Background(), "exp-small")
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestSweepPausesLowPerformers(t *testing.T) {
	st := store.NewMemoryStore()
	exp := newExperiment("exp-low", models.StatusActive)
	exp.Metadata.AutoPauseLowPerformance = true
	st.PutExperiment(exp)
	seedEvents(st, "exp-low", "x", 300, 1)
	seedEvents(st, "exp-low", "y", 300, 2)

	report, err := sweep.New(st, nil, nil, nil, sweep.Config{}).Run(context.Background(), now)

	assert.NoError(t, err)
	assert.Equal(t, 1, report.Paused)

	got, _ := st.GetExperiment(context.Background(), "exp-low")
	assert.Equal(t, models.StatusPaused, got.Status)
	assert.Equal(t, models.PausedReasonLowPerformance, got.PausedReason)
	assert.NotNil(t, got.PausedAt)
}

func TestSweepIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	draft := newExperiment("exp-draft", models.StatusDraft)
	past := now.Add(-time.Hour)
	draft.StartDate = &past
	st.PutExperiment(draft)

	sig := newExperiment("exp-sig", models.StatusActive)
	st.PutExperiment(sig)
	seedEvents(st, "exp-sig", "x", 120, 30)
	seedEvents(st, "exp-sig", "y", 120, 12)

	low := newExperiment("exp-low", models.StatusActive)
	low.Metadata.AutoPauseLowPerformance = true
	st.PutExperiment(low)
	seedEvents(st, "exp-low", "x", 300, 1)
	seedEvents(st, "exp-low", "y", 300, 2)

	sweeper := sweep.New(st, nil, nil, nil, sweep.Config{})

	first, err := sweeper.Run(context.Background(), now)
	assert.NoError(t, err)
	assert.Equal(t, 3, first.Started+first.Completed+first.Paused)

	second, err := sweeper.Run(context.Background(), now)
	assert.NoError(t, err)
	assert.Equal(t, 0, second.Completed)
	assert.Equal(t, 0, second.Paused)
	// The draft that became active in the first pass stays active; no new
	// transitions fire with no new events.
	assert.Equal(t, 0, second.Started)
}

func TestSweepNeverRewritesCompletedResults(t *testing.T) {
	st := store.NewMemoryStore()
	exp := newExperiment("exp-done", models.StatusCompleted)
	exp.Results = &models.ExperimentResults{
		WinnerVariantID:   "x",
		ConfidencePercent: 97.5,
		CompletedAt:       now.Add(-24 * time.Hour),
	}
	st.PutExperiment(exp)
	// New contradicting events arrive after completion.
	seedEvents(st, "exp-done", "y", 1000, 900)
	seedEvents(st, "exp-done", "x", 1000, 10)

	report, err := sweep.New(st, nil, nil, nil, sweep.Config{}).Run(context.Background(), now)

	assert.NoError(t, err)
	assert.Equal(t, 0, report.Completed)

	got, _ := st.GetExperiment(context.Background(), "exp-done")
	assert.Equal(t, "x", got.Results.WinnerVariantID)
	assert.Equal(t, 97.5, got.Results.ConfidencePercent)
}

func TestSweepContinuesPastWriteFailures(t *testing.T) {
	st := store.NewMemoryStore()

	broken := newExperiment("exp-broken", models.StatusDraft)
	past := now.Add(-time.Hour)
	broken.StartDate = &past
	st.PutExperiment(broken)
	st.UpdateErr["exp-broken"] = errors.New("connection reset")

	fine := newExperiment("exp-fine", models.StatusDraft)
	fine.StartDate = &past
	st.PutExperiment(fine)

	report, err := sweep.New(st, nil, nil, nil, sweep.Config{}).Run(context.Background(), now)

	assert.NoError(t, err)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 1, report.Errors)

	got, _ := st.GetExperiment(context.Background(), "exp-fine")
	assert.Equal(t, models.StatusActive, got.Status)
	got, _ = st.GetExperiment(context.Background(), "exp-broken")
	assert.Equal(t, models.StatusDraft, got.Status, "failed write leaves prior state")
}

func TestSweepSkipsMalformedExperiments(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutExperiment(models.Experiment{ID: "exp-empty", Name: "no variants", Status: models.StatusActive})

	fine := newExperiment("exp-fine", models.StatusDraft)
	past := now.Add(-time.Hour)
	fine.StartDate = &past
	st.PutExperiment(fine)

	report, err := sweep.New(st, nil, nil, nil, sweep.Config{}).Run(context.Background(), now)

	assert.NoError(t, err)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Started)
}

func TestSweepCancelledContextLeavesStateUntouched(t *testing.T) {
	st := store.NewMemoryStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		exp := newExperiment("exp-"+id, models.StatusDraft)
		past := now.Add(-time.Hour)
		exp.StartDate = &past
		st.PutExperiment(exp)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := sweep.New(st, nil, nil, nil, sweep.Config{Workers: 2}).Run(ctx, now)

	assert.NoError(t, err)
	assert.Equal(t, 0, report.Started)
	experiments, _ := st.ListExperiments(context.Background())
	for _, exp := range experiments {
		assert.Equal(t, models.StatusDraft, exp.Status)
	}
}

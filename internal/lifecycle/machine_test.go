package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/variantlabs/experiment-controller/internal/lifecycle"
	"github.com/variantlabs/experiment-controller/internal/models"
	"github.com/variantlabs/experiment-controller/internal/stats"
)

var now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func twoVariantExperiment(status models.ExperimentStatus) models.Experiment {
	return models.Experiment{
		ID:       "exp-1",
		Name:     "checkout button",
		Status:   status,
		Variants: []models.Variant{{ID: "x", Name: "control"}, {ID: "y", Name: "challenger"}},
	}
}

func statsFor(xImp, xConv, yImp, yConv int) map[string]models.VariantStats {
	exp := twoVariantExperiment(models.StatusActive)
	var events []models.Event
	add := func(variantID string, imp, conv int) {
		for i := 0; i < imp; i++ {
			events = append(events, models.Event{ExperimentID: exp.ID, VariantID: variantID, EventType: models.EventImpression})
		}
		for i := 0; i < conv; i++ {
			events = append(events, models.Event{ExperimentID: exp.ID, VariantID: variantID, EventType: models.EventConversion})
		}
	}
	add("x", xImp, xConv)
	add("y", yImp, yConv)
	return stats.Aggregate(exp.Variants, events)
}

func evaluateFor(exp models.Experiment, byVariant map[string]models.VariantStats) *lifecycle.Transition {
	verdict := stats.Evaluate(exp.Variants, byVariant)
	return lifecycle.Evaluate(exp, byVariant, verdict, now, lifecycle.DefaultThresholds())
}

func TestDraftStartsWhenStartDateReached(t *testing.T) {
	exp := twoVariantExperiment(models.StatusDraft)
	past := now.Add(-time.Hour)
	exp.StartDate = &past

	tr := evaluateFor(exp, statsFor(0, 0, 0, 0))

	if assert.NotNil(t, tr) {
		assert.Equal(t, models.TransitionStarted, tr.Kind)
		assert.Equal(t, models.StatusActive, tr.NewStatus)
		assert.Nil(t, tr.Results)
	}
}

func TestDraftWaitsForStartDate(t *testing.T) {
	exp := twoVariantExperiment(models.StatusDraft)
	future := now.Add(time.Hour)
	exp.StartDate = &future
	assert.Nil(t, evaluateFor(exp, statsFor(0, 0, 0, 0)))

	exp.StartDate = nil
	assert.Nil(t, evaluateFor(exp, statsFor(0, 0, 0, 0)))
}

func TestActiveCompletesOnSignificance(t *testing.T) {
	exp := twoVariantExperiment(models.StatusActive)

	tr := evaluateFor(exp, statsFor(120, 30, 120, 12))

	if assert.NotNil(t, tr) {
		assert.Equal(t, models.TransitionCompleted, tr.Kind)
		assert.Equal(t, models.StatusCompleted, tr.NewStatus)
		if assert.NotNil(t, tr.Results) {
			assert.Equal(t, "x", tr.Results.WinnerVariantID)
			assert.Equal(t, 240, tr.Results.TotalParticipants)
			assert.GreaterOrEqual(t, tr.Results.ConfidencePercent, 95.0)
			assert.Equal(t, now, tr.Results.CompletedAt)
		}
	}
}

func TestSampleGateBlocksSmallExperiments(t *testing.T) {
	// Even a lopsided verdict must not complete until every variant has
	// reached the minimum sample size.
	exp := twoVariantExperiment(models.StatusActive)

	assert.Nil(t, evaluateFor(exp, statsFor(50, 5, 50, 4)))
	// One variant over, one under: still gated.
	assert.Nil(t, evaluateFor(exp, statsFor(500, 250, 99, 1)))
}

func TestActivePausesOnLowPerformance(t *testing.T) {
	exp := twoVariantExperiment(models.StatusActive)
	exp.Metadata.AutoPauseLowPerformance = true

	tr := evaluateFor(exp, statsFor(300, 1, 300, 2))

	if assert.NotNil(t, tr) {
		assert.Equal(t, models.TransitionPaused, tr.Kind)
		assert.Equal(t, models.StatusPaused, tr.NewStatus)
		assert.Equal(t, models.PausedReasonLowPerformance, tr.PausedReason)
		if assert.NotNil(t, tr.PausedAt) {
			assert.Equal(t, now, *tr.PausedAt)
		}
	}
}

func TestLowPerformanceRequiresOptIn(t *testing.T) {
	exp := twoVariantExperiment(models.StatusActive)
	assert.Nil(t, evaluateFor(exp, statsFor(300, 1, 300, 2)))
}

func TestLowPerformanceRequiresVolume(t *testing.T) {
	exp := twoVariantExperiment(models.StatusActive)
	exp.Metadata.AutoPauseLowPerformance = true
	// 400 total impressions is under the 500 floor.
	assert.Nil(t, evaluateFor(exp, statsFor(200, 1, 200, 1)))
}

func TestEndDateExpiresActiveExperiment(t *testing.T) {
	exp := twoVariantExperiment(models.StatusActive)
	past := now.Add(-time.Minute)
	exp.EndDate = &past

	tr := evaluateFor(exp, statsFor(10, 1, 10, 0))

	if assert.NotNil(t, tr) {
		assert.Equal(t, models.TransitionExpired, tr.Kind)
		assert.Equal(t, models.StatusCompleted, tr.NewStatus)
		assert.Nil(t, tr.Results, "an underpowered test expires without a winner")
	}
}

func TestEndDateExpiryKeepsQualifiedWinner(t *testing.T) {
	exp := twoVariantExperiment(models.StatusActive)
	past := now.Add(-time.Minute)
	exp.EndDate = &past

	tr := evaluateFor(exp, statsFor(120, 30, 120, 12))

	if assert.NotNil(t, tr) {
		assert.Equal(t, models.TransitionExpired, tr.Kind)
		if assert.NotNil(t, tr.Results) {
			assert.Equal(t, "x", tr.Results.WinnerVariantID)
		}
	}
}

func TestEndDateExpiresPausedExperiment(t *testing.T) {
	exp := twoVariantExperiment(models.StatusPaused)
	past := now.Add(-time.Minute)
	exp.EndDate = &past

	tr := evaluateFor(exp, statsFor(120, 30, 120, 12))

	if assert.NotNil(t, tr) {
		assert.Equal(t, models.TransitionExpired, tr.Kind)
		assert.Nil(t, tr.Results, "a paused test never declares a winner at expiry")
	}
}

func TestPausedNeverAutoResumes(t *testing.T) {
	exp := twoVariantExperiment(models.StatusPaused)
	assert.Nil(t, evaluateFor(exp, statsFor(120, 30, 120, 12)))
}

func TestCompletedIsTerminal(t *testing.T) {
	exp := twoVariantExperiment(models.StatusCompleted)
	exp.Results = &models.ExperimentResults{WinnerVariantID: "x"}
	past := now.Add(-time.Minute)
	exp.EndDate = &past

	assert.Nil(t, evaluateFor(exp, statsFor(120, 12, 120, 30)))
}

func TestSignificanceBeforeLowPerformance(t *testing.T) {
	// A significant low-traffic-but-qualified experiment completes; the
	// low-performance row never gets a look once an earlier row fires.
	exp := twoVariantExperiment(models.StatusActive)
	exp.Metadata.AutoPauseLowPerformance = true

	tr := evaluateFor(exp, statsFor(400, 7, 400, 0))

	if assert.NotNil(t, tr) {
		assert.Equal(t, models.TransitionCompleted, tr.Kind)
	}
}

func TestThresholdOverrides(t *testing.T) {
	exp := twoVariantExperiment(models.StatusActive)
	byVariant := statsFor(50, 20, 50, 2)
	verdict := stats.Evaluate(exp.Variants, byVariant)

	th := lifecycle.DefaultThresholds()
	th.MinImpressions = 10

	tr := lifecycle.Evaluate(exp, byVariant, verdict, now, th)
	if assert.NotNil(t, tr) {
		assert.Equal(t, models.TransitionCompleted, tr.Kind)
	}
}

package lifecycle

import (
	"time"

	"github.com/variantlabs/experiment-controller/internal/models"
	"github.com/variantlabs/experiment-controller/internal/stats"
)

// Thresholds are the gate values the state machine compares against. They
// are injected rather than read from package state so tests can tighten or
// loosen them.
type Thresholds struct {
	// MinImpressions is the per-variant sample size a significance verdict
	// requires before it may complete an experiment.
	MinImpressions int
	// ConfidenceLevel is the minimum confidence percentage for declaring a
	// winner.
	ConfidenceLevel float64
	// LowPerfMinTotal is the total impression count across variants before
	// the low-performance check applies.
	LowPerfMinTotal int
	// LowPerfRate is the mean conversion rate below which an experiment is
	// considered low-performing.
	LowPerfRate float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinImpressions:  100,
		ConfidenceLevel: 95.0,
		LowPerfMinTotal: 500,
		LowPerfRate:     0.01,
	}
}

// Transition describes the single state change one sweep may apply to one
// experiment.
type Transition struct {
	Kind         models.TransitionKind
	NewStatus    models.ExperimentStatus
	Results      *models.ExperimentResults
	PausedReason string
	PausedAt     *time.Time
}

// Evaluate checks the transition rules in fixed order (start scheduling,
// end expiry, significance, low performance) and returns the first that
// fires, or nil. At most one transition applies per experiment per sweep.
//
// Completed is terminal: a completed experiment never transitions again and
// its results are never rewritten. A paused experiment is only eligible for
// end-date expiry; it never resumes on its own.
func Evaluate(exp models.Experiment, statsByVariant map[string]models.VariantStats, verdict models.SignificanceVerdict, now time.Time, th Thresholds) *Transition {
	switch exp.Status {
	case models.StatusDraft:
		if exp.StartDate != nil && !now.Before(*exp.StartDate) {
			return &Transition{Kind: models.TransitionStarted, NewStatus: models.StatusActive}
		}
		return nil

	case models.StatusActive, models.StatusPaused:
		if exp.EndDate != nil && !now.Before(*exp.EndDate) {
			tr := &Transition{Kind: models.TransitionExpired, NewStatus: models.StatusCompleted}
			// An expiring test keeps whatever qualified winner it has; it
			// never fabricates one.
			if exp.Status == models.StatusActive && sampleGatePassed(exp, statsByVariant, th) && verdict.IsSignificant && verdict.ConfidencePercent >= th.ConfidenceLevel {
				tr.Results = buildResults(statsByVariant, verdict, now)
			}
			return tr
		}
		if exp.Status != models.StatusActive {
			return nil
		}

		if sampleGatePassed(exp, statsByVariant, th) && verdict.IsSignificant && verdict.ConfidencePercent >= th.ConfidenceLevel {
			return &Transition{
				Kind:      models.TransitionCompleted,
				NewStatus: models.StatusCompleted,
				Results:   buildResults(statsByVariant, verdict, now),
			}
		}

		if exp.Metadata.AutoPauseLowPerformance &&
			stats.TotalImpressions(statsByVariant) >= th.LowPerfMinTotal &&
			stats.MeanConversionRate(statsByVariant) < th.LowPerfRate {
			paused := now
			return &Transition{
				Kind:         models.TransitionPaused,
				NewStatus:    models.StatusPaused,
				PausedReason: models.PausedReasonLowPerformance,
				PausedAt:     &paused,
			}
		}
		return nil

	default:
		// Completed, or a status this controller does not recognize.
		return nil
	}
}

// sampleGatePassed reports whether every declared variant has reached the
// minimum sample size. The gate lives here, not in the significance
// calculator, so display paths can still show verdicts for small samples.
func sampleGatePassed(exp models.Experiment, statsByVariant map[string]models.VariantStats, th Thresholds) bool {
	if len(exp.Variants) < 2 {
		return false
	}
	for _, v := range exp.Variants {
		if statsByVariant[v.ID].Impressions < th.MinImpressions {
			return false
		}
	}
	return true
}

func buildResults(statsByVariant map[string]models.VariantStats, verdict models.SignificanceVerdict, now time.Time) *models.ExperimentResults {
	snapshot := make(map[string]models.VariantStats, len(statsByVariant))
	for id, vs := range statsByVariant {
		snapshot[id] = vs
	}
	return &models.ExperimentResults{
		TotalParticipants: stats.TotalImpressions(statsByVariant),
		VariantStats:      snapshot,
		WinnerVariantID:   verdict.WinnerVariantID,
		ConfidencePercent: verdict.ConfidencePercent,
		CompletedAt:       now,
	}
}

package sweep

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/variantlabs/experiment-controller/internal/archive"
	"github.com/variantlabs/experiment-controller/internal/deploy"
	"github.com/variantlabs/experiment-controller/internal/lifecycle"
	"github.com/variantlabs/experiment-controller/internal/models"
	"github.com/variantlabs/experiment-controller/internal/notify"
	"github.com/variantlabs/experiment-controller/internal/stats"
	"github.com/variantlabs/experiment-controller/internal/store"
)

// Config tunes one Sweeper. Zero values fall back to defaults.
type Config struct {
	Thresholds lifecycle.Thresholds
	// Workers bounds the number of experiments evaluated concurrently.
	Workers int
	Logger  *log.Logger
}

// Sweeper runs one full evaluation pass over all experiments. It is the
// only component with side effects; aggregation, significance, and the
// state machine stay pure.
type Sweeper struct {
	store    store.Store
	notifier notify.Notifier
	deployer deploy.Trigger
	archiver archive.Archiver
	th       lifecycle.Thresholds
	workers  int
	logger   *log.Logger
}

// New wires a Sweeper. deployer and archiver may be nil; notifications then
// still flow and reports are simply not archived.
func New(st store.Store, notifier notify.Notifier, deployer deploy.Trigger, archiver archive.Archiver, cfg Config) *Sweeper {
	th := cfg.Thresholds
	if th == (lifecycle.Thresholds{}) {
		th = lifecycle.DefaultThresholds()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[sweep] ", log.LstdFlags)
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Sweeper{
		store:    st,
		notifier: notifier,
		deployer: deployer,
		archiver: archiver,
		th:       th,
		workers:  workers,
		logger:   logger,
	}
}

// Run executes a single sweep at the given instant and returns the report.
// Experiments and events are loaded once in bulk; per-experiment failures
// are recorded in the report and never abort the pass. Re-running with no
// new events produces no further transitions.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (models.SweepReport, error) {
	report := models.SweepReport{
		ID:        uuid.New(),
		StartedAt: now,
	}

	experiments, err := s.store.ListExperiments(ctx)
	if err != nil {
		report.FinishedAt = time.Now().UTC()
		return report, fmt.Errorf("list experiments: %w", err)
	}
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		report.FinishedAt = time.Now().UTC()
		return report, fmt.Errorf("list events: %w", err)
	}

	eventsByExperiment := make(map[string][]models.Event, len(experiments))
	for _, ev := range events {
		eventsByExperiment[ev.ExperimentID] = append(eventsByExperiment[ev.ExperimentID], ev)
	}

	jobs := make(chan models.Experiment)
	outcomes := make(chan outcome, len(experiments))

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for exp := range jobs {
				// A cancelled sweep leaves unprocessed experiments in
				// their prior state.
				if ctx.Err() != nil {
					continue
				}
				outcomes <- s.processExperiment(ctx, exp, eventsByExperiment[exp.ID], now)
			}
		}()
	}

	for _, exp := range experiments {
		jobs <- exp
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	for out := range outcomes {
		report.Evaluated++
		if out.Error != "" {
			report.Errors++
		}
		switch out.Transition {
		case models.TransitionStarted:
			report.Started++
		case models.TransitionCompleted, models.TransitionExpired:
			report.Completed++
		case models.TransitionPaused:
			report.Paused++
		}
		if out.winner {
			report.WinnersDeclared++
		}
		if out.deployed {
			report.DeploymentsStarted++
		}
		report.Outcomes = append(report.Outcomes, out.ExperimentOutcome)
	}
	report.FinishedAt = time.Now().UTC()

	if s.archiver != nil {
		if err := s.archiver.ArchiveReport(ctx, report); err != nil {
			s.logger.Printf("archive sweep report %s: %v", report.ID, err)
		}
	}
	return report, nil
}

type outcome struct {
	models.ExperimentOutcome
	winner   bool
	deployed bool
}

func (s *Sweeper) processExperiment(ctx context.Context, exp models.Experiment, events []models.Event, now time.Time) outcome {
	out := outcome{ExperimentOutcome: models.ExperimentOutcome{ExperimentID: exp.ID}}

	if len(exp.Variants) == 0 {
		out.Error = "experiment has no variants"
		return out
	}

	statsByVariant := stats.Aggregate(exp.Variants, events)
	verdict := stats.Evaluate(exp.Variants, statsByVariant)
	out.Verdict = verdict

	tr := lifecycle.Evaluate(exp, statsByVariant, verdict, now, s.th)
	if tr == nil {
		return out
	}

	update := store.UpdateExperimentInput{Status: &tr.NewStatus}
	if tr.Results != nil {
		update.Results = tr.Results
	}
	if tr.PausedReason != "" {
		update.PausedReason = &tr.PausedReason
		update.PausedAt = tr.PausedAt
	}
	if _, err := s.store.UpdateExperiment(ctx, exp.ID, update); err != nil {
		out.Error = fmt.Sprintf("persist transition: %v", err)
		return out
	}
	out.Transition = tr.Kind
	out.winner = tr.Results != nil

	switch tr.Kind {
	case models.TransitionCompleted:
		s.notifyOutcome(ctx, exp,
			fmt.Sprintf("Experiment %q completed", exp.Name),
			fmt.Sprintf("winner %s at %.1f%% confidence", tr.Results.WinnerVariantID, tr.Results.ConfidencePercent))
		if exp.Metadata.AutoDeploy {
			out.deployed, out.Error = s.deployWinner(ctx, exp, tr.Results)
		}
	case models.TransitionExpired:
		s.notifyOutcome(ctx, exp,
			fmt.Sprintf("Experiment %q ended", exp.Name),
			"scheduled end date reached")
	case models.TransitionPaused:
		s.notifyOutcome(ctx, exp,
			fmt.Sprintf("Experiment %q paused", exp.Name),
			"conversion rates below the low-performance floor")
	}
	return out
}

// deployWinner records deployment intent before calling the trigger, so the
// log entry exists even when the downstream pipeline rejects the request.
func (s *Sweeper) deployWinner(ctx context.Context, exp models.Experiment, results *models.ExperimentResults) (bool, string) {
	winner, ok := findVariant(exp.Variants, results.WinnerVariantID)
	if !ok {
		return false, fmt.Sprintf("winner variant %s not declared on experiment", results.WinnerVariantID)
	}

	pipelineID := uuid.New()
	_, err := s.store.CreateDeploymentRecord(ctx, store.DeploymentRecordInput{
		ID:           pipelineID,
		ExperimentID: exp.ID,
		VariantID:    winner.ID,
		Pipeline:     pipelineID.String(),
		Message:      fmt.Sprintf("auto-deploy winning variant %q of experiment %q", winner.Name, exp.Name),
		Environment:  exp.Metadata.DeploymentEnvironment,
		Status:       "pending",
		InitiatedBy:  "system",
		StartedAt:    time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Sprintf("record deployment: %v", err)
	}

	if s.deployer == nil {
		s.logger.Printf("no deployment trigger configured, recorded intent for experiment %s", exp.ID)
		return true, ""
	}
	if _, err := s.deployer.DeployWinner(ctx, deploy.RequestFor(exp, winner, results.ConfidencePercent)); err != nil {
		return true, fmt.Sprintf("deployment trigger: %v", err)
	}
	return true, ""
}

func (s *Sweeper) notifyOutcome(ctx context.Context, exp models.Experiment, subject, body string) {
	if err := s.notifier.Notify(ctx, subject, body, exp.Metadata.NotifyRecipients); err != nil {
		s.logger.Printf("notify for experiment %s: %v", exp.ID, err)
	}
}

func findVariant(variants []models.Variant, id string) (models.Variant, bool) {
	for _, v := range variants {
		if v.ID == id {
			return v, true
		}
	}
	return models.Variant{}, false
}

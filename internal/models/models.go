package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusActive    ExperimentStatus = "active"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
)

type EventType string

const (
	EventImpression EventType = "impression"
	EventConversion EventType = "conversion"
)

const PausedReasonLowPerformance = "low_performance"

type Variant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Config is opaque to the controller; it is forwarded verbatim to the
	// deployment trigger when this variant wins.
	Config json.RawMessage `json:"config,omitempty"`
}

type ExperimentMetadata struct {
	AutoDeploy              bool     `json:"autoDeploy"`
	AutoPauseLowPerformance bool     `json:"autoPauseLowPerformance"`
	DeploymentEnvironment   string   `json:"deploymentEnvironment,omitempty"`
	NotifyRecipients        []string `json:"notifyRecipients,omitempty"`
}

type Experiment struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Variants     []Variant          `json:"variants"`
	Status       ExperimentStatus   `json:"status"`
	StartDate    *time.Time         `json:"startDate,omitempty"`
	EndDate      *time.Time         `json:"endDate,omitempty"`
	Metadata     ExperimentMetadata `json:"metadata"`
	Results      *ExperimentResults `json:"results,omitempty"`
	PausedReason string             `json:"pausedReason,omitempty"`
	PausedAt     *time.Time         `json:"pausedAt,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// Event is a single exposure or conversion observation. Events are
// append-only; the controller reads them and never writes them.
type Event struct {
	ExperimentID string    `json:"experimentId"`
	VariantID    string    `json:"variantId"`
	EventType    EventType `json:"eventType"`
	Timestamp    time.Time `json:"timestamp"`
}

// VariantStats is derived per sweep and never persisted outside a results
// snapshot.
type VariantStats struct {
	VariantID      string  `json:"variantId"`
	Impressions    int     `json:"impressions"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"`
}

type SignificanceVerdict struct {
	IsSignificant     bool    `json:"isSignificant"`
	ConfidencePercent float64 `json:"confidencePercent"`
	WinnerVariantID   string  `json:"winnerVariantId,omitempty"`
	RunnerUpVariantID string  `json:"runnerUpVariantId,omitempty"`
	ZScore            float64 `json:"zScore"`
	// RelativeImprovementPercent is nil when the runner-up rate is zero.
	RelativeImprovementPercent *float64 `json:"relativeImprovementPercent,omitempty"`
}

// ExperimentResults is written once when a winner is declared and never
// rewritten afterwards.
type ExperimentResults struct {
	TotalParticipants int                     `json:"totalParticipants"`
	VariantStats      map[string]VariantStats `json:"variantStats"`
	WinnerVariantID   string                  `json:"winnerVariantId"`
	ConfidencePercent float64                 `json:"confidencePercent"`
	CompletedAt       time.Time               `json:"completedAt"`
}

type DeploymentRecord struct {
	ID           uuid.UUID `json:"id"`
	ExperimentID string    `json:"experimentId"`
	VariantID    string    `json:"variantId"`
	Pipeline     string    `json:"pipeline"`
	Message      string    `json:"message"`
	Environment  string    `json:"environment"`
	Status       string    `json:"status"`
	InitiatedBy  string    `json:"initiatedBy"`
	StartedAt    time.Time `json:"startedAt"`
}

type TransitionKind string

const (
	TransitionStarted   TransitionKind = "started"
	TransitionCompleted TransitionKind = "completed"
	TransitionPaused    TransitionKind = "paused"
	TransitionExpired   TransitionKind = "expired"
)

// ExperimentOutcome records what one sweep did (or failed to do) for one
// experiment.
type ExperimentOutcome struct {
	ExperimentID string              `json:"experimentId"`
	Transition   TransitionKind      `json:"transition,omitempty"`
	Verdict      SignificanceVerdict `json:"verdict"`
	Error        string              `json:"error,omitempty"`
}

type SweepReport struct {
	ID                 uuid.UUID           `json:"id"`
	StartedAt          time.Time           `json:"startedAt"`
	FinishedAt         time.Time           `json:"finishedAt"`
	Evaluated          int                 `json:"evaluated"`
	Started            int                 `json:"started"`
	Completed          int                 `json:"completed"`
	Paused             int                 `json:"paused"`
	WinnersDeclared    int                 `json:"winnersDeclared"`
	DeploymentsStarted int                 `json:"deploymentsStarted"`
	Errors             int                 `json:"errors"`
	Outcomes           []ExperimentOutcome `json:"outcomes"`
}

package trial

import (
	"gofinetune/domain/core"
)

// Status is the terminal state of one trial
type Status string

const (
	StatusPassed    Status = "passed"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
)

// Key identifies a trial within a series
type Key struct {
	SeriesID core.SeriesID `json:"series_id" db:"series_id"`
	Index    int           `json:"trial_index" db:"trial_index"`
}

// IncrementRecord is one evaluation of the current model on the remaining
// external test pool. Records are appended in increment order and never
// modified afterwards.
type IncrementRecord struct {
	Trial        int                `json:"trial"`
	Increment    int                `json:"increment"`
	Metrics      map[string]float64 `json:"metrics"`
	Passed       bool               `json:"passed"`
	Stopped      bool               `json:"stopped"`
	FoldsGrafted int                `json:"folds_grafted"`
	TrainSize    int                `json:"train_size"`
	TestSize     int                `json:"test_size"`
	Failures     []string           `json:"failures,omitempty"`
	Training     *TrainingSummary   `json:"training,omitempty"`
	RecordedAt   core.Timestamp     `json:"recorded_at"`
}

// TrainingSummary condenses the history of the fit that produced the model
// evaluated in a record.
type TrainingSummary struct {
	Epochs        int     `json:"epochs"`
	FinalLoss     float64 `json:"final_loss"`
	FinalValLoss  float64 `json:"final_val_loss"`
	BestValLoss   float64 `json:"best_val_loss"`
	StoppedEarly  bool    `json:"stopped_early"`
	LossDiverged  bool    `json:"loss_diverged"`
	TrainExamples int     `json:"train_examples"`
	ValExamples   int     `json:"val_examples"`
}

// Outcome is what a TrialRunner reports when a trial ends
type Outcome struct {
	Index       int               `json:"trial"`
	Seed        int64             `json:"seed"`
	Status      Status            `json:"status"`
	Records     []IncrementRecord `json:"records"`
	ArtifactRef string            `json:"artifact_ref,omitempty"`
	PassedAt    int               `json:"passed_at"`
	FoldsPath   string            `json:"folds_path"`
	Error       string            `json:"error,omitempty"`
	StartedAt   core.Timestamp    `json:"started_at"`
	FinishedAt  core.Timestamp    `json:"finished_at"`
	err         error
}

// NewOutcome creates an outcome with no pass recorded yet
func NewOutcome(index int, seed int64) *Outcome {
	return &Outcome{
		Index:     index,
		Seed:      seed,
		PassedAt:  -1,
		StartedAt: core.Now(),
	}
}

// Fail marks the outcome failed and keeps the cause
func (o *Outcome) Fail(err error) {
	o.Status = StatusFailed
	o.err = err
	if err != nil {
		o.Error = err.Error()
	}
	o.FinishedAt = core.Now()
}

// Finish marks the outcome with a non-failed terminal status
func (o *Outcome) Finish(status Status) {
	o.Status = status
	o.FinishedAt = core.Now()
}

// Err returns the error that failed the trial, if any
func (o *Outcome) Err() error {
	return o.err
}

// Passed reports whether any increment met the thresholds
func (o *Outcome) Passed() bool {
	return o.PassedAt >= 0
}

// SeriesSummary aggregates the outcomes of a series
type SeriesSummary struct {
	SeriesID  core.SeriesID   `json:"series_id"`
	Trials    int             `json:"trials"`
	Passed    int             `json:"passed"`
	Exhausted int             `json:"exhausted"`
	Failed    int             `json:"failed"`
	Outcomes  []*Outcome      `json:"outcomes"`
	Manifest  *SeriesManifest `json:"manifest,omitempty"`
}

// Summarize counts outcomes by status. Outcomes are kept in trial order.
func Summarize(seriesID core.SeriesID, outcomes []*Outcome) SeriesSummary {
	s := SeriesSummary{SeriesID: seriesID, Trials: len(outcomes), Outcomes: outcomes}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		switch o.Status {
		case StatusPassed:
			s.Passed++
		case StatusExhausted:
			s.Exhausted++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

package ports

import (
	"context"

	"gofinetune/domain/cohort"
	"gofinetune/domain/trial"
)

// RecordSink receives increment records as they are produced. Append must
// make the record durable before returning.
type RecordSink interface {
	Append(ctx context.Context, key trial.Key, record trial.IncrementRecord) error
}

// OutcomeSink receives terminal trial outcomes and series summaries
type OutcomeSink interface {
	SaveManifest(ctx context.Context, manifest *trial.SeriesManifest) error
	SaveOutcome(ctx context.Context, key trial.Key, outcome *trial.Outcome) error
	SaveSummary(ctx context.Context, summary *trial.SeriesSummary) error
}

// SummaryReporter renders a finished series for people to read
type SummaryReporter interface {
	WriteSummary(path string, summary *trial.SeriesSummary) error
}

// ArtifactKeeper persists the artifact of a passing increment together with
// the folds that had been grafted when it passed
type ArtifactKeeper interface {
	Keep(ctx context.Context, trialDir string, artifact Artifact, used []cohort.Fold) (string, error)
}

// TrialReader is the read side used by the API
type TrialReader interface {
	ListSeries(ctx context.Context, limit int) ([]trial.SeriesManifest, error)
	GetSeries(ctx context.Context, seriesID string) (*trial.SeriesSummary, error)
	GetRecords(ctx context.Context, key trial.Key) ([]trial.IncrementRecord, error)
}

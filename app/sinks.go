package app

import (
	"context"
	"fmt"

	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/ports"
)

// Sinks fans records and outcomes out to several stores. The first store
// error stops the fan-out and is returned.
type Sinks struct {
	Records  []ports.RecordSink
	Outcomes []ports.OutcomeSink
}

func (s *Sinks) Append(ctx context.Context, key trial.Key, record trial.IncrementRecord) error {
	for _, sink := range s.Records {
		if err := sink.Append(ctx, key, record); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sinks) SaveManifest(ctx context.Context, manifest *trial.SeriesManifest) error {
	for _, sink := range s.Outcomes {
		if err := sink.SaveManifest(ctx, manifest); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sinks) SaveOutcome(ctx context.Context, key trial.Key, outcome *trial.Outcome) error {
	for _, sink := range s.Outcomes {
		if err := sink.SaveOutcome(ctx, key, outcome); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sinks) SaveSummary(ctx context.Context, summary *trial.SeriesSummary) error {
	for _, sink := range s.Outcomes {
		if err := sink.SaveSummary(ctx, summary); err != nil {
			return err
		}
	}
	return nil
}

// Replay writes a stored series into other sinks: manifest first, then each
// trial's records and outcome, then the summary
func Replay(ctx context.Context, summary *trial.SeriesSummary, records ports.RecordSink, outcomes ports.OutcomeSink) error {
	if summary.Manifest == nil {
		return core.NewDataIntegrityError(fmt.Sprintf("series %s has no manifest", summary.SeriesID))
	}
	if err := outcomes.SaveManifest(ctx, summary.Manifest); err != nil {
		return err
	}
	for _, o := range summary.Outcomes {
		if o == nil {
			continue
		}
		key := trial.Key{SeriesID: summary.SeriesID, Index: o.Index}
		for _, rec := range o.Records {
			if err := records.Append(ctx, key, rec); err != nil {
				return err
			}
		}
		if err := outcomes.SaveOutcome(ctx, key, o); err != nil {
			return err
		}
	}
	return outcomes.SaveSummary(ctx, summary)
}

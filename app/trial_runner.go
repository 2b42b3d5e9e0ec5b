package app

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/domain/verdict"
	"gofinetune/internal"
	"gofinetune/internal/config"
	"gofinetune/internal/errors"
	"gofinetune/internal/ledger"
	"gofinetune/internal/metrics"
	"gofinetune/internal/policy"
	"gofinetune/internal/sampling"
	"gofinetune/internal/workspace"
	"gofinetune/ports"

	"github.com/montanaflynn/stats"
)

// TrialRequest locates one trial's inputs and workspace
type TrialRequest struct {
	Key       trial.Key
	Seed      int64
	Dir       string
	FoldsPath string
}

// TrialRunner drives one accumulative fine-tuning trial: evaluate the
// current model on the remaining external examples, record the result,
// stop on a lazy pass, otherwise graft the next fold into training and fit
// again until no folds remain.
type TrialRunner struct {
	cfg       *config.Config
	provider  ports.DatasetProvider
	trainer   ports.Trainer
	evaluator ports.Evaluator
	records   ports.RecordSink
	keeper    ports.ArtifactKeeper
	policy    *policy.StoppingPolicy
	metrics   []string
	base      ports.Artifact
	logger    *internal.Logger
}

// NewTrialRunner creates a trial runner
func NewTrialRunner(
	cfg *config.Config,
	provider ports.DatasetProvider,
	trainer ports.Trainer,
	evaluator ports.Evaluator,
	records ports.RecordSink,
	keeper ports.ArtifactKeeper,
	logger *internal.Logger,
) *TrialRunner {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	names := make([]string, 0, len(cfg.Finetune.Metrics))
	for _, name := range cfg.Finetune.Metrics {
		names = append(names, metrics.Canonical(name))
	}
	return &TrialRunner{
		cfg:       cfg,
		provider:  provider,
		trainer:   trainer,
		evaluator: evaluator,
		records:   records,
		keeper:    keeper,
		policy:    policy.New(cfg.LowerBounds(), cfg.UpperBounds()),
		metrics:   names,
		base:      ports.Artifact{ID: "base", URI: cfg.Finetune.BaseModel},
		logger:    logger,
	}
}

// trialState is created at INIT and discarded when the trial ends
type trialState struct {
	folds  []cohort.Fold
	ledger *ledger.PartitionLedger
	model  ports.Artifact
	next   int
	fit    *trial.TrainingSummary
}

// Run executes the trial to a terminal status. Failures never escape as
// errors; they mark the outcome failed and keep every record appended so far.
func (r *TrialRunner) Run(ctx context.Context, req TrialRequest) *trial.Outcome {
	out := trial.NewOutcome(req.Key.Index, req.Seed)
	out.FoldsPath = req.FoldsPath
	log := r.logger.With("trial", req.Key.Index+1)

	st, err := r.init(ctx, req)
	if err != nil {
		log.Error("trial setup failed: %v", err)
		out.Fail(core.WithTrialContext(err, req.Key.Index, 0))
		return out
	}
	log.Info("trial ready: %d folds, %d external examples", len(st.folds), st.ledger.Total())

	status, err := r.loop(ctx, req, st, out, log)
	if err != nil {
		log.Error("trial failed after %d records: %v", len(out.Records), err)
		out.Fail(err)
		return out
	}
	out.Finish(status)
	log.Info("trial finished %s after %d records", status, len(out.Records))
	return out
}

// init loads the fold file and the rows of every fold subject
func (r *TrialRunner) init(ctx context.Context, req TrialRequest) (*trialState, error) {
	folds, err := sampling.ReadFoldFile(req.FoldsPath)
	if err != nil {
		return nil, err
	}

	var ids []core.SubjectID
	for _, fold := range folds {
		ids = append(ids, fold.SubjectIDs...)
	}
	rows, err := r.provider.RowsFor(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "fetch external rows")
	}

	perSubject := make(map[core.SubjectID]int, len(ids))
	for _, id := range ids {
		perSubject[id] = 0
	}
	for _, row := range rows {
		if _, ok := perSubject[row.SubjectID]; !ok {
			return nil, core.NewDataIntegrityError(fmt.Sprintf("provider returned example %s of unrequested subject %s", row.ID, row.SubjectID))
		}
		perSubject[row.SubjectID]++
	}
	for _, id := range ids {
		if perSubject[id] == 0 {
			return nil, core.NewDataIntegrityError(fmt.Sprintf("fold subject %s has no examples", id))
		}
	}

	l, err := ledger.New(rows)
	if err != nil {
		return nil, err
	}
	return &trialState{folds: folds, ledger: l, model: r.base}, nil
}

func (r *TrialRunner) loop(ctx context.Context, req TrialRequest, st *trialState, out *trial.Outcome, log *internal.Logger) (trial.Status, error) {
	for {
		testSize, _ := st.ledger.Sizes()
		if testSize == 0 {
			// the last graft moved every example into training
			break
		}

		rec, v, err := r.evaluate(ctx, req, st)
		if err != nil {
			return trial.StatusFailed, err
		}
		rec.Stopped = v.Passed && r.cfg.Finetune.Lazy

		if err := r.records.Append(ctx, req.Key, rec); err != nil {
			return trial.StatusFailed, core.WithTrialContext(errors.Wrap(err, "append record"), req.Key.Index, rec.Increment)
		}
		out.Records = append(out.Records, rec)

		if v.Passed {
			log.Info("increment %d meets every bound: %v", rec.Increment, rec.Metrics)
			if !out.Passed() {
				ref, err := r.keeper.Keep(ctx, req.Dir, st.model, st.folds[:st.next])
				if err != nil {
					return trial.StatusFailed, core.WithTrialContext(errors.Wrap(err, "keep passing artifact"), req.Key.Index, rec.Increment)
				}
				out.ArtifactRef = ref
				out.PassedAt = rec.Increment
			}
			if r.cfg.Finetune.Lazy {
				return trial.StatusPassed, nil
			}
		} else {
			log.Info("increment %d below bounds: %v", rec.Increment, v.Reasons())
		}

		if err := ctx.Err(); err != nil {
			return trial.StatusFailed, core.WithTrialContext(fmt.Errorf("trial interrupted: %w", err), req.Key.Index, rec.Increment)
		}
		if st.next >= len(st.folds) {
			break
		}

		fold := st.folds[st.next]
		moved, err := st.ledger.Graft(fold)
		if err != nil {
			return trial.StatusFailed, core.WithTrialContext(err, req.Key.Index, st.next+1)
		}
		st.next++
		test, train := st.ledger.Sizes()
		log.Info("grafted fold %d of %d: %d examples moved, train %d / test %d", st.next, len(st.folds), moved, train, test)

		if err := r.train(ctx, req, st); err != nil {
			return trial.StatusFailed, err
		}
	}

	if out.Passed() {
		return trial.StatusPassed, nil
	}
	return trial.StatusExhausted, nil
}

// evaluate scores the current model on the test pool and judges the metrics
func (r *TrialRunner) evaluate(ctx context.Context, req TrialRequest, st *trialState) (trial.IncrementRecord, verdict.Verdict, error) {
	snap := st.ledger.Snapshot()
	increment := st.next

	scores, err := r.evaluator.Predict(ctx, st.model, snap.Test)
	if err != nil {
		return trial.IncrementRecord{}, verdict.Verdict{}, core.NewTrainingError(req.Key.Index, increment, "predict", err)
	}
	if len(scores) != len(snap.Test) {
		return trial.IncrementRecord{}, verdict.Verdict{}, core.NewTrainingError(req.Key.Index, increment, "predict",
			fmt.Errorf("%d scores for %d examples", len(scores), len(snap.Test)))
	}
	for i, score := range scores {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return trial.IncrementRecord{}, verdict.Verdict{}, core.NewTrainingError(req.Key.Index, increment, "predict",
				fmt.Errorf("non-finite score %v for example %s", score, snap.Test[i].ID))
		}
	}

	labels := make([]cohort.Label, len(snap.Test))
	for i, ex := range snap.Test {
		labels[i] = ex.Label
	}
	values, err := metrics.Compute(r.metrics, labels, scores, r.cfg.Finetune.Threshold)
	if err != nil {
		return trial.IncrementRecord{}, verdict.Verdict{}, core.WithTrialContext(err, req.Key.Index, increment)
	}
	v, err := r.policy.Evaluate(values)
	if err != nil {
		return trial.IncrementRecord{}, verdict.Verdict{}, core.WithTrialContext(err, req.Key.Index, increment)
	}

	return trial.IncrementRecord{
		Trial:        req.Key.Index,
		Increment:    increment,
		Metrics:      values,
		Passed:       v.Passed,
		FoldsGrafted: len(snap.Grafted),
		TrainSize:    len(snap.Train),
		TestSize:     len(snap.Test),
		Failures:     v.Reasons(),
		Training:     st.fit,
		RecordedAt:   core.Now(),
	}, v, nil
}

// train fits on the accumulated pool. The most recently grafted tail of the
// pool validates; class weights equalize the loss of both classes.
func (r *TrialRunner) train(ctx context.Context, req TrialRequest, st *trialState) error {
	increment := st.next
	pool := st.ledger.Train()
	sub, val := ledger.Split(pool, r.cfg.Finetune.ValSplit)

	weights, err := ledger.ClassWeights(pool)
	if err != nil {
		return core.NewTrainingError(req.Key.Index, increment, "class weights", err)
	}

	base := r.base
	if r.cfg.Finetune.WarmStart {
		base = st.model
	}
	artifact, history, err := r.trainer.Fit(ctx, ports.FitRequest{
		Base:         base,
		Train:        sub,
		Validation:   val,
		ClassWeights: weights,
		HParams:      r.cfg.Finetune.HParams,
		OutputDir:    filepath.Join(req.Dir, workspace.ModelsDir, fmt.Sprintf("increment_%d", increment)),
	})
	if err != nil {
		return core.NewTrainingError(req.Key.Index, increment, "fit", err)
	}
	if artifact.IsZero() {
		return core.NewTrainingError(req.Key.Index, increment, "fit", fmt.Errorf("trainer returned no artifact"))
	}

	st.model = artifact
	st.fit = summarizeHistory(history, len(sub), len(val), r.cfg.Finetune.HParams)
	return nil
}

// summarizeHistory condenses a fit trajectory into the record summary.
// Non-finite losses are left out and flag the fit as diverged.
func summarizeHistory(history ports.History, trainN, valN int, hparams map[string]interface{}) *trial.TrainingSummary {
	sum := &trial.TrainingSummary{TrainExamples: trainN, ValExamples: valN}

	sum.Epochs = len(history["loss"])
	if n := len(history["val_loss"]); n > sum.Epochs {
		sum.Epochs = n
	}
	loss, lossDiverged := finiteValues(history["loss"])
	valLoss, valDiverged := finiteValues(history["val_loss"])
	sum.LossDiverged = lossDiverged || valDiverged
	if len(loss) > 0 {
		sum.FinalLoss = loss[len(loss)-1]
	}
	if len(valLoss) > 0 {
		sum.FinalValLoss = valLoss[len(valLoss)-1]
		if best, err := stats.Min(valLoss); err == nil {
			sum.BestValLoss = best
		}
	}
	if planned, ok := intParam(hparams, "epochs"); ok && sum.Epochs > 0 && sum.Epochs < planned {
		sum.StoppedEarly = true
	}
	return sum
}

func finiteValues(values []float64) ([]float64, bool) {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out, len(out) != len(values)
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"

	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/internal/errors"

	"github.com/jmoiron/sqlx"
)

// TrialRepository stores series manifests, trial outcomes and increment
// records. Queries use ? placeholders rebound for the connected driver.
type TrialRepository struct {
	db *sqlx.DB
}

// NewTrialRepository creates a repository on an open database
func NewTrialRepository(db *sqlx.DB) *TrialRepository {
	return &TrialRepository{db: db}
}

type seriesRow struct {
	SeriesID    string                           `db:"series_id"`
	NumTrials   int                              `db:"num_trials"`
	Lazy        bool                             `db:"lazy"`
	PinSeed     bool                             `db:"pin_seed"`
	Subjects    int                              `db:"subjects"`
	Examples    int                              `db:"examples"`
	Seed        int64                            `db:"seed"`
	NumFolds    int                              `db:"num_folds"`
	CohortHash  string                           `db:"cohort_hash"`
	ParamsHash  string                           `db:"params_hash"`
	CodeVersion string                           `db:"code_version"`
	Fingerprint string                           `db:"fingerprint"`
	CreatedAt   string                           `db:"created_at"`
	Summary     JSONColumn[*trial.SeriesSummary] `db:"summary"`
}

type trialRow struct {
	SeriesID    string `db:"series_id"`
	TrialIndex  int    `db:"trial_index"`
	Seed        int64  `db:"seed"`
	Status      string `db:"status"`
	PassedAt    int    `db:"passed_at"`
	ArtifactRef string `db:"artifact_ref"`
	FoldsPath   string `db:"folds_path"`
	Error       string `db:"error"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
}

type recordRow struct {
	SeriesID     string                             `db:"series_id"`
	TrialIndex   int                                `db:"trial_index"`
	Increment    int                                `db:"increment_index"`
	Passed       bool                               `db:"passed"`
	Stopped      bool                               `db:"stopped"`
	FoldsGrafted int                                `db:"folds_grafted"`
	TrainSize    int                                `db:"train_size"`
	TestSize     int                                `db:"test_size"`
	Metrics      JSONColumn[map[string]float64]     `db:"metrics"`
	Failures     JSONColumn[[]string]               `db:"failures"`
	Training     JSONColumn[*trial.TrainingSummary] `db:"training"`
	RecordedAt   string                             `db:"recorded_at"`
}

const seriesColumns = `series_id, num_trials, lazy, pin_seed, subjects, examples, seed, num_folds,
	cohort_hash, params_hash, code_version, fingerprint, created_at, summary`

const trialColumns = `series_id, trial_index, seed, status, passed_at, artifact_ref, folds_path,
	error, started_at, finished_at`

const recordColumns = `series_id, trial_index, increment_index, passed, stopped, folds_grafted,
	train_size, test_size, metrics, failures, training, recorded_at`

// SaveManifest inserts the series row
func (r *TrialRepository) SaveManifest(ctx context.Context, m *trial.SeriesManifest) error {
	fp := m.Fingerprint
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO finetune_series (`+seriesColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`), m.SeriesID.String(), m.NumTrials, m.Lazy, m.PinSeed, m.Subjects, m.Examples, fp.Seed, fp.NumFolds,
		fp.CohortHash.String(), fp.ParamsHash.String(), fp.CodeVersion, fp.Fingerprint.String(), formatTime(m.CreatedAt.Time()))
	if err != nil {
		return errors.DatabaseError("insert series "+m.SeriesID.String(), err)
	}
	return nil
}

// Append inserts one increment record
func (r *TrialRepository) Append(ctx context.Context, key trial.Key, rec trial.IncrementRecord) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO finetune_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), key.SeriesID.String(), key.Index, rec.Increment, rec.Passed, rec.Stopped, rec.FoldsGrafted,
		rec.TrainSize, rec.TestSize,
		JSONColumn[map[string]float64]{V: rec.Metrics},
		JSONColumn[[]string]{V: rec.Failures},
		JSONColumn[*trial.TrainingSummary]{V: rec.Training},
		formatTime(rec.RecordedAt.Time()))
	if err != nil {
		return errors.DatabaseError("insert increment record", err)
	}
	return nil
}

// SaveOutcome upserts the trial row
func (r *TrialRepository) SaveOutcome(ctx context.Context, key trial.Key, o *trial.Outcome) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO finetune_trials (`+trialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (series_id, trial_index) DO UPDATE SET
			status = excluded.status,
			passed_at = excluded.passed_at,
			artifact_ref = excluded.artifact_ref,
			error = excluded.error,
			finished_at = excluded.finished_at
	`), key.SeriesID.String(), key.Index, o.Seed, string(o.Status), o.PassedAt, o.ArtifactRef, o.FoldsPath,
		o.Error, formatTime(o.StartedAt.Time()), formatTime(o.FinishedAt.Time()))
	if err != nil {
		return errors.DatabaseError("upsert trial outcome", err)
	}
	return nil
}

// SaveSummary stores the final summary on the series row
func (r *TrialRepository) SaveSummary(ctx context.Context, s *trial.SeriesSummary) error {
	// outcomes live in their own table
	stored := *s
	stored.Outcomes = nil
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE finetune_series SET summary = ? WHERE series_id = ?
	`), JSONColumn[*trial.SeriesSummary]{V: &stored}, s.SeriesID.String())
	if err != nil {
		return errors.DatabaseError("update series summary", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewNotFoundError("series", s.SeriesID.String())
	}
	return nil
}

// ListSeries returns the newest series first
func (r *TrialRepository) ListSeries(ctx context.Context, limit int) ([]trial.SeriesManifest, error) {
	query := `SELECT ` + seriesColumns + ` FROM finetune_series ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []seriesRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError("list series", err)
	}
	out := make([]trial.SeriesManifest, 0, len(rows))
	for _, row := range rows {
		m, err := row.manifest()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// GetSeries assembles the summary of a series from its trial rows
func (r *TrialRepository) GetSeries(ctx context.Context, seriesID string) (*trial.SeriesSummary, error) {
	var row seriesRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+seriesColumns+` FROM finetune_series WHERE series_id = ?`), seriesID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("series", seriesID)
	}
	if err != nil {
		return nil, errors.DatabaseError("get series "+seriesID, err)
	}
	m, err := row.manifest()
	if err != nil {
		return nil, err
	}

	var trials []trialRow
	if err := r.db.SelectContext(ctx, &trials, r.db.Rebind(`
		SELECT `+trialColumns+` FROM finetune_trials WHERE series_id = ? ORDER BY trial_index
	`), seriesID); err != nil {
		return nil, errors.DatabaseError("list trials of "+seriesID, err)
	}

	outcomes := make([]*trial.Outcome, 0, len(trials))
	for _, t := range trials {
		o, err := t.outcome()
		if err != nil {
			return nil, err
		}
		records, err := r.GetRecords(ctx, trial.Key{SeriesID: m.SeriesID, Index: t.TrialIndex})
		if err != nil {
			return nil, err
		}
		o.Records = records
		outcomes = append(outcomes, o)
	}

	summary := trial.Summarize(m.SeriesID, outcomes)
	summary.Trials = m.NumTrials
	summary.Manifest = m
	return &summary, nil
}

// GetRecords returns the records of one trial in increment order
func (r *TrialRepository) GetRecords(ctx context.Context, key trial.Key) ([]trial.IncrementRecord, error) {
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+recordColumns+` FROM finetune_records
		WHERE series_id = ? AND trial_index = ?
		ORDER BY increment_index
	`), key.SeriesID.String(), key.Index); err != nil {
		return nil, errors.DatabaseError("list increment records", err)
	}

	out := make([]trial.IncrementRecord, 0, len(rows))
	for _, row := range rows {
		recordedAt, err := parseTime(row.RecordedAt)
		if err != nil {
			return nil, core.NewDataIntegrityError("recorded_at: " + err.Error())
		}
		out = append(out, trial.IncrementRecord{
			Trial:        row.TrialIndex,
			Increment:    row.Increment,
			Metrics:      row.Metrics.V,
			Passed:       row.Passed,
			Stopped:      row.Stopped,
			FoldsGrafted: row.FoldsGrafted,
			TrainSize:    row.TrainSize,
			TestSize:     row.TestSize,
			Failures:     row.Failures.V,
			Training:     row.Training.V,
			RecordedAt:   core.NewTimestamp(recordedAt),
		})
	}
	return out, nil
}

func (row seriesRow) manifest() (*trial.SeriesManifest, error) {
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, core.NewDataIntegrityError("series created_at: " + err.Error())
	}
	return &trial.SeriesManifest{
		SeriesID:  core.SeriesID(row.SeriesID),
		NumTrials: row.NumTrials,
		Lazy:      row.Lazy,
		PinSeed:   row.PinSeed,
		Subjects:  row.Subjects,
		Examples:  row.Examples,
		Fingerprint: trial.SeriesFingerprint{
			CohortHash:  core.CohortHash(row.CohortHash),
			ParamsHash:  core.Hash(row.ParamsHash),
			Seed:        row.Seed,
			NumFolds:    row.NumFolds,
			CodeVersion: row.CodeVersion,
			Fingerprint: core.Hash(row.Fingerprint),
		},
		CreatedAt: core.NewTimestamp(created),
	}, nil
}

func (t trialRow) outcome() (*trial.Outcome, error) {
	started, err := parseTime(t.StartedAt)
	if err != nil {
		return nil, core.NewDataIntegrityError("trial started_at: " + err.Error())
	}
	finished, err := parseTime(t.FinishedAt)
	if err != nil {
		return nil, core.NewDataIntegrityError("trial finished_at: " + err.Error())
	}
	return &trial.Outcome{
		Index:       t.TrialIndex,
		Seed:        t.Seed,
		Status:      trial.Status(t.Status),
		ArtifactRef: t.ArtifactRef,
		PassedAt:    t.PassedAt,
		FoldsPath:   t.FoldsPath,
		Error:       t.Error,
		StartedAt:   core.NewTimestamp(started),
		FinishedAt:  core.NewTimestamp(finished),
	}, nil
}

package trial

import (
	"fmt"

	"gofinetune/domain/core"
)

// SeriesFingerprint ensures deterministic replay of a series
type SeriesFingerprint struct {
	CohortHash  core.CohortHash `json:"cohort_hash"`
	ParamsHash  core.Hash       `json:"params_hash"`
	Seed        int64           `json:"seed"`
	NumFolds    int             `json:"num_folds"`
	CodeVersion string          `json:"code_version"`
	Fingerprint core.Hash       `json:"fingerprint"` // Hash of all above
}

// NewSeriesFingerprint creates a fingerprint from determinism parameters
func NewSeriesFingerprint(cohortHash core.CohortHash, paramsHash core.Hash, seed int64, numFolds int, codeVersion string) SeriesFingerprint {
	data := fmt.Sprintf("cohort:%s|params:%s|seed:%d|folds:%d|code:%s",
		cohortHash, paramsHash, seed, numFolds, codeVersion)

	return SeriesFingerprint{
		CohortHash:  cohortHash,
		ParamsHash:  paramsHash,
		Seed:        seed,
		NumFolds:    numFolds,
		CodeVersion: codeVersion,
		Fingerprint: core.NewHash([]byte(data)),
	}
}

// SeriesManifest is written before the first trial starts and describes
// everything needed to replay the series
type SeriesManifest struct {
	SeriesID    core.SeriesID     `json:"series_id"`
	NumTrials   int               `json:"num_trials"`
	Lazy        bool              `json:"lazy"`
	PinSeed     bool              `json:"pin_seed"`
	Subjects    int               `json:"subjects"`
	Examples    int               `json:"examples"`
	Fingerprint SeriesFingerprint `json:"fingerprint"`
	CreatedAt   core.Timestamp    `json:"created_at"`
}

// TrialSeed returns the fold-sampling seed for a trial. Unpinned series
// offset the base seed by the trial index so every trial draws fresh folds.
func (m *SeriesManifest) TrialSeed(index int) int64 {
	if m.PinSeed {
		return m.Fingerprint.Seed
	}
	return m.Fingerprint.Seed + int64(index)
}

// Validate checks if the manifest is complete
func (m *SeriesManifest) Validate() error {
	if core.ID(m.SeriesID).IsEmpty() {
		return core.NewConfigError("series_manifest", "series_id cannot be empty")
	}
	if m.NumTrials <= 0 {
		return core.NewConfigError("series_manifest", "num_trials must be positive")
	}
	if m.Fingerprint.NumFolds <= 0 {
		return core.NewConfigError("series_manifest", "num_folds must be positive")
	}
	if m.Fingerprint.CohortHash == "" {
		return core.NewConfigError("series_manifest", "cohort_hash cannot be empty")
	}
	return nil
}

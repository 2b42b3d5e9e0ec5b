// Package filestore keeps series results as plain files under the trials
// directory: a JSON-lines record log and an outcome per trial, plus the
// manifest and summary of the most recent series.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/internal"
	"gofinetune/internal/errors"
	"gofinetune/internal/sampling"
	"gofinetune/internal/workspace"
	"gofinetune/ports"
)

// Store implements the record, outcome, artifact and read ports on a directory
type Store struct {
	root   string
	logger *internal.Logger

	mu sync.Mutex
}

// NewStore creates a store rooted at the trials directory
func NewStore(root string, logger *internal.Logger) *Store {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Store{root: root, logger: logger}
}

func (s *Store) trialDir(index int) string {
	return filepath.Join(s.root, workspace.TrialDirName(index))
}

// Append writes one record line and fsyncs before returning
func (s *Store) Append(ctx context.Context, key trial.Key, record trial.IncrementRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode increment record")
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.trialDir(key.Index)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.StorageError("create "+dir, err)
	}
	path := filepath.Join(dir, workspace.RecordsFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.StorageError("open "+path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return errors.StorageError("append "+path, err)
	}
	if err := f.Sync(); err != nil {
		return errors.StorageError("sync "+path, err)
	}
	return nil
}

func (s *Store) SaveManifest(ctx context.Context, manifest *trial.SeriesManifest) error {
	return writeJSON(filepath.Join(s.root, workspace.ManifestFile), manifest)
}

func (s *Store) SaveOutcome(ctx context.Context, key trial.Key, outcome *trial.Outcome) error {
	return writeJSON(filepath.Join(s.trialDir(key.Index), workspace.OutcomeFile), outcome)
}

func (s *Store) SaveSummary(ctx context.Context, summary *trial.SeriesSummary) error {
	return writeJSON(filepath.Join(s.root, workspace.SummaryFile), summary)
}

// Keep records which artifact passed and the folds grafted to produce it.
// The artifact itself stays where the trainer wrote it.
func (s *Store) Keep(ctx context.Context, trialDir string, artifact ports.Artifact, used []cohort.Fold) (string, error) {
	if err := sampling.WriteFoldFile(filepath.Join(trialDir, workspace.FoldsDir, workspace.FoldsUsed), used); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(trialDir, workspace.ModelsDir, workspace.PassedFile), artifact); err != nil {
		return "", err
	}
	ref := artifact.URI
	if ref == "" {
		ref = artifact.ID
	}
	s.logger.Debug("kept artifact %s with %d folds in %s", ref, len(used), trialDir)
	return ref, nil
}

// ListSeries returns the manifest of the series currently in the directory
func (s *Store) ListSeries(ctx context.Context, limit int) ([]trial.SeriesManifest, error) {
	m, err := s.manifest()
	if err != nil {
		if core.IsNotFoundError(err) {
			return []trial.SeriesManifest{}, nil
		}
		return nil, err
	}
	if limit == 0 {
		return []trial.SeriesManifest{}, nil
	}
	return []trial.SeriesManifest{*m}, nil
}

// GetSeries returns the stored summary, or assembles one from the outcome
// files when the series has not finished yet
func (s *Store) GetSeries(ctx context.Context, seriesID string) (*trial.SeriesSummary, error) {
	m, err := s.manifest()
	if err != nil {
		return nil, err
	}
	if string(m.SeriesID) != seriesID {
		return nil, core.NewNotFoundError("series", seriesID)
	}

	var summary trial.SeriesSummary
	err = readJSON(filepath.Join(s.root, workspace.SummaryFile), &summary)
	if err == nil && summary.SeriesID == m.SeriesID {
		return &summary, nil
	}
	if err != nil && !core.IsNotFoundError(err) {
		return nil, err
	}

	var outcomes []*trial.Outcome
	for i := 0; i < m.NumTrials; i++ {
		var o trial.Outcome
		err := readJSON(filepath.Join(s.trialDir(i), workspace.OutcomeFile), &o)
		if core.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, &o)
	}
	summary = trial.Summarize(m.SeriesID, outcomes)
	summary.Trials = m.NumTrials
	summary.Manifest = m
	return &summary, nil
}

// GetRecords reads back the record log of one trial
func (s *Store) GetRecords(ctx context.Context, key trial.Key) ([]trial.IncrementRecord, error) {
	m, err := s.manifest()
	if err != nil {
		return nil, err
	}
	if m.SeriesID != key.SeriesID {
		return nil, core.NewNotFoundError("series", key.SeriesID.String())
	}

	path := filepath.Join(s.trialDir(key.Index), workspace.RecordsFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []trial.IncrementRecord{}, nil
	}
	if err != nil {
		return nil, errors.StorageError("open "+path, err)
	}
	defer f.Close()
	return decodeRecords(f, path)
}

func decodeRecords(r io.Reader, path string) ([]trial.IncrementRecord, error) {
	records := []trial.IncrementRecord{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec trial.IncrementRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, core.NewDataIntegrityError(fmt.Sprintf("%s line %d: %v", path, line, err))
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.StorageError("read "+path, err)
	}
	return records, nil
}

func (s *Store) manifest() (*trial.SeriesManifest, error) {
	var m trial.SeriesManifest
	if err := readJSON(filepath.Join(s.root, workspace.ManifestFile), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func writeJSON(path string, v interface{}) error {
	return workspace.WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return errors.Wrapf(err, "encode %s", filepath.Base(path))
		}
		return nil
	})
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return core.NewNotFoundError("file", path)
	}
	if err != nil {
		return errors.StorageError("read "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.NewDataIntegrityError(fmt.Sprintf("%s: %v", path, err))
	}
	return nil
}

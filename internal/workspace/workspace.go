package workspace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gofinetune/internal/errors"
)

// Trial directory layout
const (
	FoldsDir     = "folds"
	FoldFile     = "patient_folds.txt"
	FoldsUsed    = "folds_used.txt"
	RecordsFile  = "records.jsonl"
	OutcomeFile  = "outcome.json"
	ModelsDir    = "models"
	PassedFile   = "passed_artifact.json"
	ManifestFile = "manifest.json"
	SummaryFile  = "summary.json"
	ReportFile   = "summary.xlsx"
)

// TrialDirName names the directory of a zero-based trial index
func TrialDirName(index int) string {
	return fmt.Sprintf("trial_%d", index+1)
}

// resultFiles belong to one series and are never carried into the next
var resultFiles = []string{
	RecordsFile,
	OutcomeFile,
	filepath.Join(FoldsDir, FoldsUsed),
	filepath.Join(ModelsDir, PassedFile),
}

// Ensure makes dir exist. With purge an existing directory is emptied
// first. Without it other files survive, but the record log, outcome and
// kept-artifact files of an earlier series are still removed.
func Ensure(dir string, purge bool) error {
	if purge {
		if err := os.RemoveAll(dir); err != nil {
			return errors.StorageError("purge "+dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.StorageError("create "+dir, err)
	}
	if purge {
		return nil
	}
	for _, name := range resultFiles {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.StorageError("remove stale "+path, err)
		}
	}
	return nil
}

// WriteAtomic writes through a temp file in the target directory, fsyncs
// it and renames it over path. Readers see the old file or the new one.
func WriteAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.StorageError("create "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.StorageError("create temp for "+path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return errors.StorageError("flush "+path, err)
	}
	if err = tmp.Sync(); err != nil {
		return errors.StorageError("sync "+path, err)
	}
	if err = tmp.Close(); err != nil {
		return errors.StorageError("close "+path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.StorageError("rename "+path, err)
	}
	return nil
}

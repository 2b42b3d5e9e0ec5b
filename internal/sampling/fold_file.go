package sampling

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/internal/errors"
	"gofinetune/internal/workspace"
)

// EncodeFolds writes folds as a size line followed by that many subject-id
// lines, fold after fold, with no separators.
func EncodeFolds(w io.Writer, folds []cohort.Fold) error {
	for _, fold := range folds {
		if _, err := fmt.Fprintf(w, "%d\n", fold.Len()); err != nil {
			return err
		}
		for _, id := range fold.SubjectIDs {
			if strings.ContainsAny(id.String(), "\r\n") || strings.TrimSpace(id.String()) == "" {
				return core.NewDataIntegrityError(fmt.Sprintf("fold %d: subject id %q cannot be written", fold.Index, id))
			}
			if _, err := fmt.Fprintln(w, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteFoldFile persists folds atomically. A crash leaves either the
// previous file or the complete new one.
func WriteFoldFile(path string, folds []cohort.Fold) error {
	return workspace.WriteAtomic(path, func(w io.Writer) error {
		return EncodeFolds(w, folds)
	})
}

// DecodeFolds parses the fold format. Non-integer or negative headers,
// blank ids, subjects repeated across folds and truncated bodies are all
// reported as core.ErrCorruptFolds.
func DecodeFolds(r io.Reader) ([]cohort.Fold, error) {
	scanner := bufio.NewScanner(r)
	var folds []cohort.Fold
	seen := make(map[core.SubjectID]int)
	line := 0

	for scanner.Scan() {
		line++
		header := strings.TrimSpace(scanner.Text())
		size, err := strconv.Atoi(header)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: expected fold size, got %q", core.ErrCorruptFolds, line, header)
		}
		if size < 0 {
			return nil, fmt.Errorf("%w: line %d: negative fold size %d", core.ErrCorruptFolds, line, size)
		}

		fold := cohort.Fold{Index: len(folds), SubjectIDs: make([]core.SubjectID, 0, size)}
		for i := 0; i < size; i++ {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return nil, errors.StorageError("read fold file", err)
				}
				return nil, fmt.Errorf("%w: fold %d declares %d subjects but only %d follow",
					core.ErrCorruptFolds, fold.Index, size, i)
			}
			line++
			id, err := core.ParseSubjectID(scanner.Text())
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", core.ErrCorruptFolds, line, err)
			}
			if prev, dup := seen[id]; dup {
				return nil, fmt.Errorf("%w: subject %s appears in folds %d and %d", core.ErrCorruptFolds, id, prev, fold.Index)
			}
			seen[id] = fold.Index
			fold.SubjectIDs = append(fold.SubjectIDs, id)
		}
		folds = append(folds, fold)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.StorageError("read fold file", err)
	}
	if len(folds) == 0 {
		return nil, fmt.Errorf("%w: no folds", core.ErrCorruptFolds)
	}
	return folds, nil
}

// ReadFoldFile opens and decodes a fold file
func ReadFoldFile(path string) ([]cohort.Fold, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.StorageError("open fold file "+path, err)
	}
	defer f.Close()

	folds, err := DecodeFolds(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return folds, nil
}

package excel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/internal"
	"gofinetune/internal/config"
)

// ClipTableProvider serves the external examples of one or more clip
// tables, one table per center. Tables are read once on first use.
type ClipTableProvider struct {
	paths   []string
	dataset config.DatasetConfig
	logger  *internal.Logger

	once      sync.Once
	examples  []cohort.Example
	bySubject map[core.SubjectID][]cohort.Example
	err       error
}

// NewClipTableProvider creates a provider over the given tables or table directories
func NewClipTableProvider(paths []string, dataset config.DatasetConfig, logger *internal.Logger) *ClipTableProvider {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &ClipTableProvider{paths: paths, dataset: dataset, logger: logger}
}

// Examples returns every clip of every table in table order
func (p *ClipTableProvider) Examples(ctx context.Context) ([]cohort.Example, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	return append([]cohort.Example(nil), p.examples...), nil
}

// RowsFor returns the clips of the given subjects grouped in request order
func (p *ClipTableProvider) RowsFor(ctx context.Context, subjectIDs []core.SubjectID) ([]cohort.Example, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	var out []cohort.Example
	for _, id := range subjectIDs {
		out = append(out, p.bySubject[id]...)
	}
	return out, nil
}

func (p *ClipTableProvider) load() error {
	p.once.Do(func() {
		p.err = p.read()
	})
	return p.err
}

func (p *ClipTableProvider) read() error {
	paths, err := ExpandTablePaths(p.paths)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return core.NewConfigError("paths.clip_tables", "no .csv or .xlsx clip tables found")
	}

	p.bySubject = make(map[core.SubjectID][]cohort.Example)
	for _, path := range paths {
		rows, err := NewDataReader(path).ReadClipRows()
		if err != nil {
			return err
		}
		for i, row := range rows {
			ex, err := p.toExample(row)
			if err != nil {
				return core.NewDataIntegrityError(fmt.Sprintf("%s row %d: %v", path, i+2, err))
			}
			p.examples = append(p.examples, ex)
			p.bySubject[ex.SubjectID] = append(p.bySubject[ex.SubjectID], ex)
		}
		p.logger.Info("read %d clips from %s", len(rows), path)
	}
	p.logger.Info("%d external clips from %d subjects in %d tables", len(p.examples), len(p.bySubject), len(paths))
	return nil
}

func (p *ClipTableProvider) toExample(row ClipRow) (cohort.Example, error) {
	subject, err := core.ParseSubjectID(row.PatientID)
	if err != nil {
		return cohort.Example{}, fmt.Errorf("patient_id: %w", err)
	}
	id, err := core.ParseExampleID(row.ID)
	if err != nil {
		return cohort.Example{}, fmt.Errorf("id: %w", err)
	}

	var label cohort.Label
	switch {
	case strings.TrimSpace(row.Label) != "":
		label, err = cohort.ParseLabel(row.Label, p.dataset.PositiveLabel, p.dataset.NegativeLabels...)
		if err != nil {
			return cohort.Example{}, err
		}
	case strings.TrimSpace(row.Findings) != "":
		label = cohort.LabelNegative
		if strings.EqualFold(strings.TrimSpace(row.Findings), absentSlidingFinding) {
			label = cohort.LabelPositive
		}
	default:
		return cohort.Example{}, fmt.Errorf("neither label nor pleural_line_findings set")
	}

	fileRef := row.Filename
	if fileRef == "" {
		fileRef = row.ID
	}
	return cohort.Example{ID: id, SubjectID: subject, FileRef: fileRef, Label: label}, nil
}

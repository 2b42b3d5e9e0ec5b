package excel

import (
	"io"
	"sort"

	"gofinetune/domain/trial"
	"gofinetune/internal/errors"
	"gofinetune/internal/workspace"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	trialsSheet  = "Trials"
	recordsSheet = "Records"
)

// ReportWriter renders a series summary as a workbook with one sheet of
// counts, one row per trial and one row per increment record
type ReportWriter struct{}

func NewReportWriter() *ReportWriter {
	return &ReportWriter{}
}

// WriteSummary writes the workbook atomically to path
func (w *ReportWriter) WriteSummary(path string, summary *trial.SeriesSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return errors.Wrap(err, "name summary sheet")
	}
	for _, name := range []string{trialsSheet, recordsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return errors.Wrapf(err, "create sheet %s", name)
		}
	}

	if err := writeRows(f, summarySheet, summaryRows(summary)); err != nil {
		return err
	}
	if err := writeRows(f, trialsSheet, trialRows(summary)); err != nil {
		return err
	}
	if err := writeRows(f, recordsSheet, recordRows(summary)); err != nil {
		return err
	}

	return workspace.WriteAtomic(path, func(out io.Writer) error {
		return f.Write(out)
	})
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "write %s row %d", sheet, i+1)
		}
	}
	return nil
}

func summaryRows(s *trial.SeriesSummary) [][]interface{} {
	rows := [][]interface{}{
		{"series_id", s.SeriesID.String()},
		{"trials", s.Trials},
		{"passed", s.Passed},
		{"exhausted", s.Exhausted},
		{"failed", s.Failed},
	}
	if s.Manifest != nil {
		rows = append(rows,
			[]interface{}{"subjects", s.Manifest.Subjects},
			[]interface{}{"examples", s.Manifest.Examples},
			[]interface{}{"seed", s.Manifest.Fingerprint.Seed},
			[]interface{}{"num_folds", s.Manifest.Fingerprint.NumFolds},
			[]interface{}{"fingerprint", s.Manifest.Fingerprint.Fingerprint.String()},
		)
	}
	return rows
}

func trialRows(s *trial.SeriesSummary) [][]interface{} {
	rows := [][]interface{}{{"trial", "seed", "status", "records", "passed_at", "artifact", "error"}}
	for _, o := range s.Outcomes {
		if o == nil {
			continue
		}
		passedAt := interface{}("")
		if o.Passed() {
			passedAt = o.PassedAt
		}
		rows = append(rows, []interface{}{o.Index + 1, o.Seed, string(o.Status), len(o.Records), passedAt, o.ArtifactRef, o.Error})
	}
	return rows
}

func recordRows(s *trial.SeriesSummary) [][]interface{} {
	names := metricNames(s)
	header := []interface{}{"trial", "increment", "folds_grafted", "train_size", "test_size", "passed"}
	for _, n := range names {
		header = append(header, n)
	}
	rows := [][]interface{}{header}

	for _, o := range s.Outcomes {
		if o == nil {
			continue
		}
		for _, r := range o.Records {
			row := []interface{}{o.Index + 1, r.Increment, r.FoldsGrafted, r.TrainSize, r.TestSize, r.Passed}
			for _, n := range names {
				if v, ok := r.Metrics[n]; ok {
					row = append(row, v)
				} else {
					row = append(row, "")
				}
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func metricNames(s *trial.SeriesSummary) []string {
	set := make(map[string]bool)
	for _, o := range s.Outcomes {
		if o == nil {
			continue
		}
		for _, r := range o.Records {
			for n := range r.Metrics {
				set[n] = true
			}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}


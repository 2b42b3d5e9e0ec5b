package excel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gofinetune/internal/errors"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"
)

// DataReader reads clip tables from Excel or CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
}

// NewDataReader creates a reader for a .csv or .xlsx clip table
func NewDataReader(filePath string) *DataReader {
	fileType := "xlsx"
	if strings.ToLower(filepath.Ext(filePath)) == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType}
}

// ReadClipRows reads every row of the table
func (r *DataReader) ReadClipRows() ([]ClipRow, error) {
	if _, err := os.Stat(r.filePath); err != nil {
		return nil, errors.StorageError(fmt.Sprintf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath), err)
	}

	switch r.fileType {
	case "csv":
		return r.readCSV()
	default:
		return r.readExcel()
	}
}

func (r *DataReader) readCSV() ([]ClipRow, error) {
	f, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.StorageError("open CSV file", err)
	}
	defer f.Close()

	var rows []ClipRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "parse CSV file %s", r.filePath)
	}
	return rows, nil
}

// readExcel reads the first sheet and maps cells by header
func (r *DataReader) readExcel() ([]ClipRow, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.StorageError("open Excel file", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %s of %s", sheet, r.filePath)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	out := make([]ClipRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		data := make(RawRowData, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				data[headers[j]] = strings.TrimSpace(cell)
			}
		}
		if isBlank(data) {
			continue
		}
		out = append(out, ClipRow{
			ID:        data["id"],
			PatientID: data["patient_id"],
			Filename:  data["filename"],
			Label:     data["label"],
			Findings:  data["pleural_line_findings"],
		})
	}
	return out, nil
}

func isBlank(row RawRowData) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}

// ExpandTablePaths replaces each directory with the clip tables inside it,
// sorted by name
func ExpandTablePaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.StorageError("clip table "+p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, errors.StorageError("list clip tables in "+p, err)
		}
		var found []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".csv" || ext == ".xlsx") {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

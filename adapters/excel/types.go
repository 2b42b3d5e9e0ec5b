package excel

// ClipRow is one line of a clip table. Either Label or Findings must be set.
type ClipRow struct {
	ID        string `csv:"id"`
	PatientID string `csv:"patient_id"`
	Filename  string `csv:"filename"`
	Label     string `csv:"label"`
	Findings  string `csv:"pleural_line_findings"`
}

// RawRowData represents a row of a sheet as header to cell
type RawRowData map[string]string

// absentSlidingFinding marks a positive clip in the findings column
const absentSlidingFinding = "absent_lung_sliding"

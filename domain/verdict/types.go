package verdict

import (
	"fmt"
)

// BoundKind distinguishes lower from upper acceptance bounds
type BoundKind string

const (
	BoundLower BoundKind = "lower"
	BoundUpper BoundKind = "upper"
)

// BoundFailure records one metric that fell outside its bound
type BoundFailure struct {
	Metric string
	Kind   BoundKind
	Bound  float64
	Value  float64
}

func (f BoundFailure) String() string {
	if f.Kind == BoundLower {
		return fmt.Sprintf("%s=%.4f < %.4f", f.Metric, f.Value, f.Bound)
	}
	return fmt.Sprintf("%s=%.4f > %.4f", f.Metric, f.Value, f.Bound)
}

// Verdict is the judgment of a metrics record against the acceptance bounds
type Verdict struct {
	Passed   bool
	Checked  int
	Failures []BoundFailure
}

// Reasons renders the failures for logs and records
func (v Verdict) Reasons() []string {
	if len(v.Failures) == 0 {
		return nil
	}
	out := make([]string, 0, len(v.Failures))
	for _, f := range v.Failures {
		out = append(out, f.String())
	}
	return out
}

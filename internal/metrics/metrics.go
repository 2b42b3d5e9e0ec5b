// Package metrics turns evaluator scores into the named binary
// classification metrics that stopping bounds are checked against.
package metrics

import (
	"fmt"
	"math"
	"strings"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Metric names
const (
	Accuracy    = "accuracy"
	AUC         = "auc"
	Sensitivity = "sensitivity"
	Specificity = "specificity"
	Precision   = "precision"
	F1          = "f1"
	Phi         = "phi"
	TP          = "tp"
	TN          = "tn"
	FP          = "fp"
	FN          = "fn"
)

// DefaultThreshold is the score at or above which an example is called positive
const DefaultThreshold = 0.5

var known = map[string]bool{
	Accuracy: true, AUC: true, Sensitivity: true, Specificity: true,
	Precision: true, F1: true, Phi: true, TP: true, TN: true, FP: true, FN: true,
}

var aliases = map[string]string{
	"recall":  Sensitivity,
	"tpr":     Sensitivity,
	"tnr":     Specificity,
	"ppv":     Precision,
	"mcc":     Phi,
	"roc_auc": AUC,
}

// Canonical lower-cases a metric name and resolves aliases
func Canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[n]; ok {
		return alias
	}
	return n
}

// IsKnown reports whether a canonical name can be computed
func IsKnown(name string) bool {
	return known[name]
}

// Confusion holds the confusion matrix of one evaluation
type Confusion struct {
	TP int `json:"tp"`
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Tally thresholds scores against labels
func Tally(labels []cohort.Label, scores []float64, threshold float64) (Confusion, error) {
	var c Confusion
	if len(labels) != len(scores) {
		return c, core.NewDataIntegrityError(fmt.Sprintf("%d labels but %d scores", len(labels), len(scores)))
	}
	for i, label := range labels {
		predicted := scores[i] >= threshold
		switch {
		case label == cohort.LabelPositive && predicted:
			c.TP++
		case label == cohort.LabelPositive:
			c.FN++
		case predicted:
			c.FP++
		default:
			c.TN++
		}
	}
	return c, nil
}

func (c Confusion) Total() int {
	return c.TP + c.TN + c.FP + c.FN
}

func (c Confusion) Accuracy() float64 {
	return ratio(c.TP+c.TN, c.Total())
}

func (c Confusion) Sensitivity() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

func (c Confusion) Specificity() float64 {
	return ratio(c.TN, c.TN+c.FP)
}

func (c Confusion) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

func (c Confusion) F1() float64 {
	return ratio(2*c.TP, 2*c.TP+c.FP+c.FN)
}

// Phi is the Matthews correlation coefficient; 0 when any margin is empty
func (c Confusion) Phi() float64 {
	tp, tn, fp, fn := float64(c.TP), float64(c.TN), float64(c.FP), float64(c.FN)
	den := math.Sqrt((tp + fp) * (tp + fn) * (tn + fp) * (tn + fn))
	if den == 0 {
		return 0
	}
	return (tp*tn - fp*fn) / den
}

// ROCAUC integrates the ROC curve of scores against labels. It is 0 when
// either class is absent.
func ROCAUC(labels []cohort.Label, scores []float64) float64 {
	if len(labels) != len(scores) || len(labels) == 0 {
		return 0
	}
	y := make([]float64, len(scores))
	copy(y, scores)
	classes := make([]bool, len(labels))
	var pos int
	for i, label := range labels {
		classes[i] = label == cohort.LabelPositive
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return 0
	}
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// Compute evaluates the named metrics. Unknown names are an error so a
// misconfigured bound never silently passes.
func Compute(names []string, labels []cohort.Label, scores []float64, threshold float64) (map[string]float64, error) {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	c, err := Tally(labels, scores, threshold)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(names))
	for _, raw := range names {
		name := Canonical(raw)
		switch name {
		case Accuracy:
			out[name] = c.Accuracy()
		case AUC:
			out[name] = ROCAUC(labels, scores)
		case Sensitivity:
			out[name] = c.Sensitivity()
		case Specificity:
			out[name] = c.Specificity()
		case Precision:
			out[name] = c.Precision()
		case F1:
			out[name] = c.F1()
		case Phi:
			out[name] = c.Phi()
		case TP:
			out[name] = float64(c.TP)
		case TN:
			out[name] = float64(c.TN)
		case FP:
			out[name] = float64(c.FP)
		case FN:
			out[name] = float64(c.FN)
		default:
			return nil, core.NewConfigError("metrics", fmt.Sprintf("unknown metric %q", raw))
		}
	}
	return out, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

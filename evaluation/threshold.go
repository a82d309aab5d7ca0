// Package evaluation calibrates per-label decision thresholds and reports
// multilabel metrics on a held-out split.
package evaluation

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/gembaguard/metrics"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// Scan is the grid of candidate thresholds.
type Scan struct {
	Start   float64 `mapstructure:"start" json:"start" validate:"gt=0,lt=1"`
	Stop    float64 `mapstructure:"stop" json:"stop" validate:"gt=0,lt=1,gtefield=Start"`
	Step    float64 `mapstructure:"step" json:"step" validate:"gt=0"`
	Default float64 `mapstructure:"default" json:"default" validate:"gte=0,lte=1"`
}

// DefaultScan scans 0.01 to 0.98 by 0.01 and falls back to 0.5.
func DefaultScan() Scan {
	return Scan{Start: 0.01, Stop: 0.98, Step: 0.01, Default: 0.5}
}

// Candidates returns the thresholds of the scan in increasing order. Each
// value is rounded so that 0.07 is exactly 7/100.
func (s Scan) Candidates() []float64 {
	if s.Step <= 0 || s.Stop < s.Start {
		return nil
	}
	steps := int(math.Round((s.Stop - s.Start) / s.Step))
	out := make([]float64, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := s.Start + float64(i)*s.Step
		out = append(out, math.Round(t*1e9)/1e9)
	}
	return out
}

// CurvePoint is the F1 obtained with one threshold.
type CurvePoint struct {
	Threshold float64 `json:"threshold"`
	F1        float64 `json:"f1"`
}

// ThresholdResult is the outcome of ScanThreshold.
type ThresholdResult struct {
	Threshold float64      `json:"threshold"`
	F1        float64      `json:"f1"`
	Curve     []CurvePoint `json:"curve,omitempty"`
	// SingleClass is set when yTrue has one class and Threshold is the default.
	SingleClass bool `json:"single_class,omitempty"`
}

// ScanThreshold returns the candidate threshold maximizing F1 of
// proba > threshold. Ties go to the smallest threshold. When yTrue holds a
// single class the default threshold is returned without scanning.
func ScanThreshold(yTrue []int, proba []float64, scan Scan) (ThresholdResult, error) {
	if len(yTrue) == 0 {
		return ThresholdResult{}, errors.NewValueError("ScanThreshold", "empty input")
	}
	if len(yTrue) != len(proba) {
		return ThresholdResult{}, errors.NewDimensionError("ScanThreshold", len(yTrue), len(proba), 0)
	}
	candidates := scan.Candidates()
	if len(candidates) == 0 {
		return ThresholdResult{}, errors.NewValidationError("scan", "no candidate thresholds", scan)
	}

	pos := 0
	for _, v := range yTrue {
		pos += v
	}
	if pos == 0 || pos == len(yTrue) {
		f1, err := f1At(yTrue, proba, scan.Default)
		if err != nil {
			return ThresholdResult{}, err
		}
		return ThresholdResult{Threshold: scan.Default, F1: f1, SingleClass: true}, nil
	}

	scores := make([]float64, len(candidates))
	curve := make([]CurvePoint, len(candidates))
	for i, t := range candidates {
		f1, err := f1At(yTrue, proba, t)
		if err != nil {
			return ThresholdResult{}, err
		}
		scores[i] = f1
		curve[i] = CurvePoint{Threshold: t, F1: f1}
	}
	// floats.MaxIdx returns the first maximum
	best := floats.MaxIdx(scores)
	return ThresholdResult{Threshold: candidates[best], F1: scores[best], Curve: curve}, nil
}

// Binarize returns proba > threshold as 0/1.
func Binarize(proba []float64, threshold float64) []int {
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > threshold {
			out[i] = 1
		}
	}
	return out
}

func f1At(yTrue []int, proba []float64, threshold float64) (float64, error) {
	cm, err := metrics.BinaryConfusionMatrix(yTrue, Binarize(proba, threshold))
	if err != nil {
		return 0, err
	}
	return cm.F1(), nil
}

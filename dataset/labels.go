package dataset

import (
	"math"
	"strings"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// NormalizeLabels renames the verbose failure columns of the raw export to
// their codes and coerces every label column to 0/1 in place. Values that
// are not recognizably true become 0.
func NormalizeLabels(f *Frame) {
	for verbose, code := range verboseLabels {
		f.Rename(verbose, code)
	}

	logger := log.GetLoggerWithName("dataset")
	for _, name := range append(append([]string(nil), Labels...), ColMachineFailure) {
		if !f.Has(name) {
			continue
		}
		out := make([]float64, f.NRows())
		unrecognized := 0
		if text, ok := f.Text(name); ok {
			for i, s := range text {
				v, ok := coerceLabel(s)
				if !ok {
					unrecognized++
				}
				out[i] = v
			}
		} else {
			values, _ := f.Numeric(name)
			for i, v := range values {
				switch {
				case v == 1:
					out[i] = 1
				case v == 0:
				default:
					unrecognized++
				}
			}
		}
		_ = f.SetNumeric(name, out)
		if unrecognized > 0 {
			errors.Warn(errors.NewDataConversionWarning("label value", "0",
				"unrecognized values in "+name+" treated as no failure"))
			logger.Warn("unrecognized label values set to 0",
				log.LabelKey, name,
				log.CountKey, unrecognized,
			)
		}
	}
}

// coerceLabel maps true/"true"/"1"/1 to 1 and false/"false"/"0"/0 to 0,
// case-insensitively. Anything else is 0 and reported as unrecognized.
func coerceLabel(s string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return 1, true
	case "false", "0":
		return 0, true
	case "":
		return 0, false
	}
	v, err := cast.ToFloat64E(s)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	switch v {
	case 1:
		return 1, true
	case 0:
		return 0, true
	}
	return 0, false
}

// LabelMatrix returns the named label columns as an NRows × len(labels)
// matrix of 0/1 values.
func LabelMatrix(f *Frame, labels []string) (*mat.Dense, error) {
	Y, err := f.Matrix(labels)
	if err != nil {
		return nil, err
	}
	r, c := Y.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := Y.At(i, j); v != 0 && v != 1 {
				return nil, errors.NewValueError("LabelMatrix", "label "+labels[j]+" is not binary; run NormalizeLabels first")
			}
		}
	}
	return Y, nil
}

// PresentLabels returns the failure labels present in f, in canonical order.
func PresentLabels(f *Frame) []string {
	var out []string
	for _, l := range Labels {
		if f.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

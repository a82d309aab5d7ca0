package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// Backfill adds every required column missing from f as a constant column
// holding its default, and returns the names it filled. When some column
// has no default, f is left unchanged and a SchemaError lists them.
func Backfill(f *dataset.Frame, required []string, defaults *Defaults) ([]string, error) {
	if defaults == nil {
		defaults = DefaultTable()
	}
	type fill struct {
		name  string
		value float64
	}
	var fills []fill
	var unfillable []string
	for _, name := range required {
		if f.Has(name) {
			continue
		}
		v, ok := defaults.Lookup(name)
		if !ok {
			unfillable = append(unfillable, name)
			continue
		}
		fills = append(fills, fill{name, v})
	}
	if len(unfillable) > 0 {
		return nil, errors.NewSchemaError("features.Backfill", "no default value", unfillable)
	}

	logger := log.GetLoggerWithName("features.Backfill")
	filled := make([]string, 0, len(fills))
	for _, fl := range fills {
		col := make([]float64, f.NRows())
		for i := range col {
			col[i] = fl.value
		}
		if err := f.SetNumeric(fl.name, col); err != nil {
			return filled, err
		}
		filled = append(filled, fl.name)
		logger.Warn("feature filled with default value",
			log.PhaseKey, log.PhaseInference,
			log.ColumnKey, fl.name,
			"value", fl.value,
		)
	}
	return filled, nil
}

// FillNaNWithMean replaces missing values of each column by the column mean
// over the batch. A column with no value at all takes its default instead.
// It returns the columns that had missing values.
func FillNaNWithMean(f *dataset.Frame, columns []string, defaults *Defaults) ([]string, error) {
	if defaults == nil {
		defaults = DefaultTable()
	}
	var touched []string
	for _, name := range columns {
		values, ok := f.Numeric(name)
		if !ok {
			continue
		}
		present := make([]float64, 0, len(values))
		for _, v := range values {
			if !math.IsNaN(v) {
				present = append(present, v)
			}
		}
		if len(present) == len(values) {
			continue
		}
		var fill float64
		if len(present) > 0 {
			fill = stat.Mean(present, nil)
		} else {
			v, ok := defaults.Lookup(name)
			if !ok {
				return touched, errors.NewSchemaError("features.FillNaNWithMean", "column entirely missing and no default", []string{name})
			}
			fill = v
		}
		for i, v := range values {
			if math.IsNaN(v) {
				values[i] = fill
			}
		}
		touched = append(touched, name)
	}
	return touched, nil
}

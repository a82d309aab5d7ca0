// Package cleaning repairs raw telemetry without dropping rows: median
// imputation, IQR outlier clipping and physical consistency checks.
package cleaning

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// Cleaner repairs the numeric sensor columns of a frame.
type Cleaner struct {
	columns           []string
	iqrFactor         float64
	temperatureOffset float64
	logger            log.Logger
}

// Option is a functional option for Cleaner.
type Option func(*Cleaner)

// WithColumns sets the columns to impute and clip (default: the six base features).
func WithColumns(columns ...string) Option {
	return func(c *Cleaner) { c.columns = columns }
}

// WithIQRFactor sets the fence multiplier k in [Q1 - k·IQR, Q3 + k·IQR] (default 3).
func WithIQRFactor(k float64) Option {
	return func(c *Cleaner) { c.iqrFactor = k }
}

// WithTemperatureOffset sets the value added to the air temperature when the
// process temperature is below it (default 1).
func WithTemperatureOffset(offset float64) Option {
	return func(c *Cleaner) { c.temperatureOffset = offset }
}

// NewCleaner creates a Cleaner.
func NewCleaner(opts ...Option) *Cleaner {
	c := &Cleaner{
		columns:           append([]string(nil), dataset.BaseFeatures...),
		iqrFactor:         3,
		temperatureOffset: 1,
		logger:            log.GetLoggerWithName("cleaning"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clean returns a repaired copy of f and a report of every correction.
// Steps run in order: imputation, clipping, then physical invariants.
func (c *Cleaner) Clean(f *dataset.Frame) (*dataset.Frame, *Report, error) {
	if f.NRows() == 0 {
		return nil, nil, errors.NewModelError("Cleaner.Clean", "empty frame", errors.ErrEmptyData)
	}
	if c.iqrFactor < 0 {
		return nil, nil, errors.NewValidationError("iqr_factor", "must be >= 0", c.iqrFactor)
	}
	out := f.Clone()
	report := &Report{Rows: f.NRows()}

	for _, name := range c.columns {
		values, ok := out.Numeric(name)
		if !ok {
			report.Skipped = append(report.Skipped, name)
			c.logger.Warn("column not found; skipped",
				log.PhaseKey, log.PhaseCleaning,
				log.ColumnKey, name,
			)
			continue
		}
		cr := ColumnReport{Column: name}

		present := presentSorted(values)
		if len(present) == 0 {
			cr.AllMissing = true
			report.Columns = append(report.Columns, cr)
			c.logger.Warn("column entirely missing; left untouched",
				log.PhaseKey, log.PhaseCleaning,
				log.ColumnKey, name,
			)
			continue
		}

		if len(present) < len(values) {
			cr.Median = Quantile(present, 0.5)
			for i, v := range values {
				if math.IsNaN(v) {
					values[i] = cr.Median
					cr.Imputed++
				}
			}
			present = presentSorted(values)
		}

		q1, q3 := Quantile(present, 0.25), Quantile(present, 0.75)
		iqr := q3 - q1
		cr.Lower = q1 - c.iqrFactor*iqr
		cr.Upper = q3 + c.iqrFactor*iqr
		for i, v := range values {
			switch {
			case v < cr.Lower:
				values[i] = cr.Lower
				cr.Clipped++
			case v > cr.Upper:
				values[i] = cr.Upper
				cr.Clipped++
			}
		}
		report.Columns = append(report.Columns, cr)

		if cr.Imputed > 0 || cr.Clipped > 0 {
			c.logger.Info("column repaired",
				log.PhaseKey, log.PhaseCleaning,
				log.ColumnKey, name,
				"imputed", cr.Imputed,
				"clipped", cr.Clipped,
			)
		}
	}

	report.TemperatureCorrections = c.fixTemperatures(out)
	report.WearCorrections = fixWear(out)
	if report.TemperatureCorrections > 0 || report.WearCorrections > 0 {
		c.logger.Info("physical inconsistencies corrected",
			log.PhaseKey, log.PhaseCleaning,
			"temperature", report.TemperatureCorrections,
			"tool_wear", report.WearCorrections,
		)
	}
	return out, report, nil
}

// fixTemperatures sets process temperatures below the air temperature to
// air + offset. Rows with a missing reading are not compared.
func (c *Cleaner) fixTemperatures(f *dataset.Frame) int {
	air, ok1 := f.Numeric(dataset.ColAirTemperature)
	proc, ok2 := f.Numeric(dataset.ColProcessTemperature)
	if !ok1 || !ok2 {
		return 0
	}
	n := 0
	for i := range proc {
		if proc[i] < air[i] {
			proc[i] = air[i] + c.temperatureOffset
			n++
		}
	}
	return n
}

// fixWear sets negative tool wear to 0.
func fixWear(f *dataset.Frame) int {
	wear, ok := f.Numeric(dataset.ColToolWear)
	if !ok {
		return 0
	}
	n := 0
	for i, v := range wear {
		if v < 0 {
			wear[i] = 0
			n++
		}
	}
	return n
}

func presentSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// Quantile returns the type-7 q-quantile of sorted data, interpolating linearly
// between the two nearest order statistics.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

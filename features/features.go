// Package features derives the physics-informed columns, the per-type
// z-scores and the anomaly index from cleaned telemetry.
//
// Training uses Engineer.FitTransform on the full population. Serving uses
// Engineer.TransformRobust with the statistics persisted at fit time, then
// Backfill and FillNaNWithMean to complete whatever could not be derived.
package features

import (
	"math"

	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// Derived feature columns.
const (
	FeaturePower            = "potencia_estimada"
	FeatureTemperatureDelta = "delta_temperatura"
	FeaturePowerDensity     = "densidade_potencia"
	FeatureWearRate         = "taxa_desgaste"
	FeatureToolFatigue      = "fadiga_ferramenta"
	FeatureHeatIndex        = "indice_calor"
	FeatureMechanicalStress = "stress_mecanico"
	FeatureAnomalyIndex     = "indice_anomalia"

	// ZScoreSuffix is appended to a base column to name its z-score.
	ZScoreSuffix = "_zscore"

	// DefaultFloor replaces zero denominators.
	DefaultFloor = 0.001

	fatigueExponent = 1.2
)

// Derived lists the derived features in the order they are added.
var Derived = []string{
	FeaturePower,
	FeatureTemperatureDelta,
	FeaturePowerDensity,
	FeatureWearRate,
	FeatureToolFatigue,
	FeatureHeatIndex,
	FeatureMechanicalStress,
}

// ZScoreName returns the z-score column of base.
func ZScoreName(base string) string { return base + ZScoreSuffix }

// SafeDivide divides num by den, replacing a zero denominator by floor.
func SafeDivide(num, den, floor float64) float64 {
	if den == 0 {
		den = floor
	}
	return num / den
}

// Options configures an Engineer.
type Options struct {
	// Floor replaces zero denominators (default 0.001).
	Floor float64
	// GroupColumn holds the machine type used to group z-scores (default "tipo").
	GroupColumn string
	// BaseColumns are the columns that get a z-score (default: the six sensor readings).
	BaseColumns []string
}

// DefaultOptions returns the options used by the pipeline.
func DefaultOptions() Options {
	return Options{
		Floor:       DefaultFloor,
		GroupColumn: dataset.ColType,
		BaseColumns: append([]string(nil), dataset.BaseFeatures...),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Floor <= 0 {
		o.Floor = d.Floor
	}
	if o.GroupColumn == "" {
		o.GroupColumn = d.GroupColumn
	}
	if len(o.BaseColumns) == 0 {
		o.BaseColumns = d.BaseColumns
	}
	return o
}

// Engineer adds the engineered features to a frame.
type Engineer struct {
	opts   Options
	stats  *GroupStats
	logger log.Logger
}

// NewEngineer creates an Engineer. Zero-valued options take their defaults.
func NewEngineer(opts Options) *Engineer {
	return &Engineer{
		opts:   opts.withDefaults(),
		logger: log.GetLoggerWithName("features.Engineer"),
	}
}

// NewEngineerFromStats creates an Engineer that reuses statistics computed
// by an earlier Fit, typically loaded from a model bundle.
func NewEngineerFromStats(stats *GroupStats, opts Options) *Engineer {
	e := NewEngineer(opts)
	e.stats = stats
	if stats != nil {
		e.opts.GroupColumn = stats.GroupColumn
		e.opts.BaseColumns = append([]string(nil), stats.Columns...)
	}
	return e
}

// Options returns the effective options.
func (e *Engineer) Options() Options { return e.opts }

// Stats returns the fitted group statistics, or nil before Fit.
func (e *Engineer) Stats() *GroupStats { return e.stats }

// IsFitted reports whether group statistics are available.
func (e *Engineer) IsFitted() bool { return e.stats != nil }

// Fit computes the per-type statistics of the base columns.
func (e *Engineer) Fit(f *dataset.Frame) error {
	stats, err := FitGroupStats(f, e.opts.GroupColumn, e.opts.BaseColumns)
	if err != nil {
		return err
	}
	e.stats = stats
	e.logger.Info("group statistics fitted",
		log.PhaseKey, log.PhaseFeatures,
		log.SamplesKey, f.NRows(),
		"groups", len(stats.Groups),
	)
	return nil
}

// Transform returns a copy of f with every derived feature, the z-scores and
// the anomaly index. All base columns and the group column must be present.
// Columns that already exist are overwritten in place, so applying
// Transform twice yields the same frame.
func (e *Engineer) Transform(f *dataset.Frame) (*dataset.Frame, error) {
	if e.stats == nil {
		return nil, errors.NewNotFittedError("features.Engineer", "Transform")
	}
	required := append([]string{dataset.ColAirTemperature, dataset.ColProcessTemperature,
		dataset.ColHumidity, dataset.ColRotationalSpeed, dataset.ColTorque, dataset.ColToolWear},
		e.stats.Columns...)
	var missing []string
	seen := make(map[string]bool)
	for _, name := range required {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := f.Numeric(name); !ok {
			missing = append(missing, name)
		}
	}
	if _, ok := f.Text(e.stats.GroupColumn); !ok {
		missing = append(missing, e.stats.GroupColumn)
	}
	if len(missing) > 0 {
		return nil, errors.NewSchemaError("features.Engineer.Transform", "required columns missing", missing)
	}

	out, skipped, err := e.TransformRobust(f)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		return nil, errors.NewSchemaError("features.Engineer.Transform", "features could not be derived", skipped)
	}
	return out, nil
}

// FitTransform fits the group statistics on f and transforms it.
func (e *Engineer) FitTransform(f *dataset.Frame) (*dataset.Frame, error) {
	if err := e.Fit(f); err != nil {
		return nil, err
	}
	return e.Transform(f)
}

// FeatureNames returns every column the Engineer can add, in order.
func (e *Engineer) FeatureNames() []string {
	names := append([]string(nil), Derived...)
	for _, base := range e.opts.BaseColumns {
		names = append(names, ZScoreName(base))
	}
	return append(names, FeatureAnomalyIndex)
}

// anomalyIndex returns sqrt(mean(z²)) per row over the given z-score columns.
func anomalyIndex(zscores [][]float64, n int) []float64 {
	out := make([]float64, n)
	if len(zscores) == 0 {
		return out
	}
	k := float64(len(zscores))
	for i := 0; i < n; i++ {
		var sum float64
		for _, z := range zscores {
			sum += z[i] * z[i]
		}
		out[i] = math.Sqrt(sum / k)
	}
	return out
}

package features

import (
	"math"

	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// TransformRobust returns a copy of f with every feature whose inputs are
// present, and the names of the features it could not derive.
//
// Z-scores need the group column and fitted statistics for the base column;
// they always use the fit-time moments, never the batch's own. The anomaly
// index covers only the z-scores actually computed.
func (e *Engineer) TransformRobust(f *dataset.Frame) (*dataset.Frame, []string, error) {
	if f.NRows() == 0 {
		return nil, nil, errors.NewModelError("features.TransformRobust", "empty frame", errors.ErrEmptyData)
	}
	out := f.Clone()
	n := out.NRows()
	floor := e.opts.Floor

	col := func(name string) ([]float64, bool) { return out.Numeric(name) }
	set := func(name string, fn func(i int) float64) error {
		v := make([]float64, n)
		for i := range v {
			v[i] = fn(i)
		}
		return out.SetNumeric(name, v)
	}

	var err error
	torque, hasTorque := col(dataset.ColTorque)
	speed, hasSpeed := col(dataset.ColRotationalSpeed)
	if hasTorque && hasSpeed {
		err = firstErr(err, set(FeaturePower, func(i int) float64 { return torque[i] * speed[i] }))
		err = firstErr(err, set(FeatureMechanicalStress, func(i int) float64 {
			return SafeDivide(torque[i], speed[i], floor) * 1000
		}))
	}

	air, hasAir := col(dataset.ColAirTemperature)
	proc, hasProc := col(dataset.ColProcessTemperature)
	if hasAir && hasProc {
		err = firstErr(err, set(FeatureTemperatureDelta, func(i int) float64 { return proc[i] - air[i] }))
		if power, ok := col(FeaturePower); ok {
			err = firstErr(err, set(FeaturePowerDensity, func(i int) float64 {
				return SafeDivide(power[i], air[i], floor)
			}))
		}
	}

	if wear, ok := col(dataset.ColToolWear); ok {
		err = firstErr(err, set(FeatureToolFatigue, func(i int) float64 {
			return math.Pow(wear[i]+1, fatigueExponent)
		}))
		if hasSpeed {
			err = firstErr(err, set(FeatureWearRate, func(i int) float64 {
				return SafeDivide(wear[i], speed[i], floor)
			}))
		}
	}

	if delta, ok := col(FeatureTemperatureDelta); ok {
		if hum, ok := col(dataset.ColHumidity); ok {
			err = firstErr(err, set(FeatureHeatIndex, func(i int) float64 {
				return delta[i] * (1 + hum[i]/100)
			}))
		}
	}
	if err != nil {
		return nil, nil, err
	}

	computed, err := e.addZScores(out)
	if err != nil {
		return nil, nil, err
	}
	if len(computed) > 0 {
		if err := out.SetNumeric(FeatureAnomalyIndex, anomalyIndex(computed, n)); err != nil {
			return nil, nil, err
		}
	}

	var skipped []string
	for _, name := range e.FeatureNames() {
		if !out.Has(name) {
			skipped = append(skipped, name)
		}
	}
	if len(skipped) > 0 {
		e.logger.Warn("features skipped for missing inputs",
			log.PhaseKey, log.PhaseFeatures,
			log.CountKey, len(skipped),
			"skipped", skipped,
		)
	}
	return out, skipped, nil
}

// addZScores writes the z-score columns it can compute and returns them.
func (e *Engineer) addZScores(out *dataset.Frame) ([][]float64, error) {
	if e.stats == nil {
		return nil, nil
	}
	groups, ok := out.Text(e.stats.GroupColumn)
	if !ok {
		e.logger.Warn("group column not found; z-scores disabled",
			log.PhaseKey, log.PhaseFeatures,
			log.ColumnKey, e.stats.GroupColumn,
		)
		return nil, nil
	}
	var computed [][]float64
	for j, base := range e.stats.Columns {
		values, ok := out.Numeric(base)
		if !ok {
			continue
		}
		z := e.stats.ZScores(j, values, groups)
		if err := out.SetNumeric(ZScoreName(base), z); err != nil {
			return nil, err
		}
		computed = append(computed, z)
	}
	return computed, nil
}

func firstErr(err, next error) error {
	if err != nil {
		return err
	}
	return next
}

package serving

import (
	"github.com/YuminosukeSato/gembaguard/dataset"
)

// SimulatedObservation returns a single reading of the six sensors, without
// a machine type, for smoke-testing a bundle.
func SimulatedObservation() *dataset.Frame {
	readings := []struct {
		name  string
		value float64
	}{
		{dataset.ColAirTemperature, 301.5},
		{dataset.ColProcessTemperature, 310.2},
		{dataset.ColHumidity, 55.0},
		{dataset.ColRotationalSpeed, 1500},
		{dataset.ColTorque, 45.0},
		{dataset.ColToolWear, 110},
	}
	f := dataset.NewFrame(1)
	for _, r := range readings {
		// a single-row frame always accepts a one-value column
		_ = f.SetNumeric(r.name, []float64{r.value})
	}
	return f
}

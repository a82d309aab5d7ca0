// Package dataset holds the telemetry table type, CSV ingestion, failure
// label normalization and dataset profiling.
package dataset

// Raw telemetry columns.
const (
	ColAirTemperature     = "temperatura_ar"
	ColProcessTemperature = "temperatura_processo"
	ColHumidity           = "umidade_relativa"
	ColRotationalSpeed    = "velocidade_rotacional"
	ColTorque             = "torque"
	ColToolWear           = "desgaste_da_ferramenta"
	ColType               = "tipo"
	ColID                 = "id"
	ColProductID          = "id_produto"
	ColMachineFailure     = "falha_maquina"
)

// Failure labels.
const (
	LabelToolWear        = "FDF" // tool wear failure
	LabelHeatDissipation = "FDC" // heat dissipation failure
	LabelPower           = "FP"  // power failure
	LabelOverstrain      = "FTE" // overstrain failure
	LabelRandom          = "FA"  // random failure
)

// Labels lists the failure labels in their canonical order.
var Labels = []string{LabelToolWear, LabelHeatDissipation, LabelPower, LabelOverstrain, LabelRandom}

// BaseFeatures lists the six numeric sensor readings in canonical order.
var BaseFeatures = []string{
	ColAirTemperature,
	ColProcessTemperature,
	ColHumidity,
	ColRotationalSpeed,
	ColTorque,
	ColToolWear,
}

// verboseLabels maps the column headers of the raw export to label codes.
var verboseLabels = map[string]string{
	"FDF (Falha Desgaste Ferramenta)": LabelToolWear,
	"FDC (Falha Dissipacao Calor)":    LabelHeatDissipation,
	"FP (Falha Potencia)":             LabelPower,
	"FTE (Falha Tensao Excessiva)":    LabelOverstrain,
	"FA (Falha Aleatoria)":            LabelRandom,
}

// sensorColumns are always read as numeric.
var sensorColumns = func() map[string]bool {
	m := make(map[string]bool, len(BaseFeatures))
	for _, name := range BaseFeatures {
		m[name] = true
	}
	return m
}()

// textColumns are always read as text even when every value looks numeric.
var textColumns = map[string]bool{
	ColType:      true,
	ColProductID: true,
}

// IsLabel reports whether name is a failure label or the aggregate failure flag.
func IsLabel(name string) bool {
	if name == ColMachineFailure {
		return true
	}
	for _, l := range Labels {
		if l == name {
			return true
		}
	}
	return false
}

// IsNonFeature reports whether name is a label, identifier or the machine type.
func IsNonFeature(name string) bool {
	switch name {
	case ColID, ColProductID, ColType:
		return true
	}
	return IsLabel(name)
}

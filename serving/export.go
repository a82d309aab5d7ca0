package serving

import (
	"io"

	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// Alert flag values written to CSV.
const (
	FlagAlert = "ALERT"
	FlagOK    = "OK"
)

// reportColumns are copied from the input batch when present.
var reportColumns = []string{
	dataset.ColID,
	dataset.ColProductID,
	dataset.ColType,
	dataset.ColProcessTemperature,
	dataset.ColTorque,
	dataset.ColToolWear,
}

// ProbaColumn and AlertColumn name the per-label output columns.
func ProbaColumn(label string) string { return "prob_" + label }

func AlertColumn(label string) string { return "alert_" + label }

// WritePredictionsCSV writes one line per input row: the identifier and
// key reading columns found in input, then the probability and alert flag
// of every label.
func WritePredictionsCSV(w io.Writer, input *dataset.Frame, r *Result) error {
	rows := make([]int, r.Rows)
	for i := range rows {
		rows[i] = i
	}
	return writeRows(w, input, r, rows)
}

// WriteAlertsCSV writes only the rows alerting for at least one label, in
// the layout of WritePredictionsCSV.
func WriteAlertsCSV(w io.Writer, input *dataset.Frame, r *Result) error {
	return writeRows(w, input, r, r.AlertRows())
}

func writeRows(w io.Writer, input *dataset.Frame, r *Result, rows []int) error {
	if input.NRows() != r.Rows {
		return errors.NewDimensionError("serving.WriteCSV", r.Rows, input.NRows(), 0)
	}
	var keep []string
	for _, name := range reportColumns {
		if input.Has(name) {
			keep = append(keep, name)
		}
	}
	out := input.Take(rows)
	var drop []string
	for _, name := range out.Columns() {
		if !contains(keep, name) {
			drop = append(drop, name)
		}
	}
	out.Drop(drop...)

	for _, label := range r.Labels {
		proba := make([]float64, len(rows))
		flags := make([]string, len(rows))
		for k, i := range rows {
			proba[k] = r.Probabilities[label][i]
			flags[k] = FlagOK
			if r.Alerts[label][i] {
				flags[k] = FlagAlert
			}
		}
		if err := out.SetNumeric(ProbaColumn(label), proba); err != nil {
			return err
		}
		if err := out.SetText(AlertColumn(label), flags); err != nil {
			return err
		}
	}
	return dataset.WriteCSV(w, out)
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// LoadCSV reads a CSV file with a header row.
func LoadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open csv %s", path)
	}
	defer f.Close()

	frame, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read csv %s", path)
	}
	log.GetLoggerWithName("dataset").Info("dataset loaded",
		log.PhaseKey, log.PhaseIngestion,
		log.SamplesKey, frame.NRows(),
		log.FeaturesKey, frame.NCols(),
		"path", path,
	)
	return frame, nil
}

// ReadCSV parses CSV with a header row. The sensor columns are always
// numeric, with empty or unparseable cells as NaN. Other columns are numeric
// when every non-empty cell parses as a number, else text. The machine type
// and product id are always text.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.NewValueError("ReadCSV", "missing header row")
		}
		return nil, errors.Wrap(err, "read header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	cells := make([][]string, len(header))
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrapf(err, "read row %d", len(cells[0])+1)
		}
		for j := range header {
			cells[j] = append(cells[j], strings.TrimSpace(rec[j]))
		}
	}

	nRows := 0
	if len(header) > 0 {
		nRows = len(cells[0])
	}
	frame := NewFrame(nRows)
	for j, name := range header {
		if frame.Has(name) {
			return nil, errors.NewValueError("ReadCSV", "duplicate column "+name)
		}
		if sensorColumns[name] {
			values, bad := coerceNumericColumn(cells[j])
			_ = frame.SetNumeric(name, values)
			if bad > 0 {
				errors.Warn(errors.NewDataConversionWarning("text", "NaN",
					"unparseable cells in "+name))
				log.GetLoggerWithName("dataset").Warn("unparseable sensor readings set to NaN",
					log.PhaseKey, log.PhaseIngestion,
					log.ColumnKey, name,
					log.CountKey, bad,
				)
			}
			continue
		}
		if values, ok := parseNumericColumn(cells[j]); ok && !textColumns[name] {
			_ = frame.SetNumeric(name, values)
		} else {
			_ = frame.SetText(name, cells[j])
		}
	}
	return frame, nil
}

// coerceNumericColumn parses every cell, turning the ones that are not
// numbers into NaN. It returns the count of such non-empty cells.
func coerceNumericColumn(cells []string) ([]float64, int) {
	out := make([]float64, len(cells))
	bad := 0
	for i, s := range cells {
		if s == "" || strings.EqualFold(s, "nan") {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			out[i] = math.NaN()
			bad++
			continue
		}
		out[i] = v
	}
	return out, bad
}

func parseNumericColumn(cells []string) ([]float64, bool) {
	out := make([]float64, len(cells))
	seen := false
	for i, s := range cells {
		if s == "" || strings.EqualFold(s, "nan") {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
		seen = true
	}
	return out, seen
}

// WriteCSV writes the frame with a header row. NaN is written as an empty cell.
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	names := f.Columns()
	if err := cw.Write(names); err != nil {
		return err
	}
	rec := make([]string, len(names))
	for i := 0; i < f.NRows(); i++ {
		for j, name := range names {
			if text, ok := f.Text(name); ok {
				rec[j] = text[i]
				continue
			}
			v, _ := f.Numeric(name)
			rec[j] = FormatFloat(v[i])
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatFloat renders v with the shortest exact representation; NaN is empty.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

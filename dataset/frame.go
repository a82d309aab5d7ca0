package dataset

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

type column struct {
	name    string
	numeric []float64 // NaN marks a missing value
	text    []string  // "" marks a missing value
	isText  bool
}

func (c column) clone() column {
	out := column{name: c.name, isText: c.isText}
	if c.isText {
		out.text = append([]string(nil), c.text...)
	} else {
		out.numeric = append([]float64(nil), c.numeric...)
	}
	return out
}

// Frame is a column-ordered table of numeric and text columns. Every column
// has NRows values.
type Frame struct {
	cols  []column
	index map[string]int
	nRows int
}

// NewFrame creates an empty frame with n rows.
func NewFrame(nRows int) *Frame {
	return &Frame{index: make(map[string]int), nRows: nRows}
}

// NRows returns the number of rows.
func (f *Frame) NRows() int { return f.nRows }

// NCols returns the number of columns.
func (f *Frame) NCols() int { return len(f.cols) }

// Columns returns the column names in frame order.
func (f *Frame) Columns() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.name
	}
	return names
}

// Has reports whether the frame contains a column named name.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// IsText reports whether name is a text column.
func (f *Frame) IsText(name string) bool {
	i, ok := f.index[name]
	return ok && f.cols[i].isText
}

// Numeric returns the values of a numeric column. The slice is shared with
// the frame.
func (f *Frame) Numeric(name string) ([]float64, bool) {
	i, ok := f.index[name]
	if !ok || f.cols[i].isText {
		return nil, false
	}
	return f.cols[i].numeric, true
}

// Text returns the values of a text column. The slice is shared with the frame.
func (f *Frame) Text(name string) ([]string, bool) {
	i, ok := f.index[name]
	if !ok || !f.cols[i].isText {
		return nil, false
	}
	return f.cols[i].text, true
}

// SetNumeric stores values as a numeric column. An existing column keeps
// its position; a new one is appended.
func (f *Frame) SetNumeric(name string, values []float64) error {
	if len(values) != f.nRows {
		return errors.NewDimensionError("Frame.SetNumeric", f.nRows, len(values), 0)
	}
	f.set(column{name: name, numeric: values})
	return nil
}

// SetText stores values as a text column. An existing column keeps its
// position; a new one is appended.
func (f *Frame) SetText(name string, values []string) error {
	if len(values) != f.nRows {
		return errors.NewDimensionError("Frame.SetText", f.nRows, len(values), 0)
	}
	f.set(column{name: name, text: values, isText: true})
	return nil
}

func (f *Frame) set(c column) {
	if i, ok := f.index[c.name]; ok {
		f.cols[i] = c
		return
	}
	f.index[c.name] = len(f.cols)
	f.cols = append(f.cols, c)
}

// Rename changes a column name in place. Renaming onto an existing column
// replaces it.
func (f *Frame) Rename(from, to string) {
	i, ok := f.index[from]
	if !ok || from == to {
		return
	}
	if f.Has(to) {
		f.Drop(to)
		i = f.index[from]
	}
	delete(f.index, from)
	f.cols[i].name = to
	f.index[to] = i
}

// Drop removes the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := f.cols[:0]
	for _, c := range f.cols {
		if !drop[c.name] {
			kept = append(kept, c)
		}
	}
	f.cols = kept
	f.reindex()
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.cols))
	for i, c := range f.cols {
		f.index[c.name] = i
	}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{cols: make([]column, len(f.cols)), nRows: f.nRows}
	for i, c := range f.cols {
		out.cols[i] = c.clone()
	}
	out.reindex()
	return out
}

// Take returns a new frame with the given rows, in the given order.
func (f *Frame) Take(rows []int) *Frame {
	out := &Frame{cols: make([]column, len(f.cols)), nRows: len(rows)}
	for i, c := range f.cols {
		nc := column{name: c.name, isText: c.isText}
		if c.isText {
			nc.text = make([]string, len(rows))
			for k, r := range rows {
				nc.text[k] = c.text[r]
			}
		} else {
			nc.numeric = make([]float64, len(rows))
			for k, r := range rows {
				nc.numeric[k] = c.numeric[r]
			}
		}
		out.cols[i] = nc
	}
	out.reindex()
	return out
}

// NumericColumns returns the names of the numeric columns in frame order.
func (f *Frame) NumericColumns() []string {
	var names []string
	for _, c := range f.cols {
		if !c.isText {
			names = append(names, c.name)
		}
	}
	return names
}

// Matrix copies the named numeric columns into an NRows × len(names) matrix.
// Missing or text columns are reported together in a SchemaError.
func (f *Frame) Matrix(names []string) (*mat.Dense, error) {
	if f.nRows == 0 || len(names) == 0 {
		return nil, errors.NewModelError("Frame.Matrix", "empty selection", errors.ErrEmptyData)
	}
	var missing []string
	cols := make([][]float64, len(names))
	for j, name := range names {
		v, ok := f.Numeric(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		cols[j] = v
	}
	if len(missing) > 0 {
		return nil, errors.NewSchemaError("Frame.Matrix", "numeric columns not found", missing)
	}
	out := mat.NewDense(f.nRows, len(names), nil)
	for j, v := range cols {
		out.SetCol(j, v)
	}
	return out, nil
}

// MissingCount returns the number of missing values in a column.
func (f *Frame) MissingCount(name string) int {
	i, ok := f.index[name]
	if !ok {
		return 0
	}
	n := 0
	c := f.cols[i]
	if c.isText {
		for _, v := range c.text {
			if v == "" {
				n++
			}
		}
		return n
	}
	for _, v := range c.numeric {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// FeatureColumns returns every numeric column except labels, identifiers
// and the machine type, in frame order.
func FeatureColumns(f *Frame) []string {
	var names []string
	for _, name := range f.NumericColumns() {
		if !IsNonFeature(name) {
			names = append(names, name)
		}
	}
	return names
}

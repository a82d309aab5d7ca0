package dataset

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnMissing is the missing-value count of one column.
type ColumnMissing struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Ratio  float64 `json:"ratio"`
}

// LabelBalance is the positive count of one failure label.
type LabelBalance struct {
	Label     string  `json:"label"`
	Positives int     `json:"positives"`
	Ratio     float64 `json:"ratio"`
}

// Profile summarizes a dataset before cleaning.
type Profile struct {
	Rows           int             `json:"rows"`
	Columns        int             `json:"columns"`
	NumericColumns int             `json:"numeric_columns"`
	TextColumns    int             `json:"text_columns"`
	Missing        []ColumnMissing `json:"missing"`
	Labels         []LabelBalance  `json:"labels"`
}

// NewProfile computes the profile of f. Missing counts are sorted by
// descending count and only list columns with missing values.
func NewProfile(f *Frame) *Profile {
	p := &Profile{Rows: f.NRows(), Columns: f.NCols()}
	for _, name := range f.Columns() {
		if f.IsText(name) {
			p.TextColumns++
		} else {
			p.NumericColumns++
		}
		if n := f.MissingCount(name); n > 0 {
			p.Missing = append(p.Missing, ColumnMissing{Column: name, Count: n, Ratio: ratio(n, f.NRows())})
		}
	}
	sort.SliceStable(p.Missing, func(i, j int) bool { return p.Missing[i].Count > p.Missing[j].Count })

	for _, name := range append(append([]string(nil), Labels...), ColMachineFailure) {
		values, ok := f.Numeric(name)
		if !ok {
			continue
		}
		pos := 0
		for _, v := range values {
			if v == 1 {
				pos++
			}
		}
		p.Labels = append(p.Labels, LabelBalance{Label: name, Positives: pos, Ratio: ratio(pos, f.NRows())})
	}
	return p
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// Text renders the profile as a plain-text report.
func (p *Profile) Text() string {
	var b strings.Builder
	b.WriteString("Dataset profile\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Shape: %d rows, %d columns\n", p.Rows, p.Columns)
	fmt.Fprintf(&b, "Column types: %d numeric, %d text\n", p.NumericColumns, p.TextColumns)

	b.WriteString("\nMissing values per column:\n")
	if len(p.Missing) == 0 {
		b.WriteString("  - none\n")
	}
	for _, m := range p.Missing {
		fmt.Fprintf(&b, "  - %s: %d (%.2f%%)\n", m.Column, m.Count, 100*m.Ratio)
	}

	if len(p.Labels) > 0 {
		b.WriteString("\nPositive cases per label:\n")
		for _, l := range p.Labels {
			fmt.Fprintf(&b, "  - %s: %d (%.2f%%)\n", l.Label, l.Positives, 100*l.Ratio)
		}
	}
	return b.String()
}

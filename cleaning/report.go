package cleaning

import (
	"fmt"
	"strings"
)

// ColumnReport lists the corrections applied to one column.
type ColumnReport struct {
	Column     string  `json:"column"`
	Imputed    int     `json:"imputed"`
	Median     float64 `json:"median,omitempty"`
	Clipped    int     `json:"clipped"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	AllMissing bool    `json:"all_missing,omitempty"`
}

// Report summarizes a Clean call.
type Report struct {
	Rows                   int            `json:"rows"`
	Columns                []ColumnReport `json:"columns"`
	Skipped                []string       `json:"skipped,omitempty"`
	TemperatureCorrections int            `json:"temperature_corrections"`
	WearCorrections        int            `json:"wear_corrections"`
}

// TotalImputed returns the number of imputed cells across all columns.
func (r *Report) TotalImputed() int {
	n := 0
	for _, c := range r.Columns {
		n += c.Imputed
	}
	return n
}

// TotalClipped returns the number of clipped cells across all columns.
func (r *Report) TotalClipped() int {
	n := 0
	for _, c := range r.Columns {
		n += c.Clipped
	}
	return n
}

// Column returns the report of the named column.
func (r *Report) Column(name string) (ColumnReport, bool) {
	for _, c := range r.Columns {
		if c.Column == name {
			return c, true
		}
	}
	return ColumnReport{}, false
}

// Text renders the report as plain text.
func (r *Report) Text() string {
	var b strings.Builder
	b.WriteString("Cleaning report\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Rows: %d (none removed)\n", r.Rows)

	b.WriteString("\nMissing values imputed with the median:\n")
	imputed := false
	for _, c := range r.Columns {
		if c.Imputed > 0 {
			fmt.Fprintf(&b, "  - %s: %d (median %.2f)\n", c.Column, c.Imputed, c.Median)
			imputed = true
		}
	}
	if !imputed {
		b.WriteString("  - none\n")
	}

	b.WriteString("\nOutliers clipped:\n")
	for _, c := range r.Columns {
		if c.AllMissing {
			fmt.Fprintf(&b, "  - %s: entirely missing, untouched\n", c.Column)
			continue
		}
		fmt.Fprintf(&b, "  - %s: %d outside [%.4g, %.4g]\n", c.Column, c.Clipped, c.Lower, c.Upper)
	}
	for _, name := range r.Skipped {
		fmt.Fprintf(&b, "  - %s: not present, skipped\n", name)
	}

	b.WriteString("\nPhysical consistency:\n")
	fmt.Fprintf(&b, "  - process temperature below air temperature: %d corrected\n", r.TemperatureCorrections)
	fmt.Fprintf(&b, "  - negative tool wear: %d corrected\n", r.WearCorrections)
	return b.String()
}

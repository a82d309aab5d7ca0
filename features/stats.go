package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// Moments are the mean and sample standard deviation of one column.
type Moments struct {
	Mean float64
	Std  float64
}

// ZScore standardizes v. Std is never 0 for fitted moments.
func (m Moments) ZScore(v float64) float64 {
	return (v - m.Mean) / m.Std
}

// GroupStats holds per-group moments of the base columns, computed over
// the fitting population. Global moments serve values of unseen groups.
type GroupStats struct {
	GroupColumn string
	Columns     []string
	Groups      map[string][]Moments
	Global      []Moments
}

// FitGroupStats computes the mean and the sample standard deviation (ddof=1)
// of every column per value of groupColumn. Missing values are ignored.
// A standard deviation that is 0 or undefined (one member) becomes 1.
// Rows with an empty group value only contribute to the global moments.
func FitGroupStats(f *dataset.Frame, groupColumn string, columns []string) (*GroupStats, error) {
	if f.NRows() == 0 {
		return nil, errors.NewModelError("features.FitGroupStats", "empty frame", errors.ErrEmptyData)
	}
	groups, ok := f.Text(groupColumn)
	if !ok {
		return nil, errors.NewSchemaError("features.FitGroupStats", "group column missing", []string{groupColumn})
	}
	var missing []string
	data := make([][]float64, len(columns))
	for j, name := range columns {
		v, ok := f.Numeric(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		data[j] = v
	}
	if len(missing) > 0 {
		return nil, errors.NewSchemaError("features.FitGroupStats", "base columns missing", missing)
	}

	members := make(map[string][]int)
	for i, g := range groups {
		if g == "" {
			continue
		}
		members[g] = append(members[g], i)
	}

	gs := &GroupStats{
		GroupColumn: groupColumn,
		Columns:     append([]string(nil), columns...),
		Groups:      make(map[string][]Moments, len(members)),
		Global:      make([]Moments, len(columns)),
	}
	all := make([]int, f.NRows())
	for i := range all {
		all[i] = i
	}
	for j := range columns {
		gs.Global[j] = moments(data[j], all)
	}
	for g, rows := range members {
		m := make([]Moments, len(columns))
		for j := range columns {
			m[j] = moments(data[j], rows)
		}
		gs.Groups[g] = m
	}
	return gs, nil
}

func moments(values []float64, rows []int) Moments {
	x := make([]float64, 0, len(rows))
	for _, i := range rows {
		if !math.IsNaN(values[i]) {
			x = append(x, values[i])
		}
	}
	if len(x) == 0 {
		return Moments{Mean: 0, Std: 1}
	}
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 || std == 0 || math.IsNaN(std) {
		std = 1
	}
	return Moments{Mean: mean, Std: std}
}

// Lookup returns the moments of column j for group g, falling back to the
// global moments when g was not seen at fit time.
func (s *GroupStats) Lookup(g string, j int) Moments {
	if m, ok := s.Groups[g]; ok {
		return m[j]
	}
	return s.Global[j]
}

// Index returns the position of column in s.Columns, or -1.
func (s *GroupStats) Index(column string) int {
	for j, c := range s.Columns {
		if c == column {
			return j
		}
	}
	return -1
}

// GroupNames returns the fitted group values in sorted order.
func (s *GroupStats) GroupNames() []string {
	names := make([]string, 0, len(s.Groups))
	for g := range s.Groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// ZScores standardizes values by the moments of column j for each row's group.
func (s *GroupStats) ZScores(j int, values []float64, groups []string) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = s.Lookup(groups[i], j).ZScore(v)
	}
	return out
}

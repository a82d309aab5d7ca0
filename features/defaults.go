package features

import (
	"sort"
	"strings"
)

// Rule assigns Value to every feature whose name contains Substring.
type Rule struct {
	Substring string  `mapstructure:"substring" json:"substring"`
	Value     float64 `mapstructure:"value" json:"value"`
}

// Defaults is the table of values used for features that could not be
// derived at serving time. Exact entries win over rules; rules are tried in
// order; Fallback applies when nothing matches unless Strict is set.
type Defaults struct {
	Exact    map[string]float64
	Rules    []Rule
	Fallback float64
	Strict   bool
}

// DefaultTable returns the documented default values.
func DefaultTable() *Defaults {
	return &Defaults{
		Exact: map[string]float64{
			FeatureAnomalyIndex: 0.5,
		},
		Rules: []Rule{
			{Substring: "zscore", Value: 0},
			{Substring: "potencia", Value: 1000},
			{Substring: "temperatura", Value: 0},
			{Substring: "taxa", Value: 1},
			{Substring: "densidade", Value: 1},
			{Substring: "fadiga", Value: 1},
			{Substring: "stress", Value: 100},
			{Substring: "indice_calor", Value: 0},
		},
	}
}

// WithOverrides returns a copy of d with the given exact-name values added.
func (d *Defaults) WithOverrides(overrides map[string]float64) *Defaults {
	c := &Defaults{
		Exact:    make(map[string]float64, len(d.Exact)+len(overrides)),
		Rules:    append([]Rule(nil), d.Rules...),
		Fallback: d.Fallback,
		Strict:   d.Strict,
	}
	for k, v := range d.Exact {
		c.Exact[k] = v
	}
	for k, v := range overrides {
		c.Exact[k] = v
	}
	return c
}

// Lookup returns the default of name. ok is false only in strict mode when
// neither an exact entry nor a rule matches.
func (d *Defaults) Lookup(name string) (float64, bool) {
	if v, ok := d.Exact[name]; ok {
		return v, true
	}
	// first match wins: densidade_potencia resolves through "potencia"
	for _, r := range d.Rules {
		if strings.Contains(name, r.Substring) {
			return r.Value, true
		}
	}
	if d.Strict {
		return 0, false
	}
	return d.Fallback, true
}

// Names returns the exact entries in sorted order.
func (d *Defaults) Names() []string {
	names := make([]string, 0, len(d.Exact))
	for k := range d.Exact {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

package serving

import "sort"

// Alert is one (row, label) pair whose probability crossed a threshold.
type Alert struct {
	Row         int     `json:"row"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Result holds the predictions of one batch.
type Result struct {
	Rows          int
	Labels        []string
	Probabilities map[string][]float64
	Alerts        map[string][]bool
	Thresholds    map[string]float64
	// Critical lists the alerts above the critical threshold, ordered by
	// row, then label.
	Critical []Alert
	Skipped  []string
	Filled   []string
	Imputed  []string
	Errors   map[string]error
}

func newResult(rows int, labels []string) *Result {
	return &Result{
		Rows:          rows,
		Labels:        append([]string(nil), labels...),
		Probabilities: make(map[string][]float64, len(labels)),
		Alerts:        make(map[string][]bool, len(labels)),
		Thresholds:    make(map[string]float64, len(labels)),
		Errors:        make(map[string]error),
	}
}

func (r *Result) setLabel(label string, proba []float64, threshold, critical float64) {
	alerts := make([]bool, len(proba))
	for i, p := range proba {
		alerts[i] = p > threshold
		if p > critical {
			r.Critical = append(r.Critical, Alert{Row: i, Label: label, Probability: p})
		}
	}
	r.Probabilities[label] = proba
	r.Alerts[label] = alerts
	r.Thresholds[label] = threshold
}

func (r *Result) sortCritical() {
	order := make(map[string]int, len(r.Labels))
	for j, l := range r.Labels {
		order[l] = j
	}
	sort.SliceStable(r.Critical, func(a, b int) bool {
		if r.Critical[a].Row != r.Critical[b].Row {
			return r.Critical[a].Row < r.Critical[b].Row
		}
		return order[r.Critical[a].Label] < order[r.Critical[b].Label]
	})
}

// AlertCount returns the number of rows alerting for label.
func (r *Result) AlertCount(label string) int {
	n := 0
	for _, a := range r.Alerts[label] {
		if a {
			n++
		}
	}
	return n
}

// TotalAlerts returns the number of (row, label) alerts.
func (r *Result) TotalAlerts() int {
	n := 0
	for _, l := range r.Labels {
		n += r.AlertCount(l)
	}
	return n
}

// RowAlerts reports whether row i alerts for any label.
func (r *Result) RowAlerts(i int) bool {
	for _, l := range r.Labels {
		if a := r.Alerts[l]; i < len(a) && a[i] {
			return true
		}
	}
	return false
}

// AlertRows returns the rows alerting for at least one label.
func (r *Result) AlertRows() []int {
	var rows []int
	for i := 0; i < r.Rows; i++ {
		if r.RowAlerts(i) {
			rows = append(rows, i)
		}
	}
	return rows
}

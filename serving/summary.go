package serving

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Status is the overall state of a scored batch.
type Status string

const (
	StatusNormal    Status = "normal"
	StatusAttention Status = "attention required"
)

// Tier is the urgency of the maintenance recommendation.
type Tier string

const (
	TierNone      Tier = "none"
	TierModerate  Tier = "moderate"
	TierImmediate Tier = "immediate"
)

// moderateAlertLimit is the largest alert total still handled as moderate.
const moderateAlertLimit = 5

var recommendations = map[Tier][]string{
	TierNone: {
		"Keep regular monitoring.",
		"Keep the preventive maintenance plan.",
		"Consider a monthly review of the sensor data.",
	},
	TierModerate: {
		"Inspect the equipment with alerts first.",
		"Schedule preventive maintenance within 48 hours.",
		"Increase the monitoring frequency of the alerting equipment.",
	},
	TierImmediate: {
		"Stop the equipment with the highest failure probability.",
		"Call the specialized maintenance team.",
		"Activate the contingency plan.",
		"Review the preventive maintenance procedures.",
	},
}

// LabelSummary aggregates one label over a batch.
type LabelSummary struct {
	Label     string  `json:"label"`
	Alerts    int     `json:"alerts"`
	MeanProba float64 `json:"mean_probability"`
	MaxProba  float64 `json:"max_probability"`
	Threshold float64 `json:"threshold"`
	Failed    bool    `json:"failed"`
}

// Summary is the executive view of a scored batch.
type Summary struct {
	Rows            int            `json:"rows"`
	Labels          []LabelSummary `json:"labels"`
	TotalAlerts     int            `json:"total_alerts"`
	RowsWithAlerts  int            `json:"rows_with_alerts"`
	Critical        []Alert        `json:"critical"`
	Status          Status         `json:"status"`
	Tier            Tier           `json:"tier"`
	Recommendations []string       `json:"recommendations"`
}

// Summarize aggregates r per label and picks the recommendation tier from
// the total number of alerts.
func Summarize(r *Result) *Summary {
	s := &Summary{
		Rows:           r.Rows,
		TotalAlerts:    r.TotalAlerts(),
		RowsWithAlerts: len(r.AlertRows()),
		Critical:       r.Critical,
	}
	for _, label := range r.Labels {
		ls := LabelSummary{
			Label:     label,
			Alerts:    r.AlertCount(label),
			Threshold: r.Thresholds[label],
		}
		if p := r.Probabilities[label]; len(p) > 0 {
			ls.MeanProba = stat.Mean(p, nil)
			ls.MaxProba = floats.Max(p)
		}
		_, ls.Failed = r.Errors[label]
		s.Labels = append(s.Labels, ls)
	}

	s.Status = StatusNormal
	if s.TotalAlerts > 0 {
		s.Status = StatusAttention
	}
	switch {
	case s.TotalAlerts == 0:
		s.Tier = TierNone
	case s.TotalAlerts <= moderateAlertLimit:
		s.Tier = TierModerate
	default:
		s.Tier = TierImmediate
	}
	s.Recommendations = append([]string(nil), recommendations[s.Tier]...)
	return s
}

// maxCriticalListed bounds the critical alerts listed in the markdown report.
const maxCriticalListed = 5

// Markdown renders the summary as a maintenance report titled after source.
func (s *Summary) Markdown(source string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Predictive maintenance report - %s\n\n", source)
	b.WriteString("## Executive summary\n\n")
	fmt.Fprintf(&b, "- **Samples analysed:** %d\n", s.Rows)
	fmt.Fprintf(&b, "- **Analysis date:** %s\n", at.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- **Total alerts:** %d (%d samples)\n\n", s.TotalAlerts, s.RowsWithAlerts)

	b.WriteString("## Results per failure type\n\n")
	b.WriteString("| Label | Alerts | Mean prob. | Max prob. | Threshold |\n")
	b.WriteString("|---|---:|---:|---:|---:|\n")
	for _, l := range s.Labels {
		alerts := fmt.Sprintf("%d", l.Alerts)
		if l.Failed {
			alerts += " (model failed)"
		}
		fmt.Fprintf(&b, "| %s | %s | %.1f%% | %.1f%% | %.2f |\n",
			l.Label, alerts, 100*l.MeanProba, 100*l.MaxProba, l.Threshold)
	}

	if len(s.Critical) > 0 {
		fmt.Fprintf(&b, "\n## Critical alerts (%d)\n\n", len(s.Critical))
		for i, a := range s.Critical {
			if i == maxCriticalListed {
				fmt.Fprintf(&b, "- ... %d more\n", len(s.Critical)-maxCriticalListed)
				break
			}
			fmt.Fprintf(&b, "- sample #%d, **%s**, probability %.1f%%\n", a.Row, a.Label, 100*a.Probability)
		}
	}

	fmt.Fprintf(&b, "\n## Overall status\n\n%s\n", strings.ToUpper(string(s.Status)))
	fmt.Fprintf(&b, "\n## Recommendations (%s)\n\n", s.Tier)
	for _, r := range s.Recommendations {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return b.String()
}

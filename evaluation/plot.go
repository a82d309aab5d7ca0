package evaluation

import (
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// PlotThresholdCurves draws the F1-versus-threshold curve of every
// calibrated label into path. The image format follows the extension.
func PlotThresholdCurves(calibration map[string]ThresholdResult, path string) error {
	p := plot.New()
	p.Title.Text = "F1 by decision threshold"
	p.X.Label.Text = "threshold"
	p.Y.Label.Text = "F1"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	labels := make([]string, 0, len(calibration))
	for label, res := range calibration {
		if len(res.Curve) > 0 {
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return errors.NewValueError("PlotThresholdCurves", "no label has a threshold curve")
	}
	sort.Strings(labels)

	for i, label := range labels {
		curve := calibration[label].Curve
		xys := make(plotter.XYs, len(curve))
		for k, pt := range curve {
			xys[k].X = pt.Threshold
			xys[k].Y = pt.F1
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "curve of %s", label)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(label, line)
	}
	return errors.Wrap(p.Save(plotWidth, plotHeight, path), "save threshold curves")
}

// PlotFeatureImportance draws the importances of one label as horizontal bars.
func PlotFeatureImportance(label string, names []string, importances []float64, path string) error {
	if len(names) == 0 || len(names) != len(importances) {
		return errors.NewDimensionError("PlotFeatureImportance", len(names), len(importances), 0)
	}
	p := plot.New()
	p.Title.Text = "Feature importance: " + label
	p.X.Label.Text = "importance"

	bars, err := plotter.NewBarChart(plotter.Values(importances), vg.Points(14))
	if err != nil {
		return errors.Wrap(err, "importance bars")
	}
	bars.Horizontal = true
	bars.Color = plotutil.Color(0)
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalY(names...)
	return errors.Wrap(p.Save(plotWidth, plotHeight, path), "save feature importance")
}

// PlotLabelMetrics draws precision, recall and F1 of every label as grouped bars.
func PlotLabelMetrics(report *Report, path string) error {
	if report == nil || len(report.Labels) == 0 {
		return errors.NewValueError("PlotLabelMetrics", "empty report")
	}
	p := plot.New()
	p.Title.Text = "Held-out metrics per label"
	p.Y.Label.Text = "score"
	p.Y.Min, p.Y.Max = 0, 1
	p.Legend.Top = true

	series := []struct {
		name  string
		value func(LabelMetrics) float64
	}{
		{"precision", func(m LabelMetrics) float64 { return m.Precision }},
		{"recall", func(m LabelMetrics) float64 { return m.Recall }},
		{"F1", func(m LabelMetrics) float64 { return m.F1 }},
	}
	width := vg.Points(12)
	names := make([]string, len(report.Labels))
	for i, m := range report.Labels {
		names[i] = m.Label
	}
	for k, s := range series {
		values := make(plotter.Values, len(report.Labels))
		for i, m := range report.Labels {
			values[i] = s.value(m)
		}
		bars, err := plotter.NewBarChart(values, width)
		if err != nil {
			return errors.Wrapf(err, "%s bars", s.name)
		}
		bars.Color = plotutil.Color(k)
		bars.LineStyle.Width = 0
		bars.Offset = vg.Length(k-1) * width
		p.Add(bars)
		p.Legend.Add(s.name, bars)
	}
	p.NominalX(names...)
	return errors.Wrap(p.Save(plotWidth, plotHeight, path), "save label metrics")
}

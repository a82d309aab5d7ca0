package evaluation

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// fixedModel returns the same probabilities for any input.
type fixedModel []float64

func (m fixedModel) PositiveProba(X mat.Matrix) ([]float64, error) {
	return append([]float64(nil), m...), nil
}

type failingModel struct{}

func (failingModel) PositiveProba(mat.Matrix) ([]float64, error) {
	return nil, errors.New("boom")
}

func TestScan_Candidates(t *testing.T) {
	c := DefaultScan().Candidates()
	require.Len(t, c, 98)
	for i, v := range c {
		assert.Equal(t, float64(i+1)/100, v)
	}
	assert.Empty(t, Scan{Start: 0.5, Stop: 0.1, Step: 0.1}.Candidates())
}

func TestScanThreshold(t *testing.T) {
	y := []int{0, 0, 0, 1, 1, 0, 1, 0}
	proba := []float64{0.1, 0.2, 0.35, 0.4, 0.8, 0.3, 0.45, 0.05}

	res, err := ScanThreshold(y, proba, DefaultScan())
	require.NoError(t, err)
	// every t in [0.35, 0.40) separates the classes; the first wins
	assert.Equal(t, 0.35, res.Threshold)
	assert.Equal(t, 1.0, res.F1)
	assert.Len(t, res.Curve, 98)
	assert.False(t, res.SingleClass)

	// no other candidate does better
	for _, pt := range res.Curve {
		assert.LessOrEqual(t, pt.F1, res.F1)
	}
}

func TestScanThreshold_WithinOneStepOfOptimum(t *testing.T) {
	y := []int{1, 0, 1, 0, 0, 1}
	proba := []float64{0.615, 0.2, 0.7, 0.6, 0.1, 0.9}
	res, err := ScanThreshold(y, proba, DefaultScan())
	require.NoError(t, err)
	// the ideal cut lies in [0.6, 0.615)
	assert.InDelta(t, 0.6, res.Threshold, 0.01+1e-12)
	assert.Equal(t, 1.0, res.F1)
}

func TestScanThreshold_SingleClass(t *testing.T) {
	res, err := ScanThreshold([]int{0, 0, 0}, []float64{0.9, 0.1, 0.2}, DefaultScan())
	require.NoError(t, err)
	assert.True(t, res.SingleClass)
	assert.Equal(t, 0.5, res.Threshold)
	assert.Nil(t, res.Curve)

	scan := DefaultScan()
	scan.Default = 0.3
	res, err = ScanThreshold([]int{1, 1}, []float64{0.9, 0.1}, scan)
	require.NoError(t, err)
	assert.Equal(t, 0.3, res.Threshold)
}

func TestScanThreshold_Errors(t *testing.T) {
	_, err := ScanThreshold(nil, nil, DefaultScan())
	assert.Error(t, err)
	_, err = ScanThreshold([]int{0, 1}, []float64{0.5}, DefaultScan())
	assert.Error(t, err)
	_, err = ScanThreshold([]int{0, 1}, []float64{0.5, 0.6}, Scan{})
	assert.Error(t, err)
}

func evalFixture() (map[string]ProbaModel, []string, *mat.Dense, *mat.Dense) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	Y := mat.NewDense(4, 3, []float64{
		1, 0, 0,
		0, 0, 0,
		1, 1, 0,
		0, 0, 0,
	})
	models := map[string]ProbaModel{
		"FDF": fixedModel{0.9, 0.2, 0.6, 0.1},
		"FDC": fixedModel{0.3, 0.1, 0.35, 0.2},
	}
	return models, []string{"FDF", "FDC", "FA"}, X, Y
}

func TestCalibrateAndEvaluate(t *testing.T) {
	models, labels, X, Y := evalFixture()

	cal, err := Calibrate(models, labels, X, Y, DefaultScan())
	require.NoError(t, err)
	assert.Len(t, cal, 2)
	assert.Equal(t, 0.2, cal["FDF"].Threshold)
	assert.Equal(t, 0.3, cal["FDC"].Threshold)

	thresholds := map[string]float64{"FDF": cal["FDF"].Threshold}
	report, err := Evaluate(models, labels, X, Y, thresholds, 0.5)
	require.NoError(t, err)
	require.Len(t, report.Labels, 2)

	fdf, ok := report.Label("FDF")
	require.True(t, ok)
	assert.Equal(t, 1.0, fdf.F1)
	assert.Equal(t, 2, fdf.Support)
	// both positives outrank both negatives
	assert.Equal(t, 1.0, fdf.ROCAUC)
	assert.Greater(t, fdf.LogLoss, 0.0)

	// FDC has no calibrated threshold here: 0.5 predicts nothing
	fdc, _ := report.Label("FDC")
	assert.Equal(t, 0.5, fdc.Threshold)
	assert.Equal(t, 0.0, fdc.F1)
	assert.Equal(t, 1, fdc.Confusion.FN)

	assert.InDelta(t, 0.5, report.MacroF1, 1e-12)
	assert.InDelta(t, 2.0*2/(2*2+1), report.MicroF1, 1e-12)
	assert.InDelta(t, 1.0/8, report.HammingLoss, 1e-12)

	_, ok = report.Label("FA")
	assert.False(t, ok)
}

func TestEvaluate_Errors(t *testing.T) {
	models, labels, X, Y := evalFixture()

	_, err := Evaluate(models, labels[:2], X, Y, nil, 0.5)
	assert.Error(t, err)

	_, err = Evaluate(map[string]ProbaModel{}, labels, X, Y, nil, 0.5)
	assert.Error(t, err)

	models["FA"] = failingModel{}
	_, err = Evaluate(models, labels, X, Y, nil, 0.5)
	assert.Error(t, err)
	_, err = Calibrate(models, labels, X, Y, DefaultScan())
	assert.Error(t, err)
}

func TestReport_TextAndJSON(t *testing.T) {
	models, labels, X, Y := evalFixture()
	report, err := Evaluate(models, labels, X, Y, map[string]float64{"FDF": 0.2}, 0.5)
	require.NoError(t, err)

	text := report.Text()
	assert.Contains(t, text, "Evaluation on 4 held-out samples")
	assert.Contains(t, text, "FDF")
	assert.Contains(t, text, "macro F1")
	assert.Contains(t, text, "roc-auc")
	assert.Contains(t, text, "log-loss")
	assert.Contains(t, text, "[[2 0] [0 2]]")

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))
	var back Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, report.Labels, back.Labels)
	assert.Equal(t, report.MacroF1, back.MacroF1)
}

func TestPlots(t *testing.T) {
	models, labels, X, Y := evalFixture()
	cal, err := Calibrate(models, labels, X, Y, DefaultScan())
	require.NoError(t, err)
	report, err := Evaluate(models, labels, X, Y, map[string]float64{"FDF": 0.2, "FDC": 0.3}, 0.5)
	require.NoError(t, err)

	dir := t.TempDir()
	curves := filepath.Join(dir, "curves.png")
	require.NoError(t, PlotThresholdCurves(cal, curves))
	imp := filepath.Join(dir, "importance.png")
	require.NoError(t, PlotFeatureImportance("FDF", []string{"torque", "wear"}, []float64{0.7, 0.3}, imp))
	lm := filepath.Join(dir, "metrics.png")
	require.NoError(t, PlotLabelMetrics(report, lm))

	for _, path := range []string{curves, imp, lm} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	assert.Error(t, PlotThresholdCurves(map[string]ThresholdResult{"FA": {SingleClass: true}}, curves))
	assert.Error(t, PlotFeatureImportance("FDF", []string{"a"}, nil, imp))
	assert.Error(t, PlotLabelMetrics(&Report{}, lm))
}

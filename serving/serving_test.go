package serving

import (
	"bytes"
	"context"
	"encoding/csv"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/artifact"
	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/evaluation"
	"github.com/YuminosukeSato/gembaguard/features"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/preprocessing"
	"github.com/YuminosukeSato/gembaguard/sklearn/ensemble"
	"github.com/YuminosukeSato/gembaguard/training"
)

// telemetry generates readings where FDF follows tool wear and FDC follows torque.
func telemetry(n int, seed uint64) *dataset.Frame {
	rng := rand.New(rand.NewPCG(seed, seed))
	f := dataset.NewFrame(n)
	cols := map[string][]float64{}
	for _, name := range dataset.BaseFeatures {
		cols[name] = make([]float64, n)
	}
	ids := make([]float64, n)
	types := make([]string, n)
	fdf := make([]float64, n)
	fdc := make([]float64, n)
	for i := 0; i < n; i++ {
		air := 295 + 10*rng.Float64()
		cols[dataset.ColAirTemperature][i] = air
		cols[dataset.ColProcessTemperature][i] = air + 8 + 4*rng.Float64()
		cols[dataset.ColHumidity][i] = 30 + 40*rng.Float64()
		cols[dataset.ColRotationalSpeed][i] = 1300 + 600*rng.Float64()
		cols[dataset.ColTorque][i] = 20 + 50*rng.Float64()
		cols[dataset.ColToolWear][i] = 250 * rng.Float64()
		ids[i] = float64(i + 1)
		types[i] = []string{"L", "M", "H"}[i%3]
		if cols[dataset.ColToolWear][i] > 200 {
			fdf[i] = 1
		}
		if cols[dataset.ColTorque][i] > 60 {
			fdc[i] = 1
		}
	}
	_ = f.SetNumeric(dataset.ColID, ids)
	_ = f.SetText(dataset.ColType, types)
	for _, name := range dataset.BaseFeatures {
		_ = f.SetNumeric(name, cols[name])
	}
	_ = f.SetNumeric(dataset.LabelToolWear, fdf)
	_ = f.SetNumeric(dataset.LabelHeatDissipation, fdc)
	return f
}

// trainedBundle fits a small two-label bundle on generated telemetry.
func trainedBundle(t *testing.T) *artifact.Bundle {
	t.Helper()
	f := telemetry(150, 3)
	eng := features.NewEngineer(features.DefaultOptions())
	ff, err := eng.FitTransform(f)
	require.NoError(t, err)
	names := dataset.FeatureColumns(ff)
	X, err := ff.Matrix(names)
	require.NoError(t, err)
	labels := []string{dataset.LabelToolWear, dataset.LabelHeatDissipation}
	Y, err := dataset.LabelMatrix(ff, labels)
	require.NoError(t, err)

	scaler := preprocessing.NewStandardScaler()
	require.NoError(t, scaler.FitNamed(X, names))
	Xs, err := scaler.Transform(X)
	require.NoError(t, err)

	models := map[string]*training.LabelModel{}
	for j, label := range labels {
		rf := ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(15), ensemble.WithForestRandomState(7))
		require.NoError(t, rf.Fit(Xs, mat.NewDense(150, 1, mat.Col(nil, j, Y))))
		lm, err := training.NewLabelModel(rf)
		require.NoError(t, err)
		models[label] = lm
	}
	b := &artifact.Bundle{
		Manifest:   artifact.NewManifest(names, labels, 7),
		Scaler:     scaler,
		Models:     models,
		GroupStats: eng.Stats(),
		XTest:      mat.DenseCopyOf(Xs),
		YTest:      Y,
	}
	require.NoError(t, b.Calibrate(evaluation.DefaultScan()))
	return b
}

func TestNewPredictor_Errors(t *testing.T) {
	_, err := NewPredictor(nil)
	assert.Error(t, err)

	b := trainedBundle(t)
	_, err = NewPredictor(b, WithCriticalThreshold(1.5))
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = NewPredictor(b, WithDefaultThreshold(-0.1))
	assert.Error(t, err)
}

func TestPredict_FullBatch(t *testing.T) {
	b := trainedBundle(t)
	p, err := NewPredictor(b, WithWorkers(2))
	require.NoError(t, err)

	batch := telemetry(30, 11)
	res, err := p.Predict(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Rows)
	assert.Equal(t, b.Manifest.Labels, res.Labels)
	assert.Empty(t, res.Skipped)
	assert.Empty(t, res.Filled)
	assert.Empty(t, res.Errors)
	for _, label := range res.Labels {
		require.Len(t, res.Probabilities[label], 30)
		for _, v := range res.Probabilities[label] {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		assert.Equal(t, b.Manifest.Thresholds[label], res.Thresholds[label])
	}
	// the input is not modified
	assert.False(t, batch.Has(features.FeaturePower))
}

func TestPredict_MissingNonEssentialColumn(t *testing.T) {
	p, err := NewPredictor(trainedBundle(t))
	require.NoError(t, err)

	batch := telemetry(10, 5)
	batch.Drop(dataset.ColHumidity)
	res, err := p.Predict(context.Background(), batch)
	require.NoError(t, err)
	for _, label := range p.Labels() {
		assert.Len(t, res.Probabilities[label], 10, label)
	}
	assert.Contains(t, res.Skipped, features.FeatureHeatIndex)
	assert.Contains(t, res.Skipped, features.ZScoreName(dataset.ColHumidity))
	assert.Contains(t, res.Filled, dataset.ColHumidity)
	assert.Contains(t, res.Filled, features.FeatureHeatIndex)
	assert.NotContains(t, res.Skipped, features.FeaturePower)
}

func TestPredict_UnparseableReading(t *testing.T) {
	p, err := NewPredictor(trainedBundle(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, dataset.WriteCSV(&buf, telemetry(4, 21)))
	records := readCSV(t, buf.String())
	col := -1
	for j, name := range records[0] {
		if name == dataset.ColTorque {
			col = j
		}
	}
	require.GreaterOrEqual(t, col, 0)
	records[2][col] = "n/a"
	buf.Reset()
	w := csv.NewWriter(&buf)
	require.NoError(t, w.WriteAll(records))

	batch, err := dataset.ReadCSV(&buf)
	require.NoError(t, err)
	res, err := p.Predict(context.Background(), batch)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Contains(t, res.Imputed, dataset.ColTorque)
	for _, label := range p.Labels() {
		require.Len(t, res.Probabilities[label], 4, label)
		assert.False(t, math.IsNaN(res.Probabilities[label][1]), label)
	}
}

func TestPredict_WithoutMachineType(t *testing.T) {
	p, err := NewPredictor(trainedBundle(t))
	require.NoError(t, err)

	batch := telemetry(8, 9)
	batch.Drop(dataset.ColType)
	res, err := p.Predict(context.Background(), batch)
	require.NoError(t, err)
	assert.Contains(t, res.Filled, features.FeatureAnomalyIndex)
	for _, base := range dataset.BaseFeatures {
		assert.Contains(t, res.Skipped, features.ZScoreName(base))
	}
}

func TestPredict_StrictDefaultsFail(t *testing.T) {
	strict := features.DefaultTable()
	strict.Strict = true
	p, err := NewPredictor(trainedBundle(t), WithDefaults(strict))
	require.NoError(t, err)

	batch := telemetry(5, 1)
	batch.Drop(dataset.ColHumidity)
	_, err = p.Predict(context.Background(), batch)
	var se *errors.SchemaError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Contains(t, se.Missing, dataset.ColHumidity)
}

func TestPredict_IsolatesLabelFailure(t *testing.T) {
	b := trainedBundle(t)
	b.Models[dataset.LabelHeatDissipation] = &training.LabelModel{Kind: training.KindGradientBoosting}
	p, err := NewPredictor(b)
	require.NoError(t, err)

	res, err := p.Predict(context.Background(), telemetry(12, 2))
	require.NoError(t, err)
	require.Contains(t, res.Errors, dataset.LabelHeatDissipation)
	assert.NotContains(t, res.Errors, dataset.LabelToolWear)
	assert.Equal(t, make([]float64, 12), res.Probabilities[dataset.LabelHeatDissipation])
	assert.Zero(t, res.AlertCount(dataset.LabelHeatDissipation))
	assert.Len(t, res.Probabilities[dataset.LabelToolWear], 12)
}

func TestPredict_ThresholdPolicy(t *testing.T) {
	b := trainedBundle(t)

	fixed, err := NewPredictor(b, WithCalibratedThresholds(false))
	require.NoError(t, err)
	for _, label := range fixed.Labels() {
		assert.Equal(t, 0.5, fixed.Threshold(label))
	}

	calibrated, err := NewPredictor(b)
	require.NoError(t, err)
	for _, label := range calibrated.Labels() {
		assert.Equal(t, b.Manifest.Thresholds[label], calibrated.Threshold(label))
	}
	delete(b.Manifest.Thresholds, dataset.LabelToolWear)
	assert.Equal(t, 0.5, calibrated.Threshold(dataset.LabelToolWear))

	zero, err := NewPredictor(b, WithCalibratedThresholds(false), WithDefaultThreshold(0), WithCriticalThreshold(0.2))
	require.NoError(t, err)
	res, err := zero.Predict(context.Background(), telemetry(20, 4))
	require.NoError(t, err)
	critical := 0
	for _, label := range res.Labels {
		for i, v := range res.Probabilities[label] {
			assert.Equal(t, v > 0, res.Alerts[label][i])
			if v > 0.2 {
				critical++
			}
		}
	}
	assert.Len(t, res.Critical, critical)
	for k := 1; k < len(res.Critical); k++ {
		assert.LessOrEqual(t, res.Critical[k-1].Row, res.Critical[k].Row)
	}
}

func TestPredict_Canceled(t *testing.T) {
	p, err := NewPredictor(trainedBundle(t))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Predict(ctx, telemetry(3, 1))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = p.Predict(context.Background(), dataset.NewFrame(0))
	assert.Error(t, err)
}

func TestPredict_SimulatedObservation(t *testing.T) {
	p, err := NewPredictor(trainedBundle(t))
	require.NoError(t, err)
	obs := SimulatedObservation()
	require.Equal(t, 1, obs.NRows())

	res, err := p.Predict(context.Background(), obs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
	assert.Len(t, res.Probabilities, 2)
	assert.Contains(t, res.Filled, features.FeatureAnomalyIndex)
}

func TestPredictor_Evaluate(t *testing.T) {
	p, err := NewPredictor(trainedBundle(t))
	require.NoError(t, err)

	report, err := p.Evaluate(telemetry(60, 21))
	require.NoError(t, err)
	assert.Equal(t, 60, report.Samples)
	assert.Len(t, report.Labels, 2)

	unlabeled := telemetry(10, 2)
	unlabeled.Drop(dataset.LabelToolWear)
	_, err = p.Evaluate(unlabeled)
	assert.Error(t, err)
}

func manualResult() *Result {
	r := newResult(4, []string{"FDF", "FDC"})
	r.setLabel("FDF", []float64{0.9, 0.1, 0.6, 0.2}, 0.5, 0.7)
	r.setLabel("FDC", []float64{0.75, 0.1, 0.3, 0.2}, 0.5, 0.7)
	r.sortCritical()
	return r
}

func TestResult_Counts(t *testing.T) {
	r := manualResult()
	assert.Equal(t, 2, r.AlertCount("FDF"))
	assert.Equal(t, 1, r.AlertCount("FDC"))
	assert.Equal(t, 3, r.TotalAlerts())
	assert.Equal(t, []int{0, 2}, r.AlertRows())
	assert.Equal(t, []Alert{
		{Row: 0, Label: "FDF", Probability: 0.9},
		{Row: 0, Label: "FDC", Probability: 0.75},
	}, r.Critical)
}

func TestSummarize_Tiers(t *testing.T) {
	tests := []struct {
		name   string
		proba  []float64
		tier   Tier
		status Status
	}{
		{"no alerts", []float64{0.1, 0.2, 0.3}, TierNone, StatusNormal},
		{"few alerts", []float64{0.6, 0.7, 0.1}, TierModerate, StatusAttention},
		{"five alerts", []float64{0.6, 0.6, 0.6, 0.6, 0.6, 0.1}, TierModerate, StatusAttention},
		{"many alerts", []float64{0.6, 0.6, 0.6, 0.6, 0.6, 0.6}, TierImmediate, StatusAttention},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResult(len(tt.proba), []string{"FP"})
			r.setLabel("FP", tt.proba, 0.5, 0.7)
			s := Summarize(r)
			assert.Equal(t, tt.tier, s.Tier)
			assert.Equal(t, tt.status, s.Status)
			assert.NotEmpty(t, s.Recommendations)
		})
	}
}

func TestSummary_Markdown(t *testing.T) {
	r := manualResult()
	r.Errors["FDC"] = errors.New("boom")
	s := Summarize(r)
	require.Len(t, s.Labels, 2)
	assert.InDelta(t, 0.45, s.Labels[0].MeanProba, 1e-12)
	assert.Equal(t, 0.9, s.Labels[0].MaxProba)
	assert.True(t, s.Labels[1].Failed)
	assert.Equal(t, 2, s.RowsWithAlerts)

	md := s.Markdown("batch.csv", time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC))
	assert.Contains(t, md, "# Predictive maintenance report - batch.csv")
	assert.Contains(t, md, "2026-01-02 03:04")
	assert.Contains(t, md, "| FDF | 2 | 45.0% | 90.0% | 0.50 |")
	assert.Contains(t, md, "(model failed)")
	assert.Contains(t, md, "sample #0, **FDF**, probability 90.0%")
	assert.Contains(t, md, "ATTENTION REQUIRED")
	assert.Contains(t, md, "## Recommendations (moderate)")
}

func readCSV(t *testing.T, data string) [][]string {
	t.Helper()
	records, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteCSV(t *testing.T) {
	input := dataset.NewFrame(4)
	require.NoError(t, input.SetNumeric(dataset.ColID, []float64{10, 11, 12, 13}))
	require.NoError(t, input.SetNumeric(dataset.ColTorque, []float64{40, 41, 42, 43}))
	require.NoError(t, input.SetNumeric(dataset.ColHumidity, []float64{50, 50, 50, 50}))
	r := manualResult()

	var all bytes.Buffer
	require.NoError(t, WritePredictionsCSV(&all, input, r))
	records := readCSV(t, all.String())
	require.Len(t, records, 5)
	assert.Equal(t, []string{"id", "torque", "prob_FDF", "alert_FDF", "prob_FDC", "alert_FDC"}, records[0])
	assert.Equal(t, []string{"10", "40", "0.9", FlagAlert, "0.75", FlagAlert}, records[1])
	assert.Equal(t, []string{"11", "41", "0.1", FlagOK, "0.1", FlagOK}, records[2])

	var alerts bytes.Buffer
	require.NoError(t, WriteAlertsCSV(&alerts, input, r))
	records = readCSV(t, alerts.String())
	require.Len(t, records, 3)
	assert.Equal(t, "10", records[1][0])
	assert.Equal(t, "12", records[2][0])

	assert.Error(t, WriteAlertsCSV(&alerts, dataset.NewFrame(2), r))
}

func TestBundleCache(t *testing.T) {
	b := trainedBundle(t)
	loads := 0
	c := NewBundleCache(time.Minute)
	c.load = func(dir string) (*artifact.Bundle, error) {
		loads++
		if dir == "missing" {
			return nil, errors.NewArtifactError("open", dir, errors.New("not found"))
		}
		return b, nil
	}

	got, err := c.Get("models")
	require.NoError(t, err)
	assert.Same(t, b, got)
	got, err = c.Get("./models")
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, c.Len())

	_, err = c.Get("missing")
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len())

	c.Invalidate("models")
	assert.Equal(t, 0, c.Len())
	_, err = c.Get("models")
	require.NoError(t, err)
	assert.Equal(t, 3, loads)
}

func TestBundleCache_LoadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, artifact.Save(dir, trainedBundle(t)))

	c := NewBundleCache(0)
	b, err := c.Get(dir)
	require.NoError(t, err)
	p, err := NewPredictor(b)
	require.NoError(t, err)
	res, err := p.Predict(context.Background(), SimulatedObservation())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
}

package pipeline

import (
	"context"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/gembaguard/artifact"
	"github.com/YuminosukeSato/gembaguard/cleaning"
	"github.com/YuminosukeSato/gembaguard/config"
	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/features"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/serving"
	"github.com/YuminosukeSato/gembaguard/sklearn/model_selection"
)

// writeTelemetry writes a raw export with verbose label headers, one missing
// reading and one outlier.
func writeTelemetry(t *testing.T, path string, n int, seed uint64) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed))
	f := dataset.NewFrame(n)
	ids := make([]float64, n)
	types := make([]string, n)
	cols := map[string][]float64{}
	for _, name := range dataset.BaseFeatures {
		cols[name] = make([]float64, n)
	}
	fdf := make([]float64, n)
	fdc := make([]float64, n)
	fa := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = float64(i + 1)
		types[i] = []string{"L", "L", "M", "H"}[i%4]
		air := 296 + 8*rng.Float64()
		cols[dataset.ColAirTemperature][i] = air
		cols[dataset.ColProcessTemperature][i] = air + 9 + 3*rng.Float64()
		cols[dataset.ColHumidity][i] = 35 + 30*rng.Float64()
		cols[dataset.ColRotationalSpeed][i] = 1350 + 500*rng.Float64()
		cols[dataset.ColTorque][i] = 25 + 40*rng.Float64()
		cols[dataset.ColToolWear][i] = 240 * rng.Float64()
		if cols[dataset.ColToolWear][i] > 200 {
			fdf[i] = 1
		}
		if cols[dataset.ColTorque][i] > 58 {
			fdc[i] = 1
		}
		fa[i] = "False"
		if i%97 == 5 {
			fa[i] = "True"
		}
	}
	cols[dataset.ColHumidity][3] = math.NaN()
	cols[dataset.ColTorque][7] = 900

	require.NoError(t, f.SetNumeric(dataset.ColID, ids))
	require.NoError(t, f.SetText(dataset.ColType, types))
	for _, name := range dataset.BaseFeatures {
		require.NoError(t, f.SetNumeric(name, cols[name]))
	}
	require.NoError(t, f.SetNumeric("FDF (Falha Desgaste Ferramenta)", fdf))
	require.NoError(t, f.SetNumeric(dataset.LabelHeatDissipation, fdc))
	require.NoError(t, f.SetText("FA (Falha Aleatoria)", fa))

	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()
	require.NoError(t, dataset.WriteCSV(out, f))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data.Path = filepath.Join(dir, "train.csv")
	cfg.Artifacts.Dir = filepath.Join(dir, "models")
	cfg.Artifacts.ReportsDir = filepath.Join(dir, "reports")
	cfg.Training.NIter = 1
	cfg.Training.CVFolds = 2
	cfg.Training.Workers = 2
	cfg.Training.FixedForest.NEstimators = 20
	writeTelemetry(t, cfg.Data.Path, 300, 17)
	return cfg
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg)
	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"FDF", "FDC", "FA"}, report.Labels)
	assert.Equal(t, 300, report.TrainRows+report.TestRows)
	assert.InDelta(t, 60, report.TestRows, 3)
	assert.Contains(t, report.Features, "indice_anomalia")
	assert.NotContains(t, report.Features, dataset.ColID)
	assert.Equal(t, 300, report.Profile.Rows)
	assert.Equal(t, 1, report.Cleaning.TotalImputed())
	assert.GreaterOrEqual(t, report.Cleaning.TotalClipped(), 1)
	require.Len(t, report.Training, 3)
	for _, lr := range report.Training {
		if lr.Label == "FA" {
			assert.Equal(t, "fixed_forest", string(lr.Strategy))
		}
	}
	require.NotNil(t, report.Evaluation)
	assert.Len(t, report.Evaluation.Labels, 3)
	assert.NotEmpty(t, report.RunID)
	assert.Contains(t, report.Describe(), report.RunID)

	require.Contains(t, report.Metrics, "stage.training")
	assert.Equal(t, int64(1), report.Metrics["stage.training"]["count"])
	assert.Equal(t, int64(1), report.Metrics["cleaning.imputed"]["count"])
	assert.Equal(t, int64(3), report.Metrics["training.labels"]["count"])

	for _, name := range []string{ProfileFile, CleaningFile, EvaluationTextFile, EvaluationJSONFile, LabelMetricsFile, ImportanceFile("FDF")} {
		path := filepath.Join(cfg.Artifacts.ReportsDir, name)
		assert.Contains(t, report.Files, path)
		_, err := os.Stat(path)
		assert.NoError(t, err, name)
	}

	b, err := artifact.Load(cfg.Artifacts.Dir)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, b.Manifest.RunID)
	assert.Equal(t, report.Features, b.Manifest.Features)
	assert.Len(t, b.Manifest.Thresholds, 3)
	assert.NotNil(t, b.GroupStats)
	rows, cols := b.YTest.Dims()
	assert.Equal(t, report.TestRows, rows)
	assert.Equal(t, 3, cols)
}

func TestRun_GroupStatsFromTrainingRows(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evaluation.Plots = false
	_, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	b, err := artifact.Load(cfg.Artifacts.Dir)
	require.NoError(t, err)
	require.NotNil(t, b.GroupStats)

	raw, err := dataset.LoadCSV(cfg.Data.Path)
	require.NoError(t, err)
	dataset.NormalizeLabels(raw)
	clean, _, err := cleaning.NewCleaner(
		cleaning.WithIQRFactor(cfg.Cleaning.IQRFactor),
		cleaning.WithTemperatureOffset(cfg.Cleaning.TemperatureOffset),
	).Clean(raw)
	require.NoError(t, err)
	Y, err := dataset.LabelMatrix(clean, dataset.PresentLabels(clean))
	require.NoError(t, err)
	fold, err := model_selection.NewMultilabelStratifiedShuffleSplit(cfg.Split.TestSize, cfg.Split.Seed).Split(Y)
	require.NoError(t, err)

	opts := features.DefaultOptions()
	train, err := features.FitGroupStats(clean.Take(fold.TrainIndices), opts.GroupColumn, opts.BaseColumns)
	require.NoError(t, err)
	all, err := features.FitGroupStats(clean, opts.GroupColumn, opts.BaseColumns)
	require.NoError(t, err)

	require.Len(t, b.GroupStats.Global, len(train.Global))
	for j := range train.Global {
		assert.InDelta(t, train.Global[j].Mean, b.GroupStats.Global[j].Mean, 1e-9, opts.BaseColumns[j])
		assert.InDelta(t, train.Global[j].Std, b.GroupStats.Global[j].Std, 1e-9, opts.BaseColumns[j])
	}
	// held-out rows must not leak into the fitted moments
	assert.NotEqual(t, all.Global, b.GroupStats.Global)
}

func TestEvaluateAndPredict(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evaluation.Plots = false
	run, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	report, files, err := Evaluate(context.Background(), cfg, "")
	require.NoError(t, err)
	assert.Equal(t, run.TestRows, report.Samples)
	assert.Len(t, files, 2)

	external := filepath.Join(t.TempDir(), "external.csv")
	writeTelemetry(t, external, 50, 99)
	report, _, err = Evaluate(context.Background(), cfg, external)
	require.NoError(t, err)
	assert.Equal(t, 50, report.Samples)

	cache := serving.NewBundleCache(0)
	pred, err := NewPredictor(cfg, cache)
	require.NoError(t, err)
	res, err := pred.Predict(context.Background(), serving.SimulatedObservation())
	require.NoError(t, err)
	assert.Len(t, res.Probabilities, 3)
	assert.Equal(t, 1, cache.Len())
}

func TestRun_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Path = filepath.Join(t.TempDir(), "absent.csv")
	_, err := Run(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Split.TestSize = 0
	_, err = Run(context.Background(), cfg)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	cfg = testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_WithoutBundle(t *testing.T) {
	cfg := testConfig(t)
	_, _, err := Evaluate(context.Background(), cfg, "")
	var ae *errors.ArtifactError
	assert.True(t, errors.As(err, &ae))
}

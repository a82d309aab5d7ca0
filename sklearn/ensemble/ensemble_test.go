package ensemble

import (
	"bytes"
	"context"
	"encoding/gob"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// thresholdData returns n samples where column 0 decides the class and
// the remaining columns are deterministic noise.
func thresholdData(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x0 := float64(i) / float64(n)
		X.Set(i, 0, x0)
		X.Set(i, 1, math.Sin(float64(i)*1.7))
		X.Set(i, 2, math.Cos(float64(i)*0.3))
		if x0 >= 0.5 {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func accuracy(t *testing.T, pred, y mat.Matrix) float64 {
	t.Helper()
	r, _ := y.Dims()
	correct := 0
	for i := 0; i < r; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(r)
}

func TestRandomForestClassifier_FitPredict(t *testing.T) {
	X, y := thresholdData(80)

	rf := NewRandomForestClassifier(WithNEstimators(25), WithForestRandomState(42))
	require.NoError(t, rf.Fit(X, y))
	assert.True(t, rf.IsFitted())
	assert.Len(t, rf.Estimators(), 25)
	assert.Equal(t, []int{0, 1}, rf.Classes())

	pred, err := rf.Predict(X)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, accuracy(t, pred, y), 0.95)

	proba, err := rf.PredictProba(X)
	require.NoError(t, err)
	r, c := proba.Dims()
	assert.Equal(t, 80, r)
	assert.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-9)
	}

	imp := rf.FeatureImportances()
	require.Len(t, imp, 3)
	assert.InDelta(t, 1.0, imp[0]+imp[1]+imp[2], 1e-9)
	assert.Greater(t, imp[0], imp[1])
	assert.Greater(t, imp[0], imp[2])
}

func TestRandomForestClassifier_SeedDeterminism(t *testing.T) {
	X, y := thresholdData(60)

	fit := func(seed int64, jobs int) mat.Matrix {
		rf := NewRandomForestClassifier(
			WithNEstimators(10),
			WithForestRandomState(seed),
			WithNJobs(jobs),
			WithForestClassWeight("balanced"),
		)
		require.NoError(t, rf.Fit(X, y))
		proba, err := rf.PredictProba(X)
		require.NoError(t, err)
		return proba
	}

	// the worker count must not change the result
	assert.True(t, mat.Equal(fit(7, 1), fit(7, 4)))
	assert.True(t, mat.Equal(fit(7, 0), fit(7, 2)))
}

func TestRandomForestClassifier_MaxFeatures(t *testing.T) {
	X, y := thresholdData(40)
	for _, mf := range []string{"sqrt", "log2", "all", "2"} {
		t.Run(mf, func(t *testing.T) {
			rf := NewRandomForestClassifier(WithNEstimators(3), WithMaxFeatures(mf))
			require.NoError(t, rf.Fit(X, y))
		})
	}
	rf := NewRandomForestClassifier(WithMaxFeatures("many"))
	assert.Error(t, rf.Fit(X, y))
}

func TestRandomForestClassifier_Errors(t *testing.T) {
	rf := NewRandomForestClassifier()
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	_, err := rf.PredictProba(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	assert.Error(t, NewRandomForestClassifier(WithNEstimators(0)).Fit(X, mat.NewDense(2, 1, []float64{0, 1})))
	assert.Error(t, rf.Fit(X, mat.NewDense(3, 1, nil)))

	require.NoError(t, rf.Fit(X, mat.NewDense(2, 1, []float64{0, 1})))
	_, err = rf.Predict(mat.NewDense(1, 3, nil))
	assert.Error(t, err)
}

func TestRandomForestClassifier_FitContextCanceled(t *testing.T) {
	X, y := thresholdData(20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rf := NewRandomForestClassifier(WithNEstimators(5))
	assert.ErrorIs(t, rf.FitContext(ctx, X, y), context.Canceled)
	assert.False(t, rf.IsFitted())
}

func TestRandomForestClassifier_GetSetParams(t *testing.T) {
	rf := NewRandomForestClassifier()
	params := rf.GetParams()
	assert.Equal(t, 100, params["n_estimators"])
	assert.Equal(t, "sqrt", params["max_features"])

	require.NoError(t, rf.SetParams(map[string]interface{}{
		"n_estimators": "150",
		"max_depth":    10.0,
		"class_weight": "balanced",
		"bootstrap":    false,
	}))
	assert.Equal(t, 150, rf.nEstimators)
	assert.Equal(t, 10, rf.maxDepth)
	assert.Equal(t, "balanced", rf.classWeight)
	assert.False(t, rf.bootstrap)

	require.NoError(t, rf.SetParams(map[string]interface{}{"max_depth": nil}))
	assert.Equal(t, -1, rf.maxDepth)
	assert.Error(t, rf.SetParams(map[string]interface{}{"gamma": 1}))
}

func TestRandomForestClassifier_Gob(t *testing.T) {
	X, y := thresholdData(40)
	rf := NewRandomForestClassifier(WithNEstimators(5), WithForestMaxDepth(4), WithForestRandomState(3))
	require.NoError(t, rf.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(rf))

	restored := &RandomForestClassifier{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(restored))
	assert.Equal(t, 4, restored.maxDepth)
	assert.Equal(t, int64(3), restored.randomState)

	want, err := rf.PredictProba(X)
	require.NoError(t, err)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}

func TestDeriveSeed(t *testing.T) {
	assert.Equal(t, DeriveSeed(42, 3), DeriveSeed(42, 3))
	assert.NotEqual(t, DeriveSeed(42, 3), DeriveSeed(42, 4))
	assert.NotEqual(t, DeriveSeed(42, 3), DeriveSeed(43, 3))
}

func TestGradientBoostingClassifier_FitPredict(t *testing.T) {
	X, y := thresholdData(100)

	gb := NewGradientBoostingClassifier(WithBoostingRounds(30), WithBoostingRandomState(1))
	require.NoError(t, gb.Fit(X, y))
	assert.True(t, gb.IsFitted())
	assert.Equal(t, 30, gb.NTrees())

	pred, err := gb.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy(t, pred, y))

	proba, err := gb.PredictProba(X)
	require.NoError(t, err)
	_, c := proba.Dims()
	require.Equal(t, 2, c)
	assert.Greater(t, proba.At(99, 1), 0.9)
	assert.Less(t, proba.At(0, 1), 0.1)

	imp := gb.FeatureImportances()
	require.Len(t, imp, 3)
	assert.InDelta(t, 1.0, imp[0]+imp[1]+imp[2], 1e-9)
	assert.Greater(t, gb.SplitCounts()[0], 0)
}

func TestGradientBoostingClassifier_InitScoreIsLogOdds(t *testing.T) {
	X, y := thresholdData(100)
	for i := 0; i < 100; i++ {
		// a quarter positives
		if i < 75 {
			y.Set(i, 0, 0)
		} else {
			y.Set(i, 0, 1)
		}
	}
	gb := NewGradientBoostingClassifier(WithBoostingRounds(1))
	require.NoError(t, gb.Fit(X, y))
	assert.InDelta(t, math.Log(25.0/75.0), gb.initScore, 1e-9)

	balanced := NewGradientBoostingClassifier(WithBoostingRounds(1), WithBoostingClassWeight("balanced"))
	require.NoError(t, balanced.Fit(X, y))
	assert.InDelta(t, 0.0, balanced.initScore, 1e-9)
}

func TestGradientBoostingClassifier_ConstraintsLimitTrees(t *testing.T) {
	X, y := thresholdData(100)

	gb := NewGradientBoostingClassifier(
		WithBoostingRounds(5),
		WithNumLeaves(4),
		WithMinChildSamples(10),
	)
	require.NoError(t, gb.Fit(X, y))
	for _, tr := range gb.trees {
		leaves := 0
		for _, n := range tr.Nodes {
			if n.Left < 0 {
				leaves++
			}
		}
		assert.LessOrEqual(t, leaves, 4)
	}

	stump := NewGradientBoostingClassifier(WithBoostingRounds(3), WithBoostingMaxDepth(1))
	require.NoError(t, stump.Fit(X, y))
	for _, tr := range stump.trees {
		assert.LessOrEqual(t, len(tr.Nodes), 3)
	}
}

func TestGradientBoostingClassifier_ColsampleIsSeeded(t *testing.T) {
	X, y := thresholdData(80)
	fit := func(seed int64) []RegressionTree {
		gb := NewGradientBoostingClassifier(
			WithBoostingRounds(5),
			WithColsampleByTree(0.5),
			WithBoostingRandomState(seed),
		)
		require.NoError(t, gb.Fit(X, y))
		return gb.trees
	}
	assert.Equal(t, fit(11), fit(11))
}

func TestGradientBoostingClassifier_Errors(t *testing.T) {
	X, y := thresholdData(30)

	_, err := NewGradientBoostingClassifier().Predict(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	single := mat.NewDense(30, 1, nil)
	err = NewGradientBoostingClassifier().Fit(X, single)
	assert.True(t, errors.Is(err, errors.ErrSingleClass))

	tests := []struct {
		name string
		opt  GradientBoostingOption
	}{
		{"rounds", WithBoostingRounds(0)},
		{"learning rate", WithLearningRate(0)},
		{"leaves", WithNumLeaves(1)},
		{"colsample", WithColsampleByTree(1.5)},
		{"class weight", WithBoostingClassWeight("inverse")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, NewGradientBoostingClassifier(tt.opt).Fit(X, y))
		})
	}
}

func TestGradientBoostingClassifier_GetSetParams(t *testing.T) {
	gb := NewGradientBoostingClassifier()
	assert.Equal(t, 31, gb.GetParams()["num_leaves"])

	require.NoError(t, gb.SetParams(map[string]interface{}{
		"n_estimators":  "200",
		"learning_rate": 0.05,
		"num_leaves":    int64(63),
		"max_depth":     nil,
		"class_weight":  "balanced",
	}))
	p := gb.Params()
	assert.Equal(t, 200, p.NEstimators)
	assert.Equal(t, 0.05, p.LearningRate)
	assert.Equal(t, 63, p.NumLeaves)
	assert.Equal(t, -1, p.MaxDepth)
	assert.Equal(t, "balanced", p.ClassWeight)

	assert.Error(t, gb.SetParams(map[string]interface{}{"subsample_freq": 1}))
	assert.Error(t, gb.SetParams(map[string]interface{}{"num_leaves": "many"}))
}

func TestGradientBoostingClassifier_Gob(t *testing.T) {
	X, y := thresholdData(60)
	gb := NewGradientBoostingClassifier(WithBoostingRounds(10), WithLearningRate(0.2))
	require.NoError(t, gb.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(gb))

	restored := &GradientBoostingClassifier{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(restored))
	assert.Equal(t, 0.2, restored.Params().LearningRate)

	want, err := gb.DecisionFunction(X)
	require.NoError(t, err)
	got, err := restored.DecisionFunction(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBuildBins(t *testing.T) {
	b := buildBins([]float64{3, 1, 2, 2, 1}, 255)
	assert.Equal(t, []float64{1.5, 2.5}, b.Bounds)
	assert.Equal(t, 0, b.bin(1))
	assert.Equal(t, 1, b.bin(2))
	assert.Equal(t, 2, b.bin(3))

	assert.Empty(t, buildBins([]float64{4, 4, 4}, 255).Bounds)

	col := make([]float64, 1000)
	for i := range col {
		col[i] = float64(i)
	}
	assert.LessOrEqual(t, buildBins(col, 16).nBins(), 16)
}

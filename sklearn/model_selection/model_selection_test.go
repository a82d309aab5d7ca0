package model_selection

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/sklearn/tree"
)

func classificationData(n int) (*mat.Dense, []int) {
	X := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, math.Sin(float64(i)))
		if X.At(i, 1) > 0.5 {
			y[i] = 1
		}
	}
	return X, y
}

func treeFactory() Estimator {
	return tree.NewDecisionTreeClassifier(tree.WithRandomState(0))
}

// panicky fails every fit whose max_depth is 1.
type panicky struct {
	*tree.DecisionTreeClassifier
}

func (p panicky) Fit(X, y mat.Matrix) error {
	if p.GetParams()["max_depth"] == 1 {
		panic("depth one is not supported")
	}
	return p.DecisionTreeClassifier.Fit(X, y)
}

func TestKFold(t *testing.T) {
	X := mat.NewDense(10, 1, nil)

	tests := []struct {
		name    string
		shuffle bool
	}{
		{"ordered", false},
		{"shuffled", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			folds, err := NewKFold(3, tt.shuffle, 42).Split(X, nil)
			require.NoError(t, err)
			require.Len(t, folds, 3)

			seen := make(map[int]int)
			sizes := []int{}
			for _, f := range folds {
				assert.Len(t, f.TrainIndices, 10-len(f.TestIndices))
				sizes = append(sizes, len(f.TestIndices))
				for _, idx := range f.TestIndices {
					seen[idx]++
				}
			}
			assert.Equal(t, []int{4, 3, 3}, sizes)
			assert.Len(t, seen, 10)
			for _, c := range seen {
				assert.Equal(t, 1, c)
			}
		})
	}

	folds, err := NewKFold(3, false, 0).Split(X, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, folds[0].TestIndices)

	_, err = NewKFold(20, false, 0).Split(X, nil)
	assert.Error(t, err)
	assert.Equal(t, 5, NewKFold(1, false, 0).GetNSplits())
}

func TestKFold_ShuffleIsSeeded(t *testing.T) {
	X := mat.NewDense(30, 1, nil)
	a, err := NewKFold(5, true, 7).Split(X, nil)
	require.NoError(t, err)
	b, err := NewKFold(5, true, 7).Split(X, nil)
	require.NoError(t, err)
	c, err := NewKFold(5, true, 8).Split(X, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestStratifiedKFold(t *testing.T) {
	n := 30
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < 9; i++ {
		y.Set(i*3, 0, 1)
	}

	for _, shuffle := range []bool{false, true} {
		folds, err := NewStratifiedKFold(3, shuffle, 1).Split(X, y)
		require.NoError(t, err)
		for _, f := range folds {
			pos := 0
			for _, idx := range f.TestIndices {
				pos += int(y.At(idx, 0))
			}
			assert.Equal(t, 3, pos)
			assert.Len(t, f.TestIndices, 10)
		}
	}

	a, err := NewStratifiedKFold(3, true, 5).Split(X, y)
	require.NoError(t, err)
	b, err := NewStratifiedKFold(3, true, 5).Split(X, y)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = NewStratifiedKFold(3, false, 0).Split(X, mat.NewDense(4, 1, nil))
	assert.Error(t, err)
}

func TestCrossValScore(t *testing.T) {
	X, y := classificationData(30)
	scores, err := CrossValScore(context.Background(), treeFactory, X, y,
		NewStratifiedKFold(3, true, 0), WithScorer(AccuracyScorer), WithWorkers(3))
	require.NoError(t, err)
	require.Len(t, scores, 3)
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestCrossValidate_ErrorScore(t *testing.T) {
	X, y := classificationData(30)
	factory := func() Estimator {
		return panicky{tree.NewDecisionTreeClassifier()}
	}
	params := map[string]interface{}{"max_depth": 1}

	_, err := CrossValidate(context.Background(), factory, params, X, y, NewKFold(3, false, 0))
	assert.Error(t, err)

	res, err := CrossValidate(context.Background(), factory, params, X, y, NewKFold(3, false, 0),
		WithErrorScore(0))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, res.TestScores)
	assert.True(t, res.Failed())
	assert.Equal(t, 0.0, res.GetMeanScore())
}

func TestCVResult_Stats(t *testing.T) {
	res := &CVResult{TestScores: []float64{0.5, 1.0}}
	assert.Equal(t, 0.75, res.GetMeanScore())
	assert.InDelta(t, 0.25, res.GetStdScore(), 1e-12)
	assert.False(t, res.Failed())
}

func TestParamGrid(t *testing.T) {
	grid := ParamGrid{
		"b": {1, 2},
		"a": {"x", "y", "z"},
	}
	assert.Equal(t, 6, grid.Size())
	assert.Equal(t, map[string]interface{}{"a": "x", "b": 1}, grid.At(0))
	assert.Equal(t, map[string]interface{}{"a": "x", "b": 2}, grid.At(1))
	assert.Equal(t, map[string]interface{}{"a": "z", "b": 2}, grid.At(5))

	// small grids are returned whole, in order
	all := SampleParams(grid, 10, 0)
	require.Len(t, all, 6)
	assert.Equal(t, grid.At(3), all[3])

	sampled := SampleParams(grid, 4, 3)
	require.Len(t, sampled, 4)
	for i := range sampled {
		for j := i + 1; j < len(sampled); j++ {
			assert.NotEqual(t, sampled[i], sampled[j])
		}
	}
	assert.Equal(t, sampled, SampleParams(grid, 4, 3))
	assert.Empty(t, SampleParams(ParamGrid{}, 4, 3))
}

func TestRandomizedSearchCV(t *testing.T) {
	X, y := classificationData(45)
	grid := ParamGrid{
		"max_depth":        {1, 3, nil},
		"min_samples_leaf": {1, 2},
	}
	factory := func() Estimator {
		return panicky{tree.NewDecisionTreeClassifier()}
	}

	search := NewRandomizedSearchCV(factory, grid,
		WithNIter(4),
		WithCV(NewStratifiedKFold(3, true, 0)),
		WithSearchRandomState(1),
		WithSearchNJobs(2),
	)
	require.NoError(t, search.Fit(context.Background(), X, model.ColumnVector(y)))

	results := search.CVResults()
	require.Len(t, results, 4)
	best := search.BestIndex()
	for i, r := range results {
		if r.Params["max_depth"] == 1 {
			assert.Equal(t, []float64{0, 0, 0}, r.Scores)
			assert.Error(t, r.Err)
		}
		assert.LessOrEqual(t, r.MeanScore, results[best].MeanScore)
		if r.MeanScore == results[best].MeanScore {
			assert.GreaterOrEqual(t, i, best, "ties go to the first sampled candidate")
		}
	}
	assert.Equal(t, 1, results[best].Rank)
	assert.Equal(t, results[best].Params, search.BestParams())
	assert.Equal(t, results[best].MeanScore, search.BestScore())
	require.NotNil(t, search.BestEstimator())

	pred, err := search.BestEstimator().Predict(X)
	require.NoError(t, err)
	r, _ := pred.Dims()
	assert.Equal(t, 45, r)
}

func TestRandomizedSearchCV_Validation(t *testing.T) {
	X, y := classificationData(12)
	err := NewRandomizedSearchCV(treeFactory, ParamGrid{}).Fit(context.Background(), X, model.ColumnVector(y))
	assert.Error(t, err)

	err = NewRandomizedSearchCV(treeFactory, ParamGrid{"max_depth": {2}}, WithNIter(0)).
		Fit(context.Background(), X, model.ColumnVector(y))
	assert.Error(t, err)

	s := NewRandomizedSearchCV(treeFactory, ParamGrid{"max_depth": {2}},
		WithRefit(false), WithCV(NewKFold(3, false, 0)))
	require.NoError(t, s.Fit(context.Background(), X, model.ColumnVector(y)))
	assert.Nil(t, s.BestEstimator())
	assert.Equal(t, map[string]interface{}{"max_depth": 2}, s.BestParams())
}

func TestMultilabelStratifiedShuffleSplit(t *testing.T) {
	n := 1000
	Y := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		if i%10 == 0 {
			Y.Set(i, 0, 1)
		}
		if i%40 == 0 {
			Y.Set(i, 1, 1)
		}
		if i%7 == 0 && i%10 != 0 {
			Y.Set(i, 2, 1)
		}
	}

	split := NewMultilabelStratifiedShuffleSplit(0.2, 42)
	fold, err := split.Split(Y)
	require.NoError(t, err)
	assert.Len(t, fold.TestIndices, 200)
	assert.Len(t, fold.TrainIndices, 800)

	ratio := func(indices []int, l int) float64 {
		pos := 0.0
		for _, i := range indices {
			pos += Y.At(i, l)
		}
		return pos / float64(len(indices))
	}
	for l := 0; l < 3; l++ {
		all := ratio(append(append([]int{}, fold.TrainIndices...), fold.TestIndices...), l)
		assert.InDelta(t, all, ratio(fold.TrainIndices, l), 0.02, "label %d train", l)
		assert.InDelta(t, all, ratio(fold.TestIndices, l), 0.02, "label %d test", l)
	}

	again, err := split.Split(Y)
	require.NoError(t, err)
	assert.Equal(t, fold, again)
}

func TestMultilabelStratifiedShuffleSplit_Errors(t *testing.T) {
	Y := mat.NewDense(4, 1, []float64{0, 1, 0, 1})
	_, err := NewMultilabelStratifiedShuffleSplit(0, 1).Split(Y)
	assert.Error(t, err)
	_, err = NewMultilabelStratifiedShuffleSplit(1.5, 1).Split(Y)
	assert.Error(t, err)
	_, err = NewMultilabelStratifiedShuffleSplit(0.5, 1).Split(mat.NewDense(2, 1, []float64{2, 0}))
	assert.Error(t, err)
}

func TestTakeRows(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	got := TakeRows(X, []int{2, 0})
	assert.Equal(t, []float64{5, 6, 1, 2}, got.RawMatrix().Data)
	assert.Equal(t, []int{30, 10}, TakeInts([]int{10, 20, 30}, []int{2, 0}))
}

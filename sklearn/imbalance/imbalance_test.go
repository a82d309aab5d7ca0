package imbalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

func imbalanced() (*mat.Dense, []int) {
	// 12 negatives on a line, 6 positives in a small cluster
	X := mat.NewDense(18, 2, nil)
	y := make([]int, 18)
	for i := 0; i < 12; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, 0)
	}
	for i := 12; i < 18; i++ {
		X.Set(i, 0, 20+float64(i-12)*0.5)
		X.Set(i, 1, 5)
		y[i] = 1
	}
	return X, y
}

func TestSMOTE_Balances(t *testing.T) {
	X, y := imbalanced()
	Xs, ys, err := NewSMOTE(WithRandomState(42)).FitResample(X, y)
	require.NoError(t, err)

	r, c := Xs.Dims()
	assert.Equal(t, 24, r)
	assert.Equal(t, 2, c)
	require.Len(t, ys, 24)

	pos := 0
	for _, v := range ys {
		pos += v
	}
	assert.Equal(t, 12, pos)

	// originals come first and are untouched
	assert.Equal(t, y, ys[:18])
	for i := 0; i < 18; i++ {
		assert.Equal(t, X.RawRowView(i), Xs.RawRowView(i))
	}
	// synthetic samples lie inside the minority cluster's bounding box
	for i := 18; i < 24; i++ {
		assert.Equal(t, 1, ys[i])
		assert.GreaterOrEqual(t, Xs.At(i, 0), 20.0)
		assert.LessOrEqual(t, Xs.At(i, 0), 22.5)
		assert.Equal(t, 5.0, Xs.At(i, 1))
	}
}

func TestSMOTE_Seeded(t *testing.T) {
	X, y := imbalanced()
	a, _, err := NewSMOTE(WithRandomState(1)).FitResample(X, y)
	require.NoError(t, err)
	b, _, err := NewSMOTE(WithRandomState(1)).FitResample(X, y)
	require.NoError(t, err)
	c, _, err := NewSMOTE(WithRandomState(2)).FitResample(X, y)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))
	assert.False(t, mat.Equal(a, c))
}

func TestSMOTE_Errors(t *testing.T) {
	X, y := imbalanced()

	_, _, err := NewSMOTE().FitResample(X, y[:5])
	assert.Error(t, err)

	_, _, err = NewSMOTE(WithKNeighbors(6)).FitResample(X, y)
	assert.Error(t, err)

	_, _, err = NewSMOTE(WithKNeighbors(0)).FitResample(X, y)
	assert.Error(t, err)

	zeros := make([]int, 18)
	_, _, err = NewSMOTE().FitResample(X, zeros)
	assert.True(t, errors.Is(err, errors.ErrSingleClass))

	bad := append([]int(nil), y...)
	bad[0] = 2
	_, _, err = NewSMOTE().FitResample(X, bad)
	assert.Error(t, err)
}

func TestSMOTE_AlreadyBalanced(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := []int{0, 1, 0, 1}
	Xs, ys, err := NewSMOTE().FitResample(X, y)
	require.NoError(t, err)
	assert.True(t, mat.Equal(X, Xs))
	assert.Equal(t, y, ys)
}

func TestTomekLinks(t *testing.T) {
	// 1 and 2 are mutual nearest neighbors with different classes
	X := mat.NewDense(5, 1, []float64{0, 1.0, 1.2, 3, 3.3})
	y := []int{0, 0, 1, 1, 1}

	tl := NewTomekLinks()
	mask, err := tl.Links(X, y)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, false, false}, mask)

	Xs, ys, err := tl.FitResample(X, y)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1}, ys)
	assert.Equal(t, []float64{0, 3, 3.3}, mat.Col(nil, 0, Xs))

	_, err = tl.Links(X, y[:2])
	assert.Error(t, err)
}

func TestTomekLinks_SameClassPairsKept(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 0.1, 5, 5.1})
	y := []int{0, 0, 1, 1}
	Xs, ys, err := NewTomekLinks().FitResample(X, y)
	require.NoError(t, err)
	assert.Equal(t, y, ys)
	assert.True(t, mat.Equal(X, Xs))
}

func TestSMOTETomek(t *testing.T) {
	X, y := imbalanced()
	var r Resampler = NewSMOTETomek(WithRandomState(3))
	Xs, ys, err := r.FitResample(X, y)
	require.NoError(t, err)

	n, _ := Xs.Dims()
	assert.Len(t, ys, n)
	assert.LessOrEqual(t, n, 24)
	assert.Greater(t, n, 18)
}

func TestKNearest(t *testing.T) {
	points := [][]float64{{0}, {1}, {3}, {4}}
	got := kNearest(points, points, 2, true)
	assert.Equal(t, []int{1, 2}, got[0])
	// ties aside, the closest candidate comes first
	assert.Equal(t, []int{0, 2}, got[1])
	assert.Equal(t, []int{3, 1}, got[2])

	assert.Equal(t, []int{-1}, nearest([][]float64{{1}}))
}

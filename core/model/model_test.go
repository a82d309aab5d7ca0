package model

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	assert.False(t, s.IsFitted())

	err := s.RequireFitted("StandardScaler", "Transform")
	require.Error(t, err)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "Transform", nf.Method)

	s.SetDimensions(4, 100)
	s.SetFeatureNames([]string{"torque", "temperatura_ar", "potencia_estimada", "indice_anomalia"})
	s.SetFitted()

	assert.NoError(t, s.RequireFitted("StandardScaler", "Transform"))
	assert.NoError(t, s.RequireFeatures("Transform", 4))
	assert.Error(t, s.RequireFeatures("Transform", 3))

	state := s.GetState()
	assert.True(t, state.Fitted)
	assert.Equal(t, 4, state.NFeatures)
	assert.Equal(t, []string{"torque", "temperatura_ar", "potencia_estimada", "indice_anomalia"}, state.FeatureNames)

	s.Reset()
	assert.False(t, s.IsFitted())
	assert.Empty(t, s.GetFeatureNames())

	s.SetState(state)
	assert.True(t, s.IsFitted())
}

func TestStateManagerConcurrentAccess(t *testing.T) {
	s := NewStateManager()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.SetDimensions(i, i*10)
			s.SetFitted()
		}(i)
		go func() {
			defer wg.Done()
			_ = s.IsFitted()
			_, _ = s.GetDimensions()
		}()
	}
	wg.Wait()
	assert.True(t, s.IsFitted())
}

type constantClassifier struct {
	classes []int
	value   float64
}

func (c *constantClassifier) Fit(X, y mat.Matrix) error { return nil }

func (c *constantClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	n, _ := X.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		if c.value > 0.5 {
			out.Set(i, 0, 1)
		}
	}
	return out, nil
}

func (c *constantClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	n, _ := X.Dims()
	out := mat.NewDense(n, len(c.classes), nil)
	for i := 0; i < n; i++ {
		if len(c.classes) == 2 {
			out.Set(i, 0, 1-c.value)
			out.Set(i, 1, c.value)
		} else {
			out.Set(i, 0, 1)
		}
	}
	return out, nil
}

func (c *constantClassifier) Classes() []int { return c.classes }

func TestPositiveProba(t *testing.T) {
	X := mat.NewDense(3, 2, nil)

	t.Run("probabilistic", func(t *testing.T) {
		p, err := PositiveProba(&constantClassifier{classes: []int{0, 1}, value: 0.8}, X)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.8, 0.8, 0.8}, p, 1e-12)
	})

	t.Run("positive class never seen", func(t *testing.T) {
		p, err := PositiveProba(&constantClassifier{classes: []int{0}, value: 0}, X)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0, 0}, p)
	})

	t.Run("pseudo probability from hard predictions", func(t *testing.T) {
		// the anonymous struct only exposes Predict
		var pred Predictor = struct{ Predictor }{&constantClassifier{value: 0.9}}
		p, err := PositiveProba(pred, X)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 1, 1}, p)
	})
}

func TestBinaryTargets(t *testing.T) {
	y, err := BinaryTargets("Fit", mat.NewDense(4, 1, []float64{0, 1, 1, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1, 0}, y)

	_, err = BinaryTargets("Fit", mat.NewDense(2, 1, []float64{0, 2}))
	assert.Error(t, err)

	_, err = BinaryTargets("Fit", mat.NewDense(2, 2, nil))
	assert.Error(t, err)

	col := ColumnVector([]int{1, 0, 1})
	r, c := col.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1, c)
	assert.Equal(t, 1.0, col.At(2, 0))
}

func TestSaveAndLoadModel(t *testing.T) {
	type payload struct {
		State  ModelState
		Values []float64
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "scaler.gob")

	in := payload{State: ModelState{Fitted: true, NFeatures: 2, FeatureNames: []string{"torque", "temperatura_ar"}}, Values: []float64{1.5, -2}}
	require.NoError(t, SaveModel(&in, path))

	var out payload
	require.NoError(t, LoadModel(&out, path))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestLoadModelErrors(t *testing.T) {
	dir := t.TempDir()
	var out ModelState

	err := LoadModel(&out, filepath.Join(dir, "missing.gob"))
	var ae *errors.ArtifactError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "open", ae.Op)

	corrupt := filepath.Join(dir, "corrupt.gob")
	require.NoError(t, os.WriteFile(corrupt, []byte("not gob"), 0o644))
	err = LoadModel(&out, corrupt)
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "decode", ae.Op)
}

func TestVersion(t *testing.T) {
	v, err := ParseVersion("v1.2")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 2}, v)
	assert.Equal(t, "1.2", v.String())

	_, err = ParseVersion("1")
	assert.Error(t, err)
	_, err = ParseVersion("one.two")
	assert.Error(t, err)

	assert.True(t, Version{1, 2}.CompatibleWith(Version{1, 0}))
	assert.False(t, Version{1, 0}.CompatibleWith(Version{1, 2}))
	assert.False(t, Version{2, 0}.CompatibleWith(Version{1, 0}))
}

func TestModelCard(t *testing.T) {
	card := &ModelCard{
		Label:           "FDF",
		ModelType:       "random_forest",
		Strategy:        "fixed_forest",
		Features:        []string{"torque"},
		Hyperparameters: map[string]interface{}{"n_estimators": 150},
		Metrics:         map[string]float64{"cv_f1": 0.4},
		IsFitted:        true,
	}
	require.NoError(t, card.Validate())

	clone := card.Clone()
	clone.Features[0] = "changed"
	clone.Metrics["cv_f1"] = 1
	assert.Equal(t, "torque", card.Features[0])
	assert.Equal(t, 0.4, card.Metrics["cv_f1"])

	assert.Error(t, (&ModelCard{ModelType: "random_forest"}).Validate())
	assert.Error(t, (&ModelCard{Label: "FA", ModelType: "random_forest", IsFitted: true}).Validate())
}

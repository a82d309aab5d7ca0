// Package model_selection provides cross-validation splitters, fold scoring
// and randomized hyperparameter search.
package model_selection

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// Splitter defines interface for cross-validation splitters
type Splitter interface {
	Split(X, y mat.Matrix) ([]Fold, error)
	GetNSplits() int
}

// Fold represents a single fold in cross-validation
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits     int
	Shuffle     bool
	RandomState int64
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomState int64) *KFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &KFold{
		NSplits:     nSplits,
		Shuffle:     shuffle,
		RandomState: randomState,
	}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split generates train/test indices for each fold. The first
// n_samples % n_splits folds get one extra test sample.
func (kf *KFold) Split(X, _ mat.Matrix) ([]Fold, error) {
	nSamples, _ := X.Dims()
	if nSamples < kf.NSplits {
		return nil, errors.NewValidationError("n_splits",
			"cannot be greater than the number of samples", kf.NSplits)
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := newRand(kf.RandomState)
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	assignment := make([]int, nSamples)
	foldSize := nSamples / kf.NSplits
	remainder := nSamples % kf.NSplits
	current := 0
	for f := 0; f < kf.NSplits; f++ {
		size := foldSize
		if f < remainder {
			size++
		}
		for _, idx := range indices[current : current+size] {
			assignment[idx] = f
		}
		current += size
	}
	return foldsFromAssignment(assignment, kf.NSplits), nil
}

// StratifiedKFold implements stratified k-fold cross-validation. Each class
// is dealt across the folds separately so that every fold keeps the class
// proportions.
type StratifiedKFold struct {
	NSplits     int
	Shuffle     bool
	RandomState int64
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomState int64) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &StratifiedKFold{
		NSplits:     nSplits,
		Shuffle:     shuffle,
		RandomState: randomState,
	}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split generates stratified train/test indices for each fold.
func (skf *StratifiedKFold) Split(X, y mat.Matrix) ([]Fold, error) {
	nSamples, _ := X.Dims()
	if y == nil {
		return nil, errors.NewValueError("StratifiedKFold.Split", "y is required")
	}
	if r, _ := y.Dims(); r != nSamples {
		return nil, errors.NewDimensionError("StratifiedKFold.Split", nSamples, r, 0)
	}
	if nSamples < skf.NSplits {
		return nil, errors.NewValidationError("n_splits",
			"cannot be greater than the number of samples", skf.NSplits)
	}

	classIndices := make(map[float64][]int)
	for i := 0; i < nSamples; i++ {
		label := y.At(i, 0)
		classIndices[label] = append(classIndices[label], i)
	}
	// map order is random; classes are visited sorted so the seed alone
	// decides the split
	labels := make([]float64, 0, len(classIndices))
	for label := range classIndices {
		labels = append(labels, label)
	}
	sort.Float64s(labels)

	var r *rand.Rand
	if skf.Shuffle {
		r = newRand(skf.RandomState)
	}

	assignment := make([]int, nSamples)
	offset := 0
	for _, label := range labels {
		indices := classIndices[label]
		if r != nil {
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}
		// continue dealing where the previous class stopped so that fold
		// sizes stay balanced
		for k, idx := range indices {
			assignment[idx] = (offset + k) % skf.NSplits
		}
		offset += len(indices)
	}
	return foldsFromAssignment(assignment, skf.NSplits), nil
}

func foldsFromAssignment(assignment []int, nSplits int) []Fold {
	folds := make([]Fold, nSplits)
	for f := range folds {
		folds[f] = Fold{TrainIndices: make([]int, 0), TestIndices: make([]int, 0)}
	}
	for idx, f := range assignment {
		for g := range folds {
			if g == f {
				folds[g].TestIndices = append(folds[g].TestIndices, idx)
			} else {
				folds[g].TrainIndices = append(folds[g].TrainIndices, idx)
			}
		}
	}
	return folds
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

// TakeRows returns the rows of X at indices, in the given order. indices
// must not be empty.
func TakeRows(X mat.Matrix, indices []int) *mat.Dense {
	_, c := X.Dims()
	out := mat.NewDense(len(indices), c, nil)
	row := make([]float64, c)
	for i, idx := range indices {
		mat.Row(row, idx, X)
		out.SetRow(i, row)
	}
	return out
}

// TakeInts returns y at indices, in the given order.
func TakeInts(y []int, indices []int) []int {
	out := make([]int, len(indices))
	for i, idx := range indices {
		out[i] = y[idx]
	}
	return out
}

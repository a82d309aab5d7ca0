package model_selection

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// MultilabelStratifiedShuffleSplit splits a multi-label dataset into one
// train and one test set with iterative stratification (Sechidis et al.,
// 2011), so that every label keeps roughly the same positive ratio in both
// sets.
type MultilabelStratifiedShuffleSplit struct {
	TestSize    float64
	RandomState int64
}

// NewMultilabelStratifiedShuffleSplit creates a splitter. testSize is the
// fraction of samples that go to the test set.
func NewMultilabelStratifiedShuffleSplit(testSize float64, randomState int64) *MultilabelStratifiedShuffleSplit {
	return &MultilabelStratifiedShuffleSplit{TestSize: testSize, RandomState: randomState}
}

const (
	testFold  = 0
	trainFold = 1
)

// Split assigns every row of Y (n_samples × n_labels, values 0/1) to the
// train or the test set. Both returned index lists are sorted.
func (s *MultilabelStratifiedShuffleSplit) Split(Y mat.Matrix) (Fold, error) {
	if s.TestSize <= 0 || s.TestSize >= 1 {
		return Fold{}, errors.NewValidationError("test_size", "must be in (0, 1)", s.TestSize)
	}
	n, nLabels := Y.Dims()
	nTest := int(math.Ceil(s.TestSize * float64(n)))
	if nTest < 1 || n-nTest < 1 {
		return Fold{}, errors.NewValueError("MultilabelStratifiedShuffleSplit.Split",
			"test_size leaves an empty train or test set")
	}

	labels := make([][]int, n) // positive label indices per sample
	for i := 0; i < n; i++ {
		for l := 0; l < nLabels; l++ {
			switch v := Y.At(i, l); v {
			case 0:
			case 1:
				labels[i] = append(labels[i], l)
			default:
				return Fold{}, errors.NewValueError("MultilabelStratifiedShuffleSplit.Split",
					"labels must be 0 or 1")
			}
		}
	}

	rng := newRand(s.RandomState)
	perm := rng.Perm(n)

	ratios := [2]float64{float64(nTest) / float64(n), float64(n-nTest) / float64(n)}
	desiredSamples := [2]float64{float64(nTest), float64(n - nTest)}
	desiredLabels := make([][2]float64, nLabels)
	remaining := make([]int, nLabels)
	for i := 0; i < n; i++ {
		for _, l := range labels[i] {
			remaining[l]++
		}
	}
	for l := range desiredLabels {
		desiredLabels[l] = [2]float64{ratios[0] * float64(remaining[l]), ratios[1] * float64(remaining[l])}
	}

	assignment := make([]int, n)
	assigned := make([]bool, n)
	assign := func(i, fold int) {
		assignment[i] = fold
		assigned[i] = true
		desiredSamples[fold]--
		for _, l := range labels[i] {
			desiredLabels[l][fold]--
			remaining[l]--
		}
	}
	pickFold := func(primary [2]float64) int {
		switch {
		case primary[0] > primary[1]:
			return testFold
		case primary[1] > primary[0]:
			return trainFold
		case desiredSamples[0] > desiredSamples[1]:
			return testFold
		case desiredSamples[1] > desiredSamples[0]:
			return trainFold
		default:
			return rng.IntN(2)
		}
	}

	for {
		// the label with the fewest remaining positives is the hardest to balance
		target := -1
		for l, r := range remaining {
			if r > 0 && (target < 0 || r < remaining[target]) {
				target = l
			}
		}
		if target < 0 {
			break
		}
		for _, i := range perm {
			if assigned[i] || !hasLabel(labels[i], target) {
				continue
			}
			assign(i, pickFold(desiredLabels[target]))
		}
	}

	// samples without any positive label fill the remaining capacity
	for _, i := range perm {
		if !assigned[i] {
			assign(i, pickFold(desiredSamples))
		}
	}

	var fold Fold
	for i, f := range assignment {
		if f == testFold {
			fold.TestIndices = append(fold.TestIndices, i)
		} else {
			fold.TrainIndices = append(fold.TrainIndices, i)
		}
	}
	sort.Ints(fold.TrainIndices)
	sort.Ints(fold.TestIndices)
	if len(fold.TestIndices) == 0 || len(fold.TrainIndices) == 0 {
		return Fold{}, errors.NewValueError("MultilabelStratifiedShuffleSplit.Split",
			"stratification produced an empty set")
	}
	return fold, nil
}

func hasLabel(labels []int, l int) bool {
	for _, v := range labels {
		if v == l {
			return true
		}
	}
	return false
}

package imbalance

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// Resampler returns a rebalanced copy of a binary training set.
type Resampler interface {
	FitResample(X mat.Matrix, y []int) (*mat.Dense, []int, error)
}

// SMOTE oversamples the minority class by interpolating between minority
// samples and their nearest minority neighbors until both classes have the
// same size.
type SMOTE struct {
	KNeighbors  int
	RandomState int64
}

// SMOTEOption is a functional option for SMOTE.
type SMOTEOption func(*SMOTE)

// WithKNeighbors sets the number of minority neighbors to interpolate with.
func WithKNeighbors(k int) SMOTEOption {
	return func(s *SMOTE) { s.KNeighbors = k }
}

// WithRandomState sets the seed for sample and gap selection.
func WithRandomState(seed int64) SMOTEOption {
	return func(s *SMOTE) { s.RandomState = seed }
}

// NewSMOTE creates a SMOTE resampler with k = 5.
func NewSMOTE(opts ...SMOTEOption) *SMOTE {
	s := &SMOTE{KNeighbors: 5}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FitResample appends synthetic minority samples after the original rows.
// Already balanced input is returned unchanged.
func (s *SMOTE) FitResample(X mat.Matrix, y []int) (*mat.Dense, []int, error) {
	r, c := X.Dims()
	if len(y) != r {
		return nil, nil, errors.NewDimensionError("SMOTE.FitResample", r, len(y), 0)
	}
	if s.KNeighbors < 1 {
		return nil, nil, errors.NewValidationError("k_neighbors", "must be >= 1", s.KNeighbors)
	}

	var pos, neg []int
	for i, v := range y {
		switch v {
		case 0:
			neg = append(neg, i)
		case 1:
			pos = append(pos, i)
		default:
			return nil, nil, errors.NewValueError("SMOTE.FitResample", "target must be binary (0 or 1)")
		}
	}
	if len(pos) == 0 || len(neg) == 0 {
		return nil, nil, errors.NewModelError("SMOTE.FitResample", "binary target", errors.ErrSingleClass)
	}
	minority, minorityClass := pos, 1
	if len(neg) < len(pos) {
		minority, minorityClass = neg, 0
	}
	nSynthetic := (r - len(minority)) - len(minority)

	all := rows(X)
	outX := mat.NewDense(r+nSynthetic, c, nil)
	for i, row := range all {
		outX.SetRow(i, row)
	}
	outY := make([]int, r+nSynthetic)
	copy(outY, y)
	if nSynthetic == 0 {
		return outX, outY, nil
	}

	if len(minority) <= s.KNeighbors {
		return nil, nil, errors.NewValueError("SMOTE.FitResample",
			"the minority class needs more samples than k_neighbors")
	}

	points := make([][]float64, len(minority))
	for k, idx := range minority {
		points[k] = all[idx]
	}
	neighbors := kNearest(points, points, s.KNeighbors, true)

	rng := rand.New(rand.NewPCG(uint64(s.RandomState), uint64(s.RandomState)))
	synthetic := make([]float64, c)
	for k := 0; k < nSynthetic; k++ {
		base := rng.IntN(len(points))
		nn := neighbors[base][rng.IntN(len(neighbors[base]))]
		gap := rng.Float64()
		for j := range synthetic {
			synthetic[j] = points[base][j] + gap*(points[nn][j]-points[base][j])
		}
		outX.SetRow(r+k, synthetic)
		outY[r+k] = minorityClass
	}

	log.GetLoggerWithName("imbalance.SMOTE").Debug("minority oversampled",
		log.SamplesKey, r,
		log.CountKey, nSynthetic,
		log.PositivesKey, len(pos),
	)
	return outX, outY, nil
}

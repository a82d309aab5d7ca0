package imbalance

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// TomekLinks removes Tomek links: pairs of samples from different classes
// that are each other's nearest neighbor. Both members of every link are
// removed.
type TomekLinks struct{}

// NewTomekLinks creates a TomekLinks cleaner.
func NewTomekLinks() *TomekLinks {
	return &TomekLinks{}
}

// Links returns a mask marking the samples that belong to a Tomek link.
func (t *TomekLinks) Links(X mat.Matrix, y []int) ([]bool, error) {
	r, _ := X.Dims()
	if len(y) != r {
		return nil, errors.NewDimensionError("TomekLinks.Links", r, len(y), 0)
	}
	nn := nearest(rows(X))
	mask := make([]bool, r)
	for i, j := range nn {
		if j >= 0 && y[i] != y[j] && nn[j] == i {
			mask[i] = true
		}
	}
	return mask, nil
}

// FitResample returns the rows that are not part of a Tomek link, in their
// original order.
func (t *TomekLinks) FitResample(X mat.Matrix, y []int) (*mat.Dense, []int, error) {
	mask, err := t.Links(X, y)
	if err != nil {
		return nil, nil, err
	}
	_, c := X.Dims()
	keep := make([]int, 0, len(y))
	for i, linked := range mask {
		if !linked {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, nil, errors.NewModelError("TomekLinks.FitResample", "resample", errors.ErrEmptyData)
	}

	outX := mat.NewDense(len(keep), c, nil)
	outY := make([]int, len(keep))
	row := make([]float64, c)
	for k, i := range keep {
		mat.Row(row, i, X)
		outX.SetRow(k, row)
		outY[k] = y[i]
	}

	log.GetLoggerWithName("imbalance.TomekLinks").Debug("tomek links removed",
		log.SamplesKey, len(y),
		log.CountKey, len(y)-len(keep),
	)
	return outX, outY, nil
}

// SMOTETomek oversamples with SMOTE and then cleans the result with Tomek links.
type SMOTETomek struct {
	SMOTE *SMOTE
	Tomek *TomekLinks
}

// NewSMOTETomek creates the combined resampler. opts configure the SMOTE step.
func NewSMOTETomek(opts ...SMOTEOption) *SMOTETomek {
	return &SMOTETomek{SMOTE: NewSMOTE(opts...), Tomek: NewTomekLinks()}
}

// FitResample runs SMOTE followed by Tomek-link removal.
func (st *SMOTETomek) FitResample(X mat.Matrix, y []int) (*mat.Dense, []int, error) {
	Xs, ys, err := st.SMOTE.FitResample(X, y)
	if err != nil {
		return nil, nil, err
	}
	return st.Tomek.FitResample(Xs, ys)
}

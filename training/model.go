package training

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/sklearn/ensemble"
)

// Kind tags the concrete estimator held by a LabelModel.
type Kind string

const (
	KindRandomForest     Kind = "random_forest"
	KindGradientBoosting Kind = "gradient_boosting"
)

// LabelModel is the fitted classifier of one label. Exactly one of the
// estimator fields is set, matching Kind.
type LabelModel struct {
	Kind     Kind
	Forest   *ensemble.RandomForestClassifier
	Boosting *ensemble.GradientBoostingClassifier
}

// NewLabelModel wraps a fitted estimator.
func NewLabelModel(est interface{}) (*LabelModel, error) {
	switch e := est.(type) {
	case *ensemble.RandomForestClassifier:
		return &LabelModel{Kind: KindRandomForest, Forest: e}, nil
	case *ensemble.GradientBoostingClassifier:
		return &LabelModel{Kind: KindGradientBoosting, Boosting: e}, nil
	default:
		return nil, errors.Newf("unsupported estimator %T", est)
	}
}

// Classifier returns the wrapped estimator.
func (m *LabelModel) Classifier() model.Classifier {
	switch m.Kind {
	case KindRandomForest:
		if m.Forest != nil {
			return m.Forest
		}
	case KindGradientBoosting:
		if m.Boosting != nil {
			return m.Boosting
		}
	}
	return nil
}

// PositiveProba returns the probability of a failure for every row. Models
// that cannot estimate probabilities use their 0/1 prediction.
func (m *LabelModel) PositiveProba(X mat.Matrix) ([]float64, error) {
	c := m.Classifier()
	if c == nil {
		return nil, errors.NewModelError("LabelModel.PositiveProba", "invalid model", errors.Newf("kind %q without estimator", m.Kind))
	}
	return model.PositiveProba(c, X)
}

// FeatureImportances returns the importances of the wrapped estimator.
func (m *LabelModel) FeatureImportances() []float64 {
	if fi, ok := m.Classifier().(model.FeatureImporter); ok {
		return fi.FeatureImportances()
	}
	return nil
}

// Params returns the hyperparameters of the wrapped estimator.
func (m *LabelModel) Params() map[string]interface{} {
	if pg, ok := m.Classifier().(model.ParameterGetter); ok {
		return pg.GetParams()
	}
	return nil
}

package model_selection

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/core/parallel"
	"github.com/YuminosukeSato/gembaguard/metrics"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// Estimator is a classifier whose hyperparameters can be set by name.
type Estimator interface {
	model.Classifier
	model.ParameterGetter
	model.ParameterSetter
}

// Factory returns a fresh, unfitted estimator. Every fold and candidate
// gets its own instance.
type Factory func() Estimator

// Scorer scores a fitted estimator on held-out data. Higher is better.
type Scorer func(est Estimator, X mat.Matrix, y []int) (float64, error)

// F1Scorer scores hard predictions with the positive-class F1.
func F1Scorer(est Estimator, X mat.Matrix, y []int) (float64, error) {
	pred, err := est.Predict(X)
	if err != nil {
		return 0, err
	}
	yPred, err := model.BinaryTargets("F1Scorer", pred)
	if err != nil {
		return 0, err
	}
	return metrics.F1Score(y, yPred)
}

// AccuracyScorer scores hard predictions with accuracy.
func AccuracyScorer(est Estimator, X mat.Matrix, y []int) (float64, error) {
	pred, err := est.Predict(X)
	if err != nil {
		return 0, err
	}
	yPred, err := model.BinaryTargets("AccuracyScorer", pred)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy(y, yPred)
}

// CVResult stores cross-validation results
type CVResult struct {
	TestScores []float64
	// FoldErrors holds the error of each failed fold, nil for folds that
	// were scored normally.
	FoldErrors []error
}

// GetMeanScore returns mean test score
func (cv *CVResult) GetMeanScore() float64 {
	if len(cv.TestScores) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, score := range cv.TestScores {
		sum += score
	}
	return sum / float64(len(cv.TestScores))
}

// GetStdScore returns the population standard deviation of test scores
func (cv *CVResult) GetStdScore() float64 {
	if len(cv.TestScores) <= 1 {
		return 0.0
	}
	mean := cv.GetMeanScore()
	sumSq := 0.0
	for _, score := range cv.TestScores {
		diff := score - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(cv.TestScores)))
}

// Failed reports whether any fold failed.
func (cv *CVResult) Failed() bool {
	for _, err := range cv.FoldErrors {
		if err != nil {
			return true
		}
	}
	return false
}

type cvConfig struct {
	scorer     Scorer
	workers    int
	errorScore *float64
}

// CVOption configures CrossValidate and CrossValScore.
type CVOption func(*cvConfig)

// WithScorer sets the fold scorer (default F1Scorer).
func WithScorer(s Scorer) CVOption {
	return func(c *cvConfig) { c.scorer = s }
}

// WithWorkers sets the number of folds evaluated concurrently. Values <= 0
// use every core.
func WithWorkers(n int) CVOption {
	return func(c *cvConfig) { c.workers = n }
}

// WithErrorScore assigns score to folds whose fit or scoring fails instead
// of returning the error.
func WithErrorScore(score float64) CVOption {
	return func(c *cvConfig) { c.errorScore = &score }
}

// CrossValidate fits a fresh estimator with params on every training fold
// and scores it on the matching test fold. Panics inside Fit are recovered
// and treated as fold failures.
func CrossValidate(ctx context.Context, factory Factory, params map[string]interface{},
	X mat.Matrix, y []int, cv Splitter, opts ...CVOption) (*CVResult, error) {

	cfg := cvConfig{scorer: F1Scorer, workers: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	r, _ := X.Dims()
	if len(y) != r {
		return nil, errors.NewDimensionError("CrossValidate", r, len(y), 0)
	}

	folds, err := cv.Split(X, model.ColumnVector(y))
	if err != nil {
		return nil, err
	}

	result := &CVResult{
		TestScores: make([]float64, len(folds)),
		FoldErrors: make([]error, len(folds)),
	}
	err = parallel.ForEach(ctx, len(folds), cfg.workers, func(_ context.Context, idx int) error {
		score, err := fitAndScore(factory, params, X, y, folds[idx], cfg.scorer)
		if err != nil {
			if cfg.errorScore == nil {
				return errors.Wrapf(err, "fold %d", idx)
			}
			result.FoldErrors[idx] = err
			score = *cfg.errorScore
		}
		result.TestScores[idx] = score
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CrossValScore returns the test score of every fold.
func CrossValScore(ctx context.Context, factory Factory, X mat.Matrix, y []int,
	cv Splitter, opts ...CVOption) ([]float64, error) {
	res, err := CrossValidate(ctx, factory, nil, X, y, cv, opts...)
	if err != nil {
		return nil, err
	}
	return res.TestScores, nil
}

func fitAndScore(factory Factory, params map[string]interface{}, X mat.Matrix, y []int,
	fold Fold, scorer Scorer) (score float64, err error) {

	if len(fold.TrainIndices) == 0 || len(fold.TestIndices) == 0 {
		return 0, errors.NewValueError("CrossValidate", "empty fold")
	}
	err = errors.SafeExecute("CrossValidate.fit", func() error {
		est := factory()
		if len(params) > 0 {
			if err := est.SetParams(params); err != nil {
				return err
			}
		}
		trainX := TakeRows(X, fold.TrainIndices)
		trainY := model.ColumnVector(TakeInts(y, fold.TrainIndices))
		if err := est.Fit(trainX, trainY); err != nil {
			return err
		}
		var serr error
		score, serr = scorer(est, TakeRows(X, fold.TestIndices), TakeInts(y, fold.TestIndices))
		return serr
	})
	return score, err
}

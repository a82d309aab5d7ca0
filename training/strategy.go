// Package training fits one specialized binary classifier per failure label.
//
// Each label gets a strategy from its positive count: very rare labels get a
// fixed balanced random forest, rare labels a random forest search, and the
// rest are resampled with SMOTE and Tomek links before a gradient boosting
// search.
package training

import (
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/sklearn/model_selection"
)

// Strategy is the specialized training procedure of a label.
type Strategy string

const (
	// StrategyFixedForest fits a balanced forest with fixed hyperparameters.
	StrategyFixedForest Strategy = "fixed_forest"
	// StrategyForestSearch runs a randomized search over balanced forests.
	StrategyForestSearch Strategy = "forest_search"
	// StrategyResampledBoosting resamples with SMOTETomek, then searches boosting models.
	StrategyResampledBoosting Strategy = "resampled_boosting"
)

// ForestParams are the hyperparameters of the fixed forest.
type ForestParams struct {
	NEstimators int `mapstructure:"n_estimators" validate:"min=1"`
	MaxDepth    int `mapstructure:"max_depth" validate:"min=-1"`
}

// Config controls strategy selection and the searches.
type Config struct {
	// Seed drives every random step of every label.
	Seed int64 `mapstructure:"seed"`
	// MaxPositivesFixed is the largest positive count trained with the fixed forest.
	MaxPositivesFixed int `mapstructure:"max_positives_fixed" validate:"min=0"`
	// RareRatio is the positive ratio below which the forest search is used.
	RareRatio float64 `mapstructure:"rare_ratio" validate:"gte=0,lte=1"`
	// NIter is the number of sampled search candidates.
	NIter int `mapstructure:"n_iter" validate:"min=1"`
	// CVFolds is the number of stratified folds per candidate.
	CVFolds int `mapstructure:"cv_folds" validate:"min=2"`
	// Workers bounds concurrent candidate fits; 0 uses every CPU.
	Workers int `mapstructure:"workers" validate:"min=0"`
	// SMOTENeighbors is k for SMOTE.
	SMOTENeighbors int `mapstructure:"smote_neighbors" validate:"min=1"`
	// TopFeatures is the number of importances kept in a label report.
	TopFeatures int `mapstructure:"top_features" validate:"min=0"`

	FixedForest ForestParams `mapstructure:"fixed_forest"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Seed:              42,
		MaxPositivesFixed: 5,
		RareRatio:         0.05,
		NIter:             20,
		CVFolds:           3,
		SMOTENeighbors:    5,
		TopFeatures:       5,
		FixedForest:       ForestParams{NEstimators: 150, MaxDepth: 10},
	}
}

// SelectStrategy picks the strategy for a label with the given positive
// count out of n samples.
func SelectStrategy(positives, n int, cfg Config) Strategy {
	if positives <= cfg.MaxPositivesFixed {
		return StrategyFixedForest
	}
	if n > 0 && float64(positives)/float64(n) < cfg.RareRatio {
		return StrategyForestSearch
	}
	return StrategyResampledBoosting
}

// ForestGrid is the search space of the forest search.
func ForestGrid() model_selection.ParamGrid {
	return model_selection.ParamGrid{
		"n_estimators":      {100, 200, 300},
		"max_depth":         {5, 10, 15, nil},
		"min_samples_split": {2, 5, 10},
		"min_samples_leaf":  {1, 2, 4},
	}
}

// BoostingGrid is the search space of the boosting search.
func BoostingGrid() model_selection.ParamGrid {
	return model_selection.ParamGrid{
		"n_estimators":  {100, 200, 300},
		"learning_rate": {0.01, 0.05, 0.1},
		"num_leaves":    {20, 31, 50},
		"max_depth":     {5, 10, 15},
	}
}

func (c Config) validate() error {
	switch {
	case c.NIter < 1:
		return errors.NewValidationError("n_iter", "must be >= 1", c.NIter)
	case c.CVFolds < 2:
		return errors.NewValidationError("cv_folds", "must be >= 2", c.CVFolds)
	case c.SMOTENeighbors < 1:
		return errors.NewValidationError("smote_neighbors", "must be >= 1", c.SMOTENeighbors)
	case c.FixedForest.NEstimators < 1:
		return errors.NewValidationError("fixed_forest.n_estimators", "must be >= 1", c.FixedForest.NEstimators)
	}
	return nil
}

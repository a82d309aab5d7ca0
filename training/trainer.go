package training

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
	"github.com/YuminosukeSato/gembaguard/sklearn/ensemble"
	"github.com/YuminosukeSato/gembaguard/sklearn/imbalance"
	"github.com/YuminosukeSato/gembaguard/sklearn/model_selection"
)

// FeatureImportance is one entry of a label's importance ranking.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// LabelReport describes how a label was trained.
type LabelReport struct {
	Label         string                 `json:"label"`
	Strategy      Strategy               `json:"strategy"`
	Kind          Kind                   `json:"kind"`
	Positives     int                    `json:"positives"`
	Samples       int                    `json:"samples"`
	PositiveRatio float64                `json:"positive_ratio"`
	Resampled     int                    `json:"resampled_samples,omitempty"`
	BestParams    map[string]interface{} `json:"best_params"`
	CVScore       float64                `json:"cv_score"`
	Searched      bool                   `json:"searched"`
	TopFeatures   []FeatureImportance    `json:"top_features"`
	Duration      time.Duration          `json:"duration_ns"`
}

// Result holds the labels that trained successfully and the failures of
// the others.
type Result struct {
	Models   map[string]*LabelModel
	Reports  map[string]*LabelReport
	Failures map[string]error
	// Labels lists the successfully trained labels in input order.
	Labels []string
}

// Err aggregates the label failures, or returns nil when every label trained.
func (r *Result) Err() error {
	var errs *multierror.Error
	names := make([]string, 0, len(r.Failures))
	for label := range r.Failures {
		names = append(names, label)
	}
	sort.Strings(names)
	for _, label := range names {
		errs = multierror.Append(errs, fmt.Errorf("label %s: %w", label, r.Failures[label]))
	}
	return errs.ErrorOrNil()
}

// Trainer fits every label with its specialized strategy.
type Trainer struct {
	cfg          Config
	featureNames []string
	logger       log.Logger
}

// TrainerOption configures a Trainer.
type TrainerOption func(*Trainer)

// WithFeatureNames names the columns of X in label reports.
func WithFeatureNames(names []string) TrainerOption {
	return func(t *Trainer) { t.featureNames = append([]string(nil), names...) }
}

// NewTrainer creates a Trainer.
func NewTrainer(cfg Config, opts ...TrainerOption) *Trainer {
	t := &Trainer{
		cfg:    cfg,
		logger: log.GetLoggerWithName("training.Trainer"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrainAll trains labels[j] on column j of Y. A failing label, panics
// included, is recorded in Result.Failures and does not stop the others.
// The returned error aggregates the failures; the Result is always usable.
func (t *Trainer) TrainAll(ctx context.Context, X, Y mat.Matrix, labels []string) (*Result, error) {
	if err := t.cfg.validate(); err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	yr, yc := Y.Dims()
	if yr != r {
		return nil, errors.NewDimensionError("Trainer.TrainAll", r, yr, 0)
	}
	if yc != len(labels) {
		return nil, errors.NewDimensionError("Trainer.TrainAll", len(labels), yc, 1)
	}

	res := &Result{
		Models:   make(map[string]*LabelModel),
		Reports:  make(map[string]*LabelReport),
		Failures: make(map[string]error),
	}
	for j, label := range labels {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		y, err := model.BinaryTargets("Trainer.TrainAll", mat.NewVecDense(yr, mat.Col(nil, j, Y)))
		if err != nil {
			res.Failures[label] = err
			continue
		}

		var lm *LabelModel
		var report *LabelReport
		err = errors.SafeExecute("Trainer.TrainLabel", func() error {
			var err error
			lm, report, err = t.TrainLabel(ctx, X, y, label)
			return err
		})
		if err != nil {
			res.Failures[label] = err
			t.logger.Error("label training failed; label dropped",
				log.PhaseKey, log.PhaseTraining,
				log.LabelKey, label,
				"error", err,
			)
			continue
		}
		res.Models[label] = lm
		res.Reports[label] = report
		res.Labels = append(res.Labels, label)
	}
	return res, res.Err()
}

// TrainLabel trains a single label with the strategy chosen from its
// positive count.
func (t *Trainer) TrainLabel(ctx context.Context, X mat.Matrix, y []int, label string) (*LabelModel, *LabelReport, error) {
	start := time.Now()
	n := len(y)
	positives := 0
	for _, v := range y {
		positives += v
	}
	strategy := SelectStrategy(positives, n, t.cfg)
	report := &LabelReport{
		Label:     label,
		Strategy:  strategy,
		Positives: positives,
		Samples:   n,
	}
	if n > 0 {
		report.PositiveRatio = float64(positives) / float64(n)
	}
	t.logger.Info("training label",
		log.PhaseKey, log.PhaseTraining,
		log.LabelKey, label,
		log.StrategyKey, string(strategy),
		log.PositivesKey, positives,
		log.PositiveRatioKey, report.PositiveRatio,
	)

	var est model_selection.Estimator
	var err error
	switch strategy {
	case StrategyFixedForest:
		est, err = t.fitFixedForest(ctx, X, y)
	case StrategyForestSearch:
		est, err = t.search(ctx, report, t.forestFactory(), ForestGrid(), X, y)
	case StrategyResampledBoosting:
		var Xr *mat.Dense
		var yr []int
		Xr, yr, err = imbalance.NewSMOTETomek(
			imbalance.WithKNeighbors(t.cfg.SMOTENeighbors),
			imbalance.WithRandomState(t.cfg.Seed),
		).FitResample(X, y)
		if err != nil {
			return nil, nil, errors.Wrap(err, "resample")
		}
		report.Resampled = len(yr)
		est, err = t.search(ctx, report, t.boostingFactory(), BoostingGrid(), Xr, yr)
	}
	if err != nil {
		return nil, nil, err
	}

	lm, err := NewLabelModel(est)
	if err != nil {
		return nil, nil, err
	}
	report.Kind = lm.Kind
	if report.BestParams == nil {
		report.BestParams = lm.Params()
	}
	report.TopFeatures = topFeatures(lm.FeatureImportances(), t.featureNames, t.cfg.TopFeatures)
	report.Duration = time.Since(start)

	t.logger.Info("label trained",
		log.PhaseKey, log.PhaseTraining,
		log.LabelKey, label,
		log.StrategyKey, string(strategy),
		log.ScoreKey, report.CVScore,
		log.DurationMsKey, report.Duration.Milliseconds(),
	)
	return lm, report, nil
}

func (t *Trainer) fitFixedForest(ctx context.Context, X mat.Matrix, y []int) (model_selection.Estimator, error) {
	rf := ensemble.NewRandomForestClassifier(
		ensemble.WithNEstimators(t.cfg.FixedForest.NEstimators),
		ensemble.WithForestMaxDepth(t.cfg.FixedForest.MaxDepth),
		ensemble.WithForestClassWeight("balanced"),
		ensemble.WithForestRandomState(t.cfg.Seed),
		ensemble.WithNJobs(t.cfg.Workers),
	)
	if err := rf.FitContext(ctx, X, model.ColumnVector(y)); err != nil {
		return nil, err
	}
	return rf, nil
}

func (t *Trainer) forestFactory() model_selection.Factory {
	return func() model_selection.Estimator {
		return ensemble.NewRandomForestClassifier(
			ensemble.WithForestClassWeight("balanced"),
			ensemble.WithForestRandomState(t.cfg.Seed),
			ensemble.WithNJobs(1),
		)
	}
}

func (t *Trainer) boostingFactory() model_selection.Factory {
	return func() model_selection.Estimator {
		return ensemble.NewGradientBoostingClassifier(
			ensemble.WithBoostingClassWeight("balanced"),
			ensemble.WithBoostingRandomState(t.cfg.Seed),
		)
	}
}

func (t *Trainer) search(ctx context.Context, report *LabelReport, factory model_selection.Factory,
	grid model_selection.ParamGrid, X mat.Matrix, y []int) (model_selection.Estimator, error) {
	s := model_selection.NewRandomizedSearchCV(factory, grid,
		model_selection.WithNIter(t.cfg.NIter),
		model_selection.WithCV(model_selection.NewStratifiedKFold(t.cfg.CVFolds, false, t.cfg.Seed)),
		model_selection.WithSearchScorer(model_selection.F1Scorer),
		model_selection.WithSearchErrorScore(0),
		model_selection.WithSearchRandomState(t.cfg.Seed),
		model_selection.WithSearchNJobs(t.cfg.Workers),
	)
	if err := s.Fit(ctx, X, model.ColumnVector(y)); err != nil {
		return nil, err
	}
	report.Searched = true
	report.BestParams = s.BestParams()
	report.CVScore = s.BestScore()
	return s.BestEstimator(), nil
}

// topFeatures returns the k largest importances, ties in column order.
func topFeatures(importances []float64, names []string, k int) []FeatureImportance {
	out := make([]FeatureImportance, len(importances))
	for j, v := range importances {
		name := fmt.Sprintf("x%d", j)
		if j < len(names) {
			name = names[j]
		}
		out[j] = FeatureImportance{Feature: name, Importance: v}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Importance > out[b].Importance })
	if k < len(out) {
		out = out[:k]
	}
	return out
}

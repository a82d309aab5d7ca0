// Package ensemble implements tree ensembles: a bagged random forest and a
// histogram-based gradient boosting classifier.
package ensemble

import (
	"bytes"
	"context"
	"encoding/gob"
	"math"
	"math/rand/v2"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/core/parallel"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
	"github.com/YuminosukeSato/gembaguard/sklearn/tree"
)

// RandomForestClassifier fits bootstrapped decision trees and averages
// their class probabilities. Compatible with scikit-learn's RandomForestClassifier.
type RandomForestClassifier struct {
	state  *model.StateManager
	logger log.Logger

	// Hyperparameters
	nEstimators     int
	criterion       string
	maxDepth        int    // <= 0 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string // "sqrt", "log2", "all" or an integer count
	bootstrap       bool
	classWeight     string // "balanced" or "none"
	randomState     int64
	nJobs           int // <= 0 uses every core

	// Model parameters
	estimators []*tree.DecisionTreeClassifier
	classes_   []int
}

// RandomForestOption is a functional option for RandomForestClassifier.
type RandomForestOption func(*RandomForestClassifier)

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.nEstimators = n }
}

// WithForestCriterion sets the split criterion of every tree.
func WithForestCriterion(criterion string) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.criterion = criterion }
}

// WithForestMaxDepth sets the maximum depth of every tree. Values <= 0 mean unlimited.
func WithForestMaxDepth(depth int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.maxDepth = depth }
}

// WithForestMinSamplesSplit sets min_samples_split of every tree.
func WithForestMinSamplesSplit(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.minSamplesSplit = n }
}

// WithForestMinSamplesLeaf sets min_samples_leaf of every tree.
func WithForestMinSamplesLeaf(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

// WithMaxFeatures sets the features drawn per split: "sqrt", "log2", "all" or a count.
func WithMaxFeatures(maxFeatures string) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.maxFeatures = maxFeatures }
}

// WithBootstrap toggles bootstrap sampling.
func WithBootstrap(enabled bool) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.bootstrap = enabled }
}

// WithForestClassWeight sets class weighting ("balanced" or "none").
// Balanced weights are computed once on the full training labels.
func WithForestClassWeight(weight string) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.classWeight = weight }
}

// WithForestRandomState sets the seed for bootstrap and feature sampling.
func WithForestRandomState(seed int64) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// WithNJobs sets the number of trees fitted concurrently.
func WithNJobs(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.nJobs = n }
}

// NewRandomForestClassifier creates a new RandomForestClassifier.
func NewRandomForestClassifier(opts ...RandomForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		logger:          log.GetLoggerWithName("ensemble.RandomForestClassifier"),
		nEstimators:     100,
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		bootstrap:       true,
		classWeight:     "none",
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

func (rf *RandomForestClassifier) resolveMaxFeatures(p int) (int, error) {
	switch rf.maxFeatures {
	case "sqrt", "auto":
		return max(1, int(math.Sqrt(float64(p)))), nil
	case "log2":
		return max(1, int(math.Log2(float64(p)))), nil
	case "all", "", "none":
		return p, nil
	default:
		n, err := cast.ToIntE(rf.maxFeatures)
		if err != nil || n < 1 {
			return 0, errors.NewValidationError("max_features", "must be sqrt, log2, all or a positive integer", rf.maxFeatures)
		}
		return min(n, p), nil
	}
}

// Fit trains the forest on X (n_samples × n_features) and y (n_samples × 1).
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	return rf.FitContext(context.Background(), X, y)
}

// FitContext is Fit with cancellation between trees.
func (rf *RandomForestClassifier) FitContext(ctx context.Context, X, y mat.Matrix) error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", rf.nEstimators)
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	labels, err := model.BinaryTargets("RandomForestClassifier.Fit", y)
	if err != nil {
		return err
	}
	if len(labels) != r {
		return errors.NewDimensionError("RandomForestClassifier.Fit", r, len(labels), 0)
	}
	maxFeatures, err := rf.resolveMaxFeatures(c)
	if err != nil {
		return err
	}

	data := tree.NewData(X)
	if err := errors.CheckFinite("RandomForestClassifier.Fit", data); err != nil {
		return err
	}
	classes := tree.UniqueClasses(labels)

	classWeight := make([]float64, len(classes))
	for k := range classWeight {
		classWeight[k] = 1
	}
	if rf.classWeight == "balanced" {
		idx := make([]int, len(labels))
		for i, v := range labels {
			for k, cl := range classes {
				if cl == v {
					idx[i] = k
				}
			}
		}
		classWeight = tree.BalancedClassWeights(idx, len(classes), nil)
	}
	baseWeight := make([]float64, r)
	for i, v := range labels {
		for k, cl := range classes {
			if cl == v {
				baseWeight[i] = classWeight[k]
			}
		}
	}

	estimators := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	err = parallel.ForEach(ctx, rf.nEstimators, rf.nJobs, func(_ context.Context, i int) error {
		seed := DeriveSeed(rf.randomState, i)
		weights := make([]float64, r)
		if rf.bootstrap {
			rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
			for k := 0; k < r; k++ {
				weights[rng.IntN(r)]++
			}
			for k := range weights {
				weights[k] *= baseWeight[k]
			}
		} else {
			copy(weights, baseWeight)
		}

		est := tree.NewDecisionTreeClassifier(
			tree.WithCriterion(rf.criterion),
			tree.WithMaxDepth(rf.maxDepth),
			tree.WithMinSamplesSplit(rf.minSamplesSplit),
			tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
			tree.WithMaxFeatures(maxFeatures),
			tree.WithRandomState(seed),
		)
		if err := est.FitData(data, labels, classes, weights); err != nil {
			return errors.Wrapf(err, "tree %d", i)
		}
		estimators[i] = est
		return nil
	})
	if err != nil {
		return err
	}

	rf.estimators = estimators
	rf.classes_ = classes
	rf.state.Reset()
	rf.state.SetDimensions(c, r)
	rf.state.SetFitted()

	if rf.logger.Enabled(ctx, log.LevelDebug) {
		rf.logger.Debug("forest fitted",
			log.OperationKey, log.OperationFit,
			log.SamplesKey, r,
			log.FeaturesKey, c,
			"n_estimators", rf.nEstimators,
		)
	}
	return nil
}

// PredictProba returns the mean class probability of all trees (n_samples × n_classes).
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := rf.state.RequireFeatures("RandomForestClassifier.PredictProba", c); err != nil {
		return nil, err
	}

	nClasses := len(rf.classes_)
	out := mat.NewDense(r, nClasses, nil)
	parallel.ParallelizeWithThreshold(r, 256, func(start, end int) {
		row := make([]float64, c)
		acc := make([]float64, nClasses)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			for k := range acc {
				acc[k] = 0
			}
			for _, est := range rf.estimators {
				for k, v := range est.PredictRow(row) {
					acc[k] += v
				}
			}
			for k := range acc {
				out.Set(i, k, acc[k]/float64(len(rf.estimators)))
			}
		}
	})
	return out, nil
}

// Predict returns the class with the highest mean probability (n_samples × 1).
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxClasses(proba, rf.classes_), nil
}

// Classes returns the class labels seen during fitting.
func (rf *RandomForestClassifier) Classes() []int {
	return append([]int(nil), rf.classes_...)
}

// FeatureImportances returns the mean of the trees' normalized importances.
func (rf *RandomForestClassifier) FeatureImportances() []float64 {
	if len(rf.estimators) == 0 {
		return nil
	}
	nFeatures, _ := rf.state.GetDimensions()
	out := make([]float64, nFeatures)
	for _, est := range rf.estimators {
		for j, v := range est.FeatureImportances() {
			out[j] += v
		}
	}
	total := 0.0
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}

// Estimators returns the fitted trees.
func (rf *RandomForestClassifier) Estimators() []*tree.DecisionTreeClassifier {
	return rf.estimators
}

// IsFitted reports whether Fit has completed.
func (rf *RandomForestClassifier) IsFitted() bool {
	return rf.state.IsFitted()
}

// GetParams returns the model hyperparameters.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"class_weight":      rf.classWeight,
		"random_state":      rf.randomState,
		"n_jobs":            rf.nJobs,
	}
}

// SetParams sets the model hyperparameters. max_depth accepts nil or "none"
// for an unlimited depth.
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			rf.nEstimators, err = cast.ToIntE(value)
		case "criterion":
			rf.criterion, err = cast.ToStringE(value)
		case "max_depth":
			rf.maxDepth, err = toDepth(value)
		case "min_samples_split":
			rf.minSamplesSplit, err = cast.ToIntE(value)
		case "min_samples_leaf":
			rf.minSamplesLeaf, err = cast.ToIntE(value)
		case "max_features":
			rf.maxFeatures, err = cast.ToStringE(value)
		case "bootstrap":
			rf.bootstrap, err = cast.ToBoolE(value)
		case "class_weight":
			rf.classWeight, err = cast.ToStringE(value)
		case "random_state":
			rf.randomState, err = cast.ToInt64E(value)
		case "n_jobs":
			rf.nJobs, err = cast.ToIntE(value)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if err != nil {
			return errors.NewValidationError(key, err.Error(), value)
		}
	}
	return nil
}

type forestSnapshot struct {
	State      model.ModelState
	Params     map[string]string
	Estimators []*tree.DecisionTreeClassifier
	Classes    []int
}

// GobEncode encodes the fitted forest.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	params := make(map[string]string)
	for k, v := range rf.GetParams() {
		params[k] = cast.ToString(v)
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestSnapshot{
		State:      rf.state.GetState(),
		Params:     params,
		Estimators: rf.estimators,
		Classes:    rf.classes_,
	})
	return buf.Bytes(), err
}

// GobDecode restores a forest written by GobEncode.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var snap forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}
	if rf.state == nil {
		*rf = *NewRandomForestClassifier()
	}
	params := make(map[string]interface{}, len(snap.Params))
	for k, v := range snap.Params {
		params[k] = v
	}
	if err := rf.SetParams(params); err != nil {
		return err
	}
	rf.state.SetState(snap.State)
	rf.estimators = snap.Estimators
	rf.classes_ = snap.Classes
	return nil
}

// DeriveSeed returns a per-component seed from a base seed and an index
// (splitmix64), so that results do not depend on fitting order.
func DeriveSeed(base int64, index int) int64 {
	z := uint64(base) + uint64(index+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64((z ^ (z >> 31)) >> 1)
}

func toDepth(value interface{}) (int, error) {
	if value == nil {
		return -1, nil
	}
	if s, ok := value.(string); ok && (s == "none" || s == "None" || s == "") {
		return -1, nil
	}
	return cast.ToIntE(value)
}

package ensemble

import (
	"bytes"
	"context"
	"encoding/gob"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/core/parallel"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// GradientBoostingClassifier is a binary gradient boosting classifier with
// histogram-based, leaf-wise tree growth and logloss, following LightGBM's
// LGBMClassifier defaults.
type GradientBoostingClassifier struct {
	state  *model.StateManager
	logger log.Logger

	// Hyperparameters
	params BoostingParams

	// Model parameters
	trees     []RegressionTree
	initScore float64
	bins      []featureBins
	splits    []int
}

// BoostingParams contains the training hyperparameters.
type BoostingParams struct {
	NEstimators     int     `json:"n_estimators"`
	LearningRate    float64 `json:"learning_rate"`
	NumLeaves       int     `json:"num_leaves"`
	MaxDepth        int     `json:"max_depth"` // <= 0 means unlimited
	MinChildSamples int     `json:"min_child_samples"`
	MinChildWeight  float64 `json:"min_child_weight"` // minimum hessian sum in a leaf
	Lambda          float64 `json:"reg_lambda"`
	MinSplitGain    float64 `json:"min_split_gain"`
	ColsampleByTree float64 `json:"colsample_bytree"`
	MaxBin          int     `json:"max_bin"`
	ClassWeight     string  `json:"class_weight"`
	RandomState     int64   `json:"random_state"`
}

// DefaultBoostingParams returns LightGBM's LGBMClassifier defaults.
func DefaultBoostingParams() BoostingParams {
	return BoostingParams{
		NEstimators:     100,
		LearningRate:    0.1,
		NumLeaves:       31,
		MaxDepth:        -1,
		MinChildSamples: 20,
		MinChildWeight:  1e-3,
		Lambda:          0,
		MinSplitGain:    0,
		ColsampleByTree: 1.0,
		MaxBin:          255,
		ClassWeight:     "none",
	}
}

// RegressionTree is one boosting round. Leaf values already include the learning rate.
type RegressionTree struct {
	Nodes []RegressionNode
}

// RegressionNode is a node of a RegressionTree. Leaves have Left == -1.
type RegressionNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

func (t *RegressionTree) predict(row []float64) float64 {
	n := &t.Nodes[0]
	for n.Left >= 0 {
		if row[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.Value
}

// GradientBoostingOption is a functional option for GradientBoostingClassifier.
type GradientBoostingOption func(*BoostingParams)

// WithBoostingRounds sets the number of boosting rounds.
func WithBoostingRounds(n int) GradientBoostingOption {
	return func(p *BoostingParams) { p.NEstimators = n }
}

// WithLearningRate sets the shrinkage applied to every leaf value.
func WithLearningRate(lr float64) GradientBoostingOption {
	return func(p *BoostingParams) { p.LearningRate = lr }
}

// WithNumLeaves sets the maximum number of leaves per tree.
func WithNumLeaves(n int) GradientBoostingOption {
	return func(p *BoostingParams) { p.NumLeaves = n }
}

// WithBoostingMaxDepth sets the maximum tree depth. Values <= 0 mean unlimited.
func WithBoostingMaxDepth(depth int) GradientBoostingOption {
	return func(p *BoostingParams) { p.MaxDepth = depth }
}

// WithMinChildSamples sets the minimum number of samples in a leaf.
func WithMinChildSamples(n int) GradientBoostingOption {
	return func(p *BoostingParams) { p.MinChildSamples = n }
}

// WithLambda sets the L2 regularization on leaf values.
func WithLambda(lambda float64) GradientBoostingOption {
	return func(p *BoostingParams) { p.Lambda = lambda }
}

// WithColsampleByTree sets the fraction of features drawn for each tree.
func WithColsampleByTree(fraction float64) GradientBoostingOption {
	return func(p *BoostingParams) { p.ColsampleByTree = fraction }
}

// WithBoostingClassWeight sets class weighting ("balanced" or "none").
func WithBoostingClassWeight(weight string) GradientBoostingOption {
	return func(p *BoostingParams) { p.ClassWeight = weight }
}

// WithBoostingRandomState sets the seed for column subsampling.
func WithBoostingRandomState(seed int64) GradientBoostingOption {
	return func(p *BoostingParams) { p.RandomState = seed }
}

// NewGradientBoostingClassifier creates a new GradientBoostingClassifier.
func NewGradientBoostingClassifier(opts ...GradientBoostingOption) *GradientBoostingClassifier {
	params := DefaultBoostingParams()
	for _, opt := range opts {
		opt(&params)
	}
	return &GradientBoostingClassifier{
		state:  model.NewStateManager(),
		logger: log.GetLoggerWithName("ensemble.GradientBoostingClassifier"),
		params: params,
	}
}

func (p BoostingParams) validate() error {
	switch {
	case p.NEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be >= 1", p.NEstimators)
	case p.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be > 0", p.LearningRate)
	case p.NumLeaves < 2:
		return errors.NewValidationError("num_leaves", "must be >= 2", p.NumLeaves)
	case p.MinChildSamples < 1:
		return errors.NewValidationError("min_child_samples", "must be >= 1", p.MinChildSamples)
	case p.ColsampleByTree <= 0 || p.ColsampleByTree > 1:
		return errors.NewValidationError("colsample_bytree", "must be in (0, 1]", p.ColsampleByTree)
	case p.MaxBin < 2:
		return errors.NewValidationError("max_bin", "must be >= 2", p.MaxBin)
	}
	switch p.ClassWeight {
	case "balanced", "none", "":
		return nil
	default:
		return errors.NewValidationError("class_weight", "must be 'balanced' or 'none'", p.ClassWeight)
	}
}

// featureBins holds the upper bounds of every bin but the last of a feature.
// A value v falls into bin sort.SearchFloat64s(bounds, v).
type featureBins struct {
	Bounds []float64
}

func (b featureBins) nBins() int { return len(b.Bounds) + 1 }

func (b featureBins) bin(v float64) int {
	return sort.SearchFloat64s(b.Bounds, v)
}

// buildBins places bin boundaries at midpoints between distinct values, or
// at quantiles of the distinct values when there are more than maxBin.
func buildBins(col []float64, maxBin int) featureBins {
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)
	distinct := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) <= 1 {
		return featureBins{}
	}

	var cuts []int // boundary after distinct[k]
	if len(distinct) <= maxBin {
		cuts = make([]int, len(distinct)-1)
		for k := range cuts {
			cuts[k] = k
		}
	} else {
		for b := 1; b < maxBin; b++ {
			k := b*len(distinct)/maxBin - 1
			if len(cuts) == 0 || k > cuts[len(cuts)-1] {
				cuts = append(cuts, k)
			}
		}
	}
	bounds := make([]float64, len(cuts))
	for i, k := range cuts {
		lo, hi := distinct[k], distinct[k+1]
		mid := lo + (hi-lo)/2
		if mid >= hi {
			mid = lo
		}
		bounds[i] = mid
	}
	return featureBins{Bounds: bounds}
}

type histBin struct {
	grad, hess float64
	count      int
}

type leafCandidate struct {
	samples []int
	depth   int
	node    int
	grad    float64
	hess    float64

	// best split
	gain       float64
	feature    int
	bin        int
	leftGrad   float64
	leftHess   float64
	leftCount  int
	splittable bool
}

// Fit trains the booster on X (n_samples × n_features) and binary y (n_samples × 1).
func (gb *GradientBoostingClassifier) Fit(X, y mat.Matrix) error {
	return gb.FitContext(context.Background(), X, y)
}

// FitContext is Fit with cancellation between boosting rounds.
func (gb *GradientBoostingClassifier) FitContext(ctx context.Context, X, y mat.Matrix) error {
	p := gb.params
	if err := p.validate(); err != nil {
		return err
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("GradientBoostingClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	labels, err := model.BinaryTargets("GradientBoostingClassifier.Fit", y)
	if err != nil {
		return err
	}
	if len(labels) != r {
		return errors.NewDimensionError("GradientBoostingClassifier.Fit", r, len(labels), 0)
	}
	if err := errors.CheckFinite("GradientBoostingClassifier.Fit", X); err != nil {
		return err
	}

	nPos := 0
	for _, v := range labels {
		nPos += v
	}
	if nPos == 0 || nPos == r {
		return errors.NewModelError("GradientBoostingClassifier.Fit", "binary target", errors.ErrSingleClass)
	}

	// sample weights
	w := make([]float64, r)
	for i := range w {
		w[i] = 1
	}
	if p.ClassWeight == "balanced" {
		wPos := float64(r) / (2 * float64(nPos))
		wNeg := float64(r) / (2 * float64(r-nPos))
		for i, v := range labels {
			if v == 1 {
				w[i] = wPos
			} else {
				w[i] = wNeg
			}
		}
	}

	// binning
	bins := make([]featureBins, c)
	binned := make([][]uint16, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		bins[j] = buildBins(col, p.MaxBin)
		binned[j] = make([]uint16, r)
		for i, v := range col {
			binned[j][i] = uint16(bins[j].bin(v))
		}
	}

	// init score: log-odds of the weighted prior
	sumW, sumWY := 0.0, 0.0
	for i, v := range labels {
		sumW += w[i]
		sumWY += w[i] * float64(v)
	}
	prior := errors.ClipValue(sumWY/sumW, 1e-15, 1-1e-15)
	initScore := math.Log(prior / (1 - prior))

	raw := make([]float64, r)
	for i := range raw {
		raw[i] = initScore
	}
	grad := make([]float64, r)
	hess := make([]float64, r)
	splits := make([]int, c)
	rng := rand.New(rand.NewPCG(uint64(p.RandomState), uint64(p.RandomState)))

	g := &growContext{
		params: p,
		binned: binned,
		bins:   bins,
		grad:   grad,
		hess:   hess,
		splits: splits,
	}

	trees := make([]RegressionTree, 0, p.NEstimators)
	for iter := 0; iter < p.NEstimators; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, v := range labels {
			prob := errors.Sigmoid(raw[i])
			grad[i] = (prob - float64(v)) * w[i]
			hess[i] = math.Max(prob*(1-prob), 1e-16) * w[i]
		}
		g.features = sampleFeatures(rng, c, p.ColsampleByTree)

		t, leafOf := g.growTree(r)
		trees = append(trees, t)
		for i := range raw {
			raw[i] += t.Nodes[leafOf[i]].Value
		}
	}

	gb.trees = trees
	gb.initScore = initScore
	gb.bins = bins
	gb.splits = splits
	gb.state.Reset()
	gb.state.SetDimensions(c, r)
	gb.state.SetFitted()

	if gb.logger.Enabled(ctx, log.LevelDebug) {
		gb.logger.Debug("booster fitted",
			log.OperationKey, log.OperationFit,
			log.SamplesKey, r,
			log.FeaturesKey, c,
			"n_estimators", p.NEstimators,
		)
	}
	return nil
}

func sampleFeatures(rng *rand.Rand, p int, fraction float64) []int {
	features := make([]int, p)
	for j := range features {
		features[j] = j
	}
	if fraction >= 1 {
		return features
	}
	k := max(1, int(math.Round(fraction*float64(p))))
	rng.Shuffle(p, func(a, b int) { features[a], features[b] = features[b], features[a] })
	chosen := features[:k]
	sort.Ints(chosen)
	return chosen
}

type growContext struct {
	params   BoostingParams
	binned   [][]uint16
	bins     []featureBins
	grad     []float64
	hess     []float64
	features []int
	splits   []int
}

// histogramParallelMin is the leaf size above which histograms are built
// concurrently per feature.
const histogramParallelMin = 4096

// growTree grows one tree best-first until NumLeaves is reached or no leaf
// has a positive gain. It returns the tree and the leaf node of every sample.
func (g *growContext) growTree(n int) (RegressionTree, []int) {
	p := g.params
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	leafOf := make([]int, n)

	var t RegressionTree
	root := g.newLeaf(&t, all, 0)
	leaves := []*leafCandidate{root}

	for nLeaves := 1; nLeaves < p.NumLeaves; nLeaves++ {
		bestIdx := -1
		for k, l := range leaves {
			if l.splittable && (bestIdx < 0 || l.gain > leaves[bestIdx].gain) {
				bestIdx = k
			}
		}
		if bestIdx < 0 {
			break
		}
		l := leaves[bestIdx]
		bound := g.bins[l.feature].Bounds[l.bin]

		var left, right []int
		for _, s := range l.samples {
			if int(g.binned[l.feature][s]) <= l.bin {
				left = append(left, s)
			} else {
				right = append(right, s)
			}
		}
		g.splits[l.feature]++

		ln := g.newLeaf(&t, left, l.depth+1)
		rn := g.newLeaf(&t, right, l.depth+1)
		node := &t.Nodes[l.node]
		node.Feature = l.feature
		node.Threshold = bound
		node.Left = ln.node
		node.Right = rn.node

		leaves[bestIdx] = ln
		leaves = append(leaves, rn)
	}

	for _, l := range leaves {
		for _, s := range l.samples {
			leafOf[s] = l.node
		}
	}
	return t, leafOf
}

// newLeaf appends a leaf node for samples and evaluates its best split.
func (g *growContext) newLeaf(t *RegressionTree, samples []int, depth int) *leafCandidate {
	p := g.params
	l := &leafCandidate{samples: samples, depth: depth, node: len(t.Nodes)}
	for _, s := range samples {
		l.grad += g.grad[s]
		l.hess += g.hess[s]
	}
	t.Nodes = append(t.Nodes, RegressionNode{
		Feature: -1,
		Left:    -1,
		Right:   -1,
		Value:   p.LearningRate * leafValue(l.grad, l.hess, p.Lambda),
	})

	if (p.MaxDepth > 0 && depth >= p.MaxDepth) || len(samples) < 2*p.MinChildSamples {
		return l
	}

	results := make([]leafCandidate, len(g.features))
	evaluate := func(start, end int) {
		for k := start; k < end; k++ {
			results[k] = g.bestSplitForFeature(l, g.features[k])
		}
	}
	if len(samples) >= histogramParallelMin {
		parallel.Parallelize(len(g.features), evaluate)
	} else {
		evaluate(0, len(g.features))
	}

	// ties go to the lowest feature index
	for _, res := range results {
		if res.splittable && (!l.splittable || res.gain > l.gain) {
			l.splittable = true
			l.gain = res.gain
			l.feature = res.feature
			l.bin = res.bin
			l.leftGrad = res.leftGrad
			l.leftHess = res.leftHess
			l.leftCount = res.leftCount
		}
	}
	return l
}

func (g *growContext) bestSplitForFeature(l *leafCandidate, feature int) leafCandidate {
	p := g.params
	best := leafCandidate{feature: feature}
	nBins := g.bins[feature].nBins()
	if nBins < 2 {
		return best
	}

	hist := make([]histBin, nBins)
	col := g.binned[feature]
	for _, s := range l.samples {
		b := &hist[col[s]]
		b.grad += g.grad[s]
		b.hess += g.hess[s]
		b.count++
	}

	var lg, lh float64
	lc := 0
	n := len(l.samples)
	for b := 0; b < nBins-1; b++ {
		lg += hist[b].grad
		lh += hist[b].hess
		lc += hist[b].count
		rc := n - lc
		if lc < p.MinChildSamples {
			continue
		}
		if rc < p.MinChildSamples {
			break
		}
		rg, rh := l.grad-lg, l.hess-lh
		if lh < p.MinChildWeight || rh < p.MinChildWeight {
			continue
		}
		gain := splitGain(lg, lh, rg, rh, l.grad, l.hess, p.Lambda)
		if gain > p.MinSplitGain && (!best.splittable || gain > best.gain) {
			best.splittable = true
			best.gain = gain
			best.bin = b
			best.leftGrad = lg
			best.leftHess = lh
			best.leftCount = lc
		}
	}
	return best
}

// splitGain is 0.5 * (GL²/(HL+λ) + GR²/(HR+λ) - G²/(H+λ)).
func splitGain(leftGrad, leftHess, rightGrad, rightHess, totalGrad, totalHess, lambda float64) float64 {
	leftScore := (leftGrad * leftGrad) / (leftHess + lambda)
	rightScore := (rightGrad * rightGrad) / (rightHess + lambda)
	totalScore := (totalGrad * totalGrad) / (totalHess + lambda)
	return 0.5 * (leftScore + rightScore - totalScore)
}

// leafValue is the Newton step -G/(H+λ).
func leafValue(sumGrad, sumHess, lambda float64) float64 {
	const epsilon = 1e-10
	return -sumGrad / (sumHess + lambda + epsilon)
}

// DecisionFunction returns the raw log-odds score of each sample.
func (gb *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) ([]float64, error) {
	if err := gb.state.RequireFitted("GradientBoostingClassifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := gb.state.RequireFeatures("GradientBoostingClassifier.DecisionFunction", c); err != nil {
		return nil, err
	}
	out := make([]float64, r)
	parallel.ParallelizeWithThreshold(r, 256, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			score := gb.initScore
			for k := range gb.trees {
				score += gb.trees[k].predict(row)
			}
			out[i] = score
		}
	})
	return out, nil
}

// PredictProba returns [P(y=0), P(y=1)] for each sample.
func (gb *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	raw, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(raw), 2, nil)
	for i, s := range raw {
		p := errors.Sigmoid(s)
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// Predict returns 1 where P(y=1) > 0.5 (n_samples × 1).
func (gb *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	raw, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(raw), 1, nil)
	for i, s := range raw {
		if s > 0 {
			out.Set(i, 0, 1)
		}
	}
	return out, nil
}

// Classes returns [0 1].
func (gb *GradientBoostingClassifier) Classes() []int {
	return []int{0, 1}
}

// SplitCounts returns how many splits used each feature.
func (gb *GradientBoostingClassifier) SplitCounts() []int {
	return append([]int(nil), gb.splits...)
}

// FeatureImportances returns split counts normalized to sum 1.
func (gb *GradientBoostingClassifier) FeatureImportances() []float64 {
	out := make([]float64, len(gb.splits))
	total := 0
	for _, s := range gb.splits {
		total += s
	}
	if total == 0 {
		return out
	}
	for j, s := range gb.splits {
		out[j] = float64(s) / float64(total)
	}
	return out
}

// NTrees returns the number of fitted boosting rounds.
func (gb *GradientBoostingClassifier) NTrees() int {
	return len(gb.trees)
}

// IsFitted reports whether Fit has completed.
func (gb *GradientBoostingClassifier) IsFitted() bool {
	return gb.state.IsFitted()
}

// Params returns a copy of the hyperparameters.
func (gb *GradientBoostingClassifier) Params() BoostingParams {
	return gb.params
}

// GetParams returns the model hyperparameters.
func (gb *GradientBoostingClassifier) GetParams() map[string]interface{} {
	p := gb.params
	return map[string]interface{}{
		"n_estimators":      p.NEstimators,
		"learning_rate":     p.LearningRate,
		"num_leaves":        p.NumLeaves,
		"max_depth":         p.MaxDepth,
		"min_child_samples": p.MinChildSamples,
		"min_child_weight":  p.MinChildWeight,
		"reg_lambda":        p.Lambda,
		"min_split_gain":    p.MinSplitGain,
		"colsample_bytree":  p.ColsampleByTree,
		"max_bin":           p.MaxBin,
		"class_weight":      p.ClassWeight,
		"random_state":      p.RandomState,
	}
}

// SetParams sets the model hyperparameters.
func (gb *GradientBoostingClassifier) SetParams(params map[string]interface{}) error {
	p := &gb.params
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			p.NEstimators, err = cast.ToIntE(value)
		case "learning_rate":
			p.LearningRate, err = cast.ToFloat64E(value)
		case "num_leaves":
			p.NumLeaves, err = cast.ToIntE(value)
		case "max_depth":
			p.MaxDepth, err = toDepth(value)
		case "min_child_samples":
			p.MinChildSamples, err = cast.ToIntE(value)
		case "min_child_weight":
			p.MinChildWeight, err = cast.ToFloat64E(value)
		case "reg_lambda":
			p.Lambda, err = cast.ToFloat64E(value)
		case "min_split_gain":
			p.MinSplitGain, err = cast.ToFloat64E(value)
		case "colsample_bytree":
			p.ColsampleByTree, err = cast.ToFloat64E(value)
		case "max_bin":
			p.MaxBin, err = cast.ToIntE(value)
		case "class_weight":
			p.ClassWeight, err = cast.ToStringE(value)
		case "random_state":
			p.RandomState, err = cast.ToInt64E(value)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if err != nil {
			return errors.NewValidationError(key, err.Error(), value)
		}
	}
	return nil
}

type boostingSnapshot struct {
	State     model.ModelState
	Params    BoostingParams
	Trees     []RegressionTree
	InitScore float64
	Bins      []featureBins
	Splits    []int
}

// GobEncode encodes the fitted booster.
func (gb *GradientBoostingClassifier) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(boostingSnapshot{
		State:     gb.state.GetState(),
		Params:    gb.params,
		Trees:     gb.trees,
		InitScore: gb.initScore,
		Bins:      gb.bins,
		Splits:    gb.splits,
	})
	return buf.Bytes(), err
}

// GobDecode restores a booster written by GobEncode.
func (gb *GradientBoostingClassifier) GobDecode(data []byte) error {
	var snap boostingSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}
	if gb.state == nil {
		*gb = *NewGradientBoostingClassifier()
	}
	gb.state.SetState(snap.State)
	gb.params = snap.Params
	gb.trees = snap.Trees
	gb.initScore = snap.InitScore
	gb.bins = snap.Bins
	gb.splits = snap.Splits
	return nil
}

// Package tree implements CART decision trees for classification.
package tree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// DecisionTreeClassifier implements a CART classification tree.
// Compatible with scikit-learn's DecisionTreeClassifier.
type DecisionTreeClassifier struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	criterion       string // Split quality: "gini" or "entropy"
	maxDepth        int    // Maximum depth, <= 0 means unlimited
	minSamplesSplit int    // Minimum samples required to split a node
	minSamplesLeaf  int    // Minimum samples required in each leaf
	maxFeatures     int    // Features considered per split, <= 0 means all
	classWeight     string // "balanced" or "none"
	randomState     int64  // Seed for feature subsampling

	// Model parameters
	nodes               []Node
	classes_            []int
	nClasses_           int
	nFeatures_          int
	featureImportances_ []float64
}

// Node is a node of a fitted tree stored in a flat slice.
// Leaves have Left == Right == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64 // weighted class distribution, normalized
	Impurity  float64
	NSamples  int
	Weight    float64
	Depth     int
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.Left < 0
}

// DecisionTreeOption is a functional option for DecisionTreeClassifier.
type DecisionTreeOption func(*DecisionTreeClassifier)

// WithCriterion sets the split criterion ("gini" or "entropy").
func WithCriterion(criterion string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.criterion = criterion
	}
}

// WithMaxDepth sets the maximum depth of the tree. Values <= 0 mean unlimited.
func WithMaxDepth(depth int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum number of samples required to split a node.
func WithMinSamplesSplit(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum number of samples required in a leaf.
func WithMinSamplesLeaf(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesLeaf = n
	}
}

// WithMaxFeatures sets how many features are drawn at each split. Values <= 0 mean all.
func WithMaxFeatures(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.maxFeatures = n
	}
}

// WithClassWeight sets the class weighting ("balanced" or "none").
func WithClassWeight(weight string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.classWeight = weight
	}
}

// WithRandomState sets the seed used for feature subsampling.
func WithRandomState(seed int64) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.randomState = seed
	}
}

// NewDecisionTreeClassifier creates a new DecisionTreeClassifier.
func NewDecisionTreeClassifier(opts ...DecisionTreeOption) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     -1,
		classWeight:     "none",
		randomState:     0,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

func (dt *DecisionTreeClassifier) validate() error {
	switch dt.criterion {
	case "gini", "entropy":
	default:
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.criterion)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.minSamplesLeaf)
	}
	switch dt.classWeight {
	case "balanced", "none", "":
	default:
		return errors.NewValidationError("class_weight", "must be 'balanced' or 'none'", dt.classWeight)
	}
	return nil
}

// Fit builds the tree from X (n_samples × n_features) and y (n_samples × 1).
// Class labels are any non-negative integers stored as float64.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	r, _ := X.Dims()
	ry, cy := y.Dims()
	if cy != 1 {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", 1, cy, 1)
	}
	if r != ry {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", r, ry, 0)
	}
	labels := make([]int, ry)
	for i := range labels {
		labels[i] = int(y.At(i, 0))
	}
	return dt.FitData(NewData(X), labels, UniqueClasses(labels), nil)
}

// FitData builds the tree from pre-converted data. classes fixes the class
// set and the column order of PredictProba, so ensembles whose members see
// different bootstrap samples stay aligned. sampleWeight may be nil; samples
// with zero weight are ignored.
func (dt *DecisionTreeClassifier) FitData(data *Data, y []int, classes []int, sampleWeight []float64) error {
	if err := dt.validate(); err != nil {
		return err
	}
	if data.NSamples() == 0 || data.NFeatures() == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if len(y) != data.NSamples() {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", data.NSamples(), len(y), 0)
	}
	if sampleWeight != nil && len(sampleWeight) != len(y) {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", len(y), len(sampleWeight), 0)
	}
	if err := errors.CheckFinite("DecisionTreeClassifier.Fit", data); err != nil {
		return err
	}

	classIndex := make(map[int]int, len(classes))
	for k, c := range classes {
		classIndex[c] = k
	}
	yIdx := make([]int, len(y))
	for i, label := range y {
		k, ok := classIndex[label]
		if !ok {
			return errors.NewValueError("DecisionTreeClassifier.Fit", fmt.Sprintf("label %d not in classes %v", label, classes))
		}
		yIdx[i] = k
	}

	weights := make([]float64, len(y))
	for i := range weights {
		weights[i] = 1
		if sampleWeight != nil {
			weights[i] = sampleWeight[i]
		}
	}
	if dt.classWeight == "balanced" {
		cw := BalancedClassWeights(yIdx, len(classes), nil)
		for i, k := range yIdx {
			weights[i] *= cw[k]
		}
	}

	b := &builder{
		data:            data,
		y:               yIdx,
		w:               weights,
		nClasses:        len(classes),
		criterion:       dt.criterion,
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		maxFeatures:     dt.maxFeatures,
		rng:             rand.New(rand.NewPCG(uint64(dt.randomState), uint64(dt.randomState))),
	}
	nodes, importances := b.build()

	dt.nodes = nodes
	dt.classes_ = append([]int(nil), classes...)
	dt.nClasses_ = len(classes)
	dt.nFeatures_ = data.NFeatures()
	dt.featureImportances_ = importances

	dt.state.Reset()
	dt.state.SetDimensions(data.NFeatures(), data.NSamples())
	dt.state.SetFitted()
	return nil
}

// PredictProba returns the class probability of each sample (n_samples × n_classes).
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := dt.state.RequireFeatures("DecisionTreeClassifier.PredictProba", c); err != nil {
		return nil, err
	}

	out := mat.NewDense(r, dt.nClasses_, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.SetRow(i, dt.leafFor(row).Value)
	}
	return out, nil
}

// Predict returns the most probable class of each sample (n_samples × 1).
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return ArgmaxClasses(proba, dt.classes_), nil
}

// Score returns the mean accuracy on the given data. It returns 0 when
// prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	r, _ := y.Dims()
	if r == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < r; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(r)
}

// PredictRow returns the leaf distribution for a single sample without
// allocating a matrix. The returned slice must not be modified.
func (dt *DecisionTreeClassifier) PredictRow(row []float64) []float64 {
	return dt.leafFor(row).Value
}

func (dt *DecisionTreeClassifier) leafFor(row []float64) *Node {
	n := &dt.nodes[0]
	for !n.IsLeaf() {
		if row[n.Feature] <= n.Threshold {
			n = &dt.nodes[n.Left]
		} else {
			n = &dt.nodes[n.Right]
		}
	}
	return n
}

// Classes returns the class labels seen during fitting, in ascending order.
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.classes_...)
}

// GetFeatureImportances returns the normalized total impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// FeatureImportances implements model.FeatureImporter.
func (dt *DecisionTreeClassifier) FeatureImportances() []float64 {
	return dt.GetFeatureImportances()
}

// GetDepth returns the depth of the deepest leaf.
func (dt *DecisionTreeClassifier) GetDepth() int {
	depth := 0
	for i := range dt.nodes {
		if dt.nodes[i].Depth > depth {
			depth = dt.nodes[i].Depth
		}
	}
	return depth
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	n := 0
	for i := range dt.nodes {
		if dt.nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// GetParams returns the model hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"max_features":      dt.maxFeatures,
		"class_weight":      dt.classWeight,
		"random_state":      dt.randomState,
	}
}

// SetParams sets the model hyperparameters.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "criterion":
			dt.criterion, err = cast.ToStringE(value)
		case "max_depth":
			dt.maxDepth, err = toDepth(value)
		case "min_samples_split":
			dt.minSamplesSplit, err = cast.ToIntE(value)
		case "min_samples_leaf":
			dt.minSamplesLeaf, err = cast.ToIntE(value)
		case "max_features":
			dt.maxFeatures, err = cast.ToIntE(value)
		case "class_weight":
			dt.classWeight, err = cast.ToStringE(value)
		case "random_state":
			dt.randomState, err = cast.ToInt64E(value)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if err != nil {
			return errors.NewValidationError(key, err.Error(), value)
		}
	}
	return nil
}

// toDepth accepts an integer or nil/"none" for an unlimited depth.
func toDepth(value interface{}) (int, error) {
	if value == nil {
		return -1, nil
	}
	if s, ok := value.(string); ok && (s == "none" || s == "None") {
		return -1, nil
	}
	return cast.ToIntE(value)
}

// UniqueClasses returns the sorted distinct labels of y.
func UniqueClasses(y []int) []int {
	seen := make(map[int]bool)
	var classes []int
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			classes = append(classes, v)
		}
	}
	sort.Ints(classes)
	return classes
}

// BalancedClassWeights returns n_samples / (n_classes * count_k) for every
// class index k of y, as scikit-learn's class_weight="balanced". Counts use
// sampleWeight when given. Classes absent from y get weight 1.
func BalancedClassWeights(y []int, nClasses int, sampleWeight []float64) []float64 {
	counts := make([]float64, nClasses)
	total := 0.0
	for i, k := range y {
		w := 1.0
		if sampleWeight != nil {
			w = sampleWeight[i]
		}
		counts[k] += w
		total += w
	}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	out := make([]float64, nClasses)
	for k, c := range counts {
		if c > 0 {
			out[k] = total / (float64(present) * c)
		} else {
			out[k] = 1
		}
	}
	return out
}

// ArgmaxClasses maps each row of proba to the class with the highest
// probability. Ties go to the first class.
func ArgmaxClasses(proba mat.Matrix, classes []int) *mat.Dense {
	r, c := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(classes[best]))
	}
	return out
}

type treeSnapshot struct {
	State              model.ModelState
	Params             treeParams
	Nodes              []Node
	Classes            []int
	NFeatures          int
	FeatureImportances []float64
}

type treeParams struct {
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	ClassWeight     string
	RandomState     int64
}

// GobEncode encodes the fitted tree.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(treeSnapshot{
		State: dt.state.GetState(),
		Params: treeParams{
			Criterion:       dt.criterion,
			MaxDepth:        dt.maxDepth,
			MinSamplesSplit: dt.minSamplesSplit,
			MinSamplesLeaf:  dt.minSamplesLeaf,
			MaxFeatures:     dt.maxFeatures,
			ClassWeight:     dt.classWeight,
			RandomState:     dt.randomState,
		},
		Nodes:              dt.nodes,
		Classes:            dt.classes_,
		NFeatures:          dt.nFeatures_,
		FeatureImportances: dt.featureImportances_,
	})
	return buf.Bytes(), err
}

// GobDecode restores a tree written by GobEncode.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var snap treeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}
	if dt.state == nil {
		dt.state = model.NewStateManager()
	}
	dt.state.SetState(snap.State)
	dt.criterion = snap.Params.Criterion
	dt.maxDepth = snap.Params.MaxDepth
	dt.minSamplesSplit = snap.Params.MinSamplesSplit
	dt.minSamplesLeaf = snap.Params.MinSamplesLeaf
	dt.maxFeatures = snap.Params.MaxFeatures
	dt.classWeight = snap.Params.ClassWeight
	dt.randomState = snap.Params.RandomState
	dt.nodes = snap.Nodes
	dt.classes_ = snap.Classes
	dt.nClasses_ = len(snap.Classes)
	dt.nFeatures_ = snap.NFeatures
	dt.featureImportances_ = snap.FeatureImportances
	return nil
}

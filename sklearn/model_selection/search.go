package model_selection

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/core/parallel"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// ParamGrid maps a hyperparameter name to its candidate values.
type ParamGrid map[string][]interface{}

// Size returns the number of points in the grid.
func (g ParamGrid) Size() int {
	if len(g) == 0 {
		return 0
	}
	n := 1
	for _, values := range g {
		n *= len(values)
	}
	return n
}

func (g ParamGrid) keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// At returns grid point i. Keys are ordered by name and the last key varies
// fastest, as in scikit-learn's ParameterGrid.
func (g ParamGrid) At(i int) map[string]interface{} {
	keys := g.keys()
	point := make(map[string]interface{}, len(keys))
	for k := len(keys) - 1; k >= 0; k-- {
		values := g[keys[k]]
		point[keys[k]] = values[i%len(values)]
		i /= len(values)
	}
	return point
}

// SampleParams draws nIter distinct grid points without replacement, in
// draw order. The full grid is returned in grid order when it has at most
// nIter points.
func SampleParams(grid ParamGrid, nIter int, randomState int64) []map[string]interface{} {
	total := grid.Size()
	if total == 0 {
		return nil
	}
	var order []int
	if total <= nIter {
		order = make([]int, total)
		for i := range order {
			order[i] = i
		}
	} else {
		order = newRand(randomState).Perm(total)[:nIter]
	}
	out := make([]map[string]interface{}, len(order))
	for k, i := range order {
		out[k] = grid.At(i)
	}
	return out
}

// CandidateResult is the cross-validation outcome of one sampled candidate.
type CandidateResult struct {
	Params    map[string]interface{}
	Scores    []float64
	MeanScore float64
	StdScore  float64
	Rank      int
	// Err is set when at least one fold failed and was assigned the error score.
	Err error
}

// RandomizedSearchCV evaluates a random sample of a parameter grid with
// cross-validation and refits the best candidate on the full data.
type RandomizedSearchCV struct {
	factory    Factory
	grid       ParamGrid
	nIter      int
	cv         Splitter
	scorer     Scorer
	errorScore float64
	seed       int64
	nJobs      int
	refit      bool
	logger     log.Logger

	results       []CandidateResult
	bestIndex     int
	bestEstimator Estimator
	refitTime     time.Duration
}

// SearchOption is a functional option for RandomizedSearchCV.
type SearchOption func(*RandomizedSearchCV)

// WithNIter sets the number of sampled candidates (default 10).
func WithNIter(n int) SearchOption {
	return func(s *RandomizedSearchCV) { s.nIter = n }
}

// WithCV sets the splitter (default 5-fold stratified, unshuffled).
func WithCV(cv Splitter) SearchOption {
	return func(s *RandomizedSearchCV) { s.cv = cv }
}

// WithSearchScorer sets the candidate scorer (default F1Scorer).
func WithSearchScorer(scorer Scorer) SearchOption {
	return func(s *RandomizedSearchCV) { s.scorer = scorer }
}

// WithSearchErrorScore sets the score of folds whose fit fails (default 0).
func WithSearchErrorScore(score float64) SearchOption {
	return func(s *RandomizedSearchCV) { s.errorScore = score }
}

// WithSearchRandomState sets the seed used to sample candidates.
func WithSearchRandomState(seed int64) SearchOption {
	return func(s *RandomizedSearchCV) { s.seed = seed }
}

// WithSearchNJobs sets the number of candidates evaluated concurrently.
func WithSearchNJobs(n int) SearchOption {
	return func(s *RandomizedSearchCV) { s.nJobs = n }
}

// WithRefit toggles refitting the best candidate on the full data (default true).
func WithRefit(refit bool) SearchOption {
	return func(s *RandomizedSearchCV) { s.refit = refit }
}

// NewRandomizedSearchCV creates a search over grid. factory must return a
// fresh estimator on every call.
func NewRandomizedSearchCV(factory Factory, grid ParamGrid, opts ...SearchOption) *RandomizedSearchCV {
	s := &RandomizedSearchCV{
		factory:   factory,
		grid:      grid,
		nIter:     10,
		cv:        NewStratifiedKFold(5, false, 0),
		scorer:    F1Scorer,
		refit:     true,
		logger:    log.GetLoggerWithName("model_selection.RandomizedSearchCV"),
		bestIndex: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fit runs the search. Candidates are scored concurrently; each candidate's
// folds run sequentially. Ties in mean score go to the candidate sampled first.
func (s *RandomizedSearchCV) Fit(ctx context.Context, X, y mat.Matrix) error {
	if s.nIter < 1 {
		return errors.NewValidationError("n_iter", "must be >= 1", s.nIter)
	}
	labels, err := model.BinaryTargets("RandomizedSearchCV.Fit", y)
	if err != nil {
		return err
	}
	candidates := SampleParams(s.grid, s.nIter, s.seed)
	if len(candidates) == 0 {
		return errors.NewValidationError("param_grid", "must not be empty", s.grid)
	}

	results := make([]CandidateResult, len(candidates))
	err = parallel.ForEach(ctx, len(candidates), s.nJobs, func(ctx context.Context, i int) error {
		res, err := CrossValidate(ctx, s.factory, candidates[i], X, labels, s.cv,
			WithScorer(s.scorer), WithErrorScore(s.errorScore), WithWorkers(1))
		if err != nil {
			return err
		}
		results[i] = CandidateResult{
			Params:    candidates[i],
			Scores:    res.TestScores,
			MeanScore: res.GetMeanScore(),
			StdScore:  res.GetStdScore(),
		}
		for _, ferr := range res.FoldErrors {
			if ferr != nil {
				results[i].Err = ferr
				s.logger.Warn("candidate fit failed; scored with error score",
					log.CandidateKey, i,
					log.HyperParamsKey, candidates[i],
					log.ScoreKey, s.errorScore,
					"error", ferr,
				)
				break
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	best := 0
	for i := range results {
		if results[i].MeanScore > results[best].MeanScore {
			best = i
		}
	}
	rankResults(results)
	s.results = results
	s.bestIndex = best

	s.logger.Debug("search finished",
		log.CandidateKey, len(results),
		log.HyperParamsKey, results[best].Params,
		log.ScoreKey, results[best].MeanScore,
	)

	if !s.refit {
		return nil
	}
	start := time.Now()
	est := s.factory()
	if err := est.SetParams(results[best].Params); err != nil {
		return err
	}
	if err := errors.SafeExecute("RandomizedSearchCV.refit", func() error {
		return est.Fit(X, y)
	}); err != nil {
		return errors.Wrap(err, "refit best candidate")
	}
	s.bestEstimator = est
	s.refitTime = time.Since(start)
	return nil
}

// rankResults assigns dense-by-position ranks: 1 for the highest mean score,
// equal scores share the lowest rank.
func rankResults(results []CandidateResult) {
	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return results[order[a]].MeanScore > results[order[b]].MeanScore
	})
	for pos, i := range order {
		rank := pos + 1
		if pos > 0 && results[order[pos-1]].MeanScore == results[i].MeanScore {
			rank = results[order[pos-1]].Rank
		}
		results[i].Rank = rank
	}
}

// BestEstimator returns the refitted best estimator, or nil before Fit or
// when refit is disabled.
func (s *RandomizedSearchCV) BestEstimator() Estimator {
	return s.bestEstimator
}

// BestParams returns the parameters of the best candidate.
func (s *RandomizedSearchCV) BestParams() map[string]interface{} {
	if s.bestIndex < 0 {
		return nil
	}
	return s.results[s.bestIndex].Params
}

// BestScore returns the mean CV score of the best candidate.
func (s *RandomizedSearchCV) BestScore() float64 {
	if s.bestIndex < 0 {
		return 0
	}
	return s.results[s.bestIndex].MeanScore
}

// BestIndex returns the position of the best candidate in CVResults.
func (s *RandomizedSearchCV) BestIndex() int {
	return s.bestIndex
}

// CVResults returns every candidate in sampling order.
func (s *RandomizedSearchCV) CVResults() []CandidateResult {
	return s.results
}

// RefitTime returns how long the final refit took.
func (s *RandomizedSearchCV) RefitTime() time.Duration {
	return s.refitTime
}

package tree

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Data is a column-major copy of a feature matrix. Converting once lets an
// ensemble fit many trees without re-reading a mat.Matrix.
type Data struct {
	cols [][]float64
	n    int
}

// NewData copies X into column-major storage.
func NewData(X mat.Matrix) *Data {
	r, c := X.Dims()
	cols := make([][]float64, c)
	for j := 0; j < c; j++ {
		cols[j] = mat.Col(nil, j, X)
	}
	return &Data{cols: cols, n: r}
}

// NSamples returns the number of rows.
func (d *Data) NSamples() int { return d.n }

// NFeatures returns the number of columns.
func (d *Data) NFeatures() int { return len(d.cols) }

// Dims implements errors.MatrixLike.
func (d *Data) Dims() (int, int) { return d.n, len(d.cols) }

// At implements errors.MatrixLike.
func (d *Data) At(i, j int) float64 { return d.cols[j][i] }

// Column returns column j. The slice must not be modified.
func (d *Data) Column(j int) []float64 { return d.cols[j] }

const impurityEpsilon = 1e-12

type builder struct {
	data            *Data
	y               []int
	w               []float64
	nClasses        int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	rng             *rand.Rand

	nodes       []Node
	importances []float64
	totalWeight float64
	sortBuf     []int
}

type split struct {
	feature   int
	threshold float64
	pos       int // samples[:pos] go left after sorting by feature
	childImp  float64
	leftImp   float64
	rightImp  float64
	found     bool
}

func (b *builder) build() ([]Node, []float64) {
	samples := make([]int, 0, len(b.y))
	for i, w := range b.w {
		if w > 0 {
			samples = append(samples, i)
			b.totalWeight += w
		}
	}
	b.importances = make([]float64, b.data.NFeatures())
	b.sortBuf = make([]int, len(samples))

	if len(samples) > 0 {
		counts := b.classCounts(samples)
		b.grow(samples, 0, counts, b.impurity(counts))
	} else {
		b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Value: make([]float64, b.nClasses)})
	}

	total := 0.0
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}
	return b.nodes, b.importances
}

// grow appends the subtree for samples and returns its node index.
func (b *builder) grow(samples []int, depth int, counts []float64, impurity float64) int {
	weight := 0.0
	for _, c := range counts {
		weight += c
	}
	value := make([]float64, b.nClasses)
	if weight > 0 {
		for k, c := range counts {
			value[k] = c / weight
		}
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:  -1,
		Left:     -1,
		Right:    -1,
		Value:    value,
		Impurity: impurity,
		NSamples: len(samples),
		Weight:   weight,
		Depth:    depth,
	})

	if (b.maxDepth > 0 && depth >= b.maxDepth) ||
		len(samples) < b.minSamplesSplit ||
		len(samples) < 2*b.minSamplesLeaf ||
		impurity <= impurityEpsilon {
		return idx
	}

	best := b.findBestSplit(samples)
	if !best.found {
		return idx
	}

	// reorder samples so that the left partition comes first
	b.sortByFeature(samples, best.feature)
	left := samples[:best.pos]
	right := samples[best.pos:]

	leftCounts := b.classCounts(left)
	rightCounts := b.classCounts(right)
	leftW, rightW := sum(leftCounts), sum(rightCounts)

	b.importances[best.feature] += (weight*impurity - leftW*best.leftImp - rightW*best.rightImp) / b.totalWeight

	l := b.grow(left, depth+1, leftCounts, best.leftImp)
	r := b.grow(right, depth+1, rightCounts, best.rightImp)

	n := &b.nodes[idx]
	n.Feature = best.feature
	n.Threshold = best.threshold
	n.Left = l
	n.Right = r
	return idx
}

func (b *builder) candidateFeatures() []int {
	p := b.data.NFeatures()
	features := make([]int, p)
	for j := range features {
		features[j] = j
	}
	if b.maxFeatures <= 0 || b.maxFeatures >= p {
		return features
	}
	// partial Fisher-Yates
	for i := 0; i < b.maxFeatures; i++ {
		j := i + b.rng.IntN(p-i)
		features[i], features[j] = features[j], features[i]
	}
	chosen := features[:b.maxFeatures]
	sort.Ints(chosen)
	return chosen
}

func (b *builder) findBestSplit(samples []int) split {
	best := split{childImp: math.Inf(1)}
	n := len(samples)
	order := b.sortBuf[:n]
	leftCounts := make([]float64, b.nClasses)
	rightCounts := make([]float64, b.nClasses)
	total := b.classCounts(samples)

	for _, f := range b.candidateFeatures() {
		col := b.data.Column(f)
		copy(order, samples)
		sort.SliceStable(order, func(a, c int) bool { return col[order[a]] < col[order[c]] })
		if col[order[0]] == col[order[n-1]] {
			continue
		}

		for k := range leftCounts {
			leftCounts[k] = 0
			rightCounts[k] = total[k]
		}
		for i := 0; i < n-1; i++ {
			s := order[i]
			leftCounts[b.y[s]] += b.w[s]
			rightCounts[b.y[s]] -= b.w[s]

			nLeft := i + 1
			if nLeft < b.minSamplesLeaf {
				continue
			}
			if n-nLeft < b.minSamplesLeaf {
				break
			}
			v, next := col[s], col[order[i+1]]
			if v == next {
				continue
			}

			lw, rw := sum(leftCounts), sum(rightCounts)
			li, ri := b.impurity(leftCounts), b.impurity(rightCounts)
			child := lw*li + rw*ri
			if child < best.childImp-impurityEpsilon {
				threshold := v + (next-v)/2
				// midpoint can round up to next for adjacent floats
				if threshold >= next {
					threshold = v
				}
				best = split{
					feature:   f,
					threshold: threshold,
					pos:       nLeft,
					childImp:  child,
					leftImp:   li,
					rightImp:  ri,
					found:     true,
				}
			}
		}
	}
	return best
}

func (b *builder) sortByFeature(samples []int, f int) {
	col := b.data.Column(f)
	sort.SliceStable(samples, func(a, c int) bool { return col[samples[a]] < col[samples[c]] })
}

func (b *builder) classCounts(samples []int) []float64 {
	counts := make([]float64, b.nClasses)
	for _, s := range samples {
		counts[b.y[s]] += b.w[s]
	}
	return counts
}

func (b *builder) impurity(counts []float64) float64 {
	total := sum(counts)
	if total <= 0 {
		return 0
	}
	switch b.criterion {
	case "entropy":
		h := 0.0
		for _, c := range counts {
			if c > 0 {
				p := c / total
				h -= p * math.Log2(p)
			}
		}
		return h
	default:
		g := 1.0
		for _, c := range counts {
			p := c / total
			g -= p * p
		}
		return g
	}
}

func sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

// Package imbalance rebalances binary training sets: SMOTE oversampling,
// Tomek-link cleaning and their combination.
package imbalance

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/parallel"
)

type neighborMatch struct {
	index    int
	distance float64
}

// rows copies X into row slices.
func rows(X mat.Matrix) [][]float64 {
	r, _ := X.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, X)
	}
	return out
}

// kNearest returns, for every query point, the indices of its k nearest
// candidates by Euclidean distance. A query never matches the candidate
// with the same index when self is true. Ties go to the lower index.
func kNearest(queries, candidates [][]float64, k int, self bool) [][]int {
	out := make([][]int, len(queries))
	parallel.ParallelizeWithThreshold(len(queries), 64, func(start, end int) {
		neighbors := make([]neighborMatch, 0, len(candidates))
		for q := start; q < end; q++ {
			neighbors = neighbors[:0]
			for c, cand := range candidates {
				if self && c == q {
					continue
				}
				neighbors = append(neighbors, neighborMatch{index: c, distance: floats.Distance(queries[q], cand, 2)})
			}
			sort.SliceStable(neighbors, func(i, j int) bool {
				return neighbors[i].distance < neighbors[j].distance
			})
			n := min(k, len(neighbors))
			idx := make([]int, n)
			for i := 0; i < n; i++ {
				idx[i] = neighbors[i].index
			}
			out[q] = idx
		}
	})
	return out
}

// nearest returns the index of the closest other point for every row, or -1
// when there is only one row. Ties go to the lower index.
func nearest(points [][]float64) []int {
	out := make([]int, len(points))
	parallel.ParallelizeWithThreshold(len(points), 64, func(start, end int) {
		for q := start; q < end; q++ {
			best, bestDist := -1, 0.0
			for c, cand := range points {
				if c == q {
					continue
				}
				d := floats.Distance(points[q], cand, 2)
				if best < 0 || d < bestDist {
					best, bestDist = c, d
				}
			}
			out[q] = best
		}
	})
	return out
}

package errors

import (
	"fmt"
	"math"
)

// MatrixLike is the subset of mat.Matrix needed for value checks.
type MatrixLike interface {
	Dims() (r, c int)
	At(i, j int) float64
}

// CheckFinite returns a ValueError naming the first NaN or Inf cell of m.
func CheckFinite(op string, m MatrixLike) error {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return NewValueError(op, fmt.Sprintf("non-finite value %v at row %d, column %d", v, i, j))
			}
		}
	}
	return nil
}

// CheckBinary returns a ValueError if a column vector holds anything other than 0 and 1.
func CheckBinary(op string, y MatrixLike) error {
	rows, _ := y.Dims()
	for i := 0; i < rows; i++ {
		v := y.At(i, 0)
		if v != 0 && v != 1 {
			return NewValueError(op, fmt.Sprintf("target must be binary (0/1), got %v at row %d", v, i))
		}
	}
	return nil
}

// ClipValue clips a value to the range [min, max].
func ClipValue(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Sigmoid is the logistic function with clipping against exp overflow.
func Sigmoid(x float64) float64 {
	const maxExp = 700.0
	x = ClipValue(x, -maxExp, maxExp)
	return 1.0 / (1.0 + math.Exp(-x))
}

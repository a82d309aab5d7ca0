package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる。y は n×1 の列ベクトル。
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対するクラス予測を n×1 で返す
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// ProbaPredictor は確率推定を返せるモデルのインターフェース
type ProbaPredictor interface {
	// PredictProba は n×len(Classes()) のクラス確率を返す
	PredictProba(X mat.Matrix) (mat.Matrix, error)
	// Classes は学習時に観測したクラスを昇順で返す
	Classes() []int
}

// Classifier は学習と予測の両方を備えた分類器
type Classifier interface {
	Fitter
	Predictor
}

// FeatureImporter は特徴量重要度を公開するモデルのインターフェース
type FeatureImporter interface {
	// FeatureImportances は合計1に正規化された重要度を返す
	FeatureImportances() []float64
}

// ParameterGetter is the interface for estimators that expose their hyperparameters.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for estimators that allow parameter modification.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// PositiveProba は陽性クラス(1)の確率をサンプルごとに返します。
// ProbaPredictor を実装しないモデルは Predict の 0/1 を擬似確率として使います。
// 学習時に陽性クラスを観測していない場合は全て0を返します。
func PositiveProba(p Predictor, X mat.Matrix) ([]float64, error) {
	n, _ := X.Dims()
	out := make([]float64, n)

	if pp, ok := p.(ProbaPredictor); ok {
		proba, err := pp.PredictProba(X)
		if err != nil {
			return nil, err
		}
		col := -1
		for j, c := range pp.Classes() {
			if c == 1 {
				col = j
				break
			}
		}
		if col < 0 {
			return out, nil
		}
		for i := 0; i < n; i++ {
			out[i] = proba.At(i, col)
		}
		return out, nil
	}

	pred, err := p.Predict(X)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if pred.At(i, 0) > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

// BinaryTargets は n×1 の目的変数を 0/1 の int スライスに変換します。
func BinaryTargets(op string, y mat.Matrix) ([]int, error) {
	r, c := y.Dims()
	if c != 1 {
		return nil, errors.NewDimensionError(op, 1, c, 1)
	}
	out := make([]int, r)
	for i := 0; i < r; i++ {
		v := y.At(i, 0)
		switch {
		case v == 0:
			out[i] = 0
		case v == 1:
			out[i] = 1
		case math.IsNaN(v):
			return nil, errors.NewValueError(op, "target contains NaN")
		default:
			return nil, errors.NewValueError(op, "target must be binary (0 or 1)")
		}
	}
	return out, nil
}

// ColumnVector は int ラベルを n×1 の行列に変換します。
func ColumnVector(y []int) *mat.Dense {
	data := make([]float64, len(y))
	for i, v := range y {
		data[i] = float64(v)
	}
	return mat.NewDense(len(y), 1, data)
}

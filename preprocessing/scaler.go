// Package preprocessing は特徴量のスケーリングを提供します。
package preprocessing

import (
	"bytes"
	"encoding/gob"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// StandardScaler はscikit-learn互換の標準化スケーラー
// データを平均0、標準偏差1に変換する。
// 学習時の列名を記録し、推論時に列の並びが一致するかを検証できる。
type StandardScaler struct {
	state *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差（母標準偏差、0の場合は1）
	Scale []float64

	withMean bool
	withStd  bool
}

// ScalerOption はStandardScalerの設定関数
type ScalerOption func(*StandardScaler)

// WithMean は平均を引くかどうかを設定する (デフォルト: true)
func WithMean(enabled bool) ScalerOption {
	return func(s *StandardScaler) {
		s.withMean = enabled
	}
}

// WithStd は標準偏差で割るかどうかを設定する (デフォルト: true)
func WithStd(enabled bool) ScalerOption {
	return func(s *StandardScaler) {
		s.withStd = enabled
	}
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler()
//	err := scaler.FitNamed(X, names)
//	XScaled, err := scaler.TransformNamed(X, names)
func NewStandardScaler(opts ...ScalerOption) *StandardScaler {
	s := &StandardScaler{
		state:    model.NewStateManager(),
		withMean: true,
		withStd:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fit は訓練データから統計情報（平均、標準偏差）を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	return s.FitNamed(X, nil)
}

// FitNamed は列名付きで学習する。names が nil の場合は列名を記録しない。
func (s *StandardScaler) FitNamed(X mat.Matrix, names []string) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	if names != nil && len(names) != c {
		return errors.NewDimensionError("StandardScaler.Fit", len(names), c, 1)
	}
	if err := errors.CheckFinite("StandardScaler.Fit", X); err != nil {
		return err
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, std := stat.PopMeanStdDev(col, nil)

		if s.withMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1.0
		// 標準偏差が0に近い場合は1のまま（ゼロ除算を避ける）
		if s.withStd && math.Abs(std) >= 1e-8 {
			s.Scale[j] = std
		}
	}

	s.state.Reset()
	s.state.SetDimensions(c, r)
	if names != nil {
		s.state.SetFeatureNames(names)
	}
	s.state.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.state.RequireFeatures("StandardScaler.Transform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, (X.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return result, nil
}

// TransformNamed は列名が学習時と同じ順序で一致することを確認してから変換する。
// 一致しない場合は SchemaError を返す。
func (s *StandardScaler) TransformNamed(X mat.Matrix, names []string) (mat.Matrix, error) {
	if err := s.state.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	if err := s.CheckFeatureNames(names); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// CheckFeatureNames は names が学習時の列名と同一・同順かを検証する。
// 学習時に列名が記録されていない場合は検証しない。
func (s *StandardScaler) CheckFeatureNames(names []string) error {
	fitted := s.state.GetFeatureNames()
	if len(fitted) == 0 {
		return nil
	}

	var missing []string
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for _, n := range fitted {
		if !present[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return errors.NewSchemaError("StandardScaler.Transform", "features seen at fit time are missing", missing)
	}
	if len(names) != len(fitted) {
		return errors.NewSchemaError("StandardScaler.Transform", "unexpected extra features", nil)
	}
	for i := range fitted {
		if names[i] != fitted[i] {
			return errors.NewSchemaError("StandardScaler.Transform", "feature order differs from fit time at "+names[i], nil)
		}
	}
	return nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// IsFitted は学習済みかどうかを返す
func (s *StandardScaler) IsFitted() bool {
	return s.state.IsFitted()
}

// FeatureNames は学習時の列名を返す
func (s *StandardScaler) FeatureNames() []string {
	return s.state.GetFeatureNames()
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.withMean,
		"with_std":  s.withStd,
	}
}

type scalerSnapshot struct {
	State    model.ModelState
	Mean     []float64
	Scale    []float64
	WithMean bool
	WithStd  bool
}

// GobEncode は学習済みの状態をgobでエンコードする
func (s *StandardScaler) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(scalerSnapshot{
		State:    s.state.GetState(),
		Mean:     s.Mean,
		Scale:    s.Scale,
		WithMean: s.withMean,
		WithStd:  s.withStd,
	})
	return buf.Bytes(), err
}

// GobDecode はGobEncodeで書き出した状態を復元する
func (s *StandardScaler) GobDecode(data []byte) error {
	var snap scalerSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}
	if s.state == nil {
		s.state = model.NewStateManager()
	}
	s.state.SetState(snap.State)
	s.Mean = snap.Mean
	s.Scale = snap.Scale
	s.withMean = snap.WithMean
	s.withStd = snap.WithStd
	return nil
}

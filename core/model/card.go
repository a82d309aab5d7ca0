package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Version は成果物フォーマットのバージョン（MAJOR.MINOR）
type Version struct {
	Major int
	Minor int
}

// ParseVersion は "MAJOR.MINOR" 形式の文字列を解析する
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("invalid version %q: expected MAJOR.MINOR", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("invalid major version in %q: %w", s, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("invalid minor version in %q: %w", s, err)
	}
	return Version{Major: major, Minor: minor}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// CompatibleWith はメジャーバージョンが一致し、かつ v が other より古くない場合に true を返す。
// 読み込む側(v)は同じメジャーの古いマイナーで書かれた成果物を読める。
func (v Version) CompatibleWith(other Version) bool {
	return v.Major == other.Major && v.Minor >= other.Minor
}

// ModelCard はラベルごとの学習済みモデルの説明（manifest.json に記録される）
type ModelCard struct {
	// Label は対象の故障ラベル（FDF, FDC, ...）
	Label string `json:"label"`

	// ModelType はモデルの種類（random_forest, gradient_boosting）
	ModelType string `json:"model_type"`

	// Strategy は学習戦略の名前
	Strategy string `json:"strategy"`

	// Features は学習に使った特徴量の名前（順序付き）
	Features []string `json:"features"`

	// Hyperparameters は選ばれたハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metrics は交差検証スコアなどの指標
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// Validate はModelCardの妥当性を検証
func (mc *ModelCard) Validate() error {
	if mc.Label == "" {
		return fmt.Errorf("label is required")
	}
	if mc.ModelType == "" {
		return fmt.Errorf("model_type is required for label %s", mc.Label)
	}
	if mc.IsFitted && len(mc.Features) == 0 {
		return fmt.Errorf("fitted model for label %s must list its features", mc.Label)
	}
	return nil
}

// Clone はModelCardのディープコピーを作成
func (mc *ModelCard) Clone() *ModelCard {
	clone := &ModelCard{
		Label:           mc.Label,
		ModelType:       mc.ModelType,
		Strategy:        mc.Strategy,
		IsFitted:        mc.IsFitted,
		Features:        append([]string(nil), mc.Features...),
		Hyperparameters: make(map[string]interface{}, len(mc.Hyperparameters)),
		Metrics:         make(map[string]float64, len(mc.Metrics)),
	}
	for k, v := range mc.Hyperparameters {
		clone.Hyperparameters[k] = v
	}
	for k, v := range mc.Metrics {
		clone.Metrics[k] = v
	}
	return clone
}

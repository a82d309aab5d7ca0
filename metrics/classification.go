// Package metrics は二値分類・マルチラベル分類の評価指標を提供します。
package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// ConfusionMatrix は二値分類の混同行列
type ConfusionMatrix struct {
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TP int `json:"tp"`
}

// Precision は TP/(TP+FP)。分母が0の場合は0を返す。
func (c ConfusionMatrix) Precision() float64 {
	return safeRatio(c.TP, c.TP+c.FP)
}

// Recall は TP/(TP+FN)。分母が0の場合は0を返す。
func (c ConfusionMatrix) Recall() float64 {
	return safeRatio(c.TP, c.TP+c.FN)
}

// F1 は 2TP/(2TP+FP+FN)。分母が0の場合は0を返す。
func (c ConfusionMatrix) F1() float64 {
	return safeRatio(2*c.TP, 2*c.TP+c.FP+c.FN)
}

// Support は陽性サンプル数
func (c ConfusionMatrix) Support() int {
	return c.TP + c.FN
}

// Total はサンプル総数
func (c ConfusionMatrix) Total() int {
	return c.TN + c.FP + c.FN + c.TP
}

// Add は2つの混同行列を足し合わせる（micro平均用）
func (c ConfusionMatrix) Add(o ConfusionMatrix) ConfusionMatrix {
	return ConfusionMatrix{TN: c.TN + o.TN, FP: c.FP + o.FP, FN: c.FN + o.FN, TP: c.TP + o.TP}
}

// String は [[TN FP] [FN TP]] 形式で表示する
func (c ConfusionMatrix) String() string {
	return fmt.Sprintf("[[%d %d] [%d %d]]", c.TN, c.FP, c.FN, c.TP)
}

func safeRatio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func checkPair(op string, nTrue, nPred int) error {
	if nTrue == 0 {
		return errors.NewValueError(op, "empty input")
	}
	if nTrue != nPred {
		return errors.NewDimensionError(op, nTrue, nPred, 0)
	}
	return nil
}

// BinaryConfusionMatrix は0/1ラベルから混同行列を計算する
func BinaryConfusionMatrix(yTrue, yPred []int) (ConfusionMatrix, error) {
	if err := checkPair("BinaryConfusionMatrix", len(yTrue), len(yPred)); err != nil {
		return ConfusionMatrix{}, err
	}
	var c ConfusionMatrix
	for i := range yTrue {
		if (yTrue[i] != 0 && yTrue[i] != 1) || (yPred[i] != 0 && yPred[i] != 1) {
			return ConfusionMatrix{}, errors.NewValueError("BinaryConfusionMatrix",
				fmt.Sprintf("labels must be binary (0/1), got true=%d pred=%d at row %d", yTrue[i], yPred[i], i))
		}
		switch {
		case yTrue[i] == 1 && yPred[i] == 1:
			c.TP++
		case yTrue[i] == 0 && yPred[i] == 1:
			c.FP++
		case yTrue[i] == 1 && yPred[i] == 0:
			c.FN++
		default:
			c.TN++
		}
	}
	return c, nil
}

// PrecisionScore は適合率を計算する。陽性予測がない場合は0を返し警告を出す。
func PrecisionScore(yTrue, yPred []int) (float64, error) {
	c, err := BinaryConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if c.TP+c.FP == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples", 0))
	}
	return c.Precision(), nil
}

// RecallScore は再現率を計算する。陽性サンプルがない場合は0を返し警告を出す。
func RecallScore(yTrue, yPred []int) (float64, error) {
	c, err := BinaryConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if c.TP+c.FN == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples", 0))
	}
	return c.Recall(), nil
}

// F1Score はF1スコアを計算する。ゼロ除算になる場合は0を返す。
func F1Score(yTrue, yPred []int) (float64, error) {
	c, err := BinaryConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return c.F1(), nil
}

// Accuracy は正解率を計算する（多クラスも可）
func Accuracy(yTrue, yPred []int) (float64, error) {
	if err := checkPair("Accuracy", len(yTrue), len(yPred)); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// AUC はROC曲線下面積を順位統計量（Mann-Whitney U）で計算する。
// 同順位のスコアには平均順位を割り当てる。
// 片方のクラスしか存在しない場合は未定義のため0.5を返す。
func AUC(yTrue []int, scores []float64) (float64, error) {
	if err := checkPair("AUC", len(yTrue), len(scores)); err != nil {
		return 0, err
	}
	n := len(yTrue)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var nPos, nNeg int
	posRanks := make([]float64, 0, n)
	for i, y := range yTrue {
		switch y {
		case 1:
			nPos++
			posRanks = append(posRanks, ranks[i])
		case 0:
			nNeg++
		default:
			return 0, errors.NewValueError("AUC", fmt.Sprintf("labels must be binary (0/1), got %d at row %d", y, i))
		}
	}
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("roc_auc", "only one class present in y_true", 0.5))
		return 0.5, nil
	}

	u := floats.Sum(posRanks) - float64(nPos*(nPos+1))/2
	return u / float64(nPos*nNeg), nil
}

// BinaryLogLoss は二値交差エントロピーを計算する。確率は log(0) を避けるためクリップされる。
func BinaryLogLoss(yTrue []int, proba []float64) (float64, error) {
	if err := checkPair("BinaryLogLoss", len(yTrue), len(proba)); err != nil {
		return 0, err
	}
	const eps = 1e-15
	loss := 0.0
	for i, y := range yTrue {
		p := errors.ClipValue(proba[i], eps, 1-eps)
		switch y {
		case 1:
			loss -= math.Log(p)
		case 0:
			loss -= math.Log(1 - p)
		default:
			return 0, errors.NewValueError("BinaryLogLoss", fmt.Sprintf("labels must be binary (0/1), got %d at row %d", y, i))
		}
	}
	return loss / float64(len(yTrue)), nil
}

// ===========================================================================
//
//	マルチラベル指標（n_samples × n_labels の 0/1 行列）
//
// ===========================================================================

func checkMultilabel(op string, yTrue, yPred mat.Matrix) (int, int, error) {
	if yTrue == nil || yPred == nil {
		return 0, 0, errors.NewValueError(op, "nil matrix")
	}
	r, c := yTrue.Dims()
	rp, cp := yPred.Dims()
	if r == 0 || c == 0 {
		return 0, 0, errors.NewValueError(op, "empty matrix")
	}
	if r != rp {
		return 0, 0, errors.NewDimensionError(op, r, rp, 0)
	}
	if c != cp {
		return 0, 0, errors.NewDimensionError(op, c, cp, 1)
	}
	return r, c, nil
}

// MultilabelConfusionMatrix はラベルごとの混同行列を返す
func MultilabelConfusionMatrix(yTrue, yPred mat.Matrix) ([]ConfusionMatrix, error) {
	r, c, err := checkMultilabel("MultilabelConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	out := make([]ConfusionMatrix, c)
	t := make([]int, r)
	p := make([]int, r)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			t[i] = int(yTrue.At(i, j))
			p[i] = int(yPred.At(i, j))
		}
		cm, err := BinaryConfusionMatrix(t, p)
		if err != nil {
			return nil, errors.Wrapf(err, "label column %d", j)
		}
		out[j] = cm
	}
	return out, nil
}

// HammingLoss は誤って予測されたラベルの割合
func HammingLoss(yTrue, yPred mat.Matrix) (float64, error) {
	r, c, err := checkMultilabel("HammingLoss", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	wrong := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if yTrue.At(i, j) != yPred.At(i, j) {
				wrong++
			}
		}
	}
	return float64(wrong) / float64(r*c), nil
}

// MacroF1 はラベルごとのF1の単純平均
func MacroF1(yTrue, yPred mat.Matrix) (float64, error) {
	cms, err := MultilabelConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return MacroF1FromConfusion(cms), nil
}

// MicroF1 は全ラベルの混同行列を合算してから計算したF1
func MicroF1(yTrue, yPred mat.Matrix) (float64, error) {
	cms, err := MultilabelConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return MicroF1FromConfusion(cms), nil
}

// MacroF1FromConfusion は計算済みの混同行列からmacro F1を求める
func MacroF1FromConfusion(cms []ConfusionMatrix) float64 {
	if len(cms) == 0 {
		return 0
	}
	f1s := make([]float64, len(cms))
	for i, cm := range cms {
		f1s[i] = cm.F1()
	}
	return floats.Sum(f1s) / float64(len(f1s))
}

// MicroF1FromConfusion は計算済みの混同行列からmicro F1を求める
func MicroF1FromConfusion(cms []ConfusionMatrix) float64 {
	var total ConfusionMatrix
	for _, cm := range cms {
		total = total.Add(cm)
	}
	return total.F1()
}

package evaluation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/metrics"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// ProbaModel yields the failure probability of every row.
type ProbaModel interface {
	PositiveProba(X mat.Matrix) ([]float64, error)
}

// LabelMetrics are the held-out metrics of one label.
type LabelMetrics struct {
	Label     string                  `json:"label"`
	Threshold float64                 `json:"threshold"`
	Precision float64                 `json:"precision"`
	Recall    float64                 `json:"recall"`
	F1        float64                 `json:"f1"`
	Support   int                     `json:"support"`
	// ROCAUC is threshold-free; 0.5 when the data holds a single class.
	ROCAUC    float64                 `json:"roc_auc"`
	LogLoss   float64                 `json:"log_loss"`
	Confusion metrics.ConfusionMatrix `json:"confusion"`
}

// Report is the multilabel evaluation of the trained labels.
type Report struct {
	Samples     int            `json:"samples"`
	Labels      []LabelMetrics `json:"labels"`
	MacroF1     float64        `json:"macro_f1"`
	MicroF1     float64        `json:"micro_f1"`
	HammingLoss float64        `json:"hamming_loss"`
	// Calibration holds the threshold scan of each label when thresholds
	// were calibrated on the same data.
	Calibration map[string]ThresholdResult `json:"calibration,omitempty"`
}

// Label returns the metrics of label.
func (r *Report) Label(label string) (LabelMetrics, bool) {
	for _, m := range r.Labels {
		if m.Label == label {
			return m, true
		}
	}
	return LabelMetrics{}, false
}

// labelColumn extracts column j of Y as 0/1 ints.
func labelColumn(Y mat.Matrix, j int) []int {
	r, _ := Y.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		if Y.At(i, j) == 1 {
			out[i] = 1
		}
	}
	return out
}

// Calibrate scans the threshold of every label that has a model. labels
// names the columns of Y.
func Calibrate(models map[string]ProbaModel, labels []string, X, Y mat.Matrix, scan Scan) (map[string]ThresholdResult, error) {
	if err := checkShapes(labels, X, Y); err != nil {
		return nil, err
	}
	logger := log.GetLoggerWithName("evaluation.Calibrate")
	out := make(map[string]ThresholdResult, len(models))
	for j, label := range labels {
		m, ok := models[label]
		if !ok {
			continue
		}
		proba, err := m.PositiveProba(X)
		if err != nil {
			return nil, errors.Wrapf(err, "label %s", label)
		}
		res, err := ScanThreshold(labelColumn(Y, j), proba, scan)
		if err != nil {
			return nil, errors.Wrapf(err, "label %s", label)
		}
		out[label] = res
		logger.Info("threshold calibrated",
			log.PhaseKey, log.PhaseEvaluation,
			log.LabelKey, label,
			log.ThresholdKey, res.Threshold,
			log.F1Key, res.F1,
			"single_class", res.SingleClass,
		)
	}
	return out, nil
}

// Evaluate computes the metrics of every label that has a model, each at
// its threshold in thresholds or at defaultThreshold when absent.
func Evaluate(models map[string]ProbaModel, labels []string, X, Y mat.Matrix,
	thresholds map[string]float64, defaultThreshold float64) (*Report, error) {
	if err := checkShapes(labels, X, Y); err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	report := &Report{Samples: n}
	var cms []metrics.ConfusionMatrix
	for j, label := range labels {
		m, ok := models[label]
		if !ok {
			continue
		}
		proba, err := m.PositiveProba(X)
		if err != nil {
			return nil, errors.Wrapf(err, "label %s", label)
		}
		t, ok := thresholds[label]
		if !ok {
			t = defaultThreshold
		}
		yTrue := labelColumn(Y, j)
		cm, err := metrics.BinaryConfusionMatrix(yTrue, Binarize(proba, t))
		if err != nil {
			return nil, errors.Wrapf(err, "label %s", label)
		}
		auc, err := metrics.AUC(yTrue, proba)
		if err != nil {
			return nil, errors.Wrapf(err, "label %s", label)
		}
		logLoss, err := metrics.BinaryLogLoss(yTrue, proba)
		if err != nil {
			return nil, errors.Wrapf(err, "label %s", label)
		}
		cms = append(cms, cm)
		report.Labels = append(report.Labels, LabelMetrics{
			Label:     label,
			Threshold: t,
			Precision: cm.Precision(),
			Recall:    cm.Recall(),
			F1:        cm.F1(),
			Support:   cm.Support(),
			ROCAUC:    auc,
			LogLoss:   logLoss,
			Confusion: cm,
		})
	}
	if len(cms) == 0 {
		return nil, errors.NewValueError("Evaluate", "no label has a model")
	}
	report.MacroF1 = metrics.MacroF1FromConfusion(cms)
	report.MicroF1 = metrics.MicroF1FromConfusion(cms)
	wrong := 0
	for _, cm := range cms {
		wrong += cm.FP + cm.FN
	}
	report.HammingLoss = float64(wrong) / float64(n*len(cms))

	log.GetLoggerWithName("evaluation.Evaluate").Info("evaluation finished",
		log.PhaseKey, log.PhaseEvaluation,
		log.SamplesKey, n,
		log.TargetsKey, len(cms),
		log.F1Key, report.MacroF1,
		log.HammingLossKey, report.HammingLoss,
	)
	return report, nil
}

func checkShapes(labels []string, X, Y mat.Matrix) error {
	r, _ := X.Dims()
	yr, yc := Y.Dims()
	if r == 0 {
		return errors.NewValueError("evaluation", "empty input")
	}
	if yr != r {
		return errors.NewDimensionError("evaluation", r, yr, 0)
	}
	if yc != len(labels) {
		return errors.NewDimensionError("evaluation", len(labels), yc, 1)
	}
	return nil
}

// Text renders the report in the layout of a classification report.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluation on %d held-out samples\n", r.Samples)
	b.WriteString(strings.Repeat("=", 88) + "\n")
	fmt.Fprintf(&b, "%-8s %10s %10s %10s %10s %10s %10s %10s\n",
		"label", "threshold", "precision", "recall", "f1-score", "roc-auc", "log-loss", "support")
	for _, m := range r.Labels {
		fmt.Fprintf(&b, "%-8s %10.2f %10.4f %10.4f %10.4f %10.4f %10.4f %10d\n",
			m.Label, m.Threshold, m.Precision, m.Recall, m.F1, m.ROCAUC, m.LogLoss, m.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%-20s %.4f\n", "macro F1", r.MacroF1)
	fmt.Fprintf(&b, "%-20s %.4f\n", "micro F1", r.MicroF1)
	fmt.Fprintf(&b, "%-20s %.4f\n", "Hamming loss", r.HammingLoss)

	b.WriteString("\nConfusion matrices [[TN FP] [FN TP]]:\n")
	for _, m := range r.Labels {
		fmt.Fprintf(&b, "  %-6s %s\n", m.Label, m.Confusion)
	}
	return b.String()
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

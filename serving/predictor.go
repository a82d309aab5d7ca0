// Package serving runs a trained bundle on batches of sensor readings. It
// accepts any subset of the telemetry columns: features whose inputs are
// missing are back-filled from the defaults table, and only a feature that
// can be neither derived nor back-filled fails the batch.
package serving

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/artifact"
	"github.com/YuminosukeSato/gembaguard/core/parallel"
	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/evaluation"
	"github.com/YuminosukeSato/gembaguard/features"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
)

// DefaultCriticalThreshold flags alerts that need immediate attention.
const DefaultCriticalThreshold = 0.7

// Predictor scores batches with a loaded bundle. It is safe for concurrent use.
type Predictor struct {
	bundle           *artifact.Bundle
	engineer         *features.Engineer
	defaults         *features.Defaults
	useCalibrated    bool
	defaultThreshold float64
	critical         float64
	workers          int
	logger           log.Logger
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithCalibratedThresholds selects between the bundle's calibrated
// thresholds (the default) and the fixed default threshold for every label.
func WithCalibratedThresholds(enabled bool) PredictorOption {
	return func(p *Predictor) {
		p.useCalibrated = enabled
	}
}

// WithDefaultThreshold sets the threshold of labels without a calibrated one.
func WithDefaultThreshold(t float64) PredictorOption {
	return func(p *Predictor) {
		p.defaultThreshold = t
	}
}

// WithCriticalThreshold sets the probability above which an alert is critical.
func WithCriticalThreshold(t float64) PredictorOption {
	return func(p *Predictor) {
		p.critical = t
	}
}

// WithDefaults sets the table used to back-fill missing features.
func WithDefaults(d *features.Defaults) PredictorOption {
	return func(p *Predictor) {
		p.defaults = d
	}
}

// WithWorkers bounds the labels scored concurrently. Zero or less uses every CPU.
func WithWorkers(n int) PredictorOption {
	return func(p *Predictor) {
		p.workers = n
	}
}

// NewPredictor creates a Predictor for b.
func NewPredictor(b *artifact.Bundle, opts ...PredictorOption) (*Predictor, error) {
	if b == nil || len(b.Models) == 0 {
		return nil, errors.NewValueError("serving.NewPredictor", "bundle has no models")
	}
	if b.Scaler == nil || !b.Scaler.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "Predict")
	}
	p := &Predictor{
		bundle:           b,
		engineer:         features.NewEngineerFromStats(b.GroupStats, features.Options{}),
		defaults:         features.DefaultTable(),
		useCalibrated:    true,
		defaultThreshold: b.Manifest.DefaultThreshold,
		critical:         DefaultCriticalThreshold,
		logger:           log.GetLoggerWithName("serving.Predictor"),
	}
	if p.defaultThreshold <= 0 {
		p.defaultThreshold = 0.5
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.defaultThreshold < 0 || p.defaultThreshold > 1 {
		return nil, errors.NewValidationError("default_threshold", "must be in [0, 1]", p.defaultThreshold)
	}
	if p.critical < 0 || p.critical > 1 {
		return nil, errors.NewValidationError("critical_threshold", "must be in [0, 1]", p.critical)
	}
	if p.defaults == nil {
		p.defaults = features.DefaultTable()
	}
	return p, nil
}

// Bundle returns the bundle the predictor scores with.
func (p *Predictor) Bundle() *artifact.Bundle { return p.bundle }

// Labels returns the labels the predictor scores, in bundle order.
func (p *Predictor) Labels() []string {
	return append([]string(nil), p.bundle.Manifest.Labels...)
}

// Threshold returns the alert threshold applied to label.
func (p *Predictor) Threshold(label string) float64 {
	if p.useCalibrated {
		if t, ok := p.bundle.Manifest.Thresholds[label]; ok {
			return t
		}
	}
	return p.defaultThreshold
}

// Prepared is a batch ready for the models.
type Prepared struct {
	Frame   *dataset.Frame
	X       mat.Matrix // scaled, columns in bundle feature order
	Skipped []string   // features the robust transform could not derive
	Filled  []string   // features back-filled with a constant default
	Imputed []string   // features whose missing cells took the batch mean
}

// Prepare runs the robust feature transform, back-fills the bundle's
// features and scales them. The input frame is not modified.
func (p *Predictor) Prepare(f *dataset.Frame) (*Prepared, error) {
	if f == nil || f.NRows() == 0 {
		return nil, errors.NewModelError("serving.Prepare", "empty batch", errors.ErrEmptyData)
	}
	names := p.bundle.Manifest.Features

	out, skipped, err := p.engineer.TransformRobust(f)
	if err != nil {
		return nil, err
	}
	filled, err := features.Backfill(out, names, p.defaults)
	if err != nil {
		return nil, err
	}
	imputed, err := features.FillNaNWithMean(out, names, p.defaults)
	if err != nil {
		return nil, err
	}
	X, err := out.Matrix(names)
	if err != nil {
		return nil, err
	}
	Xs, err := p.bundle.Scaler.TransformNamed(X, names)
	if err != nil {
		return nil, err
	}
	return &Prepared{Frame: out, X: Xs, Skipped: skipped, Filled: filled, Imputed: imputed}, nil
}

// Predict scores every row of f for every label. A label whose model fails
// gets all-zero probabilities and its error in Result.Errors; the batch
// fails only when the features cannot be prepared.
func (p *Predictor) Predict(ctx context.Context, f *dataset.Frame) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	prep, err := p.Prepare(f)
	if err != nil {
		return nil, err
	}
	n, _ := prep.X.Dims()
	labels := p.bundle.Manifest.Labels

	probas := make([][]float64, len(labels))
	failures := make([]error, len(labels))
	err = parallel.ForEach(ctx, len(labels), p.workers, func(_ context.Context, j int) error {
		label := labels[j]
		err := errors.SafeExecute("serving.PositiveProba", func() error {
			proba, err := p.bundle.Models[label].PositiveProba(prep.X)
			if err != nil {
				return err
			}
			if len(proba) != n {
				return errors.NewDimensionError("serving.PositiveProba", n, len(proba), 0)
			}
			probas[j] = proba
			return nil
		})
		if err != nil {
			failures[j] = err
			probas[j] = make([]float64, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := newResult(n, labels)
	res.Skipped = prep.Skipped
	res.Filled = prep.Filled
	res.Imputed = prep.Imputed
	for j, label := range labels {
		if failures[j] != nil {
			res.Errors[label] = failures[j]
			p.logger.Error("label prediction failed; probabilities set to zero",
				log.PhaseKey, log.PhaseInference,
				log.LabelKey, label,
				"error", failures[j],
			)
		}
		res.setLabel(label, probas[j], p.Threshold(label), p.critical)
	}
	res.sortCritical()

	p.logger.Info("batch predicted",
		log.PhaseKey, log.PhaseInference,
		log.PredsKey, n,
		log.AlertsKey, res.TotalAlerts(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Evaluate scores a labeled batch at the predictor's thresholds. Label
// columns are normalized on a copy; every bundle label must be present.
func (p *Predictor) Evaluate(f *dataset.Frame) (*evaluation.Report, error) {
	if f == nil || f.NRows() == 0 {
		return nil, errors.NewModelError("serving.Evaluate", "empty batch", errors.ErrEmptyData)
	}
	labeled := f.Clone()
	dataset.NormalizeLabels(labeled)
	labels := p.bundle.Manifest.Labels
	Y, err := dataset.LabelMatrix(labeled, labels)
	if err != nil {
		return nil, err
	}
	prep, err := p.Prepare(labeled)
	if err != nil {
		return nil, err
	}
	thresholds := make(map[string]float64, len(labels))
	for _, label := range labels {
		thresholds[label] = p.Threshold(label)
	}
	return evaluation.Evaluate(p.bundle.ProbaModels(), labels, prep.X, Y, thresholds, p.defaultThreshold)
}

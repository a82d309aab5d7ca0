// Package artifact persists everything serving needs from a training run:
// the scaler, the per-label models, the fit-time feature statistics, the
// calibrated thresholds and the held-out split.
//
// A bundle directory holds three files:
//
//	manifest.json  version tag, run metadata, features, labels, thresholds, model cards
//	bundle.gob     models, group statistics, held-out split, training reports
//	scaler.gob     the fitted StandardScaler
package artifact

import (
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/evaluation"
	"github.com/YuminosukeSato/gembaguard/features"
	"github.com/YuminosukeSato/gembaguard/preprocessing"
	"github.com/YuminosukeSato/gembaguard/training"
)

// File names inside a bundle directory.
const (
	ManifestFile = "manifest.json"
	PayloadFile  = "bundle.gob"
	ScalerFile   = "scaler.gob"
)

// CurrentVersion is the bundle format written by this build. Bundles with
// another major version, or a newer minor version, are rejected on load.
var CurrentVersion = model.Version{Major: 1, Minor: 0}

// Manifest is the human-readable part of a bundle.
type Manifest struct {
	Version          string             `json:"version"`
	RunID            string             `json:"run_id"`
	CreatedAt        time.Time          `json:"created_at"`
	Seed             int64              `json:"seed"`
	Features         []string           `json:"features"`
	Labels           []string           `json:"labels"`
	Thresholds       map[string]float64 `json:"thresholds"`
	DefaultThreshold float64            `json:"default_threshold"`
	TestSamples      int                `json:"test_samples"`
	Models           []model.ModelCard  `json:"models"`
}

// NewManifest starts a manifest for a new run with a fresh run ID.
func NewManifest(features, labels []string, seed int64) Manifest {
	return Manifest{
		Version:          CurrentVersion.String(),
		RunID:            uuid.NewString(),
		CreatedAt:        time.Now().UTC(),
		Seed:             seed,
		Features:         append([]string(nil), features...),
		Labels:           append([]string(nil), labels...),
		Thresholds:       make(map[string]float64),
		DefaultThreshold: evaluation.DefaultScan().Default,
	}
}

// Bundle is a trained model bundle. Labels in Manifest.Labels are the
// labels with a model; YTest has one column per label in that order.
type Bundle struct {
	Manifest    Manifest
	Scaler      *preprocessing.StandardScaler
	Models      map[string]*training.LabelModel
	GroupStats  *features.GroupStats
	XTest       *mat.Dense
	YTest       *mat.Dense
	Reports     map[string]*training.LabelReport
	Calibration map[string]evaluation.ThresholdResult
}

// Threshold returns the calibrated threshold of label, or the default
// threshold when none was calibrated.
func (b *Bundle) Threshold(label string) (float64, bool) {
	if t, ok := b.Manifest.Thresholds[label]; ok {
		return t, true
	}
	return b.Manifest.DefaultThreshold, false
}

// ProbaModels returns the label models as evaluation inputs.
func (b *Bundle) ProbaModels() map[string]evaluation.ProbaModel {
	out := make(map[string]evaluation.ProbaModel, len(b.Models))
	for label, m := range b.Models {
		out[label] = m
	}
	return out
}

// Calibrate scans the thresholds of every label on the held-out split and
// stores them in the manifest.
func (b *Bundle) Calibrate(scan evaluation.Scan) error {
	cal, err := evaluation.Calibrate(b.ProbaModels(), b.Manifest.Labels, b.XTest, b.YTest, scan)
	if err != nil {
		return err
	}
	b.Calibration = cal
	b.Manifest.DefaultThreshold = scan.Default
	b.Manifest.Thresholds = make(map[string]float64, len(cal))
	for label, res := range cal {
		b.Manifest.Thresholds[label] = res.Threshold
	}
	return nil
}

// Evaluate reports the held-out metrics at the bundle's thresholds.
func (b *Bundle) Evaluate() (*evaluation.Report, error) {
	report, err := evaluation.Evaluate(b.ProbaModels(), b.Manifest.Labels, b.XTest, b.YTest,
		b.Manifest.Thresholds, b.Manifest.DefaultThreshold)
	if err != nil {
		return nil, err
	}
	report.Calibration = b.Calibration
	return report, nil
}

// cards describes every model for the manifest.
func (b *Bundle) cards() []model.ModelCard {
	cards := make([]model.ModelCard, 0, len(b.Manifest.Labels))
	for _, label := range b.Manifest.Labels {
		m, ok := b.Models[label]
		if !ok {
			continue
		}
		card := model.ModelCard{
			Label:           label,
			ModelType:       string(m.Kind),
			Features:        b.Manifest.Features,
			Hyperparameters: m.Params(),
			IsFitted:        true,
			Metrics:         map[string]float64{},
		}
		if r, ok := b.Reports[label]; ok {
			card.Strategy = string(r.Strategy)
			card.Hyperparameters = r.BestParams
			card.Metrics["positives"] = float64(r.Positives)
			card.Metrics["positive_ratio"] = r.PositiveRatio
			if r.Searched {
				card.Metrics["cv_f1"] = r.CVScore
			}
		}
		if res, ok := b.Calibration[label]; ok {
			card.Metrics["threshold_f1"] = res.F1
		}
		cards = append(cards, card)
	}
	return cards
}

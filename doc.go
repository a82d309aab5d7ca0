// Package gembaguard predicts machine failures from industrial telemetry.
//
// A raw CSV export of sensor readings (air and process temperature,
// humidity, rotational speed, torque, tool wear and machine type) is
// cleaned, enriched with physically motivated features and used to train
// one binary classifier per failure mode:
//
//   - FDF: tool wear failure
//   - FDC: heat dissipation failure
//   - FP: power failure
//   - FTE: overstrain failure
//   - FA: random failure
//
// Each label gets its own training strategy depending on how rare its
// positives are, its own decision threshold, and its own entry in the saved
// bundle.
//
// # Quick Start
//
// Train a bundle and score new readings:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//	    "time"
//
//	    "github.com/YuminosukeSato/gembaguard/config"
//	    "github.com/YuminosukeSato/gembaguard/dataset"
//	    "github.com/YuminosukeSato/gembaguard/pipeline"
//	    "github.com/YuminosukeSato/gembaguard/serving"
//	)
//
//	func main() {
//	    cfg, err := config.Load("gembaguard.toml")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if _, err := pipeline.Run(context.Background(), cfg); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    p, err := pipeline.NewPredictor(cfg, serving.NewBundleCache(cfg.Serving.CacheTTL))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    f, err := dataset.LoadCSV("data/new_readings.csv")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    res, err := p.Predict(context.Background(), f)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Print(serving.Summarize(res).Markdown("new readings", time.Now()))
//	}
//
// # Packages
//
//   - dataset: CSV ingestion, label normalization and profiling
//   - cleaning: median imputation, IQR clipping and consistency fixes
//   - features: derived features, group statistics and back-fill defaults
//   - preprocessing: the standard scaler
//   - sklearn/tree, sklearn/ensemble: decision trees, forests and boosting
//   - sklearn/imbalance: SMOTE and Tomek links
//   - sklearn/model_selection: splits, cross-validation and randomized search
//   - training: per-label strategy selection and training
//   - evaluation: metrics, threshold calibration and plots
//   - artifact: the versioned model bundle
//   - serving: batch prediction, alerts, summaries and exports
//   - pipeline: the end-to-end training and evaluation runs
//   - config: file and environment configuration
//
// The gembaguard command in cmd/gembaguard exposes the same operations.
package gembaguard

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/YuminosukeSato/gembaguard/artifact"
	"github.com/YuminosukeSato/gembaguard/config"
	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/evaluation"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
	"github.com/YuminosukeSato/gembaguard/serving"
)

// Report file names inside the reports directory.
const (
	ProfileFile         = "profile.txt"
	CleaningFile        = "cleaning.txt"
	EvaluationTextFile  = "evaluation.txt"
	EvaluationJSONFile  = "evaluation.json"
	ThresholdCurvesFile = "threshold_curves.png"
	LabelMetricsFile    = "label_metrics.png"
)

// ImportanceFile names the feature-importance plot of label.
func ImportanceFile(label string) string {
	return "importance_" + label + ".png"
}

func writeText(path, text string) error {
	return model.WriteFileAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, text)
		return err
	})
}

func writeEvaluation(dir string, report *evaluation.Report, plots bool) ([]string, error) {
	var files []string
	path := filepath.Join(dir, EvaluationTextFile)
	if err := writeText(path, report.Text()); err != nil {
		return files, err
	}
	files = append(files, path)

	path = filepath.Join(dir, EvaluationJSONFile)
	if err := model.WriteFileAtomic(path, report.WriteJSON); err != nil {
		return files, err
	}
	files = append(files, path)

	if !plots || len(report.Labels) == 0 {
		return files, nil
	}
	path = filepath.Join(dir, LabelMetricsFile)
	if err := evaluation.PlotLabelMetrics(report, path); err != nil {
		return files, err
	}
	files = append(files, path)
	return files, nil
}

// writeRunReports writes the text and JSON reports of a run, and the plots
// when enabled, and returns the written paths.
func writeRunReports(dir string, run *RunReport, b *artifact.Bundle, plots bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	var files []string
	for _, r := range []struct {
		name string
		text string
	}{
		{ProfileFile, run.Profile.Text()},
		{CleaningFile, run.Cleaning.Text()},
	} {
		path := filepath.Join(dir, r.name)
		if err := writeText(path, r.text); err != nil {
			return files, err
		}
		files = append(files, path)
	}

	evalFiles, err := writeEvaluation(dir, run.Evaluation, plots)
	files = append(files, evalFiles...)
	if err != nil {
		return files, err
	}
	if !plots {
		return files, nil
	}

	logger := log.GetLoggerWithName("pipeline")
	path := filepath.Join(dir, ThresholdCurvesFile)
	if err := evaluation.PlotThresholdCurves(b.Calibration, path); err != nil {
		// every label single-class on the held-out split leaves no curve
		logger.Warn("threshold curves not plotted", "error", err)
	} else {
		files = append(files, path)
	}
	for _, label := range b.Manifest.Labels {
		importances := b.Models[label].FeatureImportances()
		if len(importances) != len(b.Manifest.Features) {
			continue
		}
		path := filepath.Join(dir, ImportanceFile(label))
		if err := evaluation.PlotFeatureImportance(label, b.Manifest.Features, importances, path); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

// NewPredictor loads the configured bundle through cache and applies the
// serving options of cfg.
func NewPredictor(cfg *config.Config, cache *serving.BundleCache) (*serving.Predictor, error) {
	b, err := cache.Get(cfg.Artifacts.Dir)
	if err != nil {
		return nil, err
	}
	return serving.NewPredictor(b, cfg.PredictorOptions()...)
}

// Evaluate reports the metrics of the configured bundle, on its held-out
// split when dataPath is empty, else on the labeled CSV at dataPath. The
// reports are written to the reports directory.
func Evaluate(ctx context.Context, cfg *config.Config, dataPath string) (*evaluation.Report, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b, err := artifact.Load(cfg.Artifacts.Dir)
	if err != nil {
		return nil, nil, err
	}

	var report *evaluation.Report
	if dataPath == "" {
		if b.XTest == nil || b.YTest == nil {
			return nil, nil, errors.NewArtifactError("evaluate", cfg.Artifacts.Dir, errors.New("bundle has no held-out split"))
		}
		report, err = b.Evaluate()
	} else {
		var p *serving.Predictor
		if p, err = serving.NewPredictor(b, cfg.PredictorOptions()...); err != nil {
			return nil, nil, err
		}
		var f *dataset.Frame
		if f, err = dataset.LoadCSV(dataPath); err != nil {
			return nil, nil, err
		}
		report, err = p.Evaluate(f)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.Artifacts.ReportsDir, 0o755); err != nil {
		return nil, nil, errors.Wrapf(err, "create %s", cfg.Artifacts.ReportsDir)
	}
	files, err := writeEvaluation(cfg.Artifacts.ReportsDir, report, cfg.Evaluation.Plots)
	if err != nil {
		return nil, nil, err
	}
	source := "held-out split"
	if dataPath != "" {
		source = dataPath
	}
	log.GetLoggerWithName("pipeline").Info("evaluation finished",
		log.PhaseKey, log.PhaseEvaluation,
		"source", source,
		log.F1Key, report.MacroF1,
		log.HammingLossKey, report.HammingLoss,
	)
	return report, files, nil
}

// Describe renders a short text summary of a run.
func (r *RunReport) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d train / %d test rows, %d features\n", r.RunID, r.TrainRows, r.TestRows, len(r.Features))
	for _, lr := range r.Training {
		fmt.Fprintf(&b, "  %-4s %-18s positives=%-5d cv_f1=%.3f\n", lr.Label, lr.Strategy, lr.Positives, lr.CVScore)
	}
	failed := make([]string, 0, len(r.Failures))
	for label := range r.Failures {
		failed = append(failed, label)
	}
	sort.Strings(failed)
	for _, label := range failed {
		fmt.Fprintf(&b, "  %-4s FAILED: %s\n", label, r.Failures[label])
	}
	if r.Evaluation != nil {
		fmt.Fprintf(&b, "macro F1 %.3f, micro F1 %.3f, Hamming loss %.4f\n",
			r.Evaluation.MacroF1, r.Evaluation.MicroF1, r.Evaluation.HammingLoss)
	}
	fmt.Fprintf(&b, "bundle written to %s\n", r.ArtifactDir)
	return b.String()
}

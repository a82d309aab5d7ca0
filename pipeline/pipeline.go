// Package pipeline chains the training stages: ingestion, cleaning, feature
// engineering, the multi-label split, scaling, per-label training,
// threshold calibration and the bundle and report outputs.
package pipeline

import (
	"context"
	"time"

	"github.com/rcrowley/go-metrics"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/artifact"
	"github.com/YuminosukeSato/gembaguard/cleaning"
	"github.com/YuminosukeSato/gembaguard/config"
	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/evaluation"
	"github.com/YuminosukeSato/gembaguard/features"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
	"github.com/YuminosukeSato/gembaguard/preprocessing"
	"github.com/YuminosukeSato/gembaguard/sklearn/model_selection"
	"github.com/YuminosukeSato/gembaguard/training"
)

// Stage names used for timers.
const (
	StageIngestion  = "ingestion"
	StageCleaning   = "cleaning"
	StageSplit      = "split"
	StageFeatures   = "features"
	StageScaling    = "scaling"
	StageTraining   = "training"
	StageEvaluation = "evaluation"
	StageSave       = "save"
	StageReports    = "reports"
)

// RunReport describes a finished training run.
type RunReport struct {
	RunID       string                    `json:"run_id"`
	ArtifactDir string                    `json:"artifact_dir"`
	Features    []string                  `json:"features"`
	Labels      []string                  `json:"labels"`
	TrainRows   int                       `json:"train_rows"`
	TestRows    int                       `json:"test_rows"`
	Profile     *dataset.Profile          `json:"profile"`
	Cleaning    *cleaning.Report          `json:"cleaning"`
	Training    []*training.LabelReport   `json:"training"`
	Evaluation  *evaluation.Report        `json:"evaluation"`
	Failures    map[string]string         `json:"failures,omitempty"`
	Files       []string                  `json:"files"`
	Metrics     map[string]map[string]any `json:"metrics"`
}

// Pipeline runs the stages with one configuration and records stage
// timers and data-quality counters in its registry.
type Pipeline struct {
	cfg      *config.Config
	registry metrics.Registry
	logger   log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRegistry records metrics into r instead of a private registry.
func WithRegistry(r metrics.Registry) Option {
	return func(p *Pipeline) {
		p.registry = r
	}
}

// New creates a Pipeline for cfg.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		registry: metrics.NewRegistry(),
		logger:   log.GetLoggerWithName("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run trains a bundle with cfg.
func Run(ctx context.Context, cfg *config.Config) (*RunReport, error) {
	return New(cfg).Run(ctx)
}

// Registry returns the metrics registry of the pipeline.
func (p *Pipeline) Registry() metrics.Registry { return p.registry }

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.GetOrRegisterTimer("stage."+name, p.registry).UpdateSince(start)
	if err != nil {
		return errors.Wrapf(err, "stage %s", name)
	}
	p.logger.Info("stage done",
		log.PhaseKey, name,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Pipeline) count(name string, n int) {
	metrics.GetOrRegisterCounter(name, p.registry).Inc(int64(n))
}

// Run executes every stage. Labels that fail to train are left out of the
// bundle and listed in RunReport.Failures; the run fails only when no label
// trains or a stage other than training fails.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report := &RunReport{ArtifactDir: p.cfg.Artifacts.Dir}

	var raw *dataset.Frame
	err := p.stage(StageIngestion, func() error {
		var err error
		if raw, err = dataset.LoadCSV(p.cfg.Data.Path); err != nil {
			return err
		}
		dataset.NormalizeLabels(raw)
		report.Profile = dataset.NewProfile(raw)
		p.count("data.rows", raw.NRows())
		return nil
	})
	if err != nil {
		return nil, err
	}

	var clean *dataset.Frame
	err = p.stage(StageCleaning, func() error {
		cleaner := cleaning.NewCleaner(
			cleaning.WithIQRFactor(p.cfg.Cleaning.IQRFactor),
			cleaning.WithTemperatureOffset(p.cfg.Cleaning.TemperatureOffset),
		)
		var err error
		if clean, report.Cleaning, err = cleaner.Clean(raw); err != nil {
			return err
		}
		p.count("cleaning.imputed", report.Cleaning.TotalImputed())
		p.count("cleaning.clipped", report.Cleaning.TotalClipped())
		p.count("cleaning.temperature_corrections", report.Cleaning.TemperatureCorrections)
		p.count("cleaning.wear_corrections", report.Cleaning.WearCorrections)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var (
		Y      *mat.Dense
		labels []string
		fold   model_selection.Fold
	)
	err = p.stage(StageSplit, func() error {
		if labels = dataset.PresentLabels(clean); len(labels) == 0 {
			return errors.NewSchemaError("pipeline.Run", "no failure label column", dataset.Labels)
		}
		var err error
		if Y, err = dataset.LabelMatrix(clean, labels); err != nil {
			return err
		}
		splitter := model_selection.NewMultilabelStratifiedShuffleSplit(p.cfg.Split.TestSize, p.cfg.Split.Seed)
		fold, err = splitter.Split(Y)
		return err
	})
	if err != nil {
		return nil, err
	}

	// group statistics only see the training rows
	var (
		eng *features.Engineer
		X   *mat.Dense
	)
	err = p.stage(StageFeatures, func() error {
		eng = features.NewEngineer(features.DefaultOptions())
		if err := eng.Fit(clean.Take(fold.TrainIndices)); err != nil {
			return err
		}
		engineered, err := eng.Transform(clean)
		if err != nil {
			return err
		}
		report.Features = dataset.FeatureColumns(engineered)
		X, err = engineered.Matrix(report.Features)
		return err
	})
	if err != nil {
		return nil, err
	}
	report.TrainRows, report.TestRows = len(fold.TrainIndices), len(fold.TestIndices)
	Ytrain := model_selection.TakeRows(Y, fold.TrainIndices)
	Ytest := model_selection.TakeRows(Y, fold.TestIndices)

	scaler := preprocessing.NewStandardScaler()
	var Xtrain, Xtest *mat.Dense
	err = p.stage(StageScaling, func() error {
		if err := scaler.FitNamed(model_selection.TakeRows(X, fold.TrainIndices), report.Features); err != nil {
			return err
		}
		tr, err := scaler.Transform(model_selection.TakeRows(X, fold.TrainIndices))
		if err != nil {
			return err
		}
		te, err := scaler.Transform(model_selection.TakeRows(X, fold.TestIndices))
		if err != nil {
			return err
		}
		Xtrain, Xtest = mat.DenseCopyOf(tr), mat.DenseCopyOf(te)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var res *training.Result
	err = p.stage(StageTraining, func() error {
		trainer := training.NewTrainer(p.cfg.Training, training.WithFeatureNames(report.Features))
		var trainErr error
		res, trainErr = trainer.TrainAll(ctx, Xtrain, Ytrain, labels)
		if res == nil {
			return trainErr
		}
		if trainErr != nil {
			p.logger.Warn("some labels failed to train",
				log.PhaseKey, log.PhaseTraining,
				log.CountKey, len(res.Failures),
				"error", trainErr,
			)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(res.Labels) == 0 {
			return errors.NewModelError("pipeline.Run", "no label trained", trainErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.count("training.labels", len(res.Labels))
	p.count("training.failures", len(res.Failures))
	if len(res.Failures) > 0 {
		report.Failures = make(map[string]string, len(res.Failures))
		for label, ferr := range res.Failures {
			report.Failures[label] = ferr.Error()
		}
	}
	report.Labels = res.Labels
	for _, label := range res.Labels {
		report.Training = append(report.Training, res.Reports[label])
	}

	bundle := &artifact.Bundle{
		Manifest:   artifact.NewManifest(report.Features, res.Labels, p.cfg.Training.Seed),
		Scaler:     scaler,
		Models:     res.Models,
		GroupStats: eng.Stats(),
		XTest:      Xtest,
		YTest:      labelColumns(Ytest, labels, res.Labels),
		Reports:    res.Reports,
	}
	report.RunID = bundle.Manifest.RunID

	err = p.stage(StageEvaluation, func() error {
		if err := bundle.Calibrate(p.cfg.Evaluation.Scan); err != nil {
			return err
		}
		var err error
		report.Evaluation, err = bundle.Evaluate()
		if err != nil {
			return err
		}
		metrics.GetOrRegisterGaugeFloat64("evaluation.macro_f1", p.registry).Update(report.Evaluation.MacroF1)
		metrics.GetOrRegisterGaugeFloat64("evaluation.micro_f1", p.registry).Update(report.Evaluation.MicroF1)
		metrics.GetOrRegisterGaugeFloat64("evaluation.hamming_loss", p.registry).Update(report.Evaluation.HammingLoss)
		p.logger.Info("held-out evaluation",
			log.PhaseKey, log.PhaseEvaluation,
			log.F1Key, report.Evaluation.MacroF1,
			log.HammingLossKey, report.Evaluation.HammingLoss,
			log.SamplesKey, report.TestRows,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := p.stage(StageSave, func() error { return artifact.Save(p.cfg.Artifacts.Dir, bundle) }); err != nil {
		return nil, err
	}

	err = p.stage(StageReports, func() error {
		var err error
		report.Files, err = writeRunReports(p.cfg.Artifacts.ReportsDir, report, bundle, p.cfg.Evaluation.Plots)
		return err
	})
	if err != nil {
		return nil, err
	}

	report.Metrics = p.registry.GetAll()
	p.logger.Info("training run finished",
		log.RunIDKey, report.RunID,
		log.ArtifactPathKey, report.ArtifactDir,
		log.TargetsKey, len(report.Labels),
	)
	return report, nil
}

// labelColumns keeps the columns of Y, laid out as all, that belong to keep.
func labelColumns(Y *mat.Dense, all, keep []string) *mat.Dense {
	index := make(map[string]int, len(all))
	for j, l := range all {
		index[l] = j
	}
	r, _ := Y.Dims()
	out := mat.NewDense(r, len(keep), nil)
	for k, l := range keep {
		out.SetCol(k, mat.Col(nil, index[l], Y))
	}
	return out
}

// Package config loads the pipeline configuration from an optional file and
// GEMBAGUARD_* environment variables.
//
// Keys mirror the mapstructure tags, so "training.cv_folds" is set by the
// cv_folds entry of the [training] table or by GEMBAGUARD_TRAINING_CV_FOLDS.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/YuminosukeSato/gembaguard/evaluation"
	"github.com/YuminosukeSato/gembaguard/features"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
	"github.com/YuminosukeSato/gembaguard/serving"
	"github.com/YuminosukeSato/gembaguard/training"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GEMBAGUARD"

type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Console bool   `mapstructure:"console"`
}

type DataConfig struct {
	// Path is the raw telemetry CSV used for training.
	Path string `mapstructure:"path"`
}

type CleaningConfig struct {
	IQRFactor         float64 `mapstructure:"iqr_factor" validate:"gt=0"`
	TemperatureOffset float64 `mapstructure:"temperature_offset" validate:"gte=0"`
}

type SplitConfig struct {
	TestSize float64 `mapstructure:"test_size" validate:"gt=0,lt=1"`
	Seed     int64   `mapstructure:"seed"`
}

type EvaluationConfig struct {
	Scan  evaluation.Scan `mapstructure:"scan"`
	Plots bool            `mapstructure:"plots"`
}

type ServingConfig struct {
	DefaultThreshold  float64 `mapstructure:"default_threshold" validate:"gte=0,lte=1"`
	CriticalThreshold float64 `mapstructure:"critical_threshold" validate:"gte=0,lte=1"`
	UseCalibrated     bool    `mapstructure:"use_calibrated"`
	// Defaults overrides back-fill values by exact feature name.
	Defaults       map[string]float64 `mapstructure:"defaults"`
	StrictDefaults bool               `mapstructure:"strict_defaults"`
	CacheTTL       time.Duration      `mapstructure:"cache_ttl" validate:"gte=0"`
	Workers        int                `mapstructure:"workers" validate:"gte=0"`
}

type ArtifactsConfig struct {
	// Dir holds the model bundle.
	Dir string `mapstructure:"dir" validate:"required"`
	// ReportsDir receives the profile, cleaning and evaluation reports.
	ReportsDir string `mapstructure:"reports_dir" validate:"required"`
}

// Config is the configuration of every pipeline stage.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Data       DataConfig       `mapstructure:"data"`
	Cleaning   CleaningConfig   `mapstructure:"cleaning"`
	Split      SplitConfig      `mapstructure:"split"`
	Training   training.Config  `mapstructure:"training"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Serving    ServingConfig    `mapstructure:"serving"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Log:      LogConfig{Level: "info"},
		Data:     DataConfig{Path: "data/bootcamp_train.csv"},
		Cleaning: CleaningConfig{IQRFactor: 3, TemperatureOffset: 1},
		Split:    SplitConfig{TestSize: 0.2, Seed: 42},
		Training: training.DefaultConfig(),
		Evaluation: EvaluationConfig{
			Scan:  evaluation.DefaultScan(),
			Plots: true,
		},
		Serving: ServingConfig{
			DefaultThreshold:  0.5,
			CriticalThreshold: serving.DefaultCriticalThreshold,
			UseCalibrated:     true,
			Defaults:          map[string]float64{},
			CacheTTL:          serving.DefaultCacheTTL,
		},
		Artifacts: ArtifactsConfig{Dir: "models", ReportsDir: "reports"},
	}
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
	v.SetDefault("data.path", d.Data.Path)
	v.SetDefault("cleaning.iqr_factor", d.Cleaning.IQRFactor)
	v.SetDefault("cleaning.temperature_offset", d.Cleaning.TemperatureOffset)
	v.SetDefault("split.test_size", d.Split.TestSize)
	v.SetDefault("split.seed", d.Split.Seed)

	v.SetDefault("training.seed", d.Training.Seed)
	v.SetDefault("training.max_positives_fixed", d.Training.MaxPositivesFixed)
	v.SetDefault("training.rare_ratio", d.Training.RareRatio)
	v.SetDefault("training.n_iter", d.Training.NIter)
	v.SetDefault("training.cv_folds", d.Training.CVFolds)
	v.SetDefault("training.workers", d.Training.Workers)
	v.SetDefault("training.smote_neighbors", d.Training.SMOTENeighbors)
	v.SetDefault("training.top_features", d.Training.TopFeatures)
	v.SetDefault("training.fixed_forest.n_estimators", d.Training.FixedForest.NEstimators)
	v.SetDefault("training.fixed_forest.max_depth", d.Training.FixedForest.MaxDepth)

	v.SetDefault("evaluation.scan.start", d.Evaluation.Scan.Start)
	v.SetDefault("evaluation.scan.stop", d.Evaluation.Scan.Stop)
	v.SetDefault("evaluation.scan.step", d.Evaluation.Scan.Step)
	v.SetDefault("evaluation.scan.default", d.Evaluation.Scan.Default)
	v.SetDefault("evaluation.plots", d.Evaluation.Plots)

	v.SetDefault("serving.default_threshold", d.Serving.DefaultThreshold)
	v.SetDefault("serving.critical_threshold", d.Serving.CriticalThreshold)
	v.SetDefault("serving.use_calibrated", d.Serving.UseCalibrated)
	v.SetDefault("serving.defaults", d.Serving.Defaults)
	v.SetDefault("serving.strict_defaults", d.Serving.StrictDefaults)
	v.SetDefault("serving.cache_ttl", d.Serving.CacheTTL)
	v.SetDefault("serving.workers", d.Serving.Workers)

	v.SetDefault("artifacts.dir", d.Artifacts.Dir)
	v.SetDefault("artifacts.reports_dir", d.Artifacts.ReportsDir)
}

// Load reads the configuration. path may be empty; its format follows the
// extension (TOML, YAML or JSON). Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.GetLoggerWithName("config").Debug("configuration loaded",
		"file", v.ConfigFileUsed(),
		log.RandomSeedKey, cfg.Training.Seed,
	)
	return cfg, nil
}

// LoadDotEnv loads the given .env files, ".env" when none is given, into
// the environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(existing...), "load .env")
}

var validate = validator.New()

// Validate checks every range constraint and reports the first violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.NewValidationError(fe.Namespace(), "violates "+fe.ActualTag()+" "+fe.Param(), fe.Value())
	}
	return errors.Wrap(err, "validate config")
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() log.Level {
	l, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.LevelInfo
	}
	return l
}

// DefaultsTable returns the back-fill table with the configured overrides.
func (c *Config) DefaultsTable() *features.Defaults {
	d := features.DefaultTable().WithOverrides(c.Serving.Defaults)
	d.Strict = c.Serving.StrictDefaults
	return d
}

// PredictorOptions returns the serving options of the configuration.
func (c *Config) PredictorOptions() []serving.PredictorOption {
	return []serving.PredictorOption{
		serving.WithCalibratedThresholds(c.Serving.UseCalibrated),
		serving.WithDefaultThreshold(c.Serving.DefaultThreshold),
		serving.WithCriticalThreshold(c.Serving.CriticalThreshold),
		serving.WithDefaults(c.DefaultsTable()),
		serving.WithWorkers(c.Serving.Workers),
	}
}

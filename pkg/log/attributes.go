// Package log defines standard attribute keys for pipeline logging.
//
// These keys follow a hierarchical naming convention (e.g. "model.name",
// "data.samples") so log records from every stage can be filtered the same way.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "RandomForestClassifier", "StandardScaler"
	ModelNameKey = "model.name"

	// ComponentKey identifies which component emitted the record.
	ComponentKey = "component"

	// OperationKey specifies the machine learning operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// PhaseKey indicates the pipeline stage.
	PhaseKey = "ml.phase"

	// RunIDKey identifies a training run; it is also stamped into the bundle manifest.
	RunIDKey = "run.id"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// TargetsKey indicates the number of target labels.
	TargetsKey = "data.targets"

	// ColumnKey names the column a record is about.
	ColumnKey = "data.column"

	// CountKey is a generic count (imputed cells, clipped values, alerts).
	CountKey = "data.count"
)

// Label training
const (
	// LabelKey names the failure label being processed ("FDF", "FA", ...).
	LabelKey = "target.label"

	// PositivesKey is the number of positive cases of a label.
	PositivesKey = "target.positives"

	// PositiveRatioKey is the positive-class ratio of a label.
	PositiveRatioKey = "target.positive_ratio"

	// StrategyKey is the specialized training strategy chosen for a label.
	StrategyKey = "train.strategy"

	// CandidateKey is the index of a hyperparameter search candidate.
	CandidateKey = "search.candidate"

	// ScoreKey is a cross-validated score.
	ScoreKey = "search.score"

	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// F1Key records an F1 score.
	F1Key = "metrics.f1"

	// HammingLossKey records the multilabel Hamming loss.
	HammingLossKey = "metrics.hamming_loss"
)

// Prediction and Output Context
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"

	// ThresholdKey records decision thresholds used for classification.
	ThresholdKey = "preds.threshold"

	// AlertsKey records how many alerts a batch raised.
	AlertsKey = "preds.alerts"
)

// Artifact context
const (
	// ArtifactPathKey is the path of a persisted artifact.
	ArtifactPathKey = "artifact.path"

	// ArtifactVersionKey is the version tag of a persisted artifact.
	ArtifactVersionKey = "artifact.version"
)

// Standard attribute value constants for common operations.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"

	PhaseIngestion  = "ingestion"
	PhaseCleaning   = "cleaning"
	PhaseFeatures   = "features"
	PhaseTraining   = "training"
	PhaseEvaluation = "evaluation"
	PhaseInference  = "inference"
)

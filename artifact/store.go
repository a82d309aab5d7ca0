package artifact

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gembaguard/core/model"
	"github.com/YuminosukeSato/gembaguard/evaluation"
	"github.com/YuminosukeSato/gembaguard/features"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
	"github.com/YuminosukeSato/gembaguard/preprocessing"
	"github.com/YuminosukeSato/gembaguard/training"
)

// payload is the gob-encoded part of a bundle.
type payload struct {
	Version     string
	Features    []string
	Labels      []string
	Models      map[string]*training.LabelModel
	GroupStats  *features.GroupStats
	XTest       *mat.Dense
	YTest       *mat.Dense
	Reports     map[string]*training.LabelReport
	Calibration map[string]evaluation.ThresholdResult
}

// Save writes the bundle into dir. Every file is written atomically, the
// manifest last.
func Save(dir string, b *Bundle) error {
	if err := validate(b); err != nil {
		return err
	}
	b.Manifest.Version = CurrentVersion.String()
	b.Manifest.TestSamples, _ = b.XTest.Dims()
	b.Manifest.Models = b.cards()

	if err := model.SaveModel(b.Scaler, filepath.Join(dir, ScalerFile)); err != nil {
		return err
	}
	p := payload{
		Version:     b.Manifest.Version,
		Features:    b.Manifest.Features,
		Labels:      b.Manifest.Labels,
		Models:      b.Models,
		GroupStats:  b.GroupStats,
		XTest:       b.XTest,
		YTest:       b.YTest,
		Reports:     b.Reports,
		Calibration: b.Calibration,
	}
	if err := model.SaveModel(&p, filepath.Join(dir, PayloadFile)); err != nil {
		return err
	}
	manifestPath := filepath.Join(dir, ManifestFile)
	err := model.WriteFileAtomic(manifestPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b.Manifest)
	})
	if err != nil {
		return err
	}

	log.GetLoggerWithName("artifact").Info("bundle saved",
		log.ArtifactPathKey, dir,
		log.ArtifactVersionKey, b.Manifest.Version,
		log.RunIDKey, b.Manifest.RunID,
		log.TargetsKey, len(b.Models),
	)
	return nil
}

func validate(b *Bundle) error {
	switch {
	case b == nil:
		return errors.NewValueError("artifact.Save", "nil bundle")
	case b.Scaler == nil || !b.Scaler.IsFitted():
		return errors.NewValueError("artifact.Save", "scaler is not fitted")
	case b.XTest == nil || b.YTest == nil:
		return errors.NewValueError("artifact.Save", "held-out split is missing")
	case len(b.Manifest.Features) == 0:
		return errors.NewValueError("artifact.Save", "no features")
	}
	for _, label := range b.Manifest.Labels {
		if _, ok := b.Models[label]; !ok {
			return errors.NewValueError("artifact.Save", "label "+label+" has no model")
		}
	}
	if _, c := b.YTest.Dims(); c != len(b.Manifest.Labels) {
		return errors.NewDimensionError("artifact.Save", len(b.Manifest.Labels), c, 1)
	}
	if _, c := b.XTest.Dims(); c != len(b.Manifest.Features) {
		return errors.NewDimensionError("artifact.Save", len(b.Manifest.Features), c, 1)
	}
	return nil
}

// Load reads a bundle from dir. Missing or corrupt files yield an
// ArtifactError; a version or schema mismatch yields an
// IncompatibleArtifactError.
func Load(dir string) (*Bundle, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, errors.NewArtifactError("open", manifestPath, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewArtifactError("decode", manifestPath, err)
	}
	if err := checkVersion(manifestPath, m.Version); err != nil {
		return nil, err
	}

	payloadPath := filepath.Join(dir, PayloadFile)
	var p payload
	if err := model.LoadModel(&p, payloadPath); err != nil {
		return nil, err
	}
	if p.Version != m.Version {
		return nil, errors.NewIncompatibleArtifactError(payloadPath, "payload version differs from manifest", m.Version, p.Version)
	}
	if !equalNames(p.Features, m.Features) {
		return nil, errors.NewIncompatibleArtifactError(payloadPath, "feature list differs from manifest",
			strings.Join(m.Features, ","), strings.Join(p.Features, ","))
	}
	if !equalNames(p.Labels, m.Labels) {
		return nil, errors.NewIncompatibleArtifactError(payloadPath, "label list differs from manifest",
			strings.Join(m.Labels, ","), strings.Join(p.Labels, ","))
	}

	scalerPath := filepath.Join(dir, ScalerFile)
	scaler := preprocessing.NewStandardScaler()
	if err := model.LoadModel(scaler, scalerPath); err != nil {
		return nil, err
	}
	if err := scaler.CheckFeatureNames(m.Features); err != nil {
		return nil, errors.NewIncompatibleArtifactError(scalerPath, "scaler features differ from manifest",
			strings.Join(m.Features, ","), strings.Join(scaler.FeatureNames(), ","))
	}
	for _, label := range m.Labels {
		if _, ok := p.Models[label]; !ok {
			return nil, errors.NewArtifactError("decode", payloadPath, errors.Newf("model of label %s missing", label))
		}
	}
	for i := range m.Models {
		if err := m.Models[i].Validate(); err != nil {
			return nil, errors.NewArtifactError("decode", manifestPath, err)
		}
	}

	b := &Bundle{
		Manifest:    m,
		Scaler:      scaler,
		Models:      p.Models,
		GroupStats:  p.GroupStats,
		XTest:       p.XTest,
		YTest:       p.YTest,
		Reports:     p.Reports,
		Calibration: p.Calibration,
	}
	if b.Manifest.Thresholds == nil {
		b.Manifest.Thresholds = make(map[string]float64)
	}
	log.GetLoggerWithName("artifact").Info("bundle loaded",
		log.ArtifactPathKey, dir,
		log.ArtifactVersionKey, m.Version,
		log.RunIDKey, m.RunID,
		log.TargetsKey, len(m.Labels),
	)
	return b, nil
}

func checkVersion(path, tag string) error {
	v, err := model.ParseVersion(tag)
	if err != nil {
		return errors.NewIncompatibleArtifactError(path, "unreadable version tag", CurrentVersion.String(), tag)
	}
	if !CurrentVersion.CompatibleWith(v) {
		return errors.NewIncompatibleArtifactError(path, "unsupported bundle version", CurrentVersion.String(), v.String())
	}
	return nil
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

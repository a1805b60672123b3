// Package pipeline - turns detector outputs into pseudo-label annotations for a whole run.
package pipeline

import (
	"os"

	"github.com/nvr-ai/go-pseudolabel/inference"
	"github.com/nvr-ai/go-pseudolabel/models"
	"github.com/nvr-ai/go-pseudolabel/models/cooccur"
	"github.com/nvr-ai/go-pseudolabel/models/postprocess"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every setting of a labelling run.
type Config struct {
	// ScoreThreshold is the exclusive minimum score a candidate needs to enter suppression.
	ScoreThreshold float32 `json:"score_threshold" yaml:"score_threshold"`
	// NMS configures per-class soft suppression.
	NMS postprocess.NMSConfig `json:"nms" yaml:"nms"`
	// MaxPerImage caps detections per image across classes. Zero disables the cap.
	MaxPerImage int `json:"max_per_image" yaml:"max_per_image"`
	// BoxDecoder configures the regression layout.
	BoxDecoder postprocess.BoxDecoderConfig `json:"box_decoder" yaml:"box_decoder"`
	// VisibilityThreshold is the inclusive minimum score a detection needs to be emitted.
	VisibilityThreshold float32 `json:"visibility_threshold" yaml:"visibility_threshold"`
	// Rescore configures co-occurrence rescoring.
	Rescore cooccur.RescoreConfig `json:"rescore" yaml:"rescore"`
	// LabelStyle selects a built-in label space when LabelSpacePath is empty.
	LabelStyle models.ModelFamily `json:"label_style" yaml:"label_style"`
	// LabelSpacePath is a YAML label space file.
	LabelSpacePath string `json:"label_space_path" yaml:"label_space_path"`
	// CooccurrencePath is a .npy or .json file of raw co-occurrence counts. Empty disables
	// rescoring.
	CooccurrencePath string `json:"cooccurrence_path" yaml:"cooccurrence_path"`
	// ImageDir holds the unlabeled images.
	ImageDir string `json:"image_dir" yaml:"image_dir"`
	// BatchSize is the number of images per predictor call.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// DatasetIn is an existing COCO dataset to extend. Optional.
	DatasetIn string `json:"dataset_in" yaml:"dataset_in"`
	// DatasetOut is where the annotated dataset is written.
	DatasetOut string `json:"dataset_out" yaml:"dataset_out"`
	// SQLitePath mirrors the new annotations into an SQLite database. Optional.
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
	// StartID is the first annotation id when DatasetIn has no annotations.
	StartID int64 `json:"start_id" yaml:"start_id"`
	// Model describes the ONNX detector.
	Model inference.ONNXConfig `json:"model" yaml:"model"`
	// LogLevel is a logrus level name.
	LogLevel string `json:"log_level" yaml:"log_level"`
	// LogFile receives a copy of the log. Optional.
	LogFile string `json:"log_file" yaml:"log_file"`
}

// DefaultConfig returns the settings of the COCO unlabeled2017 run.
//
// Returns:
//   - Config: The default configuration.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold:      1e-3,
		NMS:                 postprocess.DefaultNMSConfig(),
		MaxPerImage:         100,
		VisibilityThreshold: 0.5,
		Rescore:             cooccur.DefaultRescoreConfig(),
		LabelStyle:          models.ModelFamilyCOCO,
		BatchSize:           1,
		StartID:             1,
		Model:               inference.DefaultONNXConfig(),
		LogLevel:            "info",
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The merged configuration.
//   - error: An error if the file cannot be read or the result is invalid.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, errors.Wrapf(err, "parse config %s", path)
	}
	if err := config.Validate(); err != nil {
		return config, errors.Wrapf(err, "config %s", path)
	}
	return config, nil
}

// Validate checks the postprocessing settings. Paths are checked when they are opened.
func (c Config) Validate() error {
	if c.ScoreThreshold < 0 || c.ScoreThreshold >= 1 {
		return errors.Wrapf(ErrInvalidConfig, "score_threshold %v outside [0, 1)", c.ScoreThreshold)
	}
	if err := c.NMS.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	if c.MaxPerImage < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_per_image %d is negative", c.MaxPerImage)
	}
	if c.VisibilityThreshold < 0 || c.VisibilityThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "visibility_threshold %v outside [0, 1]", c.VisibilityThreshold)
	}
	if err := c.Rescore.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	if c.BatchSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "batch_size %d must be positive", c.BatchSize)
	}
	if c.StartID < 1 {
		return errors.Wrapf(ErrInvalidConfig, "start_id %d must be positive", c.StartID)
	}
	for i, s := range c.BoxDecoder.BBoxStds {
		if s < 0 {
			return errors.Wrapf(ErrInvalidConfig, "bbox_stds[%d] %v is negative", i, s)
		}
	}
	return nil
}

// LabelSpace resolves the configured label space.
func (c Config) LabelSpace() (*models.OutputClassSet, error) {
	if c.LabelSpacePath != "" {
		return models.LoadClassSet(c.LabelSpacePath)
	}
	return models.LookupClassSet(c.LabelStyle)
}

// CooccurrenceMatrix loads the configured matrix, or returns nil when rescoring is disabled.
// Rows of a .npy table are category ids 1..n.
func (c Config) CooccurrenceMatrix() (*cooccur.Matrix, error) {
	if c.CooccurrencePath == "" {
		return nil, nil
	}
	return cooccur.Load(c.CooccurrencePath, nil)
}

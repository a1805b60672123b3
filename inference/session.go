package inference

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// ONNXConfig describes a two-stage detector exported to ONNX with fixed shapes.
type ONNXConfig struct {
	// ModelPath is the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// LibraryPath is the onnxruntime shared library. Empty uses the platform default.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// DataInput is the name of the [1, 3, H, W] image input.
	DataInput string `json:"data_input" yaml:"data_input"`
	// InfoInput is the name of the [1, 3] (height, width, scale) input.
	InfoInput string `json:"info_input" yaml:"info_input"`
	// RoisOutput is the name of the [R, 5] proposals output.
	RoisOutput string `json:"rois_output" yaml:"rois_output"`
	// ScoresOutput is the name of the [R, C] class probability output.
	ScoresOutput string `json:"scores_output" yaml:"scores_output"`
	// DeltasOutput is the name of the [R, 4C] or [R, 8] regression output.
	DeltasOutput string `json:"deltas_output" yaml:"deltas_output"`
	// Height is the network input height.
	Height int `json:"height" yaml:"height"`
	// Width is the network input width.
	Width int `json:"width" yaml:"width"`
	// NumRois is the fixed number of proposals per image.
	NumRois int `json:"num_rois" yaml:"num_rois"`
	// NumClasses counts classes including background.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// ClassAgnostic is true when the regression output has 8 columns.
	ClassAgnostic bool `json:"class_agnostic" yaml:"class_agnostic"`
	// PixelMeans are the RGB channel means.
	PixelMeans [3]float32 `json:"pixel_means" yaml:"pixel_means"`
	// Session configures the onnxruntime session.
	Session SessionConfig `json:"session" yaml:"session"`
}

// DefaultONNXConfig returns the layout of an R-FCN COCO export: 600×1000 input, 300
// proposals and 81 classes.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		DataInput:    "data",
		InfoInput:    "im_info",
		RoisOutput:   "rois",
		ScoresOutput: "cls_prob",
		DeltasOutput: "bbox_pred",
		Height:       600,
		Width:        1000,
		NumRois:      300,
		NumClasses:   81,
		PixelMeans:   DefaultPixelMeans,
		Session:      DefaultSessionConfig(),
	}
}

// Validate checks that the config describes a loadable model.
func (c ONNXConfig) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model_path is required")
	}
	if c.Height <= 0 || c.Width <= 0 {
		return errors.Errorf("invalid input size %dx%d", c.Width, c.Height)
	}
	if c.NumRois <= 0 || c.NumClasses < 2 {
		return errors.Errorf("invalid output size: %d rois, %d classes", c.NumRois, c.NumClasses)
	}
	for _, f := range [][2]string{
		{"data_input", c.DataInput},
		{"info_input", c.InfoInput},
		{"rois_output", c.RoisOutput},
		{"scores_output", c.ScoresOutput},
		{"deltas_output", c.DeltasOutput},
	} {
		if f[1] == "" {
			return errors.Errorf("%s is required", f[0])
		}
	}
	return c.Session.Validate()
}

func (c ONNXConfig) deltaColumns() int {
	if c.ClassAgnostic {
		return 8
	}
	return 4 * c.NumClasses
}

// ONNXPredictor runs a detector through onnxruntime with preallocated tensors. Runs are
// serialized, one frame at a time.
type ONNXPredictor struct {
	config  ONNXConfig
	mu      sync.Mutex
	session *ort.AdvancedSession
	data    *ort.Tensor[float32]
	info    *ort.Tensor[float32]
	rois    *ort.Tensor[float32]
	scores  *ort.Tensor[float32]
	deltas  *ort.Tensor[float32]
}

var envOnce sync.Once
var envErr error

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		ort.SetSharedLibraryPath(libPath)
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// NewONNXPredictor loads the model and allocates its input and output tensors.
//
// Arguments:
//   - config: The model layout and session settings.
//
// Returns:
//   - *ONNXPredictor: The predictor. Close releases its native resources.
//   - error: An error if the runtime or the model cannot be loaded.
func NewONNXPredictor(config ONNXConfig) (*ONNXPredictor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid onnx config")
	}
	libPath, err := SharedLibraryPath(config.LibraryPath)
	if err != nil {
		return nil, err
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, errors.Wrap(err, "error initializing ORT environment")
	}

	p := &ONNXPredictor{config: config}
	if err := p.allocate(); err != nil {
		p.Close()
		return nil, err
	}

	options, err := config.Session.SessionOptions()
	if err != nil {
		p.Close()
		return nil, err
	}
	defer options.Destroy()

	p.session, err = ort.NewAdvancedSession(
		config.ModelPath,
		[]string{config.DataInput, config.InfoInput},
		[]string{config.RoisOutput, config.ScoresOutput, config.DeltasOutput},
		[]ort.ArbitraryTensor{p.data, p.info},
		[]ort.ArbitraryTensor{p.rois, p.scores, p.deltas},
		options,
	)
	if err != nil {
		p.Close()
		return nil, errors.Wrap(err, "error creating ORT session")
	}
	return p, nil
}

func (p *ONNXPredictor) allocate() error {
	c := p.config
	var err error
	if p.data, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(c.Height), int64(c.Width))); err != nil {
		return errors.Wrap(err, "error creating data tensor")
	}
	if p.info, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3)); err != nil {
		return errors.Wrap(err, "error creating im_info tensor")
	}
	if p.rois, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(c.NumRois), 5)); err != nil {
		return errors.Wrap(err, "error creating rois tensor")
	}
	if p.scores, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(c.NumRois), int64(c.NumClasses))); err != nil {
		return errors.Wrap(err, "error creating scores tensor")
	}
	if p.deltas, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(c.NumRois), int64(c.deltaColumns()))); err != nil {
		return errors.Wrap(err, "error creating deltas tensor")
	}
	return nil
}

// Predict runs the model once per frame.
func (p *ONNXPredictor) Predict(ctx context.Context, frames []Frame) ([]Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil, errors.New("predictor is closed")
	}

	c := p.config
	outputs := make([]Output, 0, len(frames))
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		scale, err := PrepareInput(f.Image, c.Height, c.Width, c.PixelMeans, p.data.GetData())
		if err != nil {
			return nil, errors.Wrapf(err, "prepare %s", f.Name)
		}
		copy(p.info.GetData(), []float32{float32(c.Height), float32(c.Width), scale})

		if err := p.session.Run(); err != nil {
			return nil, errors.Wrapf(err, "run %s", f.Name)
		}

		outputs = append(outputs, Output{
			ImageID: f.ID,
			Name:    f.Name,
			Rois:    denseCopy(p.rois.GetData(), c.NumRois, 5),
			Scores:  denseCopy(p.scores.GetData(), c.NumRois, c.NumClasses),
			Deltas:  denseCopy(p.deltas.GetData(), c.NumRois, c.deltaColumns()),
			Height:  c.Height,
			Width:   c.Width,
			Scale:   scale,
		})
	}
	return outputs, nil
}

// Close releases the session and its tensors.
func (p *ONNXPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.session != nil {
		if derr := p.session.Destroy(); derr != nil {
			err = errors.Wrap(derr, "error destroying ORT session")
		}
		p.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{p.data, p.info, p.rois, p.scores, p.deltas} {
		if t != nil {
			t.Destroy()
		}
	}
	p.data, p.info, p.rois, p.scores, p.deltas = nil, nil, nil, nil, nil
	return err
}

// denseCopy copies a reused output buffer into a fresh rows×cols tensor.
func denseCopy(data []float32, rows, cols int) *tensor.Dense {
	backing := make([]float32, rows*cols)
	copy(backing, data)
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing))
}

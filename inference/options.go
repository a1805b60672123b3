package inference

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend is an onnxruntime execution provider.
type Backend string

const (
	// BackendCPU runs on the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCUDA runs on an NVIDIA GPU.
	BackendCUDA Backend = "cuda"
	// BackendCoreML runs on Apple silicon.
	BackendCoreML Backend = "coreml"
)

// SessionConfig controls threading, graph optimization and the execution provider.
type SessionConfig struct {
	// Backend selects the execution provider.
	Backend Backend `json:"backend" yaml:"backend"`
	// DeviceID is the GPU to use with the CUDA backend.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// IntraOpThreads parallelizes work inside a node. Zero lets onnxruntime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads parallelizes independent nodes. Zero lets onnxruntime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// Optimization is one of "disabled", "basic", "extended" or "all".
	Optimization string `json:"optimization" yaml:"optimization"`
}

// DefaultSessionConfig returns CPU execution with extended graph optimization.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Backend:      BackendCPU,
		Optimization: "extended",
	}
}

// Validate checks the backend name, thread counts and optimization level.
func (c SessionConfig) Validate() error {
	switch c.Backend {
	case BackendCPU, BackendCUDA, BackendCoreML:
	default:
		return errors.Errorf("unsupported backend %q", c.Backend)
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	_, err := c.optimizationLevel()
	return err
}

func (c SessionConfig) optimizationLevel() (ort.GraphOptimizationLevel, error) {
	switch strings.ToLower(c.Optimization) {
	case "disabled":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, errors.Errorf("unknown graph optimization level %q", c.Optimization)
	}
}

// SessionOptions builds native session options. The caller destroys them.
func (c SessionConfig) SessionOptions() (*ort.SessionOptions, error) {
	level, err := c.optimizationLevel()
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	if err := c.apply(options, level); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func (c SessionConfig) apply(options *ort.SessionOptions, level ort.GraphOptimizationLevel) error {
	if err := options.SetIntraOpNumThreads(c.IntraOpThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(c.InterOpThreads); err != nil {
		return errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}

	switch c.Backend {
	case BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case BackendCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(c.DeviceID)}); err != nil {
			return errors.Wrap(err, "error updating CUDA options")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	}
	return nil
}

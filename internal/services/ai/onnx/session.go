// Package onnx runs YOLO weights through ONNX Runtime.
package onnx

import (
	"context"
	"image"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"visionrelay/internal/models"
	"visionrelay/internal/services/ai"
)

// InitEnvironment loads the ONNX Runtime shared library. It must be called once
// before Load.
func InitEnvironment(libraryPath string) error {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "failed to initialize ONNX environment")
	}
	return nil
}

// DestroyEnvironment releases the runtime after every session is closed.
func DestroyEnvironment() {
	_ = ort.DestroyEnvironment()
}

// Session is an ai.Detector backed by one ONNX Runtime session with fixed
// input and output tensors.
type Session struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	outDims   []int
	opts      ai.Options
	modelPath string
}

// Load opens modelPath. The first input must accept [1,3,S,S] and the first
// output must have a static shape.
func Load(modelPath string, opts ai.Options) (*Session, error) {
	opts = opts.WithDefaults()
	if err := ai.CheckModelFile(modelPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inspect %s", modelPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Errorf("model %s has no inputs or outputs", modelPath)
	}

	outDims := make([]int, len(outputs[0].Dimensions))
	for i, d := range outputs[0].Dimensions {
		if d <= 0 {
			return nil, errors.Errorf("model %s output %q has dynamic shape %v", modelPath, outputs[0].Name, outputs[0].Dimensions)
		}
		outDims[i] = int(d)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating session options")
	}
	defer options.Destroy()

	_ = options.SetIntraOpNumThreads(runtime.NumCPU())
	_ = options.SetInterOpNumThreads(runtime.NumCPU())

	size := int64(opts.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputs[0].Dimensions)
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating session")
	}

	return &Session{
		session:   session,
		input:     inputTensor,
		output:    outputTensor,
		outDims:   outDims,
		opts:      opts,
		modelPath: modelPath,
	}, nil
}

// Detect fills the input tensor from img, runs the session and decodes the output.
func (s *Session) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ai.ToTensor(img, s.opts.InputSize, s.input.GetData())
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "model inference")
	}

	bounds := img.Bounds()
	return ai.DecodeOutput(s.output.GetData(), s.outDims, bounds.Dx(), bounds.Dy(), s.opts)
}

// Close destroys the session and its tensors.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
	return err
}

// Package opencv runs YOLO ONNX weights through OpenCV's DNN module.
package opencv

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"visionrelay/internal/logger"
	"visionrelay/internal/models"
	"visionrelay/internal/services/ai"
)

// Net is an ai.Detector backed by a gocv.Net.
type Net struct {
	mu        sync.Mutex
	net       gocv.Net
	modelPath string
	opts      ai.Options
	logger    *logger.Logger
}

// Load reads the ONNX weights at modelPath and prepares a CPU network.
func Load(modelPath string, opts ai.Options, logger *logger.Logger) (*Net, error) {
	if err := ai.CheckModelFile(modelPath); err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load network from %s", modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, errors.New("failed to set preferable backend or target")
	}

	logger.Info("Detection network %s initialized successfully", modelPath)
	return &Net{
		net:       net,
		modelPath: modelPath,
		opts:      opts.WithDefaults(),
		logger:    logger,
	}, nil
}

// Detect resizes img to the network input, scales pixels to [0,1] and runs a
// forward pass.
func (n *Net) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert image to Mat")
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("decoded image is empty")
	}

	size := n.opts.InputSize
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.net.SetInput(blob, ""); err != nil {
		return nil, errors.Wrap(err, "failed to set network input")
	}
	output := n.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read network output")
	}

	bounds := img.Bounds()
	return ai.DecodeOutput(data, output.Size(), bounds.Dx(), bounds.Dy(), n.opts)
}

// Close releases the network.
func (n *Net) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.net.Close()
}

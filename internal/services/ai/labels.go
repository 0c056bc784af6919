package ai

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// COCOLabels is the 80-class label table the YOLO weights were trained on.
var COCOLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

// CheckModelFile fails unless path names an existing regular file.
func CheckModelFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "model file %s", path)
	}
	if !info.Mode().IsRegular() {
		return errors.Errorf("model file %s is not a regular file", path)
	}
	return nil
}

// LoadLabels reads one label per line; blank lines and lines starting with # are skipped.
// An empty path returns COCOLabels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return COCOLabels, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open labels file")
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read labels file")
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

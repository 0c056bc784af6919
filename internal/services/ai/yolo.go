package ai

import (
	"sort"

	"github.com/pkg/errors"

	"visionrelay/internal/models"
)

// candidate is a box in model-input pixel space before scaling and rounding.
type candidate struct {
	x1, y1, x2, y2 float32
	score          float32
	classID        int
}

// DecodeOutput converts a raw YOLO output tensor into detections expressed in
// pixels of the original origW x origH image.
//
// Two layouts are understood:
//   - [1, 4+classes, anchors] (YOLOv8 head, or its transpose [1, anchors, 4+classes]):
//     cx, cy, w, h followed by per-class scores; class-wise NMS is applied.
//   - [1, boxes, 6] (YOLOv10 end-to-end head): x1, y1, x2, y2, score, class; already NMS-free.
//
// With LayoutAuto the anchor head is recognised by a dimension equal to
// 4+len(Labels), so a two-class label file makes [1, N, 6] an anchor head. A
// two-class YOLOv10 model needs LayoutEndToEnd set explicitly.
func DecodeOutput(data []float32, dims []int, origW, origH int, opts Options) ([]models.Detection, error) {
	opts = opts.WithDefaults()
	if len(dims) != 3 || dims[0] != 1 {
		return nil, errors.Errorf("unexpected output shape %v", dims)
	}
	if len(data) < dims[1]*dims[2] {
		return nil, errors.Errorf("output has %d values, shape %v needs %d", len(data), dims, dims[1]*dims[2])
	}

	layout, channelsFirst := resolveLayout(dims, opts)
	var cands []candidate
	switch {
	case layout == LayoutEndToEnd:
		if dims[2] != 6 {
			return nil, errors.Errorf("end-to-end output needs 6 values per box, shape is %v", dims)
		}
		cands = decodeEndToEnd(data, dims[1], opts)
	case channelsFirst:
		cands = decodeAnchors(data, dims[1], dims[2], true, opts)
	default:
		cands = decodeAnchors(data, dims[2], dims[1], false, opts)
	}
	if len(cands) == 0 {
		return []models.Detection{}, nil
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if layout != LayoutEndToEnd {
		cands = nonMaxSuppression(cands, float32(opts.NMSThreshold))
	}

	sx := float32(origW) / float32(opts.InputSize)
	sy := float32(origH) / float32(opts.InputSize)
	out := make([]models.Detection, 0, len(cands))
	for _, c := range cands {
		out = append(out, models.NewDetection(
			opts.Label(c.classID),
			float64(c.score),
			clampInt(c.x1*sx, origW),
			clampInt(c.y1*sy, origH),
			clampInt(c.x2*sx, origW),
			clampInt(c.y2*sy, origH),
		))
	}
	return out, nil
}

// resolveLayout reports the layout of dims and, for anchor heads, whether the
// channel axis comes first.
func resolveLayout(dims []int, opts Options) (Layout, bool) {
	channels := 4 + len(opts.Labels)
	switch opts.Layout {
	case LayoutEndToEnd:
		return LayoutEndToEnd, false
	case LayoutAnchors:
		if dims[1] == channels || dims[2] == channels {
			return LayoutAnchors, dims[1] == channels
		}
		return LayoutAnchors, dims[1] < dims[2]
	}

	switch {
	case dims[1] == channels:
		return LayoutAnchors, true
	case dims[2] == channels:
		return LayoutAnchors, false
	case dims[2] == 6:
		return LayoutEndToEnd, false
	}
	// Label file and model disagree; the channel axis is the shorter one.
	return LayoutAnchors, dims[1] < dims[2]
}

// decodeAnchors reads cx,cy,w,h + class scores. channelsFirst selects between
// data[ch*anchors+i] and data[i*channels+ch].
func decodeAnchors(data []float32, channels, anchors int, channelsFirst bool, opts Options) []candidate {
	if channels < 5 {
		return nil
	}
	at := func(ch, i int) float32 {
		if channelsFirst {
			return data[ch*anchors+i]
		}
		return data[i*channels+ch]
	}

	threshold := float32(opts.ConfidenceThreshold)
	var cands []candidate
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, threshold
		for ch := 4; ch < channels; ch++ {
			if s := at(ch, i); s >= bestScore {
				best, bestScore = ch-4, s
			}
		}
		if best < 0 {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		cands = append(cands, candidate{
			x1: cx - w/2, y1: cy - h/2,
			x2: cx + w/2, y2: cy + h/2,
			score:   bestScore,
			classID: best,
		})
	}
	return cands
}

func decodeEndToEnd(data []float32, rows int, opts Options) []candidate {
	threshold := float32(opts.ConfidenceThreshold)
	var cands []candidate
	for i := 0; i < rows; i++ {
		row := data[i*6 : i*6+6]
		if row[4] < threshold {
			continue
		}
		cands = append(cands, candidate{
			x1: row[0], y1: row[1], x2: row[2], y2: row[3],
			score:   row[4],
			classID: int(row[5]),
		})
	}
	return cands
}

// nonMaxSuppression expects cands sorted by descending score and keeps, per
// class, boxes whose IoU with every kept box is at most threshold.
func nonMaxSuppression(cands []candidate, threshold float32) []candidate {
	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		suppressed := false
		for _, k := range kept {
			if k.classID == c.classID && iou(k, c) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

func iou(a, b candidate) float32 {
	ix1, iy1 := max(a.x1, b.x1), max(a.y1, b.y1)
	ix2, iy2 := min(a.x2, b.x2), min(a.y2, b.y2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := (a.x2-a.x1)*(a.y2-a.y1) + (b.x2-b.x1)*(b.y2-b.y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampInt(v float32, limit int) int {
	switch {
	case v < 0:
		return 0
	case v > float32(limit):
		return limit
	}
	return int(v)
}

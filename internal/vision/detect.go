package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

// FaceDetector finds faces in a frame. The analyzer itself never detects;
// service layers call a detector when the caller supplied no boxes.
type FaceDetector interface {
	Detect(ctx context.Context, frame *Frame) ([]FaceBoundingBox, error)
}

// RetinaFace runs RetinaFace (det_10g) face detection using ONNX Runtime.
// The session reuses bound tensors, so calls are serialized.
type RetinaFace struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	iouThreshold  float32
	inputW        int
	inputH        int
}

var _ FaceDetector = (*RetinaFace)(nil)

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per pixel at each stride
const anchorsPerStride = 2

var landmarkNames = [5]string{"left_eye", "right_eye", "nose", "mouth_left", "mouth_right"}

// NewRetinaFace loads the RetinaFace ONNX model.
func NewRetinaFace(modelPath string, threshold float32) (*RetinaFace, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g output shapes (NO batch dimension):
	// scores:    [12800,1] [3200,1] [800,1]     -> stride 8, 16, 32
	// bboxes:    [12800,4] [3200,4] [800,4]     -> stride 8, 16, 32
	// landmarks: [12800,10] [3200,10] [800,10]  -> stride 8, 16, 32
	type outputSpec struct {
		name  string
		shape ort.Shape
	}

	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &RetinaFace{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		iouThreshold:  0.4,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect returns faces sorted by descending confidence after NMS.
func (d *RetinaFace) Detect(ctx context.Context, frame *Frame) ([]FaceBoundingBox, error) {
	img, err := frame.Decode()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	input := imageToCHW(img, d.inputW, d.inputH, 127.5, 128.0)

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	dets := nms(d.parseDetections(bounds.Dx(), bounds.Dy()), d.iouThreshold)

	boxes := make([]FaceBoundingBox, 0, len(dets))
	for _, det := range dets {
		boxes = append(boxes, det.toBox())
	}
	return boxes, nil
}

// detection is a raw decoded anchor in corner form.
type detection struct {
	bbox       [4]float32 // x1, y1, x2, y2
	confidence float32
	landmarks  [5][2]float32
}

func (det detection) toBox() FaceBoundingBox {
	lms := make([]Landmark, len(det.landmarks))
	for i, lm := range det.landmarks {
		lms[i] = Landmark{Type: landmarkNames[i], X: float64(lm[0]), Y: float64(lm[1])}
	}
	return FaceBoundingBox{
		X:          float64(det.bbox[0]),
		Y:          float64(det.bbox[1]),
		Width:      float64(det.bbox[2] - det.bbox[0]),
		Height:     float64(det.bbox[3] - det.bbox[1]),
		Confidence: det.confidence,
		Landmarks:  lms,
	}
}

// parseDetections decodes anchor-based RetinaFace outputs at strides 8, 16, 32.
func (d *RetinaFace) parseDetections(origW, origH int) []detection {
	var detections []detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()
		landmarks := d.outputTensors[si+6].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if scores[idx] >= d.threshold {
						anchorX := float32(cx) * st
						anchorY := float32(cy) * st

						x1 := clampF((anchorX-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW))
						y1 := clampF((anchorY-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH))
						x2 := clampF((anchorX+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW))
						y2 := clampF((anchorY+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH))

						var lm [5][2]float32
						for li := 0; li < 5; li++ {
							lm[li][0] = (anchorX + landmarks[idx*10+li*2]*st) * scaleW
							lm[li][1] = (anchorY + landmarks[idx*10+li*2+1]*st) * scaleH
						}

						detections = append(detections, detection{
							bbox:       [4]float32{x1, y1, x2, y2},
							confidence: scores[idx],
							landmarks:  lm,
						})
					}
					idx++
				}
			}
		}
	}

	return detections
}

func (d *RetinaFace) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// imageToCHW resizes img (nearest neighbour) and converts it to planar
// float32 with pixel = (pixel - mean) / std.
func imageToCHW(img image.Image, targetW, targetH int, mean, std float32) []float32 {
	resized := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.NearestNeighbor.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := targetW * targetH
	data := make([]float32, 3*plane)
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			i := resized.PixOffset(x, y)
			idx := y*targetW + x
			data[0*plane+idx] = (float32(resized.Pix[i]) - mean) / std
			data[1*plane+idx] = (float32(resized.Pix[i+1]) - mean) / std
			data[2*plane+idx] = (float32(resized.Pix[i+2]) - mean) / std
		}
	}
	return data
}

// nms performs Non-Maximum Suppression on detections.
func nms(detections []detection, iouThreshold float32) []detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].confidence > detections[j].confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && iou(detections[i].bbox, detections[j].bbox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

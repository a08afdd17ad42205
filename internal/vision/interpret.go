package vision

import (
	"fmt"
	"math"
)

// Score is one label of a domain with its raw model output.
type Score struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Prediction is the interpreted output of one classifier.
type Prediction struct {
	Label       string  `json:"label"`
	Confidence  float32 `json:"confidence"`
	Scores      []Score `json:"scores"`
	InferenceMs float64 `json:"inference_ms"`
}

// Interpret maps a probability vector to the arg-max label of domain.
// Ties go to the lowest index. The vector does not have to sum to 1;
// confidence is the raw value at the winning index. Vectors holding NaN or
// ±Inf are rejected with ErrNonFiniteOutput.
func Interpret(domain Domain, probs []float32) (Prediction, error) {
	labels := domain.Labels()
	if labels == nil {
		return Prediction{}, fmt.Errorf("unknown domain %q", domain)
	}
	if len(probs) != len(labels) {
		return Prediction{}, fmt.Errorf("%w: %s expects %d classes, got %d",
			ErrLabelIndexOutOfRange, domain, len(labels), len(probs))
	}

	best := 0
	for i, p := range probs {
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			return Prediction{}, fmt.Errorf("%w: %s score %d is %v", ErrNonFiniteOutput, domain, i, p)
		}
		if p > probs[best] {
			best = i
		}
	}

	scores := make([]Score, len(probs))
	for i, p := range probs {
		scores[i] = Score{Label: labels[i], Confidence: p}
	}

	return Prediction{
		Label:      labels[best],
		Confidence: probs[best],
		Scores:     scores,
	}, nil
}

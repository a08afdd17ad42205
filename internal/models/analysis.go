package models

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattr/internal/vision"
)

// AttributeDims is the length of the attribute vector stored per analysis:
// the concatenated scores of age, gender and expression.
const AttributeDims = 7 + 2 + 7

// Analysis is one persisted analysis (history entry).
type Analysis struct {
	ID          uuid.UUID             `json:"id" db:"id"`
	Source      string                `json:"source" db:"source"`
	Result      vision.AnalysisResult `json:"result" db:"result"`
	SnapshotKey string                `json:"snapshot_key,omitempty" db:"snapshot_key"`
	CreatedAt   time.Time             `json:"created_at" db:"created_at"`
}

// SimilarAnalysis is a history entry ranked by attribute-vector similarity.
type SimilarAnalysis struct {
	Analysis
	Similarity float32 `json:"similarity"`
}

// AnalysisStats summarizes the history.
type AnalysisStats struct {
	Total           int64                       `json:"total"`
	AvgProcessingMs float64                     `json:"avg_processing_ms"`
	LabelCounts     map[string]map[string]int64 `json:"label_counts"` // domain -> label -> count
	LastAnalysisAt  *time.Time                  `json:"last_analysis_at,omitempty"`
}

// AttributeVector concatenates the per-label scores of every domain in a
// fixed order. Missing and non-finite scores are stored as zero.
func AttributeVector(r *vision.AnalysisResult) []float32 {
	vec := make([]float32, 0, AttributeDims)
	for _, d := range vision.Domains {
		scores := r.Prediction(d).Scores
		for i := 0; i < d.Classes(); i++ {
			var v float32
			if i < len(scores) {
				v = scores[i].Confidence
			}
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				v = 0
			}
			vec = append(vec, v)
		}
	}
	return vec
}

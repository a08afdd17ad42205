package vision

import (
	"errors"
	"fmt"
)

var (
	ErrNoFaceDetected       = errors.New("no face detected")
	ErrImageDecode          = errors.New("image decode failed")
	ErrInvalidBounds        = errors.New("invalid face bounds")
	ErrModelNotLoaded       = errors.New("model not loaded")
	ErrShapeMismatch        = errors.New("tensor shape mismatch")
	ErrLabelIndexOutOfRange = errors.New("label index out of range")
	ErrNonFiniteOutput      = errors.New("non-finite model output")
	ErrCancelled            = errors.New("analysis cancelled")
	ErrTimeout              = errors.New("inference timeout")
)

// AnalysisFailedError is the only error type Analyzer.Analyze returns.
// Domain is empty for failures that happen before the per-domain fan-out.
type AnalysisFailedError struct {
	Domain Domain
	Stage  Stage
	Err    error
}

func (e *AnalysisFailedError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("analysis failed: %s model: %v", e.Domain, e.Err)
	}
	return fmt.Sprintf("analysis failed at %s: %v", e.Stage, e.Err)
}

func (e *AnalysisFailedError) Unwrap() error {
	return e.Err
}

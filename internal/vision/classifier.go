package vision

import (
	"context"
	"fmt"
)

// Classifier produces one probability vector per input tensor.
// Implementations must be safe for concurrent Predict calls.
type Classifier interface {
	Predict(ctx context.Context, t *Tensor) ([]float32, error)
	Domain() Domain
	InputShape() Shape
}

// Backend runs a model forward pass on a flattened NHWC input.
type Backend interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Adapter exposes a Backend through the Classifier contract: it checks the
// input shape and runs the forward pass exactly once per call.
type Adapter struct {
	domain  Domain
	shape   Shape
	backend Backend
}

var _ Classifier = (*Adapter)(nil)

// NewAdapter wraps backend for the given domain. A nil backend yields an
// adapter whose Predict fails with ErrModelNotLoaded.
func NewAdapter(domain Domain, backend Backend) *Adapter {
	return &Adapter{
		domain:  domain,
		shape:   domain.InputShape(),
		backend: backend,
	}
}

func (a *Adapter) Domain() Domain    { return a.domain }
func (a *Adapter) InputShape() Shape { return a.shape }

type runResult struct {
	probs []float32
	err   error
}

// Predict validates t and returns the model's raw output vector.
// If ctx ends first, Predict returns ctx.Err(); the forward pass is abandoned
// and releases its own buffers when it finishes.
func (a *Adapter) Predict(ctx context.Context, t *Tensor) ([]float32, error) {
	if a == nil || a.backend == nil {
		return nil, ErrModelNotLoaded
	}
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if t.Shape != a.shape || !t.Valid() {
		return nil, fmt.Errorf("%w: got %s (%d values), want %s", ErrShapeMismatch, t.Shape, len(t.Data), a.shape)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan runResult, 1)
	go func() {
		probs, err := a.backend.Run(t.Data)
		done <- runResult{probs: probs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("run %s model: %w", a.domain, r.err)
		}
		return r.probs, nil
	}
}

// Close releases the backend.
func (a *Adapter) Close() error {
	if a == nil || a.backend == nil {
		return nil
	}
	return a.backend.Close()
}

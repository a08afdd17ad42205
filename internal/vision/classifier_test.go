package vision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_Predict(t *testing.T) {
	a := NewAdapter(DomainGender, NewFixtureBackend([]float32{0.3, 0.7}))

	assert.Equal(t, DomainGender, a.Domain())
	assert.Equal(t, Shape{1, 224, 224, 3}, a.InputShape())

	probs, err := a.Predict(context.Background(), NewTensor(a.InputShape()))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.3, 0.7}, probs)

	// callers own the returned slice
	probs[0] = 42
	again, err := a.Predict(context.Background(), NewTensor(a.InputShape()))
	require.NoError(t, err)
	assert.Equal(t, float32(0.3), again[0])
}

func TestAdapter_ShapeMismatch(t *testing.T) {
	a := NewAdapter(DomainExpression, NewFixtureBackend(make([]float32, 7)))

	_, err := a.Predict(context.Background(), NewTensor(Shape{1, 224, 224, 3}))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = a.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	short := &Tensor{Shape: a.InputShape(), Data: make([]float32, 10)}
	_, err = a.Predict(context.Background(), short)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestAdapter_NotLoaded(t *testing.T) {
	a := NewAdapter(DomainAge, nil)
	_, err := a.Predict(context.Background(), NewTensor(a.InputShape()))
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	assert.NoError(t, a.Close())
}

func TestAdapter_BackendError(t *testing.T) {
	a := NewAdapter(DomainAge, failingBackend{err: errBackend})
	_, err := a.Predict(context.Background(), NewTensor(a.InputShape()))
	assert.ErrorIs(t, err, errBackend)
	assert.Contains(t, err.Error(), "run age model")
}

func TestAdapter_ContextDone(t *testing.T) {
	t.Run("already cancelled", func(t *testing.T) {
		a := NewAdapter(DomainAge, NewFixtureBackend(make([]float32, 7)))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := a.Predict(ctx, NewTensor(a.InputShape()))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("deadline while running", func(t *testing.T) {
		a := NewAdapter(DomainAge, newBlockingBackend(t, DomainAge))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := a.Predict(ctx, NewTensor(a.InputShape()))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestDefaultFixture(t *testing.T) {
	for _, d := range Domains {
		probs, err := DefaultFixture(d)
		require.NoError(t, err)
		assert.Len(t, probs, d.Classes(), d)
	}
	_, err := DefaultFixture(Domain("mood"))
	assert.Error(t, err)
}

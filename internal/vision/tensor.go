package vision

import "fmt"

// Shape is an NHWC tensor shape: [batch, height, width, channels].
type Shape [4]int

// Size is the number of elements a tensor of this shape holds.
func (s Shape) Size() int {
	return s[0] * s[1] * s[2] * s[3]
}

func (s Shape) String() string {
	return fmt.Sprintf("[%d %d %d %d]", s[0], s[1], s[2], s[3])
}

// Int64 returns the shape as ONNX Runtime dimensions.
func (s Shape) Int64() []int64 {
	return []int64{int64(s[0]), int64(s[1]), int64(s[2]), int64(s[3])}
}

// Tensor is a dense float32 NHWC tensor. It belongs to the call that created it.
type Tensor struct {
	Shape Shape
	Data  []float32
}

// NewTensor allocates a zero-filled tensor.
func NewTensor(shape Shape) *Tensor {
	return &Tensor{Shape: shape, Data: make([]float32, shape.Size())}
}

// Valid reports whether the data length matches the declared shape.
func (t *Tensor) Valid() bool {
	return t != nil && len(t.Data) == t.Shape.Size()
}

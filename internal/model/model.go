package model

import "gonum.org/v1/gonum/mat"

const (
	// ImageSide is the height and width of an MNIST digit.
	ImageSide = 28
	// InputSize is the length of a flattened 1×28×28 image.
	InputSize = ImageSide * ImageSide
	// NumClasses is the number of digit classes.
	NumClasses = 10
)

// Batch represents a minibatch of flattened images and labels. Row i of
// Inputs is example i laid out row-major, so an N×1×28×28 tensor and an
// N×784 matrix share the same backing data.
type Batch struct {
	Inputs *mat.Dense
	Labels []int
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int {
	return len(b.Labels)
}

// Image returns the pixels of example i.
func (b Batch) Image(i int) []float64 {
	return b.Inputs.RawRowView(i)
}

// Param is a named trainable tensor and its gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

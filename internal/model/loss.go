package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CrossEntropy returns the mean softmax cross-entropy of logits against
// labels, and its gradient with respect to logits.
func CrossEntropy(logits *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	rows, cols := logits.Dims()
	if rows != len(labels) {
		return 0, nil, fmt.Errorf("cross entropy: %d rows but %d labels", rows, len(labels))
	}
	if rows == 0 {
		return 0, nil, fmt.Errorf("cross entropy: empty batch")
	}
	grad := mat.NewDense(rows, cols, nil)
	inv := 1 / float64(rows)
	total := 0.0
	for i, label := range labels {
		if label < 0 || label >= cols {
			return 0, nil, fmt.Errorf("cross entropy: label %d out of range [0,%d)", label, cols)
		}
		probs := Softmax(logits.RawRowView(i))
		total += -math.Log(math.Max(probs[label], 1e-12))
		probs[label] -= 1
		floats.Scale(inv, probs)
		copy(grad.RawRowView(i), probs)
	}
	return total * inv, grad, nil
}

// Softmax returns the normalized exponentials of logits.
func Softmax(logits []float64) []float64 {
	maxLogit := floats.Max(logits)
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// Predict returns the argmax class of each row of logits.
func Predict(logits *mat.Dense) []int {
	rows, _ := logits.Dims()
	preds := make([]int, rows)
	for i := range preds {
		preds[i] = floats.MaxIdx(logits.RawRowView(i))
	}
	return preds
}

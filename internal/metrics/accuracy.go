package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Accuracy returns the fraction of positions where yTrue and yPred agree.
func Accuracy(yTrue, yPred []int) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, fmt.Errorf("accuracy: %d labels but %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return 0, fmt.Errorf("accuracy: no samples")
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue)), nil
}

// Epoch concatenates step results until the end of an epoch.
type Epoch struct {
	Losses []float64
	YTrue  []int
	YPred  []int
}

// Add appends one step's results.
func (e *Epoch) Add(loss float64, yTrue, yPred []int) {
	e.Losses = append(e.Losses, loss)
	e.YTrue = append(e.YTrue, yTrue...)
	e.YPred = append(e.YPred, yPred...)
}

// Result returns the mean step loss and the accuracy over all samples.
func (e *Epoch) Result() (loss, acc float64, err error) {
	if len(e.Losses) == 0 {
		return 0, 0, fmt.Errorf("epoch: no steps recorded")
	}
	acc, err = Accuracy(e.YTrue, e.YPred)
	if err != nil {
		return 0, 0, err
	}
	return stat.Mean(e.Losses, nil), acc, nil
}

// Reset clears the accumulated results.
func (e *Epoch) Reset() {
	*e = Epoch{}
}

// ConfusionMatrix counts predictions per true class; m[t][p] is the number
// of samples of class t predicted as p.
func ConfusionMatrix(yTrue, yPred []int, numClasses int) ([][]int, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("confusion matrix: %d labels but %d predictions", len(yTrue), len(yPred))
	}
	m := make([][]int, numClasses)
	for i := range m {
		m[i] = make([]int, numClasses)
	}
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= numClasses || p < 0 || p >= numClasses {
			return nil, fmt.Errorf("confusion matrix: class out of range at %d (true=%d pred=%d)", i, t, p)
		}
		m[t][p]++
	}
	return m, nil
}

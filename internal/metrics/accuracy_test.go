package metrics

import (
	"math"
	"math/rand"
	"testing"
)

func TestAccuracyIdenticalIsOne(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 20; trial++ {
		labels := make([]int, 1+rng.Intn(200))
		for i := range labels {
			labels[i] = rng.Intn(10)
		}
		acc, err := Accuracy(labels, append([]int(nil), labels...))
		if err != nil {
			t.Fatalf("Accuracy: %v", err)
		}
		if acc != 1 {
			t.Fatalf("trial %d: got %f", trial, acc)
		}
	}
}

func TestAccuracyDisjointIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for trial := 0; trial < 20; trial++ {
		n := 1 + rng.Intn(200)
		yTrue := make([]int, n)
		yPred := make([]int, n)
		for i := range yTrue {
			yTrue[i] = rng.Intn(10)
			yPred[i] = (yTrue[i] + 1 + rng.Intn(9)) % 10
		}
		acc, err := Accuracy(yTrue, yPred)
		if err != nil {
			t.Fatalf("Accuracy: %v", err)
		}
		if acc != 0 {
			t.Fatalf("trial %d: got %f", trial, acc)
		}
	}
}

func TestAccuracyLengthMismatch(t *testing.T) {
	if _, err := Accuracy([]int{1, 2}, []int{1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEpochResult(t *testing.T) {
	var e Epoch
	e.Add(1.0, []int{0, 1}, []int{0, 1})
	e.Add(3.0, []int{2, 3}, []int{2, 0})
	loss, acc, err := e.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if loss != 2.0 || math.Abs(acc-0.75) > 1e-12 {
		t.Fatalf("loss=%f acc=%f", loss, acc)
	}
	e.Reset()
	if _, _, err := e.Result(); err == nil {
		t.Fatal("expected error after reset")
	}
}

func TestConfusionMatrixSums(t *testing.T) {
	yTrue := []int{0, 1, 2, 2, 9}
	yPred := []int{0, 2, 2, 1, 9}
	m, err := ConfusionMatrix(yTrue, yPred, 10)
	if err != nil {
		t.Fatalf("ConfusionMatrix: %v", err)
	}
	total := 0
	for _, row := range m {
		for _, v := range row {
			total += v
		}
	}
	if total != len(yTrue) || m[2][2] != 1 || m[1][2] != 1 || m[2][1] != 1 {
		t.Fatalf("unexpected matrix %v", m)
	}
}

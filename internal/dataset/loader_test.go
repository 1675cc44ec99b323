package dataset

import (
	"context"
	"math"
	"testing"

	"mnist-forge/internal/model"
)

func TestLoaderDeliversBatchesInOrder(t *testing.T) {
	set := Synthetic(103, 5)
	l := &Loader{Source: set, BatchSize: 10, NumWorkers: 4, Norm: Normalization{Mean: 0, Std: 1}}
	if l.NumBatches() != 11 {
		t.Fatalf("expected 11 batches, got %d", l.NumBatches())
	}

	next := 0
	err := l.Each(context.Background(), func(idx int, b model.Batch) error {
		for i := 0; i < b.Len(); i++ {
			pixels, label := set.Example(next)
			if b.Labels[i] != label {
				t.Fatalf("batch %d row %d: label %d want %d", idx, i, b.Labels[i], label)
			}
			if got, want := b.Image(i)[100], float64(pixels[100])/255; math.Abs(got-want) > 1e-12 {
				t.Fatalf("batch %d row %d: pixel %f want %f", idx, i, got, want)
			}
			next++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if next != set.Len() {
		t.Fatalf("saw %d examples, want %d", next, set.Len())
	}
}

func TestLoaderStopsOnCancel(t *testing.T) {
	l := &Loader{Source: Synthetic(500, 1), BatchSize: 5, NumWorkers: 2, Norm: Normalization{Std: 1}}
	ctx, cancel := context.WithCancel(context.Background())
	err := l.Each(ctx, func(idx int, _ model.Batch) error {
		if idx == 3 {
			cancel()
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestNormalizationInvert(t *testing.T) {
	n := Normalization{Mean: 0.1307, Std: 0.3081}
	for _, p := range []byte{0, 17, 128, 255} {
		if got := n.Invert(n.Apply(p)); math.Abs(got-float64(p)/255) > 1e-12 {
			t.Fatalf("pixel %d: got %f", p, got)
		}
	}
}

package dataset

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"mnist-forge/internal/model"
)

// Source yields labeled examples by position.
type Source interface {
	Len() int
	Example(i int) ([]byte, int)
}

// Normalization maps raw pixel bytes to standardized inputs.
type Normalization struct {
	Mean float64
	Std  float64
}

// Apply returns (p/255 - mean) / std.
func (n Normalization) Apply(p byte) float64 {
	return (float64(p)/255 - n.Mean) / n.Std
}

// Invert maps a normalized value back to [0,1] intensity.
func (n Normalization) Invert(v float64) float64 {
	return v*n.Std + n.Mean
}

// Loader produces fixed-size batches over a Source in order, assembling
// batches on a pool of workers.
type Loader struct {
	Source     Source
	BatchSize  int
	NumWorkers int
	Norm       Normalization
}

// NumBatches returns the number of batches per pass; the final batch may be
// short.
func (l *Loader) NumBatches() int {
	if l.BatchSize <= 0 {
		return 0
	}
	return (l.Source.Len() + l.BatchSize - 1) / l.BatchSize
}

// Start launches the loader pipeline. The batch channel is closed after the
// last batch or on cancellation; errCh carries at most one error and is
// closed when the pipeline stops.
func (l *Loader) Start(parent context.Context) (<-chan model.Batch, <-chan error, error) {
	if l.Source == nil || l.Source.Len() == 0 {
		return nil, nil, fmt.Errorf("loader: empty source")
	}
	if l.BatchSize <= 0 {
		return nil, nil, fmt.Errorf("loader: batch size must be > 0 (got %d)", l.BatchSize)
	}
	workers := l.NumWorkers
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan batchJob, workers)
	built := make(chan builtBatch, workers)
	out := make(chan model.Batch, workers*2)
	errCh := make(chan error, 1)

	go produceJobs(ctx, jobs, l.Source.Len(), l.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.worker(ctx, jobs, built)
		}()
	}

	go func() {
		wg.Wait()
		close(built)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		runAggregator(ctx, built, out, errCh, l.NumBatches())
	}()

	return out, errCh, nil
}

// Each runs fn on every batch in order. It stops at the first error from fn
// or from the pipeline.
func (l *Loader) Each(ctx context.Context, fn func(idx int, b model.Batch) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, errCh, err := l.Start(ctx)
	if err != nil {
		return err
	}
	idx := 0
	for b := range batches {
		if err := fn(idx, b); err != nil {
			return err
		}
		idx++
	}
	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if idx != l.NumBatches() {
		return fmt.Errorf("loader: delivered %d of %d batches", idx, l.NumBatches())
	}
	return nil
}

// First returns the first batch of a pass.
func (l *Loader) First(ctx context.Context) (model.Batch, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, errCh, err := l.Start(ctx)
	if err != nil {
		return model.Batch{}, err
	}
	b, ok := <-batches
	if !ok {
		if err := <-errCh; err != nil {
			return model.Batch{}, err
		}
		return model.Batch{}, fmt.Errorf("loader: no batches")
	}
	return b, nil
}

type batchJob struct {
	id    int
	start int
	end   int
}

type builtBatch struct {
	id    int
	batch model.Batch
	err   error
}

func produceJobs(ctx context.Context, jobs chan<- batchJob, n, batchSize int) {
	defer close(jobs)
	id := 0
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		select {
		case <-ctx.Done():
			return
		case jobs <- batchJob{id: id, start: start, end: end}:
			id++
		}
	}
}

func (l *Loader) worker(ctx context.Context, jobs <-chan batchJob, built chan<- builtBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			batch, err := l.build(job)
			select {
			case <-ctx.Done():
				return
			case built <- builtBatch{id: job.id, batch: batch, err: err}:
			}
		}
	}
}

func (l *Loader) build(job batchJob) (model.Batch, error) {
	n := job.end - job.start
	data := make([]float64, n*model.InputSize)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		pixels, label := l.Source.Example(job.start + i)
		if len(pixels) != model.InputSize {
			return model.Batch{}, fmt.Errorf("loader: example %d has %d pixels, want %d", job.start+i, len(pixels), model.InputSize)
		}
		row := data[i*model.InputSize : (i+1)*model.InputSize]
		for j, p := range pixels {
			row[j] = l.Norm.Apply(p)
		}
		labels[i] = label
	}
	return model.Batch{Inputs: mat.NewDense(n, model.InputSize, data), Labels: labels}, nil
}

// runAggregator emits built batches in id order.
func runAggregator(ctx context.Context, built <-chan builtBatch, out chan<- model.Batch, errCh chan<- error, total int) {
	pending := make(map[int]model.Batch)
	nextID := 0
	for nextID < total {
		if batch, ok := pending[nextID]; ok {
			select {
			case <-ctx.Done():
				return
			case out <- batch:
			}
			delete(pending, nextID)
			nextID++
			continue
		}

		select {
		case <-ctx.Done():
			return
		case b, ok := <-built:
			if !ok {
				errCh <- fmt.Errorf("loader: workers stopped after %d of %d batches", nextID, total)
				return
			}
			if b.err != nil {
				errCh <- b.err
				return
			}
			pending[b.id] = b.batch
		}
	}
}

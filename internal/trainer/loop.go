package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"mnist-forge/internal/checkpoint"
	"mnist-forge/internal/dataset"
	"mnist-forge/internal/metrics"
	"mnist-forge/internal/model"
	"mnist-forge/internal/tracking"
)

// DataModule supplies the loaders the trainer iterates.
type DataModule interface {
	Prepare(ctx context.Context) error
	Setup(stage dataset.Stage) error
	TrainLoader() (*dataset.Loader, error)
	ValLoader() (*dataset.Loader, error)
	TestLoader() (*dataset.Loader, error)
}

// Config captures the knobs of the training loop.
type Config struct {
	MaxEpochs     int
	LogEvery      int
	TrackGradNorm bool
	Checkpoint    *checkpoint.Callback
}

// Trainer owns the epoch loop and forwards scalar logs to the tracker.
type Trainer struct {
	cfg Config
	log tracking.Logger

	epoch      int
	globalStep int
	callback   map[string]float64
}

// New returns a trainer writing to log.
func New(cfg Config, log tracking.Logger) (*Trainer, error) {
	if cfg.MaxEpochs <= 0 {
		return nil, errors.New("trainer: max epochs must be > 0")
	}
	if log == nil {
		return nil, errors.New("trainer: tracker is nil")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}
	return &Trainer{cfg: cfg, log: log, callback: map[string]float64{}}, nil
}

// GlobalStep returns the number of optimizer steps taken.
func (t *Trainer) GlobalStep() int { return t.globalStep }

// CallbackMetrics returns the most recent value of every logged scalar.
func (t *Trainer) CallbackMetrics() map[string]float64 {
	out := make(map[string]float64, len(t.callback))
	for k, v := range t.callback {
		out[k] = v
	}
	return out
}

// Fit trains m for MaxEpochs, validating after every epoch.
func (t *Trainer) Fit(ctx context.Context, m Module, dm DataModule) error {
	if err := dm.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare data: %w", err)
	}
	if err := dm.Setup(dataset.StageFit); err != nil {
		return fmt.Errorf("setup fit: %w", err)
	}
	train, err := dm.TrainLoader()
	if err != nil {
		return err
	}
	val, err := dm.ValLoader()
	if err != nil {
		return err
	}

	opt, sched := m.ConfigureOptimizers()
	for epoch := 0; epoch < t.cfg.MaxEpochs; epoch++ {
		t.epoch = epoch
		if err := t.logNow("lr-"+opt.Name(), opt.LR); err != nil {
			return err
		}
		if err := t.trainEpoch(ctx, m, opt, train); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if err := t.evalEpoch(ctx, val, m.ValidationStep, m.ValidationEpochEnd); err != nil {
			return fmt.Errorf("epoch %d validation: %w", epoch, err)
		}
		sched.Step()

		if cb := t.cfg.Checkpoint; cb != nil {
			score, ok := t.callback[cb.Monitor]
			if !ok {
				return fmt.Errorf("checkpoint: monitored metric %s was not logged", cb.Monitor)
			}
			if err := cb.OnEpochEnd(epoch, t.globalStep, score, m.StateDict()); err != nil {
				return err
			}
		}
		klog.Infof("epoch=%d done global_step=%d val_loss=%.4f val_acc=%.4f",
			epoch, t.globalStep, t.callback["val/loss"], t.callback["val/acc"])
	}
	return nil
}

// Test runs the test hooks over the held-out split.
func (t *Trainer) Test(ctx context.Context, m Module, dm DataModule) error {
	if err := dm.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare data: %w", err)
	}
	if err := dm.Setup(dataset.StageTest); err != nil {
		return fmt.Errorf("setup test: %w", err)
	}
	test, err := dm.TestLoader()
	if err != nil {
		return err
	}
	if err := t.evalEpoch(ctx, test, m.TestStep, m.TestEpochEnd); err != nil {
		return fmt.Errorf("test: %w", err)
	}
	klog.Infof("test done loss=%.4f acc=%.4f", t.callback["test/loss"], t.callback["test/acc"])
	return nil
}

func (t *Trainer) trainEpoch(ctx context.Context, m Module, opt *model.Adam, loader *dataset.Loader) error {
	var (
		outputs []StepOutput
		window  metrics.Window
	)
	last := time.Now()
	err := loader.Each(ctx, func(idx int, batch model.Batch) error {
		dataTime := time.Since(last)
		start := time.Now()

		logStep := t.globalStep%t.cfg.LogEvery == 0
		s := Step{Epoch: t.epoch, GlobalStep: t.globalStep, BatchIdx: idx, log: t.logger(logStep)}
		out, err := m.TrainingStep(s, batch)
		if err != nil {
			return err
		}
		if logStep && t.cfg.TrackGradNorm {
			if err := t.logGradNorms(m.Parameters()); err != nil {
				return err
			}
		}
		opt.Step()

		window.Record(batch.Len(), dataTime, time.Since(start), out.Loss)
		if logStep {
			snap := window.Snapshot()
			klog.V(1).Infof("epoch=%d step=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
				t.epoch, t.globalStep, snap.ImagesPerSec, snap.AvgDataMS, snap.AvgComputeMS, snap.LastLoss)
		}

		outputs = append(outputs, out)
		t.globalStep++
		last = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	return m.TrainingEpochEnd(t.epochStep(), outputs)
}

type stepFunc func(Step, model.Batch) (StepOutput, error)
type epochEndFunc func(Step, []StepOutput) error

func (t *Trainer) evalEpoch(ctx context.Context, loader *dataset.Loader, step stepFunc, end epochEndFunc) error {
	var outputs []StepOutput
	err := loader.Each(ctx, func(idx int, batch model.Batch) error {
		s := Step{Epoch: t.epoch, GlobalStep: t.globalStep, BatchIdx: idx, log: t.logger(false)}
		out, err := step(s, batch)
		if err != nil {
			return err
		}
		outputs = append(outputs, out)
		return nil
	})
	if err != nil {
		return err
	}
	return end(t.epochStep(), outputs)
}

func (t *Trainer) epochStep() Step {
	return Step{Epoch: t.epoch, GlobalStep: t.globalStep, BatchIdx: -1, log: t.logger(true)}
}

func (t *Trainer) logger(forward bool) func(string, float64) error {
	return func(key string, value float64) error {
		t.callback[key] = value
		if !forward {
			return nil
		}
		return t.log.LogMetric(key, value, t.globalStep)
	}
}

func (t *Trainer) logNow(key string, value float64) error {
	return t.logger(true)(key, value)
}

// logGradNorms logs the L2 norm of every gradient and of all of them
// together.
func (t *Trainer) logGradNorms(params []model.Param) error {
	total := 0.0
	for _, p := range params {
		norm := floats.Norm(p.Grad.RawMatrix().Data, 2)
		total += norm * norm
		if err := t.logNow("grad_2.0_norm/"+p.Name, norm); err != nil {
			return err
		}
	}
	return t.logNow("grad_2.0_norm_total", math.Sqrt(total))
}

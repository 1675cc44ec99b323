package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"mnist-forge/internal/checkpoint"
	"mnist-forge/internal/classifier"
	"mnist-forge/internal/config"
	"mnist-forge/internal/dataset"
	"mnist-forge/internal/report"
	"mnist-forge/internal/tracking"
	"mnist-forge/internal/trainer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, config.Defaults()); err != nil {
		klog.Errorf("training failed: %v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// run trains, tests and reports on one model and returns the tracking run id.
func run(ctx context.Context, s config.Settings) (string, error) {
	params, err := config.Load(s.ParamsPath)
	if err != nil {
		return "", err
	}

	tr, err := tracking.Open(s.RunDB, tracking.Options{Project: s.Project, Tags: s.Tags})
	if err != nil {
		return "", err
	}
	defer tr.Close()

	norm := dataset.Normalization{Mean: s.NormMean, Std: s.NormStd}
	module := classifier.New(params.Linear1, params.Linear2, params.LR, params.DecayFactor, norm, tr, s.ModelSeed)

	dm := dataset.NewDataModule(s.DataDir, params.BatchSize, norm, s.SplitSeed)
	dm.Split = [2]int{s.TrainSplit, s.ValSplit}

	if err := tracking.LogModelSummary(tr, module.Net.Summary()); err != nil {
		return "", err
	}
	if err := tracking.LogHyperparams(tr, params.Map()); err != nil {
		return "", err
	}

	loop, err := trainer.New(trainer.Config{
		MaxEpochs:     params.MaxEpochs,
		LogEvery:      s.LogEvery,
		TrackGradNorm: true,
		Checkpoint: &checkpoint.Callback{
			Dir:      s.CheckpointDir,
			SaveTopK: s.SaveTopK,
			SaveLast: s.SaveLast,
			Monitor:  s.Monitor,
		},
	}, tr)
	if err != nil {
		return "", err
	}

	if err := loop.Fit(ctx, module, dm); err != nil {
		return "", err
	}
	if err := loop.Test(ctx, module, dm); err != nil {
		return "", err
	}

	if err := report.LogConfusionMatrix(ctx, module.Net, dm, tr); err != nil {
		return "", err
	}
	train, err := dm.TrainLoader()
	if err != nil {
		return "", err
	}
	if err := report.LogModelVisualization(ctx, module.Net, train, s.VisualizationFile, tr); err != nil {
		return "", err
	}
	klog.Infof("run=%s finished", tr.ID)
	return tr.ID, nil
}

package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"

	"k8s.io/klog/v2"
)

// Stage selects which splits Setup prepares.
type Stage string

const (
	StageFit  Stage = "fit"
	StageTest Stage = "test"
)

const (
	trainWorkers = 4
	valWorkers   = 4
	testWorkers  = 1
)

// DefaultSplit is the train/validation partition of the 60000 training
// examples.
var DefaultSplit = [2]int{55000, 5000}

// DataModule owns the MNIST splits and hands out loaders over them.
type DataModule struct {
	Root       string
	BatchSize  int
	Norm       Normalization
	Split      [2]int
	SplitSeed  int64
	Downloader Downloader

	train *Subset
	val   *Subset
	test  *Set
}

// NewDataModule returns a module rooted at dir using the default split.
func NewDataModule(dir string, batchSize int, norm Normalization, splitSeed int64) *DataModule {
	return &DataModule{
		Root:      dir,
		BatchSize: batchSize,
		Norm:      norm,
		Split:     DefaultSplit,
		SplitSeed: splitSeed,
	}
}

// Prepare makes sure the archives are available locally.
func (dm *DataModule) Prepare(ctx context.Context) error {
	return dm.Downloader.Ensure(ctx, RawDir(dm.Root))
}

// Setup loads the splits needed for stage. Splits already loaded are kept.
func (dm *DataModule) Setup(stage Stage) error {
	raw := RawDir(dm.Root)
	switch stage {
	case StageFit:
		if dm.train != nil {
			return nil
		}
		set, err := LoadSet(filepath.Join(raw, TrainImagesFile), filepath.Join(raw, TrainLabelsFile))
		if err != nil {
			return err
		}
		parts, err := RandomSplit(set.Len(), dm.Split[:], rand.New(rand.NewSource(dm.SplitSeed)))
		if err != nil {
			return err
		}
		dm.train = &Subset{Set: set, Indices: parts[0]}
		dm.val = &Subset{Set: set, Indices: parts[1]}
		klog.Infof("setup stage=fit train=%d val=%d", dm.train.Len(), dm.val.Len())
	case StageTest:
		if dm.test != nil {
			return nil
		}
		set, err := LoadSet(filepath.Join(raw, TestImagesFile), filepath.Join(raw, TestLabelsFile))
		if err != nil {
			return err
		}
		dm.test = set
		klog.Infof("setup stage=test test=%d", set.Len())
	default:
		return fmt.Errorf("setup: unknown stage %q", stage)
	}
	return nil
}

// TrainLoader returns a loader over the training split.
func (dm *DataModule) TrainLoader() (*Loader, error) {
	if dm.train == nil {
		return nil, fmt.Errorf("train loader: setup(%s) not called", StageFit)
	}
	return dm.loader(dm.train, trainWorkers), nil
}

// ValLoader returns a loader over the validation split.
func (dm *DataModule) ValLoader() (*Loader, error) {
	if dm.val == nil {
		return nil, fmt.Errorf("val loader: setup(%s) not called", StageFit)
	}
	return dm.loader(dm.val, valWorkers), nil
}

// TestLoader returns a loader over the held-out split.
func (dm *DataModule) TestLoader() (*Loader, error) {
	if dm.test == nil {
		return nil, fmt.Errorf("test loader: setup(%s) not called", StageTest)
	}
	return dm.loader(dm.test, testWorkers), nil
}

func (dm *DataModule) loader(src Source, workers int) *Loader {
	return &Loader{Source: src, BatchSize: dm.BatchSize, NumWorkers: workers, Norm: dm.Norm}
}

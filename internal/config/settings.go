package config

// Settings holds the fixed knobs of a run that are not read from the
// parameters file.
type Settings struct {
	ParamsPath string

	Project string
	Tags    []string
	RunDB   string

	DataDir    string
	NormMean   float64
	NormStd    float64
	SplitSeed  int64
	ModelSeed  int64
	TrainSplit int
	ValSplit   int

	LogEvery int

	CheckpointDir string
	SaveTopK      int
	SaveLast      bool
	Monitor       string

	VisualizationFile string
}

// Defaults returns the settings used by cmd/mnist-forge.
func Defaults() Settings {
	return Settings{
		ParamsPath:        "parameters.yml",
		Project:           "common/webinar-pytorch-lightning",
		Tags:              []string{"training", "mnist"},
		RunDB:             "runs.sqlite3",
		DataDir:           ".",
		NormMean:          0.1307,
		NormStd:           0.3081,
		SplitSeed:         42,
		ModelSeed:         1,
		TrainSplit:        55000,
		ValSplit:          5000,
		LogEvery:          50,
		CheckpointDir:     "model/checkpoints",
		SaveTopK:          3,
		SaveLast:          true,
		Monitor:           "val/loss",
		VisualizationFile: "model_vis.png",
	}
}

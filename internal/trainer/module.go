package trainer

import (
	"image"

	"mnist-forge/internal/model"
)

// Module is the set of lifecycle hooks the Trainer drives.
type Module interface {
	ConfigureOptimizers() (*model.Adam, *model.LambdaLR)
	Parameters() []model.Param
	StateDict() map[string]model.Tensor

	TrainingStep(s Step, batch model.Batch) (StepOutput, error)
	TrainingEpochEnd(s Step, outputs []StepOutput) error
	ValidationStep(s Step, batch model.Batch) (StepOutput, error)
	ValidationEpochEnd(s Step, outputs []StepOutput) error
	TestStep(s Step, batch model.Batch) (StepOutput, error)
	TestEpochEnd(s Step, outputs []StepOutput) error
}

// StepOutput is what a step hook hands to its epoch end hook.
type StepOutput struct {
	Loss       float64
	YTrue      []int
	YPred      []int
	Prediction *Prediction
}

// Prediction is an example image with its rendered prediction.
type Prediction struct {
	Image       image.Image
	Name        string
	Description string
}

// Step identifies where in the loop a hook is called and routes scalar
// logs through the trainer.
type Step struct {
	Epoch      int
	GlobalStep int
	BatchIdx   int

	log func(key string, value float64) error
}

// Log records a scalar under key.
func (s Step) Log(key string, value float64) error {
	if s.log == nil {
		return nil
	}
	return s.log(key, value)
}

// NewStep builds a Step whose logs go to fn. Trainer builds its own; this
// is for driving hooks directly.
func NewStep(epoch, globalStep, batchIdx int, fn func(key string, value float64) error) Step {
	return Step{Epoch: epoch, GlobalStep: globalStep, BatchIdx: batchIdx, log: fn}
}

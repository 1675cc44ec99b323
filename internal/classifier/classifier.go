// Package classifier implements the training, validation and test hooks of
// the MNIST digit classifier.
package classifier

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"gonum.org/v1/gonum/floats"

	"mnist-forge/internal/dataset"
	"mnist-forge/internal/metrics"
	"mnist-forge/internal/model"
	"mnist-forge/internal/tracking"
	"mnist-forge/internal/trainer"
)

// PredsEvery is the epoch interval at which validation predictions are
// uploaded.
const PredsEvery = 5

var _ trainer.Module = (*Module)(nil)

// Module wraps an MLP with the hooks driven by trainer.Trainer.
type Module struct {
	Net          *model.MLP
	LearningRate float64
	DecayFactor  float64
	Norm         dataset.Normalization
	Tracker      tracking.Logger
}

// New builds the network for the given layer widths.
func New(linear1, linear2 int, lr, decay float64, norm dataset.Normalization, tracker tracking.Logger, seed int64) *Module {
	return &Module{
		Net:          model.NewMLP(model.InputSize, linear1, linear2, model.NumClasses, seed),
		LearningRate: lr,
		DecayFactor:  decay,
		Norm:         norm,
		Tracker:      tracker,
	}
}

// ConfigureOptimizers returns Adam with an exponentially decaying rate.
func (m *Module) ConfigureOptimizers() (*model.Adam, *model.LambdaLR) {
	opt := model.NewAdam(m.Net.Parameters(), m.LearningRate)
	return opt, model.NewLambdaLR(opt, model.ExponentialDecay(m.DecayFactor))
}

func (m *Module) Parameters() []model.Param { return m.Net.Parameters() }

func (m *Module) StateDict() map[string]model.Tensor { return m.Net.StateDict() }

func (m *Module) TrainingStep(s trainer.Step, b model.Batch) (trainer.StepOutput, error) {
	logits := m.Net.Forward(b.Inputs)
	loss, grad, err := model.CrossEntropy(logits, b.Labels)
	if err != nil {
		return trainer.StepOutput{}, err
	}
	if err := m.Net.Backward(grad); err != nil {
		return trainer.StepOutput{}, err
	}
	out := trainer.StepOutput{Loss: loss, YTrue: b.Labels, YPred: model.Predict(logits)}
	acc, err := metrics.Accuracy(out.YTrue, out.YPred)
	if err != nil {
		return trainer.StepOutput{}, err
	}
	if err := s.Log("train/batch/loss", loss); err != nil {
		return trainer.StepOutput{}, err
	}
	if err := s.Log("train/batch/acc", acc); err != nil {
		return trainer.StepOutput{}, err
	}
	return out, nil
}

func (m *Module) TrainingEpochEnd(s trainer.Step, outputs []trainer.StepOutput) error {
	return logEpoch(s, outputs, "train/epoch/loss", "train/epoch/acc")
}

func (m *Module) ValidationStep(_ trainer.Step, b model.Batch) (trainer.StepOutput, error) {
	logits := m.Net.Forward(b.Inputs)
	loss, _, err := model.CrossEntropy(logits, b.Labels)
	if err != nil {
		return trainer.StepOutput{}, err
	}
	out := trainer.StepOutput{Loss: loss, YTrue: b.Labels, YPred: model.Predict(logits)}

	img := make([]float64, model.InputSize)
	for i, v := range b.Image(0) {
		img[i] = m.Norm.Invert(v)
	}
	var desc strings.Builder
	fmt.Fprintf(&desc, "target: %d \n", out.YTrue[0])
	for j, p := range model.Softmax(logits.RawRowView(0)) {
		if j > 0 {
			desc.WriteByte('\n')
		}
		fmt.Fprintf(&desc, "class %d: %.4f", j, p)
	}
	out.Prediction = &trainer.Prediction{
		Image:       grayImage(img),
		Name:        fmt.Sprintf("pred: %d", out.YPred[0]),
		Description: desc.String(),
	}
	return out, nil
}

func (m *Module) ValidationEpochEnd(s trainer.Step, outputs []trainer.StepOutput) error {
	if err := logEpoch(s, outputs, "val/loss", "val/acc"); err != nil {
		return err
	}
	if s.Epoch%PredsEvery != 0 {
		return nil
	}
	key := fmt.Sprintf("val/preds/epoch_%d", s.Epoch)
	for _, out := range outputs {
		p := out.Prediction
		if p == nil {
			continue
		}
		if err := m.Tracker.LogImage(key, p.Image, p.Name, p.Description); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) TestStep(_ trainer.Step, b model.Batch) (trainer.StepOutput, error) {
	logits := m.Net.Forward(b.Inputs)
	loss, _, err := model.CrossEntropy(logits, b.Labels)
	if err != nil {
		return trainer.StepOutput{}, err
	}
	out := trainer.StepOutput{Loss: loss, YTrue: b.Labels, YPred: model.Predict(logits)}

	for j := range out.YTrue {
		if out.YTrue[j] == out.YPred[j] {
			continue
		}
		img := append([]float64(nil), b.Image(j)...)
		for i, v := range img {
			if v < 0 {
				img[i] = 0
			}
		}
		if peak := floats.Max(img); peak > 0 {
			floats.Scale(1/peak, img)
		}
		desc := fmt.Sprintf("y_pred=%d, y_true=%d", out.YPred[j], out.YTrue[j])
		if err := m.Tracker.LogImage("test/misclassified_images", grayImage(img), "", desc); err != nil {
			return trainer.StepOutput{}, err
		}
	}
	return out, nil
}

func (m *Module) TestEpochEnd(s trainer.Step, outputs []trainer.StepOutput) error {
	return logEpoch(s, outputs, "test/loss", "test/acc")
}

func logEpoch(s trainer.Step, outputs []trainer.StepOutput, lossKey, accKey string) error {
	var e metrics.Epoch
	for _, out := range outputs {
		e.Add(out.Loss, out.YTrue, out.YPred)
	}
	loss, acc, err := e.Result()
	if err != nil {
		return err
	}
	if err := s.Log(lossKey, loss); err != nil {
		return err
	}
	return s.Log(accKey, acc)
}

// grayImage renders 784 intensities in [0,1] as a 28×28 image.
func grayImage(pixels []float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, model.ImageSide, model.ImageSide))
	for i, v := range pixels {
		v = min(max(v, 0), 1)
		img.SetGray(i%model.ImageSide, i/model.ImageSide, color.Gray{Y: uint8(v*255 + 0.5)})
	}
	return img
}

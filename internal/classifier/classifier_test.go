package classifier

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"mnist-forge/internal/dataset"
	"mnist-forge/internal/model"
	"mnist-forge/internal/tracking"
	"mnist-forge/internal/trainer"
)

var norm = dataset.Normalization{Mean: 0.1307, Std: 0.3081}

func testBatch(n int) model.Batch {
	set := dataset.Synthetic(n, 11)
	data := make([]float64, n*model.InputSize)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		pixels, label := set.Example(i)
		for j, p := range pixels {
			data[i*model.InputSize+j] = norm.Apply(p)
		}
		labels[i] = label
	}
	return model.Batch{Inputs: mat.NewDense(n, model.InputSize, data), Labels: labels}
}

type recorder map[string][]float64

func (r recorder) step(epoch int) trainer.Step {
	return trainer.NewStep(epoch, 0, 0, func(key string, v float64) error {
		r[key] = append(r[key], v)
		return nil
	})
}

func TestTrainingStepLogsBatchMetrics(t *testing.T) {
	mem := tracking.NewMemory()
	m := New(16, 8, 0.001, 0.9, norm, mem, 1)
	rec := recorder{}
	out, err := m.TrainingStep(rec.step(0), testBatch(8))
	if err != nil {
		t.Fatalf("TrainingStep: %v", err)
	}
	if len(out.YTrue) != 8 || len(out.YPred) != 8 || out.Loss <= 0 {
		t.Fatalf("unexpected output %+v", out)
	}
	if len(rec["train/batch/loss"]) != 1 || len(rec["train/batch/acc"]) != 1 {
		t.Fatalf("missing batch logs: %v", rec)
	}
	if err := m.TrainingEpochEnd(rec.step(0), []trainer.StepOutput{out, out}); err != nil {
		t.Fatalf("TrainingEpochEnd: %v", err)
	}
	if got := rec["train/epoch/loss"][0]; math.Abs(got-out.Loss) > 1e-12 {
		t.Fatalf("epoch loss %f want %f", got, out.Loss)
	}
}

func TestValidationPredictionsEveryFifthEpoch(t *testing.T) {
	mem := tracking.NewMemory()
	m := New(16, 8, 0.001, 0.9, norm, mem, 1)
	rec := recorder{}

	var outputs []trainer.StepOutput
	for i := 0; i < 3; i++ {
		out, err := m.ValidationStep(rec.step(0), testBatch(4))
		if err != nil {
			t.Fatalf("ValidationStep: %v", err)
		}
		if out.Prediction == nil || !strings.HasPrefix(out.Prediction.Name, "pred: ") {
			t.Fatalf("missing prediction: %+v", out.Prediction)
		}
		if !strings.HasPrefix(out.Prediction.Description, "target: ") || !strings.Contains(out.Prediction.Description, "class 9: ") {
			t.Fatalf("bad description %q", out.Prediction.Description)
		}
		outputs = append(outputs, out)
	}

	for _, epoch := range []int{0, 1, 4, 5} {
		if err := m.ValidationEpochEnd(rec.step(epoch), outputs); err != nil {
			t.Fatalf("ValidationEpochEnd(%d): %v", epoch, err)
		}
	}
	if n := len(mem.Images("val/preds/epoch_0")); n != 3 {
		t.Fatalf("epoch 0: %d images", n)
	}
	if n := len(mem.Images("val/preds/epoch_5")); n != 3 {
		t.Fatalf("epoch 5: %d images", n)
	}
	if n := len(mem.Images("val/preds/epoch_1")) + len(mem.Images("val/preds/epoch_4")); n != 0 {
		t.Fatalf("unexpected images on off epochs: %d", n)
	}
	if len(rec["val/loss"]) != 4 || len(rec["val/acc"]) != 4 {
		t.Fatalf("missing val logs: %v", rec)
	}
}

func TestTestStepUploadsMisclassified(t *testing.T) {
	mem := tracking.NewMemory()
	m := New(16, 8, 0.001, 0.9, norm, mem, 1)
	rec := recorder{}
	batch := testBatch(20)
	out, err := m.TestStep(rec.step(0), batch)
	if err != nil {
		t.Fatalf("TestStep: %v", err)
	}
	wrong := 0
	for i := range out.YTrue {
		if out.YTrue[i] != out.YPred[i] {
			wrong++
		}
	}
	images := mem.Images("test/misclassified_images")
	if len(images) != wrong {
		t.Fatalf("uploaded %d images for %d misclassified", len(images), wrong)
	}
	for _, img := range images {
		if !strings.HasPrefix(img.Description, "y_pred=") {
			t.Fatalf("bad description %q", img.Description)
		}
	}
	if err := m.TestEpochEnd(rec.step(0), []trainer.StepOutput{out}); err != nil {
		t.Fatalf("TestEpochEnd: %v", err)
	}
	if len(rec["test/loss"]) != 1 || len(rec["test/acc"]) != 1 {
		t.Fatalf("missing test logs: %v", rec)
	}
}

func TestGrayImageClamps(t *testing.T) {
	pixels := make([]float64, model.InputSize)
	pixels[0], pixels[1], pixels[2] = -1, 0.5, 3
	img := grayImage(pixels)
	if img.GrayAt(0, 0).Y != 0 || img.GrayAt(1, 0).Y != 128 || img.GrayAt(2, 0).Y != 255 {
		t.Fatalf("unexpected pixels %v %v %v", img.GrayAt(0, 0), img.GrayAt(1, 0), img.GrayAt(2, 0))
	}
}

package tracking

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestRunRoundTrip(t *testing.T) {
	dir := t.TempDir()
	run, err := Open(filepath.Join(dir, "runs.sqlite3"), Options{Project: "demo", Tags: []string{"training", "mnist"}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer run.Close()

	for step, v := range []float64{0.9, 0.5, 0.2} {
		if err := run.LogMetric("train/batch/loss", v, step); err != nil {
			t.Fatalf("LogMetric: %v", err)
		}
	}
	points, err := run.Metric("train/batch/loss")
	if err != nil {
		t.Fatalf("Metric: %v", err)
	}
	if len(points) != 3 || points[2].Value != 0.2 || points[2].Step != 2 {
		t.Fatalf("unexpected points %v", points)
	}

	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(1, 1, color.Gray{Y: 200})
	if err := run.LogImage("test/misclassified_images", img, "", "y_pred=1, y_true=7"); err != nil {
		t.Fatalf("LogImage: %v", err)
	}
	if n, err := run.ImageCount("test/misclassified_images"); err != nil || n != 1 {
		t.Fatalf("ImageCount=%d err=%v", n, err)
	}

	if err := run.UploadImage("confusion_matrix", img); err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	data, err := run.File("confusion_matrix")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Bounds().Dx() != 2 {
		t.Fatalf("unexpected bounds %v", decoded.Bounds())
	}

	path := filepath.Join(dir, "model_vis.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := run.UploadFile("model/visualization", path); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	if err := LogHyperparams(run, map[string]any{"lr": 0.001}); err != nil {
		t.Fatalf("LogHyperparams: %v", err)
	}
	if v, err := run.Field("training/hyperparams/lr"); err != nil || v != "0.001" {
		t.Fatalf("field=%q err=%v", v, err)
	}
	if v, err := run.Field("sys/tags"); err != nil || v != "training,mnist" {
		t.Fatalf("tags=%q err=%v", v, err)
	}
}

func TestRunsShareStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.sqlite3")
	a, err := Open(path, Options{Project: "p"})
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer a.Close()
	b, err := Open(path, Options{Project: "p"})
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer b.Close()

	if a.ID == b.ID {
		t.Fatal("runs share an id")
	}
	if err := a.LogMetric("val/loss", 1, 0); err != nil {
		t.Fatalf("LogMetric: %v", err)
	}
	points, err := b.Metric("val/loss")
	if err != nil {
		t.Fatalf("Metric: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("run b sees run a metrics: %v", points)
	}
}

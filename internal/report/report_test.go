package report

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mnist-forge/internal/dataset"
	"mnist-forge/internal/model"
	"mnist-forge/internal/tracking"
)

type fixedTest struct{ loader *dataset.Loader }

func (f fixedTest) TestLoader() (*dataset.Loader, error) { return f.loader, nil }

func synthLoader(n int) *dataset.Loader {
	return &dataset.Loader{
		Source:     dataset.Synthetic(n, 2),
		BatchSize:  16,
		NumWorkers: 1,
		Norm:       dataset.Normalization{Mean: 0.1307, Std: 0.3081},
	}
}

func TestLogConfusionMatrix(t *testing.T) {
	mem := tracking.NewMemory()
	net := model.NewMLP(model.InputSize, 8, 8, model.NumClasses, 1)
	if err := LogConfusionMatrix(context.Background(), net, fixedTest{synthLoader(50)}, mem); err != nil {
		t.Fatalf("LogConfusionMatrix: %v", err)
	}
	if !net.Frozen() {
		t.Fatal("model not frozen")
	}
	data, ok := mem.File("confusion_matrix")
	if !ok {
		t.Fatal("confusion_matrix not uploaded")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() < 10*int(cmCell) {
		t.Fatalf("image too small: %v", img.Bounds())
	}
}

func TestBuildGraph(t *testing.T) {
	net := model.NewMLP(model.InputSize, 64, 32, model.NumClasses, 1)
	g := BuildGraph(net, 32, 0.1)
	params, ops := 0, 0
	for _, n := range g.Nodes {
		switch n.Kind {
		case NodeParam:
			params++
		case NodeOp:
			ops++
		}
	}
	if params != 6 {
		t.Fatalf("expected 6 parameter nodes, got %d", params)
	}
	// mean, three addmm, two relu
	if ops != 6 {
		t.Fatalf("expected 6 op nodes, got %d", ops)
	}
	if !strings.Contains(g.Nodes[0].Label, "mean") {
		t.Fatalf("first node %q", g.Nodes[0].Label)
	}
}

func TestLogModelVisualization(t *testing.T) {
	mem := tracking.NewMemory()
	net := model.NewMLP(model.InputSize, 8, 8, model.NumClasses, 1)
	path := filepath.Join(t.TempDir(), "model_vis.png")
	if err := LogModelVisualization(context.Background(), net, synthLoader(40), path, mem); err != nil {
		t.Fatalf("LogModelVisualization: %v", err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	uploaded, ok := mem.File("model/visualization")
	if !ok || !bytes.Equal(onDisk, uploaded) {
		t.Fatal("uploaded visualization differs from file on disk")
	}
	if _, err := png.Decode(bytes.NewReader(onDisk)); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

package report

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"
	"k8s.io/klog/v2"

	"mnist-forge/internal/dataset"
	"mnist-forge/internal/metrics"
	"mnist-forge/internal/model"
	"mnist-forge/internal/tracking"
)

// TestData hands out the held-out loader.
type TestData interface {
	TestLoader() (*dataset.Loader, error)
}

// LogConfusionMatrix freezes net, predicts the whole test split and uploads
// the rendered confusion matrix to confusion_matrix.
func LogConfusionMatrix(ctx context.Context, net *model.MLP, data TestData, log tracking.Logger) error {
	net.Freeze()
	loader, err := data.TestLoader()
	if err != nil {
		return err
	}
	var yTrue, yPred []int
	err = loader.Each(ctx, func(_ int, b model.Batch) error {
		yTrue = append(yTrue, b.Labels...)
		yPred = append(yPred, model.Predict(net.Forward(b.Inputs))...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("confusion matrix: %w", err)
	}
	cm, err := metrics.ConfusionMatrix(yTrue, yPred, model.NumClasses)
	if err != nil {
		return err
	}
	klog.Infof("confusion matrix over %d test examples", len(yTrue))
	return log.UploadImage("confusion_matrix", RenderConfusionMatrix(cm))
}

const (
	cmCell   = 48.0
	cmMargin = 80.0
)

// RenderConfusionMatrix draws counts as a blue heatmap with true labels on
// the vertical axis and predicted labels on the horizontal axis.
func RenderConfusionMatrix(cm [][]int) image.Image {
	n := len(cm)
	size := cmMargin*2 + cmCell*float64(n)
	dc := gg.NewContext(int(size), int(size))
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	peak := 1
	for _, row := range cm {
		for _, v := range row {
			peak = max(peak, v)
		}
	}

	for t, row := range cm {
		for p, v := range row {
			x := cmMargin + float64(p)*cmCell
			y := cmMargin + float64(t)*cmCell
			frac := float64(v) / float64(peak)
			r, g, b := blues(frac)
			dc.SetRGB(r, g, b)
			dc.DrawRectangle(x, y, cmCell, cmCell)
			dc.Fill()
			if frac > 0.5 {
				dc.SetRGB(1, 1, 1)
			} else {
				dc.SetRGB(0, 0, 0)
			}
			dc.DrawStringAnchored(fmt.Sprint(v), x+cmCell/2, y+cmCell/2, 0.5, 0.5)
		}
	}

	dc.SetRGB(0, 0, 0)
	for i := 0; i < n; i++ {
		c := cmMargin + (float64(i)+0.5)*cmCell
		dc.DrawStringAnchored(fmt.Sprint(i), c, cmMargin+float64(n)*cmCell+12, 0.5, 0.5)
		dc.DrawStringAnchored(fmt.Sprint(i), cmMargin-12, c, 0.5, 0.5)
	}
	dc.DrawStringAnchored("Confusion Matrix", size/2, cmMargin/2, 0.5, 0.5)
	dc.DrawStringAnchored("Predicted label", size/2, size-cmMargin/2, 0.5, 0.5)
	dc.Push()
	dc.RotateAbout(-math.Pi/2, cmMargin/3, size/2)
	dc.DrawStringAnchored("True label", cmMargin/3, size/2, 0.5, 0.5)
	dc.Pop()

	return dc.Image()
}

// blues maps [0,1] from near-white to dark blue.
func blues(f float64) (r, g, b float64) {
	f = min(max(f, 0), 1)
	lo := [3]float64{0.97, 0.98, 1.0}
	hi := [3]float64{0.03, 0.19, 0.42}
	return lo[0] + (hi[0]-lo[0])*f, lo[1] + (hi[1]-lo[1])*f, lo[2] + (hi[2]-lo[2])*f
}

// Package tracking records the metadata of a training run: scalar series,
// image series, uploaded files and single-valued fields.
package tracking

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// Logger is the sink every lifecycle hook writes to.
type Logger interface {
	// LogMetric appends value to the scalar series key at step.
	LogMetric(key string, value float64, step int) error
	// LogImage appends img to the image series key.
	LogImage(key string, img image.Image, name, description string) error
	// UploadImage stores img as the single value of key.
	UploadImage(key string, img image.Image) error
	// UploadFile stores the contents of path as the single value of key.
	UploadFile(key, path string) error
	// Set stores a single text value under key.
	Set(key, value string) error
}

// LogHyperparams stores every param under training/hyperparams/.
func LogHyperparams(l Logger, params map[string]any) error {
	for k, v := range params {
		if err := l.Set("training/hyperparams/"+k, fmt.Sprint(v)); err != nil {
			return err
		}
	}
	return nil
}

// LogModelSummary stores a rendered model summary.
func LogModelSummary(l Logger, summary string) error {
	return l.Set("model/summary", summary)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

package tracking

import (
	"image"
	"os"
	"sync"
)

// Point is one entry of a scalar series.
type Point struct {
	Step  int
	Value float64
}

// ImageEntry is one entry of an image series.
type ImageEntry struct {
	Image       image.Image
	Name        string
	Description string
}

// Memory keeps a run in process memory.
type Memory struct {
	mu      sync.Mutex
	metrics map[string][]Point
	images  map[string][]ImageEntry
	files   map[string][]byte
	fields  map[string]string
}

// NewMemory returns an empty in-memory run.
func NewMemory() *Memory {
	return &Memory{
		metrics: map[string][]Point{},
		images:  map[string][]ImageEntry{},
		files:   map[string][]byte{},
		fields:  map[string]string{},
	}
}

func (m *Memory) LogMetric(key string, value float64, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[key] = append(m.metrics[key], Point{Step: step, Value: value})
	return nil
}

func (m *Memory) LogImage(key string, img image.Image, name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[key] = append(m.images[key], ImageEntry{Image: img, Name: name, Description: description})
	return nil
}

func (m *Memory) UploadImage(key string, img image.Image) error {
	data, err := encodePNG(img)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
	return nil
}

func (m *Memory) UploadFile(key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
	return nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[key] = value
	return nil
}

// Metric returns a copy of the series key.
func (m *Memory) Metric(key string) []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Point(nil), m.metrics[key]...)
}

// Images returns a copy of the image series key.
func (m *Memory) Images(key string) []ImageEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ImageEntry(nil), m.images[key]...)
}

// File returns the bytes stored under key.
func (m *Memory) File(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key]
	return data, ok
}

// Field returns the text value stored under key.
func (m *Memory) Field(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.fields[key]
	return v, ok
}

package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is the serializable form of a parameter.
type Tensor struct {
	Rows int
	Cols int
	Data []float64
}

// StateDict copies every parameter keyed by name.
func (m *MLP) StateDict() map[string]Tensor {
	state := make(map[string]Tensor)
	for _, p := range m.Parameters() {
		r, c := p.Value.Dims()
		data := make([]float64, r*c)
		copy(data, p.Value.RawMatrix().Data)
		state[p.Name] = Tensor{Rows: r, Cols: c, Data: data}
	}
	return state
}

// LoadStateDict overwrites parameters from state. Every parameter must be
// present with a matching shape.
func (m *MLP) LoadStateDict(state map[string]Tensor) error {
	for _, p := range m.Parameters() {
		t, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("load state: missing %s", p.Name)
		}
		r, c := p.Value.Dims()
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return fmt.Errorf("load state: %s has shape %dx%d, want %dx%d", p.Name, t.Rows, t.Cols, r, c)
		}
		p.Value.Copy(mat.NewDense(r, c, t.Data))
	}
	return nil
}

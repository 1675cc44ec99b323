package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"
)

// ErrFrozen is returned by Backward once the model has been frozen.
var ErrFrozen = errors.New("model: parameters are frozen")

// Linear is a fully-connected layer computing x·W + b.
type Linear struct {
	Name  string
	W     *mat.Dense
	B     *mat.Dense
	GradW *mat.Dense
	GradB *mat.Dense
}

func newLinear(name string, in, out int, rng *rand.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	uniform := func(n int) []float64 {
		data := make([]float64, n)
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * bound
		}
		return data
	}
	return &Linear{
		Name:  name,
		W:     mat.NewDense(in, out, uniform(in*out)),
		B:     mat.NewDense(1, out, uniform(out)),
		GradW: mat.NewDense(in, out, nil),
		GradB: mat.NewDense(1, out, nil),
	}
}

func (l *Linear) forward(x mat.Matrix) *mat.Dense {
	rows, _ := x.Dims()
	_, out := l.W.Dims()
	z := mat.NewDense(rows, out, nil)
	z.Mul(x, l.W)
	bias := l.B.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := z.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	return z
}

// backward stores parameter gradients for upstream gradient d given the
// layer input x, and returns the gradient with respect to x.
func (l *Linear) backward(x, d *mat.Dense) *mat.Dense {
	l.GradW.Mul(x.T(), d)
	gb := l.GradB.RawRowView(0)
	for j := range gb {
		gb[j] = 0
	}
	rows, _ := d.Dims()
	for i := 0; i < rows; i++ {
		for j, v := range d.RawRowView(i) {
			gb[j] += v
		}
	}
	in, _ := l.W.Dims()
	dx := mat.NewDense(rows, in, nil)
	dx.Mul(d, l.W.T())
	return dx
}

func (l *Linear) numParams() int {
	r, c := l.W.Dims()
	return r*c + c
}

// MLP is a three layer fully-connected classifier with ReLU activations
// between layers and no activation on the output scores.
type MLP struct {
	Layer1 *Linear
	Layer2 *Linear
	Layer3 *Linear

	frozen bool

	x, z1, a1, z2, a2 *mat.Dense
}

// NewMLP constructs the network with uniform(-1/sqrt(fan_in), 1/sqrt(fan_in))
// initialization.
func NewMLP(inputSize, hidden1, hidden2, numClasses int, seed int64) *MLP {
	if inputSize <= 0 {
		inputSize = InputSize
	}
	if numClasses <= 0 {
		numClasses = NumClasses
	}
	rng := rand.New(rand.NewSource(seed))
	return &MLP{
		Layer1: newLinear("layer_1", inputSize, hidden1, rng),
		Layer2: newLinear("layer_2", hidden1, hidden2, rng),
		Layer3: newLinear("layer_3", hidden2, numClasses, rng),
	}
}

// Forward returns the N×numClasses class scores for N flattened inputs.
func (m *MLP) Forward(x *mat.Dense) *mat.Dense {
	z1 := m.Layer1.forward(x)
	a1 := relu(z1)
	z2 := m.Layer2.forward(a1)
	a2 := relu(z2)
	out := m.Layer3.forward(a2)
	if !m.frozen {
		m.x, m.z1, m.a1, m.z2, m.a2 = x, z1, a1, z2, a2
	}
	return out
}

// Backward fills every parameter gradient from the gradient of the loss with
// respect to the scores of the last Forward call.
func (m *MLP) Backward(dOut *mat.Dense) error {
	if m.frozen {
		return ErrFrozen
	}
	if m.x == nil {
		return errors.New("model: backward called before forward")
	}
	da2 := m.Layer3.backward(m.a2, dOut)
	dz2 := reluGrad(m.z2, da2)
	da1 := m.Layer2.backward(m.a1, dz2)
	dz1 := reluGrad(m.z1, da1)
	m.Layer1.backward(m.x, dz1)
	return nil
}

// Freeze disables gradient computation for inference.
func (m *MLP) Freeze() {
	m.frozen = true
	m.x, m.z1, m.a1, m.z2, m.a2 = nil, nil, nil, nil, nil
}

// Frozen reports whether Freeze has been called.
func (m *MLP) Frozen() bool {
	return m.frozen
}

// Layers returns the layers in forward order.
func (m *MLP) Layers() []*Linear {
	return []*Linear{m.Layer1, m.Layer2, m.Layer3}
}

// Parameters returns all trainable tensors in a stable order.
func (m *MLP) Parameters() []Param {
	var params []Param
	for _, l := range m.Layers() {
		params = append(params,
			Param{Name: l.Name + ".weight", Value: l.W, Grad: l.GradW},
			Param{Name: l.Name + ".bias", Value: l.B, Grad: l.GradB},
		)
	}
	return params
}

// NumParams returns the total number of trainable scalars.
func (m *MLP) NumParams() int {
	total := 0
	for _, l := range m.Layers() {
		total += l.numParams()
	}
	return total
}

// Summary renders a per-layer parameter table.
func (m *MLP) Summary() string {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tName\tType\tIn\tOut\tParams")
	for i, l := range m.Layers() {
		in, out := l.W.Dims()
		fmt.Fprintf(tw, "%d\t%s\tLinear\t%d\t%d\t%d\n", i, l.Name, in, out, l.numParams())
	}
	tw.Flush()
	fmt.Fprintf(&sb, "%d trainable params\n", m.NumParams())
	return sb.String()
}

func relu(z *mat.Dense) *mat.Dense {
	var a mat.Dense
	a.Apply(func(_, _ int, v float64) float64 {
		return math.Max(v, 0)
	}, z)
	return &a
}

func reluGrad(z, d *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(i, j int, v float64) float64 {
		if z.At(i, j) > 0 {
			return v
		}
		return 0
	}, d)
	return &out
}

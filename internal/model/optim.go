package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam implements the adaptive moment optimizer with bias correction.
type Adam struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64

	params []Param
	m      []*mat.Dense
	v      []*mat.Dense
	t      int
}

// NewAdam returns an optimizer over params with the usual defaults.
func NewAdam(params []Param, lr float64) *Adam {
	a := &Adam{
		LR:      lr,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		params:  params,
	}
	for _, p := range params {
		r, c := p.Value.Dims()
		a.m = append(a.m, mat.NewDense(r, c, nil))
		a.v = append(a.v, mat.NewDense(r, c, nil))
	}
	return a
}

// Name identifies the optimizer in learning rate logs.
func (a *Adam) Name() string { return "Adam" }

// Step applies one update using the gradients currently held by the params.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))
	stepSize := a.LR / bc1
	sqrtBC2 := math.Sqrt(bc2)
	for i, p := range a.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := a.m[i].RawMatrix().Data
		v := a.v[i].RawMatrix().Data
		for j := range w {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			denom := math.Sqrt(v[j])/sqrtBC2 + a.Epsilon
			w[j] -= stepSize * m[j] / denom
		}
	}
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int { return a.t }

// LambdaLR sets the optimizer learning rate to base*factor(epoch) after
// each epoch.
type LambdaLR struct {
	opt    *Adam
	base   float64
	factor func(epoch int) float64
	epoch  int
}

// NewLambdaLR wraps opt; the current learning rate becomes base*factor(0).
func NewLambdaLR(opt *Adam, factor func(epoch int) float64) *LambdaLR {
	s := &LambdaLR{opt: opt, base: opt.LR, factor: factor}
	opt.LR = s.LR(0)
	return s
}

// ExponentialDecay returns a factor of decay^epoch.
func ExponentialDecay(decay float64) func(int) float64 {
	return func(epoch int) float64 {
		return math.Pow(decay, float64(epoch))
	}
}

// LR returns the learning rate scheduled for epoch.
func (s *LambdaLR) LR(epoch int) float64 {
	return s.base * s.factor(epoch)
}

// Step advances to the next epoch.
func (s *LambdaLR) Step() {
	s.epoch++
	s.opt.LR = s.LR(s.epoch)
}

// Epoch returns the number of completed scheduler steps.
func (s *LambdaLR) Epoch() int { return s.epoch }

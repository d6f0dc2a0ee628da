// Package hyperopt minimises an objective over a hyper-parameter space with the
// Tree-structured Parzen Estimator.
package hyperopt

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
)

// Kind is the type of a parameter.
type Kind int

// Parameter kinds.
const (
	Int Kind = iota
	Float
	Categorical
)

// Param is one dimension of a search space.
type Param struct {
	Name    string
	Kind    Kind
	Low     float64
	High    float64
	Options []string
}

// UniformInt is an integer drawn uniformly from [lo, hi].
func UniformInt(name string, lo, hi int) Param {
	return Param{Name: name, Kind: Int, Low: float64(lo), High: float64(hi)}
}

// Uniform is a real drawn uniformly from [lo, hi].
func Uniform(name string, lo, hi float64) Param {
	return Param{Name: name, Kind: Float, Low: lo, High: hi}
}

// Choice is one of the given options.
func Choice(name string, options ...string) Param {
	return Param{Name: name, Kind: Categorical, Options: options}
}

// Space is a search space.
type Space []Param

// Params is a point of a search space.
type Params struct {
	Values  map[string]float64
	Choices map[string]string
}

// NewParams returns empty params.
func NewParams() Params {
	return Params{Values: map[string]float64{}, Choices: map[string]string{}}
}

// Int returns an integer parameter.
func (p Params) Int(name string) int {
	return int(math.Round(p.Values[name]))
}

// Float returns a real parameter.
func (p Params) Float(name string) float64 {
	return p.Values[name]
}

// String returns a categorical parameter.
func (p Params) String(name string) string {
	return p.Choices[name]
}

// Format renders every parameter, sorted by name.
func (p Params) Format() [][2]string {
	var out [][2]string
	for k, v := range p.Values {
		out = append(out, [2]string{k, strconv.FormatFloat(v, 'g', 6, 64)})
	}
	for k, v := range p.Choices {
		out = append(out, [2]string{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Sample draws a point uniformly from the space.
func (s Space) Sample(r *rand.Rand) Params {
	p := NewParams()
	for _, param := range s {
		switch param.Kind {
		case Int:
			p.Values[param.Name] = param.Low + float64(r.Intn(int(param.High-param.Low)+1))
		case Float:
			p.Values[param.Name] = param.Low + r.Float64()*(param.High-param.Low)
		case Categorical:
			p.Choices[param.Name] = param.Options[r.Intn(len(param.Options))]
		}
	}
	return p
}

func indexOf(options []string, v string) int {
	for i, o := range options {
		if o == v {
			return i
		}
	}
	return -1
}

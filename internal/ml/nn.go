package ml

import (
	"context"
	"math"
	"math/rand"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Training defaults of NeuralNet.
const (
	DefaultEpochs    = 50
	DefaultBatchSize = 1024
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// Layer is a dense layer; W is In x Out, row-major.
type Layer struct {
	In  int
	Out int
	W   []float64
	B   []float64
}

func (l *Layer) weights() *mat.Dense {
	return mat.NewDense(l.In, l.Out, l.W)
}

// NeuralNet is a feed-forward network with a softmax output trained with Adam on the
// class-weighted negative log likelihood. One layer is a linear model; more layers add
// ReLU hidden layers of Neurons units, with dropout after all but the first.
type NeuralNet struct {
	LearningRate float64
	Layers       int
	Neurons      int
	Dropout      float64
	Epochs       int
	BatchSize    int
	Seed         int64

	Classes int
	Net     []Layer
}

func (n *NeuralNet) init(inputs, outputs int, r *rand.Rand) {
	dims := []int{inputs}
	for i := 1; i < n.Layers; i++ {
		dims = append(dims, n.Neurons)
	}
	dims = append(dims, outputs)

	n.Net = make([]Layer, len(dims)-1)
	for i := range n.Net {
		in, out := dims[i], dims[i+1]
		bound := 1 / math.Sqrt(float64(in))
		l := Layer{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
		for j := range l.W {
			l.W[j] = (2*r.Float64() - 1) * bound
		}
		for j := range l.B {
			l.B[j] = (2*r.Float64() - 1) * bound
		}
		n.Net[i] = l
	}
}

// dropped reports whether dropout follows the activation of layer i.
func (n *NeuralNet) dropped(i int) bool {
	return i > 0 && i < len(n.Net)-1 && n.Dropout > 0
}

type adam struct {
	m, v []float64
}

func (a *adam) step(params, grads []float64, lr float64, t int) {
	if a.m == nil {
		a.m = make([]float64, len(params))
		a.v = make([]float64, len(params))
	}
	c1 := 1 - math.Pow(adamBeta1, float64(t))
	c2 := 1 - math.Pow(adamBeta2, float64(t))
	for i, g := range grads {
		a.m[i] = adamBeta1*a.m[i] + (1-adamBeta1)*g
		a.v[i] = adamBeta2*a.v[i] + (1-adamBeta2)*g*g
		params[i] -= lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + adamEps)
	}
}

// Fit implements Classifier.
func (n *NeuralNet) Fit(ctx context.Context, x [][]float64, y []int, classes int, weights []float64) error {
	if len(x) == 0 {
		return errors.New("neural network: no samples")
	}
	if n.Layers < 1 {
		return errors.Errorf("neural network: %d layers", n.Layers)
	}
	epochs, batch := n.Epochs, n.BatchSize
	if epochs <= 0 {
		epochs = DefaultEpochs
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if weights == nil {
		weights = make([]float64, len(x))
		for i := range weights {
			weights[i] = 1
		}
	}

	r := rand.New(rand.NewSource(n.Seed))
	n.Classes = classes
	n.init(len(x[0]), classes, r)
	optW := make([]adam, len(n.Net))
	optB := make([]adam, len(n.Net))

	step := 0
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		perm := r.Perm(len(x))
		for start := 0; start < len(perm); start += batch {
			end := min(start+batch, len(perm))
			rows := perm[start:end]
			step++

			acts, masks := n.forward(batchMatrix(x, rows), r)
			delta := lossGradient(acts[len(acts)-1], rows, y, weights)
			for l := len(n.Net) - 1; l >= 0; l-- {
				layer := &n.Net[l]
				var gw mat.Dense
				gw.Mul(acts[l].T(), delta)
				gb := make([]float64, layer.Out)
				br, _ := delta.Dims()
				for i := 0; i < br; i++ {
					for j, v := range delta.RawRowView(i) {
						gb[j] += v
					}
				}

				if l > 0 {
					var prev mat.Dense
					prev.Mul(delta, layer.weights().T())
					pr, _ := prev.Dims()
					for i := 0; i < pr; i++ {
						row := prev.RawRowView(i)
						act := acts[l].RawRowView(i)
						for j := range row {
							if act[j] <= 0 {
								row[j] = 0
							} else if masks[l-1] != nil {
								row[j] *= masks[l-1][i*len(row)+j]
							}
						}
					}
					delta = &prev
				}
				optW[l].step(layer.W, gw.RawMatrix().Data, n.LearningRate, step)
				optB[l].step(layer.B, gb, n.LearningRate, step)
			}
		}
	}
	for _, l := range n.Net {
		for _, v := range l.W {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.New("neural network: training diverged")
			}
		}
	}
	return nil
}

func batchMatrix(x [][]float64, rows []int) *mat.Dense {
	m := mat.NewDense(len(rows), len(x[0]), nil)
	for i, r := range rows {
		m.SetRow(i, x[r])
	}
	return m
}

// forward returns the input and the activation of every layer; the last one holds the
// class probabilities. With r set, dropout masks (already scaled) are applied and returned.
func (n *NeuralNet) forward(a *mat.Dense, r *rand.Rand) ([]*mat.Dense, [][]float64) {
	acts := []*mat.Dense{a}
	masks := make([][]float64, len(n.Net))
	for l := range n.Net {
		layer := &n.Net[l]
		z := &mat.Dense{}
		z.Mul(acts[l], layer.weights())
		rows, _ := z.Dims()
		last := l == len(n.Net)-1
		var mask []float64
		if r != nil && n.dropped(l) {
			mask = make([]float64, rows*layer.Out)
		}
		for i := 0; i < rows; i++ {
			row := z.RawRowView(i)
			for j := range row {
				row[j] += layer.B[j]
			}
			if last {
				softmax(row)
				continue
			}
			for j := range row {
				if row[j] < 0 {
					row[j] = 0
				}
				if mask != nil {
					keep := 0.0
					if r.Float64() >= n.Dropout {
						keep = 1 / (1 - n.Dropout)
					}
					mask[i*len(row)+j] = keep
					row[j] *= keep
				}
			}
		}
		masks[l] = mask
		acts = append(acts, z)
	}
	return acts, masks
}

func softmax(row []float64) {
	m := math.Inf(-1)
	for _, v := range row {
		m = math.Max(m, v)
	}
	sum := 0.0
	for j, v := range row {
		row[j] = math.Exp(v - m)
		sum += row[j]
	}
	for j := range row {
		row[j] /= sum
	}
}

// lossGradient returns the gradient of the weighted mean negative log likelihood with respect
// to the logits of the output layer.
func lossGradient(proba *mat.Dense, rows, y []int, weights []float64) *mat.Dense {
	br, bc := proba.Dims()
	total := 0.0
	for _, r := range rows {
		total += weights[r]
	}
	if total == 0 {
		total = 1
	}
	delta := mat.NewDense(br, bc, nil)
	for i, r := range rows {
		p := proba.RawRowView(i)
		d := delta.RawRowView(i)
		w := weights[r] / total
		for j := range d {
			d[j] = w * p[j]
		}
		d[y[r]] -= w
	}
	return delta
}

// PredictProba implements Classifier.
func (n *NeuralNet) PredictProba(x [][]float64) [][]float64 {
	out := make([][]float64, 0, len(x))
	batch := n.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	rows := make([]int, 0, batch)
	for start := 0; start < len(x); start += batch {
		rows = rows[:0]
		for i := start; i < min(start+batch, len(x)); i++ {
			rows = append(rows, i)
		}
		acts, _ := n.forward(batchMatrix(x, rows), nil)
		p := acts[len(acts)-1]
		for i := range rows {
			out = append(out, append([]float64(nil), p.RawRowView(i)...))
		}
	}
	return out
}

// Hyperparameters implements Classifier.
func (n *NeuralNet) Hyperparameters() [][2]string {
	return [][2]string{
		{"lr", strconv.FormatFloat(n.LearningRate, 'f', 4, 64)},
		{"module__layers", strconv.Itoa(n.Layers)},
		{"module__neurons_per_layer", strconv.Itoa(n.Neurons)},
		{"module__p", strconv.FormatFloat(n.Dropout, 'f', 4, 64)},
	}
}

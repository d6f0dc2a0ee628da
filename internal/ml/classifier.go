package ml

import (
	"context"
	"encoding/gob"
	"runtime"

	"github.com/pkg/errors"

	"github.com/VahidMostofi/flowlab/internal/hyperopt"
)

// Classifier is a probabilistic multi-class classifier over scaled features.
type Classifier interface {
	// Fit trains on x with class codes y in [0, classes) and per-sample weights.
	Fit(ctx context.Context, x [][]float64, y []int, classes int, weights []float64) error
	PredictProba(x [][]float64) [][]float64
	// Hyperparameters returns the search parameters of the classifier, in report order.
	Hyperparameters() [][2]string
}

func init() {
	gob.Register(&Forest{})
	gob.Register(&NeuralNet{})
}

// Predict returns the most probable class of every sample.
func Predict(c Classifier, x [][]float64) []int {
	proba := c.PredictProba(x)
	out := make([]int, len(proba))
	for i, p := range proba {
		out[i] = argmax(p)
	}
	return out
}

func argmax(p []float64) int {
	best := 0
	for i, v := range p {
		if v > p[best] {
			best = i
		}
	}
	return best
}

// Family is a classifier type with its search space.
type Family struct {
	Name string
	// File is the model file suffix.
	File  string
	Space hyperopt.Space
	// New builds an untrained classifier from search parameters.
	New func(p hyperopt.Params, jobs int, seed int64) Classifier
}

var treeSpace = hyperopt.Space{
	hyperopt.UniformInt("n_estimators", 1, 500),
	hyperopt.Choice("criterion", Gini, Entropy),
	hyperopt.UniformInt("max_depth", 5, 20),
	hyperopt.UniformInt("min_samples_split", 2, 50),
	hyperopt.UniformInt("min_samples_leaf", 2, 50),
}

// Families are the classifier types searched by Optimize, in search order.
var Families = []Family{
	{
		Name:  "extra-trees",
		File:  "extra_trees",
		Space: treeSpace,
		New: func(p hyperopt.Params, jobs int, seed int64) Classifier {
			return newForest(ExtraTrees, p, jobs, seed)
		},
	},
	{
		Name:  "random forest",
		File:  "random_forest",
		Space: treeSpace,
		New: func(p hyperopt.Params, jobs int, seed int64) Classifier {
			return newForest(RandomForest, p, jobs, seed)
		},
	},
	{
		Name: "neural network",
		File: "nn",
		Space: hyperopt.Space{
			hyperopt.Uniform("lr", 0.001, 0.01),
			hyperopt.UniformInt("module__layers", 1, 10),
			hyperopt.UniformInt("module__neurons_per_layer", 16, 512),
			hyperopt.Uniform("module__p", 0.1, 0.5),
		},
		New: func(p hyperopt.Params, jobs int, seed int64) Classifier {
			return &NeuralNet{
				LearningRate: p.Float("lr"),
				Layers:       p.Int("module__layers"),
				Neurons:      p.Int("module__neurons_per_layer"),
				Dropout:      p.Float("module__p"),
				Epochs:       DefaultEpochs,
				BatchSize:    DefaultBatchSize,
				Seed:         seed,
			}
		},
	},
}

// LookupFamily finds a family by name or file suffix.
func LookupFamily(name string) (Family, error) {
	for _, f := range Families {
		if f.Name == name || f.File == name {
			return f, nil
		}
	}
	return Family{}, errors.Errorf("unknown classifier family %q", name)
}

func newForest(kind string, p hyperopt.Params, jobs int, seed int64) *Forest {
	return &Forest{
		Kind:            kind,
		Estimators:      p.Int("n_estimators"),
		Criterion:       p.String("criterion"),
		MaxDepth:        p.Int("max_depth"),
		MinSamplesSplit: p.Int("min_samples_split"),
		MinSamplesLeaf:  p.Int("min_samples_leaf"),
		Jobs:            jobs,
		Seed:            seed,
	}
}

func workers(jobs int) int {
	if jobs <= 0 {
		return runtime.NumCPU()
	}
	return jobs
}

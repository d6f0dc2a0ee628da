package ml

import (
	"context"
	"math"
	"math/rand"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Forest kinds.
const (
	ExtraTrees   = "extra-trees"
	RandomForest = "random-forest"
)

// Forest is an ensemble of CART trees voting with their leaf distributions. Extra trees
// draw random thresholds on the whole training set; random forests search the best
// threshold on a bootstrap sample. Both consider sqrt(features) features per split.
type Forest struct {
	Kind            string
	Estimators      int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// Jobs bounds the trees trained concurrently; zero or less uses every CPU.
	Jobs int
	Seed int64

	Classes int
	Trees   []*Tree
}

// Fit implements Classifier.
func (f *Forest) Fit(ctx context.Context, x [][]float64, y []int, classes int, weights []float64) error {
	if len(x) == 0 {
		return errors.New("forest: no samples")
	}
	if f.Estimators < 1 {
		return errors.Errorf("forest: %d estimators", f.Estimators)
	}
	if weights == nil {
		weights = make([]float64, len(x))
		for i := range weights {
			weights[i] = 1
		}
	}
	cfg := treeConfig{
		classes:      classes,
		criterion:    f.Criterion,
		maxDepth:     f.MaxDepth,
		minSplit:     max(2, f.MinSamplesSplit),
		minLeaf:      max(1, f.MinSamplesLeaf),
		maxFeatures:  max(1, int(math.Sqrt(float64(len(x[0]))))),
		randomSplits: f.Kind == ExtraTrees,
	}
	if cfg.maxDepth <= 0 {
		cfg.maxDepth = math.MaxInt32
	}

	r := rand.New(rand.NewSource(f.Seed))
	seeds := make([]int64, f.Estimators)
	for i := range seeds {
		seeds[i] = r.Int63()
	}

	trees := make([]*Tree, f.Estimators)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(f.Jobs))
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tr := rand.New(rand.NewSource(seeds[i]))
			idx := make([]int, len(x))
			for j := range idx {
				if f.Kind == RandomForest {
					idx[j] = tr.Intn(len(x))
				} else {
					idx[j] = j
				}
			}
			trees[i] = buildTree(cfg, x, y, weights, idx, tr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Classes, f.Trees = classes, trees
	return nil
}

// PredictProba implements Classifier.
func (f *Forest) PredictProba(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		p := make([]float64, f.Classes)
		for _, t := range f.Trees {
			for c, v := range t.Proba(row) {
				p[c] += v
			}
		}
		for c := range p {
			p[c] /= float64(len(f.Trees))
		}
		out[i] = p
	}
	return out
}

// Hyperparameters implements Classifier.
func (f *Forest) Hyperparameters() [][2]string {
	return [][2]string{
		{"n_estimators", strconv.Itoa(f.Estimators)},
		{"criterion", f.Criterion},
		{"max_depth", strconv.Itoa(f.MaxDepth)},
		{"min_samples_split", strconv.Itoa(f.MinSamplesSplit)},
		{"min_samples_leaf", strconv.Itoa(f.MinSamplesLeaf)},
	}
}

package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/VahidMostofi/flowlab/internal/dataset"
	"github.com/VahidMostofi/flowlab/internal/hyperopt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// blobs returns n samples per class around well separated centres.
func blobs(seed int64, n, classes int) ([][]float64, []int) {
	r := rand.New(rand.NewSource(seed))
	var x [][]float64
	var y []int
	for c := 0; c < classes; c++ {
		for i := 0; i < n; i++ {
			x = append(x, []float64{float64(c)*6 + r.NormFloat64(), float64(-c)*6 + r.NormFloat64(), r.Float64()})
			y = append(y, c)
		}
	}
	return x, y
}

func accuracy(c Classifier, x [][]float64, y []int) float64 {
	ok := 0
	for i, p := range Predict(c, x) {
		if p == y[i] {
			ok++
		}
	}
	return float64(ok) / float64(len(y))
}

func TestScaler(t *testing.T) {
	s, err := FitScaler([][]float64{{1, 10}, {3, 10}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 10}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Std)
	assert.Equal(t, [][]float64{{-1, 0}, {1, 0}}, s.Transform([][]float64{{1, 10}, {3, 10}}))

	_, err = FitScaler(nil)
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	classes, codes := Encode([]string{"dos", "browser", "dos", "crawler"})
	assert.Equal(t, []string{"browser", "crawler", "dos"}, classes)
	assert.Equal(t, []int{2, 0, 2, 1}, codes)

	codes, err := EncodeWith(classes, []string{"crawler", "bot"})
	assert.Error(t, err)
	assert.Equal(t, []int{1, -1}, codes)
}

func TestBalancedWeights(t *testing.T) {
	w := BalancedWeights([]int{0, 0, 0, 1}, 3)
	assert.InDelta(t, 4.0/9, w[0], 1e-12)
	assert.InDelta(t, 4.0/3, w[1], 1e-12)
	assert.Equal(t, 0.0, w[2])
	assert.Equal(t, []float64{w[1], w[0]}, SampleWeights([]int{1, 0}, w))
}

func TestTree_PureLeaf(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}}
	tree := buildTree(treeConfig{classes: 2, maxDepth: 10, minSplit: 2, minLeaf: 1, maxFeatures: 1},
		x, []int{1, 1, 1}, []float64{1, 1, 1}, []int{0, 1, 2}, rand.New(rand.NewSource(1)))
	require.Len(t, tree.Nodes, 1)
	assert.Equal(t, []float64{0, 1}, tree.Proba([]float64{5}))
}

func TestTree_Splits(t *testing.T) {
	x := [][]float64{{1}, {2}, {8}, {9}}
	y := []int{0, 0, 1, 1}
	w := []float64{1, 1, 1, 1}
	tree := buildTree(treeConfig{classes: 2, criterion: Entropy, maxDepth: 10, minSplit: 2, minLeaf: 1, maxFeatures: 1},
		x, y, w, []int{0, 1, 2, 3}, rand.New(rand.NewSource(1)))
	assert.Equal(t, 5.0, tree.Nodes[0].Threshold)
	assert.Equal(t, []float64{1, 0}, tree.Proba([]float64{0}))
	assert.Equal(t, []float64{0, 1}, tree.Proba([]float64{10}))
}

func TestForest_Fit(t *testing.T) {
	x, y := blobs(1, 60, 3)
	tx, ty := blobs(2, 20, 3)
	for _, kind := range []string{ExtraTrees, RandomForest} {
		t.Run(kind, func(t *testing.T) {
			f := &Forest{Kind: kind, Estimators: 20, Criterion: Gini, MaxDepth: 8, MinSamplesSplit: 2, MinSamplesLeaf: 2, Jobs: 4, Seed: 1}
			require.NoError(t, f.Fit(context.Background(), x, y, 3, nil))
			assert.Len(t, f.Trees, 20)
			assert.Greater(t, accuracy(f, tx, ty), 0.95)
			for _, p := range f.PredictProba(tx[:5]) {
				assert.InDelta(t, 1.0, p[0]+p[1]+p[2], 1e-9)
			}
		})
	}
}

func TestForest_Deterministic(t *testing.T) {
	x, y := blobs(1, 30, 3)
	fit := func(jobs int) [][]float64 {
		f := &Forest{Kind: RandomForest, Estimators: 10, Criterion: Entropy, MaxDepth: 5, MinSamplesSplit: 2, MinSamplesLeaf: 1, Jobs: jobs, Seed: 7}
		require.NoError(t, f.Fit(context.Background(), x, y, 3, nil))
		return f.PredictProba(x)
	}
	assert.Equal(t, fit(1), fit(4))
}

func TestForest_Errors(t *testing.T) {
	f := &Forest{Kind: ExtraTrees, Estimators: 0}
	assert.Error(t, f.Fit(context.Background(), [][]float64{{1}}, []int{0}, 1, nil))
	assert.Error(t, (&Forest{Estimators: 1}).Fit(context.Background(), nil, nil, 1, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	x, y := blobs(1, 10, 2)
	f = &Forest{Kind: ExtraTrees, Estimators: 5, Jobs: 1}
	assert.ErrorIs(t, f.Fit(ctx, x, y, 2, nil), context.Canceled)
}

func TestNeuralNet_Fit(t *testing.T) {
	x, y := blobs(1, 60, 3)
	tx, ty := blobs(2, 20, 3)
	s, err := FitScaler(x)
	require.NoError(t, err)

	for _, layers := range []int{1, 3} {
		t.Run(fmt.Sprintf("%d layers", layers), func(t *testing.T) {
			n := &NeuralNet{LearningRate: 0.05, Layers: layers, Neurons: 16, Dropout: 0.1, Epochs: 60, BatchSize: 32, Seed: 1}
			require.NoError(t, n.Fit(context.Background(), s.Transform(x), y, 3, nil))
			assert.Len(t, n.Net, layers)
			assert.Greater(t, accuracy(n, s.Transform(tx), ty), 0.9)
			for _, p := range n.PredictProba(s.Transform(tx[:5])) {
				assert.InDelta(t, 1.0, p[0]+p[1]+p[2], 1e-9)
			}
		})
	}
}

func TestNeuralNet_Architecture(t *testing.T) {
	n := &NeuralNet{Layers: 4, Neurons: 8, Dropout: 0.5}
	n.init(5, 3, rand.New(rand.NewSource(1)))
	var shapes [][2]int
	for _, l := range n.Net {
		shapes = append(shapes, [2]int{l.In, l.Out})
	}
	assert.Equal(t, [][2]int{{5, 8}, {8, 8}, {8, 8}, {8, 3}}, shapes)
	assert.False(t, n.dropped(0))
	assert.True(t, n.dropped(1))
	assert.True(t, n.dropped(2))
	assert.False(t, n.dropped(3))
}

func TestNeuralNet_Hyperparameters(t *testing.T) {
	n := &NeuralNet{LearningRate: 0.005, Layers: 2, Neurons: 64, Dropout: 0.25}
	assert.Equal(t, [][2]string{
		{"lr", "0.0050"},
		{"module__layers", "2"},
		{"module__neurons_per_layer", "64"},
		{"module__p", "0.2500"},
	}, n.Hyperparameters())
}

func TestLookupFamily(t *testing.T) {
	f, err := LookupFamily("random forest")
	require.NoError(t, err)
	assert.Equal(t, "random_forest", f.File)
	f, err = LookupFamily("nn")
	require.NoError(t, err)
	assert.Equal(t, "neural network", f.Name)
	_, err = LookupFamily("svm")
	assert.Error(t, err)

	p := hyperopt.NewParams()
	p.Values["n_estimators"] = 3
	p.Values["max_depth"] = 5
	p.Choices["criterion"] = Gini
	c := Families[0].New(p, 2, 1)
	assert.Equal(t, ExtraTrees, c.(*Forest).Kind)
	assert.Equal(t, "3", c.Hyperparameters()[0][1])
}

func TestModel_SaveLoad(t *testing.T) {
	x, y := blobs(1, 30, 2)
	s, err := FitScaler(x)
	require.NoError(t, err)
	f := &Forest{Kind: ExtraTrees, Estimators: 5, Criterion: Gini, MaxDepth: 5, MinSamplesSplit: 2, MinSamplesLeaf: 1, Jobs: 1, Seed: 1}
	require.NoError(t, f.Fit(context.Background(), s.Transform(x), y, 2, nil))

	m := &Model{
		Name:       "extra-trees",
		Family:     "extra_trees",
		Target:     "category",
		Classes:    []string{"browser", "dos"},
		Scaler:     s,
		Classifier: f,
		Trials:     &hyperopt.Trials{},
	}
	path := ModelPath(filepath.Join(t.TempDir(), "models"), "category", Families[0])
	assert.True(t, strings.HasSuffix(path, "category-extra_trees.model"))
	require.NoError(t, m.Save(path))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "category_extra_trees", loaded.Tag())
	want, wantProba := m.Classify(x)
	got, gotProba := loaded.Classify(x)
	assert.Equal(t, want, got)
	assert.Equal(t, wantProba, gotProba)
	assert.Contains(t, got, "dos")

	_, err = LoadModel(filepath.Join(t.TempDir(), "missing.model"))
	assert.Error(t, err)
}

func TestGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"category-nn.model", "category-extra_trees.model", "application_short-nn.model", "category-x.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	files, err := Glob(dir, "category")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "category-extra_trees.model"), filepath.Join(dir, "category-nn.model")}, files)
}

// writeSet writes blobs as a data set with two features and a category column.
func writeSet(t *testing.T, path string, seed int64, n int) *dataset.Set {
	x, y := blobs(seed, n, 3)
	names := []string{"browser", "crawler", "dos"}
	var b strings.Builder
	b.WriteString("f1,f2,category\n")
	for i, row := range x {
		fmt.Fprintf(&b, "%g,%g,%s\n", row[0], row[1], names[y[i]])
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	s, err := dataset.Load(path)
	require.NoError(t, err)
	return s
}

func TestOptimize(t *testing.T) {
	dir := t.TempDir()
	training := writeSet(t, filepath.Join(dir, "training.csv"), 1, 30)
	dev := writeSet(t, filepath.Join(dir, "dev.csv"), 2, 10)

	d, err := Prepare(training, dev, "category", []string{"f1", "f2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"browser", "crawler", "dos"}, d.Classes)
	assert.Len(t, d.DevY, 30)

	job := Job{Family: Families[0], Folder: filepath.Join(dir, "models"), MaxEvals: 6, Jobs: 2, Seed: 1}
	m, err := Optimize(context.Background(), d, job)
	require.NoError(t, err)
	assert.Equal(t, 6, m.Trials.Len())
	best, ok := m.Trials.Best()
	require.True(t, ok)
	assert.Less(t, best.Loss, -0.8)
	assert.FileExists(t, filepath.Join(dir, "models", "category-extra_trees.model"))

	labels, _ := m.Classify([][]float64{{0, 0}, {12, -12}})
	assert.Equal(t, []string{"browser", "dos"}, labels)

	// A second run loads the saved model instead of searching again.
	job.MaxEvals = 100
	again, err := Optimize(context.Background(), d, job)
	require.NoError(t, err)
	assert.Equal(t, 6, again.Trials.Len())
}

func TestBestTrial(t *testing.T) {
	trials := &hyperopt.Trials{List: []hyperopt.Trial{
		{Number: 0, Status: hyperopt.StatusFail, Loss: math.NaN()},
	}}
	_, err := bestTrial(trials)
	assert.ErrorContains(t, err, "no successful trial in 1")

	trials.List = append(trials.List,
		hyperopt.Trial{Number: 1, Status: hyperopt.StatusOK, Loss: -0.5},
		hyperopt.Trial{Number: 2, Status: hyperopt.StatusOK, Loss: -0.7})
	best, err := bestTrial(trials)
	require.NoError(t, err)
	assert.Equal(t, 2, best.Number)
}

func TestPrepare_Errors(t *testing.T) {
	dir := t.TempDir()
	training := writeSet(t, filepath.Join(dir, "training.csv"), 1, 5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.csv"), []byte("f1,f2,category\n"), 0644))
	empty, err := dataset.Load(filepath.Join(dir, "empty.csv"))
	require.NoError(t, err)

	_, err = Prepare(training, empty, "category", []string{"f1", "f2"})
	assert.Error(t, err)
	_, err = Prepare(training, training, "category", []string{"f3"})
	assert.Error(t, err)
	_, err = Prepare(training, training, "target", []string{"f1"})
	assert.Error(t, err)
}

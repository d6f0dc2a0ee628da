package ml

import (
	"math"
	"math/rand"
	"sort"
)

// Split criteria.
const (
	Gini    = "gini"
	Entropy = "entropy"
)

// Node is a tree node; leaves have Feature -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Value is the weighted class distribution of a leaf.
	Value []float64
}

// Tree is a CART decision tree stored as a flat node list; the root is node 0.
type Tree struct {
	Nodes []Node
}

type treeConfig struct {
	classes     int
	criterion   string
	maxDepth    int
	minSplit    int
	minLeaf     int
	maxFeatures int
	// randomSplits draws one threshold per feature instead of searching the best one.
	randomSplits bool
}

type treeBuilder struct {
	cfg  treeConfig
	x    [][]float64
	y    []int
	w    []float64
	r    *rand.Rand
	tree *Tree
}

func buildTree(cfg treeConfig, x [][]float64, y []int, w []float64, idx []int, r *rand.Rand) *Tree {
	b := &treeBuilder{cfg: cfg, x: x, y: y, w: w, r: r, tree: &Tree{}}
	b.grow(idx, 0)
	return b.tree
}

func (b *treeBuilder) counts(idx []int) []float64 {
	c := make([]float64, b.cfg.classes)
	for _, i := range idx {
		c[b.y[i]] += b.w[i]
	}
	return c
}

func (b *treeBuilder) leaf(counts []float64) int {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	value := make([]float64, len(counts))
	for i, c := range counts {
		if total > 0 {
			value[i] = c / total
		}
	}
	b.tree.Nodes = append(b.tree.Nodes, Node{Feature: -1, Left: -1, Right: -1, Value: value})
	return len(b.tree.Nodes) - 1
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	counts := b.counts(idx)
	if depth >= b.cfg.maxDepth || len(idx) < b.cfg.minSplit || len(idx) < 2*b.cfg.minLeaf || pure(counts) {
		return b.leaf(counts)
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		return b.leaf(counts)
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	id := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{Feature: feature, Threshold: threshold})
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Nodes[id].Left, b.tree.Nodes[id].Right = l, r
	return id
}

func pure(counts []float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func (b *treeBuilder) bestSplit(idx []int, parent []float64) (feature int, threshold float64, ok bool) {
	nFeatures := len(b.x[idx[0]])
	features := b.r.Perm(nFeatures)
	best := math.Inf(1)
	tried := 0
	for _, f := range features {
		if tried >= b.cfg.maxFeatures && ok {
			break
		}
		tried++
		var score, th float64
		var found bool
		if b.cfg.randomSplits {
			score, th, found = b.randomSplit(idx, f)
		} else {
			score, th, found = b.sweepSplit(idx, f, parent)
		}
		if found && score < best {
			best, feature, threshold, ok = score, f, th, true
		}
	}
	return feature, threshold, ok
}

// randomSplit draws a threshold uniformly between the feature bounds.
func (b *treeBuilder) randomSplit(idx []int, f int) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := b.x[i][f]
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi <= lo {
		return 0, 0, false
	}
	th := lo + b.r.Float64()*(hi-lo)
	if th >= hi {
		th = lo
	}

	left := make([]float64, b.cfg.classes)
	right := make([]float64, b.cfg.classes)
	nl := 0
	for _, i := range idx {
		if b.x[i][f] <= th {
			left[b.y[i]] += b.w[i]
			nl++
		} else {
			right[b.y[i]] += b.w[i]
		}
	}
	if nl < b.cfg.minLeaf || len(idx)-nl < b.cfg.minLeaf {
		return 0, 0, false
	}
	return b.childImpurity(left, right), th, true
}

// sweepSplit finds the threshold of lowest weighted child impurity.
func (b *treeBuilder) sweepSplit(idx []int, f int, parent []float64) (float64, float64, bool) {
	sorted := append([]int(nil), idx...)
	sort.Slice(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })

	left := make([]float64, b.cfg.classes)
	right := append([]float64(nil), parent...)
	best, threshold, found := math.Inf(1), 0.0, false
	for k := 0; k < len(sorted)-1; k++ {
		i := sorted[k]
		left[b.y[i]] += b.w[i]
		right[b.y[i]] -= b.w[i]
		v, next := b.x[i][f], b.x[sorted[k+1]][f]
		if v == next {
			continue
		}
		nl := k + 1
		if nl < b.cfg.minLeaf || len(sorted)-nl < b.cfg.minLeaf {
			continue
		}
		if score := b.childImpurity(left, right); score < best {
			best, threshold, found = score, v+(next-v)/2, true
		}
	}
	return best, threshold, found
}

func (b *treeBuilder) childImpurity(left, right []float64) float64 {
	wl, wr := total(left), total(right)
	if wl+wr == 0 {
		return math.Inf(1)
	}
	return (wl*impurity(b.cfg.criterion, left, wl) + wr*impurity(b.cfg.criterion, right, wr)) / (wl + wr)
}

func total(counts []float64) float64 {
	s := 0.0
	for _, c := range counts {
		s += c
	}
	return s
}

func impurity(criterion string, counts []float64, sum float64) float64 {
	if sum <= 0 {
		return 0
	}
	out := 0.0
	if criterion == Entropy {
		for _, c := range counts {
			if c > 0 {
				p := c / sum
				out -= p * math.Log2(p)
			}
		}
		return out
	}
	out = 1
	for _, c := range counts {
		p := c / sum
		out -= p * p
	}
	return out
}

// Proba returns the class distribution of the leaf reached by x.
func (t *Tree) Proba(x []float64) []float64 {
	n := 0
	for t.Nodes[n].Feature >= 0 {
		node := t.Nodes[n]
		if x[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
	return t.Nodes[n].Value
}

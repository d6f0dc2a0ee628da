// Package metrics computes multi-class classification statistics over string labels.
// Macro averages run over the union of target and inferred labels; a zero division
// counts as 0. Empty or mismatched inputs give NaN.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Labels returns the sorted union of the target and inferred labels.
func Labels(y, yy []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range [][]string{y, yy} {
		for _, l := range s {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Confusion returns the confusion matrix over labels: rows are targets, columns are
// inferred classes. Pairs with a label outside labels are ignored.
func Confusion(y, yy, labels []string) [][]int {
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	out := make([][]int, len(labels))
	for i := range out {
		out[i] = make([]int, len(labels))
	}
	for i := range y {
		if i >= len(yy) {
			break
		}
		t, ok1 := index[y[i]]
		p, ok2 := index[yy[i]]
		if ok1 && ok2 {
			out[t][p]++
		}
	}
	return out
}

// table is a confusion matrix with its marginals.
type table struct {
	c     *mat.Dense
	truth []float64
	pred  []float64
	diag  []float64
	n     float64
}

func newTable(y, yy []string) (*table, bool) {
	if len(y) == 0 || len(y) != len(yy) {
		return nil, false
	}
	labels := Labels(y, yy)
	k := len(labels)
	c := mat.NewDense(k, k, nil)
	for i, row := range Confusion(y, yy, labels) {
		for j, v := range row {
			c.Set(i, j, float64(v))
		}
	}
	t := &table{c: c, truth: make([]float64, k), pred: make([]float64, k), diag: make([]float64, k)}
	for i := 0; i < k; i++ {
		t.truth[i] = floats.Sum(mat.Row(nil, i, c))
		t.pred[i] = floats.Sum(mat.Col(nil, i, c))
		t.diag[i] = c.At(i, i)
	}
	t.n = floats.Sum(t.truth)
	return t, true
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// Accuracy is the fraction of correct predictions.
func Accuracy(y, yy []string) float64 {
	t, ok := newTable(y, yy)
	if !ok {
		return math.NaN()
	}
	return floats.Sum(t.diag) / t.n
}

// BalancedAccuracy is the mean recall of the classes present in y.
func BalancedAccuracy(y, yy []string) float64 {
	t, ok := newTable(y, yy)
	if !ok {
		return math.NaN()
	}
	sum, classes := 0.0, 0
	for i, n := range t.truth {
		if n > 0 {
			sum += t.diag[i] / n
			classes++
		}
	}
	return sum / float64(classes)
}

func macro(y, yy []string, score func(tp, fp, fn float64) float64) float64 {
	t, ok := newTable(y, yy)
	if !ok {
		return math.NaN()
	}
	scores := make([]float64, len(t.diag))
	for i, tp := range t.diag {
		scores[i] = score(tp, t.pred[i]-tp, t.truth[i]-tp)
	}
	return floats.Sum(scores) / float64(len(scores))
}

// Precision is the macro averaged precision.
func Precision(y, yy []string) float64 {
	return macro(y, yy, func(tp, fp, _ float64) float64 { return ratio(tp, tp+fp) })
}

// Recall is the macro averaged recall.
func Recall(y, yy []string) float64 {
	return macro(y, yy, func(tp, _, fn float64) float64 { return ratio(tp, tp+fn) })
}

// F1 is the macro averaged F-score.
func F1(y, yy []string) float64 {
	return macro(y, yy, func(tp, fp, fn float64) float64 { return ratio(2*tp, 2*tp+fp+fn) })
}

// Jaccard is the macro averaged Jaccard index.
func Jaccard(y, yy []string) float64 {
	return macro(y, yy, func(tp, fp, fn float64) float64 { return ratio(tp, tp+fp+fn) })
}

// Kappa is Cohen's kappa; NaN when the chance agreement is total.
func Kappa(y, yy []string) float64 {
	t, ok := newTable(y, yy)
	if !ok {
		return math.NaN()
	}
	po := floats.Sum(t.diag) / t.n
	pe := floats.Dot(t.truth, t.pred) / (t.n * t.n)
	if pe == 1 {
		return math.NaN()
	}
	return (po - pe) / (1 - pe)
}

// HammingLoss is the fraction of wrong labels; for single-label data it equals ZeroOneLoss.
func HammingLoss(y, yy []string) float64 {
	return 1 - Accuracy(y, yy)
}

// ZeroOneLoss is the fraction of misclassified samples.
func ZeroOneLoss(y, yy []string) float64 {
	return 1 - Accuracy(y, yy)
}

// MCC is the multi-class Matthews correlation coefficient R_k; 0 when either side holds
// a single class.
func MCC(y, yy []string) float64 {
	t, ok := newTable(y, yy)
	if !ok {
		return math.NaN()
	}
	c, s := floats.Sum(t.diag), t.n
	cov := c*s - floats.Dot(t.truth, t.pred)
	covPred := s*s - floats.Dot(t.pred, t.pred)
	covTruth := s*s - floats.Dot(t.truth, t.truth)
	if covPred*covTruth == 0 {
		return 0
	}
	return cov / math.Sqrt(covTruth*covPred)
}

// Summary bundles every statistic of one evaluation.
type Summary struct {
	Samples          int
	Accuracy         float64
	BalancedAccuracy float64
	Precision        float64
	Recall           float64
	Kappa            float64
	F1               float64
	Jaccard          float64
	Hamming          float64
	ZeroOne          float64
	MCC              float64
}

// Summarize computes all statistics of y against yy.
func Summarize(y, yy []string) Summary {
	return Summary{
		Samples:          len(y),
		Accuracy:         Accuracy(y, yy),
		BalancedAccuracy: BalancedAccuracy(y, yy),
		Precision:        Precision(y, yy),
		Recall:           Recall(y, yy),
		Kappa:            Kappa(y, yy),
		F1:               F1(y, yy),
		Jaccard:          Jaccard(y, yy),
		Hamming:          HammingLoss(y, yy),
		ZeroOne:          ZeroOneLoss(y, yy),
		MCC:              MCC(y, yy),
	}
}

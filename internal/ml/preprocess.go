// Package ml trains, searches and persists the flow classifiers.
package ml

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardises features to zero mean and unit variance.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes the population mean and standard deviation of every column.
func FitScaler(x [][]float64) (*Scaler, error) {
	if len(x) == 0 {
		return nil, errors.New("scaler: no samples")
	}
	cols := len(x[0])
	s := &Scaler{Mean: make([]float64, cols), Std: make([]float64, cols)}
	col := make([]float64, len(x))
	for j := 0; j < cols; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s, nil
}

// Transform returns a scaled copy of x.
func (s *Scaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Std[j]
		}
		out[i] = r
	}
	return out
}

// Encode returns the sorted distinct labels and the code of every label.
func Encode(labels []string) (classes []string, codes []int) {
	seen := make(map[string]bool)
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			classes = append(classes, l)
		}
	}
	sort.Strings(classes)
	codes, _ = EncodeWith(classes, labels)
	return classes, codes
}

// EncodeWith codes labels with known classes; labels outside them get -1 and an error.
func EncodeWith(classes, labels []string) ([]int, error) {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	codes := make([]int, len(labels))
	var err error
	for i, l := range labels {
		c, ok := index[l]
		if !ok {
			c = -1
			if err == nil {
				err = errors.Errorf("unknown class %q", l)
			}
		}
		codes[i] = c
	}
	return codes, err
}

// BalancedWeights returns the weight of every class, n / (k * count), so that every class
// weighs the same in total.
func BalancedWeights(codes []int, k int) []float64 {
	counts := make([]float64, k)
	for _, c := range codes {
		counts[c]++
	}
	weights := make([]float64, k)
	for i, n := range counts {
		if n > 0 {
			weights[i] = float64(len(codes)) / (float64(k) * n)
		}
	}
	return weights
}

// SampleWeights maps class weights onto samples.
func SampleWeights(codes []int, classWeights []float64) []float64 {
	w := make([]float64, len(codes))
	for i, c := range codes {
		w[i] = classWeights[c]
	}
	return w
}

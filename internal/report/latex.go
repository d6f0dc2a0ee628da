package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot/plotter"

	"github.com/VahidMostofi/flowlab/internal/dataset"
	"github.com/VahidMostofi/flowlab/internal/hyperopt"
	"github.com/VahidMostofi/flowlab/internal/metrics"
	"github.com/VahidMostofi/flowlab/internal/ml"
)

// MeanFeatures are the columns averaged by WriteDataSet.
var MeanFeatures = []string{"c_pkts_all", "c_bytes_all", "s_pkts_all", "s_bytes_all", "durat"}

// MaxPackets bounds the x axis of the packets plot.
const MaxPackets = 50

// tex writes lines and keeps the first error.
type tex struct {
	w   io.Writer
	err error
}

func (t *tex) raw(s string) {
	if t.err == nil {
		_, t.err = io.WriteString(t.w, s+"\n")
	}
}

func (t *tex) printf(format string, args ...interface{}) {
	if t.err == nil {
		_, t.err = fmt.Fprintf(t.w, format+"\n", args...)
	}
}

// WriteDataSet writes the table of feature means per value of group.
func WriteDataSet(w io.Writer, tag, description string, set *dataset.Set, group string) error {
	groups, err := set.Column(group)
	if err != nil {
		return err
	}
	x, err := set.Matrix(MeanFeatures)
	if err != nil {
		return err
	}
	rows := make(map[string][]int)
	for i, g := range groups {
		rows[g] = append(rows[g], i)
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := &tex{w: w}
	t.raw(`\begin{table}[H]`)
	t.raw("\t" + `\centering`)
	t.raw("\t" + `\begin{tabular}{lrrrrr}`)
	t.raw("\t\t" + `\toprule`)
	t.raw("\t\t" + ` & \multicolumn{2}{c}{\textsc{sent by client}} & \multicolumn{2}{c}{\textsc{sent by server}}\\`)
	t.raw("\t\t" + `\cmidrule(lr){2-3}`)
	t.raw("\t\t" + `\cmidrule(lr){4-5}`)
	t.printf("\t\t"+`\textsc{%s} & \textsc{packets} & \textsc{bytes} & \textsc{packets} & \textsc{bytes} & \textsc{duration} [$ms$]\\`, description)
	t.raw("\t\t" + `\midrule`)
	col := make([]float64, 0, len(groups))
	for _, k := range keys {
		means := make([]string, len(MeanFeatures))
		for j := range MeanFeatures {
			col = col[:0]
			for _, i := range rows[k] {
				col = append(col, x[i][j])
			}
			means[j] = fmt.Sprintf("%.3f", stat.Mean(col, nil))
		}
		t.printf("\t\t%s & %s\\\\", k, strings.Join(means, " & "))
	}
	t.raw("\t\t" + `\bottomrule`)
	t.raw("\t" + `\end{tabular}`)
	t.printf("\t"+`\caption{Means of some features for the %s in our data set.}`, description)
	t.printf("\t"+`\label{tab:means_%s}`, tag)
	t.raw(`\end{table}`)
	return t.err
}

// OptimizationCurve returns the R_k of every successful trial against the hours elapsed
// since the first one.
func OptimizationCurve(trials *hyperopt.Trials) plotter.XYs {
	var out plotter.XYs
	if trials == nil || trials.Len() == 0 {
		return out
	}
	start := trials.List[0].Booked
	for _, tr := range trials.List {
		if tr.Status != hyperopt.StatusOK || math.IsNaN(tr.Loss) {
			continue
		}
		out = append(out, plotter.XY{X: tr.Booked.Sub(start).Hours(), Y: -tr.Loss})
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeCurve(t *tex, curve plotter.XYs) {
	for _, p := range curve {
		t.printf("\t\t\t\t%s %s", formatFloat(p.X), formatFloat(p.Y))
	}
}

// WriteOptimization writes the pgfplots figure of the search progress of a model.
func WriteOptimization(w io.Writer, tag, description string, m *ml.Model) error {
	t := &tex{w: w}
	t.raw(`\begin{figure}[H]`)
	t.raw("\t" + `\centering`)
	t.raw("\t" + `\begin{tikzpicture}`)
	t.raw("\t\t" + `\begin{axis}[xlabel=\textsc{time [hours]}, ylabel=\textsc{$R_k$}, axis lines=left, grid=major, width=0.9\linewidth, height=12em, ymax=1, ymin=-1]`)
	t.raw("\t\t\t" + `\addplot +[mark=none, OrangeRed, thick, smooth] table {`)
	writeCurve(t, OptimizationCurve(m.Trials))
	t.raw("\t\t\t};")
	t.raw("\t\t" + `\end{axis}`)
	t.raw("\t" + `\end{tikzpicture}`)
	t.printf("\t"+`\caption{Hyper-parameters optimization plot for the %s.}`, description)
	t.printf("\t"+`\label{fig:optimization_%s}`, tag)
	t.raw(`\end{figure}`)
	return t.err
}

// WriteHyperparameters writes the table of the optimal hyper-parameters of a model.
func WriteHyperparameters(w io.Writer, tag, description string, m *ml.Model) error {
	t := &tex{w: w}
	t.raw(`\begin{table}[H]`)
	t.raw("\t" + `\centering`)
	t.raw("\t" + `\begin{tabular}{ll}`)
	t.raw("\t\t" + `\toprule`)
	t.raw("\t\t" + `\textsc{hyper-parameter} & \textsc{value}\\`)
	t.raw("\t\t" + `\midrule`)
	for _, kv := range m.Classifier.Hyperparameters() {
		t.printf("\t\t"+`\verb|%s| & %s\\`, kv[0], kv[1])
	}
	t.raw("\t\t" + `\bottomrule`)
	t.raw("\t" + `\end{tabular}`)
	t.printf("\t"+`\caption{Optimal hyper-parameters for the %s.}`, description)
	t.printf("\t"+`\label{tab:hyperparameters_%s}`, tag)
	t.raw(`\end{table}`)
	return t.err
}

type statistic struct {
	name  string
	scale float64
	value func(metrics.Summary) float64
}

var statistics = []statistic{
	{`accuracy [$\%$]`, 100, func(s metrics.Summary) float64 { return s.Accuracy }},
	{`balanced accuracy [$\%$]`, 100, func(s metrics.Summary) float64 { return s.BalancedAccuracy }},
	{`precision [$\%$]`, 100, func(s metrics.Summary) float64 { return s.Precision }},
	{`recall [$\%$]`, 100, func(s metrics.Summary) float64 { return s.Recall }},
	{`Cohen’s kappa [$\%$]`, 100, func(s metrics.Summary) float64 { return s.Kappa }},
	{`F-score [$\%$]`, 100, func(s metrics.Summary) float64 { return s.F1 }},
	{`Jaccard score [$\%$]`, 100, func(s metrics.Summary) float64 { return s.Jaccard }},
	{`Hamming loss`, 1, func(s metrics.Summary) float64 { return s.Hamming }},
	{`zero-one loss`, 1, func(s metrics.Summary) float64 { return s.ZeroOne }},
	{`$R_k$`, 1, func(s metrics.Summary) float64 { return s.MCC }},
}

func writeStatisticRows(t *tex, summaries []metrics.Summary) {
	cells := make([]string, len(summaries))
	for i, s := range summaries {
		cells[i] = strconv.Itoa(s.Samples)
	}
	t.printf("\t\tsamples & %s\\\\", strings.Join(cells, " & "))
	for _, st := range statistics {
		for i, s := range summaries {
			cells[i] = fmt.Sprintf("%.3f", st.value(s)*st.scale)
		}
		t.printf("\t\t%s & %s\\\\", st.name, strings.Join(cells, " & "))
	}
}

// WriteStatistics writes the classification statistics on the training set, the dev set,
// the known tools test set (KTS) and the unknown tools test set (UTS).
func WriteStatistics(w io.Writer, tag, description string, training, dev, known, unknown metrics.Summary) error {
	t := &tex{w: w}
	t.raw(`\begin{table}[H]`)
	t.raw("\t" + `\centering`)
	t.raw("\t" + `\begin{tabular}{lrrrr}`)
	t.raw("\t\t" + `\toprule`)
	t.raw("\t\t" + `\textsc{statistic} & \textsc{training set} & \textsc{dev set} & \textsc{kts} & \textsc{uts}\\`)
	t.raw("\t\t" + `\midrule`)
	writeStatisticRows(t, []metrics.Summary{training, dev, known, unknown})
	t.raw("\t\t" + `\bottomrule`)
	t.raw("\t" + `\end{tabular}`)
	t.printf("\t"+`\caption{Classification statistics for the %s.}`, description)
	t.printf("\t"+`\label{tab:classification_%s}`, tag)
	t.raw(`\end{table}`)
	return t.err
}

// WriteEnsembleStatistics writes the KTS statistics of an ensemble.
func WriteEnsembleStatistics(w io.Writer, tag, description string, s metrics.Summary) error {
	t := &tex{w: w}
	t.raw(`\begin{table}[H]`)
	t.raw("\t" + `\centering`)
	t.raw("\t" + `\begin{tabular}{ll}`)
	t.raw("\t\t" + `\toprule`)
	t.raw("\t\t" + `\textsc{statistic} & \textsc{value}\\`)
	t.raw("\t\t" + `\midrule`)
	writeStatisticRows(t, []metrics.Summary{s})
	t.raw("\t\t" + `\bottomrule`)
	t.raw("\t" + `\end{tabular}`)
	t.printf("\t"+`\caption{Classification statistics for the %s on the KTS.}`, description)
	t.printf("\t"+`\label{tab:ensemble_%s}`, tag)
	t.raw(`\end{table}`)
	return t.err
}

// Matrices wider than these get scaled down, then rotated headers and an abbreviation legend.
const (
	resizeClasses = 6
	rotateClasses = 11
)

// WriteConfusion writes the KTS confusion matrix over classes, headed by their short names.
func WriteConfusion(w io.Writer, tag, description string, y, yy, classes []string, short func(string) string) error {
	confusion := metrics.Confusion(y, yy, classes)
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = short(c)
	}
	n := len(classes)

	t := &tex{w: w}
	t.raw(`\begin{table}[H]`)
	t.raw("\t" + `\centering`)
	if n > resizeClasses {
		t.raw(`\resizebox{\linewidth}{!}{%`)
	}
	t.printf("\t"+`\begin{tabular}{ll|%s}`, strings.Repeat("l", n))
	t.raw("\t" + `\setlength{\tabcolsep}{2pt}`)
	t.printf("\t\t"+` & & \multicolumn{%d}{c}{\textsc{inferred}}\\`, n)
	if n > rotateClasses {
		t.raw("\t\t" + ` & & \rotatebox{90}{\textsc{` + strings.Join(names, `}} & \rotatebox{90}{\textsc{`) + `}}\\`)
	} else {
		t.raw("\t\t" + ` & & \textsc{` + strings.Join(names, `} & \textsc{`) + `}\\`)
	}
	t.raw("\t\t" + `\midrule`)
	for i, row := range confusion {
		p := ""
		if i == 0 {
			p = fmt.Sprintf(`\multirow{%d}{*}{\rotatebox{90}{\textsc{target}}}`, n)
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = strconv.Itoa(v)
		}
		t.raw("\t\t" + p + ` & \textsc{` + names[i] + `} & ` + strings.Join(cells, " & ") + `\\`)
	}
	t.raw("\t" + `\end{tabular}`)
	if n > resizeClasses {
		t.raw("\t}")
	}
	extra := ""
	if n > rotateClasses {
		extra = legend(classes, names)
	}
	t.printf("\t"+`\caption{Confusion matrix for the %s on the KTS%s.}`, description, extra)
	t.printf("\t"+`\label{tab:confusion_%s}`, tag)
	t.raw(`\end{table}`)
	return t.err
}

// legend explains the abbreviated tool prefixes of the short names, in order of appearance.
func legend(classes, names []string) string {
	seen := make(map[string]bool)
	var entries []string
	for i, c := range classes {
		if names[i] == c {
			continue
		}
		abbr := strings.SplitN(names[i], "-", 2)[0]
		tool := strings.SplitN(c, "-", 2)[0]
		if abbr == tool || seen[abbr] {
			continue
		}
		seen[abbr] = true
		entries = append(entries, fmt.Sprintf(`\textsc{%s} = \textsc{%s}`, abbr, tool))
	}
	switch len(entries) {
	case 0:
		return ""
	case 1:
		return " (where " + entries[0] + ")"
	}
	return " (where " + strings.Join(entries[:len(entries)-1], ", ") + " and " + entries[len(entries)-1] + ")"
}

// PacketsCurve returns the balanced accuracy, in percent, of the flows of every packet
// count up to MaxPackets.
func PacketsCurve(y, yy []string, packets []int) plotter.XYs {
	byCount := make(map[int][]int)
	for i, p := range packets {
		if p <= MaxPackets {
			byCount[p] = append(byCount[p], i)
		}
	}
	counts := make([]int, 0, len(byCount))
	for c := range byCount {
		counts = append(counts, c)
	}
	sort.Ints(counts)

	out := make(plotter.XYs, 0, len(counts))
	for _, c := range counts {
		var target, inferred []string
		for _, i := range byCount[c] {
			target = append(target, y[i])
			inferred = append(inferred, yy[i])
		}
		out = append(out, plotter.XY{X: float64(c), Y: metrics.BalancedAccuracy(target, inferred) * 100})
	}
	return out
}

// WritePackets writes the pgfplots figure of the balanced accuracy against the packets
// exchanged by a flow.
func WritePackets(w io.Writer, tag, description string, curve plotter.XYs) error {
	t := &tex{w: w}
	t.raw(`\begin{figure}[H]`)
	t.raw("\t" + `\centering`)
	t.raw("\t" + `\begin{tikzpicture}`)
	t.raw("\t\t" + `\begin{axis}[xlabel=\textsc{exchanged packets}, ylabel=\textsc{balanced accuracy [$\%$]}, axis lines=left, grid=major, width=0.9\linewidth, height=12em, ymax=100, ymin=0]`)
	t.raw("\t\t\t" + `\addplot +[mark=none, Purple, thick, smooth] table {`)
	writeCurve(t, curve)
	t.raw("\t\t\t};")
	t.raw("\t\t" + `\end{axis}`)
	t.raw("\t" + `\end{tikzpicture}`)
	t.printf("\t"+`\caption{Balanced accuracy vs. exchange packets plot for the %s on the KTS.}`, description)
	t.printf("\t"+`\label{fig:packets_%s}`, tag)
	t.raw(`\end{figure}`)
	return t.err
}

// WriteUnknown writes, for every unknown tool, how its flows were classified.
func WriteUnknown(w io.Writer, tag, description string, tools, yy []string) error {
	counts := make(map[string]map[string]int)
	for i, tool := range tools {
		if counts[tool] == nil {
			counts[tool] = make(map[string]int)
		}
		counts[tool][yy[i]]++
	}
	names := make([]string, 0, len(counts))
	for tool := range counts {
		names = append(names, tool)
	}
	sort.Strings(names)

	t := &tex{w: w}
	t.raw(`\begin{table}[H]`)
	t.raw("\t" + `\centering`)
	for _, tool := range names {
		inferred := make([]string, 0, len(counts[tool]))
		for c := range counts[tool] {
			inferred = append(inferred, c)
		}
		sort.Strings(inferred)

		t.raw("\t" + `\begin{subtable}{.45\linewidth}`)
		t.raw("\t\t" + `\centering`)
		t.raw("\t" + `\begin{tabular}{ll}`)
		t.raw("\t\t" + `\toprule`)
		t.raw("\t\t" + `\textsc{inferred class} & \textsc{samples}\\`)
		t.raw("\t\t" + `\midrule`)
		for _, c := range inferred {
			t.printf("\t\t%s & %d\\\\", c, counts[tool][c])
		}
		t.raw("\t\t" + `\bottomrule`)
		t.raw("\t" + `\end{tabular}`)
		t.printf("\t"+`\caption{Classification of \textsc{%s}.}`, tool)
		t.raw("\t" + `\end{subtable}`)
	}
	t.printf("\t"+`\caption{Classification of unknown tools for the %s.}`, description)
	t.printf("\t"+`\label{tab:unknown_%s}`, tag)
	t.raw(`\end{table}`)
	return t.err
}

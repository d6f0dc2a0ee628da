package dataset

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VahidMostofi/flowlab/internal/labels"
	"github.com/VahidMostofi/flowlab/internal/pcapsplit"
	"github.com/VahidMostofi/flowlab/internal/tstat"
)

// fakeExporter writes rows per log type for every capture, plus one short row.
type fakeExporter struct {
	rows int
	skip map[string]bool
	fail string
}

func (f *fakeExporter) Run(_ context.Context, pcap, outDir string) (tstat.Logs, error) {
	name := filepath.Base(pcap)
	if f.skip[name] {
		return tstat.Logs{}, tstat.ErrNoOutput
	}
	if name == f.fail {
		return tstat.Logs{}, fmt.Errorf("tstat crashed on %s", name)
	}
	dir := filepath.Join(outDir, "10_00_01_Jan_2019.out")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return tstat.Logs{}, err
	}
	logs := tstat.Logs{
		Complete:   filepath.Join(dir, tstat.CompleteLog),
		NoComplete: filepath.Join(dir, tstat.NoCompleteLog),
	}
	for _, path := range []string{logs.Complete, logs.NoComplete} {
		var b strings.Builder
		b.WriteString("#" + strings.Join(tstat.Fields, " ") + "\n")
		for r := 0; r < f.rows; r++ {
			fields := make([]string, len(tstat.Fields)+3)
			for i := range fields {
				fields[i] = fmt.Sprint(r + i)
			}
			b.WriteString(strings.Join(fields, " ") + "\n")
		}
		b.WriteString("1 2 3\n")
		if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
			return tstat.Logs{}, err
		}
	}
	return logs, nil
}

var testCategories = map[string]string{
	"rudy":         "dos",
	"httrack":      "crawler",
	"grabsite":     "crawler",
	"slowhttptest": "dos",
}

func captures(t *testing.T, names ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pcap")
	require.NoError(t, os.Mkdir(dir, 0755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0644))
	}
	return dir
}

func newBuilder(exp Exporter) *Builder {
	return &Builder{
		Exporter:  exp,
		Labels:    labels.NewTable(testCategories, nil),
		Workers:   2,
		DevRatio:  10,
		TestRatio: 10,
		Seed:      1,
		Unknown:   []string{"grabsite-2.1.16", "slowhttptest-1.6"},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	require.NoError(t, s.Err())
	return lines
}

func TestSchema(t *testing.T) {
	assert.Len(t, Columns, 51)
	assert.Len(t, Features, 32)
	assert.Equal(t, "complete", Columns[44])
	assert.Equal(t, "category", Columns[50])

	target, ok := LookupTarget("application_short")
	require.True(t, ok)
	assert.Equal(t, "tool", target.Description)
	_, ok = LookupTarget("os_long")
	assert.False(t, ok)
}

func TestWriteCaptureSet(t *testing.T) {
	src := captures(t, "rudy-1.0.0_linux-4.17.0_none.pcap", "httrack-3.49.2_linux-4.17.0_none.pcap", "rudy-0.9_linux_none.pcap")
	out := t.TempDir()
	exp := &fakeExporter{rows: 2, skip: map[string]bool{"rudy-0.9_linux_none.pcap": true}}

	n, err := newBuilder(exp).WriteCaptureSet(context.Background(), src, out, "0.100000")
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	lines := readLines(t, filepath.Join(out, "dataset-0.100000.csv"))
	require.Len(t, lines, 9)
	assert.Equal(t, strings.Join(Columns, " "), lines[0])

	first := strings.Fields(lines[1])
	require.Len(t, first, len(Columns))
	assert.Equal(t, "43", first[43])
	want := []string{"true", "httrack", "httrack-3.49.2", "linux", "linux-4.17.0", "httrack-3.49.2_linux-4.17.0", "crawler"}
	if diff := cmp.Diff(want, first[44:]); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "false", strings.Fields(lines[3])[44])
	assert.Equal(t, "rudy", strings.Fields(lines[5])[45])
}

func TestWriteCaptureSet_NoFlows(t *testing.T) {
	src := captures(t, "rudy-1.0.0_linux_none.pcap")
	out := t.TempDir()
	n, err := newBuilder(&fakeExporter{}).WriteCaptureSet(context.Background(), src, out, "all")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = os.Stat(filepath.Join(out, CaptureSetName("all")))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteCaptureSet_Errors(t *testing.T) {
	out := t.TempDir()

	src := captures(t, "nounderscore.pcap")
	_, err := newBuilder(&fakeExporter{rows: 1}).WriteCaptureSet(context.Background(), src, out, "all")
	assert.ErrorContains(t, err, "not <app>_<os>_<hypervisor>")

	src = captures(t, "rudy-1.0.0_linux_none.pcap")
	_, err = newBuilder(&fakeExporter{rows: 1, fail: "rudy-1.0.0_linux_none.pcap"}).WriteCaptureSet(context.Background(), src, out, "all")
	assert.ErrorContains(t, err, "tstat crashed")
}

func TestBuild(t *testing.T) {
	src := captures(t,
		"rudy-1.0.0_linux-4.17.0_none.pcap",
		"httrack-3.49.2_linux-4.17.0_none.pcap",
		"grabsite-2.1.16_linux-4.17.0_none.pcap",
		"slowhttptest-1.6-H_linux-4.17.0_none.pcap",
	)
	out := filepath.Join(t.TempDir(), "dataset")
	require.NoError(t, os.MkdirAll(out, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "dataset-stale.csv"), []byte("junk\n"), 0644))

	summary, err := newBuilder(&fakeExporter{rows: 5}).Build(context.Background(), src, out)
	require.NoError(t, err)
	assert.Equal(t, Summary{Flows: 40, Training: 16, Dev: 2, Known: 2, Unknown: 20}, summary)

	csvs, err := filepath.Glob(filepath.Join(out, "*.csv"))
	require.NoError(t, err)
	assert.Empty(t, csvs)

	training, err := Load(filepath.Join(out, TrainingFile))
	require.NoError(t, err)
	assert.Equal(t, 16, training.Len())
	assert.Len(t, training.Frame.Names(), len(Columns)-len(Dropped))
	assert.NotContains(t, training.Frame.Names(), "c_ip")

	x, err := training.Matrix(Features)
	require.NoError(t, err)
	require.Len(t, x, 16)
	assert.Len(t, x[0], len(Features))

	unknown, err := Load(filepath.Join(out, UnknownFile))
	require.NoError(t, err)
	apps, err := unknown.Column("application_short")
	require.NoError(t, err)
	for _, a := range apps {
		assert.Contains(t, []string{"grabsite", "slowhttptest"}, a)
	}

	// same seed, same split
	again := filepath.Join(t.TempDir(), "dataset")
	_, err = newBuilder(&fakeExporter{rows: 5}).Build(context.Background(), src, again)
	require.NoError(t, err)
	retrained, err := Load(filepath.Join(again, TrainingFile))
	require.NoError(t, err)
	a, _ := training.Column("all")
	b, _ := retrained.Column("all")
	assert.Equal(t, a, b)
}

// fakeSplitter copies every capture and records the split it was asked for.
type fakeSplitter struct {
	splits []string
	failAt int
}

func (f *fakeSplitter) Split(_ context.Context, src, dst string, _ float64) error {
	if f.failAt > 0 && len(f.splits) == f.failAt {
		return fmt.Errorf("editcap crashed on %s", filepath.Base(src))
	}
	f.splits = append(f.splits, filepath.Join(filepath.Base(filepath.Dir(dst)), filepath.Base(dst)))
	return os.WriteFile(dst, nil, 0644)
}

func TestBuild_Splits(t *testing.T) {
	src := captures(t, "rudy-1.0.0_linux-4.17.0_none.pcap", "httrack-3.49.2_linux-4.17.0_none.pcap")
	out := filepath.Join(t.TempDir(), "dataset")
	splitter := &fakeSplitter{}
	b := newBuilder(&fakeExporter{rows: 1})
	b.Splitter, b.Splits = splitter, true

	summary, err := b.Build(context.Background(), src, out)
	require.NoError(t, err)

	thresholds := pcapsplit.Thresholds()
	require.Len(t, splitter.splits, 2*len(thresholds))
	assert.Equal(t, "pcap-0.000000/httrack-3.49.2_linux-4.17.0_none.pcap", splitter.splits[0])
	assert.Equal(t, "pcap-0.000000/rudy-1.0.0_linux-4.17.0_none.pcap", splitter.splits[1])
	assert.Equal(t, "pcap-1000.000000/rudy-1.0.0_linux-4.17.0_none.pcap", splitter.splits[len(splitter.splits)-1])

	// two flows per capture in the full set and in every split
	assert.Equal(t, Summary{Flows: 264, Training: 211, Dev: 26, Known: 27, Unknown: 0}, summary)

	leftovers, err := filepath.Glob(src + "-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBuild_SplitError(t *testing.T) {
	src := captures(t, "rudy-1.0.0_linux-4.17.0_none.pcap")
	b := newBuilder(&fakeExporter{rows: 1})
	b.Splitter, b.Splits = &fakeSplitter{failAt: 4}, true

	_, err := b.Build(context.Background(), src, filepath.Join(t.TempDir(), "dataset"))
	assert.ErrorContains(t, err, "at "+pcapsplit.FormatThreshold(pcapsplit.Thresholds()[4]))
	assert.ErrorContains(t, err, "editcap crashed")
}

func TestBuild_NoFlows(t *testing.T) {
	src := captures(t, "rudy-1.0.0_linux_none.pcap")
	_, err := newBuilder(&fakeExporter{}).Build(context.Background(), src, t.TempDir())
	assert.ErrorContains(t, err, "no flows")
}

func TestBuild_EmptyUnknownSet(t *testing.T) {
	src := captures(t, "rudy-1.0.0_linux_none.pcap")
	out := t.TempDir()
	summary, err := newBuilder(&fakeExporter{rows: 10}).Build(context.Background(), src, out)
	require.NoError(t, err)
	assert.Zero(t, summary.Unknown)

	unknown, err := Load(filepath.Join(out, UnknownFile))
	require.NoError(t, err)
	assert.Zero(t, unknown.Len())
	assert.Contains(t, unknown.Frame.Names(), "category")
}

func TestIsUnknown(t *testing.T) {
	unknown := []string{"slowhttptest-1.6", "opera-62.0.3331.66"}
	assert.True(t, IsUnknown("slowhttptest-1.6", unknown))
	assert.True(t, IsUnknown("slowhttptest-1.6-X", unknown))
	assert.False(t, IsUnknown("slowhttptest-1.60", unknown))
	assert.False(t, IsUnknown("rudy-1.0.0", unknown))
}

func TestSplit_Ratios(t *testing.T) {
	_, _, _, err := Split(empty(Columns), 60, 40, 1)
	assert.Error(t, err)
}

func TestSet_Accessors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "set.csv")
	content := "c_pkts_all,s_pkts_all,complete,category\n3,4,true,dos\n1,1,False,crawler\nx,1,true,dos\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	head := &Set{Path: set.Path, Frame: subset(set.Frame, []int{0, 1})}
	packets, err := head.Packets()
	require.NoError(t, err)
	assert.Equal(t, []int{7, 2}, packets)

	m, err := head.Matrix([]string{"complete"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {0}}, m)

	_, err = set.Matrix([]string{"c_pkts_all"})
	assert.ErrorContains(t, err, "c_pkts_all row 2")
	_, err = set.Column("missing")
	assert.Error(t, err)
}

package dataset

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Set is a loaded data set.
type Set struct {
	Path  string
	Frame dataframe.DataFrame
}

// Load reads a comma separated data set, gzipped when the name ends with .gz.
func Load(path string) (*Set, error) {
	df, err := readFrame(path, ',')
	if err != nil {
		return nil, err
	}
	return &Set{Path: path, Frame: df}, nil
}

// Len returns the number of flows.
func (s *Set) Len() int {
	return s.Frame.Nrow()
}

// Column returns the values of a column.
func (s *Set) Column(name string) ([]string, error) {
	return column(s.Frame, name)
}

// Matrix returns the numeric rows of the given columns. Boolean cells map to 1 and 0.
func (s *Set) Matrix(features []string) ([][]float64, error) {
	rows := make([][]float64, s.Len())
	for i := range rows {
		rows[i] = make([]float64, len(features))
	}
	for j, name := range features {
		values, err := s.Column(name)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			f, err := parseCell(v)
			if err != nil {
				return nil, errors.Wrapf(err, "%s row %d", name, i)
			}
			rows[i][j] = f
		}
	}
	return rows, nil
}

// Packets returns the number of packets of every flow in both directions.
func (s *Set) Packets() ([]int, error) {
	m, err := s.Matrix([]string{"c_pkts_all", "s_pkts_all"})
	if err != nil {
		return nil, err
	}
	out := make([]int, len(m))
	for i, r := range m {
		out[i] = int(r[0] + r[1])
	}
	return out, nil
}

func parseCell(v string) (float64, error) {
	switch v {
	case "true", "True":
		return 1, nil
	case "false", "False":
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

// WriteFrame writes df as comma separated values, gzipped when the name ends with .gz.
func WriteFrame(path string, df dataframe.DataFrame) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create data set")
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if err := df.WriteCSV(w); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.Wrapf(err, "compress %s", path)
		}
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func readFrame(path string, delimiter rune) (dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrap(err, "open data set")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return dataframe.DataFrame{}, errors.Wrapf(err, "decompress %s", path)
		}
		defer gz.Close()
		r = gz
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "read %s", path)
	}

	header, rest, _ := bytes.Cut(data, []byte("\n"))
	if len(bytes.TrimSpace(rest)) == 0 {
		names := strings.Split(strings.TrimSpace(string(header)), string(delimiter))
		if len(names) == 0 || names[0] == "" {
			return dataframe.DataFrame{}, errors.Errorf("%s: no header", path)
		}
		return empty(names), nil
	}

	df := dataframe.ReadCSV(bytes.NewReader(data),
		dataframe.WithDelimiter(delimiter),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(df.Err, "parse %s", path)
	}
	return df, nil
}

func empty(names []string) dataframe.DataFrame {
	cols := make([]series.Series, len(names))
	for i, n := range names {
		cols[i] = series.New([]string{}, series.String, n)
	}
	return dataframe.New(cols...)
}

func subset(df dataframe.DataFrame, idx []int) dataframe.DataFrame {
	if len(idx) == 0 {
		return empty(df.Names())
	}
	return df.Subset(idx)
}

func column(df dataframe.DataFrame, name string) ([]string, error) {
	for _, n := range df.Names() {
		if n == name {
			return df.Col(name).Records(), nil
		}
	}
	return nil, errors.Errorf("no column %q", name)
}

package ml

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/VahidMostofi/flowlab/internal/hyperopt"
)

// Extension of model files.
const Extension = ".model"

// Model is a trained classifier bundled with everything needed to apply and report it.
type Model struct {
	// Name is the family name, e.g. "random forest".
	Name   string
	Family string
	Target string
	// Classes decodes the classifier outputs.
	Classes    []string
	Features   []string
	Scaler     *Scaler
	Classifier Classifier
	Trials     *hyperopt.Trials
	Created    time.Time
}

// ModelPath returns the file of the model of a family for a target.
func ModelPath(folder, target string, f Family) string {
	return filepath.Join(folder, target+"-"+f.File+Extension)
}

// Glob returns the model files of a target, sorted.
func Glob(folder, target string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(folder, target+"-*"+Extension))
	if err != nil {
		return nil, errors.Wrap(err, "glob models")
	}
	sort.Strings(matches)
	return matches, nil
}

// Tag is the identifier of the model in report labels.
func (m *Model) Tag() string {
	return strings.NewReplacer("-", "_", " ", "_").Replace(m.Target + "_" + m.Name)
}

// Classify returns the predicted class and the class probabilities of every raw sample.
func (m *Model) Classify(x [][]float64) ([]string, [][]float64) {
	proba := m.Classifier.PredictProba(m.Scaler.Transform(x))
	out := make([]string, len(proba))
	for i, p := range proba {
		out[i] = m.Classes[argmax(p)]
	}
	return out, proba
}

// Save writes the model as gzipped gob.
func (m *Model) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create model folder")
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create model file")
	}
	defer os.Remove(tmp)
	defer f.Close()

	gz, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		return errors.Wrap(err, "compress model")
	}
	if err := gob.NewEncoder(gz).Encode(m); err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := gz.Close(); err != nil {
		return errors.Wrapf(err, "compress %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	return errors.Wrap(os.Rename(tmp, path), "save model")
}

// LoadModel reads a model written by Save.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open model")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decompress %s", path)
	}
	defer gz.Close()

	m := &Model{}
	if err := gob.NewDecoder(gz).Decode(m); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if m.Classifier == nil || m.Scaler == nil {
		return nil, errors.Errorf("%s: incomplete model", path)
	}
	return m, nil
}

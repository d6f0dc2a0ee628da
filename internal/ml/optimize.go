package ml

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VahidMostofi/flowlab/internal/dataset"
	"github.com/VahidMostofi/flowlab/internal/hyperopt"
	"github.com/VahidMostofi/flowlab/internal/metrics"
)

// Data is a target prepared for training: scaled features and encoded classes.
type Data struct {
	Target   string
	Features []string
	Classes  []string
	Scaler   *Scaler

	TrainX  [][]float64
	TrainY  []int
	Weights []float64

	DevX [][]float64
	// DevY keeps the dev labels as text; classes unseen in training simply never match.
	DevY []string
}

// Prepare fits the scaler on the training set and encodes the target classes.
func Prepare(training, dev *dataset.Set, target string, features []string) (*Data, error) {
	if training.Len() == 0 {
		return nil, errors.New("empty training set")
	}
	if dev.Len() == 0 {
		return nil, errors.New("empty dev set")
	}
	trainX, err := training.Matrix(features)
	if err != nil {
		return nil, errors.Wrap(err, "training set")
	}
	devX, err := dev.Matrix(features)
	if err != nil {
		return nil, errors.Wrap(err, "dev set")
	}
	trainLabels, err := training.Column(target)
	if err != nil {
		return nil, errors.Wrap(err, "training set")
	}
	devLabels, err := dev.Column(target)
	if err != nil {
		return nil, errors.Wrap(err, "dev set")
	}

	scaler, err := FitScaler(trainX)
	if err != nil {
		return nil, err
	}
	classes, codes := Encode(trainLabels)
	return &Data{
		Target:   target,
		Features: features,
		Classes:  classes,
		Scaler:   scaler,
		TrainX:   scaler.Transform(trainX),
		TrainY:   codes,
		Weights:  SampleWeights(codes, BalancedWeights(codes, len(classes))),
		DevX:     scaler.Transform(devX),
		DevY:     devLabels,
	}, nil
}

// Job is the search of one classifier family.
type Job struct {
	Family   Family
	Folder   string
	Timeout  time.Duration
	Window   int
	MaxEvals int
	Jobs     int
	Seed     int64
	Logger   *zap.Logger
}

func (j Job) logger() *zap.Logger {
	if j.Logger == nil {
		return zap.NewNop()
	}
	return j.Logger
}

// train fits a classifier of the job family with the given parameters.
func (j Job) train(ctx context.Context, d *Data, p hyperopt.Params) (Classifier, error) {
	c := j.Family.New(p, j.Jobs, j.Seed)
	if err := c.Fit(ctx, d.TrainX, d.TrainY, len(d.Classes), d.Weights); err != nil {
		return nil, err
	}
	return c, nil
}

// evaluate returns the negated Matthews correlation of a classifier on the dev set.
func (j Job) evaluate(ctx context.Context, d *Data, p hyperopt.Params) (float64, error) {
	c, err := j.train(ctx, d, p)
	if err != nil {
		return 0, err
	}
	codes := Predict(c, d.DevX)
	predicted := make([]string, len(codes))
	for i, code := range codes {
		predicted[i] = d.Classes[code]
	}
	mcc := metrics.MCC(d.DevY, predicted)
	if math.IsNaN(mcc) {
		return 0, errors.New("undefined correlation on the dev set")
	}
	return -mcc, nil
}

// Optimize searches the hyper-parameters of the job family maximising the Matthews
// correlation on the dev set, retrains the best classifier and saves it. When the model
// file already exists the search is skipped and the saved model is returned.
func Optimize(ctx context.Context, d *Data, job Job) (*Model, error) {
	log := job.logger().With(zap.String("family", job.Family.Name), zap.String("target", d.Target))
	path := ModelPath(job.Folder, d.Target, job.Family)
	if _, err := os.Stat(path); err == nil {
		log.Info("model exists, skipping", zap.String("path", path))
		return LoadModel(path)
	}

	log.Info("optimizing", zap.Int("samples", len(d.TrainX)), zap.Int("classes", len(d.Classes)))
	trials, err := hyperopt.Minimize(ctx, func(ctx context.Context, p hyperopt.Params) (float64, error) {
		return job.evaluate(ctx, d, p)
	}, job.Family.Space, hyperopt.Options{
		MaxEvals: job.MaxEvals,
		Timeout:  job.Timeout,
		Window:   job.Window,
		Seed:     job.Seed,
		Logger:   log,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "optimize %s", job.Family.Name)
	}
	best, err := bestTrial(trials)
	if err != nil {
		return nil, errors.Wrapf(err, "optimize %s", job.Family.Name)
	}

	log.Info("training the final classifier", zap.Int("trial", best.Number), zap.Float64("mcc", -best.Loss))
	c, err := job.train(ctx, d, best.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "train %s", job.Family.Name)
	}

	m := &Model{
		Name:       job.Family.Name,
		Family:     job.Family.File,
		Target:     d.Target,
		Classes:    d.Classes,
		Features:   d.Features,
		Scaler:     d.Scaler,
		Classifier: c,
		Trials:     trials,
		Created:    time.Now(),
	}
	log.Info("saving", zap.String("path", path))
	if err := m.Save(path); err != nil {
		return nil, err
	}
	return m, nil
}

func bestTrial(trials *hyperopt.Trials) (hyperopt.Trial, error) {
	best, ok := trials.Best()
	if !ok {
		return hyperopt.Trial{}, errors.Errorf("no successful trial in %d", trials.Len())
	}
	return best, nil
}

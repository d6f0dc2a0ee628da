package hyperopt

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mroth/weightedrand"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"
)

// Defaults of Options.
const (
	DefaultMaxEvals   = 1024
	DefaultStartup    = 20
	DefaultCandidates = 24
	DefaultGamma      = 0.25
)

// Objective evaluates a point; lower is better.
type Objective func(ctx context.Context, p Params) (float64, error)

// Options control the search.
type Options struct {
	MaxEvals int
	// Timeout stops the search once elapsed; it is checked before each trial.
	Timeout time.Duration
	// Window stops the search after that many trials without improvement; zero disables it.
	Window int
	// Startup is the number of random trials before the estimator is used.
	Startup int
	// Candidates is the number of points drawn from the good density per parameter.
	Candidates int
	// Gamma sizes the good set: ceil(Gamma * sqrt(n)) trials.
	Gamma  float64
	Seed   int64
	Logger *zap.Logger
}

func (o *Options) defaults() {
	if o.MaxEvals <= 0 {
		o.MaxEvals = DefaultMaxEvals
	}
	if o.Startup <= 0 {
		o.Startup = DefaultStartup
	}
	if o.Candidates <= 0 {
		o.Candidates = DefaultCandidates
	}
	if o.Gamma <= 0 {
		o.Gamma = DefaultGamma
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Minimize searches the space for the point of lowest loss. The trials run so far are
// returned with the error when ctx is done.
func Minimize(ctx context.Context, objective Objective, space Space, opts Options) (*Trials, error) {
	if len(space) == 0 {
		return nil, errors.New("empty search space")
	}
	opts.defaults()
	r := rand.New(rand.NewSource(opts.Seed))
	trials := &Trials{}
	start := time.Now()
	best := math.Inf(1)
	stale := 0

	for n := 0; n < opts.MaxEvals; n++ {
		if err := ctx.Err(); err != nil {
			return trials, err
		}
		if opts.Timeout > 0 && time.Since(start) >= opts.Timeout {
			opts.Logger.Info("search timed out", zap.Int("trials", n))
			break
		}
		if opts.Window > 0 && stale >= opts.Window {
			opts.Logger.Info("no progress, stopping search", zap.Int("trials", n), zap.Int("window", opts.Window))
			break
		}

		params, err := suggest(r, space, trials.completed(), opts)
		if err != nil {
			return trials, err
		}
		t := Trial{
			ID:     uuid.NewString(),
			Number: n,
			Params: params,
			Booked: time.Now(),
		}
		loss, err := objective(ctx, params)
		t.Duration = time.Since(t.Booked)
		if err != nil {
			if ctx.Err() != nil {
				return trials, ctx.Err()
			}
			t.Status, t.Error, t.Loss = StatusFail, err.Error(), math.NaN()
			opts.Logger.Warn("trial failed", zap.Int("trial", n), zap.Error(err))
		} else {
			t.Status, t.Loss = StatusOK, loss
		}
		trials.List = append(trials.List, t)

		if t.Status == StatusOK && loss < best {
			best, stale = loss, 0
			opts.Logger.Info("new best trial", zap.Int("trial", n), zap.Float64("loss", loss))
		} else {
			stale++
		}
	}

	if _, ok := trials.Best(); !ok {
		return trials, errors.New("no successful trial")
	}
	return trials, nil
}

func suggest(r *rand.Rand, space Space, done []Trial, opts Options) (Params, error) {
	if len(done) < opts.Startup {
		return space.Sample(r), nil
	}
	sorted := append([]Trial(nil), done...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Loss < sorted[j].Loss })
	nBelow := int(math.Ceil(opts.Gamma * math.Sqrt(float64(len(sorted)))))
	if nBelow < 1 {
		nBelow = 1
	}
	below, above := sorted[:nBelow], sorted[nBelow:]

	p := NewParams()
	for _, param := range space {
		switch param.Kind {
		case Int, Float:
			p.Values[param.Name] = suggestNumeric(r, param, values(below, param.Name), values(above, param.Name), opts.Candidates)
		case Categorical:
			c, err := suggestChoice(r, param, choices(below, param.Name), choices(above, param.Name), opts.Candidates)
			if err != nil {
				return Params{}, err
			}
			p.Choices[param.Name] = c
		}
	}
	return p, nil
}

func values(trials []Trial, name string) []float64 {
	out := make([]float64, 0, len(trials))
	for _, t := range trials {
		out = append(out, t.Params.Values[name])
	}
	return out
}

func choices(trials []Trial, name string) []string {
	out := make([]string, 0, len(trials))
	for _, t := range trials {
		out = append(out, t.Params.Choices[name])
	}
	return out
}

func suggestNumeric(r *rand.Rand, param Param, below, above []float64, candidates int) float64 {
	l := newParzen(below, param.Low, param.High)
	g := newParzen(above, param.Low, param.High)
	best, bestScore := 0.0, math.Inf(-1)
	for i := 0; i < candidates; i++ {
		x := l.sample(r)
		if param.Kind == Int {
			x = math.Min(param.High, math.Max(param.Low, math.Round(x)))
		}
		score := l.logPdf(x) - g.logPdf(x)
		if i == 0 || score > bestScore {
			best, bestScore = x, score
		}
	}
	return best
}

func suggestChoice(r *rand.Rand, param Param, below, above []string, candidates int) (string, error) {
	weights := func(obs []string) []uint {
		w := make([]uint, len(param.Options))
		for i := range w {
			w[i] = 1
		}
		for _, o := range obs {
			if i := indexOf(param.Options, o); i >= 0 {
				w[i]++
			}
		}
		return w
	}
	lw, gw := weights(below), weights(above)

	items := make([]weightedrand.Choice, len(param.Options))
	for i := range param.Options {
		items[i] = weightedrand.Choice{Item: i, Weight: lw[i]}
	}
	chooser, err := weightedrand.NewChooser(items...)
	if err != nil {
		return "", errors.Wrapf(err, "sample %s", param.Name)
	}

	ltotal, gtotal := sum(lw), sum(gw)
	best, bestScore := 0, math.Inf(-1)
	for i := 0; i < candidates; i++ {
		c := chooser.PickSource(r).(int)
		score := math.Log(float64(lw[c])/ltotal) - math.Log(float64(gw[c])/gtotal)
		if i == 0 || score > bestScore {
			best, bestScore = c, score
		}
	}
	return param.Options[best], nil
}

func sum(w []uint) float64 {
	s := 0.0
	for _, v := range w {
		s += float64(v)
	}
	return s
}

// parzen is a mixture of normals truncated to [lo, hi], one per observation plus a wide prior
// centred on the interval.
type parzen struct {
	mus    []float64
	sigmas []float64
	lo, hi float64
}

func newParzen(obs []float64, lo, hi float64) parzen {
	priorMu, priorSigma := (lo+hi)/2, hi-lo
	if priorSigma <= 0 {
		priorSigma = 1
	}
	mus := append([]float64{priorMu}, obs...)
	sort.Float64s(mus)

	sigmas := make([]float64, len(mus))
	minSigma := priorSigma / math.Min(100, float64(1+len(mus)))
	for i := range mus {
		var left, right float64
		if i > 0 {
			left = mus[i] - mus[i-1]
		}
		if i < len(mus)-1 {
			right = mus[i+1] - mus[i]
		}
		s := math.Max(left, right)
		if len(mus) == 1 {
			s = priorSigma
		}
		sigmas[i] = math.Min(priorSigma, math.Max(minSigma, s))
	}
	// the prior keeps its full width
	for i, m := range mus {
		if m == priorMu {
			sigmas[i] = priorSigma
			break
		}
	}
	return parzen{mus: mus, sigmas: sigmas, lo: lo, hi: hi}
}

func (p parzen) sample(r *rand.Rand) float64 {
	i := r.Intn(len(p.mus))
	for try := 0; try < 100; try++ {
		x := p.mus[i] + r.NormFloat64()*p.sigmas[i]
		if x >= p.lo && x <= p.hi {
			return x
		}
	}
	return math.Min(p.hi, math.Max(p.lo, p.mus[i]))
}

func (p parzen) logPdf(x float64) float64 {
	total := 0.0
	for i, mu := range p.mus {
		s := p.sigmas[i]
		mass := distuv.UnitNormal.CDF((p.hi-mu)/s) - distuv.UnitNormal.CDF((p.lo-mu)/s)
		if mass <= 0 {
			continue
		}
		total += distuv.Normal{Mu: mu, Sigma: s}.Prob(x) / mass
	}
	total /= float64(len(p.mus))
	if total <= 0 {
		return math.Inf(-1)
	}
	return math.Log(total)
}

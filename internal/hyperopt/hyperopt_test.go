package hyperopt

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpace = Space{
	UniformInt("n_estimators", 1, 500),
	Uniform("lr", 0.001, 0.01),
	Choice("criterion", "gini", "entropy"),
}

func TestSpace_Sample(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		p := testSpace.Sample(r)
		require.True(t, inSpace(testSpace, p), "%v", p)
		assert.Equal(t, float64(p.Int("n_estimators")), p.Float("n_estimators"))
	}
}

// inSpace reports whether p lies in s.
func inSpace(s Space, p Params) bool {
	for _, param := range s {
		switch param.Kind {
		case Int, Float:
			v, ok := p.Values[param.Name]
			if !ok || v < param.Low || v > param.High {
				return false
			}
			if param.Kind == Int && v != math.Round(v) {
				return false
			}
		case Categorical:
			v, ok := p.Choices[param.Name]
			if !ok || indexOf(param.Options, v) < 0 {
				return false
			}
		}
	}
	return true
}

func TestInSpace(t *testing.T) {
	p := NewParams()
	p.Values["n_estimators"] = 10.5
	p.Values["lr"] = 0.005
	p.Choices["criterion"] = "gini"
	assert.False(t, inSpace(testSpace, p))

	p.Values["n_estimators"] = 10
	assert.True(t, inSpace(testSpace, p))
	p.Choices["criterion"] = "log_loss"
	assert.False(t, inSpace(testSpace, p))
}

func TestParams_Format(t *testing.T) {
	p := NewParams()
	p.Values["max_depth"] = 12
	p.Values["lr"] = 0.0025
	p.Choices["criterion"] = "entropy"
	assert.Equal(t, [][2]string{{"criterion", "entropy"}, {"lr", "0.0025"}, {"max_depth", "12"}}, p.Format())
}

func quadratic(_ context.Context, p Params) (float64, error) {
	d := p.Float("n_estimators") - 420
	loss := d * d
	if p.String("criterion") == "gini" {
		loss += 1000
	}
	return loss, nil
}

func TestMinimize_FindsOptimum(t *testing.T) {
	trials, err := Minimize(context.Background(), quadratic, testSpace, Options{MaxEvals: 150, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 150, trials.Len())

	best, ok := trials.Best()
	require.True(t, ok)
	assert.Equal(t, "entropy", best.Params.String("criterion"))
	assert.InDelta(t, 420, best.Params.Float("n_estimators"), 40)

	for _, trial := range trials.List {
		assert.True(t, inSpace(testSpace, trial.Params))
		assert.Equal(t, StatusOK, trial.Status)
		assert.NotEmpty(t, trial.ID)
	}
}

func TestMinimize_Deterministic(t *testing.T) {
	a, err := Minimize(context.Background(), quadratic, testSpace, Options{MaxEvals: 40, Seed: 5})
	require.NoError(t, err)
	b, err := Minimize(context.Background(), quadratic, testSpace, Options{MaxEvals: 40, Seed: 5})
	require.NoError(t, err)
	assert.Equal(t, a.Losses(), b.Losses())
}

func TestMinimize_NoProgressWindow(t *testing.T) {
	constant := func(context.Context, Params) (float64, error) { return 1, nil }
	trials, err := Minimize(context.Background(), constant, testSpace, Options{Window: 5, Seed: 1})
	require.NoError(t, err)
	// the first trial improves on +Inf, the next five do not
	assert.Equal(t, 6, trials.Len())
}

func TestMinimize_Timeout(t *testing.T) {
	slow := func(context.Context, Params) (float64, error) {
		time.Sleep(20 * time.Millisecond)
		return 1, nil
	}
	trials, err := Minimize(context.Background(), slow, testSpace, Options{Timeout: 50 * time.Millisecond, Seed: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, trials.Len(), 1)
	assert.Less(t, trials.Len(), 10)
}

func TestMinimize_FailedTrials(t *testing.T) {
	calls := 0
	flaky := func(_ context.Context, p Params) (float64, error) {
		calls++
		if calls%2 == 0 {
			return 0, errors.New("diverged")
		}
		return p.Float("lr"), nil
	}
	trials, err := Minimize(context.Background(), flaky, testSpace, Options{MaxEvals: 30, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 30, trials.Len())
	assert.Equal(t, StatusFail, trials.List[1].Status)
	assert.Equal(t, "diverged", trials.List[1].Error)
	assert.True(t, math.IsNaN(trials.List[1].Loss))

	best, ok := trials.Best()
	require.True(t, ok)
	assert.Equal(t, StatusOK, best.Status)

	failing := func(context.Context, Params) (float64, error) { return 0, errors.New("no") }
	_, err = Minimize(context.Background(), failing, testSpace, Options{MaxEvals: 3})
	assert.ErrorContains(t, err, "no successful trial")
}

func TestMinimize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	objective := func(context.Context, Params) (float64, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return 1, nil
	}
	trials, err := Minimize(ctx, objective, testSpace, Options{MaxEvals: 100})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, trials.Len())

	_, err = Minimize(context.Background(), objective, nil, Options{})
	assert.Error(t, err)
}

func TestParzen(t *testing.T) {
	p := newParzen([]float64{0.2, 0.25, 0.3}, 0, 1)
	assert.Greater(t, p.logPdf(0.25), p.logPdf(0.9))

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		x := p.sample(r)
		assert.True(t, x >= 0 && x <= 1)
	}
}

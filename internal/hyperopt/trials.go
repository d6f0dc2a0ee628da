package hyperopt

import (
	"math"
	"time"
)

// Status of a trial.
type Status string

// Trial statuses.
const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
)

// Trial is one evaluation of the objective.
type Trial struct {
	ID       string
	Number   int
	Params   Params
	Loss     float64
	Status   Status
	Error    string
	Booked   time.Time
	Duration time.Duration
}

// Trials is the history of a search.
type Trials struct {
	List []Trial
}

// Len returns the number of trials.
func (t *Trials) Len() int {
	return len(t.List)
}

func (t *Trials) completed() []Trial {
	var out []Trial
	for _, trial := range t.List {
		if trial.Status == StatusOK && !math.IsNaN(trial.Loss) {
			out = append(out, trial)
		}
	}
	return out
}

// Best returns the successful trial of lowest loss; the earliest wins ties.
func (t *Trials) Best() (Trial, bool) {
	var best Trial
	found := false
	for _, trial := range t.completed() {
		if !found || trial.Loss < best.Loss {
			best, found = trial, true
		}
	}
	return best, found
}

// Losses returns the loss of every trial in booking order; failed trials are NaN.
func (t *Trials) Losses() []float64 {
	out := make([]float64, len(t.List))
	for i, trial := range t.List {
		out[i] = trial.Loss
	}
	return out
}

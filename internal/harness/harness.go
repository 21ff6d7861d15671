// Package harness runs scripted regression scenarios concurrently, one
// fresh engine.Engine per scenario. It is the "regression-harness"
// collaborator §1 calls out as external to the transactional core: the
// core itself stays single-threaded (§5); this package only
// parallelizes across independent scenario runs, never within one.
//
// Grounded on the teacher's internal/pool/scheduler.go, which pairs a
// bounded ants.Pool with a WaitGroup for fan-out/fan-in work.
package harness

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/availkv/availkv/internal/cmdparse"
	"github.com/availkv/availkv/internal/engine"
)

// Scenario is one named sequence of workload lines to replay against a
// freshly constructed engine.
type Scenario struct {
	Name  string
	Lines []string
}

// Result is one scenario's captured output.
type Result struct {
	Name     string
	Output   []string
	Duration time.Duration
	Err      error
}

// Runner executes scenarios concurrently over a bounded goroutine pool.
type Runner struct {
	pool *ants.Pool
	log  zerolog.Logger
}

// NewRunner creates a Runner backed by an ants pool of the given size.
func NewRunner(size int, log zerolog.Logger) (*Runner, error) {
	pool, err := ants.NewPool(size, ants.WithExpiryDuration(time.Second))
	if err != nil {
		return nil, err
	}
	return &Runner{pool: pool, log: log}, nil
}

// Release tears down the underlying pool.
func (r *Runner) Release() {
	r.pool.Release()
}

// RunAll submits every scenario to the pool and blocks until all have
// finished, returning one Result per scenario in input order.
func (r *Runner) RunAll(scenarios []Scenario) []Result {
	results := make([]Result, len(scenarios))
	var wg sync.WaitGroup

	for i, sc := range scenarios {
		i, sc := i, sc
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			results[i] = runOne(sc, r.log)
		})
		if err != nil {
			wg.Done()
			results[i] = Result{Name: sc.Name, Err: err}
		}
	}

	wg.Wait()
	return results
}

func runOne(sc Scenario, log zerolog.Logger) Result {
	start := time.Now()
	e := engine.New(log.With().Str("scenario", sc.Name).Logger())

	var out []string
	for _, line := range sc.Lines {
		cmd, err := cmdparse.ParseLine(line)
		if err != nil {
			out = append(out, "ERROR: "+err.Error())
			continue
		}
		if cmd == nil {
			continue
		}
		out = append(out, e.Dispatch(cmd)...)
	}

	return Result{Name: sc.Name, Output: out, Duration: time.Since(start)}
}

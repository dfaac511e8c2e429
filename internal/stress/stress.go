// Package stress runs concurrent increment workloads against a mutex.
package stress

import (
	"context"
	"math"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/go-ricrob/spinguard/internal/partmap"
	"github.com/go-ricrob/spinguard/mutex"
)

// Workload selects what the workers increment.
type Workload string

// Workloads.
const (
	// Counter: all workers increment one counter behind a single mutex.
	Counter Workload = "counter"
	// Partitioned: every worker increments its own key in a partitioned map.
	Partitioned Workload = "partitioned"
)

// checkEvery is the number of iterations between context checks.
const checkEvery = 256

// Config is a stress run configuration.
type Config struct {
	Workers    int
	Iterations int
	Strategy   mutex.Strategy
	Workload   Workload
	Parts      uint64 // number of parts of the partitioned workload
}

// DefaultConfig returns 100 workers doing 10,000 increments each on a spinning counter.
func DefaultConfig() Config {
	return Config{
		Workers:    100,
		Iterations: 10000,
		Strategy:   mutex.Spin,
		Workload:   Counter,
		Parts:      uint64(runtime.NumCPU()) * 8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.Errorf("invalid number of workers %d", c.Workers)
	}
	if c.Iterations <= 0 {
		return errors.Errorf("invalid number of iterations %d", c.Iterations)
	}
	switch c.Workload {
	case Counter, Partitioned:
	default:
		return errors.Errorf("unknown workload %q", c.Workload)
	}
	return nil
}

// Result is the outcome of a stress run.
type Result struct {
	Total       int   // final counter value
	Expected    int   // Workers * Iterations
	MaxInside   int32 // maximum number of workers seen inside one critical section
	Torn        int64 // number of inconsistent payloads observed
	Elapsed     time.Duration
	WorkerTimes []time.Duration
}

// OK reports whether the run lost no update and never broke mutual exclusion.
func (r *Result) OK() bool {
	return r.Total == r.Expected && r.MaxInside <= 1 && r.Torn == 0
}

// Percentile returns the p-th percentile (0..100) of the worker times.
func (r *Result) Percentile(p float64) time.Duration {
	if len(r.WorkerTimes) == 0 {
		return 0
	}
	times := slices.Clone(r.WorkerTimes)
	slices.Sort(times)
	idx := int(math.Ceil(p/100*float64(len(times)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(times) {
		idx = len(times) - 1
	}
	return times[idx]
}

// pair is updated field by field; a reader seeing a != b saw a torn write.
type pair struct {
	a, b int
}

type runner struct {
	cfg       Config
	counter   *mutex.Mutex[pair]
	pm        *partmap.Map
	inside    atomic.Int32
	maxInside atomic.Int32
	torn      atomic.Int64
	stopped   atomic.Bool // a worker returned before finishing its iterations
}

func (r *runner) enter() {
	n := r.inside.Add(1)
	for {
		cur := r.maxInside.Load()
		if n <= cur || r.maxInside.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (r *runner) increment(v *pair) {
	r.enter()
	if v.a != v.b {
		r.torn.Add(1)
	}
	v.a++
	v.b++
	r.inside.Add(-1)
}

func (r *runner) worker(ctx context.Context, no int, wg *sync.WaitGroup, elapsed *time.Duration) {
	defer wg.Done()

	key := "w" + strconv.Itoa(no)
	start := time.Now()
	for i := 0; i < r.cfg.Iterations; i++ {
		if i%checkEvery == 0 && ctx.Err() != nil {
			r.stopped.Store(true)
			return
		}
		switch r.cfg.Workload {
		case Counter:
			r.counter.Do(r.increment)
		case Partitioned:
			r.pm.Add(key, 1)
		}
	}
	*elapsed = time.Since(start)
}

// Run starts cfg.Workers goroutines, waits for them and returns the result.
// If ctx is cancelled before the workers are done they stop early and ctx's
// error is returned. A run that completed is returned even if ctx was cancelled afterwards.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &runner{cfg: cfg}
	switch cfg.Workload {
	case Counter:
		r.counter = mutex.New(pair{}, mutex.WithStrategy(cfg.Strategy))
	case Partitioned:
		r.pm = partmap.New(cfg.Parts, cfg.Strategy)
	}

	workerTimes := make([]time.Duration, cfg.Workers)
	wg := new(sync.WaitGroup)
	wg.Add(cfg.Workers)

	start := time.Now()
	for i := 0; i < cfg.Workers; i++ {
		go r.worker(ctx, i, wg, &workerTimes[i])
	}
	wg.Wait()
	elapsed := time.Since(start)

	if r.stopped.Load() {
		return nil, errors.Wrap(ctx.Err(), "stress run interrupted")
	}

	res := &Result{
		Expected:    cfg.Workers * cfg.Iterations,
		MaxInside:   r.maxInside.Load(),
		Torn:        r.torn.Load(),
		Elapsed:     elapsed,
		WorkerTimes: workerTimes,
	}
	switch cfg.Workload {
	case Counter:
		res.Total = mutex.WithLock(r.counter, func(v *pair) int { return v.a })
	case Partitioned:
		res.Total = r.pm.Sum()
	}
	return res, nil
}

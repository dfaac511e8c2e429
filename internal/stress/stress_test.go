package stress

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-ricrob/spinguard/mutex"
)

func TestRun(t *testing.T) {
	tests := []struct {
		strategy mutex.Strategy
		workload Workload
	}{
		{mutex.Spin, Counter},
		{mutex.Park, Counter},
		{mutex.Spin, Partitioned},
		{mutex.Park, Partitioned},
	}

	for _, test := range tests {
		cfg := DefaultConfig()
		cfg.Strategy = test.strategy
		cfg.Workload = test.workload
		if testing.Short() {
			cfg.Iterations = 1000
		}

		res, err := Run(context.Background(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !res.OK() {
			t.Fatalf("%s/%s: bad result %+v", test.strategy, test.workload, *res)
		}
		if res.Total != cfg.Workers*cfg.Iterations {
			t.Fatalf("%s/%s: got %d, want %d", test.strategy, test.workload, res.Total, cfg.Workers*cfg.Iterations)
		}
		if len(res.WorkerTimes) != cfg.Workers {
			t.Fatalf("bad number of worker times %d", len(res.WorkerTimes))
		}
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, DefaultConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// cancelAfter reports context.Canceled once Err has been called more than n times.
type cancelAfter struct {
	context.Context
	n     int64
	calls atomic.Int64
}

func (c *cancelAfter) Err() error {
	if c.calls.Add(1) > c.n {
		return context.Canceled
	}
	return nil
}

func TestRunCancelledAfterCompletion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Iterations = checkEvery // one context check per worker

	ctx := &cancelAfter{Context: context.Background(), n: int64(cfg.Workers)}
	res, err := Run(ctx, cfg)
	if err != nil {
		t.Fatalf("completed run discarded: %v", err)
	}
	if !res.OK() || res.Total != cfg.Workers*cfg.Iterations {
		t.Fatalf("bad result %+v", *res)
	}
	if ctx.Err() == nil {
		t.Fatal("context should report cancellation after the run")
	}
}

func TestRunCancelledMidway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Iterations = 4 * checkEvery

	ctx := &cancelAfter{Context: context.Background(), n: int64(cfg.Workers)}
	_, err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		cfg Config
		ok  bool
	}{
		{DefaultConfig(), true},
		{Config{Workers: 0, Iterations: 1, Workload: Counter}, false},
		{Config{Workers: 1, Iterations: -1, Workload: Counter}, false},
		{Config{Workers: 1, Iterations: 1, Workload: "ring"}, false},
		{Config{Workers: 1, Iterations: 1, Workload: Partitioned}, true},
	}

	for i, test := range tests {
		if err := test.cfg.Validate(); (err == nil) != test.ok {
			t.Fatalf("test %d: unexpected validation result %v", i, err)
		}
	}
}

func TestPercentile(t *testing.T) {
	r := &Result{WorkerTimes: []time.Duration{4, 1, 3, 2}}

	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, 1},
		{25, 1},
		{50, 2},
		{99, 4},
		{100, 4},
	}
	for _, test := range tests {
		if got := r.Percentile(test.p); got != test.want {
			t.Fatalf("p%v: got %v, want %v", test.p, got, test.want)
		}
	}
	if r.WorkerTimes[0] != 4 {
		t.Fatal("Percentile must not reorder worker times")
	}
	if (&Result{}).Percentile(50) != 0 {
		t.Fatal("empty result should have zero percentile")
	}
}

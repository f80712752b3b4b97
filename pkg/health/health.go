// Package health runs one-shot dependency probes.
//
// Every registered check runs concurrently under its own timeout. A failing
// check never cancels the others, so the report always lists every
// dependency.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusOK        = "ok"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc is a health check function. It should return nil if the checked
// component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

// Result is the outcome of a single check.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// OK reports whether the check passed.
func (r Result) OK() bool { return r.Err == nil }

// Report is the outcome of Checker.Run. Checks keep registration order.
type Report struct {
	Status string
	Checks []Result
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool { return r.Status == StatusOK }

// Failures maps the name of every failed check to its error message.
func (r Report) Failures() map[string]string {
	out := make(map[string]string)
	for _, c := range r.Checks {
		if c.Err != nil {
			out[c.Name] = c.Err.Error()
		}
	}
	return out
}

// Checker collects checks and runs them on demand.
type Checker struct {
	mu     sync.Mutex
	checks []check
	now    func() time.Time
}

// New creates an empty Checker.
func New() *Checker {
	return &Checker{now: time.Now}
}

// Add registers a check. A zero timeout means the check only observes the
// context passed to Run.
func (c *Checker) Add(name string, timeout time.Duration, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check{name: name, timeout: timeout, fn: fn})
}

// Run executes all checks concurrently and waits for them.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	checks := make([]check, len(c.checks))
	copy(checks, c.checks)
	c.mu.Unlock()

	results := make([]Result, len(checks))
	var g errgroup.Group
	for i, chk := range checks {
		g.Go(func() error {
			results[i] = c.run(ctx, chk)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusOK, Checks: results}
	for _, r := range results {
		if r.Err != nil {
			report.Status = StatusUnhealthy
			break
		}
	}
	return report
}

func (c *Checker) run(ctx context.Context, chk check) Result {
	if chk.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, chk.timeout)
		defer cancel()
	}

	start := c.now()
	err := chk.fn(ctx)
	if err == nil && ctx.Err() != nil {
		// The check ignored its deadline.
		err = ctx.Err()
	}
	return Result{Name: chk.name, Err: err, Duration: c.now().Sub(start)}
}

// Package startup implements an ordered, reversible sequence of bring-up
// steps. It is used both for process-wide service bring-up and for each
// partition actor's own bring-up (recovering its database); partition role
// transitions run through pkg/partition's Transition instead. On the first
// failure during Startup, every step that already started is torn down in
// reverse order before the overall error is reported.
package startup

import (
	"context"
	"fmt"

	"github.com/cuemby/brokerd/pkg/log"
	"github.com/cuemby/brokerd/pkg/metrics"
)

// Step is one reversible unit of a Process. Startup prepares ctx for the
// next step (or for use once the whole Process has started); Shutdown tears
// down whatever Startup installed.
type Step struct {
	Name     string
	Startup  func(ctx context.Context) (context.Context, error)
	Shutdown func(ctx context.Context) (context.Context, error)
}

// Process runs a fixed, ordered list of Steps.
type Process struct {
	name  string
	steps []Step
}

// New returns a Process that runs steps, in order, under name (used only for
// logging and metrics labels).
func New(name string, steps ...Step) *Process {
	return &Process{name: name, steps: steps}
}

// Startup runs every step's Startup function in order. On the first error,
// it invokes Shutdown for every step that already completed Startup, in
// reverse order, swallowing teardown errors (logged, not propagated), and
// then returns the original error. ctx flows step to step: each step's
// Startup output becomes the next step's input.
func (p *Process) Startup(ctx context.Context) (context.Context, error) {
	logger := log.WithComponent("startup").With().Str("process", p.name).Logger()

	started := make([]Step, 0, len(p.steps))
	cur := ctx
	for _, step := range p.steps {
		timer := metrics.NewTimer()
		next, err := step.Startup(cur)
		metrics.ObserveStartupStep(p.name, step.Name, "startup", timer.Duration())

		if err != nil {
			logger.Error().Err(err).Str("step", step.Name).Msg("startup step failed, unwinding")
			p.unwind(cur, started)
			return ctx, fmt.Errorf("startup process %q: step %q failed: %w", p.name, step.Name, err)
		}

		cur = next
		started = append(started, step)
		logger.Debug().Str("step", step.Name).Dur("duration", timer.Duration()).Msg("startup step completed")
	}

	return cur, nil
}

// Shutdown runs every step's Shutdown function in reverse order. Unlike
// Startup, a failing step never stops the unwind: every step's Shutdown is
// attempted, and failures are logged but otherwise ignored. This makes
// teardown best-effort, matching spec.md's "errors are logged but never
// abort the unwind" contract.
func (p *Process) Shutdown(ctx context.Context) context.Context {
	p.unwind(ctx, p.steps)
	return ctx
}

func (p *Process) unwind(ctx context.Context, steps []Step) {
	logger := log.WithComponent("startup").With().Str("process", p.name).Logger()

	cur := ctx
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		timer := metrics.NewTimer()
		next, err := step.Shutdown(cur)
		metrics.ObserveStartupStep(p.name, step.Name, "shutdown", timer.Duration())

		if err != nil {
			logger.Error().Err(err).Str("step", step.Name).Msg("shutdown step failed, continuing teardown")
			// Best-effort: keep the last good context and move on.
			continue
		}
		cur = next
	}
}

// Names returns the configured step names, in startup order. Exposed for
// tests and diagnostics.
func (p *Process) Names() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// noopCarry is a convenience Startup/Shutdown body for steps that don't need
// to thread anything new through ctx.
func noopCarry(ctx context.Context) (context.Context, error) { return ctx, nil }

// NoopStep returns a Step whose Startup and Shutdown both succeed without
// doing anything; useful as a placeholder or in tests exercising ordering.
func NoopStep(name string) Step {
	return Step{Name: name, Startup: noopCarry, Shutdown: noopCarry}
}

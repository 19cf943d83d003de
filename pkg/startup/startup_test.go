package startup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingStep(name string, log *[]string, failStartup bool) Step {
	return Step{
		Name: name,
		Startup: func(ctx context.Context) (context.Context, error) {
			if failStartup {
				return ctx, errors.New(name + " startup failed")
			}
			*log = append(*log, name+":startup")
			return ctx, nil
		},
		Shutdown: func(ctx context.Context) (context.Context, error) {
			*log = append(*log, name+":shutdown")
			return ctx, nil
		},
	}
}

func TestStartupRunsStepsInOrder(t *testing.T) {
	var log []string
	p := New("proc",
		recordingStep("a", &log, false),
		recordingStep("b", &log, false),
		recordingStep("c", &log, false),
	)

	_, err := p.Startup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a:startup", "b:startup", "c:startup"}, log)
}

// TestStartupUnwindsOnFailure mirrors spec.md §8 scenario 4: a startup list
// [A, B, C] where B's startup fails. A's shutdown must run, C's shutdown
// must not, and the overall error must name B.
func TestStartupUnwindsOnFailure(t *testing.T) {
	var log []string
	p := New("proc",
		recordingStep("a", &log, false),
		recordingStep("b", &log, true),
		recordingStep("c", &log, false),
	)

	_, err := p.Startup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")
	assert.Contains(t, err.Error(), "b startup failed")

	assert.Equal(t, []string{"a:startup", "a:shutdown"}, log,
		"only A's startup and shutdown should run; C's startup must never run and B's shutdown must never run")
}

func TestShutdownRunsStepsInReverseOrder(t *testing.T) {
	var log []string
	p := New("proc",
		recordingStep("a", &log, false),
		recordingStep("b", &log, false),
		recordingStep("c", &log, false),
	)

	_, err := p.Startup(context.Background())
	require.NoError(t, err)
	log = nil

	p.Shutdown(context.Background())
	assert.Equal(t, []string{"c:shutdown", "b:shutdown", "a:shutdown"}, log)
}

func TestShutdownContinuesPastFailures(t *testing.T) {
	var log []string
	failing := Step{
		Name: "fails",
		Startup: func(ctx context.Context) (context.Context, error) {
			*log = append(*log, "fails:startup")
			return ctx, nil
		},
		Shutdown: func(ctx context.Context) (context.Context, error) {
			return ctx, errors.New("shutdown boom")
		},
	}
	p := New("proc",
		recordingStep("a", &log, false),
		failing,
		recordingStep("c", &log, false),
	)

	_, err := p.Startup(context.Background())
	require.NoError(t, err)
	log = nil

	p.Shutdown(context.Background())
	assert.Equal(t, []string{"c:shutdown", "a:shutdown"}, log,
		"a failing shutdown step must not stop teardown of the remaining steps")
}

func TestContextFlowsStepToStep(t *testing.T) {
	type ctxKey struct{}
	p := New("proc",
		Step{
			Name: "produce",
			Startup: func(ctx context.Context) (context.Context, error) {
				return context.WithValue(ctx, ctxKey{}, "value"), nil
			},
			Shutdown: func(ctx context.Context) (context.Context, error) { return ctx, nil },
		},
		Step{
			Name: "consume",
			Startup: func(ctx context.Context) (context.Context, error) {
				if ctx.Value(ctxKey{}) != "value" {
					return ctx, errors.New("expected value from prior step")
				}
				return ctx, nil
			},
			Shutdown: func(ctx context.Context) (context.Context, error) { return ctx, nil },
		},
	)

	_, err := p.Startup(context.Background())
	require.NoError(t, err)
}

func TestNoopStep(t *testing.T) {
	p := New("proc", NoopStep("n"))
	ctx, err := p.Startup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"n"}, p.Names())
	p.Shutdown(ctx)
}

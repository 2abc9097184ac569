package check

import (
	"context"
	"fmt"
	"time"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/common"
	"github.com/davidnuzik/navcheck/log"
	"github.com/davidnuzik/navcheck/metrics"
	"github.com/davidnuzik/navcheck/trace"
)

const screenshotTimeout = 10 * time.Second

// Outcomes lists every Outcome in a stable order.
var Outcomes = []string{string(OutcomePass), string(OutcomeFail), string(OutcomeError)}

// StepResult is the record of one step that was attempted.
type StepResult struct {
	Name        string
	Description string
	Duration    time.Duration
	Err         error
}

// Result is the record of one check run.
type Result struct {
	Check    string
	Launcher string
	Outcome  Outcome
	// Err is the error that ended the run, nil if it passed.
	Err      error
	Steps    []StepResult
	Duration time.Duration
	// Screenshot is the persisted path of the failure screenshot, if any.
	Screenshot string
}

// Passed reports whether the check passed.
func (r *Result) Passed() bool { return r.Outcome == OutcomePass }

// Runner runs checks against sessions from a single launcher. A Runner is
// safe for concurrent use when its launcher is.
type Runner struct {
	launcher      api.Launcher
	logger        *log.Logger
	tracer        *trace.Tracer
	metrics       *metrics.CustomMetrics
	screenshotter *common.Screenshotter
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

func WithLogger(l *log.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

func WithTracer(t *trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

func WithMetrics(m *metrics.CustomMetrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithScreenshotter enables screenshots of the page when a step fails.
func WithScreenshotter(s *common.Screenshotter) RunnerOption {
	return func(r *Runner) { r.screenshotter = s }
}

// NewRunner returns a Runner using l for every check.
func NewRunner(l api.Launcher, opts ...RunnerOption) *Runner {
	r := &Runner{
		launcher: l,
		logger:   log.NewNullLogger(),
		tracer:   trace.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run runs c in a fresh session. Steps run in order and the first failing
// step ends the run. The session is released in every case.
func (r *Runner) Run(ctx context.Context, c *Check) *Result {
	start := time.Now()
	res := &Result{Launcher: r.launcher.Name()}
	if c != nil {
		res.Check = c.Name
	}

	ctx, span := r.tracer.TraceCheck(ctx, res.Check, res.Launcher)
	defer func() {
		p := recover()
		if p != nil {
			res.Err = fmt.Errorf("check %q panicked: %v", res.Check, p)
		}
		res.Duration = time.Since(start)
		res.Outcome = Classify(res.Err)
		trace.End(span, res.Err)
		r.metrics.ObserveCheck(res.Check, string(res.Outcome), Outcomes, res.Duration)
		r.logResult(res)
		if p != nil {
			panic(p)
		}
	}()

	if err := c.Validate(); err != nil {
		res.Err = err
		return res
	}

	r.logger.Debugf("Runner:Run", "check:%q launcher:%q steps:%d", c.Name, res.Launcher, len(c.Steps))
	res.Err = WithSession(ctx, r.launcher, func(ctx context.Context, s api.Session) error {
		for i, step := range c.Steps {
			if err := r.runStep(ctx, c, i, step, s, res); err != nil {
				r.captureFailure(ctx, c, s, res)
				return err
			}
		}
		return nil
	})

	return res
}

func (r *Runner) runStep(ctx context.Context, c *Check, i int, step Step, s api.Session, res *Result) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("step %d (%s): %w", i+1, step.Name(), err)
	}

	r.logger.Debugf("Runner:"+step.Name(), "check:%q step:%d/%d %s", c.Name, i+1, len(c.Steps), step)

	sctx, span := r.tracer.TraceStep(ctx, step.Name(), i, step.String())
	start := time.Now()
	err := step.Do(sctx, s)
	elapsed := time.Since(start)
	trace.End(span, err)

	r.metrics.ObserveStep(c.Name, step.Name(), elapsed)
	res.Steps = append(res.Steps, StepResult{
		Name:        step.Name(),
		Description: step.String(),
		Duration:    elapsed,
		Err:         err,
	})
	if err != nil {
		return fmt.Errorf("step %d (%s): %w", i+1, step.Name(), err)
	}
	return nil
}

func (r *Runner) captureFailure(ctx context.Context, c *Check, s api.Session, res *Result) {
	if r.screenshotter == nil {
		return
	}

	// The run context may already be canceled; the page is still open.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	path, err := r.screenshotter.Capture(sctx, s, c.Name)
	if err != nil {
		r.logger.Warnf("Runner:captureFailure", "check:%q: %v", c.Name, err)
		return
	}
	res.Screenshot = path
	r.logger.Infof("Runner:captureFailure", "check:%q screenshot:%q", c.Name, path)
}

func (r *Runner) logResult(res *Result) {
	switch res.Outcome {
	case OutcomePass:
		r.logger.Infof("Runner:Run", "check:%q passed in %s", res.Check, res.Duration)
	case OutcomeFail:
		r.logger.Warnf("Runner:Run", "check:%q failed in %s: %v", res.Check, res.Duration, res.Err)
	default:
		r.logger.Errorf("Runner:Run", "check:%q errored in %s: %v", res.Check, res.Duration, res.Err)
	}
}

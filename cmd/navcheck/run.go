package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/davidnuzik/navcheck/check"
	"github.com/davidnuzik/navcheck/common"
	"github.com/davidnuzik/navcheck/metrics"
	"github.com/davidnuzik/navcheck/otel"
	"github.com/davidnuzik/navcheck/storage"
	"github.com/davidnuzik/navcheck/trace"
)

const traceShutdownTimeout = 5 * time.Second

func newRunCmd(a *app) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the navigation check, or the checks of a file",
		Long: `Run opens the check URL, waits for the page to settle, clicks the
locator and checks that the page title contains the expected text.

With --file the checks of a YAML check file run instead, in order, each
in a fresh browser session.

The exit status is 0 when every check passes, 1 when a check fails and 2
when a check could not be run.`,
		Example: `  navcheck run
  navcheck run --url https://github.com/alice --expect alice --locator .repo
  navcheck run --file examples/github_profile.yaml --driver webdriver --driver-path ./drivers/chromedriver`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChecks(cmd.Context(), verbose)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&verbose, "verbose", "v", false, "print every step")
	f.StringP("file", "f", "", "YAML check file to run instead of the navigation check")
	f.String("url", "", "page to open")
	f.String("locator", "", "element to click")
	f.String("strategy", "", "locator strategy: css, xpath or text")
	f.String("expect", "", "text the page title must contain after the click")
	f.Duration("settle", 0, "pause after navigating")
	f.Duration("wait", 0, "poll for the locator up to this long instead of pausing")
	f.String("artifacts", "", "directory for failure screenshots")
	f.Bool("screenshot", false, "take a screenshot when a check does not pass")
	f.String("metrics", "", "write Prometheus metrics to this textfile")

	return cmd
}

func (a *app) loadChecks() ([]*check.Check, error) {
	if a.cfg.Check.File != "" {
		return check.LoadFile(a.cfg.Check.File)
	}
	c, err := a.cfg.Check.NavigationCheck()
	if err != nil {
		return nil, err
	}
	return []*check.Check{c}, nil
}

func (a *app) runChecks(ctx context.Context, verbose bool) error {
	checks, err := a.loadChecks()
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}

	tp, err := otel.NewTraceProvider(ctx, a.cfg.Tracing.Options(a.stderr))
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), traceShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			a.logger.Warnf("navcheck", "shutting down tracing: %v", err)
		}
	}()

	launcher := newLauncher(a.cfg, a.logger)
	reg := prometheus.NewRegistry()
	opts := []check.RunnerOption{
		check.WithLogger(a.logger),
		check.WithTracer(trace.NewTracer(tp, map[string]string{"driver": a.cfg.Driver.Kind})),
		check.WithMetrics(metrics.RegisterCustomMetrics(reg)),
	}
	persister := &storage.LocalFilePersister{BaseDir: a.cfg.Artifacts.Dir}
	if a.cfg.Artifacts.ScreenshotOnFailure {
		opts = append(opts, check.WithScreenshotter(common.NewScreenshotter(persister)))
	}
	runner := check.NewRunner(launcher, opts...)

	rep := newReporter(a.stdout, verbose, persister)
	for _, c := range checks {
		if ctx.Err() != nil {
			break
		}
		rep.add(runner.Run(ctx, c))
	}
	rep.summary()

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path, reg); err != nil {
			return &exitCodeError{code: exitError, err: err}
		}
	}
	if err := ctx.Err(); err != nil {
		return &exitCodeError{code: exitError, err: errors.Wrap(err, "run interrupted")}
	}

	return rep.exitError()
}

// reporter prints one line per check result and a summary.
type reporter struct {
	w         io.Writer
	verbose   bool
	persister *storage.LocalFilePersister

	counts map[check.Outcome]int
}

func newReporter(w io.Writer, verbose bool, p *storage.LocalFilePersister) *reporter {
	return &reporter{
		w:         w,
		verbose:   verbose,
		persister: p,
		counts:    make(map[check.Outcome]int),
	}
}

var (
	passLabel  = color.New(color.FgGreen, color.Bold).SprintFunc()
	failLabel  = color.New(color.FgRed, color.Bold).SprintFunc()
	errorLabel = color.New(color.FgYellow, color.Bold).SprintFunc()
	faint      = color.New(color.Faint).SprintFunc()
)

func label(o check.Outcome) string {
	switch o {
	case check.OutcomePass:
		return passLabel("PASS ")
	case check.OutcomeFail:
		return failLabel("FAIL ")
	default:
		return errorLabel("ERROR")
	}
}

func (r *reporter) add(res *check.Result) {
	r.counts[res.Outcome]++

	fmt.Fprintf(r.w, "%s %s %s\n", label(res.Outcome), res.Check,
		faint(fmt.Sprintf("(%s, %s)", res.Launcher, res.Duration.Round(time.Millisecond))))
	if r.verbose {
		for i, s := range res.Steps {
			mark := "ok"
			if s.Err != nil {
				mark = "!!"
			}
			fmt.Fprintf(r.w, "      %s %d. %s %s\n", mark, i+1, s.Description, faint(s.Duration.Round(time.Millisecond)))
		}
	}
	if res.Err != nil {
		fmt.Fprintf(r.w, "      %v\n", res.Err)
	}
	if res.Screenshot != "" {
		fmt.Fprintf(r.w, "      screenshot: %s\n", r.persister.Location(res.Screenshot))
	}
}

func (r *reporter) summary() {
	fmt.Fprintf(r.w, "\n%d passed, %d failed, %d errored\n",
		r.counts[check.OutcomePass], r.counts[check.OutcomeFail], r.counts[check.OutcomeError])
}

// exitError maps the results to the exit status: errors outrank failures.
func (r *reporter) exitError() error {
	switch {
	case r.counts[check.OutcomeError] > 0:
		return &exitCodeError{code: exitError}
	case r.counts[check.OutcomeFail] > 0:
		return &exitCodeError{code: exitFailed}
	default:
		return nil
	}
}

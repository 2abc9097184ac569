package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/davidnuzik/navcheck/config"
	"github.com/davidnuzik/navcheck/log"
)

// app is the state shared by the subcommands once flags are parsed.
type app struct {
	configPath string
	noColor    bool

	cfg    *config.Config
	logger *log.Logger

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "navcheck",
		Short: "Browser navigation checks for Chromium",
		Long: `navcheck opens a page in Chromium, clicks an element and checks the
resulting page title. Checks can also be read from a YAML file.

The browser is driven over the DevTools protocol (chromedp), through
chromedriver (webdriver) or through Playwright.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", "version", "completion":
				return nil
			}
			return a.init(cmd)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "configuration file (YAML)")
	pf.BoolVar(&a.noColor, "no-color", false, "disable coloured output")
	pf.String("log-level", "info", "log level: trace, debug, info, warn or error")
	pf.String("log-categories", "", "only log categories matching this regular expression")
	pf.String("driver", config.DriverChromedp, "session backend: chromedp, webdriver or playwright")
	pf.String("driver-path", "", "chromedriver binary, required by the webdriver backend")
	pf.Int("driver-port", 0, "chromedriver port, 0 picks a free one")
	pf.Bool("install", false, "install the Playwright driver and browsers first")
	pf.Bool("headless", true, "run the browser headless")
	pf.String("executable", "", "browser executable, found automatically when empty")
	pf.String("remote-url", "", "DevTools WebSocket URL of an already running browser")
	pf.StringSlice("browser-arg", nil, "extra browser command line flag, may be repeated")
	pf.Duration("timeout", 0, "timeout of every browser operation")
	pf.String("trace", "", "trace exporter: none, stdout or otlp")
	pf.String("trace-endpoint", "", "OTLP/HTTP collector host:port for the otlp exporter")
	pf.Bool("trace-insecure", false, "send OTLP traces over plain HTTP")

	root.AddCommand(
		newRunCmd(a),
		newInspectCmd(a),
		newDevtoolsCmd(a),
		newVersionCmd(a),
	)

	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if a.noColor {
		color.NoColor = true
	}

	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	logger, err := log.NewFromLevel(a.stderr, cfg.Log.Level, cfg.Log.Categories)
	if err != nil {
		return &exitCodeError{code: exitError, err: fmt.Errorf("setting up logging: %w", err)}
	}

	a.cfg = cfg
	a.logger = logger
	a.logger.Debugf("navcheck", "driver:%q config:%q", cfg.Driver.Kind, a.configPath)

	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "navcheck %s\n", version)
			fmt.Fprintf(a.stdout, "commit: %s\n", commit)
			fmt.Fprintf(a.stdout, "built: %s\n", buildDate)
		},
	}
}

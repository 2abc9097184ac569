package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidnuzik/navcheck/cdp"
	"github.com/davidnuzik/navcheck/chromium"
)

const browserCloseTimeout = 10 * time.Second

func newInspectCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect [ws-url]",
		Short: "Print the browser version and its open targets",
		Long: `Inspect connects to a DevTools WebSocket endpoint and prints what the
browser reports about itself. Without an URL, browser.remote_url is used,
and without that a local browser is started for it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, release, err := a.connect(ctx, args)
			if err != nil {
				return &exitCodeError{code: exitError, err: err}
			}
			defer release()

			res, err := c.Inspect(ctx)
			if err != nil {
				return &exitCodeError{code: exitError, err: err}
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Browser:\t%s\n", res.Version.Product)
			fmt.Fprintf(tw, "Protocol:\t%s\n", res.Version.ProtocolVersion)
			fmt.Fprintf(tw, "Revision:\t%s\n", res.Version.Revision)
			fmt.Fprintf(tw, "User agent:\t%s\n", res.Version.UserAgent)
			fmt.Fprintf(tw, "V8:\t%s\n", res.Version.JSVersion)
			fmt.Fprintf(tw, "Targets:\t%d\n", len(res.Targets))
			for _, t := range res.Targets {
				fmt.Fprintf(tw, "  %s\t%s\t%s\t%q\n", t.TargetID, t.Type, t.URL, t.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func newDevtoolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devtools [ws-url]",
		Short: "Send raw DevTools commands read from standard input",
		Long: `Devtools reads one JSON command per line, for example

  {"method": "Target.getTargets"}

and sends it to the browser, numbering commands that have no id. Responses
and events are printed as they arrive. It stops at the end of input.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, release, err := a.connect(ctx, args)
			if err != nil {
				return &exitCodeError{code: exitError, err: err}
			}
			defer release()

			fmt.Fprintf(a.stderr, "connected to %s\n", c.URL())
			err = cdp.NewConsole(c.Conn, cmd.InOrStdin(), a.stdout).Run(ctx)
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return &exitCodeError{code: exitError, err: err}
		},
	}
}

// connect dials the DevTools endpoint in args, the configured remote URL or a
// freshly started local browser. release closes the connection and stops the
// browser if it was started here.
func (a *app) connect(ctx context.Context, args []string) (*cdp.Client, func(), error) {
	wsURL := a.cfg.Browser.RemoteURL
	if len(args) > 0 {
		wsURL = args[0]
	}

	var proc *chromium.BrowserProcess
	if wsURL == "" {
		var err error
		proc, err = chromium.NewBrowserType(&a.cfg.Browser, a.logger).StartProcess(ctx)
		if err != nil {
			return nil, nil, err
		}
		wsURL = proc.WsURL()
	}

	c, err := cdp.Connect(ctx, wsURL, a.logger)
	if err != nil {
		if proc != nil {
			proc.Terminate()
		}
		return nil, nil, err
	}

	release := func() {
		if proc == nil {
			_ = c.Close()
			return
		}
		a.closeBrowser(ctx, c, proc)
	}
	return c, release, nil
}

func (a *app) closeBrowser(ctx context.Context, c *cdp.Client, proc *chromium.BrowserProcess) {
	proc.GracefulClose()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), browserCloseTimeout)
	defer cancel()
	if err := c.Browser.Close(cctx); err != nil {
		a.logger.Debugf("navcheck", "closing browser: %v", err)
	}
	_ = c.Close()

	select {
	case <-proc.Done():
	case <-cctx.Done():
		a.logger.Warnf("navcheck", "browser pid %d did not exit, killing it", proc.Pid())
		proc.Terminate()
	}
}

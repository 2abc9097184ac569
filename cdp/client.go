// Package cdp is a small Chrome DevTools Protocol client used to inspect a
// browser without driving it.
package cdp

import (
	"context"
	"fmt"

	cdpt "github.com/chromedp/cdproto/target"

	"github.com/davidnuzik/navcheck/cdp/domains"
	"github.com/davidnuzik/navcheck/log"
)

// Client exposes the CDP domains over one connection.
type Client struct {
	*Conn

	Browser domains.Browser
	Target  domains.Target
}

// Connect dials wsURL and returns a Client for it.
func Connect(ctx context.Context, wsURL string, logger *log.Logger) (*Client, error) {
	conn, err := Dial(ctx, wsURL, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		Conn:    conn,
		Browser: domains.NewBrowser(conn),
		Target:  domains.NewTarget(conn),
	}, nil
}

// Inspection is what a browser reports about itself.
type Inspection struct {
	Version *domains.Version `json:"version"`
	Targets []*cdpt.Info     `json:"targets"`
}

// Inspect reads the browser version and its open targets.
func (c *Client) Inspect(ctx context.Context) (*Inspection, error) {
	v, err := c.Browser.GetVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting browser version: %w", err)
	}
	targets, err := c.Target.GetTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing targets: %w", err)
	}

	return &Inspection{Version: v, Targets: targets}, nil
}

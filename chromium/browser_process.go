/*
 *
 * navcheck - a browser navigation check for Chromium
 * Copyright (C) 2023 navcheck authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package chromium

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/davidnuzik/navcheck/browserprocess"
	"github.com/davidnuzik/navcheck/log"
	"github.com/davidnuzik/navcheck/storage"
)

// BrowserProcess is a browser the session talks CDP to. It is either a
// local process started by navcheck or a remote browser that is only
// connected to.
type BrowserProcess struct {
	ctx    context.Context
	cancel context.CancelFunc

	// The process of the browser, if running locally.
	process *os.Process

	processIsGracefullyClosing chan struct{}
	closingOnce                sync.Once
	processDone                chan struct{}

	// Browser's WebSocket URL to speak CDP
	wsURL string

	logger *log.Logger
}

// NewLocalBrowserProcess starts the browser at path and waits for it to
// announce its DevTools URL. The process is killed when ctx is done, and
// dataDir is cleaned up once it has exited.
func NewLocalBrowserProcess(
	ctx context.Context, path string, args, env []string, dataDir *storage.Dir,
	ctxCancel context.CancelFunc, logger *log.Logger,
) (*BrowserProcess, error) {
	cmd, err := execute(ctx, path, args, env, dataDir, logger)
	if err != nil {
		return nil, err
	}

	wsURL, err := parseDevToolsURL(ctx, cmd)
	if err != nil {
		ctxCancel()
		<-cmd.done
		return nil, fmt.Errorf("getting DevTools URL: %w", err)
	}

	// Keep reading stderr so the browser never blocks on a full pipe.
	go func() {
		_, _ = io.Copy(io.Discard, cmd.stderr)
	}()

	p := &BrowserProcess{
		ctx:                        ctx,
		cancel:                     ctxCancel,
		process:                    cmd.Process,
		processIsGracefullyClosing: make(chan struct{}),
		processDone:                cmd.done,
		wsURL:                      wsURL,
		logger:                     logger,
	}

	go func() {
		// If the browser goes away and we're not in-progress with clean
		// browser-initiated termination then cancel the context to clean up.
		select {
		case <-p.processDone:
		case <-ctx.Done():
		}

		select {
		case <-p.processIsGracefullyClosing:
		default:
			p.cancel()
		}
	}()

	return p, nil
}

// NewRemoteBrowserProcess returns a BrowserProcess for a browser listening
// on wsURL that navcheck did not start.
func NewRemoteBrowserProcess(
	ctx context.Context, wsURL string, ctxCancel context.CancelFunc, logger *log.Logger,
) *BrowserProcess {
	return &BrowserProcess{
		ctx:                        ctx,
		cancel:                     ctxCancel,
		processIsGracefullyClosing: make(chan struct{}),
		processDone:                make(chan struct{}),
		wsURL:                      wsURL,
		logger:                     logger,
	}
}

// GracefulClose marks the browser as closing on request, so its exit is
// not treated as a lost connection.
func (p *BrowserProcess) GracefulClose() {
	p.logger.Debugf("Browser:GracefulClose", "")
	p.closingOnce.Do(func() { close(p.processIsGracefullyClosing) })
}

// Terminate kills a local browser process.
func (p *BrowserProcess) Terminate() {
	p.logger.Debugf("Browser:Terminate", "browserProc terminate")
	p.cancel()
}

// Done is closed once a local browser process has exited and its data
// directory was removed. It is never closed for a remote browser.
func (p *BrowserProcess) Done() <-chan struct{} {
	return p.processDone
}

// Remote reports whether the browser was started elsewhere.
func (p *BrowserProcess) Remote() bool {
	return p.process == nil
}

// WsURL returns the Websocket URL that the browser is listening on for CDP clients.
func (p *BrowserProcess) WsURL() string {
	return p.wsURL
}

// Pid returns the browser process ID, or 0 for a remote browser.
func (p *BrowserProcess) Pid() int {
	if p.process == nil {
		return 0
	}
	return p.process.Pid
}

type command struct {
	*exec.Cmd
	done   chan struct{}
	stderr io.Reader
}

func execute(
	ctx context.Context, path string, args, env []string, dataDir *storage.Dir,
	logger *log.Logger,
) (command, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	killAfterParent(cmd)

	// Set up environment variable for process
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return command{}, fmt.Errorf("platform does not support stderr pipe: %w", err)
	}

	// We must start the cmd before calling cmd.Wait, as otherwise the two
	// can run into a data race.
	err = cmd.Start()
	if os.IsNotExist(err) {
		return command{}, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return command{}, fmt.Errorf("%w", err)
	}
	pid := cmd.Process.Pid
	browserprocess.Register(ctx, logger, pid)

	done := make(chan struct{})
	go func() {
		defer func() {
			browserprocess.Deregister(pid)
			if err := dataDir.Cleanup(); err != nil {
				logger.Errorf("browser", "cleaning up the user data directory: %v", err)
			}
			close(done)
		}()

		// The process exits with an error when it is killed on
		// termination, which is expected.
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			logger.Errorf("browser",
				"process with PID %d unexpectedly ended: %v", pid, err)
		}
	}()

	return command{cmd, done, stderr}, nil
}

// parseDevToolsURL grabs the WebSocket address from Chrome's output and returns
// it. If the process ends abruptly, it will return the first error from stderr.
func parseDevToolsURL(ctx context.Context, cmd command) (string, error) {
	type result struct {
		devToolsURL string
		err         error
	}
	done := make(chan result, 1)
	go func() {
		p := &devToolsURLParser{sc: bufio.NewScanner(cmd.stderr)}
		for p.scan() {
		}
		done <- result{p.url, p.err()}
	}()

	select {
	case r := <-done:
		return r.devToolsURL, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w", ctx.Err())
	case <-cmd.done:
		return "", errors.New("browser process ended unexpectedly")
	}
}

const devToolsURLPrefix = "DevTools listening on "

// Chromium logs fatal startup failures as
// [6497:6497:1013/103521.932979:ERROR:ozone_platform_x11.cc(247)] message
var fatalLogRx = regexp.MustCompile(`^\[[\d:/.]+:ERROR:.+\] (.+)$`)

type devToolsURLParser struct {
	sc *bufio.Scanner

	url      string
	errorMsg string
}

func (p *devToolsURLParser) scan() bool {
	if !p.sc.Scan() {
		return false
	}

	line := p.sc.Text()
	if strings.HasPrefix(line, devToolsURLPrefix) {
		p.url = strings.TrimSpace(strings.TrimPrefix(line, devToolsURLPrefix))
		return false
	}
	if m := fatalLogRx.FindStringSubmatch(line); m != nil {
		p.errorMsg = m[1]
	}

	return true
}

func (p *devToolsURLParser) err() error {
	if p.url != "" {
		return nil
	}
	if p.errorMsg != "" {
		return errors.New(p.errorMsg)
	}
	if err := p.sc.Err(); err != nil {
		return err
	}

	return errors.New("browser closed its output without a DevTools URL")
}

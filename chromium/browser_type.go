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

// Package chromium launches or connects to a Chromium browser and drives it
// over the DevTools protocol with chromedp.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/common"
	"github.com/davidnuzik/navcheck/log"
	"github.com/davidnuzik/navcheck/storage"
)

// ErrExecutableNotFound is returned when no Chromium binary could be found.
var ErrExecutableNotFound = errors.New("chromium executable not found")

// BrowserType is an api.Launcher that gives every session its own
// Chromium, or its own tab in the remote browser when one is configured.
type BrowserType struct {
	opts   *common.BrowserOptions
	env    []string
	logger *log.Logger

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

var _ api.Launcher = &BrowserType{}

// NewBrowserType returns a launcher for opts.
func NewBrowserType(opts *common.BrowserOptions, logger *log.Logger) *BrowserType {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &BrowserType{
		opts:     opts,
		logger:   logger,
		lookPath: exec.LookPath,
		stat:     os.Stat,
	}
}

// Name returns the launcher name.
func (b *BrowserType) Name() string { return "chromedp" }

// Launch starts a browser, or connects to the remote one, and opens a page
// sized to the configured viewport.
func (b *BrowserType) Launch(ctx context.Context) (api.Session, error) {
	if err := b.opts.Validate(); err != nil {
		return nil, fmt.Errorf("browser options: %w", err)
	}

	proc, err := b.browserProcess(ctx)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), proc.WsURL(), chromedp.NoModifyURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(f string, a ...interface{}) { b.logger.Debugf("chromedp", f, a...) }),
		chromedp.WithErrorf(func(f string, a ...interface{}) { b.logger.Warnf("chromedp", f, a...) }),
	)

	s := &Session{
		proc:        proc,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		timeout:     b.opts.Timeout,
		logger:      b.logger,
	}

	// The first run attaches to the browser and creates the tab. It runs on
	// the tab context itself so the tab outlives ctx.
	stop := context.AfterFunc(ctx, tabCancel)
	err = chromedp.Run(tabCtx, b.setupActions()...)
	stop()
	if err != nil {
		_ = s.Quit()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("opening page: %w", err)
	}

	b.logger.Debugf("BrowserType:Launch", "pid:%d wsURL:%q remote:%t", proc.Pid(), proc.WsURL(), proc.Remote())

	return s, nil
}

func (b *BrowserType) setupActions() []chromedp.Action {
	vp := b.opts.Viewport
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(vp.Width, vp.Height, 1, false),
	}
	if b.opts.UserAgent != "" || b.opts.Locale != "" {
		ua := b.opts.UserAgent
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			if ua == "" {
				var err error
				if ua, err = currentUserAgent(ctx); err != nil {
					return err
				}
			}
			return emulation.SetUserAgentOverride(ua).WithAcceptLanguage(b.opts.Locale).Do(ctx)
		}))
	}
	return actions
}

// StartProcess starts a bare browser, or attaches to the remote one, without
// opening a page. The caller owns the process and must close it.
func (b *BrowserType) StartProcess(ctx context.Context) (*BrowserProcess, error) {
	if err := b.opts.Validate(); err != nil {
		return nil, fmt.Errorf("browser options: %w", err)
	}
	return b.browserProcess(ctx)
}

func (b *BrowserType) browserProcess(ctx context.Context) (*BrowserProcess, error) {
	// The process lives until the session is released, not until ctx is done.
	pctx, pcancel := context.WithCancel(context.WithoutCancel(ctx))

	if b.opts.RemoteURL != "" {
		return NewRemoteBrowserProcess(pctx, b.opts.RemoteURL, pcancel, b.logger), nil
	}

	path, err := b.ExecutablePath()
	if err != nil {
		pcancel()
		return nil, err
	}

	dataDir := &storage.Dir{}
	if err := dataDir.Make("", ""); err != nil {
		pcancel()
		return nil, fmt.Errorf("creating user data dir: %w", err)
	}

	flags := prepareFlags(b.opts, dataDir.Dir)
	b.logger.Debugf("BrowserType:Launch", "path:%q flags:%v", path, flags)

	proc, err := NewLocalBrowserProcess(pctx, path, flags, b.env, dataDir, pcancel, b.logger)
	if err != nil {
		pcancel()
		_ = dataDir.Cleanup()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	return proc, nil
}

// ExecutablePath returns the configured executable or the first Chromium
// found in PATH and at the usual install locations.
func (b *BrowserType) ExecutablePath() (string, error) {
	if p := b.opts.ExecutablePath; p != "" {
		if _, err := b.stat(p); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrExecutableNotFound, p, err)
		}
		return p, nil
	}

	for _, name := range executableCandidates() {
		if filepath.IsAbs(name) {
			if _, err := b.stat(name); err == nil {
				return name, nil
			}
			continue
		}
		if p, err := b.lookPath(name); err == nil {
			return p, nil
		}
	}

	return "", ErrExecutableNotFound
}

func executableCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"google-chrome",
			"chromium",
		}
	case "windows":
		return []string{
			"chrome",
			"chrome.exe",
			filepath.Join(os.Getenv("ProgramFiles"), `Google\Chrome\Application\chrome.exe`),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), `Google\Chrome\Application\chrome.exe`),
			filepath.Join(os.Getenv("LocalAppData"), `Google\Chrome\Application\chrome.exe`),
		}
	default:
		return []string{
			"headless_shell",
			"headless-shell",
			"chromium",
			"chromium-browser",
			"google-chrome",
			"google-chrome-stable",
			"google-chrome-beta",
			"google-chrome-unstable",
			"/usr/bin/google-chrome",
			"/snap/bin/chromium",
		}
	}
}

// prepareFlags builds the command line. Args from the options override the
// defaults; an arg of the form -name removes a default flag.
func prepareFlags(opts *common.BrowserOptions, userDataDir string) []string {
	f := map[string]string{
		"disable-background-networking":                      "",
		"enable-features":                                    "NetworkService,NetworkServiceInProcess",
		"disable-background-timer-throttling":                "",
		"disable-backgrounding-occluded-windows":             "",
		"disable-breakpad":                                   "",
		"disable-component-extensions-with-background-pages": "",
		"disable-default-apps":                               "",
		"disable-dev-shm-usage":                              "",
		"disable-extensions":                                 "",
		"disable-features":                                   "ImprovedCookieControls,LazyFrameLoading,GlobalMediaControls,DestroyProfileOnBrowserClose,MediaRouter,AcceptCHFrame",
		"disable-hang-monitor":                               "",
		"disable-ipc-flooding-protection":                    "",
		"disable-popup-blocking":                             "",
		"disable-prompt-on-repost":                           "",
		"disable-renderer-backgrounding":                     "",
		"disable-sync":                                       "",
		"force-color-profile":                                "srgb",
		"metrics-recording-only":                             "",
		"no-first-run":                                       "",
		"no-default-browser-check":                           "",
		"password-store":                                     "basic",
		"use-mock-keychain":                                  "",
		"remote-debugging-port":                              "0",
		"window-size":                                        fmt.Sprintf("%d,%d", opts.Viewport.Width, opts.Viewport.Height),
	}
	if opts.Headless {
		f["headless"] = "new"
		f["hide-scrollbars"] = ""
		f["mute-audio"] = ""
		f["blink-settings"] = "primaryHoverType=2,availableHoverTypes=2,primaryPointerType=4,availablePointerTypes=4"
	}
	if opts.Locale != "" {
		f["lang"] = opts.Locale
	}

	for _, arg := range opts.Args {
		switch a := strings.TrimSpace(arg); {
		case a == "":
		case strings.HasPrefix(a, "--"):
			setFlag(f, a[2:])
		case strings.HasPrefix(a, "-"):
			delete(f, a[1:])
		default:
			setFlag(f, a)
		}
	}
	f["user-data-dir"] = userDataDir

	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]string, 0, len(f)+1)
	for _, name := range names {
		if v := f[name]; v != "" {
			args = append(args, fmt.Sprintf("--%s=%s", name, v))
		} else {
			args = append(args, "--"+name)
		}
	}

	return append(args, "about:blank")
}

func setFlag(f map[string]string, arg string) {
	name, value, _ := strings.Cut(arg, "=")
	f[name] = value
}

// Package playwright runs checks in Chromium driven by the Playwright
// driver.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	pw "github.com/playwright-community/playwright-go"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/common"
	"github.com/davidnuzik/navcheck/log"
)

// Options configure the Playwright driver.
type Options struct {
	// Install downloads the driver and Chromium before the first launch.
	Install bool
}

// Launcher starts a Playwright driver and a Chromium per session.
type Launcher struct {
	opts    Options
	browser *common.BrowserOptions
	logger  *log.Logger

	installOnce sync.Once
	installErr  error
}

var _ api.Launcher = &Launcher{}

// NewLauncher returns a Playwright launcher.
func NewLauncher(opts Options, browser *common.BrowserOptions, logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Launcher{opts: opts, browser: browser, logger: logger}
}

func (l *Launcher) Name() string { return "playwright" }

func (l *Launcher) runOptions() *pw.RunOptions {
	return &pw.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
}

// Launch starts the driver and a Chromium with a single page.
func (l *Launcher) Launch(ctx context.Context) (api.Session, error) {
	if err := l.browser.Validate(); err != nil {
		return nil, fmt.Errorf("browser options: %w", err)
	}

	if l.opts.Install {
		l.installOnce.Do(func() {
			l.logger.Infof("playwright:Launch", "installing driver and chromium")
			l.installErr = common.Blocking(ctx, func() error { return pw.Install(l.runOptions()) })
		})
		if l.installErr != nil {
			return nil, fmt.Errorf("installing playwright: %w", l.installErr)
		}
	}

	s := &Session{logger: l.logger}
	opened := make(chan error, 1)
	go func() { opened <- l.open(s) }()

	select {
	case err := <-opened:
		if err != nil {
			_ = s.Quit()
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		// Release what open starts once it is done.
		go func() {
			<-opened
			_ = s.Quit()
		}()
		return nil, ctx.Err()
	}
}

// open fills s in. s is not shared until open returns.
func (l *Launcher) open(s *Session) error {
	var err error
	if s.pw, err = pw.Run(l.runOptions()); err != nil {
		return fmt.Errorf("starting playwright: %w", err)
	}

	launch := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(l.browser.Headless),
		Args:     l.browser.ChromeArgs(),
	}
	if l.browser.ExecutablePath != "" {
		launch.ExecutablePath = pw.String(l.browser.ExecutablePath)
	}
	if l.browser.Timeout > 0 {
		launch.Timeout = pw.Float(float64(l.browser.Timeout.Milliseconds()))
	}
	browser, err := s.pw.Chromium.Launch(launch)
	if err != nil {
		return fmt.Errorf("launching chromium: %w", err)
	}
	s.closeBrowser = func() error { return browser.Close() }

	copts := pw.BrowserNewContextOptions{
		Viewport: &pw.Size{
			Width:  int(l.browser.Viewport.Width),
			Height: int(l.browser.Viewport.Height),
		},
	}
	if l.browser.UserAgent != "" {
		copts.UserAgent = pw.String(l.browser.UserAgent)
	}
	if l.browser.Locale != "" {
		copts.Locale = pw.String(l.browser.Locale)
	}
	bctx, err := browser.NewContext(copts)
	if err != nil {
		return fmt.Errorf("creating browser context: %w", err)
	}
	if s.page, err = bctx.NewPage(); err != nil {
		return fmt.Errorf("creating page: %w", err)
	}
	if l.browser.Timeout > 0 {
		s.page.SetDefaultTimeout(float64(l.browser.Timeout.Milliseconds()))
	}

	return nil
}

// Session is a Playwright page in its own browser.
type Session struct {
	pw           *pw.Playwright
	closeBrowser func() error
	page         pw.Page
	logger       *log.Logger

	mu       sync.Mutex
	quitOnce sync.Once
	quitErr  error
}

var _ api.Session = &Session{}

func (s *Session) do(ctx context.Context, fn func() error) error {
	return common.Blocking(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn()
	})
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debugf("playwright:Navigate", "url:%q", url)
	return s.do(ctx, func() error {
		_, err := s.page.Goto(url)
		return err
	})
}

// FindElement looks sel up once, without waiting for it.
func (s *Session) FindElement(ctx context.Context, sel api.Selector) (api.Element, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	h, err := call(ctx, s, func() (pw.ElementHandle, error) {
		return s.page.QuerySelector(selector(sel))
	})
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", sel, err)
	}
	if h == nil {
		return nil, api.NewElementNotFoundError(sel)
	}

	return &Element{session: s, h: h}, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	return call(ctx, s, s.page.Title)
}

func (s *Session) URL(ctx context.Context) (string, error) {
	return call(ctx, s, func() (string, error) { return s.page.URL(), nil })
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return call(ctx, s, func() ([]byte, error) { return s.page.Screenshot() })
}

// Quit closes the browser and stops the driver. A pending call is not
// waited for; closing the browser fails it.
func (s *Session) Quit() error {
	s.quitOnce.Do(func() {
		var errs []error
		if s.closeBrowser != nil {
			if err := s.closeBrowser(); err != nil {
				errs = append(errs, fmt.Errorf("closing browser: %w", err))
			}
		}
		if s.pw != nil {
			if err := s.pw.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stopping playwright: %w", err))
			}
		}
		s.quitErr = errors.Join(errs...)
	})
	return s.quitErr
}

// call is do for calls that return a value.
func call[T any](ctx context.Context, s *Session, fn func() (T, error)) (T, error) {
	return common.BlockingValue(ctx, func() (T, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn()
	})
}

// selector returns sel in Playwright's engine=value form. Text selectors use
// the same XPath as the other backends so that all of them match alike.
func selector(sel api.Selector) string {
	if sel.Strategy == api.StrategyXPath || sel.Strategy == api.StrategyText {
		return "xpath=" + sel.XPathExpr()
	}
	return "css=" + sel.Value
}

// Element is a Playwright element handle.
type Element struct {
	session *Session
	h       pw.ElementHandle
}

var _ api.Element = &Element{}

func (e *Element) Click(ctx context.Context) error {
	return e.session.do(ctx, func() error { return e.h.Click() })
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return call(ctx, e.session, e.h.TextContent)
}

func (e *Element) Value(ctx context.Context) (string, error) {
	return call(ctx, e.session, func() (string, error) { return e.h.InputValue() })
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	res, err := call(ctx, e.session, func() (interface{}, error) {
		return e.h.Evaluate("(el, name) => el.getAttribute(name)", name)
	})
	if err != nil || res == nil {
		return "", false, err
	}
	return fmt.Sprint(res), true, nil
}

func (e *Element) SendKeys(ctx context.Context, text string) error {
	return e.session.do(ctx, func() error { return e.h.Type(text) })
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	return call(ctx, e.session, func() (bool, error) { return e.h.IsVisible() })
}

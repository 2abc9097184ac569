// Package webdriver drives Chrome through chromedriver and the W3C WebDriver
// protocol.
package webdriver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/common"
	"github.com/davidnuzik/navcheck/log"
)

// ErrDriverPath is returned when no chromedriver binary is configured.
var ErrDriverPath = errors.New("chromedriver path not set")

// Options configure the chromedriver service.
type Options struct {
	// DriverPath is the chromedriver binary.
	DriverPath string
	// Port is the port chromedriver listens on, 0 picks a free one.
	Port int
}

// Launcher starts one chromedriver service and one Chrome per session.
type Launcher struct {
	opts    Options
	browser *common.BrowserOptions
	logger  *log.Logger

	newService func(path string, port int) (service, error)
	newRemote  func(caps selenium.Capabilities, url string) (selenium.WebDriver, error)
}

type service interface {
	Stop() error
}

var _ api.Launcher = &Launcher{}

// NewLauncher returns a Launcher for chromedriver at opts.DriverPath.
func NewLauncher(opts Options, browser *common.BrowserOptions, logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Launcher{
		opts:    opts,
		browser: browser,
		logger:  logger,
		newService: func(path string, port int) (service, error) {
			return selenium.NewChromeDriverService(path, port)
		},
		newRemote: selenium.NewRemote,
	}
}

func (l *Launcher) Name() string { return "webdriver" }

// Launch starts chromedriver and opens a Chrome session through it.
func (l *Launcher) Launch(ctx context.Context) (api.Session, error) {
	if l.opts.DriverPath == "" {
		return nil, ErrDriverPath
	}
	if err := l.browser.Validate(); err != nil {
		return nil, fmt.Errorf("browser options: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port := l.opts.Port
	if port == 0 {
		var err error
		if port, err = freePort(); err != nil {
			return nil, fmt.Errorf("picking chromedriver port: %w", err)
		}
	}

	svc, err := l.newService(l.opts.DriverPath, port)
	if err != nil {
		return nil, fmt.Errorf("starting chromedriver %q on port %d: %w", l.opts.DriverPath, port, err)
	}
	l.logger.Debugf("webdriver:Launch", "chromedriver:%q port:%d", l.opts.DriverPath, port)

	wd, err := l.openSession(ctx, svc, fmt.Sprintf("http://127.0.0.1:%d/wd/hub", port))
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s := &Session{wd: wd, svc: svc, logger: l.logger}
	if l.browser.Timeout > 0 {
		if err := wd.SetPageLoadTimeout(l.browser.Timeout); err != nil {
			_ = s.Quit()
			return nil, fmt.Errorf("setting page load timeout: %w", err)
		}
	}

	return s, nil
}

type remoteResult struct {
	wd  selenium.WebDriver
	err error
}

// openSession creates the WebDriver session on svc. svc is stopped when the
// session cannot be created. A session that comes up after ctx is done is
// quit as soon as it exists.
func (l *Launcher) openSession(ctx context.Context, svc service, url string) (selenium.WebDriver, error) {
	res := make(chan remoteResult, 1)
	go func() {
		wd, err := l.newRemote(l.capabilities(), url)
		res <- remoteResult{wd, err}
	}()

	select {
	case r := <-res:
		if r.err != nil {
			_ = svc.Stop()
			return nil, r.err
		}
		return r.wd, nil
	case <-ctx.Done():
		go func() {
			if r := <-res; r.wd != nil {
				l.logger.Debugf("webdriver:Launch", "quitting session created after %v", ctx.Err())
				_ = r.wd.Quit()
			}
			_ = svc.Stop()
		}()
		return nil, ctx.Err()
	}
}

func (l *Launcher) capabilities() selenium.Capabilities {
	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{
		Path: l.browser.ExecutablePath,
		Args: chromeArgs(l.browser),
		W3C:  true,
	})
	return caps
}

func chromeArgs(opts *common.BrowserOptions) []string {
	args := []string{
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		fmt.Sprintf("--window-size=%d,%d", opts.Viewport.Width, opts.Viewport.Height),
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	if opts.UserAgent != "" {
		args = append(args, "--user-agent="+opts.UserAgent)
	}
	if opts.Locale != "" {
		args = append(args, "--lang="+opts.Locale)
	}
	return append(args, opts.ChromeArgs()...)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close() //nolint:errcheck

	return l.Addr().(*net.TCPAddr).Port, nil
}

// Session is a chromedriver session.
type Session struct {
	wd     selenium.WebDriver
	svc    service
	logger *log.Logger

	mu       sync.Mutex
	quitOnce sync.Once
	quitErr  error
}

var _ api.Session = &Session{}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debugf("webdriver:Navigate", "url:%q", url)
	return s.do(ctx, func() error { return s.wd.Get(url) })
}

// FindElement looks sel up once, without the implicit wait.
func (s *Session) FindElement(ctx context.Context, sel api.Selector) (api.Element, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	by, value := by(sel)
	we, err := call(ctx, s, func() (selenium.WebElement, error) {
		return s.wd.FindElement(by, value)
	})
	if err != nil {
		return nil, mapFindError(sel, err)
	}

	return &Element{session: s, we: we}, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	title, err := call(ctx, s, s.wd.Title)
	return title, errors.Wrap(err, "reading title")
}

func (s *Session) URL(ctx context.Context) (string, error) {
	u, err := call(ctx, s, s.wd.CurrentURL)
	return u, errors.Wrap(err, "reading current URL")
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := call(ctx, s, s.wd.Screenshot)
	return buf, errors.Wrap(err, "taking screenshot")
}

// Quit ends the WebDriver session and stops chromedriver. It does not wait
// for a pending command: deleting the session aborts it.
func (s *Session) Quit() error {
	s.quitOnce.Do(func() {
		err := s.wd.Quit()
		if serr := s.svc.Stop(); serr != nil && err == nil {
			err = errors.Wrap(serr, "stopping chromedriver")
		}
		s.quitErr = err
	})
	return s.quitErr
}

// do serializes calls, as a WebDriver session serves one command at a time.
func (s *Session) do(ctx context.Context, fn func() error) error {
	return common.Blocking(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn()
	})
}

// call is do for commands that return a value.
func call[T any](ctx context.Context, s *Session, fn func() (T, error)) (T, error) {
	return common.BlockingValue(ctx, func() (T, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn()
	})
}

func by(sel api.Selector) (string, string) {
	if sel.Strategy == api.StrategyXPath || sel.Strategy == api.StrategyText {
		return selenium.ByXPATH, sel.XPathExpr()
	}
	return selenium.ByCSSSelector, sel.Value
}

func mapFindError(sel api.Selector, err error) error {
	var se *selenium.Error
	if errors.As(err, &se) && se.Err == "no such element" {
		return api.NewElementNotFoundError(sel)
	}
	if strings.Contains(err.Error(), "no such element") {
		return api.NewElementNotFoundError(sel)
	}
	return errors.Wrapf(err, "looking up %s", sel)
}

// Element is a WebDriver element.
type Element struct {
	session *Session
	we      selenium.WebElement
}

var _ api.Element = &Element{}

func (e *Element) Click(ctx context.Context) error {
	return e.session.do(ctx, e.we.Click)
}

func (e *Element) Text(ctx context.Context) (string, error) {
	text, err := call(ctx, e.session, e.we.Text)
	return text, errors.Wrap(err, "reading text")
}

// Value returns the live value property, not the value attribute.
func (e *Element) Value(ctx context.Context) (string, error) {
	res, err := e.script(ctx, "return arguments[0].value;")
	if err != nil || res == nil {
		return "", errors.Wrap(err, "reading value")
	}
	return fmt.Sprint(res), nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	res, err := e.script(ctx, "return arguments[0].getAttribute(arguments[1]);", name)
	if err != nil {
		return "", false, errors.Wrapf(err, "reading attribute %q", name)
	}
	if res == nil {
		return "", false, nil
	}
	return fmt.Sprint(res), true, nil
}

func (e *Element) SendKeys(ctx context.Context, text string) error {
	return e.session.do(ctx, func() error { return e.we.SendKeys(text) })
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	visible, err := call(ctx, e.session, e.we.IsDisplayed)
	return visible, errors.Wrap(err, "reading visibility")
}

// script runs js with the element as arguments[0] and args after it.
func (e *Element) script(ctx context.Context, js string, args ...interface{}) (interface{}, error) {
	return call(ctx, e.session, func() (interface{}, error) {
		return e.session.wd.ExecuteScript(js, append([]interface{}{e.we}, args...))
	})
}

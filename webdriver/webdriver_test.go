package webdriver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tebeka/selenium"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/common"
)

type fakeService struct{ stops atomic.Int32 }

func (f *fakeService) Stop() error { f.stops.Add(1); return nil }

// fakeWebDriver implements the calls a Session makes. Anything else panics
// on the nil embedded interface.
type fakeWebDriver struct {
	selenium.WebDriver

	url      string
	title    string
	findErr  error
	findBy   string
	findVal  string
	element  *fakeElement
	scripts  map[string]interface{}
	quits    atomic.Int32
	blockGet chan struct{}
}

func (f *fakeWebDriver) Get(url string) error {
	if f.blockGet != nil {
		<-f.blockGet
	}
	f.url = url
	return nil
}

func (f *fakeWebDriver) FindElement(by, value string) (selenium.WebElement, error) {
	f.findBy, f.findVal = by, value
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.element, nil
}

func (f *fakeWebDriver) Title() (string, error) { return f.title, nil }
func (f *fakeWebDriver) CurrentURL() (string, error) { return f.url, nil }
func (f *fakeWebDriver) Screenshot() ([]byte, error) { return []byte("png"), nil }
func (f *fakeWebDriver) SetPageLoadTimeout(time.Duration) error { return nil }
func (f *fakeWebDriver) Quit() error { f.quits.Add(1); return nil }

func (f *fakeWebDriver) ExecuteScript(script string, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, errors.New("script called without the element")
	}
	return f.scripts[script], nil
}

type fakeElement struct {
	selenium.WebElement

	clicks  int
	keys    string
	display bool
}

func (e *fakeElement) Click() error { e.clicks++; return nil }
func (e *fakeElement) Text() (string, error) { return "alice/repo", nil }
func (e *fakeElement) IsDisplayed() (bool, error) { return e.display, nil }
func (e *fakeElement) SendKeys(keys string) error { e.keys += keys; return nil }

func newTestLauncher(t *testing.T, wd *fakeWebDriver, svc *fakeService) *Launcher {
	t.Helper()

	l := NewLauncher(Options{DriverPath: "/usr/bin/chromedriver", Port: 9515}, common.NewBrowserOptions(), nil)
	l.newService = func(path string, port int) (service, error) {
		assert.Equal(t, "/usr/bin/chromedriver", path)
		assert.Equal(t, 9515, port)
		return svc, nil
	}
	l.newRemote = func(caps selenium.Capabilities, url string) (selenium.WebDriver, error) {
		assert.Equal(t, "http://127.0.0.1:9515/wd/hub", url)
		assert.Equal(t, "chrome", caps["browserName"])
		return wd, nil
	}
	return l
}

func TestSession(t *testing.T) {
	t.Parallel()

	el := &fakeElement{display: true}
	wd := &fakeWebDriver{title: "alice/repo", element: el, scripts: map[string]interface{}{
		"return arguments[0].value;":                      "navcheck",
		"return arguments[0].getAttribute(arguments[1]);": "tab active",
	}}
	svc := &fakeService{}
	ctx := context.Background()

	s, err := newTestLauncher(t, wd, svc).Launch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Navigate(ctx, "https://github.com/alice"))
	u, err := s.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/alice", u)

	e, err := s.FindElement(ctx, api.CSS(".repo"))
	require.NoError(t, err)
	assert.Equal(t, selenium.ByCSSSelector, wd.findBy)
	assert.Equal(t, ".repo", wd.findVal)

	require.NoError(t, e.Click(ctx))
	assert.Equal(t, 1, el.clicks)
	require.NoError(t, e.SendKeys(ctx, "abc"))
	assert.Equal(t, "abc", el.keys)

	v, err := e.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "navcheck", v)

	class, ok, err := e.Attribute(ctx, "class")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tab active", class)

	visible, err := e.Visible(ctx)
	require.NoError(t, err)
	assert.True(t, visible)

	wd.scripts = nil
	_, ok, err = e.Attribute(ctx, "disabled")
	require.NoError(t, err)
	assert.False(t, ok)
	v, err = e.Value(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)

	title, err := s.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice/repo", title)

	require.NoError(t, s.Quit())
	require.NoError(t, s.Quit())
	assert.Equal(t, int32(1), wd.quits.Load())
	assert.Equal(t, int32(1), svc.stops.Load())
}

func TestFindElementNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"w3c_error", &selenium.Error{Err: "no such element", Message: "Unable to locate element"}, true},
		{"legacy_message", errors.New("no such element: Unable to locate element: {\"method\":\"css selector\"}"), true},
		{"other", &selenium.Error{Err: "invalid selector"}, false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			wd := &fakeWebDriver{findErr: tc.err}
			s, err := newTestLauncher(t, wd, &fakeService{}).Launch(context.Background())
			require.NoError(t, err)
			defer s.Quit() //nolint:errcheck

			_, err = s.FindElement(context.Background(), api.XPath("//a"))
			assert.Equal(t, selenium.ByXPATH, wd.findBy)
			assert.Equal(t, tc.notFound, errors.Is(err, api.ErrElementNotFound))
			assert.Error(t, err)
		})
	}
}

func TestTextSelectorUsesXPath(t *testing.T) {
	t.Parallel()

	b, v := by(api.Text("Repositories"))
	assert.Equal(t, selenium.ByXPATH, b)
	assert.Equal(t, api.Text("Repositories").XPathExpr(), v)
}

func TestNavigateCanceled(t *testing.T) {
	t.Parallel()

	wd := &fakeWebDriver{blockGet: make(chan struct{})}
	t.Cleanup(func() { close(wd.blockGet) })
	s, err := newTestLauncher(t, wd, &fakeService{}).Launch(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Navigate(ctx, "https://github.com/alice"), context.DeadlineExceeded)

	// Get is still pending; Quit must not queue behind it.
	quit := make(chan error, 1)
	go func() { quit <- s.Quit() }()
	select {
	case err := <-quit:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Quit waited for the pending navigation")
	}
	assert.Equal(t, int32(1), wd.quits.Load())
}

func TestLaunchCanceledQuitsLateSession(t *testing.T) {
	t.Parallel()

	wd := &fakeWebDriver{}
	svc := &fakeService{}
	release := make(chan struct{})
	l := newTestLauncher(t, wd, svc)
	l.newRemote = func(selenium.Capabilities, string) (selenium.WebDriver, error) {
		<-release
		return wd, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := l.Launch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "creating session")

	close(release)
	assert.Eventually(t, func() bool {
		return wd.quits.Load() == 1 && svc.stops.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLaunchErrors(t *testing.T) {
	t.Parallel()

	t.Run("no_driver_path", func(t *testing.T) {
		t.Parallel()

		_, err := NewLauncher(Options{}, common.NewBrowserOptions(), nil).Launch(context.Background())
		assert.ErrorIs(t, err, ErrDriverPath)
	})

	t.Run("remote_fails_stops_service", func(t *testing.T) {
		t.Parallel()

		svc := &fakeService{}
		l := newTestLauncher(t, nil, svc)
		l.newRemote = func(selenium.Capabilities, string) (selenium.WebDriver, error) {
			return nil, errors.New("session not created: This version of ChromeDriver only supports Chrome version 114")
		}

		_, err := l.Launch(context.Background())
		assert.ErrorContains(t, err, "session not created")
		assert.Equal(t, int32(1), svc.stops.Load())
	})
}

func TestChromeArgs(t *testing.T) {
	t.Parallel()

	opts := common.NewBrowserOptions()
	opts.Args = []string{"no-sandbox", "--proxy-server=http://proxy:3128"}
	opts.UserAgent = "navcheck"

	args := chromeArgs(opts)
	assert.Contains(t, args, "--headless=new")
	assert.Contains(t, args, "--window-size=1280,720")
	assert.Contains(t, args, "--no-sandbox")
	assert.Contains(t, args, "--proxy-server=http://proxy:3128")
	assert.Contains(t, args, "--user-agent=navcheck")
}

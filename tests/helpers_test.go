// Package tests runs checks against real browsers and a local copy of the
// pages they visit.
package tests

import (
	"embed"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/stretchr/testify/require"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/chromium"
	"github.com/davidnuzik/navcheck/common"
	"github.com/davidnuzik/navcheck/config"
	"github.com/davidnuzik/navcheck/log"
	"github.com/davidnuzik/navcheck/playwright"
	"github.com/davidnuzik/navcheck/webdriver"
)

//go:embed static
var staticFS embed.FS

// testSite serves the fixture pages under /static/ and go-httpbin for
// everything else.
type testSite struct {
	*httptest.Server

	mux *http.ServeMux
}

func newTestSite(t testing.TB) *testSite {
	t.Helper()

	static, err := fs.Sub(staticFS, "static")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	mux.Handle("/", httpbin.New().Handler())

	s := &testSite{Server: httptest.NewServer(mux), mux: mux}
	t.Cleanup(s.Close)

	return s
}

// withHandler registers h for a pattern the site does not serve yet.
func (s *testSite) withHandler(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
}

// staticURL returns the URL of a fixture page.
func (s *testSite) staticURL(path string) string {
	return s.URL + "/static/" + path
}

// url returns the URL of path on the site.
func (s *testSite) url(path string) string {
	return s.URL + path
}

// browserOptions returns the browser options from the NAVCHECK_* environment,
// skipping the test when no browser can be started.
func browserOptions(t testing.TB) *common.BrowserOptions {
	t.Helper()

	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	opts := cfg.Browser
	if opts.RemoteURL == "" {
		if _, err := chromium.NewBrowserType(&opts, nil).ExecutablePath(); err != nil {
			t.Skipf("skipping browser test: %v", err)
		}
	}
	// Chromium refuses to sandbox itself as root, which is common in CI.
	if os.Geteuid() == 0 {
		opts.Args = append(opts.Args, "no-sandbox")
	}

	return &opts
}

func testLogger(t testing.TB) *log.Logger {
	t.Helper()

	if os.Getenv("NAVCHECK_TEST_DEBUG") == "" {
		return log.NewNullLogger()
	}
	l, err := log.NewFromLevel(os.Stderr, "debug", "")
	require.NoError(t, err)
	return l
}

// newTestLauncher returns a chromedp launcher.
func newTestLauncher(t testing.TB) api.Launcher {
	t.Helper()

	return chromium.NewBrowserType(browserOptions(t), testLogger(t))
}

// testLaunchers returns every backend that can run here. chromedriver is
// used when NAVCHECK_DRIVER_PATH names it, Playwright when
// NAVCHECK_TEST_PLAYWRIGHT is set.
func testLaunchers(t testing.TB) []api.Launcher {
	t.Helper()

	opts := browserOptions(t)
	logger := testLogger(t)

	ls := []api.Launcher{chromium.NewBrowserType(opts, logger)}
	if p := os.Getenv("NAVCHECK_DRIVER_PATH"); p != "" {
		ls = append(ls, webdriver.NewLauncher(webdriver.Options{DriverPath: p}, opts, logger))
	}
	if os.Getenv("NAVCHECK_TEST_PLAYWRIGHT") != "" {
		ls = append(ls, playwright.NewLauncher(playwright.Options{Install: true}, opts, logger))
	}

	return ls
}

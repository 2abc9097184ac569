package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/check"
	"github.com/davidnuzik/navcheck/common"
	"github.com/davidnuzik/navcheck/otel"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "navcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DriverChromedp, cfg.Driver.Kind)
	assert.Empty(t, cfg.Driver.Path)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, common.Viewport{Width: common.DefaultScreenWidth, Height: common.DefaultScreenHeight}, cfg.Browser.Viewport)
	assert.Equal(t, common.DefaultTimeout, cfg.Browser.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.Equal(t, DefaultCheckURL, cfg.Check.URL)
	assert.Equal(t, DefaultCheckLocator, cfg.Check.Locator)
	assert.Equal(t, DefaultCheckExpect, cfg.Check.Expect)
	assert.Equal(t, check.DefaultSettle, cfg.Check.Settle)
	assert.Zero(t, cfg.Check.WaitTimeout)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
driver:
  kind: WebDriver
  path: /usr/local/bin/chromedriver
  port: 9515
browser:
  headless: false
  args: [no-sandbox, " ", "--mute-audio"]
  viewport: {width: 800, height: 600}
  timeout: 45s
log:
  level: debug
  categories: "^Runner"
artifacts:
  dir: /tmp/shots
  screenshot_on_failure: true
tracing:
  exporter: OTLP
  endpoint: collector:4318
  insecure: true
check:
  url: https://github.com/alice
  locator: //a[@class='repo']
  locator_strategy: xpath
  expect: alice
  settle: 500ms
  wait_timeout: 5s
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, Driver{Kind: DriverWebDriver, Path: "/usr/local/bin/chromedriver", Port: 9515}, cfg.Driver)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"no-sandbox", "--mute-audio"}, cfg.Browser.Args)
	assert.Equal(t, common.Viewport{Width: 800, Height: 600}, cfg.Browser.Viewport)
	assert.Equal(t, 45*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, Log{Level: "debug", Categories: "^Runner"}, cfg.Log)
	assert.Equal(t, Artifacts{Dir: "/tmp/shots", ScreenshotOnFailure: true}, cfg.Artifacts)
	assert.Equal(t, otel.Options{Exporter: otel.ExporterOTLP, Endpoint: "collector:4318", Insecure: true},
		cfg.Tracing.Options(nil))
	assert.Equal(t, 500*time.Millisecond, cfg.Check.Settle)
	assert.Equal(t, 5*time.Second, cfg.Check.WaitTimeout)

	sel, err := cfg.Check.Selector()
	require.NoError(t, err)
	assert.Equal(t, api.XPath("//a[@class='repo']"), sel)
}

func TestLoadLegacyDriverKey(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
driver:
  kind: webdriver
webdriver:
  chrome:
    driver: ./drivers/chromedriver
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "./drivers/chromedriver", cfg.Driver.Path)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("NAVCHECK_DRIVER_KIND", "playwright")
	t.Setenv("NAVCHECK_PLAYWRIGHT_INSTALL", "true")
	t.Setenv("NAVCHECK_CHECK_EXPECT", "alice")
	t.Setenv("NAVCHECK_BROWSER_TIMEOUT", "5s")
	t.Setenv("NAVCHECK_BROWSER_ARGS", "no-sandbox,mute-audio")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DriverPlaywright, cfg.Driver.Kind)
	assert.True(t, cfg.Playwright.Install)
	assert.Equal(t, "alice", cfg.Check.Expect)
	assert.Equal(t, 5*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, []string{"no-sandbox", "mute-audio"}, cfg.Browser.Args)
}

func TestLoadEnvDriverPath(t *testing.T) {
	t.Setenv("NAVCHECK_DRIVER_KIND", "webdriver")
	t.Setenv("WEBDRIVER_CHROME_DRIVER", "/opt/legacy/chromedriver")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/opt/legacy/chromedriver", cfg.Driver.Path)

	t.Setenv("NAVCHECK_DRIVER_PATH", "/opt/chromedriver")

	cfg, err = Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/opt/chromedriver", cfg.Driver.Path)
}

func TestLoadFlags(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
check:
  expect: from-file
  url: https://github.com/alice
`)

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("expect", "", "")
	flags.String("url", "", "")
	flags.Duration("settle", 0, "")
	flags.Bool("headless", true, "")
	require.NoError(t, flags.Parse([]string{"--expect=from-flag", "--settle=1s", "--headless=false"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.Check.Expect)
	assert.Equal(t, "https://github.com/alice", cfg.Check.URL, "unset flags must not shadow the file")
	assert.Equal(t, time.Second, cfg.Check.Settle)
	assert.False(t, cfg.Browser.Headless)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{"err/unknown_driver", "driver: {kind: firefox}", `unknown driver "firefox"`},
		{"err/webdriver_without_path", "driver: {kind: webdriver}", "driver.path is required"},
		{"err/port", "driver: {port: 70000}", "invalid driver.port"},
		{"err/viewport", "browser: {viewport: {width: 0}}", "invalid width"},
		{"err/remote_url", "browser: {remote_url: 'http://127.0.0.1:9222'}", "must be a ws:// or wss://"},
		{"err/exporter", "tracing: {exporter: jaeger}", "unsupported trace exporter"},
		{"err/otlp_without_endpoint", "tracing: {exporter: otlp}", "tracing.endpoint is required"},
		{"err/strategy", "check: {locator_strategy: id}", "unknown selector strategy"},
		{"err/negative_settle", "check: {settle: -1s}", "must not be negative"},
		{"err/duration", "check: {settle: soon}", "decoding configuration"},
		{"err/yaml", "check: [", "reading config file"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(writeConfig(t, tt.config), nil)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "reading config file")
}

func TestCheckNavigationCheck(t *testing.T) {
	t.Parallel()

	c := Check{
		URL:     DefaultCheckURL,
		Locator: DefaultCheckLocator,
		Expect:  DefaultCheckExpect,
		Settle:  check.DefaultSettle,
	}
	nc, err := c.NavigationCheck()
	require.NoError(t, err)
	require.NoError(t, nc.Validate())
	require.Len(t, nc.Steps, 4)
	assert.Equal(t, check.Sleep{Duration: check.DefaultSettle}, nc.Steps[1])

	c.WaitTimeout = 3 * time.Second
	nc, err = c.NavigationCheck()
	require.NoError(t, err)
	assert.Equal(t, "wait_for", nc.Steps[1].Name())

	c.LocatorStrategy = "id"
	_, err = c.NavigationCheck()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// Package config loads navcheck settings from defaults, an optional YAML
// file, NAVCHECK_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/check"
	"github.com/davidnuzik/navcheck/common"
	"github.com/davidnuzik/navcheck/otel"
)

// EnvPrefix prefixes every environment variable, NAVCHECK_DRIVER_PATH for
// driver.path.
const EnvPrefix = "NAVCHECK"

// Driver kinds.
const (
	DriverChromedp   = "chromedp"
	DriverWebDriver  = "webdriver"
	DriverPlaywright = "playwright"
)

// Defaults of the built in navigation check.
const (
	DefaultCheckURL     = "https://github.com/davidnuzik"
	DefaultCheckLocator = ".repo:nth-child(1)"
	DefaultCheckExpect  = "davidnuzik"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every navcheck setting.
type Config struct {
	Driver     Driver                `mapstructure:"driver"`
	Playwright Playwright            `mapstructure:"playwright"`
	Browser    common.BrowserOptions `mapstructure:"browser"`
	Log        Log                   `mapstructure:"log"`
	Tracing    Tracing               `mapstructure:"tracing"`
	Artifacts  Artifacts             `mapstructure:"artifacts"`
	Metrics    Metrics               `mapstructure:"metrics"`
	Check      Check                 `mapstructure:"check"`
}

// Driver selects the session backend.
type Driver struct {
	Kind string `mapstructure:"kind"`
	// Path is the chromedriver binary, used by the webdriver kind.
	Path string `mapstructure:"path"`
	Port int    `mapstructure:"port"`
}

type Playwright struct {
	// Install downloads the Playwright driver and Chromium before launching.
	Install bool `mapstructure:"install"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Categories string `mapstructure:"categories"`
}

type Tracing struct {
	Exporter string `mapstructure:"exporter"`
	// Endpoint is the OTLP/HTTP collector, host:port.
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// Options returns the exporter options, with stdout spans written to w.
func (t Tracing) Options(w io.Writer) otel.Options {
	return otel.Options{Exporter: t.Exporter, Endpoint: t.Endpoint, Insecure: t.Insecure, Out: w}
}

type Artifacts struct {
	Dir                 string `mapstructure:"dir"`
	ScreenshotOnFailure bool   `mapstructure:"screenshot_on_failure"`
}

type Metrics struct {
	// Textfile is where metrics are written after the run, if set.
	Textfile string `mapstructure:"textfile"`
}

// Check describes the built in navigation check, or the check file to run
// instead of it.
type Check struct {
	File            string        `mapstructure:"file"`
	URL             string        `mapstructure:"url"`
	Locator         string        `mapstructure:"locator"`
	LocatorStrategy string        `mapstructure:"locator_strategy"`
	Expect          string        `mapstructure:"expect"`
	Settle          time.Duration `mapstructure:"settle"`
	// WaitTimeout replaces the settle sleep with polling for the locator
	// when positive.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// Selector returns the configured locator.
func (c Check) Selector() (api.Selector, error) {
	st, err := api.ParseStrategy(c.LocatorStrategy)
	if err != nil {
		return api.Selector{}, err
	}
	return api.Selector{Strategy: st, Value: c.Locator}, nil
}

// NavigationCheck builds the configured navigation check.
func (c Check) NavigationCheck() (*check.Check, error) {
	sel, err := c.Selector()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	opts := []check.Option{check.WithSettle(c.Settle)}
	if c.WaitTimeout > 0 {
		opts = append(opts, check.WithWaitFor(c.WaitTimeout))
	}
	return check.NavigationCheck(c.URL, sel, c.Expect, opts...), nil
}

// legacyDriverKey is the chromedriver property Selenium users already know.
// It fills driver.path when that is unset.
const legacyDriverKey = "webdriver.chrome.driver"

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"driver":         "driver.kind",
	"driver-path":    "driver.path",
	"driver-port":    "driver.port",
	"install":        "playwright.install",
	"headless":       "browser.headless",
	"executable":     "browser.executable_path",
	"remote-url":     "browser.remote_url",
	"browser-arg":    "browser.args",
	"timeout":        "browser.timeout",
	"log-level":      "log.level",
	"log-categories": "log.categories",
	"trace":          "tracing.exporter",
	"trace-endpoint": "tracing.endpoint",
	"trace-insecure": "tracing.insecure",
	"artifacts":      "artifacts.dir",
	"screenshot":     "artifacts.screenshot_on_failure",
	"metrics":        "metrics.textfile",
	"file":           "check.file",
	"url":            "check.url",
	"locator":        "check.locator",
	"strategy":       "check.locator_strategy",
	"expect":         "check.expect",
	"settle":         "check.settle",
	"wait":           "check.wait_timeout",
}

// Load reads the configuration. path may be empty, flags may be nil.
// Flags only override the other sources when set on the command line.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(legacyDriverKey, "WEBDRIVER_CHROME_DRIVER"); err != nil {
		return nil, fmt.Errorf("binding WEBDRIVER_CHROME_DRIVER: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %q: %w", name, err)
			}
		}
	}

	if p := v.GetString(legacyDriverKey); p != "" && v.GetString("driver.path") == "" {
		v.Set("driver.path", p)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	normalize(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	b := common.NewBrowserOptions()

	v.SetDefault("driver.kind", DriverChromedp)
	v.SetDefault("driver.path", "")
	v.SetDefault("driver.port", 0)
	v.SetDefault("playwright.install", false)

	v.SetDefault("browser.headless", b.Headless)
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport.width", b.Viewport.Width)
	v.SetDefault("browser.viewport.height", b.Viewport.Height)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.locale", "")
	v.SetDefault("browser.timeout", b.Timeout)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.categories", "")
	v.SetDefault("tracing.exporter", otel.ExporterNone)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("artifacts.screenshot_on_failure", false)
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("check.file", "")
	v.SetDefault("check.url", DefaultCheckURL)
	v.SetDefault("check.locator", DefaultCheckLocator)
	v.SetDefault("check.locator_strategy", string(api.StrategyCSS))
	v.SetDefault("check.expect", DefaultCheckExpect)
	v.SetDefault("check.settle", check.DefaultSettle)
	v.SetDefault("check.wait_timeout", time.Duration(0))
}

func normalize(cfg *Config) {
	cfg.Driver.Kind = strings.ToLower(strings.TrimSpace(cfg.Driver.Kind))
	cfg.Tracing.Exporter = strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter))

	args := cfg.Browser.Args[:0]
	for _, a := range cfg.Browser.Args {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}
	cfg.Browser.Args = args
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Driver.Kind {
	case DriverChromedp, DriverPlaywright:
	case DriverWebDriver:
		if c.Driver.Path == "" {
			return fmt.Errorf("%w: driver.path is required by the %s driver", ErrInvalidConfig, DriverWebDriver)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q, want one of %s, %s or %s",
			ErrInvalidConfig, c.Driver.Kind, DriverChromedp, DriverWebDriver, DriverPlaywright)
	}
	if c.Driver.Port < 0 || c.Driver.Port > 65535 {
		return fmt.Errorf("%w: invalid driver.port %d", ErrInvalidConfig, c.Driver.Port)
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.Tracing.Exporter {
	case "", otel.ExporterNone, otel.ExporterStdout:
	case otel.ExporterOTLP:
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("%w: tracing.endpoint is required by the %s exporter", ErrInvalidConfig, otel.ExporterOTLP)
		}
	default:
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, otel.ErrUnsupportedExporter, c.Tracing.Exporter)
	}
	if c.Check.Settle < 0 || c.Check.WaitTimeout < 0 {
		return fmt.Errorf("%w: check.settle and check.wait_timeout must not be negative", ErrInvalidConfig)
	}
	if _, err := api.ParseStrategy(c.Check.LocatorStrategy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

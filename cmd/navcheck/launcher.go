package main

import (
	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/chromium"
	"github.com/davidnuzik/navcheck/config"
	"github.com/davidnuzik/navcheck/log"
	"github.com/davidnuzik/navcheck/playwright"
	"github.com/davidnuzik/navcheck/webdriver"
)

// newLauncher returns the session backend named by cfg.Driver.Kind.
func newLauncher(cfg *config.Config, logger *log.Logger) api.Launcher {
	switch cfg.Driver.Kind {
	case config.DriverWebDriver:
		return webdriver.NewLauncher(webdriver.Options{
			DriverPath: cfg.Driver.Path,
			Port:       cfg.Driver.Port,
		}, &cfg.Browser, logger)
	case config.DriverPlaywright:
		return playwright.NewLauncher(playwright.Options{
			Install: cfg.Playwright.Install,
		}, &cfg.Browser, logger)
	default:
		return chromium.NewBrowserType(&cfg.Browser, logger)
	}
}

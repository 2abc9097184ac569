// Package check runs scripted browser checks against a session obtained
// from an api.Launcher.
package check

import (
	"strings"
	"time"

	"github.com/davidnuzik/navcheck/api"
)

// DefaultName is the name given to navigation checks built without WithName.
const DefaultName = "navigation"

// Check is a named, ordered list of steps run against one browser session.
type Check struct {
	Name  string
	Steps []Step
}

// Validate reports whether c can be run. It never touches a browser.
func (c *Check) Validate() error {
	if c == nil {
		return invalidf("nil check")
	}
	if strings.TrimSpace(c.Name) == "" {
		return invalidf("empty check name")
	}
	if len(c.Steps) == 0 {
		return invalidf("check %q has no steps", c.Name)
	}
	for i, s := range c.Steps {
		if s == nil {
			return invalidf("check %q: step %d is nil", c.Name, i+1)
		}
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type navigationOptions struct {
	name        string
	settle      time.Duration
	waitFor     bool
	waitTimeout time.Duration
}

// Option configures NavigationCheck.
type Option func(*navigationOptions)

// WithName names the check.
func WithName(name string) Option {
	return func(o *navigationOptions) { o.name = name }
}

// WithSettle changes the fixed pause between navigation and lookup.
func WithSettle(d time.Duration) Option {
	return func(o *navigationOptions) { o.settle = d }
}

// WithWaitFor replaces the fixed pause with polling for the locator,
// giving up after timeout.
func WithWaitFor(timeout time.Duration) Option {
	return func(o *navigationOptions) {
		o.waitFor = true
		o.waitTimeout = timeout
	}
}

// NavigationCheck builds the canonical check: load url, let the page
// settle, click the first element matching locator and assert that the
// resulting title contains expected.
func NavigationCheck(url string, locator api.Selector, expected string, opts ...Option) *Check {
	o := navigationOptions{
		name:   DefaultName,
		settle: DefaultSettle,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var settle Step = Sleep{Duration: o.settle}
	if o.waitFor {
		settle = WaitFor{Selector: locator, Timeout: o.waitTimeout}
	}

	return &Check{
		Name: o.name,
		Steps: []Step{
			Navigate{URL: url},
			settle,
			Click{Selector: locator},
			AssertTitleContains{Substring: expected},
		},
	}
}

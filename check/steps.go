package check

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/davidnuzik/navcheck/api"
)

const (
	// DefaultSettle is the fixed pause after navigation that lets client
	// side rendering finish.
	DefaultSettle = 2000 * time.Millisecond

	DefaultWaitTimeout  = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Step is one action or assertion of a check.
type Step interface {
	// Name is the step kind, as used in check files, logs and metrics.
	Name() string
	String() string
	Validate() error
	Do(ctx context.Context, s api.Session) error
}

// Navigate loads a URL.
type Navigate struct {
	URL string
}

func (Navigate) Name() string     { return "navigate" }
func (n Navigate) String() string { return "navigate to " + n.URL }

func (n Navigate) Validate() error {
	if strings.TrimSpace(n.URL) == "" {
		return invalidf("navigate: empty URL")
	}
	u, err := url.Parse(n.URL)
	if err != nil {
		return invalidf("navigate: %v", err)
	}
	if !u.IsAbs() {
		return invalidf("navigate: URL %q is not absolute", n.URL)
	}
	return nil
}

func (n Navigate) Do(ctx context.Context, s api.Session) error {
	if err := s.Navigate(ctx, n.URL); err != nil {
		return fmt.Errorf("navigating to %q: %w", n.URL, err)
	}
	return nil
}

// Sleep pauses for a fixed duration.
type Sleep struct {
	Duration time.Duration
}

func (Sleep) Name() string     { return "sleep" }
func (s Sleep) String() string { return "sleep " + s.Duration.String() }

func (s Sleep) Validate() error {
	if s.Duration < 0 {
		return invalidf("sleep: negative duration %s", s.Duration)
	}
	return nil
}

func (s Sleep) Do(ctx context.Context, _ api.Session) error {
	t := time.NewTimer(s.Duration)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitFor polls until Selector matches an element or Timeout expires.
type WaitFor struct {
	Selector api.Selector
	Timeout  time.Duration
	Interval time.Duration
}

func (WaitFor) Name() string     { return "wait_for" }
func (w WaitFor) String() string { return "wait for " + w.Selector.String() }

func (w WaitFor) Validate() error {
	if err := w.Selector.Validate(); err != nil {
		return invalidf("wait_for: %v", err)
	}
	if w.Timeout < 0 || w.Interval < 0 {
		return invalidf("wait_for: negative timeout or interval")
	}
	return nil
}

func (w WaitFor) Do(ctx context.Context, s api.Session) error {
	timeout, interval := w.Timeout, w.Interval
	if timeout == 0 {
		timeout = DefaultWaitTimeout
	}
	if interval == 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)

	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C

	for {
		_, err := s.FindElement(ctx, w.Selector)
		if err == nil {
			return nil
		}
		if !errors.Is(err, api.ErrElementNotFound) {
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w after %s waiting for %s", ErrTimeout, timeout, w.Selector)
		}
		if remaining > interval {
			remaining = interval
		}
		t.Reset(remaining)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Click clicks the first element matching Selector.
type Click struct {
	Selector api.Selector
}

func (Click) Name() string     { return "click" }
func (c Click) String() string { return "click " + c.Selector.String() }

func (c Click) Validate() error {
	if err := c.Selector.Validate(); err != nil {
		return invalidf("click: %v", err)
	}
	return nil
}

func (c Click) Do(ctx context.Context, s api.Session) error {
	el, err := s.FindElement(ctx, c.Selector)
	if err != nil {
		return err
	}
	if err := el.Click(ctx); err != nil {
		return fmt.Errorf("clicking %s: %w", c.Selector, err)
	}
	return nil
}

// Type sends keystrokes to the first element matching Selector.
type Type struct {
	Selector api.Selector
	Text     string
}

func (Type) Name() string     { return "type" }
func (t Type) String() string { return fmt.Sprintf("type %q into %s", t.Text, t.Selector) }

func (t Type) Validate() error {
	if err := t.Selector.Validate(); err != nil {
		return invalidf("type: %v", err)
	}
	return nil
}

func (t Type) Do(ctx context.Context, s api.Session) error {
	el, err := s.FindElement(ctx, t.Selector)
	if err != nil {
		return err
	}
	if err := el.SendKeys(ctx, t.Text); err != nil {
		return fmt.Errorf("typing into %s: %w", t.Selector, err)
	}
	return nil
}

// AssertTitleContains asserts that the document title contains Substring.
// The comparison is case sensitive.
type AssertTitleContains struct {
	Substring string
}

func (AssertTitleContains) Name() string     { return "assert_title_contains" }
func (a AssertTitleContains) String() string { return fmt.Sprintf("assert title contains %q", a.Substring) }

func (a AssertTitleContains) Validate() error {
	if a.Substring == "" {
		return invalidf("assert_title_contains: empty substring")
	}
	return nil
}

func (a AssertTitleContains) Do(ctx context.Context, s api.Session) error {
	title, err := s.Title(ctx)
	if err != nil {
		return fmt.Errorf("reading title: %w", err)
	}
	if !strings.Contains(title, a.Substring) {
		return &AssertionError{
			Step:     a.Name(),
			Message:  "title does not contain substring",
			Expected: a.Substring,
			Actual:   title,
		}
	}
	return nil
}

// AssertURLContains asserts that the current URL contains Substring.
type AssertURLContains struct {
	Substring string
}

func (AssertURLContains) Name() string     { return "assert_url_contains" }
func (a AssertURLContains) String() string { return fmt.Sprintf("assert URL contains %q", a.Substring) }

func (a AssertURLContains) Validate() error {
	if a.Substring == "" {
		return invalidf("assert_url_contains: empty substring")
	}
	return nil
}

func (a AssertURLContains) Do(ctx context.Context, s api.Session) error {
	u, err := s.URL(ctx)
	if err != nil {
		return fmt.Errorf("reading URL: %w", err)
	}
	if !strings.Contains(u, a.Substring) {
		return &AssertionError{
			Step:     a.Name(),
			Message:  "URL does not contain substring",
			Expected: a.Substring,
			Actual:   u,
		}
	}
	return nil
}

// AssertValue asserts the value of a form control.
type AssertValue struct {
	Selector api.Selector
	Value    string
}

func (AssertValue) Name() string { return "assert_value" }
func (a AssertValue) String() string {
	return fmt.Sprintf("assert %s has value %q", a.Selector, a.Value)
}

func (a AssertValue) Validate() error {
	if err := a.Selector.Validate(); err != nil {
		return invalidf("assert_value: %v", err)
	}
	return nil
}

func (a AssertValue) Do(ctx context.Context, s api.Session) error {
	el, err := s.FindElement(ctx, a.Selector)
	if err != nil {
		return err
	}
	v, err := el.Value(ctx)
	if err != nil {
		return fmt.Errorf("reading value of %s: %w", a.Selector, err)
	}
	if v != a.Value {
		return &AssertionError{
			Step:     a.Name(),
			Message:  fmt.Sprintf("unexpected value of %s", a.Selector),
			Expected: a.Value,
			Actual:   v,
		}
	}
	return nil
}

// AssertAttribute asserts that an attribute is present, optionally with a
// given value. Negate inverts the assertion.
type AssertAttribute struct {
	Selector api.Selector
	Attr     string
	Value    string
	Negate   bool
}

func (AssertAttribute) Name() string { return "assert_attribute" }

func (a AssertAttribute) String() string {
	verb := "has"
	if a.Negate {
		verb = "does not have"
	}
	if a.Value == "" {
		return fmt.Sprintf("assert %s %s attribute %s", a.Selector, verb, a.Attr)
	}
	return fmt.Sprintf("assert %s %s attribute %s=%q", a.Selector, verb, a.Attr, a.Value)
}

func (a AssertAttribute) Validate() error {
	if err := a.Selector.Validate(); err != nil {
		return invalidf("assert_attribute: %v", err)
	}
	if a.Attr == "" {
		return invalidf("assert_attribute: empty attribute name")
	}
	return nil
}

func (a AssertAttribute) Do(ctx context.Context, s api.Session) error {
	el, err := s.FindElement(ctx, a.Selector)
	if err != nil {
		return err
	}
	v, ok, err := el.Attribute(ctx, a.Attr)
	if err != nil {
		return fmt.Errorf("reading attribute %s of %s: %w", a.Attr, a.Selector, err)
	}

	matches := ok && (a.Value == "" || v == a.Value)
	if matches == !a.Negate {
		return nil
	}

	actual := v
	if !ok {
		actual = "<absent>"
	}
	expected := a.Value
	if expected == "" {
		expected = "<present>"
	}
	if a.Negate {
		expected = "not " + expected
	}
	return &AssertionError{
		Step:     a.Name(),
		Message:  fmt.Sprintf("unexpected attribute %s of %s", a.Attr, a.Selector),
		Expected: expected,
		Actual:   actual,
	}
}

// AssertHasClass asserts that the element carries a CSS class.
type AssertHasClass struct {
	Selector api.Selector
	Class    string
}

func (AssertHasClass) Name() string { return "assert_has_class" }
func (a AssertHasClass) String() string {
	return fmt.Sprintf("assert %s has class %q", a.Selector, a.Class)
}

func (a AssertHasClass) Validate() error {
	if err := a.Selector.Validate(); err != nil {
		return invalidf("assert_has_class: %v", err)
	}
	if strings.TrimSpace(a.Class) == "" {
		return invalidf("assert_has_class: empty class")
	}
	return nil
}

func (a AssertHasClass) Do(ctx context.Context, s api.Session) error {
	el, err := s.FindElement(ctx, a.Selector)
	if err != nil {
		return err
	}
	classes, _, err := el.Attribute(ctx, "class")
	if err != nil {
		return fmt.Errorf("reading class of %s: %w", a.Selector, err)
	}
	for _, c := range strings.Fields(classes) {
		if c == a.Class {
			return nil
		}
	}
	return &AssertionError{
		Step:     a.Name(),
		Message:  fmt.Sprintf("missing class on %s", a.Selector),
		Expected: a.Class,
		Actual:   classes,
	}
}

// AssertVisible asserts that the element is rendered, or with Hidden that
// it is present but not rendered. A missing element fails either way.
type AssertVisible struct {
	Selector api.Selector
	Hidden   bool
}

func (AssertVisible) Name() string { return "assert_visible" }

func (a AssertVisible) String() string {
	if a.Hidden {
		return fmt.Sprintf("assert %s is hidden", a.Selector)
	}
	return fmt.Sprintf("assert %s is visible", a.Selector)
}

func (a AssertVisible) Validate() error {
	if err := a.Selector.Validate(); err != nil {
		return invalidf("assert_visible: %v", err)
	}
	return nil
}

func (a AssertVisible) Do(ctx context.Context, s api.Session) error {
	el, err := s.FindElement(ctx, a.Selector)
	if err != nil {
		return err
	}
	visible, err := el.Visible(ctx)
	if err != nil {
		return fmt.Errorf("reading visibility of %s: %w", a.Selector, err)
	}
	if visible != a.Hidden {
		return nil
	}

	state := map[bool]string{true: "visible", false: "hidden"}
	return &AssertionError{
		Step:     a.Name(),
		Message:  fmt.Sprintf("unexpected visibility of %s", a.Selector),
		Expected: state[!a.Hidden],
		Actual:   state[visible],
	}
}

// Package api declares the contracts between a check and the browser
// backend that executes it.
package api

import (
	"context"
	"errors"
	"fmt"
)

//go:generate mockgen -source=session.go -destination=mocks/mock_session.go -package=mocks

// ErrElementNotFound is returned by Session.FindElement when the selector
// matches nothing on the current page.
var ErrElementNotFound = errors.New("element not found")

// Session is an open browser page owned by a single check run.
type Session interface {
	// Navigate loads url in the page. It returns once the backend reports the
	// navigation, which does not mean client side rendering is done.
	Navigate(ctx context.Context, url string) error
	// FindElement performs one lookup without waiting and returns the first
	// matching element.
	FindElement(ctx context.Context, sel Selector) (Element, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Quit releases the browser. Calls after the first one return nil.
	Quit() error
}

// Element is a DOM element found in a Session.
type Element interface {
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Value(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	SendKeys(ctx context.Context, text string) error
	// Visible reports whether the element is rendered with a non-empty box
	// and is not styled visibility:hidden.
	Visible(ctx context.Context) (bool, error)
}

// NewElementNotFoundError wraps ErrElementNotFound with the selector that
// was looked up.
func NewElementNotFoundError(sel Selector) error {
	return fmt.Errorf("%w: %s", ErrElementNotFound, sel)
}

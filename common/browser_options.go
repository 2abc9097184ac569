/*
 *
 * navcheck - a browser navigation check for Chromium
 * Copyright (C) 2023 navcheck authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultScreenWidth  = 1280
	DefaultScreenHeight = 720
	DefaultTimeout      = 30 * time.Second
)

// BrowserOptions are the browser settings shared by every backend.
type BrowserOptions struct {
	Headless       bool          `mapstructure:"headless"`
	ExecutablePath string        `mapstructure:"executable_path"`
	RemoteURL      string        `mapstructure:"remote_url"`
	Args           []string      `mapstructure:"args"`
	Viewport       Viewport      `mapstructure:"viewport"`
	UserAgent      string        `mapstructure:"user_agent"`
	Locale         string        `mapstructure:"locale"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Viewport is the size of the page area in CSS pixels.
type Viewport struct {
	Width  int64 `mapstructure:"width"`
	Height int64 `mapstructure:"height"`
}

// NewBrowserOptions creates a default set of browser options.
func NewBrowserOptions() *BrowserOptions {
	return &BrowserOptions{
		Headless: true,
		Viewport: Viewport{Width: DefaultScreenWidth, Height: DefaultScreenHeight},
		Timeout:  DefaultTimeout,
	}
}

// Validate validates the browser options.
func (b *BrowserOptions) Validate() error {
	if b == nil {
		return errors.New("missing browser options")
	}
	if err := b.Viewport.Validate(); err != nil {
		return fmt.Errorf("validating viewport option: %w", err)
	}
	if b.Timeout < 0 {
		return fmt.Errorf(`invalid timeout "%s": precondition 0 <= TIMEOUT failed`, b.Timeout)
	}
	if b.RemoteURL != "" {
		u, err := url.Parse(b.RemoteURL)
		if err != nil {
			return fmt.Errorf("parsing remote URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("invalid remote URL %q: must be a ws:// or wss:// DevTools endpoint", b.RemoteURL)
		}
	}

	return nil
}

// ChromeArgs returns Args as Chromium command line switches. A bare name
// gets the "--" prefix. Single dash entries only remove default switches of
// the chromedp launcher and are left out.
func (b *BrowserOptions) ChromeArgs() []string {
	args := make([]string, 0, len(b.Args))
	for _, a := range b.Args {
		switch a = strings.TrimSpace(a); {
		case a == "":
		case strings.HasPrefix(a, "--"):
			args = append(args, a)
		case strings.HasPrefix(a, "-"):
		default:
			args = append(args, "--"+a)
		}
	}
	return args
}

// Validate validates the viewport.
func (v Viewport) Validate() error {
	if v.Width <= 0 {
		return fmt.Errorf(`invalid width "%d": precondition 0 < WIDTH failed`, v.Width)
	}
	if v.Height <= 0 {
		return fmt.Errorf(`invalid height "%d": precondition 0 < HEIGHT failed`, v.Height)
	}

	return nil
}

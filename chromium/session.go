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

package chromium

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/log"
)

const closeTimeout = 10 * time.Second

// visibleJS is called with the element as this.
const visibleJS = `function() {
	if (getComputedStyle(this).visibility === 'hidden') {
		return false;
	}
	return Boolean(this.offsetWidth || this.offsetHeight || this.getClientRects().length);
}`

// Session is a chromedp tab. Every call runs under both the caller's
// context and the tab's.
type Session struct {
	proc        *BrowserProcess
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	// timeout bounds every single call, 0 means none.
	timeout time.Duration
	logger  *log.Logger

	quitOnce sync.Once
	quitErr  error
}

var _ api.Session = &Session{}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rctx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if s.timeout > 0 {
		var tcancel context.CancelFunc
		rctx, tcancel = context.WithTimeout(rctx, s.timeout)
		defer tcancel()
	}

	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debugf("Session:Navigate", "url:%q", url)
	return s.run(ctx, chromedp.Navigate(url))
}

// FindElement looks sel up once, without waiting for it to appear.
func (s *Session) FindElement(ctx context.Context, sel api.Selector) (api.Element, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	query, by := sel.Value, chromedp.ByQuery
	if sel.Strategy == api.StrategyXPath || sel.Strategy == api.StrategyText {
		query, by = sel.XPathExpr(), chromedp.BySearch
	}

	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(query, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("looking up %s: %w", sel, err)
	}
	if len(nodes) == 0 {
		return nil, api.NewElementNotFoundError(sel)
	}

	return &Element{session: s, node: nodes[0], sel: sel}, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, chromedp.Title(&title))
	return title, err
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Location(&u))
	return u, err
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// Quit closes the tab and, for a local browser, the browser itself.
// Calls after the first one return the first result.
func (s *Session) Quit() error {
	s.quitOnce.Do(func() {
		s.quitErr = s.quit()
	})
	return s.quitErr
}

func (s *Session) quit() error {
	defer s.allocCancel()

	if s.proc.Remote() {
		// Only our tab belongs to us.
		err := chromedp.Cancel(s.tabCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	s.proc.GracefulClose()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if c := chromedp.FromContext(s.tabCtx); c != nil && c.Browser != nil {
		if err := cdpbrowser.Close().Do(cdp.WithExecutor(ctx, c.Browser)); err != nil {
			s.logger.Debugf("Session:Quit", "Browser.close: %v", err)
		}
	}
	s.tabCancel()

	select {
	case <-s.proc.Done():
		return nil
	case <-ctx.Done():
		s.proc.Terminate()
		<-s.proc.Done()
		return fmt.Errorf("browser pid %d did not exit within %s and was killed", s.proc.Pid(), closeTimeout)
	}
}

func currentUserAgent(ctx context.Context) (string, error) {
	_, _, _, ua, _, err := cdpbrowser.GetVersion().Do(ctx)
	if err != nil {
		return "", fmt.Errorf("reading user agent: %w", err)
	}
	return ua, nil
}

// Element is a DOM node of a Session, addressed by its node ID.
type Element struct {
	session *Session
	node    *cdp.Node
	sel     api.Selector
}

var _ api.Element = &Element{}

func (e *Element) ids() []cdp.NodeID { return []cdp.NodeID{e.node.NodeID} }

func (e *Element) Click(ctx context.Context) error {
	return e.session.run(ctx, chromedp.MouseClickNode(e.node))
}

func (e *Element) Text(ctx context.Context) (string, error) {
	var text string
	err := e.session.run(ctx, chromedp.Text(e.ids(), &text, chromedp.ByNodeID))
	return text, err
}

func (e *Element) Value(ctx context.Context) (string, error) {
	var v string
	err := e.session.run(ctx, chromedp.Value(e.ids(), &v, chromedp.ByNodeID))
	return v, err
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := e.session.run(ctx, chromedp.AttributeValue(e.ids(), name, &v, &ok, chromedp.ByNodeID))
	return v, ok, err
}

func (e *Element) SendKeys(ctx context.Context, text string) error {
	return e.session.run(ctx, chromedp.SendKeys(e.ids(), text, chromedp.ByNodeID))
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	var visible bool
	err := e.session.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", e.sel, err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		res, exc, err := runtime.CallFunctionOn(visibleJS).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		visible = string(res.Value) == "true"
		return nil
	}))
	return visible, err
}

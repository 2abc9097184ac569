package domains

import (
	"context"

	cdpb "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
)

// Version is the reply of Browser.getVersion.
type Version struct {
	ProtocolVersion string `json:"protocolVersion"`
	Product         string `json:"product"`
	Revision        string `json:"revision"`
	UserAgent       string `json:"userAgent"`
	JSVersion       string `json:"jsVersion"`
}

type Browser interface {
	Close(ctx context.Context) error
	GetVersion(ctx context.Context) (*Version, error)
}

var _ Browser = &browser{}

type browser struct {
	exec cdp.Executor
}

// NewBrowser returns a new CDP Browser domain wrapper.
func NewBrowser(exec cdp.Executor) Browser {
	return &browser{exec}
}

func (b *browser) Close(ctx context.Context) error {
	action := cdpb.Close()
	return action.Do(cdp.WithExecutor(ctx, b.exec))
}

func (b *browser) GetVersion(ctx context.Context) (*Version, error) {
	action := cdpb.GetVersion()
	protocol, product, revision, ua, js, err := action.Do(cdp.WithExecutor(ctx, b.exec))
	if err != nil {
		return nil, err
	}

	return &Version{
		ProtocolVersion: protocol,
		Product:         product,
		Revision:        revision,
		UserAgent:       ua,
		JSVersion:       js,
	}, nil
}

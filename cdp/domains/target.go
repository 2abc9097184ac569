package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpt "github.com/chromedp/cdproto/target"
)

type Target interface {
	GetTargets(ctx context.Context) ([]*cdpt.Info, error)
	CreateTarget(ctx context.Context, url string) (id string, err error)
	CloseTarget(ctx context.Context, id string) error
}

var _ Target = &target{}

type target struct {
	exec cdp.Executor
}

// NewTarget returns a new CDP Target domain wrapper.
func NewTarget(exec cdp.Executor) Target {
	return &target{exec}
}

func (t *target) GetTargets(ctx context.Context) ([]*cdpt.Info, error) {
	infos, err := cdpt.GetTargets().Do(cdp.WithExecutor(ctx, t.exec))
	if err != nil {
		return nil, fmt.Errorf("executing getTargets: %w", err)
	}

	return infos, nil
}

func (t *target) CreateTarget(ctx context.Context, url string) (string, error) {
	id, err := cdpt.CreateTarget(url).Do(cdp.WithExecutor(ctx, t.exec))
	if err != nil {
		return "", fmt.Errorf("executing createTarget: %w", err)
	}

	return string(id), nil
}

func (t *target) CloseTarget(ctx context.Context, id string) error {
	if err := cdpt.CloseTarget(cdpt.ID(id)).Do(cdp.WithExecutor(ctx, t.exec)); err != nil {
		return fmt.Errorf("executing closeTarget: %w", err)
	}

	return nil
}

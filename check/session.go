package check

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidnuzik/navcheck/api"
)

// WithSession launches a session, hands it to fn and releases it when fn
// returns, fails or panics. A launch failure is returned as a
// *SessionStartError and fn is not called.
//
// If fn succeeds but the release fails, the release error is returned.
// Otherwise fn's error wins.
func WithSession(ctx context.Context, l api.Launcher, fn func(context.Context, api.Session) error) (err error) {
	s, err := l.Launch(ctx)
	if err != nil {
		return &SessionStartError{Launcher: l.Name(), Err: err}
	}
	if s == nil {
		return &SessionStartError{Launcher: l.Name(), Err: errors.New("launcher returned no session")}
	}

	defer func() {
		if qerr := s.Quit(); qerr != nil && err == nil {
			err = fmt.Errorf("releasing %s session: %w", l.Name(), qerr)
		}
	}()

	return fn(ctx, s)
}

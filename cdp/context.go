package cdp

import "context"

type sessionIDKey struct{}

// WithSessionID makes Execute address the target attached under sessionID
// instead of the browser.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// sessionID returns the session set by WithSessionID, "" for the browser.
func sessionID(ctx context.Context) string {
	sid, _ := ctx.Value(sessionIDKey{}).(string)
	return sid
}

package browserprocess

import "context"

type runIDKey struct{}

// WithRunID tags ctx with the identifier of the current navcheck run.
// Processes registered under a context carrying it are grouped under that run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// GetRunID returns the run identifier stored by WithRunID, or "".
func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

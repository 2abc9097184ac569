package api

import "context"

//go:generate mockgen -source=launcher.go -destination=mocks/mock_launcher.go -package=mocks

// Launcher starts browser sessions for a backend.
type Launcher interface {
	Name() string
	Launch(ctx context.Context) (Session, error)
}

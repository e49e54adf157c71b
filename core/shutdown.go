package core

import (
	"context"
)

// ShutdownFunc is a cleanup step run during graceful shutdown. The
// context carries the remaining shutdown budget; a step should return
// promptly once it is done and report what it could not release.
//
// Example:
//
//	var stopHTTP ShutdownFunc = server.Shutdown
type ShutdownFunc func(ctx context.Context) error

// Package clog carries log attributes through a context.
package clog

import (
	"context"

	slogctx "github.com/veqryn/slog-context"
)

// AddAttrs returns a context whose log records include attrs. The installed handler must be
// wrapped with slogctx.NewHandler for the attributes to show up.
func AddAttrs(ctx context.Context, attrs ...any) context.Context {
	return slogctx.Append(ctx, attrs...)
}

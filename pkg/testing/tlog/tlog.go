package tlog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	slogctx "github.com/veqryn/slog-context"

	"github.com/walteh/uefi-extract/pkg/logging"
	"github.com/walteh/uefi-extract/pkg/testing/tctx"
)

// SetupSlogForTestWithContext installs debug logging for t unless ctx was already set up by a
// parent test, and redacts temp dir prefixes in log values.
func SetupSlogForTestWithContext(t testing.TB, ctx context.Context) context.Context {
	var simpctx context.Context

	if _, ok := tctx.FromContext(ctx); ok {
		simpctx = ctx
	} else {
		simpctx = logging.SetupSlog(ctx, logging.Options{
			Writer:    os.Stdout,
			Format:    logging.FormatText,
			Level:     slog.LevelDebug,
			Color:     true,
			AddSource: true,
		})
		simpctx = tctx.WithContext(simpctx, t)
	}

	t.Cleanup(logging.RegisterRedactedLogValue(simpctx, os.TempDir()+"/", "[os-tmp-dir]"))
	t.Cleanup(logging.RegisterRedactedLogValue(simpctx, filepath.Dir(t.TempDir()), "[test-tmp-dir]")) // higher priority than os-tmp-dir

	return slogctx.Append(simpctx, "test", t.Name())
}

func SetupSlogForTest(t testing.TB) context.Context {
	return SetupSlogForTestWithContext(t, t.Context())
}

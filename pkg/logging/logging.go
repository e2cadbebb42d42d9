package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/logging/logrusshim"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON:
		return f, nil
	}
	return "", errors.Errorf("unknown log format %q (want %q or %q)", s, FormatText, FormatJSON)
}

type Options struct {
	Writer io.Writer
	Format Format
	Level  slog.Level
	Color  bool
	// AddSource annotates records with the calling file and line
	AddSource bool
}

// SetupSlog installs the default logger and returns ctx carrying it.
func SetupSlog(ctx context.Context, opts Options) context.Context {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	replace := func(groups []string, a slog.Attr) slog.Attr {
		a = formatErrorStacks(groups, a)
		return Redact(groups, a)
	}

	var handler slog.Handler
	switch opts.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       opts.Level,
			AddSource:   opts.AddSource,
			ReplaceAttr: replace,
		})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:       opts.Level,
			TimeFormat:  "15:04:05.0000",
			AddSource:   opts.AddSource,
			NoColor:     !opts.Color,
			ReplaceAttr: replace,
		})
	}

	ctxHandler := slogctx.NewHandler(handler, nil)

	mylogger := slog.New(ctxHandler)
	slog.SetDefault(mylogger)

	logrusshim.ForwardLogrusToSlogGlobally()

	return slogctx.NewCtx(ctx, mylogger)
}

type RedactedKey struct {
	Key   string
	Value string
}

// use array to preserve order
var redactedLogValues = make([]RedactedKey, 0)
var redactedLogValuesMutex = &sync.Mutex{}

// Redact rewrites every registered key found in a string value. Later registrations win.
func Redact(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	redactedLogValuesMutex.Lock()
	reversed := slices.Clone(redactedLogValues)
	redactedLogValuesMutex.Unlock()
	slices.Reverse(reversed)
	for _, value := range reversed {
		if strings.Contains(a.Value.String(), value.Key) {
			a = slog.Attr{Key: a.Key, Value: slog.StringValue(strings.ReplaceAll(a.Value.String(), value.Key, value.Value))}
		}
	}
	return a
}

// RegisterRedactedLogValue makes Redact replace key with value. The returned func undoes it.
func RegisterRedactedLogValue(ctx context.Context, key string, value string) func() {
	slog.DebugContext(ctx, "registering redacted log value", "key", key, "value", value)

	redactedLogValuesMutex.Lock()
	defer redactedLogValuesMutex.Unlock()
	redactedLogValues = append(redactedLogValues, RedactedKey{Key: key, Value: value})

	return func() {
		redactedLogValuesMutex.Lock()
		defer redactedLogValuesMutex.Unlock()
		redactedLogValues = slices.DeleteFunc(redactedLogValues, func(v RedactedKey) bool {
			return v.Key == key
		})
	}
}

func packageName(frame runtime.Frame) string {
	lastSlash := strings.LastIndex(frame.Function, "/")
	if lastSlash == -1 {
		return ""
	}
	almost := frame.Function[:lastSlash]
	remaining := frame.Function[lastSlash+1:]
	firstDot := strings.Index(remaining, ".")
	if firstDot == -1 {
		return ""
	}
	return almost + "/" + remaining[:firstDot]
}

func formatErrorStacks(groups []string, a slog.Attr) slog.Attr {
	if a.Key == "error" {
		if err, ok := a.Value.Any().(error); ok {
			var terr errors.E
			if errors.As(err, &terr) {
				frames := runtime.CallersFrames(terr.StackTrace())
				firstFramed, _ := frames.Next()
				pkg := packageName(firstFramed)
				uri := fmt.Sprintf("%s:%d", firstFramed.File, firstFramed.Line)
				a.Value = slog.GroupValue(
					slog.String("error", err.Error()),
					slog.String("func", strings.TrimPrefix(firstFramed.Function, pkg+".")),
					slog.String("package", pkg),
					// the quotes are to make sure the file name can be clicked by vscode/cursor
					slog.String("file", "'"+filepath.Base(filepath.Dir(uri))+"/"+filepath.Base(uri)+"'"),
				)
			}
		}
	}
	return a
}

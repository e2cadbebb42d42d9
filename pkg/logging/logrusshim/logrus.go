// Package logrusshim routes records from dependencies that log through logrus into slog.
package logrusshim

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var _ logrus.Hook = &SlogBridgeHook{}

var (
	logrusOnce = sync.Once{}
)

func ForwardLogrusToSlogGlobally() {
	logrusOnce.Do(func() {
		logrus.SetReportCaller(true)
		logrus.AddHook(&SlogBridgeHook{})
		logrus.SetOutput(io.Discard)
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
		})
	})
}

type SlogBridgeHook struct {
}

func (h *SlogBridgeHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *SlogBridgeHook) Fire(entry *logrus.Entry) error {
	var level slog.Level
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		level = slog.LevelError
	case logrus.WarnLevel:
		level = slog.LevelWarn
	case logrus.InfoLevel:
		level = slog.LevelInfo
	case logrus.DebugLevel, logrus.TraceLevel:
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}

	attrs := make([]slog.Attr, 0, len(entry.Data)+1)
	for k, v := range entry.Data {
		attrs = append(attrs, slog.Any(k, v))
	}

	slices.SortFunc(attrs, func(a, b slog.Attr) int {
		return strings.Compare(a.Key, b.Key)
	})
	attrs = append(attrs, slog.String("via", "logrus"))

	var pc uintptr
	if entry.Caller != nil {
		pc = entry.Caller.PC
	}

	record := slog.NewRecord(entry.Time, level, entry.Message, pc)
	record.AddAttrs(attrs...)

	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}

	handler := slog.Default().Handler()
	if !handler.Enabled(ctx, level) {
		return nil
	}

	return handler.Handle(ctx, record)
}

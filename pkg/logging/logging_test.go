package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	require.Error(t, err)
}

func TestSetupSlogJSONCarriesContextAttrs(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	ctx := SetupSlog(context.Background(), Options{Writer: buf, Format: FormatJSON, Level: slog.LevelInfo})
	ctx = slogctx.Append(ctx, "run", "run-abc")

	slog.InfoContext(ctx, "hello", "capsule", "N1CET.FL1")
	slog.DebugContext(ctx, "filtered out")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "run-abc", rec["run"])
	assert.Equal(t, "N1CET.FL1", rec["capsule"])
}

func TestRedact(t *testing.T) {
	undo := RegisterRedactedLogValue(context.Background(), "/tmp/secret-dir", "[dir]")

	a := Redact(nil, slog.String("path", "/tmp/secret-dir/out/a.pe"))
	assert.Equal(t, "[dir]/out/a.pe", a.Value.String())

	n := Redact(nil, slog.Int("count", 3))
	assert.Equal(t, int64(3), n.Value.Int64())

	undo()
	a = Redact(nil, slog.String("path", "/tmp/secret-dir/out/a.pe"))
	assert.Equal(t, "/tmp/secret-dir/out/a.pe", a.Value.String())
}

func TestFormatErrorStacks(t *testing.T) {
	a := formatErrorStacks(nil, slog.Any("error", errors.New("boom")))
	require.Equal(t, slog.KindGroup, a.Value.Kind())

	attrs := map[string]string{}
	for _, ga := range a.Value.Group() {
		attrs[ga.Key] = ga.Value.String()
	}
	assert.Equal(t, "boom", attrs["error"])
	assert.Contains(t, attrs["package"], "logging")
}

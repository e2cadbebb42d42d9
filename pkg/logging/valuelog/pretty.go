// Package valuelog renders structured values for log records.
package valuelog

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/k0kubun/pp/v3"
)

type PrettyValue interface {
	PrettyString() string
}

var (
	_ slog.LogValuer = (*PrettyStructValue)(nil)
	_ slog.LogValuer = (*PrettyJSONValue)(nil)
)

type PrettyStructValue struct {
	v any
}

func (h *PrettyStructValue) PrettyString() string {
	p := pp.New()
	p.SetExportedOnly(true)
	p.SetColoringEnabled(false)
	return p.Sprint(h.v)
}

func (h *PrettyStructValue) Any() any {
	return h.v
}

func (h *PrettyStructValue) LogValue() slog.Value {
	return slog.StringValue(h.PrettyString())
}

type PrettyJSONValue struct {
	v json.Marshaler
}

func (h *PrettyJSONValue) PrettyString() string {
	json, err := json.MarshalIndent(h.v, "", "\t")
	if err != nil {
		return fmt.Sprintf("!PANIC: %v", err)
	}
	return string(json)
}

func (h *PrettyJSONValue) LogValue() slog.Value {
	return slog.StringValue(h.PrettyString())
}

// NewPrettyValue wraps v so that any slog handler prints it as an indented, multi-line string.
func NewPrettyValue(v any) slog.Value {
	switch v := v.(type) {
	case json.Marshaler:
		return slog.AnyValue(&PrettyJSONValue{v})
	default:
		return slog.AnyValue(&PrettyStructValue{v})
	}
}

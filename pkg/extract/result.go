package extract

import (
	"context"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/walteh/uefi-extract/pkg/firmware"
	"github.com/walteh/uefi-extract/pkg/formats"
	"github.com/walteh/uefi-extract/pkg/logging/valuelog"
	"github.com/walteh/uefi-extract/pkg/output"
)

// Exit codes of a run.
const (
	ExitOK        = 0
	ExitFatal     = 1
	ExitNoMatches = 2
	ExitPartial   = 3
)

// Kinds of skipped work.
const (
	KindUnpack     = "unpack"
	KindParse      = "parse"
	KindFileExists = "file_exists"
	KindWrite      = "write"
)

type Location struct {
	Path    string `yaml:"path"`
	Capsule string `yaml:"capsule,omitempty"`
}

type WrittenModule struct {
	output.Written `yaml:",inline"`
	Source         string `yaml:"source"`
	Capsule        string `yaml:"capsule"`
}

// Skipped is an update file, capsule or module that could not be processed.
type Skipped struct {
	Location `yaml:",inline"`
	GUID     string `yaml:"guid,omitempty"`
	Kind     string `yaml:"kind"`
	Reason   string `yaml:"reason"`

	err error
}

func (s Skipped) Err() error { return s.err }

// Result accumulates the outcome of a run.
type Result struct {
	RunID           string          `yaml:"run_id"`
	Format          string          `yaml:"format"`
	Requested       []string        `yaml:"requested"`
	Inputs          []string        `yaml:"inputs"`
	CapsulesScanned int             `yaml:"capsules_scanned"`
	Written         []WrittenModule `yaml:"written"`
	SkippedFiles    []Skipped       `yaml:"skipped_files"`
	SkippedModules  []Skipped       `yaml:"skipped_modules"`
	NoMatch         []Location      `yaml:"no_match"`
	NotFound        []string        `yaml:"not_found"`

	found map[string]bool
}

func newResult(runID string, cfg Config) *Result {
	return &Result{
		RunID:     runID,
		Format:    cfg.Handler.Format().String(),
		Requested: cfg.GUIDs.List(),
		found:     map[string]bool{},
	}
}

func kindOf(err error) string {
	var unpackErr *formats.UnpackError
	var parseErr *firmware.ParseError
	var existsErr *output.FileExistsError
	switch {
	case errors.As(err, &unpackErr):
		return KindUnpack
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &existsErr):
		return KindFileExists
	}
	return KindWrite
}

func (r *Result) skipFile(ctx context.Context, path, capsule string, err error) {
	s := Skipped{Location: Location{Path: path, Capsule: capsule}, Kind: kindOf(err), Reason: err.Error(), err: err}
	r.SkippedFiles = append(r.SkippedFiles, s)
	slog.WarnContext(ctx, "skipping", "kind", s.Kind, "error", err)
}

func (r *Result) skipModule(ctx context.Context, path, capsule, guid string, err error) {
	s := Skipped{Location: Location{Path: path, Capsule: capsule}, GUID: guid, Kind: kindOf(err), Reason: err.Error(), err: err}
	r.SkippedModules = append(r.SkippedModules, s)
	slog.WarnContext(ctx, "skipping module", "guid", guid, "kind", s.Kind, "error", err)
}

func (r *Result) finish(ctx context.Context) {
	r.NotFound = nil
	for _, g := range r.Requested {
		if !r.found[g] {
			r.NotFound = append(r.NotFound, g)
		}
	}
	r.LogSummary(ctx)
}

// Skips counts skipped files, capsules and modules.
func (r *Result) Skips() int {
	return len(r.SkippedFiles) + len(r.SkippedModules)
}

func (r *Result) TotalBytes() int64 {
	var n int64
	for _, w := range r.Written {
		n += w.Size
	}
	return n
}

// ExitCode is ExitPartial when anything was skipped, ExitNoMatches when nothing was skipped and
// nothing was written, ExitOK otherwise.
func (r *Result) ExitCode() int {
	switch {
	case r.Skips() > 0:
		return ExitPartial
	case len(r.Written) == 0:
		return ExitNoMatches
	}
	return ExitOK
}

// Err aggregates the error of every skipped item, nil when nothing was skipped.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, s := range r.SkippedFiles {
		merr = multierror.Append(merr, s.err)
	}
	for _, s := range r.SkippedModules {
		merr = multierror.Append(merr, s.err)
	}
	return merr.ErrorOrNil()
}

func (r *Result) LogSummary(ctx context.Context) {
	slog.DebugContext(ctx, "run result", "result", valuelog.NewPrettyValue(r))

	for _, s := range r.SkippedFiles {
		slog.WarnContext(ctx, "skipped file", "path", s.Path, "capsule", s.Capsule, "kind", s.Kind, "reason", s.Reason)
	}
	for _, s := range r.SkippedModules {
		slog.WarnContext(ctx, "skipped module", "path", s.Path, "guid", s.GUID, "kind", s.Kind, "reason", s.Reason)
	}
	if len(r.NotFound) > 0 {
		slog.WarnContext(ctx, "guids not found in any input", "guids", r.NotFound)
	}

	slog.InfoContext(ctx, "extraction finished",
		"inputs", len(r.Inputs),
		"capsules", r.CapsulesScanned,
		"written", len(r.Written),
		"written_size", humanize.IBytes(uint64(r.TotalBytes())),
		"skipped_files", len(r.SkippedFiles),
		"skipped_modules", len(r.SkippedModules),
		"not_found", len(r.NotFound),
		"exit_code", r.ExitCode(),
	)
}

// WriteReport stores the result as YAML at path.
func (r *Result) WriteReport(path string) error {
	type report struct {
		Result   `yaml:",inline"`
		ExitCode int `yaml:"exit_code"`
	}

	data, err := yaml.Marshal(report{Result: *r, ExitCode: r.ExitCode()})
	if err != nil {
		return errors.Errorf("marshalling report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Errorf("writing report %s: %w", path, err)
	}
	return nil
}

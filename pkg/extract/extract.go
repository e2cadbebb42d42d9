// Package extract runs a whole extraction: resolve the inputs, unpack each update file into
// capsules, parse the capsules and write the PE32 images of every requested GUID.
package extract

import (
	"context"
	"log/slog"
	"path/filepath"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/clog"
	"github.com/walteh/uefi-extract/pkg/firmware"
	"github.com/walteh/uefi-extract/pkg/formats"
	"github.com/walteh/uefi-extract/pkg/fwguid"
	"github.com/walteh/uefi-extract/pkg/id"
	"github.com/walteh/uefi-extract/pkg/output"
	"github.com/walteh/uefi-extract/pkg/resolve"
)

const DefaultOutDir = "out"

type Config struct {
	// Path is an update file or a directory of update files.
	Path    string
	Handler formats.Handler
	GUIDs   *fwguid.Set
	OutDir  string
	Force   bool

	// Parse defaults to firmware.Parse.
	Parse firmware.ParseFunc
}

func (c *Config) validate() error {
	if c.Path == "" {
		return errors.New("no input path")
	}
	if c.Handler == nil {
		return errors.New("no format handler")
	}
	if c.GUIDs == nil || c.GUIDs.Len() == 0 {
		return errors.New("no guids requested")
	}
	if c.OutDir == "" {
		c.OutDir = DefaultOutDir
	}
	if c.Parse == nil {
		c.Parse = firmware.Parse
	}
	return nil
}

// Run processes every input sequentially. Failures scoped to one file, capsule or module are
// recorded in the Result and the run goes on. The returned error is reserved for fatal problems:
// an invalid config, a missing input path, an unusable output directory or cancellation. On
// cancellation the partial Result is returned alongside the error.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Errorf("invalid config: %w", err)
	}

	runID := id.NewID("run")
	ctx = clog.AddAttrs(ctx, "run", runID.String())

	res := newResult(runID.String(), cfg)

	slog.InfoContext(ctx, "starting extraction",
		"path", cfg.Path,
		"format", cfg.Handler.Format().String(),
		"guids", cfg.GUIDs.List(),
		"out_dir", cfg.OutDir,
		"force", cfg.Force,
	)

	inputs, err := resolve.Inputs(ctx, cfg.Path, cfg.Handler)
	if err != nil {
		return nil, err
	}
	res.Inputs = inputs

	if len(inputs) == 0 {
		slog.WarnContext(ctx, "no input files for format", "path", cfg.Path, "format", cfg.Handler.Format().String())
	}

	writer := output.NewWriter(cfg.OutDir, cfg.Force)
	if err := writer.Prepare(ctx); err != nil {
		return nil, err
	}

	r := &runner{cfg: cfg, res: res, writer: writer}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			res.finish(ctx)
			return res, errors.Errorf("run interrupted: %w", err)
		}
		if err := r.processFile(clog.AddAttrs(ctx, "file", filepath.Base(in)), in); err != nil {
			res.finish(ctx)
			return res, err
		}
	}

	res.finish(ctx)
	return res, nil
}

type runner struct {
	cfg    Config
	res    *Result
	writer *output.Writer
}

// processFile only returns an error when the run has to stop.
func (r *runner) processFile(ctx context.Context, path string) error {
	slog.InfoContext(ctx, "processing update file", "path", path)

	capsules, err := r.cfg.Handler.Capsules(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Errorf("run interrupted: %w", ctx.Err())
		}
		r.res.skipFile(ctx, path, "", err)
		return nil
	}

	for _, c := range capsules {
		if err := r.processCapsule(clog.AddAttrs(ctx, "capsule", c.Name), path, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) processCapsule(ctx context.Context, path string, c formats.Capsule) error {
	r.res.CapsulesScanned++

	fw, err := r.cfg.Parse(ctx, c.Name, c.Data)
	if err != nil {
		var parseErr *firmware.ParseError
		if !errors.As(err, &parseErr) {
			err = &firmware.ParseError{Name: c.Name, Err: err}
		}
		r.res.skipFile(ctx, path, c.Name, err)
		return nil
	}

	modules, err := firmware.Collect(ctx, fw, r.cfg.GUIDs)
	if err != nil {
		r.res.skipFile(ctx, path, c.Name, &firmware.ParseError{Name: c.Name, Err: err})
		return nil
	}

	if len(modules) == 0 {
		slog.InfoContext(ctx, "no match in capsule")
		r.res.NoMatch = append(r.res.NoMatch, Location{Path: path, Capsule: c.Name})
		return nil
	}

	for _, m := range modules {
		r.res.found[m.GUID] = true

		written, err := r.writer.Write(ctx, path, m)
		if err != nil {
			if ctx.Err() != nil {
				return errors.Errorf("run interrupted: %w", ctx.Err())
			}
			r.res.skipModule(ctx, path, c.Name, m.GUID, err)
			continue
		}

		r.res.Written = append(r.res.Written, WrittenModule{
			Written: *written,
			Source:  path,
			Capsule: c.Name,
		})
	}
	return nil
}

// Package lenovoexe unpacks Lenovo BIOS update installers (Inno Setup executables) with the
// external innoextract tool.
package lenovoexe

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/ext/osx"
	"github.com/walteh/uefi-extract/pkg/formats"
)

const (
	DefaultInnoextract = "innoextract"

	tempDirPattern = "uefiextract_"
)

// innoextract -l prints one line per file: ` - "app/N1CET76W.FL1" (8.00 MiB)`
var listedPathPattern = regexp.MustCompile(`"([^"]+)"`)

var _ formats.Handler = (*Handler)(nil)

type Handler struct {
	// Innoextract is the innoextract binary, either a path or a name looked up in PATH.
	Innoextract string
}

func New(innoextract string) *Handler {
	if innoextract == "" {
		innoextract = DefaultInnoextract
	}
	return &Handler{Innoextract: innoextract}
}

func (h *Handler) Format() formats.Format {
	return formats.FormatLenovoEXE
}

func (h *Handler) Matches(p string) bool {
	return formats.HasExtension(p, ".exe")
}

func (h *Handler) Capsules(ctx context.Context, p string) ([]formats.Capsule, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, formats.NewUnpackError(p, errors.Errorf("opening installer: %w", err))
	}
	if !info.Mode().IsRegular() {
		return nil, formats.NewUnpackError(p, errors.New("installer is not a regular file"))
	}

	bin, err := exec.LookPath(h.Innoextract)
	if err != nil {
		return nil, formats.NewUnpackError(p, errors.Errorf("finding %s: %w", h.Innoextract, err))
	}

	candidates, err := h.list(ctx, bin, p)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, formats.NewUnpackError(p, errors.New("installer lists no capsules"))
	}

	slog.DebugContext(ctx, "installer capsule candidates", "installer", p, "candidates", candidates)

	var capsules []formats.Capsule
	err = osx.WithTempDir(ctx, tempDirPattern, func(dir string) error {
		if err := h.extract(ctx, bin, p, dir, candidates); err != nil {
			return err
		}
		capsules, err = collect(ctx, dir)
		return err
	})
	if err != nil {
		var unpackErr *formats.UnpackError
		if errors.As(err, &unpackErr) || ctx.Err() != nil {
			return nil, err
		}
		return nil, formats.NewUnpackError(p, err)
	}

	if len(capsules) == 0 {
		return nil, formats.NewUnpackError(p, errors.New("no capsules were unpacked"))
	}

	return capsules, nil
}

// list returns the in-installer paths of every capsule the installer carries, in listing order.
func (h *Handler) list(ctx context.Context, bin, p string) ([]string, error) {
	stdout, err := run(ctx, p, bin, "-l", p)
	if err != nil {
		return nil, err
	}

	var candidates []string
	seen := map[string]bool{}
	for _, line := range strings.Split(stdout, "\n") {
		m := listedPathPattern.FindStringSubmatch(line)
		if m == nil || !formats.IsCapsuleName(m[1]) || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		candidates = append(candidates, m[1])
	}

	return candidates, nil
}

func (h *Handler) extract(ctx context.Context, bin, p, dir string, candidates []string) error {
	args := []string{"--output-dir", dir}
	for _, c := range candidates {
		args = append(args, "-I", c)
	}
	args = append(args, p)

	_, err := run(ctx, p, bin, args...)
	return err
}

func run(ctx context.Context, installer, bin string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.DebugContext(ctx, "running innoextract", "args", args)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", errors.Errorf("innoextract interrupted: %w", ctx.Err())
		}

		unpackErr := formats.NewUnpackError(installer, errors.Errorf("running %s: %w", filepath.Base(bin), err))

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			unpackErr.ExitCode = exitErr.ExitCode()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			unpackErr.Err = errors.Errorf("running %s: %s: %w", filepath.Base(bin), msg, err)
		}
		return "", unpackErr
	}

	return stdout.String(), nil
}

// collect reads every capsule below dir, ordered by path.
func collect(ctx context.Context, dir string) ([]formats.Capsule, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && formats.IsCapsuleName(d.Name()) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("walking unpacked installer: %w", err)
	}
	sort.Strings(paths)

	capsules := make([]formats.Capsule, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Errorf("reading unpacked capsule: %w", err)
		}
		slog.DebugContext(ctx, "unpacked capsule", "capsule", filepath.Base(p), "size", humanize.IBytes(uint64(len(data))))
		capsules = append(capsules, formats.Capsule{Name: filepath.Base(p), Data: data})
	}

	return capsules, nil
}

// Package formats defines the vendor update package formats and the contract their handlers
// implement: turn one update file into the firmware capsules it carries.
package formats

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gitlab.com/tozd/go/errors"
)

type Format int

const (
	FormatUnknown Format = iota
	FormatLenovoISO
	FormatLenovoEXE
	FormatCapsule
	FormatArchive
)

var formatNames = map[Format]string{
	FormatLenovoISO: "lenovo_iso",
	FormatLenovoEXE: "lenovo_exe",
	FormatCapsule:   "capsule",
	FormatArchive:   "archive",
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// All returns every supported format in a stable order.
func All() []Format {
	return []Format{FormatLenovoISO, FormatLenovoEXE, FormatCapsule, FormatArchive}
}

// Names returns the tags accepted by ParseFormat.
func Names() []string {
	names := make([]string, 0, len(formatNames))
	for _, f := range All() {
		names = append(names, f.String())
	}
	return names
}

func ParseFormat(s string) (Format, error) {
	for _, f := range All() {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return FormatUnknown, errors.Errorf("unknown format %q (want one of %s)", s, strings.Join(Names(), ", "))
}

// Capsule is one firmware image carried by an update package.
type Capsule struct {
	Name string
	Data []byte
}

// Handler produces the capsules of a single update file. Temporary resources a handler creates
// are gone by the time Capsules returns.
type Handler interface {
	Format() Format
	// Matches reports whether path is a candidate when a whole directory is processed.
	Matches(path string) bool
	Capsules(ctx context.Context, path string) ([]Capsule, error)
}

// UnpackError reports that an update file could not be unpacked into capsules.
type UnpackError struct {
	Path string
	// ExitCode of the unpacking subprocess, -1 when no subprocess was involved.
	ExitCode int
	Err      error
}

func (e *UnpackError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("unpacking %s: exit code %d: %v", e.Path, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("unpacking %s: %v", e.Path, e.Err)
}

func (e *UnpackError) Unwrap() error { return e.Err }

func NewUnpackError(path string, err error) *UnpackError {
	return &UnpackError{Path: path, ExitCode: -1, Err: err}
}

// Lenovo capsules are named <id>.FL1, <id>.FL2 and so on.
var capsuleNamePattern = regexp.MustCompile(`(?i)\.FL\d+$`)

func IsCapsuleName(name string) bool {
	return capsuleNamePattern.MatchString(name)
}

// firmware images shipped outside Lenovo packages
var imageExtensions = []string{".rom", ".cap", ".fd"}

// IsFirmwareImageName reports whether name looks like a capsule or a raw firmware image.
func IsFirmwareImageName(name string) bool {
	return IsCapsuleName(name) || HasExtension(name, imageExtensions...)
}

// HasExtension reports whether the base name of path ends in one of exts, ignoring case.
func HasExtension(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// Command uefi-extract pulls the PE32 images of selected firmware files out of vendor BIOS
// update packages.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/extract"
	"github.com/walteh/uefi-extract/pkg/firmware"
	"github.com/walteh/uefi-extract/pkg/formats"
	"github.com/walteh/uefi-extract/pkg/formats/lenovoexe"
	"github.com/walteh/uefi-extract/pkg/formats/registry"
	"github.com/walteh/uefi-extract/pkg/fwguid"
	"github.com/walteh/uefi-extract/pkg/logging"
)

const name = "uefi-extract"

// swapped out by tests
var parseFirmware firmware.ParseFunc = firmware.Parse

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	err := app.RunContext(ctx, hoistFlags(app.Flags, args))
	if err == nil {
		return extract.ExitOK
	}

	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		if msg := strings.TrimSpace(coder.Error()); msg != "" {
			fmt.Fprintf(stderr, "%s: %s\n", name, msg)
		}
		return coder.ExitCode()
	}

	fmt.Fprintf(stderr, "%s: %s\n", name, err)
	return extract.ExitFatal
}

// hoistFlags moves flags given after the positional arguments in front of them. The cli parser
// stops at the first positional, so `uefi-extract x.iso lenovo_iso GUID -o out` would otherwise
// treat "-o" and "out" as GUIDs.
func hoistFlags(flags []cli.Flag, args []string) []string {
	if len(args) < 2 {
		return args
	}

	takesValue := map[string]bool{}
	for _, f := range flags {
		_, isBool := f.(*cli.BoolFlag)
		for _, n := range f.Names() {
			takesValue[n] = !isBool
		}
	}

	var opts, positional []string
	rest := args[1:]
loop:
	for i := 0; i < len(rest); i++ {
		a := rest[i]
		switch {
		case a == "--":
			positional = append(positional, rest[i+1:]...)
			break loop
		case len(a) > 1 && a[0] == '-':
			opts = append(opts, a)
			n := strings.TrimLeft(a, "-")
			if strings.Contains(n, "=") {
				continue
			}
			if takesValue[n] && i+1 < len(rest) {
				i++
				opts = append(opts, rest[i])
			}
		default:
			positional = append(positional, a)
		}
	}

	out := append([]string{args[0]}, opts...)
	if len(positional) > 0 {
		out = append(out, "--")
		out = append(out, positional...)
	}
	return out
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      name,
		Usage:     "extract PE32 modules by firmware file GUID from BIOS update packages",
		ArgsUsage: fmt.Sprintf("<path> {%s} GUID [GUID ...]", strings.Join(formats.Names(), "|")),
		Writer:    stdout,
		ErrWriter: stderr,
		// exit codes are handled by run
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out-dir",
				Aliases: []string{"o"},
				Usage:   "output directory",
				Value:   extract.DefaultOutDir,
				EnvVars: []string{"UEFI_EXTRACT_OUT_DIR"},
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "overwrite existing output files",
			},
			&cli.StringFlag{
				Name:    "innoextract",
				Usage:   "innoextract binary used for lenovo_exe installers",
				Value:   lenovoexe.DefaultInnoextract,
				EnvVars: []string{"UEFI_EXTRACT_INNOEXTRACT"},
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "write a YAML run report to `FILE`",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log output format, text or json",
				Value:   string(logging.FormatText),
				EnvVars: []string{"UEFI_EXTRACT_LOG_FORMAT"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "debug logging",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "disable colored text logs",
			},
		},
		Action: action,
	}
}

func action(c *cli.Context) error {
	if c.NArg() < 3 {
		return cli.Exit(fmt.Sprintf("expected <path> <format> GUID [GUID ...], got %d argument(s)\nusage: %s [flags] %s", c.NArg(), name, c.App.ArgsUsage), extract.ExitFatal)
	}

	logFormat, err := logging.ParseFormat(c.String("log-format"))
	if err != nil {
		return cli.Exit(err.Error(), extract.ExitFatal)
	}

	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}

	ctx := logging.SetupSlog(c.Context, logging.Options{
		Writer:    c.App.ErrWriter,
		Format:    logFormat,
		Level:     level,
		Color:     !c.Bool("no-color"),
		AddSource: c.Bool("verbose"),
	})

	args := c.Args().Slice()

	handler, err := registry.Lookup(args[1], registry.Options{Innoextract: c.String("innoextract")})
	if err != nil {
		return cli.Exit(err.Error(), extract.ExitFatal)
	}

	guids, err := fwguid.ParseSet(args[2:])
	if err != nil {
		return cli.Exit(err.Error(), extract.ExitFatal)
	}

	res, err := extract.Run(ctx, extract.Config{
		Path:    args[0],
		Handler: handler,
		GUIDs:   guids,
		OutDir:  c.String("out-dir"),
		Force:   c.Bool("force"),
		Parse:   parseFirmware,
	})
	if err != nil {
		slog.ErrorContext(ctx, "extraction failed", "error", err)
		return cli.Exit(err.Error(), extract.ExitFatal)
	}

	if err := res.Err(); err != nil {
		slog.WarnContext(ctx, "run finished with skipped items", "error", err)
	}

	if p := c.String("report"); p != "" {
		if err := res.WriteReport(p); err != nil {
			return cli.Exit(err.Error(), extract.ExitFatal)
		}
		slog.InfoContext(ctx, "wrote run report", "path", p)
	}

	if code := res.ExitCode(); code != extract.ExitOK {
		return cli.Exit("", code)
	}
	return nil
}

// Package cli is the exportsctl command line front end. Every command runs
// one registry operation and returns its error; only main turns errors into
// exit codes.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/erikmagkekse/nfs-exports-registry/exporter"
	"github.com/erikmagkekse/nfs-exports-registry/model"
	"github.com/erikmagkekse/nfs-exports-registry/registry"
	"github.com/erikmagkekse/nfs-exports-registry/sharedir"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

// App carries the process-wide dependencies of the command tree. Zero
// fields fall back to the real system.
type App struct {
	Version string
	Commit  string

	Stdout io.Writer
	Stderr io.Writer
	// Fs backs both the exports file and share directories.
	Fs afero.Fs
	// Exporter overrides the exportfs-based kernel exporter.
	Exporter exporter.Exporter

	cfg model.Config
}

func (a *App) Run(ctx context.Context, args []string) error {
	return a.Command().Run(ctx, args)
}

func (a *App) Command() *cli.Command {
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if a.Fs == nil {
		a.Fs = afero.NewOsFs()
	}

	return &cli.Command{
		Name:    model.AppName,
		Usage:   "manage the NFS exports registry file",
		Version: a.Version + " (" + a.Commit + ")",
		Writer:  a.Stdout,
		// errors are mapped to exit codes by the caller
		ErrWriter:      a.Stderr,
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "exports registry file (default $EXPORTS_FILE or " + model.DefaultExportsFile + ")",
			},
			&cli.StringFlag{
				Name:  "exportfs-bin",
				Usage: "exportfs binary (default $EXPORTFS_BIN or exportfs)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "lock",
				Usage: "serialize writers with an flock on <file>.lock (default $EXPORTS_LOCK or true)",
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.listCommand(),
			a.addCommand(),
			a.editCommand(),
			a.removeCommand(),
			a.initCommand(),
			a.migrateCommand(),
			a.reloadCommand(),
			a.statusCommand(),
			a.serveCommand(),
		},
	}
}

// before loads the environment configuration and applies flag overrides.
func (a *App) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := env.ParseAs[model.Config]()
	if err != nil {
		return ctx, usageErrorf("parse environment: %v", err)
	}
	if cmd.IsSet("file") {
		cfg.ExportsFile = cmd.String("file")
	}
	if cmd.IsSet("exportfs-bin") {
		cfg.ExportfsBin = cmd.String("exportfs-bin")
	}
	if cmd.IsSet("lock") {
		cfg.Lock = cmd.Bool("lock")
	}
	if cmd.IsSet("log-level") {
		level, err := zerolog.ParseLevel(cmd.String("log-level"))
		if err != nil {
			return ctx, usageErrorf("invalid log level %q", cmd.String("log-level"))
		}
		zerolog.SetGlobalLevel(level)
	}
	a.cfg = cfg
	return ctx, nil
}

func (a *App) newExporter() exporter.Exporter {
	if a.Exporter != nil {
		return a.Exporter
	}
	return exporter.NewKernelExporter(a.cfg.ExportfsBin, a.cfg.SystemctlBin, a.cfg.ReloadService, a.cfg.ReloadTimeout)
}

func (a *App) store() (*registry.Store, error) {
	mode, err := sharedir.ParseMode(a.cfg.FileMode)
	if err != nil {
		return nil, usageErrorf("EXPORTS_FILE_MODE: %v", err)
	}
	var locker registry.Locker
	if a.cfg.Lock {
		locker = registry.NewFileLocker(a.cfg.ExportsFile + ".lock")
	}
	return registry.New(a.Fs, a.cfg.ExportsFile, mode.Perm(), a.newExporter(), locker), nil
}

func (a *App) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.Stdout, format, args...)
}

package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/erikmagkekse/nfs-exports-registry/agent"
	"github.com/erikmagkekse/nfs-exports-registry/exporter"
	"github.com/erikmagkekse/nfs-exports-registry/registry"
	"github.com/erikmagkekse/nfs-exports-registry/sharedir"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// editEntry is the replacement record passed to edit.
type editEntry struct {
	Name    string                `json:"name"`
	Path    string                `json:"path"`
	Clients []registry.ClientRule `json:"clients"`
}

func (a *App) listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "print all exports as JSON",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			recs, warnings, err := store.List(ctx)
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []registry.ExportRecord{}
			}
			if err := a.writeJSON(recs); err != nil {
				return err
			}
			if len(warnings) > 0 {
				return ErrPartial
			}
			return nil
		},
	}
}

func (a *App) addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "add an export",
		ArgsUsage: `<name> <path> '[{"ip":"192.168.1.0/24","permissions":"rw,sync"}]'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "create-dir", Value: true, Usage: "create the shared directory if it is missing"},
			&cli.StringFlag{Name: "mode", Usage: "octal mode for the shared directory, e.g. 2770"},
			&cli.IntFlag{Name: "uid", Usage: "owner of the shared directory"},
			&cli.IntFlag{Name: "gid", Usage: "group of the shared directory"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 3 {
				return usageErrorf("add: expected <name> <path> <clients-json>, got %d arguments", cmd.Args().Len())
			}
			name, path := cmd.Args().Get(0), cmd.Args().Get(1)

			var clients []registry.ClientRule
			if err := json.Unmarshal([]byte(cmd.Args().Get(2)), &clients); err != nil {
				return invalidf("add: clients must be a JSON array of {ip, permissions} objects: %v", err)
			}

			rec, err := registry.NewExportRecord(name, path, clients)
			if err != nil {
				return err
			}
			if err := registry.Validate(rec); err != nil {
				return err
			}

			if err := a.prepareDir(cmd, path); err != nil {
				return err
			}

			store, err := a.store()
			if err != nil {
				return err
			}
			return store.Add(ctx, rec.Name, rec.Path, rec.Clients)
		},
	}
}

func (a *App) editCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "replace an export, optionally renaming it",
		ArgsUsage: `--edit <existing-name> '{"name":...,"path":...,"clients":[...]}'`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "edit", Usage: "name of the export to replace", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return usageErrorf("edit: expected one entry JSON argument, got %d", cmd.Args().Len())
			}
			var entry editEntry
			if err := json.Unmarshal([]byte(cmd.Args().Get(0)), &entry); err != nil {
				return invalidf("edit: entry must be a JSON object with name, path and clients: %v", err)
			}

			rec, err := registry.NewExportRecord(entry.Name, entry.Path, entry.Clients)
			if err != nil {
				return err
			}
			if err := registry.Validate(rec); err != nil {
				return err
			}
			if err := a.prepareDir(cmd, rec.Path); err != nil {
				return err
			}

			store, err := a.store()
			if err != nil {
				return err
			}
			return store.Edit(ctx, cmd.String("edit"), entry.Name, entry.Path, entry.Clients)
		},
	}
}

// dirFlags control how add and edit prepare the shared directory.
func dirFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "create-dir", Value: true, Usage: "create the shared directory if it is missing"},
		&cli.StringFlag{Name: "mode", Usage: "octal mode for the shared directory, e.g. 2770"},
		&cli.IntFlag{Name: "uid", Usage: "owner of the shared directory"},
		&cli.IntFlag{Name: "gid", Usage: "group of the shared directory"},
	}
}

func (a *App) prepareDir(cmd *cli.Command, path string) error {
	opts := sharedir.Options{Create: cmd.Bool("create-dir")}
	if cmd.IsSet("mode") {
		mode, err := sharedir.ParseMode(cmd.String("mode"))
		if err != nil {
			return invalidf("%s: %v", cmd.Name, err)
		}
		opts.Mode = &mode
	}
	if cmd.IsSet("uid") {
		uid := int(cmd.Int("uid"))
		opts.UID = &uid
	}
	if cmd.IsSet("gid") {
		gid := int(cmd.Int("gid"))
		opts.GID = &gid
	}
	if err := sharedir.Prepare(a.Fs, path, opts); err != nil {
		return &exitError{code: ExitIO, msg: err.Error()}
	}
	return nil
}

func (a *App) removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "remove an export, or a single client of it",
		ArgsUsage: "<name> [client-host]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			n := cmd.Args().Len()
			if n < 1 || n > 2 {
				return usageErrorf("remove: expected <name> [client-host], got %d arguments", n)
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			name := cmd.Args().Get(0)
			if n == 1 {
				return store.RemoveRecord(ctx, name)
			}
			removed, err := store.RemoveClient(ctx, name, cmd.Args().Get(1))
			if err != nil {
				return err
			}
			if removed {
				log.Info().Str("name", name).Msg("last client removed, export deleted")
			}
			return nil
		},
	}
}

func (a *App) initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create an empty registry file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			written, err := store.Init(ctx)
			if err != nil {
				return err
			}
			if !written {
				log.Info().Str("file", store.Path()).Msg("registry already initialized")
			}
			return nil
		},
	}
}

func (a *App) migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "rewrite a cockpit-nfs-manager file in the current format",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			n, err := store.Migrate(ctx)
			if err != nil {
				return err
			}
			a.printf("migrated %d exports\n", n)
			return nil
		},
	}
}

func (a *App) reloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "reload",
		Usage: "re-export everything (exportfs -ra)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.newExporter().Reload(ctx); err != nil {
				return &exitError{code: ExitReload, msg: "reload failed: " + err.Error()}
			}
			return nil
		},
	}
}

func (a *App) statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "compare the registry with the live export table",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			report, err := exporter.Status(ctx, store, a.newExporter())
			if err != nil {
				if registry.CodeOf(err) != "" {
					return err
				}
				return &exitError{code: ExitReload, msg: "read live exports: " + err.Error()}
			}
			return a.writeJSON(report)
		},
	}
}

func (a *App) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP API and reconcile the kernel export table",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address (default $API_LISTEN_ADDR or :8080)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.IsSet("listen") {
				a.cfg.ListenAddr = cmd.String("listen")
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			log.Info().Str("version", a.Version).Str("commit", a.Commit).Str("file", store.Path()).Msg("starting exports agent")
			return agent.NewAgent(&a.cfg, store, a.newExporter(), a.Fs, a.Version, a.Commit).Run(ctx)
		},
	}
}

// writeJSON prints v, indented when stdout is a terminal.
func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.Stdout)
	if f, ok := a.Stdout.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

package registry

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/erikmagkekse/nfs-exports-registry/utils"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Reloader makes the running NFS server pick up the exports file.
// It must be idempotent; the store calls it once per successful mutation.
type Reloader interface {
	Reload(ctx context.Context) error
}

type ReloadFunc func(ctx context.Context) error

func (f ReloadFunc) Reload(ctx context.Context) error { return f(ctx) }

// errUnchanged aborts a mutation without writing or reloading.
var errUnchanged = errors.New("unchanged")

// Store owns one exports file. It keeps no records in memory: every
// operation re-reads the file, mutates, writes it back and reloads.
type Store struct {
	fs       afero.Fs
	path     string
	fileMode os.FileMode
	reloader Reloader
	locker   Locker
}

func New(fsys afero.Fs, path string, fileMode os.FileMode, reloader Reloader, locker Locker) *Store {
	if locker == nil {
		locker = NopLocker{}
	}
	if fileMode == 0 {
		fileMode = 0o644
	}
	return &Store{fs: fsys, path: path, fileMode: fileMode, reloader: reloader, locker: locker}
}

func (s *Store) Path() string { return s.path }

// --- read-only ---

// List returns the records of the exports file in file order, plus warnings
// for every record that had to be skipped.
func (s *Store) List(ctx context.Context) (recs []ExportRecord, warnings []ParseWarning, err error) {
	defer observe("list", time.Now(), &err)

	raw, _, exists, err := readFile(s.fs, s.path)
	if err != nil {
		return nil, nil, newError(ErrIOFailure, err, "read %s", s.path)
	}
	if !exists {
		return nil, nil, newError(ErrUnavailable, nil, "registry %s does not exist, run init first", s.path)
	}
	reg, warnings, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	s.logWarnings(warnings)
	RecordsGauge.Set(float64(len(reg.Records)))

	log.Debug().Str("file", s.path).Int("count", len(reg.Records)).Bool("legacy", reg.Legacy).Msg("exports listed")
	return reg.Records, warnings, nil
}

// --- mutations ---

func (s *Store) Add(ctx context.Context, name, path string, clients []ClientRule) (err error) {
	defer observe("add", time.Now(), &err)

	rec, err := NewExportRecord(name, path, clients)
	if err != nil {
		return err
	}
	if err := Validate(rec); err != nil {
		return err
	}

	err = s.mutate(ctx, func(reg *Registry) error {
		if reg.index(name) >= 0 {
			return newError(ErrAlreadyExists, nil, "export %q already exists", name)
		}
		reg.Records = append(reg.Records, rec)
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("name", name).Str("path", path).Int("clients", len(clients)).Msg("export added")
	return nil
}

// Edit replaces the record named target, keeping its position in the file.
func (s *Store) Edit(ctx context.Context, target, name, path string, clients []ClientRule) (err error) {
	defer observe("edit", time.Now(), &err)

	rec, err := NewExportRecord(name, path, clients)
	if err != nil {
		return err
	}
	if err := Validate(rec); err != nil {
		return err
	}

	err = s.mutate(ctx, func(reg *Registry) error {
		idx := reg.index(target)
		if idx < 0 {
			return newError(ErrNotFound, nil, "export %q not found", target)
		}
		if name != target && reg.index(name) >= 0 {
			return newError(ErrAlreadyExists, nil, "export %q already exists", name)
		}
		reg.Records[idx] = rec
		reg.rename(target, name)
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("target", target).Str("name", name).Str("path", path).Int("clients", len(clients)).Msg("export updated")
	return nil
}

func (s *Store) RemoveRecord(ctx context.Context, name string) (err error) {
	defer observe("remove", time.Now(), &err)

	err = s.mutate(ctx, func(reg *Registry) error {
		idx := reg.index(name)
		if idx < 0 {
			return newError(ErrNotFound, nil, "export %q not found", name)
		}
		reg.remove(idx)
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("name", name).Msg("export removed")
	return nil
}

// RemoveClient drops one client from a record. When that was the last
// client the whole record goes too; recordRemoved reports that case.
func (s *Store) RemoveClient(ctx context.Context, name, host string) (recordRemoved bool, err error) {
	defer observe("remove_client", time.Now(), &err)

	err = s.mutate(ctx, func(reg *Registry) error {
		idx := reg.index(name)
		if idx < 0 {
			return newError(ErrNotFound, nil, "export %q not found", name)
		}
		rec := &reg.Records[idx]
		ci := rec.clientIndex(host)
		if ci < 0 {
			return newError(ErrClientNotFound, nil, "client %q not found in export %q", host, name)
		}
		rec.Clients = append(rec.Clients[:ci], rec.Clients[ci+1:]...)
		recordRemoved = len(rec.Clients) == 0
		return nil
	})
	if err != nil {
		return false, err
	}
	log.Info().Str("name", name).Str("client", host).Bool("export_removed", recordRemoved).Msg("export client removed")
	return recordRemoved, nil
}

// Init writes an empty registry when the file is missing or not managed by
// us. It reports whether anything was written. No reload is triggered since
// no export was added or removed by the registry.
func (s *Store) Init(ctx context.Context) (written bool, err error) {
	defer observe("init", time.Now(), &err)

	unlock, err := s.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	raw, mode, exists, err := readFile(s.fs, s.path)
	if err != nil {
		return false, newError(ErrIOFailure, err, "read %s", s.path)
	}
	if exists && raw != "" {
		if _, _, err := Decode(raw); err == nil {
			return false, nil
		} else if !IsCode(err, ErrMissingHeader) {
			return false, err
		}
		if err := s.backupForeign(raw, mode); err != nil {
			return false, err
		}
	}
	if !exists {
		mode = s.fileMode
	}
	content, _ := Encode(&Registry{})
	if err := writeFileAtomic(s.fs, s.path, []byte(content), mode); err != nil {
		return false, newError(ErrIOFailure, err, "write %s", s.path)
	}
	log.Info().Str("file", s.path).Msg("registry initialized")
	return true, nil
}

// Migrate rewrites a legacy-schema file in the canonical schema and returns
// the number of records carried over. A canonical file is left untouched.
func (s *Store) Migrate(ctx context.Context) (migrated int, err error) {
	defer observe("migrate", time.Now(), &err)

	err = s.mutate(ctx, func(reg *Registry) error {
		if !reg.Legacy {
			return errUnchanged
		}
		migrated = len(reg.Records)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if migrated > 0 {
		log.Info().Str("file", s.path).Int("records", migrated).Msg("legacy registry migrated")
	}
	return migrated, nil
}

// --- cycle ---

// mutate runs one locked load-mutate-save-reload cycle. Nothing is written
// unless fn succeeds and the new content encodes cleanly.
func (s *Store) mutate(ctx context.Context, fn func(reg *Registry) error) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	reg, mode, err := s.loadForUpdate()
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	for _, name := range reg.prune() {
		log.Info().Str("name", name).Msg("dropping export without clients")
	}

	content, err := Encode(reg)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.fs, s.path, []byte(content), mode); err != nil {
		return newError(ErrIOFailure, err, "write %s", s.path)
	}
	RecordsGauge.Set(float64(len(reg.Records)))

	if err := s.reloader.Reload(ctx); err != nil {
		var cmdErr *utils.CommandError
		if errors.As(err, &cmdErr) {
			code := cmdErr.ExitCode()
			log.Error().Err(err).Str("file", s.path).Int("exit_code", code).Msg("exports written but reload failed")
			return newError(ErrReloadFailed, err, "%s was updated but reloading exports failed (%s exit code %d)", s.path, cmdErr.Bin, code)
		}
		log.Error().Err(err).Str("file", s.path).Msg("exports written but reload failed")
		return newError(ErrReloadFailed, err, "%s was updated but reloading exports failed", s.path)
	}
	return nil
}

// loadForUpdate decodes the file for a mutation. Missing, empty and unmarked
// files start from an empty registry; unmarked content is backed up first.
func (s *Store) loadForUpdate() (*Registry, os.FileMode, error) {
	raw, mode, exists, err := readFile(s.fs, s.path)
	if err != nil {
		return nil, 0, newError(ErrIOFailure, err, "read %s", s.path)
	}
	if !exists {
		log.Info().Str("file", s.path).Msg("registry missing, bootstrapping")
		return &Registry{}, s.fileMode, nil
	}
	if raw == "" {
		log.Info().Str("file", s.path).Msg("registry empty, bootstrapping")
		return &Registry{}, mode, nil
	}

	reg, warnings, err := Decode(raw)
	if IsCode(err, ErrMissingHeader) {
		if err := s.backupForeign(raw, mode); err != nil {
			return nil, 0, err
		}
		return &Registry{}, mode, nil
	}
	if err != nil {
		return nil, 0, err
	}
	s.logWarnings(warnings)
	if reg.Legacy {
		log.Info().Str("file", s.path).Msg("legacy registry schema, rewriting in canonical form")
	}
	return reg, mode, nil
}

func (s *Store) backupForeign(raw string, mode os.FileMode) error {
	backup := s.path + ".foreign.bak"
	if err := afero.WriteFile(s.fs, backup, []byte(raw), mode); err != nil {
		return newError(ErrIOFailure, err, "back up unmanaged %s", s.path)
	}
	log.Warn().Str("file", s.path).Str("backup", backup).Msg("file lacks registry header, saved a copy and bootstrapping")
	return nil
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return nil, newError(ErrIOFailure, err, "lock %s", s.path)
	}
	return func() {
		if err := unlock(); err != nil {
			log.Warn().Err(err).Str("file", s.path).Msg("failed to release registry lock")
		}
	}, nil
}

func (s *Store) logWarnings(warnings []ParseWarning) {
	for _, w := range warnings {
		log.Warn().Str("file", s.path).Int("line", w.Line).Str("name", w.Name).Str("kind", w.Kind).Msg(w.Reason)
	}
	ParseWarningsTotal.Add(float64(len(warnings)))
}

// Package sharedir prepares the directory behind an export. It is only
// called by front ends; the registry store never touches shared paths.
package sharedir

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Options controls what Prepare applies to an existing or newly created
// directory. Nil fields are left untouched.
type Options struct {
	Create bool
	Mode   *os.FileMode
	UID    *int
	GID    *int
}

// Prepare makes sure path exists as a directory (mkdir -p when Create is set)
// and applies mode and ownership when requested.
func Prepare(fsys afero.Fs, path string, opts Options) error {
	fi, err := fsys.Stat(path)
	switch {
	case err == nil && !fi.IsDir():
		return fmt.Errorf("%s exists and is not a directory", path)
	case os.IsNotExist(err) && opts.Create:
		mode := os.FileMode(0o755)
		if opts.Mode != nil {
			mode = opts.Mode.Perm()
		}
		if err := fsys.MkdirAll(path, mode); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("created share directory")
	case os.IsNotExist(err):
		return fmt.Errorf("%s does not exist", path)
	case err != nil:
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if opts.Mode != nil {
		if err := fsys.Chmod(path, *opts.Mode); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
		log.Debug().Str("path", path).Str("mode", fmt.Sprintf("%04o", UnixMode(*opts.Mode))).Msg("share directory mode set")
	}

	if opts.UID != nil || opts.GID != nil {
		uid, gid := -1, -1
		if opts.UID != nil {
			uid = *opts.UID
		}
		if opts.GID != nil {
			gid = *opts.GID
		}
		if err := fsys.Chown(path, uid, gid); err != nil {
			return fmt.Errorf("chown %s: %w", path, err)
		}
	}
	return nil
}

// ParseMode converts a traditional Unix octal mode string (e.g. "2770") to
// an os.FileMode. os.FileMode keeps setuid/setgid/sticky in its own bits,
// so os.FileMode(0o2770) would silently drop them.
func ParseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q: want octal 0000-7777", s)
	}
	return fileMode(v), nil
}

func fileMode(unixMode uint64) os.FileMode {
	m := os.FileMode(unixMode & 0o777)
	if unixMode&0o4000 != 0 {
		m |= os.ModeSetuid
	}
	if unixMode&0o2000 != 0 {
		m |= os.ModeSetgid
	}
	if unixMode&0o1000 != 0 {
		m |= os.ModeSticky
	}
	return m
}

// UnixMode is the inverse of ParseMode's conversion.
func UnixMode(m os.FileMode) uint64 {
	mode := uint64(m.Perm())
	if m&os.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if m&os.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if m&os.ModeSticky != 0 {
		mode |= 0o1000
	}
	return mode
}

package sharedir

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    os.FileMode
		wantErr bool
	}{
		{in: "755", want: 0o755},
		{in: "0750", want: 0o750},
		{in: "2770", want: 0o770 | os.ModeSetgid},
		{in: "4755", want: 0o755 | os.ModeSetuid},
		{in: "1777", want: 0o777 | os.ModeSticky},
		{in: "7777", want: 0o777 | os.ModeSetuid | os.ModeSetgid | os.ModeSticky},
		{in: "888", wantErr: true},
		{in: "17777", wantErr: true},
		{in: "", wantErr: true},
		{in: "rwx", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnixModeRoundTrip(t *testing.T) {
	for _, v := range []uint64{0o755, 0o2770, 0o4755, 0o1777, 0o7000} {
		assert.Equal(t, v, UnixMode(fileMode(v)), "mode %o", v)
	}
}

func TestPrepare(t *testing.T) {
	mode := func(m os.FileMode) *os.FileMode { return &m }

	t.Run("creates missing directory", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, Prepare(fsys, "/srv/share/a", Options{Create: true}))

		fi, err := fsys.Stat("/srv/share/a")
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	})

	t.Run("missing without create", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		assert.Error(t, Prepare(fsys, "/srv/share", Options{}))
	})

	t.Run("existing directory untouched", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, fsys.MkdirAll("/srv/share", 0o700))
		require.NoError(t, Prepare(fsys, "/srv/share", Options{Create: true}))

		fi, err := fsys.Stat("/srv/share")
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
	})

	t.Run("applies mode", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, fsys.MkdirAll("/srv/share", 0o700))
		require.NoError(t, Prepare(fsys, "/srv/share", Options{Mode: mode(0o775)}))

		fi, err := fsys.Stat("/srv/share")
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o775), fi.Mode().Perm())
	})

	t.Run("path is a file", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "/srv/file", []byte("x"), 0o644))
		assert.Error(t, Prepare(fsys, "/srv/file", Options{Create: true}))
	})

	t.Run("chown on read-only fs fails", func(t *testing.T) {
		base := afero.NewMemMapFs()
		require.NoError(t, base.MkdirAll("/srv/share", 0o755))
		uid := 1000
		assert.Error(t, Prepare(afero.NewReadOnlyFs(base), "/srv/share", Options{UID: &uid}))
	})
}

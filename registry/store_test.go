package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/erikmagkekse/nfs-exports-registry/utils"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPath = "/etc/exports.d/cockpit-file-sharing.exports"

type countingReloader struct {
	calls int
	err   error
}

func (r *countingReloader) Reload(context.Context) error {
	r.calls++
	return r.err
}

func newTestStore(t *testing.T, content *string) (*Store, afero.Fs, *countingReloader) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if content != nil {
		require.NoError(t, afero.WriteFile(fsys, testPath, []byte(*content), 0o644))
	}
	r := &countingReloader{}
	return New(fsys, testPath, 0o644, r, nil), fsys, r
}

func ptr(s string) *string { return &s }

func readTestFile(t *testing.T, fsys afero.Fs) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, testPath)
	require.NoError(t, err)
	return string(data)
}

func rules(pairs ...string) []ClientRule {
	var out []ClientRule
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, ClientRule{Host: pairs[i], Options: pairs[i+1]})
	}
	return out
}

func TestStoreBootstrapOnAdd(t *testing.T) {
	ctx := context.Background()
	s, fsys, r := newTestStore(t, nil)

	require.NoError(t, s.Add(ctx, "backup", "/srv/backup", rules("10.0.0.1", "rw")))

	assert.Equal(t, lines(HeaderMarker, "# Name: backup", `"/srv/backup" 10.0.0.1(rw)`), readTestFile(t, fsys))
	assert.Equal(t, 1, r.calls)

	info, err := fsys.Stat(testPath)
	require.NoError(t, err)
	assert.Equal(t, "-rw-r--r--", info.Mode().Perm().String())
}

func TestStoreBootstrapEmptyFile(t *testing.T) {
	s, fsys, _ := newTestStore(t, ptr(""))
	require.NoError(t, s.Add(context.Background(), "a", "/a", rules("h", "rw")))
	assert.True(t, strings.HasPrefix(readTestFile(t, fsys), HeaderMarker+"\n# Name: a\n"))
}

func TestStoreDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s, fsys, r := newTestStore(t, ptr(lines(HeaderMarker)))

	require.NoError(t, s.Add(ctx, "backup", "/srv/backup", rules("10.0.0.1", "rw")))
	err := s.Add(ctx, "backup", "/srv/backup", rules("10.0.0.1", "rw"))
	assert.True(t, IsCode(err, ErrAlreadyExists), "got %v", err)

	assert.Equal(t, 1, strings.Count(readTestFile(t, fsys), "# Name: backup\n"))
	assert.Equal(t, 1, r.calls, "failed add must not reload")
}

func TestStoreAddInvalid(t *testing.T) {
	ctx := context.Background()
	original := lines(HeaderMarker, "# Name: a", `"/a" h(rw)`)
	s, fsys, r := newTestStore(t, ptr(original))

	for _, tc := range []struct {
		name, path string
		clients    []ClientRule
	}{
		{"x", "/x", nil},
		{"", "/x", rules("h", "rw")},
		{"x", "relative", rules("h", "rw")},
		{"x", "/x", rules("bad host", "rw")},
		{"x", "/x", rules("h", "rw)")},
	} {
		err := s.Add(ctx, tc.name, tc.path, tc.clients)
		assert.True(t, IsCode(err, ErrInvalid), "%+v: got %v", tc, err)
	}

	assert.Equal(t, original, readTestFile(t, fsys))
	assert.Zero(t, r.calls)
}

func TestStoreCascadingRemoveClient(t *testing.T) {
	ctx := context.Background()
	s, fsys, r := newTestStore(t, ptr(lines(HeaderMarker,
		"# Name: web", `"/srv/web" 10.0.0.5(rw) 10.0.0.6(ro)`,
		"# Name: other", `"/srv/other" *(ro)`)))

	removed, err := s.RemoveClient(ctx, "web", "10.0.0.5")
	require.NoError(t, err)
	assert.False(t, removed)

	recs, _, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, rules("10.0.0.6", "ro"), recs[0].Clients)

	removed, err = s.RemoveClient(ctx, "web", "10.0.0.6")
	require.NoError(t, err)
	assert.True(t, removed)

	recs, _, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "other", recs[0].Name)
	assert.NotContains(t, readTestFile(t, fsys), "web")
	assert.Equal(t, 2, r.calls)
}

func TestStoreRemoveClientErrors(t *testing.T) {
	ctx := context.Background()
	s, _, r := newTestStore(t, ptr(lines(HeaderMarker, "# Name: web", `"/srv/web" 10.0.0.5(rw)`)))

	_, err := s.RemoveClient(ctx, "nope", "10.0.0.5")
	assert.True(t, IsCode(err, ErrNotFound))

	_, err = s.RemoveClient(ctx, "web", "10.0.0.9")
	assert.True(t, IsCode(err, ErrClientNotFound))

	// host match is exact
	_, err = s.RemoveClient(ctx, "web", "10.0.0.")
	assert.True(t, IsCode(err, ErrClientNotFound))

	assert.Zero(t, r.calls)
}

func TestStoreRemoveRecord(t *testing.T) {
	ctx := context.Background()
	s, fsys, r := newTestStore(t, ptr(lines(HeaderMarker,
		"# Name: a", `"/a" h(rw)`,
		"# Name: b", `"/b" h(rw)`)))

	require.NoError(t, s.RemoveRecord(ctx, "a"))
	assert.Equal(t, lines(HeaderMarker, "# Name: b", `"/b" h(rw)`), readTestFile(t, fsys))

	err := s.RemoveRecord(ctx, "a")
	assert.True(t, IsCode(err, ErrNotFound))
	assert.Equal(t, 1, r.calls)
}

func TestStoreEdit(t *testing.T) {
	ctx := context.Background()
	s, fsys, r := newTestStore(t, ptr(lines(HeaderMarker,
		"# Name: a", `"/a" h(rw)`,
		"# Name: b", `"/b" h(rw)`,
		"# Name: c", `"/c" h(rw)`)))

	require.NoError(t, s.Edit(ctx, "b", "bee", "/srv/bee", rules("10.0.0.1", "ro", "10.0.0.2", "rw")))

	recs, _, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "bee", recs[1].Name, "edit keeps position")
	assert.Equal(t, "/srv/bee", recs[1].Path)
	assert.Equal(t, lines(HeaderMarker,
		"# Name: a", `"/a" h(rw)`,
		"# Name: bee", `"/srv/bee" 10.0.0.1(ro) 10.0.0.2(rw)`,
		"# Name: c", `"/c" h(rw)`), readTestFile(t, fsys))

	// same name is fine
	require.NoError(t, s.Edit(ctx, "a", "a", "/a2", rules("h", "ro")))

	err = s.Edit(ctx, "missing", "x", "/x", rules("h", "rw"))
	assert.True(t, IsCode(err, ErrNotFound))

	err = s.Edit(ctx, "a", "c", "/c", rules("h", "rw"))
	assert.True(t, IsCode(err, ErrAlreadyExists))

	err = s.Edit(ctx, "a", "a", "/a", nil)
	assert.True(t, IsCode(err, ErrInvalid))

	assert.Equal(t, 2, r.calls)
}

func TestStoreListErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		s, fsys, _ := newTestStore(t, nil)
		_, _, err := s.List(ctx)
		assert.True(t, IsCode(err, ErrUnavailable))
		exists, _ := afero.Exists(fsys, testPath)
		assert.False(t, exists, "list must not create the file")
	})

	t.Run("unmarked", func(t *testing.T) {
		s, fsys, _ := newTestStore(t, ptr("/srv *(rw)\n"))
		_, _, err := s.List(ctx)
		assert.True(t, IsCode(err, ErrMissingHeader))
		assert.Equal(t, "/srv *(rw)\n", readTestFile(t, fsys))
	})
}

func TestStoreListIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, ptr(lines(HeaderMarker, "# Name: a", `"/a" h1(rw) h2(ro)`)))

	first, _, err := s.List(ctx)
	require.NoError(t, err)
	second, _, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStoreMalformedTolerance(t *testing.T) {
	ctx := context.Background()
	raw := lines(HeaderMarker,
		"# Name: good", `"/srv/good" *(rw)`,
		"# Name: bad", `"/srv/bad *(rw)`)
	s, fsys, _ := newTestStore(t, ptr(raw))

	recs, warnings, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "good", recs[0].Name)
	require.Len(t, warnings, 1)
	assert.Equal(t, ErrMalformedRecord, warnings[0].Kind)

	// a mutation keeps the malformed lines for the operator to fix
	require.NoError(t, s.Add(ctx, "new", "/srv/new", rules("h", "rw")))
	content := readTestFile(t, fsys)
	assert.Contains(t, content, "# Name: bad\n\"/srv/bad *(rw)\n")
	assert.Contains(t, content, "# Name: new\n")
}

func TestStoreMutationKeepsUnrelatedRecords(t *testing.T) {
	ctx := context.Background()
	raw := lines(HeaderMarker,
		"# Name: orphan",
		"# Name: a", `"/a" h(rw)`,
		`"/secret" *(rw,no_root_squash)`)

	tests := []struct {
		name   string
		mutate func(s *Store) error
		want   []string
	}{
		{"add", func(s *Store) error { return s.Add(ctx, "b", "/b", rules("h", "rw")) }, []string{"a", "b"}},
		{"edit", func(s *Store) error { return s.Edit(ctx, "a", "renamed", "/a", rules("h", "ro")) }, []string{"renamed"}},
		{"remove record", func(s *Store) error { return s.RemoveRecord(ctx, "a") }, []string{}},
		{"remove last client", func(s *Store) error {
			_, err := s.RemoveClient(ctx, "a", "h")
			return err
		}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fsys, _ := newTestStore(t, ptr(raw))
			require.NoError(t, tt.mutate(s))

			recs, warnings, err := s.List(ctx)
			require.NoError(t, err)
			names := []string{}
			for _, rec := range recs {
				names = append(names, rec.Name)
			}
			assert.Equal(t, tt.want, names)
			require.Len(t, warnings, 1)
			assert.Equal(t, "orphan", warnings[0].Name)

			content := readTestFile(t, fsys)
			assert.Contains(t, content, "# Name: orphan\n")
			assert.Contains(t, content, "\"/secret\" *(rw,no_root_squash)\n")
			assert.NotContains(t, content, "# Name: orphan\n\"/secret\"")
		})
	}
}

func TestStoreCRLFFile(t *testing.T) {
	ctx := context.Background()
	raw := strings.Join([]string{HeaderMarker, "# Name: web", `"/srv/web" h(rw)`, "# Name: db", `"/srv/db" h(rw)`}, "\r\n") + "\r\n"
	s, fsys, _ := newTestStore(t, ptr(raw))

	recs, _, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "web", recs[0].Name)

	require.NoError(t, s.RemoveRecord(ctx, "web"))
	assert.Equal(t, lines(HeaderMarker, "# Name: db", `"/srv/db" h(rw)`), readTestFile(t, fsys))
}

func TestStoreReloadFailure(t *testing.T) {
	ctx := context.Background()
	s, fsys, r := newTestStore(t, ptr(lines(HeaderMarker)))
	r.err = errors.New("exportfs: exit status 1")

	err := s.Add(ctx, "a", "/a", rules("h", "rw"))
	assert.True(t, IsCode(err, ErrReloadFailed))
	assert.ErrorIs(t, err, r.err)

	// the file stays authoritative
	assert.Contains(t, readTestFile(t, fsys), "# Name: a\n")
	assert.Equal(t, 1, r.calls)
}

func TestStoreReloadFailureExitCode(t *testing.T) {
	ctx := context.Background()
	s, _, r := newTestStore(t, ptr(lines(HeaderMarker)))
	_, r.err = (&utils.ShellRunner{}).Run(ctx, "sh", "-c", "exit 3")
	require.Error(t, r.err)

	err := s.Add(ctx, "a", "/a", rules("h", "rw"))
	assert.True(t, IsCode(err, ErrReloadFailed))
	assert.Contains(t, err.Error(), "sh exit code 3")

	var cmdErr *utils.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode())
}

func TestStoreWriteFailureLeavesFile(t *testing.T) {
	ctx := context.Background()
	original := lines(HeaderMarker, "# Name: a", `"/a" h(rw)`)
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, testPath, []byte(original), 0o644))

	r := &countingReloader{}
	s := New(afero.NewReadOnlyFs(base), testPath, 0o644, r, nil)

	err := s.RemoveRecord(ctx, "a")
	assert.True(t, IsCode(err, ErrIOFailure), "got %v", err)

	data, err := afero.ReadFile(base, testPath)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
	assert.Zero(t, r.calls)
}

func TestStoreForeignFileBackedUp(t *testing.T) {
	ctx := context.Background()
	foreign := "/srv/manual 10.0.0.0/8(rw)\n"
	s, fsys, _ := newTestStore(t, ptr(foreign))

	require.NoError(t, s.Add(ctx, "a", "/a", rules("h", "rw")))

	backup, err := afero.ReadFile(fsys, testPath+".foreign.bak")
	require.NoError(t, err)
	assert.Equal(t, foreign, string(backup))
	assert.Equal(t, lines(HeaderMarker, "# Name: a", `"/a" h(rw)`), readTestFile(t, fsys))
}

func TestStorePreservesFileMode(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, testPath, []byte(lines(HeaderMarker)), 0o600))
	s := New(fsys, testPath, 0o644, &countingReloader{}, nil)

	require.NoError(t, s.Add(ctx, "a", "/a", rules("h", "rw")))
	info, err := fsys.Stat(testPath)
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())
}

func TestStoreInit(t *testing.T) {
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		s, fsys, r := newTestStore(t, nil)
		written, err := s.Init(ctx)
		require.NoError(t, err)
		assert.True(t, written)
		assert.Equal(t, lines(HeaderMarker), readTestFile(t, fsys))
		assert.Zero(t, r.calls)

		recs, warnings, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, recs)
		assert.Empty(t, warnings)
	})

	t.Run("already managed", func(t *testing.T) {
		content := lines(HeaderMarker, "# Name: a", `"/a" h(rw)`)
		s, fsys, _ := newTestStore(t, ptr(content))
		written, err := s.Init(ctx)
		require.NoError(t, err)
		assert.False(t, written)
		assert.Equal(t, content, readTestFile(t, fsys))
	})

	t.Run("foreign", func(t *testing.T) {
		s, fsys, _ := newTestStore(t, ptr("hand written\n"))
		written, err := s.Init(ctx)
		require.NoError(t, err)
		assert.True(t, written)
		assert.Equal(t, lines(HeaderMarker), readTestFile(t, fsys))
		exists, _ := afero.Exists(fsys, testPath+".foreign.bak")
		assert.True(t, exists)
	})
}

func TestStoreMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("legacy", func(t *testing.T) {
		s, fsys, r := newTestStore(t, ptr(lines(LegacyHeaderMarker,
			"# Name: web", "/srv/web 10.0.0.5(rw)",
			"# Name: web", "/srv/web 10.0.0.6(ro)")))

		recs, _, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)

		n, err := s.Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, lines(HeaderMarker, "# Name: web", `"/srv/web" 10.0.0.5(rw) 10.0.0.6(ro)`), readTestFile(t, fsys))
		assert.Equal(t, 1, r.calls)
	})

	t.Run("canonical untouched", func(t *testing.T) {
		content := lines(HeaderMarker, "# Name: a", `"/a" h(rw)`)
		s, fsys, r := newTestStore(t, ptr(content))
		n, err := s.Migrate(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, content, readTestFile(t, fsys))
		assert.Zero(t, r.calls)
	})

	t.Run("mutation migrates implicitly", func(t *testing.T) {
		s, fsys, _ := newTestStore(t, ptr(lines(LegacyHeaderMarker, "# Name: old", "/srv/old *(rw)")))
		require.NoError(t, s.Add(ctx, "new", "/srv/new", rules("h", "ro")))
		assert.Equal(t, lines(HeaderMarker,
			"# Name: old", `"/srv/old" *(rw)`,
			"# Name: new", `"/srv/new" h(ro)`), readTestFile(t, fsys))
	})
}

func TestStoreSequentialAdds(t *testing.T) {
	ctx := context.Background()
	s, _, r := newTestStore(t, nil)

	names := []string{"one", "two", "three"}
	for _, n := range names {
		require.NoError(t, s.Add(ctx, n, "/srv/"+n, rules("*", "rw")))
	}

	recs, _, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, n := range names {
		assert.Equal(t, n, recs[i].Name)
	}
	assert.Equal(t, 3, r.calls)
}

func TestStoreUsesLocker(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	l := &recordingLocker{}
	s := New(fsys, testPath, 0, &countingReloader{}, l)

	require.NoError(t, s.Add(ctx, "a", "/a", rules("h", "rw")))
	assert.Equal(t, 1, l.locks)
	assert.Equal(t, 1, l.unlocks)

	l.err = errors.New("busy")
	err := s.Add(ctx, "b", "/b", rules("h", "rw"))
	assert.True(t, IsCode(err, ErrIOFailure))
}

type recordingLocker struct {
	locks, unlocks int
	err            error
}

func (l *recordingLocker) Lock(context.Context) (func() error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locks++
	return func() error {
		l.unlocks++
		return nil
	}, nil
}

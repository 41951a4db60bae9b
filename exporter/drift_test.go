package exporter

import (
	"context"
	"fmt"
	"testing"

	"github.com/erikmagkekse/nfs-exports-registry/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(name, path string, hosts ...string) registry.ExportRecord {
	rec := registry.ExportRecord{Name: name, Path: path}
	for _, h := range hosts {
		rec.Clients = append(rec.Clients, registry.ClientRule{Host: h, Options: "rw"})
	}
	return rec
}

func TestDrift(t *testing.T) {
	records := []registry.ExportRecord{
		record("share", "/srv/share", "192.168.1.0/24", "10.0.0.5"),
		record("pub", "/srv/pub", "*"),
	}

	t.Run("in sync", func(t *testing.T) {
		live := []ExportInfo{
			{Path: "/srv/share", Client: "192.168.1.0/24", Options: "rw,sync,wdelay"},
			{Path: "/srv/share", Client: "10.0.0.5", Options: "rw,sync"},
			{Path: "/srv/pub", Client: "*", Options: "rw"},
			{Path: "/other", Client: "10.9.9.9", Options: "ro"},
		}
		report := Drift(records, live)
		assert.True(t, report.InSync())
		assert.Empty(t, report.Missing)
		assert.Empty(t, report.Unmanaged)
	})

	t.Run("missing and unmanaged", func(t *testing.T) {
		live := []ExportInfo{
			{Path: "/srv/share", Client: "192.168.1.0/24"},
			{Path: "/srv/share", Client: "10.0.0.99"},
		}
		report := Drift(records, live)
		assert.False(t, report.InSync())
		assert.Equal(t, []ExportInfo{
			{Path: "/srv/share", Client: "10.0.0.5", Options: "rw"},
			{Path: "/srv/pub", Client: "*", Options: "rw"},
		}, report.Missing)
		assert.Equal(t, []ExportInfo{{Path: "/srv/share", Client: "10.0.0.99"}}, report.Unmanaged)
	})

	t.Run("empty inputs", func(t *testing.T) {
		report := Drift(nil, nil)
		assert.True(t, report.InSync())
		assert.NotNil(t, report.Missing)
		assert.NotNil(t, report.Unmanaged)
	})
}

type fakeLister struct {
	records []registry.ExportRecord
	err     error
}

func (f *fakeLister) List(context.Context) ([]registry.ExportRecord, []registry.ParseWarning, error) {
	return f.records, nil, f.err
}

type fakeExporter struct {
	live    []ExportInfo
	listErr error
	reloads int
}

func (f *fakeExporter) Reload(context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeExporter) ListExports(context.Context) ([]ExportInfo, error) {
	return f.live, f.listErr
}

func TestStatus(t *testing.T) {
	lister := &fakeLister{records: []registry.ExportRecord{record("share", "/srv/share", "*")}}

	report, err := Status(context.Background(), lister, &fakeExporter{})
	require.NoError(t, err)
	assert.Len(t, report.Missing, 1)

	_, err = Status(context.Background(), lister, &fakeExporter{listErr: fmt.Errorf("exportfs failed")})
	assert.Error(t, err)

	_, err = Status(context.Background(), &fakeLister{err: fmt.Errorf("boom")}, &fakeExporter{})
	assert.Error(t, err)
}

func TestReconcile(t *testing.T) {
	lister := &fakeLister{records: []registry.ExportRecord{record("share", "/srv/share", "*")}}

	t.Run("reloads on missing grants", func(t *testing.T) {
		exp := &fakeExporter{}
		reconcile(context.Background(), lister, exp)
		assert.Equal(t, 1, exp.reloads)
	})

	t.Run("no reload when only unmanaged", func(t *testing.T) {
		exp := &fakeExporter{live: []ExportInfo{
			{Path: "/srv/share", Client: "*"},
			{Path: "/srv/share", Client: "10.0.0.1"},
		}}
		reconcile(context.Background(), lister, exp)
		assert.Equal(t, 0, exp.reloads)
	})

	t.Run("no reload on list error", func(t *testing.T) {
		exp := &fakeExporter{}
		reconcile(context.Background(), &fakeLister{err: fmt.Errorf("boom")}, exp)
		assert.Equal(t, 0, exp.reloads)
	})
}

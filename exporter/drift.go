package exporter

import (
	"github.com/erikmagkekse/nfs-exports-registry/registry"
)

// DriftReport compares the registry with the live export table. Only
// host patterns are compared; exportfs expands options with defaults.
type DriftReport struct {
	// Missing are registry grants the kernel does not export.
	Missing []ExportInfo `json:"missing"`
	// Unmanaged are live clients on registry paths that no record grants.
	Unmanaged []ExportInfo `json:"unmanaged"`
}

func (d DriftReport) InSync() bool {
	return len(d.Missing) == 0 && len(d.Unmanaged) == 0
}

func Drift(records []registry.ExportRecord, live []ExportInfo) DriftReport {
	type key struct{ path, client string }

	liveSet := make(map[key]bool, len(live))
	for _, e := range live {
		liveSet[key{e.Path, e.Client}] = true
	}

	want := map[key]bool{}
	managed := map[string]bool{}
	report := DriftReport{Missing: []ExportInfo{}, Unmanaged: []ExportInfo{}}
	for _, rec := range records {
		managed[rec.Path] = true
		for _, c := range rec.Clients {
			k := key{rec.Path, c.Host}
			want[k] = true
			if !liveSet[k] {
				report.Missing = append(report.Missing, ExportInfo{Path: rec.Path, Client: c.Host, Options: c.Options})
			}
		}
	}

	for _, e := range live {
		if managed[e.Path] && !want[key{e.Path, e.Client}] {
			report.Unmanaged = append(report.Unmanaged, e)
		}
	}
	return report
}

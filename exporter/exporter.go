package exporter

import "context"

// ExportInfo is one path/client pair of the live kernel export table.
type ExportInfo struct {
	Path    string `json:"path"`
	Client  string `json:"client"`
	Options string `json:"options,omitempty"`
}

// Exporter applies the exports file to the running NFS server and reads
// back what the kernel currently exports.
type Exporter interface {
	Reload(ctx context.Context) error
	ListExports(ctx context.Context) ([]ExportInfo, error)
}

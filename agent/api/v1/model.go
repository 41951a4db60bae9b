package v1

import (
	"github.com/erikmagkekse/nfs-exports-registry/exporter"
	"github.com/erikmagkekse/nfs-exports-registry/registry"
)

type (
	ExportRecord = registry.ExportRecord
	ClientRule   = registry.ClientRule
	ParseWarning = registry.ParseWarning
	DriftReport  = exporter.DriftReport
)

// request models

// ExportCreateRequest adds an export. CreateDir, Mode, UID and GID prepare
// the shared directory before the record is written.
type ExportCreateRequest struct {
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	Clients   []ClientRule `json:"clients"`
	CreateDir bool         `json:"create_dir"`
	Mode      string       `json:"mode,omitempty"`
	UID       *int         `json:"uid,omitempty"`
	GID       *int         `json:"gid,omitempty"`
}

// ExportUpdateRequest replaces the export addressed in the URL. The name may
// differ from the URL to rename it. The directory fields work as on create.
type ExportUpdateRequest struct {
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	Clients   []ClientRule `json:"clients"`
	CreateDir bool         `json:"create_dir"`
	Mode      string       `json:"mode,omitempty"`
	UID       *int         `json:"uid,omitempty"`
	GID       *int         `json:"gid,omitempty"`
}

// response models

type ExportListResponse struct {
	Exports  []ExportRecord `json:"exports"`
	Warnings []ParseWarning `json:"warnings"`
	Total    int            `json:"total"`
}

type ClientRemoveResponse struct {
	ExportRemoved bool `json:"export_removed"`
}

type StatusResponse struct {
	File   string      `json:"file"`
	InSync bool        `json:"in_sync"`
	Drift  DriftReport `json:"drift"`
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Commit        string            `json:"commit"`
	UptimeSeconds int               `json:"uptime_seconds"`
	Features      map[string]string `json:"features"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

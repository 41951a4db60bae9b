package v1

import (
	"net/http"

	"github.com/erikmagkekse/nfs-exports-registry/exporter"
	"github.com/erikmagkekse/nfs-exports-registry/registry"
	"github.com/erikmagkekse/nfs-exports-registry/sharedir"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Handler struct {
	Store    *registry.Store
	Exporter exporter.Exporter
	// Fs is where shared directories are prepared.
	Fs afero.Fs
}

// --- Exports ---

func (h *Handler) ListExports(c *echo.Context) error {
	recs, warnings, err := h.Store.List(c.Request().Context())
	if err != nil {
		return RegistryError(c, err)
	}
	if recs == nil {
		recs = []ExportRecord{}
	}
	if warnings == nil {
		warnings = []ParseWarning{}
	}
	return c.JSON(http.StatusOK, ExportListResponse{Exports: recs, Warnings: warnings, Total: len(recs)})
}

func (h *Handler) CreateExport(c *echo.Context) error {
	var req ExportCreateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	rec, err := registry.NewExportRecord(req.Name, req.Path, req.Clients)
	if err != nil {
		return RegistryError(c, err)
	}
	if err := registry.Validate(rec); err != nil {
		return RegistryError(c, err)
	}

	if ok, err := h.prepareDir(c, rec.Path, req.CreateDir, req.Mode, req.UID, req.GID); !ok {
		return err
	}

	if err := h.Store.Add(c.Request().Context(), rec.Name, rec.Path, rec.Clients); err != nil {
		return RegistryError(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) UpdateExport(c *echo.Context) error {
	target := param(c, "name")

	var req ExportUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Name == "" {
		req.Name = target
	}

	rec, err := registry.NewExportRecord(req.Name, req.Path, req.Clients)
	if err != nil {
		return RegistryError(c, err)
	}
	if err := registry.Validate(rec); err != nil {
		return RegistryError(c, err)
	}
	if ok, err := h.prepareDir(c, rec.Path, req.CreateDir, req.Mode, req.UID, req.GID); !ok {
		return err
	}

	if err := h.Store.Edit(c.Request().Context(), target, rec.Name, rec.Path, rec.Clients); err != nil {
		return RegistryError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// prepareDir creates or adjusts the shared directory when the request asks
// for it. On failure the error response is already written and ok is false.
func (h *Handler) prepareDir(c *echo.Context, path string, createDir bool, mode string, uid, gid *int) (ok bool, err error) {
	opts := sharedir.Options{Create: createDir, UID: uid, GID: gid}
	if mode != "" {
		m, err := sharedir.ParseMode(mode)
		if err != nil {
			return false, badRequest(c, err.Error())
		}
		opts.Mode = &m
	}
	if !createDir && opts.Mode == nil && uid == nil && gid == nil {
		return true, nil
	}
	if err := sharedir.Prepare(h.Fs, path, opts); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to prepare share directory")
		return false, c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: registry.ErrIOFailure})
	}
	return true, nil
}

func (h *Handler) DeleteExport(c *echo.Context) error {
	if err := h.Store.RemoveRecord(c.Request().Context(), param(c, "name")); err != nil {
		return RegistryError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteClient(c *echo.Context) error {
	removed, err := h.Store.RemoveClient(c.Request().Context(), param(c, "name"), param(c, "host"))
	if err != nil {
		return RegistryError(c, err)
	}
	return c.JSON(http.StatusOK, ClientRemoveResponse{ExportRemoved: removed})
}

// --- Kernel state ---

func (h *Handler) Reload(c *echo.Context) error {
	if err := h.Exporter.Reload(c.Request().Context()); err != nil {
		log.Error().Err(err).Msg("manual reload failed")
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: registry.ErrReloadFailed})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Status(c *echo.Context) error {
	report, err := exporter.Status(c.Request().Context(), h.Store, h.Exporter)
	if err != nil {
		if registry.CodeOf(err) != "" {
			return RegistryError(c, err)
		}
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "EXPORTFS_FAILED"})
	}
	return c.JSON(http.StatusOK, StatusResponse{File: h.Store.Path(), InSync: report.InSync(), Drift: report})
}

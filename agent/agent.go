package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	v1 "github.com/erikmagkekse/nfs-exports-registry/agent/api/v1"
	"github.com/erikmagkekse/nfs-exports-registry/exporter"
	"github.com/erikmagkekse/nfs-exports-registry/model"
	"github.com/erikmagkekse/nfs-exports-registry/registry"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Agent struct {
	cfg     *model.Config
	version string
	commit  string
	store   *registry.Store
	exp     exporter.Exporter
	fs      afero.Fs
	echo    *echo.Echo
}

func NewAgent(cfg *model.Config, store *registry.Store, exp exporter.Exporter, fsys afero.Fs, version, commit string) *Agent {
	return &Agent{cfg: cfg, store: store, exp: exp, fs: fsys, version: version, commit: commit}
}

// Handler builds the echo instance with all routes registered.
func (a *Agent) Handler() *echo.Echo {
	if a.echo != nil {
		return a.echo
	}
	e := echo.New()

	e.Use(v1.MetricsMiddleware())

	features := map[string]string{
		"exports_file": a.store.Path(),
	}
	if a.cfg.ReloadService != "" {
		features["reload_service"] = a.cfg.ReloadService
	}
	if a.cfg.ReconcileInterval > 0 {
		features["reconcile"] = a.cfg.ReconcileInterval.String()
	}

	// unauthenticated endpoints
	e.GET("/healthz", v1.Healthz(a.version, a.commit, features, func(ctx context.Context) error {
		_, _, err := a.store.List(ctx)
		return err
	}))
	e.GET("/metrics", v1.MetricsHandler())

	h := &v1.Handler{Store: a.store, Exporter: a.exp, Fs: a.fs}

	tokens := v1.ParseTokens(a.cfg.Tokens)
	if len(tokens) == 0 {
		log.Warn().Msg("API_TOKENS is empty, every /v1 request will be rejected")
	}
	api := e.Group("/v1", v1.AuthMiddleware(tokens))

	api.GET("/exports", h.ListExports)
	api.POST("/exports", h.CreateExport)
	api.PUT("/exports/:name", h.UpdateExport)
	api.DELETE("/exports/:name", h.DeleteExport)
	api.DELETE("/exports/:name/clients/:host", h.DeleteClient)

	api.POST("/reload", h.Reload)
	api.GET("/status", h.Status)

	a.echo = e
	return e
}

// Run serves the API and runs the reconciler until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	e := a.Handler()

	if a.cfg.ReconcileInterval > 0 {
		exporter.StartReconciler(ctx, a.store, a.exp, a.cfg.ReconcileInterval)
	}

	s := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tlsEnabled := a.cfg.TLSCert != "" && a.cfg.TLSKey != ""
	if tlsEnabled {
		s.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			log.Info().Str("addr", a.cfg.ListenAddr).Msg("starting agent with TLS")
			err = s.ListenAndServeTLS(a.cfg.TLSCert, a.cfg.TLSKey)
		} else {
			log.Warn().Str("addr", a.cfg.ListenAddr).Msg("starting agent without TLS - set API_TLS_CERT and API_TLS_KEY for production")
			err = s.ListenAndServe()
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down agent")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

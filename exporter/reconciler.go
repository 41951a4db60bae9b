package exporter

import (
	"context"
	"time"

	"github.com/erikmagkekse/nfs-exports-registry/registry"

	"github.com/rs/zerolog/log"
)

// Lister is the read side of the registry store.
type Lister interface {
	List(ctx context.Context) ([]registry.ExportRecord, []registry.ParseWarning, error)
}

// Status loads the registry and the live table and compares them.
func Status(ctx context.Context, store Lister, exp Exporter) (DriftReport, error) {
	records, _, err := store.List(ctx)
	if err != nil {
		return DriftReport{}, err
	}
	live, err := exp.ListExports(ctx)
	if err != nil {
		return DriftReport{}, err
	}
	return Drift(records, live), nil
}

// StartReconciler periodically compares the registry file with the kernel
// export table and reloads when registry grants are missing from it.
func StartReconciler(ctx context.Context, store Lister, exp Exporter, interval time.Duration) {
	go func() {
		reconcile(ctx, store, exp)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reconcile(ctx, store, exp)
			}
		}
	}()
}

func reconcile(ctx context.Context, store Lister, exp Exporter) {
	report, err := Status(ctx, store, exp)
	if err != nil {
		log.Error().Err(err).Msg("exports reconciler: failed to compare registry with kernel")
		return
	}

	MissingGauge.Set(float64(len(report.Missing)))
	UnmanagedGauge.Set(float64(len(report.Unmanaged)))

	for _, e := range report.Unmanaged {
		log.Warn().Str("path", e.Path).Str("client", e.Client).Msg("exports reconciler: live export not in registry")
	}
	if len(report.Missing) == 0 {
		return
	}

	for _, e := range report.Missing {
		log.Warn().Str("path", e.Path).Str("client", e.Client).Msg("exports reconciler: registry export not live")
	}
	if err := exp.Reload(ctx); err != nil {
		log.Error().Err(err).Msg("exports reconciler: reload failed")
		return
	}
	log.Info().Int("missing", len(report.Missing)).Msg("exports reconciler: reloaded exports")
}

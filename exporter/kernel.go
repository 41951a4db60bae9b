package exporter

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/erikmagkekse/nfs-exports-registry/utils"

	"github.com/rs/zerolog/log"
)

type KernelExporter struct {
	exportfs  string
	systemctl string
	service   string
	timeout   time.Duration
	cmd       utils.Runner
}

// NewKernelExporter drives the kernel NFS server through exportfs. When
// service is set, every reload also restarts that systemd unit.
func NewKernelExporter(exportfs, systemctl, service string, timeout time.Duration) *KernelExporter {
	return &KernelExporter{
		exportfs:  exportfs,
		systemctl: systemctl,
		service:   service,
		timeout:   timeout,
		cmd:       &utils.ShellRunner{},
	}
}

// Reload re-exports everything from /etc/exports and /etc/exports.d and
// drops exports that are no longer listed there.
func (e *KernelExporter) Reload(ctx context.Context) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	if _, err := e.cmd.Run(ctx, e.exportfs, "-ra"); err != nil {
		reloadsTotal.WithLabelValues("error").Inc()
		return err
	}

	if e.service != "" {
		if _, err := e.cmd.Run(ctx, e.systemctl, "restart", e.service); err != nil {
			reloadsTotal.WithLabelValues("error").Inc()
			return err
		}
		log.Debug().Str("service", e.service).Msg("nfs service restarted")
	}

	reloadsTotal.WithLabelValues("success").Inc()
	reloadDuration.Observe(time.Since(start).Seconds())
	log.Debug().Dur("duration", time.Since(start)).Msg("exports reloaded")
	return nil
}

// ListExports returns all path+client pairs currently exported.
// exportfs -v wraps long paths onto two lines:
//
//	/short/path  client(opts)
//	/very/long/path
//	        client(opts)
func (e *KernelExporter) ListExports(ctx context.Context) ([]ExportInfo, error) {
	out, err := e.cmd.Run(ctx, e.exportfs, "-v")
	if err != nil {
		return nil, err
	}
	return parseExports(out), nil
}

// parseExports parses the output of exportfs -v into export entries.
func parseExports(output string) []ExportInfo {
	var exports []ExportInfo
	var currentPath string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		indented := strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ")
		switch {
		case !indented && len(fields) >= 2:
			exports = append(exports, exportInfo(fields[0], fields[1]))
			currentPath = ""
		case !indented:
			currentPath = fields[0]
		case currentPath != "":
			exports = append(exports, exportInfo(currentPath, fields[0]))
			currentPath = ""
		}
	}
	return exports
}

func exportInfo(path, client string) ExportInfo {
	host, opts, _ := strings.Cut(client, "(")
	return ExportInfo{
		Path:    unescapePath(path),
		Client:  host,
		Options: strings.TrimSuffix(opts, ")"),
	}
}

// unescapePath decodes the \ooo octal escapes exportfs uses for blanks and
// other special characters in paths.
func unescapePath(p string) string {
	if !strings.Contains(p, `\`) {
		return p
	}
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' && i+3 < len(p) && isOctal(p[i+1:i+4]) {
			n, _ := strconv.ParseUint(p[i+1:i+4], 8, 8)
			b.WriteByte(byte(n))
			i += 3
			continue
		}
		b.WriteByte(p[i])
	}
	return b.String()
}

func isOctal(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < '0' || s[i] > '7' {
			return false
		}
	}
	return s[0] <= '3'
}

package model

import "time"

// AppName is the binary name used in usage text and error output.
const AppName = "exportsctl"

const DefaultExportsFile = "/etc/exports.d/cockpit-file-sharing.exports"

type Config struct {
	ExportsFile       string        `env:"EXPORTS_FILE" envDefault:"/etc/exports.d/cockpit-file-sharing.exports"`
	FileMode          string        `env:"EXPORTS_FILE_MODE" envDefault:"0644"`
	Lock              bool          `env:"EXPORTS_LOCK" envDefault:"true"`
	ExportfsBin       string        `env:"EXPORTFS_BIN" envDefault:"exportfs"`
	SystemctlBin      string        `env:"SYSTEMCTL_BIN" envDefault:"systemctl"`
	ReloadService     string        `env:"EXPORTS_RELOAD_SERVICE"`
	ReloadTimeout     time.Duration `env:"EXPORTS_RELOAD_TIMEOUT" envDefault:"30s"`
	ListenAddr        string        `env:"API_LISTEN_ADDR" envDefault:":8080"`
	Tokens            string        `env:"API_TOKENS"`
	TLSCert           string        `env:"API_TLS_CERT"`
	TLSKey            string        `env:"API_TLS_KEY"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
}

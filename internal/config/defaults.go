// Package config loads blobsync configuration from defaults, a config
// file, a .env file, BLOBSYNC_* environment variables and command flags.
package config

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/gezibash/blobsync/internal/transfer"
)

// EnvPrefix is prepended to environment variable names.
const EnvPrefix = "BLOBSYNC"

// setDefaults leaves store.config and ledger.config empty so each
// backend's own defaults apply.
func setDefaults(v *viper.Viper) {
	opts := transfer.DefaultOptions()

	v.SetDefault("transfer.max_block_size", humanize.IBytes(uint64(opts.MaxBlockSize)))
	v.SetDefault("transfer.size_threshold", humanize.IBytes(uint64(opts.SizeThreshold)))
	v.SetDefault("transfer.block_id_width", opts.BlockIDWidth)
	v.SetDefault("transfer.report_start", opts.ReportStart)
	v.SetDefault("transfer.report_completion", opts.ReportCompletion)
	v.SetDefault("transfer.key_prefix", "")

	v.SetDefault("store.backend", "fs")
	v.SetDefault("ledger.backend", "sqlite")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.service_name", "blobsync")
	v.SetDefault("observability.service_version", "dev")
}

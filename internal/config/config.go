package config

import (
	"errors"
	"fmt"

	"github.com/gezibash/blobsync/internal/storage"
	"github.com/gezibash/blobsync/internal/transfer"
)

// Config is the full blobsync configuration.
type Config struct {
	Transfer      TransferConfig      `mapstructure:"transfer"`
	Store         BackendConfig       `mapstructure:"store"`
	Ledger        BackendConfig       `mapstructure:"ledger"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// TransferConfig mirrors transfer.Options. Sizes accept plain byte counts
// or human-readable strings such as "4MiB".
type TransferConfig struct {
	MaxBlockSize     string `mapstructure:"max_block_size"`
	SizeThreshold    string `mapstructure:"size_threshold"`
	BlockIDWidth     int    `mapstructure:"block_id_width"`
	ReportStart      bool   `mapstructure:"report_start"`
	ReportCompletion bool   `mapstructure:"report_completion"`
	KeyPrefix        string `mapstructure:"key_prefix"`
}

// BackendConfig selects a registered backend and its settings.
type BackendConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// Options converts the transfer block into validated transfer.Options.
func (c TransferConfig) Options() (transfer.Options, error) {
	var errs []error

	maxBlock, err := storage.ParseSize("transfer.max_block_size", c.MaxBlockSize)
	if err != nil {
		errs = append(errs, err)
	}
	threshold, err := storage.ParseSize("transfer.size_threshold", c.SizeThreshold)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return transfer.Options{}, errors.Join(errs...)
	}

	opts := transfer.Options{
		MaxBlockSize:     maxBlock,
		SizeThreshold:    threshold,
		BlockIDWidth:     c.BlockIDWidth,
		ReportStart:      c.ReportStart,
		ReportCompletion: c.ReportCompletion,
		KeyPrefix:        c.KeyPrefix,
	}
	if err := opts.Validate(); err != nil {
		return transfer.Options{}, fmt.Errorf("transfer config: %w", err)
	}
	return opts, nil
}

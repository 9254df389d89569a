package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BindFlags registers the global flags on cmd and binds them to v.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()

	f.String("config", "", "config file path")
	f.String("env-file", ".env", "dotenv file loaded before reading the environment")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")
	f.String("metrics-addr", "", "serve /metrics and /health on this address during the run")
	f.String("store", "", "object store backend")
	f.String("ledger", "", "ledger backend")
	f.String("block-size", "", "maximum block size for chunked transfers (e.g. 4MiB; s3 needs at least 5MiB)")
	f.String("threshold", "", "size above which transfers are chunked (e.g. 12MiB)")
	f.String("prefix", "", "object key prefix")

	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("store.backend", f.Lookup("store"))
	_ = v.BindPFlag("ledger.backend", f.Lookup("ledger"))
	_ = v.BindPFlag("transfer.max_block_size", f.Lookup("block-size"))
	_ = v.BindPFlag("transfer.size_threshold", f.Lookup("threshold"))
	_ = v.BindPFlag("transfer.key_prefix", f.Lookup("prefix"))
}

// LoadDotEnv loads path into the process environment. Variables already
// set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads config from flags, env, and file, returning the merged Config.
// Without an explicit configFile, blobsync.{hcl,yaml,toml,json} is looked
// up in ., ~/.blobsync and /etc/blobsync; not finding one is fine.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("blobsync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.blobsync")
		v.AddConfigPath("/etc/blobsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

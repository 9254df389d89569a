package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/blobsync/internal/cli"
	"github.com/gezibash/blobsync/internal/config"
	"github.com/gezibash/blobsync/internal/ledger"
	"github.com/gezibash/blobsync/internal/localfs"
	"github.com/gezibash/blobsync/internal/objectstore"
	"github.com/gezibash/blobsync/internal/observability"
	"github.com/gezibash/blobsync/internal/transfer"

	// Register ledger backends
	_ "github.com/gezibash/blobsync/internal/ledger/memory"
	_ "github.com/gezibash/blobsync/internal/ledger/redis"
	_ "github.com/gezibash/blobsync/internal/ledger/sqlite"

	// Register object store backends
	_ "github.com/gezibash/blobsync/internal/objectstore/badger"
	_ "github.com/gezibash/blobsync/internal/objectstore/fs"
	_ "github.com/gezibash/blobsync/internal/objectstore/memory"
	_ "github.com/gezibash/blobsync/internal/objectstore/s3"
)

const shutdownTimeout = 5 * time.Second

// needs selects what a session opens besides config and observability.
type needs struct {
	store  bool
	ledger bool
}

// session holds what one command run needs. Close releases it in reverse
// order of creation.
type session struct {
	cfg      config.Config
	obs      *observability.Observability
	fs       *localfs.FileSystem
	store    objectstore.Backend
	ledger   ledger.Backend
	transfer *transfer.Transferer
}

func openSession(ctx context.Context, cmd *cobra.Command, v *viper.Viper, n needs) (_ *session, err error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}

	oc := cfg.Observability
	obs, err := observability.New(ctx, observability.ObsConfig{
		LogLevel:       oc.LogLevel,
		LogFormat:      oc.LogFormat,
		OTLPEndpoint:   oc.OTLPEndpoint,
		OTLPProtocol:   oc.OTLPProtocol,
		ServiceName:    oc.ServiceName,
		ServiceVersion: oc.ServiceVersion,
	}, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	s := &session{cfg: cfg, obs: obs, fs: localfs.OS()}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if oc.MetricsAddr != "" {
		if _, err := obs.ServeMetrics(ctx, oc.MetricsAddr); err != nil {
			return nil, err
		}
	}

	if n.store {
		if err := s.openStore(ctx); err != nil {
			return nil, err
		}
	}
	if n.ledger {
		if err := s.openLedger(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *session) openStore(ctx context.Context) error {
	opts, err := s.cfg.Transfer.Options()
	if err != nil {
		return err
	}
	store, err := objectstore.New(ctx, s.cfg.Store.Backend, s.cfg.Store.Config)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	s.store = store

	t, err := transfer.New(store, s.fs, opts, s.obs.Metrics)
	if err != nil {
		return err
	}
	s.transfer = t
	slog.DebugContext(ctx, "object store ready", "backend", s.cfg.Store.Backend,
		"max_block_size", opts.MaxBlockSize, "size_threshold", opts.SizeThreshold)
	return nil
}

func (s *session) openLedger(ctx context.Context) error {
	l, err := ledger.New(ctx, s.cfg.Ledger.Backend, s.cfg.Ledger.Config)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	s.ledger = l
	slog.DebugContext(ctx, "ledger ready", "backend", s.cfg.Ledger.Backend)
	return nil
}

// Close releases the ledger, the store and observability.
func (s *session) Close() error {
	var errs []error
	if s.ledger != nil {
		errs = append(errs, s.ledger.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs = append(errs, s.obs.Close(ctx))
	return errors.Join(errs...)
}

// runSession runs fn inside cli.RunCommand with an open session.
func runSession(cmd *cobra.Command, v *viper.Viper, name string, n needs, timeout time.Duration,
	fn func(ctx context.Context, s *session, out *cli.Output) error,
) error {
	format, err := cli.ParseFormat(cmd.Flag("output").Value.String())
	if err != nil {
		return err
	}
	return cli.RunCommand(cmd.Context(), cli.CommandConfig{
		Name:    name,
		Format:  format,
		Stdout:  cmd.OutOrStdout(),
		Timeout: timeout,
		Run: func(ctx context.Context, out *cli.Output) (err error) {
			s, err := openSession(ctx, cmd, v, n)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()
			return fn(ctx, s, out)
		},
	})
}

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/blobsync/internal/cli"
	"github.com/gezibash/blobsync/internal/syncer"
)

func newDownloadCmd(v *viper.Viper) *cobra.Command {
	var (
		progress string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "download <key> <dest>",
		Short: "Download an object to a local file",
		Long: `Download an object to a local file.

Parent directories of <dest> are created. When the store knows the object's
modification time it is applied to <dest>. A failed download may leave
<dest> partially written.

Examples:
  blobsync download backup/2026/photos/cat.jpg ./cat.jpg
  blobsync download --progress plain datasets/train.parquet /tmp/train.parquet`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, dest := args[0], args[1]
			mode, err := parseProgressMode(progress)
			if err != nil {
				return err
			}

			return runSession(cmd, v, "download", needs{store: true, ledger: true}, timeout,
				func(ctx context.Context, s *session, out *cli.Output) error {
					runner := syncer.New(s.transfer, s.fs, s.ledger, syncer.Options{})

					bar := newProgressPrinter(cmd.ErrOrStderr(), mode)
					res, err := runner.Download(ctx, key, dest, bar)
					bar.Done()
					if err != nil {
						return err
					}

					return out.KV("download").
						Set("Key", res.Key).
						Set("Path", res.LocalPath).
						Set("Strategy", res.Strategy.String()).
						Set("Size", cli.Bytes(res.SizeBytes)).
						Set("Size Bytes", res.SizeBytes).
						Set("Blocks", res.Blocks).
						Set("Last Modified", cli.Time(res.LastModified)).
						Set("Duration", cli.Duration(res.Duration)).
						Render()
				})
		},
	}

	cmd.Flags().StringVar(&progress, "progress", string(progressAuto), "progress display (auto, tty, plain)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the download after this long (0 = no limit)")

	return cmd
}

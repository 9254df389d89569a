package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/blobsync/internal/cli"
	"github.com/gezibash/blobsync/internal/ledger"
	"github.com/gezibash/blobsync/internal/transfer"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	var (
		limit     int
		direction string
	)

	cmd := &cobra.Command{
		Use:   "history [prefix]",
		Short: "List recorded transfers, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch transfer.Direction(direction) {
			case "", transfer.DirectionUpload, transfer.DirectionDownload:
			default:
				return fmt.Errorf("--direction must be upload or download, got %q", direction)
			}
			opts := &ledger.ListOptions{Direction: direction, Limit: limit}
			if len(args) == 1 {
				opts.Prefix = args[0]
			}

			return runSession(cmd, v, "history", needs{ledger: true}, 0,
				func(ctx context.Context, s *session, out *cli.Output) error {
					entries, err := s.ledger.List(ctx, opts)
					if err != nil {
						return err
					}

					tbl := out.Table("history", "Completed", "Direction", "Key", "Strategy", "Size", "Blocks", "Local Path")
					for _, e := range entries {
						tbl.AddRow(
							cli.Time(e.CompletedAt),
							e.Direction,
							e.Key,
							e.Strategy,
							cli.Bytes(e.SizeBytes),
							fmt.Sprint(e.Blocks),
							e.LocalPath,
						)
					}
					return tbl.AlignRight(4, 5).Render()
				})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", ledger.DefaultListLimit, "maximum number of entries")
	cmd.Flags().StringVar(&direction, "direction", "", "only show upload or download entries")

	return cmd
}

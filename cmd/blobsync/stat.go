package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/blobsync/internal/cli"
	"github.com/gezibash/blobsync/internal/objectstore"
	"github.com/gezibash/blobsync/internal/transfer"
)

func newStatCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <key>",
		Short: "Show an object's size, modification time and transfer strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return runSession(cmd, v, "stat", needs{store: true}, 0,
				func(ctx context.Context, s *session, out *cli.Output) error {
					attrs, err := s.store.Blob(objectstore.Ref{Key: key}).Stat(ctx)
					if err != nil {
						return fmt.Errorf("%s: %w", key, err)
					}

					strategy := s.transfer.Decide(attrs.Size)
					blocks := 1
					if strategy == transfer.StrategyChunked {
						blocks = int(transfer.BlockCount(attrs.Size, s.transfer.Options().MaxBlockSize))
					}

					return out.KV("stat").
						Set("Key", key).
						Set("Size", cli.Bytes(attrs.Size)).
						Set("Size Bytes", attrs.Size).
						Set("Last Modified", cli.Time(attrs.LastModified)).
						Set("Strategy", strategy.String()).
						Set("Blocks", blocks).
						Render()
				})
		},
	}
}

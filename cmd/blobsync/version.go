package main

import (
	"context"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gezibash/blobsync/internal/cli"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(cmd.Flag("output").Value.String())
			if err != nil {
				return err
			}
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:   "version",
				Format: format,
				Stdout: cmd.OutOrStdout(),
				Run: func(_ context.Context, out *cli.Output) error {
					return out.Result("version", "blobsync "+version).
						With("commit", commit).
						With("built", buildDate).
						With("go", runtime.Version()).
						Render()
				},
			})
		},
	}
}

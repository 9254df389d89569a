package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gezibash/blobsync/internal/cli"
	"github.com/gezibash/blobsync/internal/ledger"
	"github.com/gezibash/blobsync/internal/objectstore"
)

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List registered object store and ledger backends with their defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(cmd.Flag("output").Value.String())
			if err != nil {
				return err
			}
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:   "backends",
				Format: format,
				Stdout: cmd.OutOrStdout(),
				Run: func(_ context.Context, out *cli.Output) error {
					tbl := out.Table("backends", "Kind", "Name", "Defaults")
					for _, name := range objectstore.ListBackends() {
						tbl.AddRow("store", name, formatDefaults(objectstore.GetDefaults(name)))
					}
					for _, name := range ledger.ListBackends() {
						tbl.AddRow("ledger", name, formatDefaults(ledger.GetDefaults(name)))
					}
					return tbl.Render()
				},
			})
		},
	}
}

// formatDefaults renders a config map as sorted key=value pairs.
func formatDefaults(m map[string]string) string {
	keys := slices.Sorted(maps.Keys(m))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, m[k])
	}
	return strings.Join(parts, " ")
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/blobsync/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "blobsync",
		Short: "Adaptive chunked transfer to and from block object stores",
		Long: `blobsync moves files between the local file system and an object store.

Files at or below the size threshold move in one store operation. Larger
files move block by block: staged blocks are committed as one object on
upload, and ranged reads are appended to the destination on download.

Commands:
  blobsync upload <file|dir>...   Upload files, skipping unchanged ones
  blobsync download <key> <dest>  Download an object
  blobsync stat <key>             Show an object's size and strategy
  blobsync history [prefix]       List recorded transfers
  blobsync backends               List registered backends`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.BindFlags(rootCmd, v)
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json, markdown)")

	rootCmd.AddCommand(newUploadCmd(v))
	rootCmd.AddCommand(newDownloadCmd(v))
	rootCmd.AddCommand(newStatCmd(v))
	rootCmd.AddCommand(newHistoryCmd(v))
	rootCmd.AddCommand(newBackendsCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

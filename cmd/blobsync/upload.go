package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/blobsync/internal/cli"
	"github.com/gezibash/blobsync/internal/selector"
	"github.com/gezibash/blobsync/internal/syncer"
)

func newUploadCmd(v *viper.Viper) *cobra.Command {
	var (
		where    string
		force    bool
		jobs     int
		progress string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "upload <file|dir>...",
		Short: "Upload files to the object store",
		Long: `Upload files to the object store.

Directories are walked recursively. Each file is stored under its path
relative to the argument it was found in, joined to --prefix. Files whose
last upload recorded in the ledger has the same size and modification time
are skipped unless --force is given.

--where filters files with a CEL expression over size, name, ext, dir, path
and mtime.

Examples:
  blobsync upload ./photos
  blobsync upload --prefix backup/2026 ./photos ./notes.md
  blobsync upload --where 'size > 1048576 && ext == ".log"' /var/log
  blobsync upload --jobs 8 --progress plain ./dataset`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := selector.Compile(where)
			if err != nil {
				return fmt.Errorf("--where: %w", err)
			}
			mode, err := parseProgressMode(progress)
			if err != nil {
				return err
			}

			return runSession(cmd, v, "upload", needs{store: true, ledger: true}, timeout,
				func(ctx context.Context, s *session, out *cli.Output) error {
					runner := syncer.New(s.transfer, s.fs, s.ledger, syncer.Options{
						Selector: sel,
						Force:    force,
						Jobs:     jobs,
					})

					bar := newProgressPrinter(cmd.ErrOrStderr(), mode)
					report, err := runner.Upload(ctx, args, bar)
					bar.Done()
					if err != nil {
						return err
					}
					if err := renderUploadReport(out, report); err != nil {
						return err
					}
					return report.Err()
				})
		},
	}

	cmd.Flags().StringVarP(&where, "where", "w", "", "CEL expression selecting files to upload")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "upload files even when unchanged")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "number of concurrent transfers")
	cmd.Flags().StringVar(&progress, "progress", string(progressAuto), "progress display (auto, tty, plain)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (0 = no limit)")

	return cmd
}

func renderUploadReport(out *cli.Output, report *syncer.Report) error {
	tbl := out.Table("upload", "Key", "Outcome", "Strategy", "Size", "Blocks", "Duration", "Detail")
	for _, f := range report.Files {
		strategy, blocks, duration, detail := "-", "-", "-", ""
		if f.Result != nil {
			strategy = f.Result.Strategy.String()
			blocks = fmt.Sprint(f.Result.Blocks)
			duration = cli.Duration(f.Result.Duration)
		}
		if f.Err != nil {
			detail = f.Err.Error()
		}
		tbl.AddRow(f.Key, string(f.Outcome), strategy, cli.Bytes(f.File.SizeInBytes), blocks, duration, detail)
	}
	tbl.AlignRight(3, 4, 5)
	if err := tbl.Render(); err != nil {
		return err
	}

	if out.Format() == cli.FormatText {
		_, err := fmt.Fprintf(out.Writer(), "%d transferred (%s), %d skipped, %d failed\n",
			report.Transferred, cli.Bytes(report.Bytes), report.Skipped, report.Failed)
		return err
	}
	return nil
}

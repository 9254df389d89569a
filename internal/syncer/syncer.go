// Package syncer uploads directory trees through a transfer.Transferer,
// skipping files the ledger shows as unchanged, and records every
// completed transfer in the ledger.
package syncer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/gezibash/blobsync/internal/ledger"
	"github.com/gezibash/blobsync/internal/localfs"
	"github.com/gezibash/blobsync/internal/selector"
	"github.com/gezibash/blobsync/internal/transfer"
)

// Outcome of one file.
type Outcome string

const (
	OutcomeTransferred Outcome = "transferred"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
)

// FileResult is the outcome for one file.
type FileResult struct {
	File    localfs.FileDescriptor
	Key     string
	Outcome Outcome
	Result  *transfer.Result
	Err     error
}

// Report summarizes a run. Files are sorted by key.
type Report struct {
	Files       []FileResult
	Transferred int
	Skipped     int
	Failed      int
	Bytes       int64
}

// Err joins the errors of every failed file.
func (r *Report) Err() error {
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errors.Join(errs...)
}

// Options configure a Syncer.
type Options struct {
	// Selector filters walked files. Nil uploads everything.
	Selector *selector.Selector
	// Force uploads files even when the ledger shows them unchanged.
	Force bool
	// Jobs is the number of concurrent transfers. Values below 1 mean 1.
	Jobs int
}

// Syncer runs uploads and downloads and keeps the ledger current.
type Syncer struct {
	transfer *transfer.Transferer
	fs       *localfs.FileSystem
	ledger   ledger.Backend
	opts     Options
	now      func() time.Time
}

// New creates a Syncer. A nil ledger disables skip-unchanged and recording.
func New(t *transfer.Transferer, fs *localfs.FileSystem, l ledger.Backend, opts Options) *Syncer {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	return &Syncer{transfer: t, fs: fs, ledger: l, opts: opts, now: time.Now}
}

// Upload walks each root and uploads the selected files with up to
// Options.Jobs transfers in flight. The sink must be safe for concurrent
// use when Jobs > 1. Per-file failures are reported in the Report; the
// returned error is set only when a root cannot be walked or ctx ends.
func (s *Syncer) Upload(ctx context.Context, roots []string, sink transfer.ProgressSink) (*Report, error) {
	files, err := s.collect(roots)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "upload starting", "files", len(files), "jobs", s.opts.Jobs, "force", s.opts.Force)

	p := pool.NewWithResults[FileResult]().WithContext(ctx).WithMaxGoroutines(s.opts.Jobs)
	for _, c := range files {
		p.Go(func(ctx context.Context) (FileResult, error) {
			if c.err != nil {
				return FileResult{File: c.fd, Key: s.transfer.Key(c.fd), Outcome: OutcomeFailed, Err: c.err}, nil
			}
			return s.uploadOne(ctx, c.fd, sink), nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	report := &Report{Files: results}
	slices.SortFunc(report.Files, func(a, b FileResult) int { return cmp.Compare(a.Key, b.Key) })
	for _, f := range report.Files {
		switch f.Outcome {
		case OutcomeTransferred:
			report.Transferred++
			report.Bytes += f.Result.SizeBytes
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeFailed:
			report.Failed++
		}
	}

	slog.InfoContext(ctx, "upload finished",
		"transferred", report.Transferred, "skipped", report.Skipped,
		"failed", report.Failed, "size_bytes", report.Bytes)
	return report, ctx.Err()
}

type candidate struct {
	fd  localfs.FileDescriptor
	err error
}

// collect walks roots and applies the selector. Selector evaluation
// errors become per-file failures.
func (s *Syncer) collect(roots []string) ([]candidate, error) {
	var files []candidate
	for _, root := range roots {
		err := s.fs.Walk(root, func(fd localfs.FileDescriptor) error {
			ok, err := s.opts.Selector.Match(fd)
			if err != nil {
				files = append(files, candidate{fd: fd, err: fmt.Errorf("select %s: %w", fd.FullPath, err)})
				return nil
			}
			if ok {
				files = append(files, candidate{fd: fd})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return files, nil
}

func (s *Syncer) uploadOne(ctx context.Context, fd localfs.FileDescriptor, sink transfer.ProgressSink) FileResult {
	key := s.transfer.Key(fd)
	fr := FileResult{File: fd, Key: key}

	if err := ctx.Err(); err != nil {
		fr.Outcome = OutcomeFailed
		fr.Err = err
		return fr
	}
	if !s.opts.Force && s.unchanged(ctx, key, fd) {
		slog.DebugContext(ctx, "unchanged, skipping", "key", key, "path", fd.FullPath)
		fr.Outcome = OutcomeSkipped
		return fr
	}

	res, err := s.transfer.UploadFile(ctx, fd, sink)
	if err != nil {
		fr.Outcome = OutcomeFailed
		fr.Err = err
		return fr
	}
	s.record(ctx, res)
	fr.Outcome = OutcomeTransferred
	fr.Result = res
	return fr
}

func (s *Syncer) unchanged(ctx context.Context, key string, fd localfs.FileDescriptor) bool {
	if s.ledger == nil {
		return false
	}
	last, err := s.ledger.Last(ctx, key, string(transfer.DirectionUpload))
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			slog.WarnContext(ctx, "ledger lookup failed", "key", key, "error", err)
		}
		return false
	}
	return last.Unchanged(fd.SizeInBytes, fd.LastWriteTimeUTC)
}

// Download fetches key into destPath and records it in the ledger.
func (s *Syncer) Download(ctx context.Context, key, destPath string, sink transfer.ProgressSink) (*transfer.Result, error) {
	res, err := s.transfer.DownloadFile(ctx, key, destPath, sink)
	if err != nil {
		return nil, err
	}
	s.record(ctx, res)
	return res, nil
}

// record stores res in the ledger. A ledger failure does not undo a
// completed transfer, so it is logged rather than returned.
func (s *Syncer) record(ctx context.Context, res *transfer.Result) {
	if s.ledger == nil {
		return
	}
	entry := &ledger.Entry{
		Key:           res.Key,
		LocalPath:     res.LocalPath,
		Direction:     string(res.Direction),
		Strategy:      res.Strategy.String(),
		SizeBytes:     res.SizeBytes,
		Blocks:        res.Blocks,
		LastWriteTime: res.LastModified,
		CompletedAt:   s.now().UTC(),
	}
	if err := s.ledger.Record(ctx, entry); err != nil {
		slog.WarnContext(ctx, "ledger record failed", "key", res.Key, "error", err)
	}
}

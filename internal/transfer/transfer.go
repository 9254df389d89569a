// Package transfer moves files between the local file system and an object
// store. Objects at or below a size threshold move in one store operation;
// larger objects move block by block, one block in flight at a time.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/blobsync/internal/localfs"
	"github.com/gezibash/blobsync/internal/objectstore"
	"github.com/gezibash/blobsync/internal/observability"
)

// Direction of a transfer.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// FileSystem is the local side of a transfer. *localfs.FileSystem
// satisfies it.
type FileSystem interface {
	OpenRead(path string) (io.ReadCloser, error)
	OpenWrite(path string) (io.WriteCloser, error)
	Chtimes(path string, atime, mtime time.Time) error
}

// Result describes a completed transfer.
type Result struct {
	Key          string
	LocalPath    string
	Direction    Direction
	Strategy     Strategy
	SizeBytes    int64
	Blocks       int
	LastModified time.Time
	Duration     time.Duration
}

// Transferer runs uploads and downloads. It holds only immutable
// configuration and is safe for concurrent use.
type Transferer struct {
	store  objectstore.Backend
	fs     FileSystem
	opts   Options
	policy Policy
	// maxBlocks is the store's block cap, 0 when it has none.
	maxBlocks int64

	metrics *observability.Metrics
}

// New creates a Transferer. A nil metrics gets a private registry.
func New(store objectstore.Backend, fs FileSystem, opts Options, metrics *observability.Metrics) (*Transferer, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("transfer options: %w", err)
	}
	if sizer, ok := store.(objectstore.MinBlockSizer); ok && opts.MaxBlockSize < sizer.MinBlockSize() {
		return nil, fmt.Errorf("transfer options: max block size %d is below the store minimum %d (raise transfer.max_block_size or --block-size)", opts.MaxBlockSize, sizer.MinBlockSize())
	}
	var maxBlocks int64
	if capper, ok := store.(objectstore.MaxBlocker); ok {
		maxBlocks = capper.MaxBlocks()
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Transferer{
		store:     store,
		fs:        fs,
		opts:      opts,
		policy:    Policy{SizeThreshold: opts.SizeThreshold},
		maxBlocks: maxBlocks,
		metrics:   metrics,
	}, nil
}

// Options returns the transfer options.
func (t *Transferer) Options() Options {
	return t.opts
}

// Decide returns the strategy for an object of the given size.
func (t *Transferer) Decide(size int64) Strategy {
	return t.policy.Decide(size)
}

// Key returns the object key for fd.
func (t *Transferer) Key(fd localfs.FileDescriptor) string {
	if t.opts.KeyPrefix == "" {
		return fd.RelativePath
	}
	return path.Join(t.opts.KeyPrefix, fd.RelativePath)
}

// UploadFile stores the file described by fd under Key(fd).
func (t *Transferer) UploadFile(ctx context.Context, fd localfs.FileDescriptor, sink ProgressSink) (*Result, error) {
	sink = sinkOrNop(sink)
	key := t.Key(fd)
	strategy := t.policy.Decide(fd.SizeInBytes)

	op, ctx := observability.StartOperation(ctx, t.metrics, "upload",
		attribute.String("key", key),
		attribute.Int64("size_bytes", fd.SizeInBytes),
		attribute.String("strategy", strategy.String()),
	)
	start := time.Now()
	res, err := t.upload(ctx, key, fd, strategy, sink)
	op.End(err)

	if err != nil {
		t.metrics.ErrorsTotal.WithLabelValues("upload", KindOf(err).String()).Inc()
		return nil, err
	}
	res.Duration = time.Since(start)
	t.metrics.TransfersTotal.WithLabelValues(string(DirectionUpload), strategy.String()).Inc()
	t.metrics.BytesProcessed.WithLabelValues(string(DirectionUpload)).Add(float64(res.SizeBytes))
	return res, nil
}

func (t *Transferer) upload(ctx context.Context, key string, fd localfs.FileDescriptor, strategy Strategy, sink ProgressSink) (res *Result, err error) {
	if fd.SizeInBytes < 0 {
		return nil, newError("upload", fd.FullPath, KindInvalid, fmt.Errorf("negative size %d", fd.SizeInBytes))
	}
	progressPath := fd.FullPath

	src, err := t.fs.OpenRead(fd.FullPath)
	if err != nil {
		return nil, newError("upload", fd.FullPath, KindIO, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			res, err = nil, newError("upload", fd.FullPath, KindIO, cerr)
		}
	}()

	blob := t.store.Blob(objectstore.Ref{Key: key, LastModified: fd.LastWriteTimeUTC})
	res = &Result{
		Key:          key,
		LocalPath:    fd.FullPath,
		Direction:    DirectionUpload,
		Strategy:     strategy,
		SizeBytes:    fd.SizeInBytes,
		LastModified: fd.LastWriteTimeUTC,
	}

	if t.opts.ReportStart {
		sink.Report(progressPath, MessageUploading, 0)
	}

	if strategy == StrategySimple {
		if err := t.uploadSimple(ctx, fd, src, blob); err != nil {
			return nil, err
		}
		sink.Report(progressPath, MessageUploadComplete, 1)
		return res, nil
	}

	uploader := &ChunkedUploader{
		BlockSize:        t.opts.MaxBlockSize,
		IDWidth:          t.opts.BlockIDWidth,
		MaxBlocks:        t.maxBlocks,
		ReportCompletion: t.opts.ReportCompletion,
		OnBlock: func(b BlockDescriptor) {
			t.metrics.BlocksTransferred.WithLabelValues(string(DirectionUpload)).Inc()
			slog.DebugContext(ctx, "block stored", "key", key, "block_index", b.Index, "block_id", b.ID, "offset", b.Offset, "size_bytes", b.Length)
		},
	}
	summary, err := uploader.Upload(ctx, progressPath, src, fd.SizeInBytes, blob, sink)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			te.Path = fd.FullPath
		}
		return nil, err
	}
	res.Blocks = len(summary.BlockIDs)
	return res, nil
}

func (t *Transferer) uploadSimple(ctx context.Context, fd localfs.FileDescriptor, src io.Reader, blob objectstore.Blob) error {
	data := make([]byte, fd.SizeInBytes)
	if _, err := io.ReadFull(src, data); err != nil {
		return newError("upload", fd.FullPath, localKind(ctx, err), err)
	}
	if err := blob.Put(ctx, data); err != nil {
		return newError("upload", fd.FullPath, storeKind(ctx, err), err)
	}
	return nil
}

// DownloadFile writes the object at key to destPath. On failure destPath
// may be left partially written. When the store knows the object's
// modification time it is applied to destPath.
func (t *Transferer) DownloadFile(ctx context.Context, key, destPath string, sink ProgressSink) (*Result, error) {
	sink = sinkOrNop(sink)

	op, ctx := observability.StartOperation(ctx, t.metrics, "download",
		attribute.String("key", key),
		attribute.String("path", destPath),
	)
	start := time.Now()
	res, err := t.download(ctx, key, destPath, sink)
	op.End(err)

	if err != nil {
		t.metrics.ErrorsTotal.WithLabelValues("download", KindOf(err).String()).Inc()
		return nil, err
	}
	res.Duration = time.Since(start)
	t.metrics.TransfersTotal.WithLabelValues(string(DirectionDownload), res.Strategy.String()).Inc()
	t.metrics.BytesProcessed.WithLabelValues(string(DirectionDownload)).Add(float64(res.SizeBytes))
	return res, nil
}

func (t *Transferer) download(ctx context.Context, key, destPath string, sink ProgressSink) (*Result, error) {
	blob := t.store.Blob(objectstore.Ref{Key: key})

	attrs, err := blob.Stat(ctx)
	if err != nil {
		return nil, newError("download", key, storeKind(ctx, err), err)
	}
	strategy := t.policy.Decide(attrs.Size)
	res := &Result{
		Key:          key,
		LocalPath:    destPath,
		Direction:    DirectionDownload,
		Strategy:     strategy,
		SizeBytes:    attrs.Size,
		LastModified: attrs.LastModified,
	}

	dst, err := t.fs.OpenWrite(destPath)
	if err != nil {
		return nil, newError("download", destPath, KindIO, err)
	}

	if t.opts.ReportStart {
		sink.Report(destPath, MessageDownloading, 0)
	}

	if strategy == StrategySimple {
		err = t.downloadSimple(ctx, destPath, attrs.Size, blob, dst)
	} else {
		downloader := &ChunkedDownloader{
			BlockSize:        t.opts.MaxBlockSize,
			ReportCompletion: t.opts.ReportCompletion,
			OnRange: func(offset, length int64) {
				t.metrics.BlocksTransferred.WithLabelValues(string(DirectionDownload)).Inc()
				slog.DebugContext(ctx, "range written", "key", key, "offset", offset, "size_bytes", length)
			},
		}
		var summary *DownloadSummary
		summary, err = downloader.Download(ctx, destPath, attrs.Size, dst, blob, sink)
		if err == nil {
			res.Blocks = summary.Ranges
		}
	}

	if cerr := dst.Close(); cerr != nil && err == nil {
		err = newError("download", destPath, KindIO, cerr)
	}
	if err != nil {
		return nil, err
	}

	if strategy == StrategySimple {
		sink.Report(destPath, MessageDownloadComplete, 1)
	}

	if !attrs.LastModified.IsZero() {
		if err := t.fs.Chtimes(destPath, attrs.LastModified, attrs.LastModified); err != nil {
			return nil, newError("download", destPath, KindIO, err)
		}
	}
	return res, nil
}

func (t *Transferer) downloadSimple(ctx context.Context, destPath string, size int64, blob objectstore.Blob, dst io.Writer) error {
	rc, err := blob.Get(ctx)
	if err != nil {
		return newError("download", destPath, storeKind(ctx, err), err)
	}
	defer rc.Close()

	w := &trackingWriter{w: dst}
	n, err := io.Copy(w, rc)
	if err != nil {
		if w.err != nil {
			return newError("download", destPath, localKind(ctx, err), err)
		}
		return newError("download", destPath, storeKind(ctx, err), err)
	}
	if n != size {
		return newError("download", destPath, KindNetwork, fmt.Errorf("got %d bytes, want %d: %w", n, size, io.ErrUnexpectedEOF))
	}
	return nil
}

// trackingWriter remembers write errors so a copy failure can be blamed on
// the correct side.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

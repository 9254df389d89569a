package transfer

import (
	"context"
	"fmt"
	"io"
)

// RangeFetcher returns an inclusive byte range of a remote object.
// objectstore.Blob satisfies it.
type RangeFetcher interface {
	RangedGet(ctx context.Context, start, endInclusive int64) (io.ReadCloser, error)
}

// DownloadSummary is the outcome of a successful chunked download.
type DownloadSummary struct {
	Ranges int
	Bytes  int64
}

// ChunkedDownloader rebuilds a remote object by fetching consecutive ranges
// and appending them to a destination in offset order.
type ChunkedDownloader struct {
	BlockSize int64
	// ReportCompletion emits a terminal event after the last range.
	ReportCompletion bool
	// OnRange, if set, is called after each range is written.
	OnRange func(offset, length int64)
}

// Download appends length bytes fetched from fetch to dst.
//
// Each range is read in full before any of it is written, so a failed range
// contributes nothing to dst. On failure dst holds exactly the bytes before
// the failing offset; it is not truncated or removed.
func (d *ChunkedDownloader) Download(ctx context.Context, path string, length int64, dst io.Writer, fetch RangeFetcher, sink ProgressSink) (*DownloadSummary, error) {
	sink = sinkOrNop(sink)

	if length < 0 {
		return nil, newError("download", path, KindInvalid, fmt.Errorf("negative size %d", length))
	}
	count := BlockCount(length, d.BlockSize)
	buf := make([]byte, min(d.BlockSize, length))

	var cursor int64
	for index := 0; cursor < length; index++ {
		fail := func(kind Kind, err error) (*DownloadSummary, error) {
			return nil, &Error{Op: "download", Path: path, Kind: kind, BlockIndex: index, Offset: cursor, Err: err}
		}

		if err := ctx.Err(); err != nil {
			return fail(KindCanceled, err)
		}

		block := buf[:min(d.BlockSize, length-cursor)]
		if err := readRange(ctx, fetch, cursor, block); err != nil {
			return fail(storeKind(ctx, err), err)
		}
		if _, err := dst.Write(block); err != nil {
			return fail(localKind(ctx, err), err)
		}

		cursor += int64(len(block))
		if d.OnRange != nil {
			d.OnRange(cursor-int64(len(block)), int64(len(block)))
		}
		sink.Report(path, blockMessage(index, int(count)), fraction(cursor, length))
	}

	if d.ReportCompletion {
		sink.Report(path, MessageDownloadComplete, 1)
	}
	return &DownloadSummary{Ranges: int(count), Bytes: cursor}, nil
}

// readRange fills block with the range starting at start. A short body is
// an error.
func readRange(ctx context.Context, fetch RangeFetcher, start int64, block []byte) error {
	rc, err := fetch.RangedGet(ctx, start, start+int64(len(block))-1)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := io.ReadFull(rc, block); err != nil {
		return fmt.Errorf("read range at %d: %w", start, err)
	}
	return nil
}

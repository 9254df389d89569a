package transfer

import (
	"context"
	"crypto/md5" //nolint:gosec // block content hash required by the store protocol
	"fmt"
	"io"
)

// BlockWriter stages blocks and commits their order. objectstore.Blob
// satisfies it.
type BlockWriter interface {
	PutBlock(ctx context.Context, id string, data []byte, contentMD5 []byte) error
	CommitBlockList(ctx context.Context, ids []string) error
}

// BlockDescriptor describes one uploaded block. It is not persisted.
type BlockDescriptor struct {
	ID         string
	Index      int
	Offset     int64
	Length     int64
	ContentMD5 []byte
}

// UploadSummary is the outcome of a successful chunked upload.
type UploadSummary struct {
	BlockIDs []string
	Bytes    int64
}

// ChunkedUploader splits a stream into blocks, stores each one and then
// commits the block list. Blocks are processed one at a time through a
// single reused buffer.
type ChunkedUploader struct {
	BlockSize int64
	IDWidth   int
	// MaxBlocks caps the block count when positive.
	MaxBlocks int64
	// ReportCompletion emits a terminal event after the commit.
	ReportCompletion bool
	// OnBlock, if set, is called after each block is stored.
	OnBlock func(BlockDescriptor)
}

// BlockCount returns the number of blocks for total bytes: ceil(total/blockSize).
func BlockCount(total, blockSize int64) int64 {
	if total <= 0 {
		return 0
	}
	return (total + blockSize - 1) / blockSize
}

// Upload reads exactly total bytes from src and stores them in dst.
//
// A failure stops the upload at the failing block: no later block is
// attempted and the block list is not committed. Blocks already stored are
// left for the store to expire.
func (u *ChunkedUploader) Upload(ctx context.Context, path string, src io.Reader, total int64, dst BlockWriter, sink ProgressSink) (*UploadSummary, error) {
	sink = sinkOrNop(sink)

	if total < 0 {
		return nil, newError("upload", path, KindInvalid, fmt.Errorf("negative size %d", total))
	}
	count := BlockCount(total, u.BlockSize)
	ids := NewBlockIDGenerator(u.IDWidth)
	if !ids.Capacity(count) {
		return nil, newError("upload", path, KindInvalid,
			fmt.Errorf("%w: %d blocks do not fit %d digits", ErrBlockIDOverflow, count, u.IDWidth))
	}
	if u.MaxBlocks > 0 && count > u.MaxBlocks {
		return nil, newError("upload", path, KindInvalid,
			fmt.Errorf("%w: %d blocks of %d bytes exceed the store limit of %d", ErrTooManyBlocks, count, u.BlockSize, u.MaxBlocks))
	}

	buf := make([]byte, min(u.BlockSize, total))
	list := make([]string, 0, count)
	var sent int64

	for index := 0; sent < total; index++ {
		fail := func(kind Kind, err error) (*UploadSummary, error) {
			return nil, &Error{Op: "upload", Path: path, Kind: kind, BlockIndex: index, Offset: sent, Err: err}
		}

		if err := ctx.Err(); err != nil {
			return fail(KindCanceled, err)
		}

		block := buf[:min(u.BlockSize, total-sent)]
		if _, err := io.ReadFull(src, block); err != nil {
			return fail(localKind(ctx, err), err)
		}
		sum := md5.Sum(block) //nolint:gosec // content hash

		id, err := ids.Next()
		if err != nil {
			return fail(KindInvalid, err)
		}
		if err := dst.PutBlock(ctx, id, block, sum[:]); err != nil {
			return fail(storeKind(ctx, err), err)
		}

		list = append(list, id)
		if u.OnBlock != nil {
			u.OnBlock(BlockDescriptor{
				ID:         id,
				Index:      index,
				Offset:     sent,
				Length:     int64(len(block)),
				ContentMD5: sum[:],
			})
		}
		sent += int64(len(block))
		sink.Report(path, blockMessage(index, int(count)), fraction(sent, total))
	}

	if err := ctx.Err(); err != nil {
		return nil, newError("commit", path, KindCanceled, err)
	}
	if err := dst.CommitBlockList(ctx, list); err != nil {
		return nil, newError("commit", path, storeKind(ctx, err), err)
	}
	if u.ReportCompletion {
		sink.Report(path, MessageUploadComplete, 1)
	}

	return &UploadSummary{BlockIDs: list, Bytes: sent}, nil
}

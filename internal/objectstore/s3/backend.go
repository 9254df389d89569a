// Package s3 provides an S3-backed object store.
//
// Blocks map onto multipart upload parts. A block id must be a decimal
// block index; part number is index+1, so committing blocks in index order
// yields ascending part numbers as S3 requires.
package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/gezibash/blobsync/internal/objectstore"
	"github.com/gezibash/blobsync/internal/storage"
)

const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"
)

const (
	// MinPartSize is the smallest part S3 accepts for any part but the last.
	MinPartSize = 5 << 20

	maxParts = 10000

	// metaModified carries the source file's modification time.
	metaModified = "mtime"
)

func init() {
	objectstore.Register("s3", NewFactory, Defaults)
}

// API is the subset of the S3 client used by the backend.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
}

var _ API = (*s3.Client)(nil)

// Defaults returns the default configuration for the S3 backend.
//
// S3 rejects parts below MinPartSize (5 MiB), so the default 4 MiB
// transfer.max_block_size is refused at startup when this backend is
// selected. Raise it with --block-size 5MiB or more.
func Defaults() map[string]string {
	return map[string]string{
		KeyRegion:          "us-east-1",
		KeyEndpoint:        "",
		KeyPrefix:          "",
		KeyAccessKeyID:     "",
		KeySecretAccessKey: "",
		KeyForcePathStyle:  "false",
	}
}

// NewFactory creates a new S3 backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (objectstore.Backend, error) {
	bucket := storage.GetString(config, KeyBucket, "")
	if bucket == "" {
		return nil, storage.NewConfigError("s3", KeyBucket, "cannot be empty")
	}

	region := storage.GetString(config, KeyRegion, "us-east-1")
	endpoint := storage.GetString(config, KeyEndpoint, "")
	prefix := storage.GetString(config, KeyPrefix, "")
	accessKeyID := storage.GetString(config, KeyAccessKeyID, "")
	secretAccessKey := storage.GetString(config, KeySecretAccessKey, "")

	forcePathStyle, err := storage.GetBool(config, KeyForcePathStyle, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("s3", KeyForcePathStyle, config[KeyForcePathStyle], err.Error())
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))

	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", "", "failed to load AWS config", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			// Block integrity is carried by Content-MD5.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		},
	}
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if forcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)

	// Fail fast: verify bucket access.
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", KeyBucket, "bucket not accessible", err)
	}

	slog.Info("s3 objectstore initialized", "bucket", bucket, "region", region, "prefix", prefix)

	return NewWithClient(client, bucket, prefix), nil
}

// NewWithClient creates a backend over an existing client.
func NewWithClient(client API, bucket, prefix string) *Backend {
	return &Backend{client: client, bucket: bucket, prefix: prefix}
}

// Backend is an S3 implementation of objectstore.Backend.
type Backend struct {
	client API
	bucket string
	prefix string
	closed atomic.Bool
}

// Blob returns a handle for ref. The multipart upload is created on the
// first PutBlock.
func (b *Backend) Blob(ref objectstore.Ref) objectstore.Blob {
	return &blob{backend: b, ref: ref, parts: make(map[string]types.CompletedPart)}
}

// MinBlockSize reports S3's minimum part size.
func (b *Backend) MinBlockSize() int64 {
	return MinPartSize
}

// MaxBlocks reports S3's limit on parts per multipart upload.
func (b *Backend) MaxBlocks() int64 {
	return maxParts
}

// Stats returns storage statistics. S3 has no cheap size query.
func (b *Backend) Stats(_ context.Context) (*objectstore.Stats, error) {
	if b.closed.Load() {
		return nil, objectstore.ErrClosed
	}

	return &objectstore.Stats{
		SizeBytes:   0,
		BackendType: "s3",
	}, nil
}

// Close is a no-op; the S3 SDK client needs no cleanup.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *Backend) key(key string) string {
	return b.prefix + key
}

type blob struct {
	backend *Backend
	ref     objectstore.Ref

	mu       sync.Mutex
	uploadID string
	parts    map[string]types.CompletedPart
}

func (o *blob) metadata() map[string]string {
	if o.ref.LastModified.IsZero() {
		return nil
	}
	return map[string]string{metaModified: o.ref.LastModified.UTC().Format(time.RFC3339Nano)}
}

func partNumber(id string) (int32, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n >= maxParts {
		return 0, fmt.Errorf("block id %q is not a decimal index below %d", id, maxParts)
	}
	return int32(n) + 1, nil
}

func (o *blob) upload(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.uploadID != "" {
		return o.uploadID, nil
	}
	out, err := o.backend.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(o.backend.bucket),
		Key:      aws.String(o.backend.key(o.ref.Key)),
		Metadata: o.metadata(),
	})
	if err != nil {
		return "", err
	}
	o.uploadID = aws.ToString(out.UploadId)
	return o.uploadID, nil
}

// PutBlock uploads one multipart part. S3 verifies Content-MD5 itself.
func (o *blob) PutBlock(ctx context.Context, id string, data []byte, contentMD5 []byte) error {
	if o.backend.closed.Load() {
		return objectstore.ErrClosed
	}

	part, err := partNumber(id)
	if err != nil {
		return fmt.Errorf("s3 put block: %w", err)
	}

	uploadID, err := o.upload(ctx)
	if err != nil {
		return fmt.Errorf("s3 create multipart upload: %w", err)
	}

	in := &s3.UploadPartInput{
		Bucket:     aws.String(o.backend.bucket),
		Key:        aws.String(o.backend.key(o.ref.Key)),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(part),
		Body:       bytes.NewReader(data),
	}
	if len(contentMD5) > 0 {
		in.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(contentMD5))
	}

	out, err := o.backend.client.UploadPart(ctx, in)
	if err != nil {
		return fmt.Errorf("s3 put block %s: %w", id, mapError(err))
	}

	o.mu.Lock()
	o.parts[id] = types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(part)}
	o.mu.Unlock()
	return nil
}

// CommitBlockList completes the multipart upload with ids in order.
func (o *blob) CommitBlockList(ctx context.Context, ids []string) error {
	if o.backend.closed.Load() {
		return objectstore.ErrClosed
	}

	o.mu.Lock()
	uploadID := o.uploadID
	completed := make([]types.CompletedPart, 0, len(ids))
	var last int32
	for _, id := range ids {
		p, ok := o.parts[id]
		if !ok {
			o.mu.Unlock()
			return fmt.Errorf("s3 commit: %w: %s", objectstore.ErrBlockNotStaged, id)
		}
		if n := aws.ToInt32(p.PartNumber); n <= last {
			o.mu.Unlock()
			return fmt.Errorf("s3 commit: block %s out of index order", id)
		}
		last = aws.ToInt32(p.PartNumber)
		completed = append(completed, p)
	}
	o.mu.Unlock()

	if len(ids) == 0 {
		return o.Put(ctx, nil)
	}

	_, err := o.backend.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(o.backend.bucket),
		Key:             aws.String(o.backend.key(o.ref.Key)),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("s3 commit: %w", mapError(err))
	}
	return nil
}

// Put stores data with a single PutObject.
func (o *blob) Put(ctx context.Context, data []byte) error {
	if o.backend.closed.Load() {
		return objectstore.ErrClosed
	}

	_, err := o.backend.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(o.backend.bucket),
		Key:      aws.String(o.backend.key(o.ref.Key)),
		Body:     bytes.NewReader(data),
		Metadata: o.metadata(),
	})
	if err != nil {
		return fmt.Errorf("s3 put: %w", mapError(err))
	}
	return nil
}

// Get streams the whole object.
func (o *blob) Get(ctx context.Context) (io.ReadCloser, error) {
	if o.backend.closed.Load() {
		return nil, objectstore.ErrClosed
	}

	out, err := o.backend.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.backend.bucket),
		Key:    aws.String(o.backend.key(o.ref.Key)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get: %w", mapError(err))
	}
	return out.Body, nil
}

// RangedGet streams [start, endInclusive] using a Range header.
func (o *blob) RangedGet(ctx context.Context, start, endInclusive int64) (io.ReadCloser, error) {
	if o.backend.closed.Load() {
		return nil, objectstore.ErrClosed
	}
	if start < 0 || endInclusive < start {
		return nil, fmt.Errorf("s3 ranged get: %w: bytes=%d-%d", objectstore.ErrInvalidRange, start, endInclusive)
	}

	out, err := o.backend.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.backend.bucket),
		Key:    aws.String(o.backend.key(o.ref.Key)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, endInclusive)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 ranged get: %w", mapError(err))
	}
	return out.Body, nil
}

// Stat returns the object's size and recorded modification time, falling
// back to S3's own LastModified.
func (o *blob) Stat(ctx context.Context) (objectstore.Attributes, error) {
	if o.backend.closed.Load() {
		return objectstore.Attributes{}, objectstore.ErrClosed
	}

	out, err := o.backend.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.backend.bucket),
		Key:    aws.String(o.backend.key(o.ref.Key)),
	})
	if err != nil {
		return objectstore.Attributes{}, fmt.Errorf("s3 stat: %w", mapError(err))
	}

	attrs := objectstore.Attributes{Size: aws.ToInt64(out.ContentLength)}
	if v, ok := out.Metadata[metaModified]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			attrs.LastModified = t
		}
	}
	if attrs.LastModified.IsZero() && out.LastModified != nil {
		attrs.LastModified = out.LastModified.UTC()
	}
	return attrs, nil
}

// mapError translates S3 error codes into objectstore sentinels.
func mapError(err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %w", objectstore.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BadDigest", "InvalidDigest":
			return fmt.Errorf("%w: %w", objectstore.ErrIntegrity, err)
		case "InvalidRange":
			return fmt.Errorf("%w: %w", objectstore.ErrInvalidRange, err)
		}
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 416 {
		return fmt.Errorf("%w: %w", objectstore.ErrInvalidRange, err)
	}
	return err
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	// HeadObject returns a generic error with status 404.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}

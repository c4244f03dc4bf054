package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// Compile-time check that S3Store implements BlobStore.
var _ BlobStore = (*S3Store)(nil)

// S3Store implements BlobStore against an S3-compatible bucket.
// The declared content type travels as the object's Content-Type.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Opts holds options to initialize the S3 store.
type S3Opts struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Store builds a blob store backed by an S3-compatible bucket.
func NewS3Store(ctx context.Context, opts *S3Opts) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithBaseEndpoint(opts.Endpoint))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = true })

	return &S3Store{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

// s3Sink feeds an in-flight multipart upload through a pipe. Closing the
// pipe lets the upload finish; aborting poisons it so nothing is stored.
// The uploader goroutine sends exactly one value on result; settle
// caches it so Close and Abort can both observe the outcome without a
// second receive blocking forever.
type s3Sink struct {
	id      string
	pw      *io.PipeWriter
	result  chan error
	settled bool
	err     error
	aborted bool
}

// NewWriter starts a streaming upload for a new blob. The upload runs in
// the background and only completes when the sink is closed.
func (s *S3Store) NewWriter(ctx context.Context, contentType string) (WriteSink, error) {
	id := uuid.New().String()
	pr, pw := io.Pipe()

	uploader := manager.NewUploader(s.client)

	sink := &s3Sink{
		id:     id,
		pw:     pw,
		result: make(chan error, 1),
	}

	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key(id)),
			Body:        pr,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			// Unblock a writer stuck on pw.Write.
			pr.CloseWithError(err)
		}
		sink.result <- err
	}()

	return sink, nil
}

func (w *s3Sink) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// settle waits for the uploader goroutine's single result and caches it
// for every later observer.
func (w *s3Sink) settle() error {
	if !w.settled {
		w.settled = true
		w.err = <-w.result
	}
	return w.err
}

// Close completes the upload and returns the blob ID once S3 has
// acknowledged the whole object. Returns an error after an Abort.
func (w *s3Sink) Close() (string, error) {
	if w.aborted {
		return "", errors.New("blob write aborted")
	}
	w.pw.Close()
	if err := w.settle(); err != nil {
		return "", fmt.Errorf("finalize blob upload: %w", err)
	}
	return w.id, nil
}

// Abort cancels the in-flight upload so no object is stored. A no-op
// once the upload has finalized successfully; returns immediately after
// a failed Close since the upload outcome is already known.
func (w *s3Sink) Abort() {
	if w.aborted || (w.settled && w.err == nil) {
		return
	}
	w.aborted = true
	w.pw.CloseWithError(errors.New("blob write aborted"))
	w.settle()
}

// Open streams a blob from the bucket. Returns ErrNotFound for unknown IDs.
func (s *S3Store) Open(ctx context.Context, id string) (io.ReadCloser, Info, error) {
	if !validID.MatchString(id) {
		return nil, Info{}, ErrNotFound
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, fmt.Errorf("get blob %s: %w", id, err)
	}

	info := Info{Size: aws.ToInt64(out.ContentLength)}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}
	return out.Body, info, nil
}

// Delete removes a blob. S3 deletes are blind, so existence is checked
// first to honor the not-found contract.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if !validID.MatchString(id) {
		return ErrNotFound
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return ErrNotFound
		}
		return fmt.Errorf("head blob %s: %w", id, err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

// List returns all blob IDs under the configured prefix.
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	var ids []string

	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs in %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			id := key[strings.LastIndex(key, "/")+1:]
			if validID.MatchString(id) {
				ids = append(ids, id)
			}
		}
	}

	return ids, nil
}

// key returns the object key for a blob ID.
func (s *S3Store) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return s.prefix + "/" + id
}

// Package s3 implements the Strata provider contract for Amazon S3 and
// S3-compatible object stores.
//
// Reads list keys lexicographically under the configured prefix and fetch
// each object's bytes. The resumable position is the last-seen key, replayed
// as the StartAfter listing marker, so a resumed read yields exactly the
// keys strictly after it, once each.
//
// S3 has no native bulk-put, so Write degenerates to one PutObject per item,
// issued in order within chunks of the configured batch size. Puts are
// idempotent per key: replaying a chunk after a failure overwrites rather
// than duplicates.
package s3

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/strataio/strata/pkg/logger"
	"github.com/strataio/strata/pkg/metrics"
	"github.com/strataio/strata/pkg/models"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/strataerrors"
)

const defaultBatchSize = 1000

// Credentials authenticates against S3 or an S3-compatible endpoint. Empty
// static keys fall back to the ambient AWS credential chain.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	// Endpoint overrides the S3 endpoint, for MinIO and other compatible
	// stores. Forces path-style addressing.
	Endpoint string
}

// Params is the immutable configuration for one provider instance.
type Params struct {
	// Bucket is the target bucket (required).
	Bucket string
	// Prefix limits reads to keys under it. Empty reads the whole bucket.
	Prefix string
	// BatchSize bounds listing pages and write chunks; defaults to 1000,
	// capped by the S3 listing maximum of 1000.
	BatchSize int
}

func (p *Params) withDefaults() {
	if p.BatchSize <= 0 || p.BatchSize > defaultBatchSize {
		p.BatchSize = defaultBatchSize
	}
}

func (p *Params) validate() error {
	if p.Bucket == "" {
		return strataerrors.New(strataerrors.KindInvalidInput, "bucket is required")
	}
	return nil
}

// Position is the resumable cursor for a bucket read: the last key yielded.
// A zero Position reads from the start of the prefix.
type Position struct {
	StartAfter string `json:"start_after,omitempty"`
}

// s3API is the slice of the S3 client the provider depends on.
type s3API interface {
	HeadBucket(ctx context.Context, in *awss3.HeadBucketInput, opts ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, opts ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, opts ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, opts ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
}

// Provider is a connected handle to one S3 bucket (optionally one prefix).
type Provider struct {
	name      string
	params    Params
	client    s3API
	logger    *zap.Logger
	collector *metrics.Collector

	mu     sync.Mutex
	closed bool
}

var (
	_ core.Provider                           = (*Provider)(nil)
	_ core.DataInput[models.Object, Position] = (*Provider)(nil)
	_ core.DataOutput[models.Object]          = (*Provider)(nil)
)

// Connect builds an S3 client and verifies the bucket is reachable. A missing
// bucket fails with NOT_FOUND; unreachable or unauthorized endpoints fail
// with CONNECTION.
func Connect(ctx context.Context, creds Credentials, params Params) (*Provider, error) {
	params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if creds.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(creds.Region))
	}
	if creds.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.KindConnection, "failed to load aws config")
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if creds.Endpoint != "" {
			o.BaseEndpoint = aws.String(creds.Endpoint)
			o.UsePathStyle = true
		}
	})

	p := newProvider(client, params)

	if _, err := client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(params.Bucket)}); err != nil {
		return nil, classify(err, "bucket check failed")
	}

	p.logger.Info("s3 provider connected",
		zap.String("bucket", params.Bucket),
		zap.String("prefix", params.Prefix),
		zap.Int("batch_size", params.BatchSize))

	return p, nil
}

func newProvider(client s3API, params Params) *Provider {
	params.withDefaults()
	return &Provider{
		name:      "s3",
		params:    params,
		client:    client,
		logger:    logger.Get().With(zap.String("provider", "s3"), zap.String("bucket", params.Bucket)),
		collector: metrics.NewCollector(params.Bucket, "s3"),
	}
}

// Name implements core.Provider.
func (p *Provider) Name() string { return p.name }

// Family implements core.Provider.
func (p *Provider) Family() core.Family { return core.FamilyObject }

// Ping implements core.Provider.
func (p *Provider) Ping(ctx context.Context) error {
	if _, err := p.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(p.params.Bucket)}); err != nil {
		return classify(err, "s3 ping failed")
	}
	return nil
}

// Close marks the provider closed. The underlying HTTP client holds no
// resources that need explicit release. Idempotent.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.logger.Info("s3 provider closed")
	return nil
}

// Read streams objects under the configured prefix in key order, starting
// strictly after pos. Each yielded pair carries the object's key as the
// position to resume from.
func (p *Provider) Read(ctx context.Context, pos Position) (*core.Stream[models.Object, Position], error) {
	stream, emitter := core.NewStream[models.Object, Position](p.params.BatchSize)

	go func() {
		defer emitter.Close()
		p.streamObjects(ctx, pos, emitter)
	}()

	return stream, nil
}

func (p *Provider) streamObjects(ctx context.Context, pos Position, emitter *core.Emitter[models.Object, Position]) {
	startAfter := pos.StartAfter

	for {
		in := &awss3.ListObjectsV2Input{
			Bucket:  aws.String(p.params.Bucket),
			MaxKeys: aws.Int32(int32(p.params.BatchSize)),
		}
		if p.params.Prefix != "" {
			in.Prefix = aws.String(p.params.Prefix)
		}
		if startAfter != "" {
			in.StartAfter = aws.String(startAfter)
		}

		out, err := p.client.ListObjectsV2(ctx, in)
		if err != nil {
			p.failStream(emitter, classify(err, "failed to list objects"))
			return
		}

		yielded := 0
		for _, entry := range out.Contents {
			key := aws.ToString(entry.Key)

			obj, err := p.fetch(ctx, key)
			if err != nil {
				p.collector.RecordRead(yielded)
				p.failStream(emitter, err)
				return
			}

			if !emitter.Send(ctx, *obj, Position{StartAfter: key}) {
				p.collector.RecordRead(yielded)
				return
			}
			startAfter = key
			yielded++
		}

		p.collector.RecordRead(yielded)

		if !aws.ToBool(out.IsTruncated) || len(out.Contents) == 0 {
			return
		}
	}
}

func (p *Provider) fetch(ctx context.Context, key string) (*models.Object, error) {
	out, err := p.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(p.params.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err, "failed to get object").WithDetail("key", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, classify(err, "failed to read object body").WithDetail("key", key)
	}

	return &models.Object{
		Key:          key,
		Data:         data,
		ContentType:  aws.ToString(out.ContentType),
		Size:         int64(len(data)),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Write uploads objects in order, chunked by the configured batch size. Each
// object is one PutObject call; a failure leaves earlier chunks (and earlier
// objects of the failing chunk) stored.
func (p *Provider) Write(ctx context.Context, items []models.Object) error {
	if len(items) == 0 {
		return nil
	}
	for i, item := range items {
		if item.Key == "" {
			return strataerrors.Newf(strataerrors.KindInvalidInput, "object %d has an empty key", i)
		}
	}

	timer := p.collector.StartTimer("write")
	defer timer.Stop()

	for _, chunk := range core.Chunks(items, p.params.BatchSize) {
		for _, item := range chunk {
			if err := p.putObject(ctx, item); err != nil {
				p.collector.RecordError(string(strataerrors.KindOf(err)))
				return err
			}
		}
		p.collector.RecordWrite(len(chunk))
	}

	p.logger.Debug("objects written", zap.Int("count", len(items)))
	return nil
}

func (p *Provider) putObject(ctx context.Context, item models.Object) error {
	in := &awss3.PutObjectInput{
		Bucket: aws.String(p.params.Bucket),
		Key:    aws.String(item.Key),
		Body:   bytes.NewReader(item.Data),
	}
	if item.ContentType != "" {
		in.ContentType = aws.String(item.ContentType)
	}
	if _, err := p.client.PutObject(ctx, in); err != nil {
		return classify(err, "failed to put object").WithDetail("key", item.Key)
	}
	return nil
}

// Get fetches a single object by key.
func (p *Provider) Get(ctx context.Context, key string) (*models.Object, error) {
	if key == "" {
		return nil, strataerrors.New(strataerrors.KindInvalidInput, "key is required")
	}
	return p.fetch(ctx, key)
}

// Put stores a single object.
func (p *Provider) Put(ctx context.Context, item models.Object) error {
	if item.Key == "" {
		return strataerrors.New(strataerrors.KindInvalidInput, "key is required")
	}
	return p.putObject(ctx, item)
}

// Delete removes an object by key. Deleting an absent key succeeds, matching
// S3 semantics.
func (p *Provider) Delete(ctx context.Context, key string) error {
	if key == "" {
		return strataerrors.New(strataerrors.KindInvalidInput, "key is required")
	}
	if _, err := p.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(p.params.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return classify(err, "failed to delete object").WithDetail("key", key)
	}
	return nil
}

// Exists reports whether an object with the given key is present.
func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, strataerrors.New(strataerrors.KindInvalidInput, "key is required")
	}
	_, err := p.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(p.params.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cerr := classify(err, "failed to head object")
		if strataerrors.IsKind(cerr, strataerrors.KindNotFound) {
			return false, nil
		}
		return false, cerr.WithDetail("key", key)
	}
	return true, nil
}

func (p *Provider) failStream(emitter *core.Emitter[models.Object, Position], err error) {
	p.collector.RecordError(string(strataerrors.KindOf(err)))
	emitter.Fail(err)
}

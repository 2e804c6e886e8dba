package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataio/strata/pkg/metrics"
	"github.com/strataio/strata/pkg/models"
	"github.com/strataio/strata/pkg/strataerrors"
)

// fakeS3 serves an in-memory bucket and records the calls it sees.
type fakeS3 struct {
	objects map[string][]byte
	lists   int
	puts    []string
	deletes []string
	putErr  error
	headErr error
	failKey string
}

func newFakeS3(keys ...string) *fakeS3 {
	f := &fakeS3{objects: map[string][]byte{}}
	for _, key := range keys {
		f.objects[key] = []byte("data:" + key)
	}
	return f
}

func (f *fakeS3) sortedKeys() []string {
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *awss3.HeadBucketInput, opts ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &awss3.HeadBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, opts ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.lists++

	max := int(aws.ToInt32(in.MaxKeys))
	prefix := aws.ToString(in.Prefix)
	startAfter := aws.ToString(in.StartAfter)

	var contents []types.Object
	truncated := false
	for _, key := range f.sortedKeys() {
		if !strings.HasPrefix(key, prefix) || key <= startAfter {
			continue
		}
		if len(contents) == max {
			truncated = true
			break
		}
		contents = append(contents, types.Object{Key: aws.String(key)})
	}

	return &awss3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(truncated),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	if f.failKey != "" && aws.ToString(in.Key) == f.failKey {
		return nil, &smithy.GenericAPIError{Code: "InternalError", Message: "backend failure"}
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not found"}
	}
	return &awss3.GetObjectOutput{
		Body:        io.NopCloser(strings.NewReader(string(data))),
		ContentType: aws.String("application/octet-stream"),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.puts = append(f.puts, key)
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, opts ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	delete(f.objects, key)
	f.deletes = append(f.deletes, key)
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *awss3.HeadObjectInput, opts ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	}
	return &awss3.HeadObjectOutput{}, nil
}

func testProvider(client s3API, prefix string, batchSize int) *Provider {
	return newProvider(client, Params{Bucket: "test-bucket", Prefix: prefix, BatchSize: batchSize})
}

func collect(t *testing.T, p *Provider, pos Position) ([]models.Object, []Position) {
	t.Helper()

	stream, err := p.Read(context.Background(), pos)
	require.NoError(t, err)

	var objects []models.Object
	var positions []Position
	for pair := range stream.Items {
		objects = append(objects, pair.Item)
		positions = append(positions, pair.Position)
	}
	select {
	case err := <-stream.Errors:
		require.NoError(t, err)
	default:
	}
	return objects, positions
}

func TestReadAllInKeyOrder(t *testing.T) {
	fake := newFakeS3("a/1", "a/2", "a/3", "b/1")
	p := testProvider(fake, "", 2)

	objects, positions := collect(t, p, Position{})

	require.Len(t, objects, 4)
	assert.Equal(t, "a/1", objects[0].Key)
	assert.Equal(t, "b/1", objects[3].Key)
	assert.Equal(t, []byte("data:a/2"), objects[1].Data)
	assert.Equal(t, Position{StartAfter: "a/3"}, positions[2])
}

func TestReadHonorsPrefix(t *testing.T) {
	fake := newFakeS3("logs/1", "logs/2", "tmp/1")
	p := testProvider(fake, "logs/", 10)

	objects, _ := collect(t, p, Position{})

	require.Len(t, objects, 2)
	for _, obj := range objects {
		assert.True(t, strings.HasPrefix(obj.Key, "logs/"))
	}
}

func TestReadResumeAfterKey(t *testing.T) {
	keys := make([]string, 0, 7)
	for i := 1; i <= 7; i++ {
		keys = append(keys, fmt.Sprintf("k/%d", i))
	}
	fake := newFakeS3(keys...)
	p := testProvider(fake, "k/", 3)

	_, positions := collect(t, p, Position{})
	require.Len(t, positions, 7)

	// Resume from the third key: exactly the keys after it, once each.
	objects, _ := collect(t, p, positions[2])
	require.Len(t, objects, 4)
	for i, obj := range objects {
		assert.Equal(t, fmt.Sprintf("k/%d", i+4), obj.Key)
	}
}

func TestReadEmptyBucket(t *testing.T) {
	p := testProvider(newFakeS3(), "", 10)

	objects, _ := collect(t, p, Position{})
	assert.Empty(t, objects)
}

func TestReadCountsOnlyYieldedItems(t *testing.T) {
	// A single listing page of five keys where the third object fetch fails:
	// the items-read metric must count the two pairs actually yielded, not
	// the five listed keys.
	fake := newFakeS3("m/1", "m/2", "m/3", "m/4", "m/5")
	fake.failKey = "m/3"

	p := newProvider(fake, Params{Bucket: "metrics-read-bucket", BatchSize: 10})

	stream, err := p.Read(context.Background(), Position{})
	require.NoError(t, err)

	var yielded int
	for range stream.Items {
		yielded++
	}
	require.Error(t, <-stream.Errors)
	require.Equal(t, 2, yielded)

	count := promtestutil.ToFloat64(metrics.ItemsRead.WithLabelValues("metrics-read-bucket", "s3"))
	assert.Equal(t, float64(2), count)
}

func TestWriteChunksInOrder(t *testing.T) {
	fake := newFakeS3()
	p := testProvider(fake, "", 2)

	items := []models.Object{
		{Key: "w/1", Data: []byte("one")},
		{Key: "w/2", Data: []byte("two")},
		{Key: "w/3", Data: []byte("three")},
	}
	require.NoError(t, p.Write(context.Background(), items))

	assert.Equal(t, []string{"w/1", "w/2", "w/3"}, fake.puts)
	assert.Equal(t, []byte("three"), fake.objects["w/3"])
}

func TestWriteEmptyKeyRejected(t *testing.T) {
	fake := newFakeS3()
	p := testProvider(fake, "", 10)

	err := p.Write(context.Background(), []models.Object{{Key: ""}})
	require.Error(t, err)
	assert.True(t, strataerrors.IsKind(err, strataerrors.KindInvalidInput))
	assert.Empty(t, fake.puts)
}

func TestGetPutDeleteExists(t *testing.T) {
	fake := newFakeS3()
	p := testProvider(fake, "", 10)
	ctx := context.Background()

	require.NoError(t, p.Put(ctx, models.Object{Key: "doc", Data: []byte("hello")}))

	obj, err := p.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), obj.Data)

	ok, err := p.Exists(ctx, "doc")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.Delete(ctx, "doc"))

	ok, err = p.Exists(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Get(ctx, "doc")
	require.Error(t, err)
	assert.True(t, strataerrors.IsKind(err, strataerrors.KindNotFound))
}

func TestPingSurfacesClassifiedError(t *testing.T) {
	fake := newFakeS3()
	fake.headErr = &smithy.GenericAPIError{Code: "NoSuchBucket"}
	p := testProvider(fake, "", 10)

	err := p.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, strataerrors.IsKind(err, strataerrors.KindNotFound))
}

func TestCloseIdempotent(t *testing.T) {
	p := testProvider(newFakeS3(), "", 10)

	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind strataerrors.Kind
	}{
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, strataerrors.KindNotFound},
		{"no such bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, strataerrors.KindNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, strataerrors.KindConnection},
		{"bad key id", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, strataerrors.KindConnection},
		{"invalid argument", &smithy.GenericAPIError{Code: "InvalidArgument"}, strataerrors.KindInvalidInput},
		{"request timeout", &smithy.GenericAPIError{Code: "RequestTimeout"}, strataerrors.KindTimeout},
		{"internal error", &smithy.GenericAPIError{Code: "InternalError"}, strataerrors.KindProvider},
		{"deadline", context.DeadlineExceeded, strataerrors.KindTimeout},
		{"opaque", errors.New("boom"), strataerrors.KindProvider},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.err, "op failed")
			assert.Equal(t, tc.kind, strataerrors.KindOf(err))
		})
	}
}

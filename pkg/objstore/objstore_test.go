package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

type fakeS3 struct {
	objects map[string][]byte
	buckets map[string]bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, buckets: map[string]bool{}}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	prefix := aws.ToString(params.Prefix)
	for key, data := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out.Contents = append(out.Contents, s3Object(key, int64(len(data))))
		}
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", aws.ToString(params.Key))
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, params *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source := aws.ToString(params.CopySource)
	// CopySource is bucket-qualified; strip the bucket segment.
	for key, data := range f.objects {
		if source == aws.ToString(params.Bucket)+"/"+key {
			f.objects[aws.ToString(params.Key)] = data
			return &s3.CopyObjectOutput{}, nil
		}
	}
	return nil, fmt.Errorf("NoSuchKey: %s", source)
}

func (f *fakeS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, fmt.Errorf("NotFound: %s", aws.ToString(params.Key))
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, params *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.buckets[aws.ToString(params.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) DeleteBucket(_ context.Context, params *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	delete(f.buckets, aws.ToString(params.Bucket))
	return &s3.DeleteBucketOutput{}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.buckets[aws.ToString(params.Bucket)] {
		return nil, fmt.Errorf("NotFound: %s", aws.ToString(params.Bucket))
	}
	return &s3.HeadBucketOutput{}, nil
}

func newTestClient(fake *fakeS3) *Client {
	return &Client{api: fake, bucket: "examples", logger: logrus.NewEntry(logrus.StandardLogger())}
}

func TestPutGetRoundTrip(t *testing.T) {
	fake := newFakeS3()
	c := newTestClient(fake)
	ctx := context.Background()

	if err := c.Put(ctx, "e1/v1.0/meta.yaml", []byte("slug: demo"), "text/yaml", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := c.Get(ctx, "e1/v1.0/meta.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("slug: demo", string(data)); diff != "" {
		t.Errorf("content mismatch: %s", diff)
	}
}

func TestListPrefix(t *testing.T) {
	fake := newFakeS3()
	fake.objects["e1/v1.0/meta.yaml"] = []byte("a")
	fake.objects["e1/v1.0/main.py"] = []byte("b")
	fake.objects["e2/v1.0/meta.yaml"] = []byte("c")
	c := newTestClient(fake)

	infos, err := c.ListPrefix(context.Background(), "e1/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("expected 2 objects under e1/, got %d", len(infos))
	}
}

func TestCopy(t *testing.T) {
	fake := newFakeS3()
	fake.objects["e1/v1.0/meta.yaml"] = []byte("payload")
	c := newTestClient(fake)

	if err := c.Copy(context.Background(), "e1/v1.0/meta.yaml", "e1/v2.0/meta.yaml"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(fake.objects["e1/v2.0/meta.yaml"]) != "payload" {
		t.Errorf("copy target missing or wrong: %q", fake.objects["e1/v2.0/meta.yaml"])
	}
}

func TestEnsureBucketIdempotent(t *testing.T) {
	fake := newFakeS3()
	c := newTestClient(fake)
	ctx := context.Background()

	if err := c.EnsureBucket(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fake.buckets["examples"] {
		t.Fatal("bucket was not created")
	}
	if err := c.EnsureBucket(ctx); err != nil {
		t.Errorf("second ensure should be a no-op: %v", err)
	}
}

func s3Object(key string, size int64) types.Object {
	return types.Object{Key: aws.String(key), Size: aws.Int64(size)}
}

package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kailas-cloud/kpdex/internal/domain"
)

type fakeS3 struct {
	objects map[string][]byte
	pages   int
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 returns one key per page to exercise pagination.
func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.pages++
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	out := &s3.ListObjectsV2Output{}
	if start < len(keys) {
		out.Contents = []types.Object{{Key: aws.String(keys[start])}}
	}
	if start+1 < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[start+1])
	}
	return out, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	f := &fakeS3{objects: map[string][]byte{}}
	s, err := NewS3Store(f, "snapshots", "kpdex/")
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	ctx := context.Background()
	for _, n := range []string{"index-1", "index-3", "index-2", "categories-1"} {
		if err := s.Save(ctx, n, []byte(n)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if _, ok := f.objects["kpdex/index-3"]; !ok {
		t.Error("object key not prefixed")
	}
	got, err := s.Load(ctx, "index-3")
	if err != nil || string(got) != "index-3" {
		t.Fatalf("Load() = %q, %v", got, err)
	}

	names, err := s.List(ctx, "index-")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 3 || names[0] != "index-3" || names[2] != "index-1" {
		t.Errorf("List() = %v", names)
	}
	if f.pages < 3 {
		t.Errorf("expected paginated listing, got %d pages", f.pages)
	}

	if err := s.Prune(ctx, "index-", 1); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(f.objects) != 2 {
		t.Errorf("objects after prune = %d, want 2", len(f.objects))
	}
}

func TestS3Store_LoadMissing(t *testing.T) {
	s, _ := NewS3Store(&fakeS3{objects: map[string][]byte{}}, "b", "")
	if _, err := s.Load(context.Background(), "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNewS3Store_Validation(t *testing.T) {
	if _, err := NewS3Store(nil, "b", ""); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewS3Store(&fakeS3{}, "", ""); err == nil {
		t.Error("expected error for empty bucket")
	}
}

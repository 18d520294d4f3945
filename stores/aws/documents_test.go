package aws

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"emojiart-server/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 keeps objects in memory and fails like S3 does for missing keys.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestCreateAndFind(t *testing.T) {
	fake := newFakeS3()
	store := NewStoreWithClient(fake, "bucket")
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{Data: *bytes.NewBufferString(`{"emojis":[]}`)})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, ok := fake.objects["bucket/documents/"+id]; !ok {
		t.Errorf("Object not stored under documents/ prefix: %v", fake.objects)
	}

	doc, err := store.FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if doc.Data.String() != `{"emojis":[]}` {
		t.Errorf("Data = %q", doc.Data.String())
	}
}

func TestFindID_NotFound(t *testing.T) {
	store := NewStoreWithClient(newFakeS3(), "bucket")

	_, err := store.FindID(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindID() error = %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	store := NewStoreWithClient(newFakeS3(), "bucket")
	ctx := context.Background()

	id, _ := store.Create(ctx, &core.Document{Data: *bytes.NewBufferString("v1")})
	if err := store.Update(ctx, id, &core.Document{Data: *bytes.NewBufferString("v2")}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	doc, err := store.FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if doc.Data.String() != "v2" {
		t.Errorf("Data = %q, want v2", doc.Data.String())
	}

	if err := store.Update(ctx, "missing", &core.Document{}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Update() on missing id error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	store := NewStoreWithClient(newFakeS3(), "bucket")
	ctx := context.Background()

	id, _ := store.Create(ctx, &core.Document{Data: *bytes.NewBufferString("doc")})
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.FindID(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindID() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestCreate_UploadError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	store := NewStoreWithClient(fake, "bucket")

	if _, err := store.Create(context.Background(), &core.Document{}); err == nil {
		t.Error("Create() should fail when the upload fails")
	}
}

package bootstrap

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	body []byte
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func TestS3ImageSourceFetchTo(t *testing.T) {
	src := &S3ImageSource{
		client: &fakeS3{body: []byte("fake-base-image-bytes")},
		bucket: "ignis-images",
		key:    "base.img",
	}

	dest := filepath.Join(t.TempDir(), "base.img")
	if err := src.FetchTo(context.Background(), dest); err != nil {
		t.Fatalf("FetchTo: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read fetched file: %v", err)
	}
	if string(got) != "fake-base-image-bytes" {
		t.Fatalf("unexpected contents: %q", got)
	}
}

package datastore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 serves path-style object storage from memory and counts writes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body := new(bytes.Buffer)
		body.ReadFrom(r.Body)
		f.objects[r.URL.Path] = body.Bytes()
		f.puts++
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodGet:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func (f *fakeS3) seed(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = data
}

func testClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("test", "test", ""),
	}
	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(srv.URL)
		o.UsePathStyle = true
	})

	return &Client{s3Client: s3Client, bucket: "test-bucket", prefix: "metaflow"}, fake
}

func TestUploadPackage_SkipsRepublish(t *testing.T) {
	client, fake := testClient(t)
	blob := []byte("code package")

	first, err := client.UploadPackage(context.Background(), blob)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	sum := sha256.Sum256(blob)
	checksum := hex.EncodeToString(sum[:])
	wantURL := "s3://test-bucket/metaflow/data/" + checksum[:2] + "/" + checksum
	if first.URL != wantURL || first.SHA256 != checksum {
		t.Errorf("unexpected result: %+v", first)
	}
	if fake.putCount() != 1 {
		t.Fatalf("expected 1 write, got %d", fake.putCount())
	}

	second, err := client.UploadPackage(context.Background(), blob)
	if err != nil {
		t.Fatalf("repeat upload failed: %v", err)
	}
	if *second != *first {
		t.Errorf("repeat upload returned a different result: %+v vs %+v", second, first)
	}
	if fake.putCount() != 1 {
		t.Errorf("republish wrote the blob again: %d writes", fake.putCount())
	}
}

func TestDownload(t *testing.T) {
	client, fake := testClient(t)

	want := []byte("stored package content")
	fake.seed("/test-bucket/metaflow/data/ab/abcd", want)

	got, err := client.Download(context.Background(), "data/ab/abcd")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("downloaded %q, want %q", got, want)
	}

	if _, err := client.Download(context.Background(), "data/ab/missing"); err == nil {
		t.Error("expected error for a missing object")
	}
}

func TestExists(t *testing.T) {
	client, fake := testClient(t)

	exists, err := client.Exists(context.Background(), "data/ab/abcd")
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if exists {
		t.Error("reported a missing object as existing")
	}

	fake.seed("/test-bucket/metaflow/data/ab/abcd", []byte("content"))

	exists, err = client.Exists(context.Background(), "data/ab/abcd")
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if !exists {
		t.Error("reported a stored object as missing")
	}
}

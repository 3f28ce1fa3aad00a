package packagecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestPublish_OnceUnderConcurrency(t *testing.T) {
	var cache Cache
	var uploads atomic.Int32

	const workers = 16
	results := make([]Artifact, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifact, err := cache.Publish(context.Background(), func(ctx context.Context) (Artifact, error) {
				uploads.Add(1)
				return Artifact{URL: "s3://bucket/pkg", SHA256: "abc", Metadata: "v1"}, nil
			})
			if err != nil {
				t.Errorf("Publish failed: %v", err)
				return
			}
			results[i] = artifact
		}(i)
	}
	wg.Wait()

	if got := uploads.Load(); got != 1 {
		t.Errorf("expected exactly 1 upload, got %d", got)
	}
	for i, artifact := range results {
		if artifact.URL != "s3://bucket/pkg" || artifact.SHA256 != "abc" || artifact.Metadata != "v1" {
			t.Errorf("worker %d adopted inconsistent artifact: %+v", i, artifact)
		}
	}
}

func TestPublish_FailureAllowsRetry(t *testing.T) {
	var cache Cache

	_, err := cache.Publish(context.Background(), func(ctx context.Context) (Artifact, error) {
		return Artifact{}, errors.New("network down")
	})
	if err == nil {
		t.Fatal("expected upload error")
	}

	artifact, err := cache.Publish(context.Background(), func(ctx context.Context) (Artifact, error) {
		return Artifact{URL: "s3://bucket/pkg", SHA256: "abc"}, nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if artifact.URL != "s3://bucket/pkg" {
		t.Errorf("unexpected artifact after retry: %+v", artifact)
	}
}

func TestGet_DoesNotPublish(t *testing.T) {
	var cache Cache

	if _, ok := cache.Get(); ok {
		t.Error("empty cache reported a published artifact")
	}

	want := Artifact{URL: "s3://bucket/pkg", SHA256: "abc"}
	cache.Publish(context.Background(), func(ctx context.Context) (Artifact, error) {
		return want, nil
	})

	got, ok := cache.Get()
	if !ok || got != want {
		t.Errorf("Get = (%+v, %v), want (%+v, true)", got, ok, want)
	}
}

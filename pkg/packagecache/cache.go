// Package packagecache guarantees the code package is uploaded at most once
// per flow run. Every task of a run shares one Cache by reference; the first
// publisher uploads and the rest adopt its result.
package packagecache

import (
	"context"
	"sync"
)

// Artifact is the published code package reference. It points into the run's
// datastore; the cache never owns or deletes the underlying object.
type Artifact struct {
	URL      string
	SHA256   string
	Metadata string
}

// UploadFunc performs the actual upload and returns the published artifact.
type UploadFunc func(ctx context.Context) (Artifact, error)

// Cache is the run-scoped publication guard. The zero value is ready to use.
type Cache struct {
	mu        sync.Mutex
	published bool
	artifact  Artifact
}

// Publish returns the run's package artifact, invoking upload only if no
// artifact has been published yet. Concurrent first-publish attempts are
// serialized: exactly one upload runs, the rest block and adopt the winner's
// result. A failed upload leaves the cache empty so a later attempt can
// retry.
func (c *Cache) Publish(ctx context.Context, upload UploadFunc) (Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.published {
		return c.artifact, nil
	}

	artifact, err := upload(ctx)
	if err != nil {
		return Artifact{}, err
	}

	c.artifact = artifact
	c.published = true
	return artifact, nil
}

// Get returns the published artifact without triggering an upload. Cloned
// tasks replay already-completed work and must use this path so they never
// publish afresh.
func (c *Cache) Get() (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact, c.published
}

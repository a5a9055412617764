package memstore

import (
	"context"
	"strings"
	"sync"

	"byggarportalen/internal/blob"
)

const publicPrefix = "http://blobs.test/project-timeline/"

// Blobs keeps uploaded objects in memory
type Blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewBlobs() *Blobs {
	return &Blobs{objects: map[string][]byte{}}
}

func (b *Blobs) Upload(_ context.Context, path string, data []byte, _ string, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[path]; ok && !overwrite {
		return blob.ErrObjectExists
	}
	b.objects[path] = append([]byte(nil), data...)
	return nil
}

func (b *Blobs) Remove(_ context.Context, paths ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range paths {
		delete(b.objects, p)
	}
	return nil
}

func (b *Blobs) PublicURL(path string) string {
	return publicPrefix + path
}

func (b *Blobs) PathFromURL(raw string) string {
	if !strings.HasPrefix(raw, publicPrefix) {
		return ""
	}
	return strings.TrimPrefix(raw, publicPrefix)
}

// Paths returns the stored object paths
func (b *Blobs) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.objects))
	for p := range b.objects {
		out = append(out, p)
	}
	return out
}

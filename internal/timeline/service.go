// Package timeline replaces and removes the single timeline image of a project.
//
// Neither operation is atomic. Each step runs independently and a failure part way leaves a
// self-consistent state: at worst an unreferenced object stays in the bucket.
package timeline

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"byggarportalen/internal/storage"

	"go.uber.org/zap"
)

// Blobs is the object storage used for image files
type Blobs interface {
	Upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error
	Remove(ctx context.Context, paths ...string) error
	PublicURL(path string) string
	PathFromURL(raw string) string
}

// Projects is the project row storage
type Projects interface {
	SetTimelineImage(ctx context.Context, id string, url, path *string) (storage.Project, error)
}

type Service struct {
	logger   *zap.SugaredLogger
	blobs    Blobs
	projects Projects
	now      func() time.Time
}

func NewService(logger *zap.SugaredLogger, blobs Blobs, projects Projects) *Service {
	return &Service{
		logger:   logger,
		blobs:    blobs,
		projects: projects,
		now:      time.Now,
	}
}

// currentPath prefers the stored path and falls back to parsing the stored url
func (s *Service) currentPath(p storage.Project) string {
	if p.TimelineImagePath != nil && *p.TimelineImagePath != "" {
		return *p.TimelineImagePath
	}
	if p.TimelineImageURL != nil {
		return s.blobs.PathFromURL(*p.TimelineImageURL)
	}
	return ""
}

// Replace stores image as the new timeline of project p:
// upload the new object, link it on the project row, then delete the previous object.
// If linking fails the previous image stays linked and in place; the new object is orphaned.
// If deleting the previous object fails it is only logged.
func (s *Service) Replace(ctx context.Context, p storage.Project, image []byte) (storage.Project, error) {
	if len(image) > MaxUploadSize {
		return storage.Project{}, ErrTooLarge
	}

	oldPath := s.currentPath(p)

	compressed, err := Compress(bytes.NewReader(image))
	if err != nil {
		return storage.Project{}, err
	}

	path := p.ID + "/timeline-" + strconv.FormatInt(s.now().UnixMilli(), 10) + ".jpg"
	if err := s.blobs.Upload(ctx, path, compressed, "image/jpeg", true); err != nil {
		return storage.Project{}, fmt.Errorf("upload timeline image: %w", err)
	}

	url := s.blobs.PublicURL(path)
	updated, err := s.projects.SetTimelineImage(ctx, p.ID, &url, &path)
	if err != nil {
		s.logger.Warnf("Uploaded timeline image %s is not linked to project (id: %s)", path, p.ID)
		return storage.Project{}, fmt.Errorf("link timeline image: %w", err)
	}

	if oldPath != "" && oldPath != path {
		if err := s.blobs.Remove(ctx, oldPath); err != nil {
			s.logger.Warnf("Could not remove previous timeline image %s: %v", oldPath, err)
		}
	}

	return updated, nil
}

// Remove deletes the timeline object (failure is only logged) and clears the image columns
func (s *Service) Remove(ctx context.Context, p storage.Project) (storage.Project, error) {
	if path := s.currentPath(p); path != "" {
		if err := s.blobs.Remove(ctx, path); err != nil {
			s.logger.Warnf("Could not remove timeline image %s: %v", path, err)
		}
	}

	updated, err := s.projects.SetTimelineImage(ctx, p.ID, nil, nil)
	if err != nil {
		return storage.Project{}, fmt.Errorf("unlink timeline image: %w", err)
	}
	return updated, nil
}

package timeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"byggarportalen/internal/storage"
	mytesting "byggarportalen/internal/testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBlobs struct {
	uploaded  []string
	removed   []string
	uploadErr error
	removeErr error
}

func (f *fakeBlobs) Upload(_ context.Context, path string, _ []byte, contentType string, overwrite bool) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if contentType != "image/jpeg" || !overwrite {
		return errors.New("unexpected upload options")
	}
	f.uploaded = append(f.uploaded, path)
	return nil
}

func (f *fakeBlobs) Remove(_ context.Context, paths ...string) error {
	f.removed = append(f.removed, paths...)
	return f.removeErr
}

func (f *fakeBlobs) PublicURL(path string) string {
	return "http://blob/project-timeline/" + path
}

func (f *fakeBlobs) PathFromURL(raw string) string {
	const prefix = "http://blob/project-timeline/"
	if len(raw) > len(prefix) && raw[:len(prefix)] == prefix {
		return raw[len(prefix):]
	}
	return ""
}

type fakeProjects struct {
	err       error
	url, path *string
	calls     int
}

func (f *fakeProjects) SetTimelineImage(_ context.Context, id string, url, path *string) (storage.Project, error) {
	f.calls++
	if f.err != nil {
		return storage.Project{}, f.err
	}
	f.url, f.path = url, path
	return storage.Project{ID: id, TimelineImageURL: url, TimelineImagePath: path}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newService(blobs *fakeBlobs, projects *fakeProjects) *Service {
	s := NewService(zap.NewNop().Sugar(), blobs, projects)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s
}

func TestFitWithin(t *testing.T) {
	w, h := fitWithin(3200, 800, 1600)
	require.Equal(t, 1600, w)
	require.Equal(t, 400, h)

	w, h = fitWithin(800, 3200, 1600)
	require.Equal(t, 400, w)
	require.Equal(t, 1600, h)

	w, h = fitWithin(100, 50, 1600)
	require.Equal(t, 100, w)
	require.Equal(t, 50, h)
}

func TestCompressDownscales(t *testing.T) {
	out, err := Compress(bytes.NewReader(pngBytes(t, 3200, 800)))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 1600, img.Bounds().Dx())
	require.Equal(t, 400, img.Bounds().Dy())
}

func TestCompressRejectsNonImage(t *testing.T) {
	_, err := Compress(bytes.NewReader([]byte("not an image")))
	require.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestReplaceRemovesPreviousImage(t *testing.T) {
	blobs := &fakeBlobs{}
	projects := &fakeProjects{}
	s := newService(blobs, projects)

	p := storage.Project{ID: "p1", TimelineImagePath: mytesting.Ptr("p1/timeline-1.jpg")}
	updated, err := s.Replace(context.Background(), p, pngBytes(t, 20, 10))
	require.NoError(t, err)

	require.Equal(t, []string{"p1/timeline-1700000000000.jpg"}, blobs.uploaded)
	require.Equal(t, "http://blob/project-timeline/p1/timeline-1700000000000.jpg", *updated.TimelineImageURL)
	require.Equal(t, []string{"p1/timeline-1.jpg"}, blobs.removed)
}

func TestReplaceFallsBackToURLForPreviousPath(t *testing.T) {
	blobs := &fakeBlobs{}
	s := newService(blobs, &fakeProjects{})

	p := storage.Project{ID: "p1", TimelineImageURL: mytesting.Ptr("http://blob/project-timeline/p1/old.jpg")}
	_, err := s.Replace(context.Background(), p, pngBytes(t, 20, 10))
	require.NoError(t, err)
	require.Equal(t, []string{"p1/old.jpg"}, blobs.removed)
}

func TestReplaceLinkFailureKeepsPreviousImage(t *testing.T) {
	blobs := &fakeBlobs{}
	projects := &fakeProjects{err: errors.New("db down")}
	s := newService(blobs, projects)

	p := storage.Project{ID: "p1", TimelineImagePath: mytesting.Ptr("p1/timeline-1.jpg")}
	_, err := s.Replace(context.Background(), p, pngBytes(t, 20, 10))
	require.Error(t, err)

	require.Len(t, blobs.uploaded, 1)
	require.Empty(t, blobs.removed)
}

func TestReplaceUploadFailureTouchesNothing(t *testing.T) {
	blobs := &fakeBlobs{uploadErr: errors.New("bucket gone")}
	projects := &fakeProjects{}
	s := newService(blobs, projects)

	_, err := s.Replace(context.Background(), storage.Project{ID: "p1"}, pngBytes(t, 20, 10))
	require.Error(t, err)
	require.Equal(t, 0, projects.calls)
	require.Empty(t, blobs.removed)
}

func TestReplaceOldRemovalFailureIsNotFatal(t *testing.T) {
	blobs := &fakeBlobs{removeErr: errors.New("nope")}
	s := newService(blobs, &fakeProjects{})

	p := storage.Project{ID: "p1", TimelineImagePath: mytesting.Ptr("p1/timeline-1.jpg")}
	updated, err := s.Replace(context.Background(), p, pngBytes(t, 20, 10))
	require.NoError(t, err)
	require.NotNil(t, updated.TimelineImagePath)
}

func TestReplaceTooLarge(t *testing.T) {
	s := newService(&fakeBlobs{}, &fakeProjects{})

	_, err := s.Replace(context.Background(), storage.Project{ID: "p1"}, make([]byte, MaxUploadSize+1))
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestRemoveClearsColumnsEvenIfBlobRemovalFails(t *testing.T) {
	blobs := &fakeBlobs{removeErr: errors.New("nope")}
	projects := &fakeProjects{}
	s := newService(blobs, projects)

	p := storage.Project{ID: "p1", TimelineImagePath: mytesting.Ptr("p1/timeline-1.jpg")}
	updated, err := s.Remove(context.Background(), p)
	require.NoError(t, err)
	require.Nil(t, updated.TimelineImageURL)
	require.Nil(t, updated.TimelineImagePath)
	require.Equal(t, []string{"p1/timeline-1.jpg"}, blobs.removed)
}

func TestRemoveWithoutImage(t *testing.T) {
	blobs := &fakeBlobs{}
	projects := &fakeProjects{}
	s := newService(blobs, projects)

	_, err := s.Remove(context.Background(), storage.Project{ID: "p1"})
	require.NoError(t, err)
	require.Empty(t, blobs.removed)
	require.Equal(t, 1, projects.calls)
}

package timeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxUploadSize caps the original file size
	MaxUploadSize = 25 << 20
	// MaxDimension bounds both width and height of the stored image
	MaxDimension = 1600
	// JPEGQuality is the re-encoding quality of stored images
	JPEGQuality = 70
)

var (
	ErrTooLarge         = errors.New("file is too large (max 25 MB)")
	ErrUnsupportedImage = errors.New("unsupported image format")
)

// fitWithin returns w×h scaled down to fit into max×max keeping the aspect ratio; images that fit are unchanged
func fitWithin(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}

// Compress decodes a jpeg, png, gif or webp image, downscales it to fit MaxDimension and re-encodes
// it as JPEG. Transparent areas become white.
func Compress(r io.Reader) ([]byte, error) {
	src, _, err := image.Decode(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), MaxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}

package domain

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Image is a decoded-enough image: the raw encoded bytes plus what the
// decoder learned about them.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// ContentType maps Format to a MIME type.
func (i *Image) ContentType() string {
	switch i.Format {
	case "png", "jpeg", "gif", "webp":
		return "image/" + i.Format
	default:
		return "application/octet-stream"
	}
}

// DecodeImage checks that data is an image in one of the registered formats.
// Only the header is parsed; pixel data is left encoded.
func DecodeImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &Image{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// ImageCache resolves images through its tiers.
type ImageCache interface {
	Resolve(ctx context.Context, rawURL string, name string) (*Image, error)
	Clear(ctx context.Context) error
}

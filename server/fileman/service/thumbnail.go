package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	thumbnailSize = 320
	// maxThumbnailPixels caps the decoded bitmap; a few KB of PNG can declare
	// far more than that.
	maxThumbnailPixels = 40_000_000
)

var errImageTooLarge = errors.New("image dimensions exceed thumbnail limit")

func hasThumbnail(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

func renderThumbnail(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxThumbnailPixels {
		return nil, fmt.Errorf("%w: %dx%d", errImageTooLarge, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Thumbnail(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package commands

import (
	"bytes"
	"errors"
	"fmt"
	"image"
)

// DefaultMaxPixels bounds width*height of any image a command decodes.
const DefaultMaxPixels = 50_000_000

// ErrImageTooLarge is returned before decoding an image whose declared size
// exceeds the pixel budget.
var ErrImageTooLarge = errors.New("image exceeds pixel budget")

// CheckImageSize reads only the image header and rejects images larger than
// maxPixels. Unknown formats yield image.ErrFormat.
func CheckImageSize(imageData []byte, maxPixels int) error {
	config, format, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return fmt.Errorf("failed to read image header: %w", err)
	}
	if err := checkPixels(config.Width, config.Height, maxPixels); err != nil {
		return fmt.Errorf("%s: %w", format, err)
	}
	return nil
}

func checkPixels(width, height, maxPixels int) error {
	if int64(width)*int64(height) > int64(maxPixels) {
		return fmt.Errorf("%dx%d is over %d pixels: %w", width, height, maxPixels, ErrImageTooLarge)
	}
	return nil
}

package commands

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/image/draw"

	"github.com/jo-hoe/gallerysync/internal/backend/commandstructure"
)

const FitScaleCommandName = "FitScaleCommand"

// FitScaleParams bounds the output image and the input it accepts.
type FitScaleParams struct {
	Width     int
	Height    int
	Filter    string
	MaxPixels int
}

// NewFitScaleParamsFromMap reads width, height (default 800 each), the
// resampling filter (default catmullrom) and maxPixels.
func NewFitScaleParamsFromMap(params map[string]any) (*FitScaleParams, error) {
	width, err := commandstructure.GetPositiveIntParam(params, "width", 800)
	if err != nil {
		return nil, err
	}
	height, err := commandstructure.GetPositiveIntParam(params, "height", 800)
	if err != nil {
		return nil, err
	}
	filter := strings.ToLower(commandstructure.GetStringParam(params, "filter", "catmullrom"))
	if _, ok := scalers[filter]; !ok {
		return nil, fmt.Errorf("unknown filter %q", filter)
	}
	maxPixels, err := commandstructure.GetPositiveIntParam(params, "maxPixels", DefaultMaxPixels)
	if err != nil {
		return nil, err
	}
	return &FitScaleParams{Width: width, Height: height, Filter: filter, MaxPixels: maxPixels}, nil
}

var scalers = map[string]draw.Scaler{
	"nearest":        draw.NearestNeighbor,
	"approxbilinear": draw.ApproxBiLinear,
	"bilinear":       draw.BiLinear,
	"catmullrom":     draw.CatmullRom,
}

// FitScaleCommand shrinks an image to fit inside Width x Height, keeping the
// aspect ratio. Images that already fit are never enlarged.
type FitScaleCommand struct {
	params *FitScaleParams
}

// NewFitScaleCommand creates the command from configuration parameters.
func NewFitScaleCommand(params map[string]any) (commandstructure.Command, error) {
	typed, err := NewFitScaleParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &FitScaleCommand{params: typed}, nil
}

// Name returns the command name
func (c *FitScaleCommand) Name() string {
	return FitScaleCommandName
}

func (c *FitScaleCommand) Execute(imageData []byte) ([]byte, error) {
	if err := CheckImageSize(imageData, c.params.MaxPixels); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), c.params.Width, c.params.Height)
	if width == bounds.Dx() && height == bounds.Dy() {
		slog.Debug("FitScaleCommand: image already fits; not scaling",
			"width", width, "height", height)
		if bytes.HasPrefix(imageData, pngSignature) {
			return imageData, nil
		}
		return encodePNG(src)
	}

	slog.Debug("FitScaleCommand: scaling image",
		"original_width", bounds.Dx(),
		"original_height", bounds.Dy(),
		"scaled_width", width,
		"scaled_height", height,
		"filter", c.params.Filter)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	scalers[c.params.Filter].Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	return encodePNG(dst)
}

// fitWithin returns the largest size with the aspect ratio of w x h that fits
// inside maxW x maxH, capped at the original size.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	ratio := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if ratio >= 1 {
		return w, h
	}
	scaledW := int(math.Round(float64(w) * ratio))
	scaledH := int(math.Round(float64(h) * ratio))
	return clamp(scaledW, 1, maxW), clamp(scaledH, 1, maxH)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func init() {
	if err := commandstructure.DefaultRegistry.Register(FitScaleCommandName, NewFitScaleCommand); err != nil {
		panic(fmt.Sprintf("failed to register %s: %v", FitScaleCommandName, err))
	}
}

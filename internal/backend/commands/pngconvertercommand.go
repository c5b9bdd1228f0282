package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/jo-hoe/gallerysync/internal/backend/commandstructure"
)

const PngConverterCommandName = "PngConverterCommand"

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// PngConverterCommand turns whatever the browser put on the clipboard into a
// PNG. PNG input passes through untouched; JPEG, GIF, BMP, TIFF and WebP are
// decoded and re-encoded; SVG is rasterized at its viewBox size, or at the
// configured fallback size when the viewBox is empty.
type PngConverterCommand struct {
	svgFallbackWidth  int
	svgFallbackHeight int
	maxPixels         int
}

// NewPngConverterCommand reads the optional svgFallbackWidth,
// svgFallbackHeight and maxPixels parameters.
func NewPngConverterCommand(params map[string]any) (commandstructure.Command, error) {
	maxPixels, err := commandstructure.GetPositiveIntParam(params, "maxPixels", DefaultMaxPixels)
	if err != nil {
		return nil, err
	}
	return &PngConverterCommand{
		svgFallbackWidth:  commandstructure.GetIntParam(params, "svgFallbackWidth", 800),
		svgFallbackHeight: commandstructure.GetIntParam(params, "svgFallbackHeight", 800),
		maxPixels:         maxPixels,
	}, nil
}

// Name returns the command name
func (c *PngConverterCommand) Name() string {
	return PngConverterCommandName
}

func (c *PngConverterCommand) Execute(imageData []byte) ([]byte, error) {
	isPNG := bytes.HasPrefix(imageData, pngSignature)
	if !isPNG && isSVGData(imageData) {
		return c.convertSVG(imageData)
	}

	if err := CheckImageSize(imageData, c.maxPixels); err != nil {
		return nil, err
	}
	if isPNG {
		slog.Debug("PngConverterCommand: PNG detected; passing through", "input_size_bytes", len(imageData))
		return imageData, nil
	}

	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	slog.Debug("PngConverterCommand: decoded raster image",
		"format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())

	return encodePNG(img)
}

func (c *PngConverterCommand) convertSVG(svgData []byte) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}

	width, height := int(icon.ViewBox.W), int(icon.ViewBox.H)
	if width <= 0 || height <= 0 {
		width, height = c.svgFallbackWidth, c.svgFallbackHeight
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid SVG render size %dx%d", width, height)
	}
	if err := checkPixels(width, height, c.maxPixels); err != nil {
		return nil, fmt.Errorf("svg: %w", err)
	}
	slog.Debug("PngConverterCommand: rasterizing SVG", "width", width, "height", height)

	icon.SetTarget(0, 0, float64(width), float64(height))
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1.0)

	return encodePNG(canvas)
}

// isSVGData looks for an <svg tag or the SVG namespace in the first 4KB.
func isSVGData(data []byte) bool {
	header := data
	if len(header) > 4096 {
		header = header[:4096]
	}
	header = bytes.ToLower(header)
	return bytes.Contains(header, []byte("<svg")) ||
		bytes.Contains(header, []byte("http://www.w3.org/2000/svg"))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func init() {
	if err := commandstructure.DefaultRegistry.Register(PngConverterCommandName, NewPngConverterCommand); err != nil {
		panic(fmt.Sprintf("failed to register %s: %v", PngConverterCommandName, err))
	}
}

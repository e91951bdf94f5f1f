package encode

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// elevationStop is one anchor of the heatmap's elevation-to-color ramp.
type elevationStop struct {
	elevation float64
	color     colorful.Color
}

// defaultElevationRamp is a bathymetric/hypsometric ramp: deep blue for
// trenches, green lowlands, brown highlands, white peaks. Stops are
// expressed in meters relative to the reference sphere.
var defaultElevationRamp = []elevationStop{
	{elevation: -8000, color: colorful.Color{R: 0.02, G: 0.05, B: 0.25}},
	{elevation: 0, color: colorful.Color{R: 0.10, G: 0.35, B: 0.55}},
	{elevation: 1, color: colorful.Color{R: 0.20, G: 0.45, B: 0.20}},
	{elevation: 1500, color: colorful.Color{R: 0.55, G: 0.50, B: 0.25}},
	{elevation: 4000, color: colorful.Color{R: 0.45, G: 0.35, B: 0.30}},
	{elevation: 7000, color: colorful.Color{R: 0.95, G: 0.95, B: 0.95}},
}

// HeatmapEncoder renders a tile's raw elevation samples as a false-color
// PNG for visual inspection (cmd/tilesnapshot), blending between ramp
// stops in perceptually uniform Lab space rather than raw RGB so the
// transitions don't muddy through gray.
type HeatmapEncoder struct {
	Ramp []elevationStop
}

// NewHeatmapEncoder builds a HeatmapEncoder using the default elevation
// ramp.
func NewHeatmapEncoder() *HeatmapEncoder {
	return &HeatmapEncoder{Ramp: defaultElevationRamp}
}

func (e *HeatmapEncoder) colorFor(elevation float64) color.NRGBA {
	ramp := e.Ramp
	if elevation <= ramp[0].elevation {
		return toNRGBA(ramp[0].color)
	}
	last := len(ramp) - 1
	if elevation >= ramp[last].elevation {
		return toNRGBA(ramp[last].color)
	}
	for i := 1; i <= last; i++ {
		if elevation > ramp[i].elevation {
			continue
		}
		lo, hi := ramp[i-1], ramp[i]
		t := (elevation - lo.elevation) / (hi.elevation - lo.elevation)
		return toNRGBA(lo.color.BlendLab(hi.color, t).Clamped())
	}
	return toNRGBA(ramp[last].color)
}

func toNRGBA(c colorful.Color) color.NRGBA {
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// Render paints one pixel per element of elevations (row-major, width
// wide) into a false-color image, for dumping a cache tile's terrain to a
// PNG a human can look at.
func (e *HeatmapEncoder) Render(elevations []float32, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, e.colorFor(float64(elevations[y*width+x])))
		}
	}
	return img
}

func (e *HeatmapEncoder) Encode(img image.Image) ([]byte, error) {
	return (&PNGEncoder{}).Encode(img)
}

func (e *HeatmapEncoder) Format() string        { return "heatmap" }
func (e *HeatmapEncoder) PMTileType() uint8     { return TileTypePNG }
func (e *HeatmapEncoder) FileExtension() string { return ".png" }

// Command tilesnapshot drives the cache pipeline for a single simulated
// viewpoint and dumps every resolved CPU tile's elevation data as an
// image, for visually inspecting what the selector and CPU cache actually
// produced.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"image"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arcterra/globecache/internal/cpucache"
	"github.com/arcterra/globecache/internal/encode"
	"github.com/arcterra/globecache/internal/fractal"
	"github.com/arcterra/globecache/internal/loader"
	"github.com/arcterra/globecache/internal/minmax"
	"github.com/arcterra/globecache/internal/progress"
	"github.com/arcterra/globecache/internal/selector"
	"github.com/arcterra/globecache/internal/tilecode"
)

func main() {
	var (
		outDir      string
		tileWidth   int
		cpuTiles    int
		resolution  float64
		camDistance float64
		seed        int64
		format      string
	)

	flag.StringVar(&outDir, "out", "snapshots", "Output directory for tile images")
	flag.IntVar(&tileWidth, "tile-width", 64, "Elevation tile width in samples")
	flag.IntVar(&cpuTiles, "cpu-tiles", 512, "CPU cache capacity in tiles")
	flag.Float64Var(&resolution, "resolution", 2e-4, "Screen-error threshold driving tile refinement")
	flag.Float64Var(&camDistance, "camera-distance", 3.0, "Camera distance from the globe center, in sphere radii")
	flag.Int64Var(&seed, "seed", 1, "Seed for the synthetic terrain")
	flag.StringVar(&format, "format", "heatmap", "Output image format: heatmap, terrarium, png")
	flag.Parse()

	log := logrus.New()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.WithError(err).Fatal("creating output directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := loader.NewPool(ctx, log)
	defer pool.Close()

	source := fractal.NewSource(tileWidth, rand.New(rand.NewSource(seed)))
	tree := minmax.New(256, log)
	cpu := cpucache.NewCache(cpuTiles, tileWidth*tileWidth*4, pool, log)

	cam := selector.Camera{
		ViewProj: staticViewProj(camDistance),
		Position: selector.Vec3{X: 0, Y: 0, Z: camDistance},
	}

	selected := selector.Select(cam, source, tree, resolution)
	resolved := cpu.Update(ctx, source, selected)
	// A production tile may still be in flight right after Update returns;
	// tilesnapshot is a diagnostic one-shot, so it is allowed to poll
	// briefly where the real render loop would simply retry next frame.
	waitForReady(cpu, resolved, 2*time.Second)

	enc, err := encode.NewEncoder(format, 85)
	if err != nil {
		log.WithError(err).Fatal("building encoder")
	}
	heatmap, _ := enc.(*encode.HeatmapEncoder)

	bar := progress.New("tilesnapshot", "tiles", int64(len(resolved)))
	written := 0
	for _, code := range resolved {
		if code == tilecode.None {
			bar.Increment()
			continue
		}
		ref, err := cpu.Acquire(code)
		if err != nil {
			bar.Increment()
			continue
		}
		elevations := decodeElevations(ref.Data)
		img := tileImage(elevations, tileWidth, heatmap)
		cpu.Release(ref)

		data, err := enc.Encode(img)
		if err != nil {
			log.WithError(err).WithField("tile_code", code.String()).Warn("encoding tile failed")
			bar.Increment()
			continue
		}
		path := filepath.Join(outDir, code.String()+enc.FileExtension())
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.WithError(err).WithField("path", path).Warn("writing tile image failed")
			bar.Increment()
			continue
		}
		written++
		bar.Increment()
	}
	bar.Finish()

	fmt.Printf("selected %d tiles, wrote %d images to %s\n", len(selected), written, outDir)
}

// decodeElevations interprets raw CPU tile bytes as little-endian float32
// elevation samples, the layout fractal.Source.Load (and any real
// DataSource feeding this cache) writes.
func decodeElevations(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// tileImage renders a tile's elevation samples to an image.Image: the
// heatmap encoder gets its native false-color render, every other format
// gets the Terrarium RGB encoding so the lossless PNG/terrarium paths
// round-trip real elevation data.
func tileImage(elevations []float32, tileWidth int, heatmap *encode.HeatmapEncoder) image.Image {
	if heatmap != nil {
		return heatmap.Render(elevations, tileWidth, tileWidth)
	}
	img := image.NewRGBA(image.Rect(0, 0, tileWidth, tileWidth))
	for y := 0; y < tileWidth; y++ {
		for x := 0; x < tileWidth; x++ {
			img.Set(x, y, encode.ElevationToTerrarium(float64(elevations[y*tileWidth+x])))
		}
	}
	return img
}

func waitForReady(cpu *cpucache.Cache, codes []tilecode.Code, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allReady := true
		for _, code := range codes {
			if code == tilecode.None {
				continue
			}
			ref, err := cpu.Acquire(code)
			if err != nil {
				allReady = false
				continue
			}
			cpu.Release(ref)
		}
		if allReady {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func staticViewProj(distance float64) selector.Mat4 {
	s := 1 / math.Tan(math.Pi/4)
	near, far := 0.01, distance*4
	c := -(far + near) / (far - near)
	d := -2 * far * near / (far - near)
	return selector.Mat4{
		{s, 0, 0, 0},
		{0, s, 0, 0},
		{0, 0, c, c*(-distance) + d},
		{0, 0, -1, distance},
	}
}

// Command globed drives the full cache pipeline — tile selection, the CPU
// tile cache, and the GPU texture cache — through a simulated orbiting
// camera path, logging per-frame statistics. It stands in for the real
// renderer's frame loop so the pipeline can be exercised and profiled
// without a graphics context.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"

	"github.com/arcterra/globecache/internal/cpucache"
	"github.com/arcterra/globecache/internal/fractal"
	"github.com/arcterra/globecache/internal/gpucache"
	"github.com/arcterra/globecache/internal/loader"
	"github.com/arcterra/globecache/internal/minmax"
	"github.com/arcterra/globecache/internal/progress"
	"github.com/arcterra/globecache/internal/selector"
	"github.com/arcterra/globecache/internal/sysmem"
	"github.com/arcterra/globecache/internal/tilecode"
)

func main() {
	var (
		frames      int
		tileWidth   int
		cpuTilesArg string
		gpuTilesArg string
		gpuPageSize int
		resolution  float64
		orbitRadius float64
		seed        int64
		profileMode string
		verbose     bool
	)

	flag.IntVar(&frames, "frames", 120, "Number of simulated camera frames to run")
	flag.IntVar(&tileWidth, "tile-width", 64, "Elevation tile width in samples")
	flag.StringVar(&cpuTilesArg, "cpu-tiles", "512", "CPU cache capacity in tiles, or \"auto\" to size from system RAM")
	flag.StringVar(&gpuTilesArg, "gpu-tiles", "256", "GPU cache capacity in tiles, or \"auto\" to size from system RAM")
	flag.IntVar(&gpuPageSize, "gpu-page-size", 32, "GPU texture slots per page")
	flag.Float64Var(&resolution, "resolution", 2e-4, "Screen-error threshold driving tile refinement")
	flag.Float64Var(&orbitRadius, "orbit-radius", 3.0, "Camera distance from the globe center, in sphere radii")
	flag.Int64Var(&seed, "seed", 1, "Seed for the synthetic terrain and any randomized scheduling")
	flag.StringVar(&profileMode, "profile", "", "pprof profile to capture: cpu, mem, block, goroutine, mutex, trace")
	flag.BoolVar(&verbose, "verbose", false, "Log every frame instead of a periodic summary")
	flag.Parse()

	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if p := startProfile(profileMode); p != nil {
		defer p.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := loader.NewPool(ctx, log)
	defer pool.Close()

	cpuTileBytes := tileWidth * tileWidth * 4
	cpuTiles, gpuTiles := resolveCacheCapacities(cpuTilesArg, gpuTilesArg, cpuTileBytes, log)

	source := fractal.NewSource(tileWidth, rand.New(rand.NewSource(seed)))
	tree := minmax.New(256, log)
	cpu := cpucache.NewCache(cpuTiles, cpuTileBytes, pool, log)
	gpu := gpucache.NewCache(gpuTiles, gpuPageSize, tileWidth, gpucache.NewMemoryBackend(), pool, log)

	var bar *progress.Bar
	if !verbose {
		bar = progress.New("globed", "frames", int64(frames))
	}

	start := time.Now()
	for frame := 0; frame < frames; frame++ {
		cam := orbitCamera(frame, frames, orbitRadius)

		selected := selector.Select(cam, source, tree, resolution)
		resolved := cpu.Update(ctx, source, selected)
		gpu.Update(cpu, resolved)
		uploaded := gpu.FlushUploads(ctx)
		drained := tree.Drain()

		misses := 0
		for _, code := range resolved {
			if code == tilecode.None {
				misses++
			}
		}

		entry := log.WithFields(logrus.Fields{
			"frame":      frame,
			"selected":   len(selected),
			"cpu_misses": misses,
			"gpu_upload": uploaded,
			"tree_drain": drained,
			"cpu_len":    cpu.Len(),
			"gpu_len":    gpu.Len(),
		})
		if verbose {
			entry.Info("frame complete")
		}
		if bar != nil {
			bar.Increment()
		}
	}
	if bar != nil {
		bar.Finish()
	}

	fmt.Fprintf(os.Stdout, "ran %d frames in %v (cpu cache %d/%d, gpu cache %d/%d)\n",
		frames, time.Since(start).Round(time.Millisecond), cpu.Len(), cpuTiles, gpu.Len(), gpuTiles)
}

// orbitCamera places the camera on a circle of radius orbitRadius in the
// XZ plane, always looking at the globe center, sweeping once around over
// the full frame count.
func orbitCamera(frame, frames int, orbitRadius float64) selector.Camera {
	t := 2 * math.Pi * float64(frame) / float64(frames)
	pos := selector.Vec3{X: orbitRadius * math.Cos(t), Y: 0.3 * orbitRadius, Z: orbitRadius * math.Sin(t)}
	return selector.Camera{
		ViewProj: lookAtProjection(pos, selector.Vec3{}, 0.01, orbitRadius*4, math.Pi/4),
		Position: pos,
	}
}

// lookAtProjection builds a row-major view-projection matrix for a camera
// at eye looking at target, composed from a hand-rolled look-at rotation
// and a symmetric perspective projection; cmd/globed has no renderer to
// borrow a math library's camera type from, so this is kept intentionally
// minimal.
func lookAtProjection(eye, target tilecode.Vec3, near, far, halfFOV float64) selector.Mat4 {
	fwd := target.Sub(eye).Normalize()
	worldUp := tilecode.Vec3{X: 0, Y: 1, Z: 0}
	right := fwd.Cross(worldUp).Normalize()
	up := right.Cross(fwd)

	s := 1 / math.Tan(halfFOV)
	c := -(far + near) / (far - near)
	d := -2 * far * near / (far - near)

	// View-space axes: X=right, Y=up, Z=-fwd (right-handed, camera looks
	// down its own -Z).
	vx, vy, vz := right, up, fwd.Scale(-1)

	view := selector.Mat4{
		{vx.X, vx.Y, vx.Z, -vx.Dot(eye)},
		{vy.X, vy.Y, vy.Z, -vy.Dot(eye)},
		{vz.X, vz.Y, vz.Z, -vz.Dot(eye)},
		{0, 0, 0, 1},
	}
	proj := selector.Mat4{
		{s, 0, 0, 0},
		{0, s, 0, 0},
		{0, 0, c, d},
		{0, 0, -1, 0},
	}
	return mul4(proj, view)
}

func mul4(a, b selector.Mat4) selector.Mat4 {
	var out selector.Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// resolveCacheCapacities parses the cpu-tiles/gpu-tiles flags, resolving
// "auto" by splitting a system-RAM-derived budget two-thirds to the CPU
// cache and one-third to the GPU cache (the GPU cache's resident footprint
// is smaller: only the visible working set gets uploaded). Falls back to
// the historical fixed defaults if RAM detection is unavailable.
func resolveCacheCapacities(cpuArg, gpuArg string, tileBytes int, log logrus.FieldLogger) (cpuTiles, gpuTiles int) {
	cpuTiles, cpuErr := strconv.Atoi(cpuArg)
	gpuTiles, gpuErr := strconv.Atoi(gpuArg)
	if cpuErr == nil && gpuErr == nil {
		return cpuTiles, gpuTiles
	}

	budget := sysmem.ComputeLimit(sysmem.DefaultPressureFraction, log)
	if budget == 0 {
		if cpuErr != nil {
			cpuTiles = 512
		}
		if gpuErr != nil {
			gpuTiles = 256
		}
		return cpuTiles, gpuTiles
	}

	if cpuErr != nil {
		cpuTiles = sysmem.TilesForBudget(budget*2/3, tileBytes)
	}
	if gpuErr != nil {
		gpuTiles = sysmem.TilesForBudget(budget/3, tileBytes)
	}
	return cpuTiles, gpuTiles
}

func startProfile(mode string) interface{ Stop() } {
	switch mode {
	case "cpu":
		return profile.Start(profile.CPUProfile)
	case "mem":
		return profile.Start(profile.MemProfile)
	case "block":
		return profile.Start(profile.BlockProfile)
	case "goroutine":
		return profile.Start(profile.GoroutineProfile)
	case "mutex":
		return profile.Start(profile.MutexProfile)
	case "trace":
		return profile.Start(profile.TraceProfile)
	default:
		return nil
	}
}

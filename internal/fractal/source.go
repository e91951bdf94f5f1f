// Package fractal implements a synthetic, phase-randomized multi-band
// noise terrain, used as a loader.DataSource standing in for a real
// elevation archive in tests, benchmarks, and cmd/globed's demo camera
// path.
package fractal

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/arcterra/globecache/internal/loader"
	"github.com/arcterra/globecache/internal/tilecode"
)

const (
	// amplitude bounds the synthetic terrain's elevation in units of the
	// reference sphere's radius, matching the original test source's
	// TEST_AMP.
	amplitude = 0.1

	octaves    = 12 // M
	bandsPerM  = 8  // N
	lacunarity = 1.1
	dimension  = 2.2
	lengthL    = 0.5
	gammaParam = 2.5

	// findCoarsenZoom is the deepest zoom the synthetic source claims to
	// have actual data at; Find coarsens any deeper request to this
	// level, simulating a low-resolution archive.
	findCoarsenZoom = 10

	// softClipSlope mirrors the original's W(x) soft-clipping constant.
	softClipSlope = 6
)

// Source is a deterministic (given the same seed), phase-randomized
// multi-band noise terrain sampled from face-local UV. The band sum is
// windowed to zero at every face edge, so its elevation is continuous
// across tile and face boundaries.
type Source struct {
	tileWidth int

	phi       [octaves][bandsPerM]float64
	cosPhi    [octaves][bandsPerM]float64
	gammaD3n  [bandsPerM]float64
	gammaN    [bandsPerM]float64
	amplScale float64
}

// NewSource builds a noise source producing tileWidth x tileWidth tiles,
// with band phases drawn from rng so repeated runs with the same seed
// reproduce the same terrain.
func NewSource(tileWidth int, rng *rand.Rand) *Source {
	s := &Source{tileWidth: tileWidth}
	for m := 0; m < octaves; m++ {
		for n := 0; n < bandsPerM; n++ {
			s.phi[m][n] = 2 * math.Pi * rng.Float64()
			s.cosPhi[m][n] = math.Cos(s.phi[m][n])
		}
	}
	for n := 0; n < bandsPerM; n++ {
		s.gammaD3n[n] = math.Pow(gammaParam, (dimension-3.0)*float64(n))
		s.gammaN[n] = math.Pow(gammaParam, float64(n))
	}
	s.amplScale = lengthL * math.Pow(gammaParam/dimension, dimension-2.0) *
		math.Sqrt(math.Log(gammaParam)/float64(octaves))
	return s
}

// filterBand is a smooth window that is zero up to the first derivative
// at x=-1 and x=1, used to fade the noise out at each cube face's edges.
func filterBand(x float64) float64 {
	a := 1 - x*x*x*x
	return 2 * a * a / (1 + a*a)
}

// softClip is a scaled softplus: it clamps the raw band sum softly from
// below at zero (large negative inputs approach 0, softClip(0) = ln2/36)
// and passes large positive inputs through almost unchanged.
func softClip(x float64) float64 {
	const b = softClipSlope
	return -(1.0 / (b * b)) * math.Log(1/(1.0+math.Exp(b*b*x)))
}

// elevation evaluates the band-limited noise field at face-local UV: the
// band sum is scaled by amplitude, windowed at the face edges and passed
// through softClip, so the result is always positive.
func (s *Source) elevation(u, v float64, face uint8) float64 {
	x := 1.0 - 2.0*u
	y := 1.0 - 2.0*v

	r := math.Hypot(x, y)
	theta := math.Atan2(y, x)

	g := 0.0
	for m := 0; m < octaves; m++ {
		for n := 0; n < bandsPerM; n++ {
			phiMN := float64(face) + s.phi[m][n]
			arg := 2*math.Pi*s.gammaN[n]*r*math.Cos(theta-math.Pi*float64(m)/octaves)/lengthL + phiMN
			g += s.gammaD3n[n] * (s.cosPhi[m][n] - math.Cos(arg))
		}
	}
	g *= s.amplScale * amplitude

	return softClip(g * filterBand(x) * filterBand(y))
}

// Find coarsens any request deeper than findCoarsenZoom, simulating a
// data source that only actually holds terrain down to that level.
func (s *Source) Find(code tilecode.Code) tilecode.Code {
	for code.Zoom() > findCoarsenZoom {
		code = code.Coarsen()
	}
	return code
}

// Load fills dst with tileWidth*tileWidth little-endian float32 elevation
// samples spanning code's UV rectangle, polling tok once per row so a
// cancelled load can bail out early like the original.
func (s *Source) Load(ctx context.Context, code tilecode.Code, dst []byte, tok loader.CancelToken) error {
	rect := code.Rect()
	face := code.Face()
	w := s.tileWidth
	step := 1.0 / float64(w-1)

	idx := 0
	for i := 0; i < w; i++ {
		if tok.IsCancelled() {
			return nil
		}
		v := rect.MinV + (rect.MaxV-rect.MinV)*float64(i)*step
		for j := 0; j < w; j++ {
			u := rect.MinU + (rect.MaxU-rect.MinU)*float64(j)*step
			e := float32(s.elevation(u, v, face))
			binary.LittleEndian.PutUint32(dst[idx:idx+4], math.Float32bits(e))
			idx += 4
		}
	}
	return nil
}

// Sample returns a single elevation estimate at face-local UV, used by
// the selector when no min/max tree entry is available yet.
func (s *Source) Sample(u, v float64, face uint8) float32 {
	return float32(s.elevation(u, v, face))
}

func (s *Source) Min() float32 { return -amplitude }
func (s *Source) Max() float32 { return amplitude }

// TileWidth reports the pixel width of tiles this source produces, so
// callers can size their cache's tileSize as TileWidth()*TileWidth()*4.
func (s *Source) TileWidth() int { return s.tileWidth }

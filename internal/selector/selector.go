package selector

import (
	"math"
	"sort"

	"github.com/arcterra/globecache/internal/loader"
	"github.com/arcterra/globecache/internal/minmax"
	"github.com/arcterra/globecache/internal/tilecode"
)

// MaxTiles caps the number of tiles returned by Select in a single frame,
// bounding the GPU/CPU cache pressure a pathological camera position could
// otherwise generate.
const MaxTiles = 2048

// distanceScale inflates the squared distance used in the screen-error
// test, matching the original's generous safety margin against a tile
// popping into view as the camera turns.
const distanceScale = 32

// minResolution is the smallest resolution Select will honor; a resolution
// below this would otherwise refine the quadtree all the way to MaxZoom
// everywhere the camera can see.
const minResolution = 1e-5

// Camera is the minimal input Select needs: a combined view-projection
// matrix (for frustum culling) and a world-space eye position (for
// screen-error distance and horizon clipping). Position is expressed in
// the same unit-sphere-radius-1 world space as tilecode.CubeToGlobe.
type Camera struct {
	ViewProj Mat4
	Position Vec3
}

// tileFactor is the original engine's tile_factor(lvl): the solid angle
// covered by one tile at the given zoom level, assuming six equal-area
// cube faces, measured against the unit sphere.
func tileFactor(zoom uint8) float64 {
	return (4.0 * math.Pi / 6.0) / float64(uint64(1)<<(2*zoom))
}

// Select walks the cube-sphere quadtree from each face's root, culling
// against cam's frustum and refining by screen-projected error, and
// returns the selected tile codes sorted by ascending distance from the
// camera and capped at MaxTiles.
func Select(cam Camera, source loader.DataSource, tree *minmax.Tree, resolution float64) []tilecode.Code {
	res := resolution
	if res < minResolution {
		res = minResolution
	}

	frust := FrustumFromViewProj(cam.ViewProj)
	extendFarPlaneForHorizon(&frust, cam.Position, source)
	frustBox := FrustumAABB(frust)

	w := &walker{source: source, tree: tree, frust: frust, frustBox: frustBox, origin: cam.Position, res: res}

	var out []entry
	for face := uint8(0); face < tilecode.CubeFaces; face++ {
		root := tilecode.Pack(face, 0, 0)
		w.selectRec(&out, root)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].distSq < out[j].distSq })
	if len(out) > MaxTiles {
		out = out[:MaxTiles]
	}

	codes := make([]tilecode.Code, len(out))
	for i, e := range out {
		codes[i] = e.code
	}
	return codes
}

// extendFarPlaneForHorizon pushes the frustum's far plane out to the true
// sphere horizon, so a shallow camera looking across the limb of the globe
// does not cull tiles that are geometrically beyond the projection's far
// clip but still visible along the silhouette.
func extendFarPlaneForHorizon(frust *Frustum, pos Vec3, source loader.DataSource) {
	rMin := 1.0 + float64(source.Min())
	rMax := 1.0 + float64(source.Max())

	rHorizon := math.Sqrt(math.Max(pos.Dot(pos)-rMin*rMin, 0))
	rHorizonMax := math.Sqrt(math.Max(rMax*rMax-rMin*rMin, 0))

	far := &frust.Planes[planeFar]
	far.D = far.N.Dot(pos) + rHorizon + rHorizonMax
}

type entry struct {
	code   tilecode.Code
	distSq float64
}

type walker struct {
	source   loader.DataSource
	tree     *minmax.Tree
	frust    Frustum
	frustBox AABB
	origin   Vec3
	res      float64
}

// selectRec mirrors select_tiles_rec: reject against the loose frustum
// bounding box and then each of the six Cobb-classified planes, compute
// the screen error at this tile's distance, emit if the tile is coarse
// enough, otherwise recurse into all four children and fall back to
// emitting itself if none of them emitted anything (a coarser tile beats a
// hole in the globe).
func (w *walker) selectRec(out *[]entry, code tilecode.Code) int {
	if code.Zoom() > tilecode.MaxZoom {
		return 0
	}

	box := w.tileBox(code)

	if !box.Intersects(w.frustBox) {
		return 0
	}
	for _, pl := range w.frust.Planes {
		if Classify(box, pl) > 0 {
			return 0
		}
	}

	distSq := math.Max(distanceScale*box.DistSq(w.origin), 1e-6)
	area := tileFactor(code.Zoom())

	if area/distSq < w.res {
		*out = append(*out, entry{code: code, distSq: distSq})
		return 1
	}

	emitted := 0
	for _, q := range [4]tilecode.Quadrant{tilecode.LowerLeft, tilecode.LowerRight, tilecode.UpperLeft, tilecode.UpperRight} {
		emitted += w.selectRec(out, code.Refine(q))
	}
	if emitted == 0 {
		*out = append(*out, entry{code: code, distSq: distSq})
		return 1
	}
	return emitted
}

// tileBox builds a conservative world-space AABB for code: the min/max
// elevation tree is consulted first (covering both corners and the
// midpoint with the full stored interval), falling back to the data
// source's Sample hook, lifting each point to (1+elevation) times its
// unit-sphere position. At zoom 0 the four mid-edge points are added too,
// since a root tile spans a whole cube face and its four corners
// alone badly under-approximate the curvature.
func (w *walker) tileBox(code tilecode.Code) AABB {
	rect := code.Rect()
	midU, midV := rect.Mid()
	face := code.Face()

	uvs := make([][2]float64, 0, 6)
	uvs = append(uvs,
		[2]float64{rect.MinU, rect.MinV},
		[2]float64{rect.MaxU, rect.MinV},
		[2]float64{rect.MinU, rect.MaxV},
		[2]float64{rect.MaxU, rect.MaxV},
		[2]float64{midU, midV},
	)
	if code.IsRoot() {
		uvs = append(uvs,
			[2]float64{midU, rect.MinV},
			[2]float64{midU, rect.MaxV},
			[2]float64{rect.MinU, midV},
			[2]float64{rect.MaxU, midV},
		)
	}

	bounds, haveBounds := w.tree.Query(code)

	var pts []Vec3
	for _, uv := range uvs {
		base := tilecode.CubeToGlobe(face, tilecode.Vec2{X: uv[0], Y: uv[1]})
		if haveBounds {
			pts = append(pts, base.Scale(1+float64(bounds.Min)), base.Scale(1+float64(bounds.Max)))
		} else {
			elev := float64(w.source.Sample(uv[0], uv[1], face))
			pts = append(pts, base.Scale(1+elev))
		}
	}
	return BoundingAABB(pts)
}

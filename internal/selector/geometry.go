// Package selector implements the recursive per-cube-face quadtree
// traversal that turns a camera and a data source into the flat,
// screen-error-sorted tile list the two cache levels consume each frame.
package selector

import (
	"math"

	"github.com/arcterra/globecache/internal/tilecode"
)

// Vec3 is a local alias so geometry.go reads naturally; the real type
// lives in tilecode, which already carries the dot/cross/normalize math
// this package needs.
type Vec3 = tilecode.Vec3

// Mat4 is a row-major 4x4 matrix: M[row][col]. A view-projection matrix
// multiplies a homogeneous point as clip = M * point.
type Mat4 [4][4]float64

// Plane is a half-space n.x == d, with n assumed unit length.
type Plane struct {
	N Vec3
	D float64
}

// Frustum holds the six half-space planes of a view-projection matrix, in
// the order left, right, down, up, near, far (matching the original
// engine's frustum_planes_t enumeration).
type Frustum struct {
	Planes [6]Plane
}

const (
	planeLeft = iota
	planeRight
	planeDown
	planeUp
	planeNear
	planeFar
)

// FrustumFromViewProj extracts the six clip-space planes from a combined
// view-projection matrix via the standard Gribb-Hartmann construction.
func FrustumFromViewProj(vp Mat4) Frustum {
	row := func(i int) [4]float64 { return vp[i] }
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	combos := [6]struct {
		sign float64
		row  [4]float64
	}{
		{+1, r0}, {-1, r0},
		{+1, r1}, {-1, r1},
		{+1, r2}, {-1, r2},
	}

	var f Frustum
	for i, c := range combos {
		var p [4]float64
		for k := 0; k < 4; k++ {
			p[k] = r3[k] + c.sign*c.row[k]
		}
		n := Vec3{X: p[0], Y: p[1], Z: p[2]}
		rInv := 1 / n.Length()
		f.Planes[i] = Plane{N: n.Scale(-rInv), D: p[3] * rInv}
	}
	return f
}

// Classify returns 1 if box lies entirely in front of pl (outside the
// half-space, i.e. should be culled), -1 if entirely behind, 0 if it
// straddles the plane.
func Classify(box AABB, pl Plane) int {
	c := box.Min.Add(box.Max).Scale(0.5)
	e := box.Max.Sub(box.Min).Scale(0.5)
	r := math.Abs(e.X*pl.N.X) + math.Abs(e.Y*pl.N.Y) + math.Abs(e.Z*pl.N.Z)
	s := pl.N.Dot(c) - pl.D
	switch {
	case s > r:
		return 1
	case s < -r:
		return -1
	default:
		return 0
	}
}

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Min, Max Vec3
}

// Add returns the smallest AABB covering b and p.
func (b AABB) Add(p Vec3) AABB {
	return AABB{
		Min: Vec3{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)},
		Max: Vec3{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)},
	}
}

// BoundingAABB returns the smallest AABB covering all of pts. pts must be
// non-empty.
func BoundingAABB(pts []Vec3) AABB {
	box := AABB{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		box = box.Add(p)
	}
	return box
}

// Intersects reports whether two AABBs overlap (touching counts as
// overlapping).
func (b AABB) Intersects(o AABB) bool {
	return !(b.Max.X < o.Min.X || o.Max.X < b.Min.X ||
		b.Max.Y < o.Min.Y || o.Max.Y < b.Min.Y ||
		b.Max.Z < o.Min.Z || o.Max.Z < b.Min.Z)
}

// DistSq returns the squared distance from v to the nearest point of b (0
// if v is inside b).
func (b AABB) DistSq(v Vec3) float64 {
	var d Vec3
	switch {
	case v.X < b.Min.X:
		d.X = b.Min.X - v.X
	case v.X > b.Max.X:
		d.X = v.X - b.Max.X
	}
	switch {
	case v.Y < b.Min.Y:
		d.Y = b.Min.Y - v.Y
	case v.Y > b.Max.Y:
		d.Y = v.Y - b.Max.Y
	}
	switch {
	case v.Z < b.Min.Z:
		d.Z = b.Min.Z - v.Z
	case v.Z > b.Max.Z:
		d.Z = v.Z - b.Max.Z
	}
	return d.Dot(d)
}

func det3(c0, c1, c2 Vec3) float64 { return c0.Dot(c1.Cross(c2)) }

// solve3 solves the 3x3 linear system whose i-th equation is r_i . x = b_i,
// via Cramer's rule.
func solve3(r0, r1, r2, b Vec3) (Vec3, bool) {
	col0 := Vec3{X: r0.X, Y: r1.X, Z: r2.X}
	col1 := Vec3{X: r0.Y, Y: r1.Y, Z: r2.Y}
	col2 := Vec3{X: r0.Z, Y: r1.Z, Z: r2.Z}
	det := det3(col0, col1, col2)
	if det == 0 {
		return Vec3{}, false
	}
	return Vec3{
		X: det3(b, col1, col2) / det,
		Y: det3(col0, b, col2) / det,
		Z: det3(col0, col1, b) / det,
	}, true
}

// FrustumAABB returns a loose world-space bounding box of the frustum's
// near/far corners, used as a cheap pre-check before the per-plane Cobb
// classification. Ported from the original's corner-intersection
// approach: each far corner is found by intersecting the far plane with
// one of the side planes and one of the top/bottom planes, and the near
// corners are reached by stepping back along the far plane's normal by
// the near-to-far separation.
func FrustumAABB(f Frustum) AABB {
	far := f.Planes[planeFar]
	near := f.Planes[planeNear]
	right := f.Planes[planeRight]
	left := f.Planes[planeLeft]
	up := f.Planes[planeUp]
	down := f.Planes[planeDown]

	combos := [4][2]Plane{{right, up}, {left, up}, {right, down}, {left, down}}
	pts := make([]Vec3, 0, 8)
	back := far.N.Scale(far.D + near.D)

	for _, c := range combos {
		corner, ok := solve3(far.N, c[0].N, c[1].N, Vec3{X: far.D, Y: c[0].D, Z: c[1].D})
		if !ok {
			continue
		}
		pts = append(pts, corner, corner.Sub(back))
	}
	if len(pts) == 0 {
		return AABB{}
	}
	return BoundingAABB(pts)
}

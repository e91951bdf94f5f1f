package tilecode

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func vecClose(a, b Vec3, eps float64) bool {
	return almostEqual(a.X, b.X, eps) && almostEqual(a.Y, b.Y, eps) && almostEqual(a.Z, b.Z, eps)
}

func TestCubeFaceSelectsDominantAxis(t *testing.T) {
	tests := []struct {
		p    Vec3
		face uint8
	}{
		{Vec3{1, 0.1, 0.1}, 0},
		{Vec3{0.1, 1, 0.1}, 1},
		{Vec3{0.1, 0.1, 1}, 2},
		{Vec3{-1, 0.1, 0.1}, 3},
		{Vec3{0.1, -1, 0.1}, 4},
		{Vec3{0.1, 0.1, -1}, 5},
	}
	for _, tt := range tests {
		if got := CubeFace(tt.p); got != tt.face {
			t.Errorf("CubeFace(%v) = %d, want %d", tt.p, got, tt.face)
		}
	}
}

func TestCubeToGlobeRoundTrip(t *testing.T) {
	points := []Vec3{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
		{1, 1, 1}, {2, -3, 5}, {-1, -1, -1}, {0.3, 0.9, -0.4},
	}
	for _, p := range points {
		want := p.Normalize()
		uv, face := GlobeToCube(want)
		got := CubeToGlobe(face, uv)
		if !vecClose(got, want, 1e-9) {
			t.Errorf("CubeToGlobe(GlobeToCube(%v)) = %v, want %v", want, got, want)
		}
	}
}

func TestGnomonicProjectCenterOfFace(t *testing.T) {
	// The outward-axis point of a face projects to the UV center (0.5,0.5).
	uv := GnomonicProject(Vec3{1, 0, 0}, 0)
	if !almostEqual(uv.X, 0.5, 1e-9) || !almostEqual(uv.Y, 0.5, 1e-9) {
		t.Errorf("GnomonicProject(face axis) = %+v, want (0.5,0.5)", uv)
	}
}

func TestOrthonormalFrameIsOrthonormal(t *testing.T) {
	for face := uint8(0); face < CubeFaces; face++ {
		for _, uv := range []Vec2{{0.5, 0.5}, {0.1, 0.9}, {0.9, 0.1}} {
			f := OrthonormalFrame(uv, face)
			if !almostEqual(f.T.Length(), 1, 1e-9) {
				t.Errorf("face %d uv %+v: |T| = %v, want 1", face, uv, f.T.Length())
			}
			if !almostEqual(f.B.Length(), 1, 1e-9) {
				t.Errorf("face %d uv %+v: |B| = %v, want 1", face, uv, f.B.Length())
			}
			if !almostEqual(f.T.Dot(f.B), 0, 1e-9) {
				t.Errorf("face %d uv %+v: T.B = %v, want 0", face, uv, f.T.Dot(f.B))
			}
		}
	}
}

package tilecode

// Rect is an axis-aligned [0,1]^2 rectangle in a cube face's UV space.
type Rect struct {
	MinU, MinV float64
	MaxU, MaxV float64
}

// Mid returns the rectangle's midpoint.
func (r Rect) Mid() (u, v float64) {
	return 0.5 * (r.MinU + r.MaxU), 0.5 * (r.MinV + r.MaxV)
}

// Morton interleaves the top `level` bits of floor(x*2^level) and
// floor(y*2^level), with y occupying the odd bit positions.
func Morton(x, y float64, level uint8) uint64 {
	n := uint64(1) << level
	xi := clampCoord(x, n)
	yi := clampCoord(y, n)
	return interleave(xi) | (interleave(yi) << 1)
}

func clampCoord(v float64, n uint64) uint64 {
	if v < 0 {
		v = 0
	}
	if v >= 1 {
		v = 1 - 1e-12
	}
	c := uint64(v * float64(n))
	if c >= n {
		c = n - 1
	}
	return c
}

// interleave spreads the low 28 bits of v so each occupies every other bit,
// i.e. bit i of v moves to bit 2i of the result. 28 bits is enough headroom
// for MaxZoom=23 (needs 23 bits per axis).
func interleave(v uint64) uint64 {
	v &= 0x0FFFFFFF
	v = (v | (v << 16)) & 0x0000FFFF0000FFFF
	v = (v | (v << 8)) & 0x00FF00FF00FF00FF
	v = (v | (v << 4)) & 0x0F0F0F0F0F0F0F0F
	v = (v | (v << 2)) & 0x3333333333333333
	v = (v | (v << 1)) & 0x5555555555555555
	return v
}

func deinterleave(v uint64) uint64 {
	v &= 0x5555555555555555
	v = (v | (v >> 1)) & 0x3333333333333333
	v = (v | (v >> 2)) & 0x0F0F0F0F0F0F0F0F
	v = (v | (v >> 4)) & 0x00FF00FF00FF00FF
	v = (v | (v >> 8)) & 0x0000FFFF0000FFFF
	v = (v | (v >> 16)) & 0x00000000FFFFFFFF
	return v
}

// MortonToXY is the inverse of Morton: recovers the integer (x,y) grid
// coordinates at the given level from a Morton index.
func MortonToXY(idx uint64, level uint8) (x, y uint64) {
	return deinterleave(idx), deinterleave(idx >> 1)
}

// MortonToRect returns the [0,1]^2 rectangle of edge 2^-level covered by the
// given Morton index, the inverse of Morton plus the UV scaling in tilecode
// construction.
func MortonToRect(idx uint64, level uint8) Rect {
	n := float64(uint64(1) << level)
	x, y := MortonToXY(idx, level)
	minU := float64(x) / n
	minV := float64(y) / n
	step := 1.0 / n
	return Rect{MinU: minU, MinV: minV, MaxU: minU + step, MaxV: minV + step}
}

// Rect returns the UV rectangle covered by this tile code on its face.
func (c Code) Rect() Rect {
	_, zoom, idx := c.Unpack()
	return MortonToRect(idx, zoom)
}

// Encode builds the tile Code covering point (u,v) on the given face at the
// given zoom level.
func Encode(face uint8, zoom uint8, u, v float64) Code {
	return Pack(face, zoom, Morton(u, v, zoom))
}

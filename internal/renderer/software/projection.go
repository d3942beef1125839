package software

import (
	"math"

	"pyro/internal/scene"
)

// nearPlane is the closest depth still drawn.
const nearPlane = 0.1

// view projects world positions for one camera and frame size.
type view struct {
	cam                scene.Vec3
	cosYaw, sinYaw     float64
	cosPitch, sinPitch float64
	ortho              bool
	focal              float64
	cx, cy             float64
}

func newView(cam *scene.Camera, width, height int) view {
	yaw := radians(cam.Transform.Rotation.Y)
	pitch := radians(cam.Transform.Rotation.X)

	v := view{
		cam:      cam.Transform.Position,
		cosYaw:   math.Cos(-yaw),
		sinYaw:   math.Sin(-yaw),
		cosPitch: math.Cos(-pitch),
		sinPitch: math.Sin(-pitch),
		cx:       float64(width) / 2,
		cy:       float64(height) / 2,
	}
	if cam.Mode == scene.ModeOrthographic {
		v.ortho = true
		v.focal = float64(height) / cam.FOV
	} else {
		v.focal = (float64(height) / 2) / math.Tan(radians(cam.FOV)/2)
	}
	return v
}

// point is a projected position. k converts world units to pixels at this
// depth.
type point struct {
	x, y  float64
	k     float64
	depth float64
}

// project maps p to screen space. It reports false for points behind the
// near plane.
func (v view) project(p scene.Vec3) (point, bool) {
	d := scene.Vec3{X: p.X - v.cam.X, Y: p.Y - v.cam.Y, Z: p.Z - v.cam.Z}

	// yaw around Y, then pitch around X
	x := d.X*v.cosYaw + d.Z*v.sinYaw
	z := -d.X*v.sinYaw + d.Z*v.cosYaw
	y := d.Y*v.cosPitch - z*v.sinPitch
	z = d.Y*v.sinPitch + z*v.cosPitch

	depth := -z
	if depth < nearPlane {
		return point{}, false
	}

	k := v.focal
	if !v.ortho {
		k = v.focal / depth
	}
	return point{
		x:     v.cx + x*k,
		y:     v.cy - y*k,
		k:     k,
		depth: depth,
	}, true
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func distance2(a, b scene.Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}

package volley

import (
	"fmt"
	"math"
)

// Vec3 is a court-space vector. X runs along the net, Y is up, Z crosses
// the net.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3        { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3        { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(k float64) Vec3   { return Vec3{v.X * k, v.Y * k, v.Z * k} }
func (v Vec3) Len() float64           { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
func (v Vec3) Dist(o Vec3) float64    { return v.Sub(o).Len() }
func (v Vec3) Flat() Vec3             { return Vec3{v.X, 0, v.Z} }
func (v Vec3) MirrorZ(s float64) Vec3 { return Vec3{v.X, v.Y, v.Z * s} }

// String matches the "(x, y, z)" form used in touch log lines.
func (v Vec3) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

// Norm returns the unit vector, or zero for a zero vector.
func (v Vec3) Norm() Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// Body is the kinematic state of one physical scene object. Physics
// writes it; the engine only copies, zeroes and repositions it.
type Body struct {
	Position        Vec3
	Yaw             float64 // degrees about the Y axis
	Velocity        Vec3
	AngularVelocity Vec3
}

// CopyKinematics copies every kinematic field from src.
func (b *Body) CopyKinematics(src *Body) {
	b.Position = src.Position
	b.Yaw = src.Yaw
	b.Velocity = src.Velocity
	b.AngularVelocity = src.AngularVelocity
}

// Stop zeroes linear and angular velocity.
func (b *Body) Stop() {
	b.Velocity = Vec3{}
	b.AngularVelocity = Vec3{}
}

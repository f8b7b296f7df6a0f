package reconcile

import (
	"math"

	"github.com/slipstream-racing/slipstream/go/internal/protocol"
)

// Vec3 is a position in world space.
type Vec3 struct {
	X, Y, Z float64
}

// Lerp interpolates linearly from a toward b by t in [0,1].
func (a Vec3) Lerp(b Vec3, t float64) Vec3 {
	return Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// Sub returns a - b.
func (a Vec3) Sub(b Vec3) Vec3 {
	return Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

// Len returns the vector magnitude.
func (a Vec3) Len() float64 {
	return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z)
}

// Quat is a unit orientation quaternion.
type Quat struct {
	X, Y, Z, W float64
}

// QuatIdentity is the no-rotation quaternion.
var QuatIdentity = Quat{W: 1}

// Dot returns the quaternion dot product.
func (q Quat) Dot(p Quat) float64 {
	return q.X*p.X + q.Y*p.Y + q.Z*p.Z + q.W*p.W
}

func (q Quat) scale(s float64) Quat {
	return Quat{X: q.X * s, Y: q.Y * s, Z: q.Z * s, W: q.W * s}
}

func (q Quat) add(p Quat) Quat {
	return Quat{X: q.X + p.X, Y: q.Y + p.Y, Z: q.Z + p.Z, W: q.W + p.W}
}

func (q Quat) normalize() Quat {
	n := math.Sqrt(q.Dot(q))
	if n == 0 {
		return QuatIdentity
	}
	return q.scale(1 / n)
}

// Slerp spherically interpolates from q toward p by t, always along
// the shortest arc. Near-parallel quaternions fall back to normalized
// linear interpolation to avoid dividing by a vanishing sine.
func (q Quat) Slerp(p Quat, t float64) Quat {
	dot := q.Dot(p)
	if dot < 0 {
		p = p.scale(-1)
		dot = -dot
	}

	if dot > 0.9995 {
		return q.scale(1 - t).add(p.scale(t)).normalize()
	}

	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	return q.scale(math.Sin((1-t)*theta) / sinTheta).
		add(p.scale(math.Sin(t*theta) / sinTheta)).
		normalize()
}

// Lerp interpolates a scalar from a toward b by t.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func vec3FromWire(v *protocol.Vector3) Vec3 {
	return Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

func quatFromWire(q *protocol.Quaternion) Quat {
	return Quat{X: q.X, Y: q.Y, Z: q.Z, W: q.W}
}

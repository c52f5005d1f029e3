// Package posefilter implements the pose algebra (composition, inversion,
// vector rotation) and the per-device exponential output filter used to
// smooth view-pose queries.
package posefilter

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation, matching
// the teacher's convention of pairing r3.Vector with a gonum quaternion
// rather than a single dual-quaternion value.
type Pose struct {
	Position    r3.Vector
	Orientation quat.Number
}

// Identity is the zero transform.
func Identity() Pose {
	return Pose{Position: r3.Vector{}, Orientation: quat.Number{Real: 1}}
}

// NormalizeOrientation returns p with its orientation renormalized to unit
// length; repeated composition drifts the quaternion norm away from 1.
func (p Pose) NormalizeOrientation() Pose {
	n := quat.Abs(p.Orientation)
	if n == 0 {
		return Pose{Position: p.Position, Orientation: quat.Number{Real: 1}}
	}
	return Pose{Position: p.Position, Orientation: quat.Scale(1/n, p.Orientation)}
}

// RotateVector rotates v by q, i.e. computes q*v*q^-1 treating v as a pure
// quaternion.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	vq := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rq := quat.Mul(quat.Mul(q, vq), quat.Conj(q))
	inv := 1.0
	if n := quat.Abs(q); n != 0 {
		inv = 1 / (n * n)
	}
	return r3.Vector{X: rq.Imag * inv, Y: rq.Jmag * inv, Z: rq.Kmag * inv}
}

// Compose returns a∘b: applying the result to a vector is equivalent to
// applying b, then a.
func Compose(a, b Pose) Pose {
	rotated := RotateVector(a.Orientation, b.Position)
	return Pose{
		Position:    a.Position.Add(rotated),
		Orientation: quat.Mul(a.Orientation, b.Orientation),
	}
}

// Inverse returns p^-1 such that Compose(p, Inverse(p)) is the identity
// (up to floating point error).
func Inverse(p Pose) Pose {
	n := quat.Abs(p.Orientation)
	var inv quat.Number
	if n == 0 {
		inv = quat.Number{Real: 1}
	} else {
		inv = quat.Scale(1/(n*n), quat.Conj(p.Orientation))
	}
	return Pose{
		Position:    RotateVector(inv, p.Position.Mul(-1)),
		Orientation: inv,
	}
}

// Apply transforms v by p: rotate then translate.
func Apply(p Pose, v r3.Vector) r3.Vector {
	return p.Position.Add(RotateVector(p.Orientation, v))
}

// PositionDelta returns the Euclidean distance between two poses' positions.
func PositionDelta(a, b Pose) float64 {
	return a.Position.Sub(b.Position).Norm()
}

// OrientationDelta returns the angle, in radians, of the rotation that
// carries b's orientation to a's.
func OrientationDelta(a, b Pose) float64 {
	n := quat.Abs(b.Orientation)
	var bInv quat.Number
	if n == 0 {
		bInv = quat.Number{Real: 1}
	} else {
		bInv = quat.Scale(1/(n*n), quat.Conj(b.Orientation))
	}
	rel := quat.Mul(a.Orientation, bInv)
	w := rel.Real
	if w > 1 {
		w = 1
	} else if w < -1 {
		w = -1
	}
	return 2 * math.Acos(math.Abs(w))
}

// ExpFilter is a per-device exponential moving filter over pose, applied at
// most once per distinct timestamp.
type ExpFilter struct {
	alpha     float64
	have      bool
	lastNs    uint64
	Pose      Pose
}

// NewExpFilter returns a filter with smoothing factor alpha in (0, 1]; 1
// disables smoothing (every update is taken verbatim).
func NewExpFilter(alpha float64) *ExpFilter {
	return &ExpFilter{alpha: alpha}
}

// Update feeds a new raw pose at deviceTimeNs into the filter. Updates for a
// timestamp not strictly newer than the last one applied are ignored,
// matching the `last_reported_pose_ns < device_time_ns` guard on the output
// filter.
func (f *ExpFilter) Update(deviceTimeNs uint64, raw Pose) Pose {
	if f.have && deviceTimeNs <= f.lastNs {
		return f.Pose
	}
	f.lastNs = deviceTimeNs
	if !f.have {
		f.have = true
		f.Pose = raw
		return f.Pose
	}
	a := f.alpha
	pos := f.Pose.Position.Mul(1 - a).Add(raw.Position.Mul(a))
	orient := quat.Add(quat.Scale(1-a, f.Pose.Orientation), quat.Scale(a, raw.Orientation))
	f.Pose = Pose{Position: pos, Orientation: orient}.NormalizeOrientation()
	return f.Pose
}

// Package filter defines the fixed operation set the tracker core drives
// the external 6-DoF unscented Kalman filter through. The filter
// implementation itself — prediction, correction, covariance bookkeeping —
// is out of scope; this package only names the contract.
package filter

import (
	"github.com/golang/geo/r3"

	"github.com/RSDNTWK/OpenHMD/posefilter"
)

// Estimate is the filter's state query result: a pose plus its derivatives
// and covariance, all in the IMU (fusion) frame.
type Estimate struct {
	Pose     posefilter.Pose
	Vel      r3.Vector
	Accel    r3.Vector
	AngVel   r3.Vector
	PosError float64
	RotError float64
}

// Filter is the operation set a fusion backend must support. All methods
// are called with the owning device's lock held, so implementations need
// not be internally thread-safe.
type Filter interface {
	// Init resets the filter to initPose with numSlots delay-slot anchors
	// available for future PrepareDelaySlot calls.
	Init(initPose posefilter.Pose, numSlots int) error

	// IMUUpdate advances the filter's prediction using a new inertial
	// sample at deviceTimeNs.
	IMUUpdate(deviceTimeNs uint64, angVel, accel, mag r3.Vector) error

	// PrepareDelaySlot tells the filter to remember its predicted state at
	// deviceTimeNs under slotID, so a later correction can be applied
	// retroactively from that moment forward.
	PrepareDelaySlot(slotID int, deviceTimeNs uint64) error

	// ReleaseDelaySlot tells the filter the named slot is no longer
	// constrained by any outstanding observation.
	ReleaseDelaySlot(slotID int) error

	// PositionUpdate applies a position-only correction tied to slotID.
	PositionUpdate(slotID int, pos r3.Vector, posError float64) error

	// PoseUpdate applies a position+orientation correction tied to slotID.
	PoseUpdate(slotID int, pose posefilter.Pose, posError, rotError float64) error

	// PoseAt returns the filter's best estimate at deviceTimeNs.
	PoseAt(deviceTimeNs uint64) (Estimate, error)

	// DelaySlotPoseAt returns the filter's estimate of its state at the
	// moment slotID was prepared for, including any corrections applied
	// to that slot since PrepareDelaySlot.
	DelaySlotPoseAt(slotID int) (Estimate, error)
}

// Package fake provides a deterministic filter.Filter double for tests that
// exercise the tracker core without a real Kalman filter backend, in the
// same spirit as the teacher's movementsensor fakes.
package fake

import (
	"github.com/golang/geo/r3"

	"github.com/RSDNTWK/OpenHMD/filter"
	"github.com/RSDNTWK/OpenHMD/posefilter"
)

var _ filter.Filter = (*Filter)(nil)

// Filter is a bare pass-through integrator: IMU updates only replace the
// estimate's angular velocity and acceleration, the pose changes only
// through PositionUpdate/PoseUpdate, and delay slots remember whatever
// estimate was current when prepared, revised by later corrections tied to
// the same slot.
type Filter struct {
	estimate filter.Estimate
	slots    map[int]filter.Estimate
}

// New returns a fake filter initialized to the identity pose.
func New() *Filter {
	return &Filter{estimate: filter.Estimate{Pose: posefilter.Identity()}, slots: make(map[int]filter.Estimate)}
}

// Init implements filter.Filter.
func (f *Filter) Init(initPose posefilter.Pose, numSlots int) error {
	f.estimate = filter.Estimate{Pose: initPose}
	f.slots = make(map[int]filter.Estimate, numSlots)
	return nil
}

// IMUUpdate implements filter.Filter. The fake does not integrate angular
// velocity or acceleration into the pose; it passes the sample's angular
// velocity and acceleration through as the estimate's AngVel/Accel, and
// leaves Vel unchanged.
func (f *Filter) IMUUpdate(deviceTimeNs uint64, angVel, accel, mag r3.Vector) error {
	f.estimate.AngVel = angVel
	f.estimate.Accel = accel
	return nil
}

// PrepareDelaySlot implements filter.Filter.
func (f *Filter) PrepareDelaySlot(slotID int, deviceTimeNs uint64) error {
	f.slots[slotID] = f.estimate
	return nil
}

// ReleaseDelaySlot implements filter.Filter.
func (f *Filter) ReleaseDelaySlot(slotID int) error {
	delete(f.slots, slotID)
	return nil
}

// PositionUpdate implements filter.Filter.
func (f *Filter) PositionUpdate(slotID int, pos r3.Vector, posError float64) error {
	f.estimate.Pose.Position = pos
	f.estimate.PosError = posError
	if rec, ok := f.slots[slotID]; ok {
		rec.Pose.Position = pos
		rec.PosError = posError
		f.slots[slotID] = rec
	}
	return nil
}

// PoseUpdate implements filter.Filter.
func (f *Filter) PoseUpdate(slotID int, pose posefilter.Pose, posError, rotError float64) error {
	f.estimate.Pose = pose
	f.estimate.PosError = posError
	f.estimate.RotError = rotError
	if rec, ok := f.slots[slotID]; ok {
		rec.Pose = pose
		rec.PosError = posError
		rec.RotError = rotError
		f.slots[slotID] = rec
	}
	return nil
}

// PoseAt implements filter.Filter. The fake has no real time-indexed
// history, so it always returns the current estimate.
func (f *Filter) PoseAt(deviceTimeNs uint64) (filter.Estimate, error) {
	return f.estimate, nil
}

// DelaySlotPoseAt implements filter.Filter.
func (f *Filter) DelaySlotPoseAt(slotID int) (filter.Estimate, error) {
	rec, ok := f.slots[slotID]
	if !ok {
		return filter.Estimate{Pose: posefilter.Identity()}, nil
	}
	return rec, nil
}

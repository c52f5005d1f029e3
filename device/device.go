// Package device implements the per-device tracked-device state machine:
// clock extension, IMU and vision fusion, delay-slot bookkeeping, and the
// smoothed view-pose query.
package device

import (
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/RSDNTWK/OpenHMD/delayslot"
	"github.com/RSDNTWK/OpenHMD/exposure"
	"github.com/RSDNTWK/OpenHMD/filter"
	"github.com/RSDNTWK/OpenHMD/logging"
	"github.com/RSDNTWK/OpenHMD/posefilter"
	"github.com/RSDNTWK/OpenHMD/telemetry"
	"github.com/RSDNTWK/OpenHMD/vision"
)

// PoseLostThreshold is the interval without a positional observation after
// which the view-pose query freezes position and zeroes velocities.
const PoseLostThreshold = 500 * time.Millisecond

// PoseLostOrientThreshold is the interval without an orientation match
// after which an orientation-only observation is force-accepted.
const PoseLostOrientThreshold = 100 * time.Millisecond

// initPose is the device's initial fusion-frame pose: a 180 degree
// rotation about Y so the device starts out facing -Z.
var initPose = posefilter.Pose{
	Position:    r3.Vector{},
	Orientation: quat.Number{Jmag: 1},
}

// Device is one tracked device's full fusion state.
type Device struct {
	ID    string
	Index int

	mu     sync.Mutex
	filt   filter.Filter
	slots  *delayslot.Table
	log    logging.Logger
	sink   telemetry.Sink
	pending *telemetry.Ring

	// deviceFromFusion is the inverse of the IMU's pose in the device
	// frame: it carries an IMU/fusion-frame pose into device body space.
	deviceFromFusion posefilter.Pose
	// fusionFromModel carries a model (LED constellation) pose into the
	// IMU/fusion frame.
	fusionFromModel posefilter.Pose
	// modelFromFusion is fusionFromModel's inverse.
	modelFromFusion posefilter.Pose

	lastDeviceTs   uint32
	deviceTimeNs   uint64
	haveDeviceTime bool

	lastReportedPoseNs   uint64
	lastObservedPoseNs   uint64
	lastObservedOrientNs uint64

	reportedPose posefilter.Pose
	modelPose    posefilter.Pose
	lastObserved posefilter.Pose

	outputFilter *posefilter.ExpFilter
}

// New constructs a tracked device. imuPose is the IMU's pose in the device
// body frame; modelPose is the device's LED-constellation model pose in the
// IMU frame; both are fixed mechanical offsets, not estimated state.
func New(id string, index int, imuPose, modelPose posefilter.Pose, filt filter.Filter, sink telemetry.Sink, log logging.Logger) *Device {
	fusionFromModel := posefilter.Compose(imuPose, modelPose)
	d := &Device{
		ID:                id,
		Index:             index,
		filt:              filt,
		slots:             delayslot.NewTable(),
		log:               log,
		sink:              sink,
		pending:           telemetry.NewRing(),
		deviceFromFusion:  posefilter.Inverse(imuPose),
		fusionFromModel:   fusionFromModel,
		modelFromFusion:   posefilter.Inverse(fusionFromModel),
		reportedPose:      initPose,
		modelPose:         initPose,
		outputFilter:      posefilter.NewExpFilter(0.1),
	}
	if err := filt.Init(initPose, delayslot.NumSlots); err != nil && log != nil {
		log.Warnw("filter init failed", "device", id, "error", err)
	}
	return d
}

// extendDeviceClock advances device_time_ns by the wrapped 32-bit delta
// between consecutive raw device timestamps, handling the ~71.6 minute
// wraparound at the 32-bit microsecond boundary.
func (d *Device) extendDeviceClock(rawDeviceTs uint32) {
	if !d.haveDeviceTime {
		d.deviceTimeNs = uint64(rawDeviceTs) * 1000
		d.haveDeviceTime = true
	} else {
		dtNs := uint64(rawDeviceTs-d.lastDeviceTs) * 1000
		d.deviceTimeNs += dtNs
	}
	d.lastDeviceTs = rawDeviceTs
}

// DeviceTimeNs returns the device's current extended clock value.
func (d *Device) DeviceTimeNs() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceTimeNs
}

// IMUUpdate feeds one inertial sample into the device's filter and pending
// observation ring, flushing the ring to the telemetry sink on overflow.
func (d *Device) IMUUpdate(localTs uint64, rawDeviceTs uint32, dt float64, angVel, accel, mag r3.Vector) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.extendDeviceClock(rawDeviceTs)

	if err := d.filt.IMUUpdate(d.deviceTimeNs, angVel, accel, mag); err != nil && d.log != nil {
		d.log.Warnw("imu update failed", "device", d.ID, "error", err)
	}

	full := d.pending.Append(telemetry.IMUObservation{
		LocalTs:  localTs,
		DeviceTs: d.deviceTimeNs,
		Dt:       dt,
		AngVel:   angVel,
		Accel:    accel,
		Mag:      mag,
		HasMag:   true,
	})
	if full {
		if err := d.pending.Flush(d.ID, d.sink); err != nil && d.log != nil {
			d.log.Warnw("imu telemetry flush failed", "device", d.ID, "error", err)
		}
	}
}

// OnNewExposure allocates (or reclaims) a delay slot for a freshly arrived
// exposure event and populates info accordingly. Called by the tracker
// under the tracker lock, for every tracked device.
func (d *Device) OnNewExposure(info *exposure.DeviceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info.DeviceTimeNs = d.deviceTimeNs

	slot := d.slots.Allocate(d.deviceTimeNs)
	if slot == nil {
		if d.log != nil {
			d.log.Debugw("no free delay slot", "device", d.ID, "device_time_ns", d.deviceTimeNs)
		}
		info.FusionSlot = exposure.NoSlot
		return
	}

	info.FusionSlot = slot.ID()
	info.HadPoseLock = d.deviceTimeNs-d.lastObservedPoseNs < uint64(PoseLostThreshold.Nanoseconds())

	pose, posErr, rotErr := d.modelPoseLocked()
	info.CapturePose = pose
	info.PosError = posErr
	info.RotError = rotErr

	if err := d.filt.PrepareDelaySlot(slot.ID(), info.DeviceTimeNs); err != nil && d.log != nil {
		d.log.Warnw("prepare delay slot failed", "device", d.ID, "error", err)
	}
}

// ExposureClaim is called as a frame belonging to this exposure starts
// capture; it increments the matching slot's use count.
func (d *Device) ExposureClaim(info *exposure.DeviceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot := d.slots.Matching(info.FusionSlot, info.DeviceTimeNs)
	if slot == nil {
		info.FusionSlot = exposure.NoSlot
		return
	}
	slot.Claim()
	info.FusionSlot = slot.ID()
}

// ExposureRelease is called as a frame belonging to this exposure finishes
// (capture complete or dropped); it decrements the matching slot's use
// count and, on the transition to unused, tells the filter to drop the
// slot's constraint.
func (d *Device) ExposureRelease(info *exposure.DeviceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot := d.slots.Matching(info.FusionSlot, info.DeviceTimeNs)
	if slot == nil {
		return
	}
	if slot.Release() {
		if err := d.filt.ReleaseDelaySlot(slot.ID()); err != nil && d.log != nil {
			d.log.Warnw("release delay slot failed", "device", d.ID, "error", err)
		}
	}
	info.FusionSlot = exposure.NoSlot
}

// LatestExposureInfoPose refreshes info's CapturePose/PosError/RotError from
// the filter's current estimate for the slot it names, since IMU updates
// and other pose updates may have improved on the estimate taken at
// exposure time. It reports whether the slot was still valid.
func (d *Device) LatestExposureInfoPose(info *exposure.DeviceInfo) bool {
	if info.FusionSlot == exposure.NoSlot {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	slot := d.slots.Matching(info.FusionSlot, info.DeviceTimeNs)
	if slot == nil {
		info.FusionSlot = exposure.NoSlot
		return false
	}

	estimate, err := d.filt.DelaySlotPoseAt(slot.ID())
	if err != nil {
		if d.log != nil {
			d.log.Warnw("delay slot pose query failed", "device", d.ID, "error", err)
		}
		return false
	}

	info.CapturePose.Position = posefilter.Apply(d.modelFromFusion, estimate.Pose.Position)
	info.CapturePose.Orientation = posefilter.Compose(d.modelFromFusion, estimate.Pose).Orientation
	info.PosError = estimate.PosError
	info.RotError = estimate.RotError
	return true
}

// PoseUpdate is the vision-pipeline entry point: a scored candidate model
// pose, tied to the delay slot recorded in info at exposure time. It
// reports whether either position or orientation was actually fused into
// the filter.
func (d *Device) PoseUpdate(localTs uint64, info exposure.DeviceInfo, score vision.Score, modelPose posefilter.Pose, source int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	imuPose := posefilter.Compose(d.fusionFromModel, modelPose)

	slot := d.slots.Matching(info.FusionSlot, info.DeviceTimeNs)
	if slot == nil {
		return false
	}

	frameDeviceTimeNs := info.DeviceTimeNs

	var updatePosition, updateOrientation bool

	// The had_pose_lock gating is asymmetric by design: the newer-
	// observation check only runs when had_pose_lock was true. This is
	// preserved exactly rather than "fixed" to be symmetric.
	if info.HadPoseLock && !score.Has(vision.MatchPosition) && d.lastObservedPoseNs > frameDeviceTimeNs {
		updatePosition = false
	} else {
		updatePosition = true
	}

	if score.Has(vision.MatchOrient) {
		updateOrientation = true
		if updatePosition {
			d.lastObservedOrientNs = d.deviceTimeNs
		}
	} else if d.deviceTimeNs-d.lastObservedOrientNs > uint64(PoseLostOrientThreshold.Nanoseconds()) {
		updateOrientation = true
	}

	if updatePosition {
		if updateOrientation {
			if err := d.filt.PoseUpdate(slot.ID(), imuPose, 0, 0); err != nil && d.log != nil {
				d.log.Warnw("pose update failed", "device", d.ID, "error", err)
			}
		} else {
			if err := d.filt.PositionUpdate(slot.ID(), imuPose.Position, 0); err != nil && d.log != nil {
				d.log.Warnw("position update failed", "device", d.ID, "error", err)
			}
		}
		d.lastObservedPoseNs = d.deviceTimeNs
		d.lastObserved = imuPose
	}

	slot.RecordReport(delayslot.PoseReport{Score: score, Fused: updatePosition, Source: source})

	// Orientation is only ever fused together with position.
	return updatePosition
}

// modelPoseLocked returns the filter's current pose converted into the
// model (LED constellation) frame, applying the position-freeze rule while
// the caller already holds d.mu.
func (d *Device) modelPoseLocked() (posefilter.Pose, float64, float64) {
	estimate, err := d.filt.PoseAt(d.deviceTimeNs)
	if err != nil {
		estimate.Pose = posefilter.Identity()
	}
	modelPose := posefilter.Compose(d.modelFromFusion, estimate.Pose)

	d.modelPose.Orientation = modelPose.Orientation
	if d.deviceTimeNs-d.lastObservedPoseNs < uint64(PoseLostThreshold.Nanoseconds()) {
		d.modelPose.Position = modelPose.Position
	}
	return d.modelPose, 0, 0
}

// ModelPose returns the device's current pose in the model frame, matching
// get_model_pose's position-freeze behavior.
func (d *Device) ModelPose() (posefilter.Pose, float64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modelPoseLocked()
}

// ViewPose computes the user-visible device-body pose, smoothed by the
// per-device output filter, along with velocity/acceleration/angular
// velocity rotated into device body space.
func (d *Device) ViewPose() (pose posefilter.Pose, vel, accel, angVel r3.Vector) {
	d.mu.Lock()
	defer d.mu.Unlock()

	estimate, err := d.filt.PoseAt(d.deviceTimeNs)
	if err != nil {
		estimate.Pose = posefilter.Identity()
	}

	imuAngVel := estimate.AngVel
	imuAccel := estimate.Accel
	imuVel := estimate.Vel

	if d.deviceTimeNs > d.lastReportedPoseNs {
		computed := posefilter.Compose(d.deviceFromFusion, estimate.Pose)
		d.reportedPose.Orientation = computed.Orientation

		if d.deviceTimeNs-d.lastObservedPoseNs >= uint64(PoseLostThreshold.Nanoseconds()) {
			computed.Position = d.reportedPose.Position
			imuVel = r3.Vector{}
			imuAccel = r3.Vector{}
		}

		d.reportedPose = d.outputFilter.Update(d.deviceTimeNs, computed)
		d.lastReportedPoseNs = d.deviceTimeNs
	}

	pose = d.reportedPose

	deviceAngVel := posefilter.RotateVector(d.deviceFromFusion.Orientation, imuAngVel)
	angVel = deviceAngVel
	accel = posefilter.RotateVector(d.deviceFromFusion.Orientation, imuAccel)

	rotatedImuPos := posefilter.RotateVector(d.deviceFromFusion.Orientation, d.deviceFromFusion.Position)
	extraLinVel := deviceAngVel.Cross(rotatedImuPos)
	vel = posefilter.RotateVector(d.deviceFromFusion.Orientation, imuVel).Add(extraLinVel)

	return pose, vel, accel, angVel
}

// Package exposure holds the tracker-wide snapshot of the most recent
// camera exposure event.
package exposure

import "github.com/RSDNTWK/OpenHMD/posefilter"

// NoSlot is the FusionSlot sentinel for a device that did not receive a
// delay slot for this exposure (slot table exhausted).
const NoSlot = -1

// DeviceInfo is the per-device portion of an exposure snapshot.
type DeviceInfo struct {
	DeviceTimeNs uint64
	FusionSlot   int
	HadPoseLock  bool
	CapturePose  posefilter.Pose
	PosError     float64
	RotError     float64
}

// Info is an immutable-after-publication snapshot of the most recently
// observed exposure event. Callers must treat values returned by Snapshot
// as copies; mutating them has no effect on the tracker's record.
type Info struct {
	LocalTs         uint64
	HmdTs           uint64
	Count           uint32
	LEDPatternPhase int
	Devices         []DeviceInfo
}

// Snapshot returns a deep copy of info suitable for handing to a sensor
// thread outside the tracker lock.
func (info Info) Snapshot() Info {
	out := info
	out.Devices = make([]DeviceInfo, len(info.Devices))
	copy(out.Devices, info.Devices)
	return out
}

// Device returns the per-device info at idx, and whether idx was in range.
func (info Info) Device(idx int) (DeviceInfo, bool) {
	if idx < 0 || idx >= len(info.Devices) {
		return DeviceInfo{}, false
	}
	return info.Devices[idx], true
}

package tracker

import (
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/RSDNTWK/OpenHMD/exposure"
	"github.com/RSDNTWK/OpenHMD/filter/fake"
	"github.com/RSDNTWK/OpenHMD/posefilter"
)

func newTestTracker(t *testing.T) *Tracker {
	tr, err := New(filepath.Join(t.TempDir(), "config.json"), nil)
	test.That(t, err, test.ShouldBeNil)
	var tick uint64
	tr.Now = func() uint64 { tick++; return tick }
	return tr
}

func TestAddDeviceAssignsSequentialIndices(t *testing.T) {
	tr := newTestTracker(t)

	d0, err := tr.AddDevice("hmd-0", posefilter.Identity(), posefilter.Identity(), fake.New(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d0.Index, test.ShouldEqual, 0)

	d1, err := tr.AddDevice("hmd-1", posefilter.Identity(), posefilter.Identity(), fake.New(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d1.Index, test.ShouldEqual, 1)
}

func TestAddDeviceRejectsOverMaxTrackedDevices(t *testing.T) {
	tr := newTestTracker(t)
	for i := 0; i < MaxTrackedDevices; i++ {
		_, err := tr.AddDevice("hmd", posefilter.Identity(), posefilter.Identity(), fake.New(), nil)
		test.That(t, err, test.ShouldBeNil)
	}
	_, err := tr.AddDevice("overflow", posefilter.Identity(), posefilter.Identity(), fake.New(), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOnNewExposureOnlyFiresOnCountChange(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.AddDevice("hmd-0", posefilter.Identity(), posefilter.Identity(), fake.New(), nil)
	test.That(t, err, test.ShouldBeNil)

	info, changed := tr.OnNewExposure(1000, 1, 990, 0)
	test.That(t, changed, test.ShouldBeTrue)
	test.That(t, len(info.Devices), test.ShouldEqual, 1)
	test.That(t, info.Devices[0].FusionSlot, test.ShouldNotEqual, exposure.NoSlot)

	_, changed = tr.OnNewExposure(1000, 1, 990, 0)
	test.That(t, changed, test.ShouldBeFalse)

	_, changed = tr.OnNewExposure(2000, 2, 1990, 0)
	test.That(t, changed, test.ShouldBeTrue)
}

func TestGetExposureInfoReflectsLatestSnapshot(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.AddDevice("hmd-0", posefilter.Identity(), posefilter.Identity(), fake.New(), nil)
	test.That(t, err, test.ShouldBeNil)

	_, ok := tr.GetExposureInfo()
	test.That(t, ok, test.ShouldBeFalse)

	tr.OnNewExposure(1000, 1, 990, 0)
	info, ok := tr.GetExposureInfo()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, info.Count, test.ShouldEqual, uint32(1))
}

func TestFrameLifecycleClaimsAndReleasesSlots(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.AddDevice("hmd-0", posefilter.Identity(), posefilter.Identity(), fake.New(), nil)
	test.That(t, err, test.ShouldBeNil)

	info, changed := tr.OnNewExposure(1000, 1, 990, 0)
	test.That(t, changed, test.ShouldBeTrue)

	tr.FrameStart(1, "cam0", &info)
	tr.FrameCaptured(2, 1, &info, "cam0")
	tr.FrameRelease(3, 1, &info, "cam0")
}

func TestAddSensorAppliesConfiguredPoseAndOffset(t *testing.T) {
	tr := newTestTracker(t)
	tr.cfg.SetSensorPose("CAM-A", posefilter.Pose{Position: r3.Vector{X: 1}})

	sensor, err := tr.AddSensor("CAM-A")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sensor.ID, test.ShouldEqual, 0)
	test.That(t, sensor.Serial, test.ShouldEqual, "CAM-A")
	test.That(t, sensor.Pose.Position.X, test.ShouldEqual, 1.0)
}

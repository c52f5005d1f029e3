package config

import (
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/RSDNTWK/OpenHMD/posefilter"
)

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(cfg.Sensors), test.ShouldEqual, 0)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker-config.json")

	cfg := &Config{CenterOffset: r3.Vector{X: 1, Y: 0, Z: -1}}
	cfg.SetSensorPose("CAM123", posefilter.Pose{Position: r3.Vector{X: 0.5, Y: 0.1, Z: 0.2}, Orientation: posefilter.Identity().Orientation})

	test.That(t, cfg.Save(path), test.ShouldBeNil)

	loaded, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(loaded.Sensors), test.ShouldEqual, 1)
	test.That(t, loaded.Sensors[0].Serial, test.ShouldEqual, "CAM123")
}

func TestSensorPoseForAppliesCenterOffset(t *testing.T) {
	cfg := &Config{CenterOffset: r3.Vector{X: 1, Y: 2, Z: 3}}
	cfg.SetSensorPose("CAM1", posefilter.Pose{Position: r3.Vector{X: 1, Y: 1, Z: 1}})

	pose, ok := cfg.SensorPoseFor("CAM1")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Position, test.ShouldResemble, r3.Vector{X: 2, Y: 3, Z: 4})

	_, ok = cfg.SensorPoseFor("unknown")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSetSensorPoseReplacesExisting(t *testing.T) {
	cfg := &Config{}
	cfg.SetSensorPose("CAM1", posefilter.Pose{Position: r3.Vector{X: 1}})
	cfg.SetSensorPose("CAM1", posefilter.Pose{Position: r3.Vector{X: 2}})

	test.That(t, len(cfg.Sensors), test.ShouldEqual, 1)
	test.That(t, cfg.Sensors[0].Pose.Position.X, test.ShouldEqual, 2.0)
}

func TestValidateRejectsDuplicateSerial(t *testing.T) {
	cfg := &Config{Sensors: []SensorPose{{Serial: "A"}, {Serial: "A"}}}
	_, err := cfg.Validate("test")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateRejectsEmptySerial(t *testing.T) {
	cfg := &Config{Sensors: []SensorPose{{Serial: ""}}}
	_, err := cfg.Validate("test")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{Sensors: []SensorPose{{Serial: "A"}, {Serial: "B"}}}
	_, err := cfg.Validate("test")
	test.That(t, err, test.ShouldBeNil)
}

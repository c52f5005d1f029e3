// Package config persists the tracker's per-sensor extrinsic poses and the
// room center offset applied to them, the way the original driver's sensor
// pose config file did.
package config

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/RSDNTWK/OpenHMD/posefilter"
)

// SensorPose is one persisted sensor-serial-to-extrinsic-pose mapping.
type SensorPose struct {
	Serial string         `json:"serial"`
	Pose   posefilter.Pose `json:"pose"`
}

// Config is the tracker's persisted configuration: known sensor extrinsics
// plus a room center offset applied once to every configured sensor pose at
// load time, per rift_tracker_config_get_center_offset/rift_tracker_new.
type Config struct {
	CenterOffset r3.Vector    `json:"center_offset"`
	Sensors      []SensorPose `json:"sensors"`
}

// Validate checks the config is well formed, following the component
// Config convention of a single Validate entry point even though this
// Config is tracker-wide rather than per-sensor.
func (cfg *Config) Validate(path string) ([]string, error) {
	seen := make(map[string]bool, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		if s.Serial == "" {
			return nil, goutils.NewConfigValidationFieldRequiredError(path, "sensors[].serial")
		}
		if seen[s.Serial] {
			return nil, errors.Errorf("%s: duplicate sensor serial %q", path, s.Serial)
		}
		seen[s.Serial] = true
	}
	return nil, nil
}

// Load reads a Config from path. A missing file is not an error: it
// returns a zero-value Config with no configured sensors, matching the
// original's behavior of falling back to defaults on first run.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, errors.Wrapf(err, "reading tracker config %s", path)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing tracker config %s", path)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func (cfg *Config) Save(path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling tracker config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing tracker config %s", path)
	}
	return nil
}

// CenterOffsetVector returns the room center offset to apply to every
// configured sensor pose at load time.
func (cfg *Config) CenterOffsetVector() r3.Vector {
	return cfg.CenterOffset
}

// SensorPoseFor returns the persisted pose for serial, already translated
// by the center offset, and whether one was found.
func (cfg *Config) SensorPoseFor(serial string) (posefilter.Pose, bool) {
	for _, s := range cfg.Sensors {
		if s.Serial == serial {
			pose := s.Pose
			pose.Position = pose.Position.Add(cfg.CenterOffset)
			return pose, true
		}
	}
	return posefilter.Pose{}, false
}

// SetSensorPose records or replaces the persisted pose for serial. newPose
// is given without the center offset applied, matching
// rift_tracker_update_sensor_pose's storage of the raw camera pose.
func (cfg *Config) SetSensorPose(serial string, newPose posefilter.Pose) {
	for i := range cfg.Sensors {
		if cfg.Sensors[i].Serial == serial {
			cfg.Sensors[i].Pose = newPose
			return
		}
	}
	cfg.Sensors = append(cfg.Sensors, SensorPose{Serial: serial, Pose: newPose})
}

// Package tracker implements the tracker-wide coordination core: the
// device table, the exposure-info snapshot shared between the HMD's IMU
// packet stream and the camera sensors, and the frame lifecycle hooks that
// keep delay-slot claims synchronized with in-flight camera frames.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/RSDNTWK/OpenHMD/config"
	"github.com/RSDNTWK/OpenHMD/device"
	"github.com/RSDNTWK/OpenHMD/exposure"
	"github.com/RSDNTWK/OpenHMD/filter"
	"github.com/RSDNTWK/OpenHMD/logging"
	"github.com/RSDNTWK/OpenHMD/posefilter"
	"github.com/RSDNTWK/OpenHMD/telemetry"
)

// MaxTrackedDevices bounds the device table, matching RIFT_MAX_TRACKED_DEVICES.
const MaxTrackedDevices = 4

// MaxSensors bounds the sensor table, matching RIFT_MAX_SENSORS.
const MaxSensors = 4

// VendorID and the two known product IDs gate USB device enumeration.
const (
	VendorID = 0x2833
	CV1PID   = 0x0211
	DK2PID   = 0x0201
)

// usbTransport is the subset of uvc.Transport's method set the tracker
// needs during shutdown, kept as an interface here so this file does not
// need to import the uvc package (which pulls in cgo on platforms that
// support it).
type usbTransport interface {
	ActiveTransfers() int
	Stop(waitForDrain func()) error
	Close()
}

// Sensor is the tracker's record of one enumerated camera sensor. The
// transport (UVC stream + isochronous transfer layer) is owned by the
// cgo-gated enumeration path; this struct only carries what the exposure
// and pose-config plumbing needs.
type Sensor struct {
	ID     int
	Serial string
	Pose   posefilter.Pose
}

// Tracker owns the device table and the tracker-wide exposure snapshot. Its
// mutex is always acquired before any individual device's lock, never after
// — the same lock-ordering rule the original enforces between
// tracker_lock and device_lock.
type Tracker struct {
	log     logging.Logger
	cfgPath string

	mu      sync.Mutex
	cfg     *config.Config
	devices []*device.Device
	sensors []*Sensor

	exposureInfo     exposure.Info
	haveExposureInfo bool

	// usb and transports are only populated on cgo builds, by OpenUSB in
	// usb_cgo.go. usb holds the concrete *usbContext as `any` so this file
	// stays buildable without cgo; transports only needs the subset of
	// uvc.Transport's method set this package calls during shutdown.
	usb        any
	transports []usbTransport
	// usbCloser is set by OpenUSB (cgo builds only) and invoked by Close to
	// tear down the libusb context and any open transports.
	usbCloser func()

	// Now returns host monotonic time in nanoseconds; overridable for tests.
	Now func() uint64

	cancelCtx               context.Context
	cancelFunc              context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// New loads the tracker's persisted sensor-pose config from cfgPath (a
// missing file is not an error) and returns an otherwise-empty tracker
// ready for AddDevice/AddSensor calls.
func New(cfgPath string, log logging.Logger) (*Tracker, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading tracker config")
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Tracker{
		log:        log,
		cfgPath:    cfgPath,
		cfg:        cfg,
		Now:        func() uint64 { return uint64(time.Now().UnixNano()) },
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// AddDevice constructs and registers a new tracked device, then returns it
// so the caller (typically the HMD's own driver glue) can feed it IMU
// samples. imuPose is the IMU's pose in the device body frame; modelPose is
// the device's LED constellation pose in the IMU frame.
func (t *Tracker) AddDevice(id string, imuPose, modelPose posefilter.Pose, filt filter.Filter, sink telemetry.Sink) (*device.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.devices) >= MaxTrackedDevices {
		return nil, errors.Errorf("tracker: maximum of %d tracked devices already registered", MaxTrackedDevices)
	}

	dev := device.New(id, len(t.devices), imuPose, modelPose, filt, sink, t.log)
	t.devices = append(t.devices, dev)
	if t.log != nil {
		t.log.Infow("device online", "device", id, "index", dev.Index)
	}
	return dev, nil
}

// AddSensor registers a newly enumerated camera sensor, applying any
// persisted extrinsic pose (plus the configured room center offset) found
// under its serial number. It is called from the cgo-gated enumeration path
// once per opened UVC device.
func (t *Tracker) AddSensor(serial string) (*Sensor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sensors) >= MaxSensors {
		return nil, errors.Errorf("tracker: maximum of %d sensors already registered", MaxSensors)
	}

	s := &Sensor{ID: len(t.sensors), Serial: serial}
	if pose, ok := t.cfg.SensorPoseFor(serial); ok {
		s.Pose = pose
	}
	t.sensors = append(t.sensors, s)
	return s, nil
}

// UpdateSensorPose persists a newly measured extrinsic pose for sensor and
// saves the config file, matching rift_tracker_update_sensor_pose.
func (t *Tracker) UpdateSensorPose(sensor *Sensor, newPose posefilter.Pose) error {
	t.mu.Lock()
	sensor.Pose = newPose
	t.cfg.SetSensorPose(sensor.Serial, newPose)
	cfgCopy := *t.cfg
	t.mu.Unlock()

	if t.cfgPath == "" {
		return nil
	}
	if err := cfgCopy.Save(t.cfgPath); err != nil {
		return errors.Wrap(err, "saving tracker config")
	}
	return nil
}

// GetExposureInfo returns a snapshot of the most recently observed exposure
// event and whether one has ever been observed, matching
// rift_tracker_get_exposure_info.
func (t *Tracker) GetExposureInfo() (exposure.Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exposureInfo.Snapshot(), t.haveExposureInfo
}

// OnNewExposure is called from the HMD IMU packet stream when a packet
// signals a new camera exposure. On an actual count change it takes a
// delay-slot snapshot of every tracked device's predicted state, then
// reports whether sensors should be told about new exposure info (the
// caller does that outside any lock, to avoid deadlocking against a sensor
// callback that re-enters the tracker).
func (t *Tracker) OnNewExposure(hmdTs uint32, exposureCount uint16, exposureHmdTs uint32, ledPatternPhase uint8) (exposure.Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exposureInfo.LEDPatternPhase != int(ledPatternPhase) {
		if t.log != nil {
			t.log.Debugw("LED pattern phase changed", "phase", ledPatternPhase)
		}
		t.exposureInfo.LEDPatternPhase = int(ledPatternPhase)
	}

	if t.exposureInfo.Count == uint32(exposureCount) {
		return exposure.Info{}, false
	}

	now := t.Now()

	t.exposureInfo.LocalTs = now
	t.exposureInfo.Count = uint32(exposureCount)
	t.exposureInfo.HmdTs = uint64(exposureHmdTs)
	t.exposureInfo.LEDPatternPhase = int(ledPatternPhase)
	t.haveExposureInfo = true

	if t.log != nil {
		t.log.Debugw("new exposure", "count", exposureCount, "hmd_ts", exposureHmdTs, "led_pattern_phase", ledPatternPhase)
	}

	if int32(exposureHmdTs-hmdTs) < -1500 {
		if t.log != nil {
			t.log.Warnw("exposure timestamp earlier than IMU sample by more than 1.5 samples",
				"exposure_hmd_ts", exposureHmdTs, "hmd_ts", hmdTs, "delta_us", hmdTs-exposureHmdTs)
		}
	}

	t.exposureInfo.Devices = make([]exposure.DeviceInfo, len(t.devices))
	for i, dev := range t.devices {
		dev.OnNewExposure(&t.exposureInfo.Devices[i])
	}

	return t.exposureInfo.Snapshot(), true
}

// FrameStart claims a delay slot on every tracked device for a frame that
// has just started arriving, matching rift_tracker_frame_start. info may be
// nil or shorter than the device table when a device came online after the
// exposure snapshot was taken.
func (t *Tracker) FrameStart(localTs uint64, source string, info *exposure.Info) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, dev := range t.devices {
		if info != nil && i < len(info.Devices) {
			dev.ExposureClaim(&info.Devices[i])
		}
	}
}

// FrameChangedExposure is called when a frame's exposure association
// changes mid-arrival: slots claimed under oldInfo are released and slots
// for newInfo are claimed, matching rift_tracker_frame_changed_exposure.
func (t *Tracker) FrameChangedExposure(oldInfo, newInfo *exposure.Info) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, dev := range t.devices {
		if oldInfo != nil && i < len(oldInfo.Devices) {
			dev.ExposureRelease(&oldInfo.Devices[i])
		}
		if newInfo != nil && i < len(newInfo.Devices) {
			dev.ExposureClaim(&newInfo.Devices[i])
		}
	}
}

// FrameCaptured logs frame-capture telemetry per device, matching
// rift_tracker_frame_captured. It does not itself release or claim slots.
func (t *Tracker) FrameCaptured(localTs, frameStartLocalTs uint64, info *exposure.Info, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.log == nil {
		return
	}
	for i := range t.devices {
		fusionSlot := exposure.NoSlot
		if info != nil && i < len(info.Devices) {
			fusionSlot = info.Devices[i].FusionSlot
		}
		t.log.Debugw("frame captured", "source", source, "local_ts", localTs,
			"frame_start_local_ts", frameStartLocalTs, "device_index", i, "fusion_slot", fusionSlot)
	}
}

// FrameRelease releases every tracked device's delay-slot claim for a frame
// that finished (whether delivered or dropped), matching
// rift_tracker_frame_release.
func (t *Tracker) FrameRelease(localTs, frameLocalTs uint64, info *exposure.Info, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, dev := range t.devices {
		if info != nil && i < len(info.Devices) {
			dev.ExposureRelease(&info.Devices[i])
		}
	}
}

// goWorker runs fn on a panic-capturing background goroutine tracked by the
// tracker's WaitGroup, following the teacher's cancelCtx/WaitGroup idiom for
// long-lived driver goroutines.
func (t *Tracker) goWorker(fn func(ctx context.Context)) {
	t.activeBackgroundWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer t.activeBackgroundWorkers.Done()
		fn(t.cancelCtx)
	})
}

// Close stops all background workers and waits for them to exit. Safe to
// call multiple times.
func (t *Tracker) Close() error {
	// usbCloser must run while the USB event-pump goroutine is still alive:
	// draining outstanding isochronous transfers requires someone to keep
	// calling libusb_handle_events_timeout_completed.
	if t.usbCloser != nil {
		t.usbCloser()
	}
	t.cancelFunc()
	t.activeBackgroundWorkers.Wait()
	return nil
}

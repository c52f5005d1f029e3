// Package telemetry holds the per-device IMU observation ring and the
// pluggable sink it flushes to. The sink's transport is an external
// collaborator; only the no-op and file-backed implementations ship here.
package telemetry

import "github.com/golang/geo/r3"

// RingCapacity is the number of IMU observations buffered before a flush is
// forced.
const RingCapacity = 1000

// IMUObservation is one inertial sample recorded for debug telemetry.
type IMUObservation struct {
	LocalTs    uint64
	DeviceTs   uint64
	Dt         float64
	AngVel     r3.Vector
	Accel      r3.Vector
	Mag        r3.Vector
	HasMag     bool
}

// Sink is the flush target for a device's IMU observation ring.
type Sink interface {
	FlushIMU(deviceID string, observations []IMUObservation) error
}

// Ring is a bounded FIFO of pending IMU observations. It is not
// synchronized internally — callers hold the owning device's lock.
type Ring struct {
	buf []IMUObservation
}

// NewRing returns an empty ring.
func NewRing() *Ring {
	return &Ring{buf: make([]IMUObservation, 0, RingCapacity)}
}

// Append adds obs to the ring and reports whether the ring is now at
// capacity and should be flushed.
func (r *Ring) Append(obs IMUObservation) (full bool) {
	r.buf = append(r.buf, obs)
	return len(r.buf) >= RingCapacity
}

// Len returns the number of pending observations.
func (r *Ring) Len() int {
	return len(r.buf)
}

// Drain returns the buffered observations and empties the ring.
func (r *Ring) Drain() []IMUObservation {
	out := r.buf
	r.buf = make([]IMUObservation, 0, RingCapacity)
	return out
}

// Flush drains the ring into sink, if it holds anything. A nil sink is
// treated as a no-op so devices may be constructed without telemetry.
func (r *Ring) Flush(deviceID string, sink Sink) error {
	if r.Len() == 0 {
		return nil
	}
	observations := r.Drain()
	if sink == nil {
		return nil
	}
	return sink.FlushIMU(deviceID, observations)
}

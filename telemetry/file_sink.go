package telemetry

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// FileSink writes each flush as newline-delimited JSON records, replacing
// the original driver's trace-file debug sink.
type FileSink struct {
	mu sync.Mutex
	w  io.Writer
}

type fileSinkRecord struct {
	DeviceID    string           `json:"device_id"`
	Observation IMUObservation   `json:"observation"`
}

// NewFileSink wraps w; the caller owns w's lifecycle (opening/closing the
// underlying file).
func NewFileSink(w io.Writer) *FileSink {
	return &FileSink{w: w}
}

// FlushIMU implements Sink.
func (s *FileSink) FlushIMU(deviceID string, observations []IMUObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	for _, obs := range observations {
		if err := enc.Encode(fileSinkRecord{DeviceID: deviceID, Observation: obs}); err != nil {
			return errors.Wrap(err, "writing imu telemetry record")
		}
	}
	return nil
}

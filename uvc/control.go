package uvc

import "encoding/binary"

// Class-specific control transfer constants.
const (
	SetCur  = 0x01
	GetCur  = 0x81
	Timeout = 1000 // milliseconds

	ControlInterface = 0
	StreamInterface  = 1

	VSProbeControl  = 1
	VSCommitControl = 2

	IsoEndpointAddress = 0x81
)

// ProbeCommitControlLen is the fixed wire size of ProbeCommitControl.
const ProbeCommitControlLen = 26

// ProbeCommitControl is the UVC VS_PROBE_CONTROL/VS_COMMIT_CONTROL
// negotiation struct, 26 bytes, little-endian, packed.
type ProbeCommitControl struct {
	BmHint                   uint16
	BFormatIndex             uint8
	BFrameIndex              uint8
	DwFrameInterval          uint32
	WKeyFrameRate            uint16
	WPFrameRate              uint16
	WCompQuality             uint16
	WCompWindowSize          uint16
	WDelay                   uint16
	DwMaxVideoFrameSize      uint32
	DwMaxPayloadTransferSize uint32
	DwClockFrequency         uint32
	BmFramingInfo            uint8
}

// Marshal encodes c into its 26-byte wire representation.
func (c ProbeCommitControl) Marshal() []byte {
	b := make([]byte, ProbeCommitControlLen)
	binary.LittleEndian.PutUint16(b[0:2], c.BmHint)
	b[2] = c.BFormatIndex
	b[3] = c.BFrameIndex
	binary.LittleEndian.PutUint32(b[4:8], c.DwFrameInterval)
	binary.LittleEndian.PutUint16(b[8:10], c.WKeyFrameRate)
	binary.LittleEndian.PutUint16(b[10:12], c.WPFrameRate)
	binary.LittleEndian.PutUint16(b[12:14], c.WCompQuality)
	binary.LittleEndian.PutUint16(b[14:16], c.WCompWindowSize)
	binary.LittleEndian.PutUint16(b[16:18], c.WDelay)
	binary.LittleEndian.PutUint32(b[18:22], c.DwMaxVideoFrameSize)
	binary.LittleEndian.PutUint32(b[22:26], c.DwMaxPayloadTransferSize)
	// DwClockFrequency and BmFramingInfo are negotiated fields this module
	// tracks for sensor-profile bookkeeping but are outside the 26-byte
	// wire payload exchanged over VS_PROBE_CONTROL/VS_COMMIT_CONTROL.
	return b
}

// Unmarshal decodes the first ProbeCommitControlLen bytes of b into c.
func (c *ProbeCommitControl) Unmarshal(b []byte) {
	c.BmHint = binary.LittleEndian.Uint16(b[0:2])
	c.BFormatIndex = b[2]
	c.BFrameIndex = b[3]
	c.DwFrameInterval = binary.LittleEndian.Uint32(b[4:8])
	c.WKeyFrameRate = binary.LittleEndian.Uint16(b[8:10])
	c.WPFrameRate = binary.LittleEndian.Uint16(b[10:12])
	c.WCompQuality = binary.LittleEndian.Uint16(b[12:14])
	c.WCompWindowSize = binary.LittleEndian.Uint16(b[14:16])
	c.WDelay = binary.LittleEndian.Uint16(b[16:18])
	c.DwMaxVideoFrameSize = binary.LittleEndian.Uint32(b[18:22])
	c.DwMaxPayloadTransferSize = binary.LittleEndian.Uint32(b[22:26])
}

// ControlFromParams builds the probe/commit control block sent to negotiate
// params, matching rift_sensor_uvc_stream_setup's per-profile field set.
func ControlFromParams(params SensorParams) ProbeCommitControl {
	return ProbeCommitControl{
		BFormatIndex:             params.FormatIndex,
		BFrameIndex:              params.FrameIndex,
		DwFrameInterval:          params.FrameInterval,
		DwMaxVideoFrameSize:      params.MaxVideoFrameSize,
		DwMaxPayloadTransferSize: params.MaxPayloadTransferSize,
		DwClockFrequency:         params.ClockFrequency,
	}
}

package uvc

// Profile names the two supported sensor variants, distinguished by USB
// product ID. The set is closed: a tagged variant with a constant table,
// not a virtual hierarchy.
type Profile int

const (
	// ProfileDK2 is the Rift DK2's positional tracking camera.
	ProfileDK2 Profile = iota
	// ProfileCV1 is the Rift CV1's positional tracking camera.
	ProfileCV1
)

// ClockFreqCV1 is the CV1 sensor's 40 MHz PTS clock.
const ClockFreqCV1 = 40000000

// SensorParams is the full set of UVC negotiation constants for one sensor
// variant.
type SensorParams struct {
	Profile                   Profile
	FormatIndex               uint8
	FrameIndex                uint8
	FrameInterval             uint32
	Width, Height             int
	MaxVideoFrameSize         uint32
	MaxPayloadTransferSize    uint32
	ClockFrequency            uint32
	PacketSize                int
	AltSetting                int
	NumPackets                int
	VendorInitRequired        bool
}

// Stride matches the spec's invariant that stride == width for both
// profiles.
func (p SensorParams) Stride() int { return p.Width }

// FrameSize returns stride*height, the number of bytes in one complete
// video frame.
func (p SensorParams) FrameSize() int { return p.Stride() * p.Height }

// ParamsFor returns the negotiation constants for profile.
func ParamsFor(profile Profile) SensorParams {
	switch profile {
	case ProfileDK2:
		return SensorParams{
			Profile:                ProfileDK2,
			FormatIndex:            1,
			FrameIndex:             1,
			FrameInterval:          166666,
			Width:                  752,
			Height:                 480,
			MaxVideoFrameSize:      752 * 480,
			MaxPayloadTransferSize: 3000,
			ClockFrequency:         0,
			PacketSize:             3060,
			AltSetting:             7,
			NumPackets:             32,
			VendorInitRequired:     true,
		}
	case ProfileCV1:
		return SensorParams{
			Profile:                ProfileCV1,
			FormatIndex:            1,
			FrameIndex:             4,
			FrameInterval:          192000,
			Width:                  1280,
			Height:                 960,
			MaxVideoFrameSize:      1280 * 960,
			MaxPayloadTransferSize: 3072,
			ClockFrequency:         ClockFreqCV1,
			PacketSize:             16384,
			AltSetting:             2,
			NumPackets:             0, // computed by NumPacketsPerTransfer
			VendorInitRequired:     false,
		}
	default:
		panic("uvc: unknown sensor profile")
	}
}

// NumPacketsPerTransfer computes the per-transfer packet count and transfer
// count for a frame of frameSize bytes sent in packets of packetSize,
// following the same derivation as the original stream setup: split the
// total packet count across as few transfers as possible, capping each
// transfer at 32 packets.
func NumPacketsPerTransfer(frameSize, packetSize int) (numTransfers, packetsPerTransfer int) {
	totalPackets := (frameSize + packetSize - 1) / packetSize
	numTransfers = (totalPackets + 31) / 32
	packetsPerTransfer = totalPackets / numTransfers
	return numTransfers, packetsPerTransfer
}

// Package vision defines the external contract between the tracker core
// and the (out of scope) blob-detection / constellation-matching pipeline:
// a scored candidate pose handed back into the core for fusion.
package vision

import "github.com/RSDNTWK/OpenHMD/posefilter"

// Score is a bitmask describing how well a candidate pose matched the
// device's LED constellation. Bit values are this module's own choice —
// the header defining the original flags was not available to ground them
// on; the flag names and their use at the position/orientation gates are
// taken directly from the tracker core they originated in.
type Score uint32

const (
	// MatchPosition indicates the candidate's position was corroborated by
	// enough matched LEDs to be trusted outright.
	MatchPosition Score = 1 << 0
	// MatchOrient indicates the candidate's orientation was corroborated by
	// enough matched LEDs to be trusted outright.
	MatchOrient Score = 1 << 1
)

// Has reports whether every bit in flags is set in s.
func (s Score) Has(flags Score) bool {
	return s&flags == flags
}

// Observation is a single candidate pose produced by the vision pipeline
// for one sensor's view of one device, in the model (LED constellation)
// frame.
type Observation struct {
	LocalTs   uint64
	ModelPose posefilter.Pose
	Score     Score
	Source    int
}

package uvc

import (
	"encoding/binary"
	"testing"

	"go.viam.com/test"
)

func buildPayload(parity int, havePTS bool, pts uint32, isError, isEOF bool, body []byte) []byte {
	info := uint8(0)
	if parity != 0 {
		info |= headerInfoFrameID
	}
	if isEOF {
		info |= headerInfoEOF
	}
	if havePTS {
		info |= headerInfoPTS
	}
	if isError {
		info |= headerInfoError
	}

	h := make([]byte, PayloadHeaderLen)
	h[0] = PayloadHeaderLen
	h[1] = info
	binary.LittleEndian.PutUint32(h[2:6], pts)
	binary.LittleEndian.PutUint16(h[6:8], 0)
	binary.LittleEndian.PutUint32(h[8:12], 0)

	return append(h, body...)
}

func newCV1TestStream(t *testing.T, onFrame FrameCallback) *Stream {
	params := ParamsFor(ProfileCV1)
	pool := NewFramePool(2, params.FrameSize())
	s := NewStream(pool, params, onFrame, nil)
	var tick uint64
	s.Now = func() uint64 {
		tick++
		return tick
	}
	return s
}

func TestProcessPayloadCleanFrame(t *testing.T) {
	var delivered *Frame
	s := newCV1TestStream(t, func(f *Frame) { delivered = f })

	body := make([]byte, 3072)
	for i := 0; i < 400; i++ {
		s.ProcessPayload(buildPayload(0, true, 1000, false, false, body))
	}

	test.That(t, delivered, test.ShouldNotBeNil)
	test.That(t, delivered.DataSize, test.ShouldEqual, 1280*960)
	test.That(t, s.FrameCollected(), test.ShouldEqual, 0)

	// A fresh parity starts the next frame cycle.
	s.ProcessPayload(buildPayload(1, true, 1001, false, false, body))
	test.That(t, s.FrameCollected(), test.ShouldEqual, len(body))
}

func TestProcessPayloadShortFrameDropped(t *testing.T) {
	var deliveries int
	s := newCV1TestStream(t, func(f *Frame) { deliveries++ })

	body := make([]byte, 3072)
	for i := 0; i < 100; i++ {
		s.ProcessPayload(buildPayload(0, true, 1000, false, false, body))
	}
	test.That(t, s.FrameCollected(), test.ShouldEqual, 100*3072)

	// Parity flips before frame_size reached: previous frame is dropped as
	// short, a new frame starts collecting from zero.
	s.ProcessPayload(buildPayload(1, true, 1001, false, false, body))
	test.That(t, s.FrameCollected(), test.ShouldEqual, len(body))
	test.That(t, deliveries, test.ShouldEqual, 0)
}

func TestProcessPayloadPTSJumpMidFrame(t *testing.T) {
	s := newCV1TestStream(t, func(f *Frame) {})

	body := make([]byte, 3072)
	s.ProcessPayload(buildPayload(0, true, 1000, false, false, body))
	test.That(t, s.curPTS, test.ShouldEqual, uint32(1000))

	s.ProcessPayload(buildPayload(0, true, 1002, false, false, body))
	test.That(t, s.curPTS, test.ShouldEqual, uint32(1002))
	test.That(t, s.FrameCollected(), test.ShouldEqual, 2*len(body))
}

func TestProcessPayloadHeaderOnlyIgnored(t *testing.T) {
	s := newCV1TestStream(t, func(f *Frame) {})
	s.ProcessPayload(buildPayload(0, true, 1000, false, false, nil))
	test.That(t, s.FrameCollected(), test.ShouldEqual, 0)
	test.That(t, s.curFrame, test.ShouldBeNil)
}

func TestProcessPayloadErrorBitIgnored(t *testing.T) {
	var deliveries int
	s := newCV1TestStream(t, func(f *Frame) { deliveries++ })
	body := make([]byte, 3072)
	s.ProcessPayload(buildPayload(0, true, 1000, true, false, body))
	test.That(t, s.FrameCollected(), test.ShouldEqual, 0)
	test.That(t, deliveries, test.ShouldEqual, 0)
}

func TestProcessPayloadEmptyIgnored(t *testing.T) {
	s := newCV1TestStream(t, func(f *Frame) {})
	s.ProcessPayload(nil)
	test.That(t, s.FrameCollected(), test.ShouldEqual, 0)
}

func TestProcessPayloadPoolUnderflowSkipsFrame(t *testing.T) {
	params := ParamsFor(ProfileCV1)
	pool := NewFramePool(0, params.FrameSize())
	s := NewStream(pool, params, nil, nil)
	s.Now = func() uint64 { return 1 }

	body := make([]byte, 3072)
	s.ProcessPayload(buildPayload(0, true, 1000, false, false, body))
	test.That(t, s.SkipFrame(), test.ShouldBeTrue)
	test.That(t, s.curFrame, test.ShouldBeNil)
}

package uvc

import (
	"time"

	"github.com/RSDNTWK/OpenHMD/logging"
)

// FrameCallback receives a completed frame. The callback owns the frame
// until it calls Release on it.
type FrameCallback func(frame *Frame)

// Stream is the per-sensor UVC assembler: pure, lock-free state driven
// entirely by ProcessPayload, with no dependency on libusb or cgo. The
// isochronous transfer submission/resubmission lifecycle that feeds it
// payloads lives in transfer_cgo.go.
type Stream struct {
	pool      *FramePool
	params    SensorParams
	frameSize int
	onFrame   FrameCallback
	log       logging.Logger

	// Now returns the current host monotonic time in nanoseconds; overridable
	// for deterministic tests.
	Now func() uint64

	curFrame       *Frame
	frameID        int
	curPTS         uint32
	frameCollected int
	skipFrame      bool
}

// NewStream builds an assembler for the given sensor params, drawing frames
// from pool and delivering completed ones to onFrame.
func NewStream(pool *FramePool, params SensorParams, onFrame FrameCallback, log logging.Logger) *Stream {
	return &Stream{
		pool:      pool,
		params:    params,
		frameSize: params.FrameSize(),
		onFrame:   onFrame,
		log:       log,
		Now:       func() uint64 { return uint64(time.Now().UnixNano()) },
		// No parity seen yet, so the first payload always starts a frame.
		frameID: -1,
	}
}

// noPTS is the sentinel PTS value used when a payload carries none, matching
// the original's `(uint32_t)(-1)` initializer.
const noPTS = ^uint32(0)

// ProcessPayload feeds one isochronous payload through the frame assembler.
// It never blocks and never returns an error for malformed input — every
// rejection path is a transient condition that is logged and dropped.
func (s *Stream) ProcessPayload(payload []byte) {
	if len(payload) == 0 {
		return
	}
	if len(payload) == PayloadHeaderLen {
		return
	}

	h := parsePayloadHeader(payload)
	if int(h.headerLength) != PayloadHeaderLen {
		if s.log != nil {
			s.log.Warnf("uvc: invalid header: len %d/%d", h.headerLength, len(payload))
		}
		return
	}
	if h.isError() {
		if s.log != nil {
			s.log.Warnf("uvc: frame error")
		}
		return
	}

	body := payload[h.headerLength:]

	pts := noPTS
	if h.havePTS() {
		pts = h.pts
		if s.frameCollected != 0 && pts != s.curPTS {
			lostMs := (pts - s.curPTS*1000) / ClockFreqCV1
			if s.log != nil {
				s.log.Warnf("uvc: PTS changed in-frame at %d bytes. Lost %d ms", s.frameCollected, lostMs)
			}
			s.curPTS = pts
		}
	}

	if h.frameID() != s.frameID {
		if s.frameCollected > 0 {
			if s.log != nil {
				s.log.Warnf("uvc: dropping short frame: %d < %d (%d lost)",
					s.frameCollected, s.frameSize, s.frameSize-s.frameCollected)
			}
		}

		now := s.Now()

		if s.curFrame == nil {
			if frame, ok := s.pool.Acquire(); ok {
				s.curFrame = frame
			}
		}

		s.frameID = h.frameID()
		s.curPTS = pts
		s.frameCollected = 0
		s.skipFrame = false

		if s.curFrame == nil {
			if s.log != nil {
				s.log.Warnf("uvc: no frame provided for pixel data, skipping frame")
			}
			s.skipFrame = true
		} else {
			f := s.curFrame
			f.StartTs = now
			f.PTS = pts
			f.Stride = s.params.Stride()
			f.Width = s.params.Width
			f.Height = s.params.Height
		}
	}

	if s.skipFrame || s.curFrame == nil {
		return
	}

	if s.frameCollected+len(body) > s.frameSize {
		if s.log != nil {
			s.log.Warnf("uvc: frame buffer overflow: %d + %d > %d", s.frameCollected, len(body), s.frameSize)
		}
		return
	}

	copy(s.curFrame.Data[s.frameCollected:], body)
	s.frameCollected += len(body)

	if s.frameCollected == s.frameSize {
		if s.onFrame != nil {
			frame := s.curFrame
			s.curFrame = nil
			s.onFrame(frame)
		}
		s.frameCollected = 0
	}

	if h.isEOF() {
		s.frameCollected = 0
	}
}

// FrameCollected exposes the in-progress byte count, for tests and
// invariant checks (frame_collected <= frame_size holds after every call).
func (s *Stream) FrameCollected() int { return s.frameCollected }

// SkipFrame reports whether the stream is currently dropping payloads for
// lack of a free pool frame.
func (s *Stream) SkipFrame() bool { return s.skipFrame }

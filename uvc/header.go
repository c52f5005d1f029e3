package uvc

import "encoding/binary"

// PayloadHeaderLen is the fixed size of a UVC isochronous payload header.
const PayloadHeaderLen = 12

// Header info bit flags (bmHeaderInfo).
const (
	headerInfoFrameID = 1 << 0
	headerInfoEOF     = 1 << 1
	headerInfoPTS     = 1 << 2
	headerInfoSCR     = 1 << 3
	headerInfoError   = 1 << 6
)

// payloadHeader is the parsed form of the 12-byte UVC payload header.
type payloadHeader struct {
	headerLength uint8
	headerInfo   uint8
	pts          uint32
	sofCounter   uint16
	scrClock     uint32
}

func parsePayloadHeader(b []byte) payloadHeader {
	return payloadHeader{
		headerLength: b[0],
		headerInfo:   b[1],
		pts:          binary.LittleEndian.Uint32(b[2:6]),
		sofCounter:   binary.LittleEndian.Uint16(b[6:8]),
		scrClock:     binary.LittleEndian.Uint32(b[8:12]),
	}
}

func (h payloadHeader) frameID() int  { return int(h.headerInfo & headerInfoFrameID) }
func (h payloadHeader) isEOF() bool   { return h.headerInfo&headerInfoEOF != 0 }
func (h payloadHeader) havePTS() bool { return h.headerInfo&headerInfoPTS != 0 }
func (h payloadHeader) haveSCR() bool { return h.headerInfo&headerInfoSCR != 0 }
func (h payloadHeader) isError() bool { return h.headerInfo&headerInfoError != 0 }

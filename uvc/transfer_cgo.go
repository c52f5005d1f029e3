//go:build cgo

package uvc

/*
#cgo LDFLAGS: -lusb-1.0
#include <libusb-1.0/libusb.h>
#include <stdlib.h>
#include <string.h>

extern void goIsoTransferCallback(struct libusb_transfer *transfer);

static void install_iso_callback(struct libusb_transfer *transfer) {
	transfer->callback = (libusb_transfer_cb_fn) goIsoTransferCallback;
}
*/
import "C"

import (
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/RSDNTWK/OpenHMD/logging"
)

// resubmitRetries and resubmitSleep match the original driver's
// resubmission backoff exactly: 5 attempts, 500 microsecond sleeps.
const (
	resubmitRetries = 5
	resubmitSleep   = 500 * time.Microsecond
)

// Transport owns the isochronous libusb_transfer handles feeding a Stream.
// Re-submission happens on the same thread as completion (the USB event
// thread), so no synchronization is required on transfer state beyond
// videoRunning/activeTransfers, which are only ever touched from that
// thread once streaming has started.
type Transport struct {
	devh   *C.libusb_device_handle
	stream *Stream
	log    logging.Logger

	transfers []*C.struct_libusb_transfer

	videoRunning   bool
	activeTransfers int
}

var (
	transportRegistryMu sync.Mutex
	transportRegistry    = map[unsafe.Pointer]*Transport{}
)

// NewTransport claims the UVC control and streaming interfaces on devh and
// negotiates params via the probe/commit control handshake.
func NewTransport(devh *C.libusb_device_handle, params SensorParams, stream *Stream, log logging.Logger) (*Transport, error) {
	if ret := C.libusb_set_auto_detach_kernel_driver(devh, 1); ret < 0 {
		return nil, errors.Errorf("could not detach uvcvideo driver: %d", ret)
	}
	if ret := C.libusb_claim_interface(devh, C.int(ControlInterface)); ret < 0 {
		return nil, errors.Errorf("could not claim control interface: %d", ret)
	}
	if ret := C.libusb_claim_interface(devh, C.int(StreamInterface)); ret < 0 {
		return nil, errors.Errorf("could not claim UVC data interface: %d", ret)
	}

	control := ControlFromParams(params)
	wire := control.Marshal()

	if ret := C.libusb_control_transfer(devh,
		C.LIBUSB_REQUEST_TYPE_CLASS|C.LIBUSB_RECIPIENT_INTERFACE,
		C.uint8_t(SetCur), C.uint16_t(VSProbeControl)<<8, C.uint16_t(StreamInterface),
		(*C.uchar)(unsafe.Pointer(&wire[0])), C.uint16_t(len(wire)), C.uint(Timeout)); ret < 0 {
		return nil, errors.Errorf("failed to SET_CUR PROBE_CONTROL: %d", ret)
	}
	if ret := C.libusb_control_transfer(devh,
		C.LIBUSB_ENDPOINT_IN|C.LIBUSB_REQUEST_TYPE_CLASS|C.LIBUSB_RECIPIENT_INTERFACE,
		C.uint8_t(GetCur), C.uint16_t(VSProbeControl)<<8, C.uint16_t(StreamInterface),
		(*C.uchar)(unsafe.Pointer(&wire[0])), C.uint16_t(len(wire)), C.uint(Timeout)); ret < 0 {
		return nil, errors.Errorf("failed to GET_CUR PROBE_CONTROL: %d", ret)
	}
	if ret := C.libusb_control_transfer(devh,
		C.LIBUSB_REQUEST_TYPE_CLASS|C.LIBUSB_RECIPIENT_INTERFACE,
		C.uint8_t(SetCur), C.uint16_t(VSCommitControl)<<8, C.uint16_t(StreamInterface),
		(*C.uchar)(unsafe.Pointer(&wire[0])), C.uint16_t(len(wire)), C.uint(Timeout)); ret < 0 {
		return nil, errors.Errorf("failed to SET_CUR COMMIT_CONTROL: %d", ret)
	}

	if ret := C.libusb_set_interface_alt_setting(devh, C.int(StreamInterface), C.int(params.AltSetting)); ret < 0 {
		return nil, errors.Errorf("failed to set interface alt setting: %d", ret)
	}

	numTransfers, packetsPerTransfer := NumPacketsPerTransfer(params.FrameSize(), params.PacketSize)

	t := &Transport{devh: devh, stream: stream, log: log}
	t.transfers = make([]*C.struct_libusb_transfer, numTransfers)

	for i := 0; i < numTransfers; i++ {
		xfer := C.libusb_alloc_transfer(C.int(packetsPerTransfer))
		if xfer == nil {
			return nil, errors.New("failed to allocate isochronous transfer")
		}

		transferSize := packetsPerTransfer * params.PacketSize
		buf := C.malloc(C.size_t(transferSize))
		xfer.flags |= C.LIBUSB_TRANSFER_FREE_BUFFER

		C.libusb_fill_iso_transfer(xfer, devh, C.uchar(IsoEndpointAddress),
			(*C.uchar)(buf), C.int(transferSize), C.int(packetsPerTransfer),
			nil, nil, C.uint(Timeout))
		C.install_iso_callback(xfer)

		transportRegistryMu.Lock()
		transportRegistry[unsafe.Pointer(xfer)] = t
		transportRegistryMu.Unlock()

		C.libusb_set_iso_packet_lengths(xfer, C.uint(params.PacketSize))
		t.transfers[i] = xfer
	}

	return t, nil
}

// Start submits every isochronous transfer, beginning the video stream.
func (t *Transport) Start() error {
	t.videoRunning = true
	for i, xfer := range t.transfers {
		if ret := C.libusb_submit_transfer(xfer); ret < 0 {
			t.activeTransfers = i
			t.videoRunning = false
			return errors.Errorf("failed to submit iso transfer %d: %d", i, ret)
		}
	}
	t.activeTransfers = len(t.transfers)
	return nil
}

// Stop requests alt-setting 0 then cooperatively drains outstanding
// transfers, matching the original's stop sequence: the caller must keep
// pumping libusb events (via the tracker's event thread) until this
// returns.
func (t *Transport) Stop(waitForDrain func()) error {
	if ret := C.libusb_set_interface_alt_setting(t.devh, C.int(StreamInterface), 0); ret < 0 {
		return errors.Errorf("failed to clear alt setting on stop: %d", ret)
	}
	t.videoRunning = false
	waitForDrain()
	return nil
}

// ActiveTransfers returns the number of transfers not yet retired.
func (t *Transport) ActiveTransfers() int { return t.activeTransfers }

// Close frees every allocated transfer handle. Must only be called once
// ActiveTransfers() == 0.
func (t *Transport) Close() {
	for _, xfer := range t.transfers {
		transportRegistryMu.Lock()
		delete(transportRegistry, unsafe.Pointer(xfer))
		transportRegistryMu.Unlock()
		C.libusb_free_transfer(xfer)
	}
	t.transfers = nil
}

//export goIsoTransferCallback
func goIsoTransferCallback(cTransfer *C.struct_libusb_transfer) {
	transportRegistryMu.Lock()
	t := transportRegistry[unsafe.Pointer(cTransfer)]
	transportRegistryMu.Unlock()
	if t == nil {
		return
	}

	if cTransfer.status != C.LIBUSB_TRANSFER_COMPLETED {
		if cTransfer.status != C.LIBUSB_TRANSFER_CANCELLED && t.log != nil {
			t.log.Warnf("uvc: transfer error: %d", cTransfer.status)
		}
		t.activeTransfers--
		return
	}

	if !t.videoRunning {
		t.activeTransfers--
		return
	}

	numPackets := int(cTransfer.num_iso_packets)
	packetDescs := (*[1 << 20]C.struct_libusb_iso_packet_descriptor)(unsafe.Pointer(&cTransfer.iso_packet_desc))[:numPackets:numPackets]
	for i := 0; i < numPackets; i++ {
		buf := C.libusb_get_iso_packet_buffer_simple(cTransfer, C.uint(i))
		payload := C.GoBytes(unsafe.Pointer(buf), C.int(packetDescs[i].actual_length))
		t.stream.ProcessPayload(payload)
	}

	attempt := 0
	for ; attempt < resubmitRetries; attempt++ {
		if ret := C.libusb_submit_transfer(cTransfer); ret >= 0 {
			break
		}
		time.Sleep(resubmitSleep)
	}
	if attempt == resubmitRetries {
		if t.log != nil {
			t.log.Warnf("uvc: failed to resubmit after %d attempts", resubmitRetries)
		}
		t.activeTransfers--
	} else if attempt > 0 && t.log != nil {
		t.log.Warnf("uvc: resubmitted transfer after %d attempts", attempt+1)
	}
}

//go:build cgo

package tracker

/*
#cgo LDFLAGS: -lusb-1.0
#include <libusb-1.0/libusb.h>
*/
import "C"

import (
	"context"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/RSDNTWK/OpenHMD/uvc"
)

// sensorSerialMaxLen matches RIFT_SENSOR_SERIAL_LEN's string-descriptor read
// buffer size in the original driver.
const sensorSerialMaxLen = 32

// usbContext owns the libusb context backing device enumeration and the
// background event-pump goroutine that keeps isochronous transfers flowing.
type usbContext struct {
	ctx *C.struct_libusb_context
}

// OpenUSB initializes libusb, enumerates attached Rift sensor cameras,
// registers one tracker.Sensor plus a running uvc.Transport per match, and
// starts the background event-pump goroutine, matching rift_tracker_new's
// enumeration loop and its uvc_handle_events thread.
func (t *Tracker) OpenUSB() error {
	var ctx *C.struct_libusb_context
	if ret := C.libusb_init(&ctx); ret < 0 {
		return errors.Errorf("tracker: libusb_init failed: %d", ret)
	}
	t.usb = &usbContext{ctx: ctx}

	var devs **C.struct_libusb_device
	n := C.libusb_get_device_list(ctx, &devs)
	if n < 0 {
		return errors.Errorf("tracker: libusb_get_device_list failed: %d", n)
	}
	defer C.libusb_free_device_list(devs, 1)

	devSlice := unsafe.Slice(devs, int(n))
	for _, dev := range devSlice {
		if err := t.tryOpenSensor(dev); err != nil && t.log != nil {
			t.log.Debugw("skipping USB device", "error", err)
		}
	}

	t.usbCloser = t.closeUSB
	t.goWorker(t.pumpUSBEvents)
	return nil
}

func (t *Tracker) tryOpenSensor(dev *C.struct_libusb_device) error {
	var desc C.struct_libusb_device_descriptor
	if ret := C.libusb_get_device_descriptor(dev, &desc); ret < 0 {
		return errors.Errorf("could not read device descriptor: %d", ret)
	}
	if uint16(desc.idVendor) != VendorID {
		return nil
	}
	pid := uint16(desc.idProduct)
	if pid != CV1PID && pid != DK2PID {
		return nil
	}

	var devh *C.struct_libusb_device_handle
	if ret := C.libusb_open(dev, &devh); ret < 0 {
		return errors.Errorf("failed to open Rift sensor device: %d", ret)
	}

	serial := "UNKNOWN"
	if desc.iSerialNumber != 0 {
		buf := make([]byte, sensorSerialMaxLen+1)
		n := C.libusb_get_string_descriptor_ascii(devh, C.uint8_t(desc.iSerialNumber),
			(*C.uchar)(unsafe.Pointer(&buf[0])), C.int(sensorSerialMaxLen))
		if n < 0 {
			if t.log != nil {
				t.log.Warnw("failed to read Rift sensor serial number")
			}
		} else {
			serial = string(buf[:n])
		}
	}

	sensor, err := t.AddSensor(serial)
	if err != nil {
		C.libusb_close(devh)
		return err
	}

	profile := uvc.ProfileCV1
	if pid == DK2PID {
		profile = uvc.ProfileDK2
	}
	params := uvc.ParamsFor(profile)
	pool := uvc.NewFramePool(2, params.FrameSize())
	stream := uvc.NewStream(pool, params, func(f *uvc.Frame) {
		// The vision pipeline consumes frames from here; release once
		// decoded pose observations have been extracted.
		f.Release()
	}, t.log)

	transport, err := uvc.NewTransport(devh, params, stream, t.log)
	if err != nil {
		C.libusb_close(devh)
		return errors.Wrapf(err, "negotiating UVC stream for sensor %s", serial)
	}
	if err := transport.Start(); err != nil {
		C.libusb_close(devh)
		return errors.Wrapf(err, "starting UVC stream for sensor %s", serial)
	}

	t.mu.Lock()
	t.transports = append(t.transports, transport)
	t.mu.Unlock()

	if t.log != nil {
		t.log.Infow("opened Rift sensor camera", "serial", sensor.Serial, "id", sensor.ID)
	}
	return nil
}

// pumpUSBEvents is the tracker's USB event-pump goroutine: it drives
// libusb_handle_events_timeout_completed on a 100ms cadence until the
// tracker is closed, matching uvc_handle_events.
func (t *Tracker) pumpUSBEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tv := C.struct_timeval{tv_sec: 0, tv_usec: 100000}
		completed := C.int(0)
		uc := t.usb.(*usbContext)
		C.libusb_handle_events_timeout_completed(uc.ctx, &tv, &completed)
	}
}

// closeUSB tears down every open transport and the libusb context. Called
// from Close before the event-pump goroutine is canceled, since draining
// transfers needs events to keep being pumped.
func (t *Tracker) closeUSB() {
	if t.usb == nil {
		return
	}
	uc := t.usb.(*usbContext)
	for _, tr := range t.transports {
		drain := func() {
			for tr.ActiveTransfers() > 0 {
				time.Sleep(time.Millisecond)
			}
		}
		if err := tr.Stop(drain); err != nil && t.log != nil {
			t.log.Warnw("failed to stop UVC transport", "error", err)
		}
		tr.Close()
	}
	t.transports = nil
	C.libusb_exit(uc.ctx)
	t.usb = nil
}

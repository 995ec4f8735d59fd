package input

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux uinput ABI constants (linux/uinput.h, linux/input-event-codes.h).
// bendahl/go-uinput covers keyboard/mouse/touchpad only; gamepads need
// the full absolute-axis setup the Rust reference uses (evdev's
// VirtualDeviceBuilder), so the gamepad device is built directly against
// the kernel uinput ABI.
const (
	uiSetEvBit  = 0x40045564
	uiSetKeyBit = 0x40045565
	uiSetRelBit = 0x40045566
	uiSetAbsBit = 0x40045567
	uiDevCreate = 0x5501
	uiDevDestroy = 0x5502

	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	synReport = 0

	absX  = 0x00
	absY  = 0x01
	absZ  = 0x02
	absRX = 0x03
	absRY = 0x04
	absRZ = 0x05
	absHat0X = 0x10
	absHat0Y = 0x11

	btnSouth  = 0x130
	btnEast   = 0x131
	btnNorth  = 0x133
	btnWest   = 0x134
	btnTL     = 0x136
	btnTR     = 0x137
	btnSelect = 0x13a
	btnStart  = 0x13b
	btnMode   = 0x13c
	btnThumbL = 0x13d
	btnThumbR = 0x13e
	btnDpadUp    = 0x220
	btnDpadDown  = 0x221
	btnDpadLeft  = 0x222
	btnDpadRight = 0x223
	btnTouch     = 0x14a

	busUSB = 0x03

	uinputMaxNameSize = 80
)

// uinputUserDev mirrors struct uinput_user_dev from linux/uinput.h (the
// legacy, still-supported ABI; simpler than UI_DEV_SETUP+UI_ABS_SETUP for
// our fixed, known-at-compile-time axis set).
type uinputUserDev struct {
	Name       [uinputMaxNameSize]byte
	ID         inputID
	EffectsMax uint32
	AbsMax     [64]int32
	AbsMin     [64]int32
	AbsFuzz    [64]int32
	AbsFlat    [64]int32
}

type inputID struct {
	BusType uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// uinputDevice is a raw /dev/uinput-backed virtual device.
type uinputDevice struct {
	f *os.File
}

func openUinputDevice(name string, id inputID, keys []uint16, absAxes []absAxisSetup, relAxes []uint16) (*uinputDevice, error) {
	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("input: open /dev/uinput: %w", err)
	}

	if err := ioctl(f, uiSetEvBit, evKey); err != nil {
		f.Close()
		return nil, err
	}
	for _, k := range keys {
		if err := ioctl(f, uiSetKeyBit, uintptr(k)); err != nil {
			f.Close()
			return nil, err
		}
	}
	if len(relAxes) > 0 {
		if err := ioctl(f, uiSetEvBit, evRel); err != nil {
			f.Close()
			return nil, err
		}
		for _, a := range relAxes {
			if err := ioctl(f, uiSetRelBit, uintptr(a)); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	if len(absAxes) > 0 {
		if err := ioctl(f, uiSetEvBit, evAbs); err != nil {
			f.Close()
			return nil, err
		}
		for _, a := range absAxes {
			if err := ioctl(f, uiSetAbsBit, uintptr(a.code)); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	dev := uinputUserDev{ID: id}
	copy(dev.Name[:], name)
	for _, a := range absAxes {
		dev.AbsMin[a.code] = a.min
		dev.AbsMax[a.code] = a.max
	}

	if err := writeStruct(f, &dev); err != nil {
		f.Close()
		return nil, fmt.Errorf("input: write uinput_user_dev: %w", err)
	}
	if err := ioctl(f, uiDevCreate, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("input: UI_DEV_CREATE: %w", err)
	}

	return &uinputDevice{f: f}, nil
}

type absAxisSetup struct {
	code     uint16
	min, max int32
}

func (d *uinputDevice) emit(typ, code uint16, value int32) error {
	ev := inputEvent{Type: typ, Code: code, Value: value}
	return writeStruct(d.f, &ev)
}

func (d *uinputDevice) syncReport() error {
	return d.emit(evSyn, synReport, 0)
}

func (d *uinputDevice) close() {
	_ = ioctl(d.f, uiDevDestroy, 0)
	_ = d.f.Close()
}

func ioctl(f *os.File, request uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), request, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// writeStruct writes the raw memory layout of a uinput ABI struct to f,
// matching what the kernel expects from a write(2) to /dev/uinput.
func writeStruct(f *os.File, v any) error {
	switch p := v.(type) {
	case *uinputUserDev:
		b := unsafe.Slice((*byte)(unsafe.Pointer(p)), unsafe.Sizeof(*p))
		_, err := f.Write(b)
		return err
	case *inputEvent:
		b := unsafe.Slice((*byte)(unsafe.Pointer(p)), unsafe.Sizeof(*p))
		_, err := f.Write(b)
		return err
	default:
		panic("input: unsupported pointer type")
	}
}

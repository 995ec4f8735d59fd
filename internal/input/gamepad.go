package input

import (
	"fmt"

	"github.com/riftcast/moonshine/internal/types"
)

// vendorProduct picks a vendor/product ID pair so the guest OS's HID
// driver exposes the button layout matching the reported controller
// kind, per spec §4.6.
func vendorProduct(kind types.ControllerKind) (vendor, product uint16) {
	switch kind {
	case types.ControllerKindXbox:
		return 0x045e, 0x028e // Xbox 360 controller
	case types.ControllerKindPS:
		return 0x054c, 0x0ce6 // DualSense
	case types.ControllerKindSwitch:
		return 0x057e, 0x2009 // Switch Pro controller
	default:
		return 0x045e, 0x028e
	}
}

var gamepadButtons = []struct {
	flag uint32
	key  uint16
}{
	{types.ButtonUp, btnDpadUp},
	{types.ButtonDown, btnDpadDown},
	{types.ButtonLeft, btnDpadLeft},
	{types.ButtonRight, btnDpadRight},
	{types.ButtonStart, btnStart},
	{types.ButtonBack, btnSelect},
	{types.ButtonLeftStick, btnThumbL},
	{types.ButtonRightStick, btnThumbR},
	{types.ButtonLeftBumper, btnTL},
	{types.ButtonRightBumper, btnTR},
	{types.ButtonHome, btnMode},
	{types.ButtonA, btnSouth},
	{types.ButtonB, btnEast},
	{types.ButtonX, btnWest},
	{types.ButtonY, btnNorth},
	{types.ButtonTouchpad, btnTouch},
}

// Gamepad is one virtual-controller slot. A slot is re-typed (device
// destroyed and recreated) whenever a ControllerArrival reports a
// different ControllerKind for the same index.
type Gamepad struct {
	dev          *uinputDevice
	kind         types.ControllerKind
	capabilities uint16
	buttonState  uint32
}

func newGamepad(index uint8, kind types.ControllerKind) (*Gamepad, error) {
	keys := make([]uint16, 0, len(gamepadButtons))
	for _, b := range gamepadButtons {
		keys = append(keys, b.key)
	}

	absAxes := []absAxisSetup{
		{code: absHat0X, min: -1, max: 1},
		{code: absHat0Y, min: -1, max: 1},
		{code: absX, min: -32768, max: 32767},
		{code: absY, min: -32768, max: 32767},
		{code: absRX, min: -32768, max: 32767},
		{code: absRY, min: -32768, max: 32767},
		{code: absZ, min: 0, max: 255},
		{code: absRZ, min: 0, max: 255},
	}

	vendor, product := vendorProduct(kind)
	dev, err := openUinputDevice(
		fmt.Sprintf("Moonshine Gamepad %d", index),
		inputID{BusType: busUSB, Vendor: vendor, Product: product, Version: 0x110},
		keys, absAxes, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("input: create gamepad %d: %w", index, err)
	}

	return &Gamepad{dev: dev, kind: kind}, nil
}

func (g *Gamepad) close() {
	if g.dev != nil {
		g.dev.close()
	}
}

// Update applies a ControllerState report: button transitions, stick
// axes, and analog triggers, per spec §4.6.
func (g *Gamepad) Update(msg types.ControlMessage) error {
	for _, b := range gamepadButtons {
		wasDown := g.buttonState&b.flag != 0
		isDown := msg.ButtonFlags&b.flag != 0
		if wasDown != isDown {
			if err := g.dev.emit(evKey, b.key, boolToInt32(isDown)); err != nil {
				return err
			}
		}
	}
	g.buttonState = msg.ButtonFlags

	if err := g.dev.emit(evAbs, absX, int32(msg.LeftStickX)); err != nil {
		return err
	}
	if err := g.dev.emit(evAbs, absY, -int32(msg.LeftStickY)); err != nil {
		return err
	}
	if err := g.dev.emit(evAbs, absRX, int32(msg.RightStickX)); err != nil {
		return err
	}
	if err := g.dev.emit(evAbs, absRY, -int32(msg.RightStickY)); err != nil {
		return err
	}
	if err := g.dev.emit(evAbs, absZ, int32(msg.LeftTrigger)); err != nil {
		return err
	}
	if err := g.dev.emit(evAbs, absRZ, int32(msg.RightTrigger)); err != nil {
		return err
	}

	return g.dev.syncReport()
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

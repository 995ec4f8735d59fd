package control

import (
	"encoding/binary"
	"math"

	"github.com/riftcast/moonshine/internal/protocol"
	"github.com/riftcast/moonshine/internal/types"
)

// decodeInput parses one InputData sub-packet body (the bytes following
// the 2-byte message-type tag) into a tagged ControlMessage, per the
// magic numbers bit-exact with Moonlight (protocol package).
func decodeInput(body []byte) (types.ControlMessage, bool) {
	if len(body) < 4 {
		return types.ControlMessage{}, false
	}
	magic := binary.BigEndian.Uint32(body[0:4])
	rest := body[4:]

	switch magic {
	case protocol.KeyboardMagicDown, protocol.KeyboardMagicUp:
		if len(rest) < 5 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type:      types.MsgInputKeyboard,
			KeyDown:   magic == protocol.KeyboardMagicDown,
			KeyCode:   binary.LittleEndian.Uint16(rest[1:3]),
			Modifiers: rest[3],
		}, true

	case protocol.MouseMoveRelMagic:
		if len(rest) < 4 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type:   types.MsgInputMouseMoveRel,
			DeltaX: int16(binary.BigEndian.Uint16(rest[0:2])),
			DeltaY: int16(binary.BigEndian.Uint16(rest[2:4])),
		}, true

	case protocol.MouseMoveAbsMagic:
		if len(rest) < 8 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type: types.MsgInputMouseMoveAbs,
			AbsX: binary.BigEndian.Uint16(rest[0:2]),
			AbsY: binary.BigEndian.Uint16(rest[2:4]),
		}, true

	case protocol.MouseButtonDownMagic, protocol.MouseButtonUpMagic:
		if len(rest) < 1 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type:        types.MsgInputMouseButton,
			MouseDown:   magic == protocol.MouseButtonDownMagic,
			MouseButton: rest[0],
		}, true

	case protocol.ScrollMagic:
		if len(rest) < 2 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type:         types.MsgInputMouseScroll,
			ScrollAmount: int16(binary.BigEndian.Uint16(rest[0:2])),
		}, true

	case protocol.HScrollMagic:
		if len(rest) < 2 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type:          types.MsgInputMouseScroll,
			HScrollAmount: int16(binary.BigEndian.Uint16(rest[0:2])),
		}, true

	case protocol.MultiControllerMagic:
		return decodeControllerState(rest)

	case protocol.ControllerArrivalMagic:
		if len(rest) < 4 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type:             types.MsgInputControllerArrival,
			ControllerNumber: rest[0],
			ControllerKind:   types.ControllerKind(rest[1]),
			Capabilities:     binary.LittleEndian.Uint16(rest[2:4]),
		}, true

	case protocol.ControllerTouchMagic:
		if len(rest) < 18 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type:             types.MsgInputControllerTouch,
			ControllerNumber: rest[0],
			TouchEvent:       types.TouchEventType(rest[1]),
			PointerID:        binary.LittleEndian.Uint32(rest[2:6]),
			TouchX:           math.Float32frombits(binary.LittleEndian.Uint32(rest[6:10])),
			TouchY:           math.Float32frombits(binary.LittleEndian.Uint32(rest[10:14])),
			Pressure:         math.Float32frombits(binary.LittleEndian.Uint32(rest[14:18])),
		}, true

	case protocol.ControllerMotionMagic:
		if len(rest) < 14 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type:             types.MsgInputControllerMotion,
			ControllerNumber: rest[0],
			MotionType:       types.MotionType(rest[1]),
			MotionX:          math.Float32frombits(binary.LittleEndian.Uint32(rest[2:6])),
			MotionY:          math.Float32frombits(binary.LittleEndian.Uint32(rest[6:10])),
			MotionZ:          math.Float32frombits(binary.LittleEndian.Uint32(rest[10:14])),
		}, true

	case protocol.ControllerBatteryMagic:
		if len(rest) < 2 {
			return types.ControlMessage{}, false
		}
		return types.ControlMessage{
			Type:              types.MsgInputControllerBattery,
			ControllerNumber:  rest[0],
			BatteryState:      types.BatteryState(rest[1]),
			BatteryPercentage: atOrZero(rest, 2),
		}, true

	case protocol.UTF8TextMagic:
		return types.ControlMessage{Type: types.MsgInputText, Text: string(rest)}, true

	default:
		return types.ControlMessage{}, false
	}
}

// decodeControllerState parses the full multi-controller gamepad report.
func decodeControllerState(rest []byte) (types.ControlMessage, bool) {
	if len(rest) < 18 {
		return types.ControlMessage{}, false
	}
	return types.ControlMessage{
		Type:             types.MsgInputControllerState,
		ControllerNumber: rest[0],
		ButtonFlags:      binary.LittleEndian.Uint32(rest[2:6]),
		LeftTrigger:      rest[6],
		RightTrigger:     rest[7],
		LeftStickX:       int16(binary.LittleEndian.Uint16(rest[8:10])),
		LeftStickY:       int16(binary.LittleEndian.Uint16(rest[10:12])),
		RightStickX:      int16(binary.LittleEndian.Uint16(rest[12:14])),
		RightStickY:      int16(binary.LittleEndian.Uint16(rest[14:16])),
	}, true
}

func atOrZero(b []byte, i int) uint8 {
	if i < len(b) {
		return b[i]
	}
	return 0
}

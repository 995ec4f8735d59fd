// Package input implements the input injector (C7): a pool of virtual
// devices (one keyboard, one mouse, up to four gamepads) fed from
// decoded control messages.
package input

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/riftcast/moonshine/internal/types"
)

const maxGamepads = 4

// Pool owns the host's virtual input devices for one session.
type Pool struct {
	log zerolog.Logger

	mu       sync.Mutex
	keyboard *Keyboard
	mouse    *Mouse
	gamepads [maxGamepads]*Gamepad
}

// New allocates the keyboard and mouse devices immediately; gamepads are
// allocated lazily on the first ControllerArrival for each slot.
func New(log zerolog.Logger, width, height int) (*Pool, error) {
	kb, err := newKeyboard()
	if err != nil {
		return nil, fmt.Errorf("input: create keyboard: %w", err)
	}
	ms, err := newMouse(width, height)
	if err != nil {
		kb.close()
		return nil, fmt.Errorf("input: create mouse: %w", err)
	}

	return &Pool{
		log:      log.With().Str("component", "input").Logger(),
		keyboard: kb,
		mouse:    ms,
	}, nil
}

// Close releases every allocated virtual device.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.keyboard.close()
	p.mouse.close()
	for i, g := range p.gamepads {
		if g != nil {
			g.close()
			p.gamepads[i] = nil
		}
	}
}

// Dispatch routes one decoded ControlMessage to the appropriate virtual
// device. Errors are logged, not propagated: a single malformed or
// unsupported input event must never bring down the input pipeline.
func (p *Pool) Dispatch(msg types.ControlMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	switch msg.Type {
	case types.MsgInputKeyboard:
		err = p.keyboard.Update(msg)
	case types.MsgInputMouseMoveRel:
		err = p.mouse.UpdateMove(msg)
	case types.MsgInputMouseMoveAbs:
		err = p.mouse.UpdateMoveAbs(msg)
	case types.MsgInputMouseButton:
		err = p.mouse.UpdateButton(msg)
	case types.MsgInputMouseScroll:
		err = p.mouse.UpdateScroll(msg)
	case types.MsgInputControllerArrival:
		err = p.arriveController(msg)
	case types.MsgInputControllerState:
		err = p.updateController(msg)
	case types.MsgInputControllerTouch, types.MsgInputControllerMotion, types.MsgInputControllerBattery:
		// Touch/motion/battery telemetry has no virtual-device analogue
		// on a plain evdev gamepad; acknowledged but not forwarded.
	case types.MsgInputText:
		err = p.keyboard.typeText(msg.Text)
	default:
		return
	}

	if err != nil {
		p.log.Warn().Err(err).Int("type", int(msg.Type)).Msg("input dispatch failed")
	}
}

// arriveController allocates or re-types the gamepad slot named by
// ControllerNumber to match the reported ControllerKind.
func (p *Pool) arriveController(msg types.ControlMessage) error {
	if int(msg.ControllerNumber) >= maxGamepads {
		return fmt.Errorf("input: controller slot %d out of range", msg.ControllerNumber)
	}

	slot := int(msg.ControllerNumber)
	if existing := p.gamepads[slot]; existing != nil {
		if existing.kind == msg.ControllerKind {
			return nil
		}
		existing.close()
		p.gamepads[slot] = nil
	}

	gp, err := newGamepad(msg.ControllerNumber, msg.ControllerKind)
	if err != nil {
		return err
	}
	gp.capabilities = msg.Capabilities
	p.gamepads[slot] = gp
	return nil
}

// updateController applies a ControllerState report to its slot; a
// report for a slot with no prior arrival allocates a generic gamepad.
func (p *Pool) updateController(msg types.ControlMessage) error {
	if int(msg.ControllerNumber) >= maxGamepads {
		return fmt.Errorf("input: controller slot %d out of range", msg.ControllerNumber)
	}

	gp := p.gamepads[msg.ControllerNumber]
	if gp == nil {
		var err error
		gp, err = newGamepad(msg.ControllerNumber, types.ControllerKindGeneric)
		if err != nil {
			return err
		}
		p.gamepads[msg.ControllerNumber] = gp
	}

	return gp.Update(msg)
}

// RemoveController releases a gamepad slot. No decoded control message
// maps to it and nothing in this repository calls it; slots are
// otherwise released only by Close or by re-typing on arrival.
func (p *Pool) RemoveController(index uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(index) >= maxGamepads {
		return
	}
	if gp := p.gamepads[index]; gp != nil {
		gp.close()
		p.gamepads[index] = nil
	}
}

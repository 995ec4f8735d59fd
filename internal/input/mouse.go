package input

import (
	"github.com/bendahl/go-uinput"

	"github.com/riftcast/moonshine/internal/types"
)

// Mouse wraps a single virtual mouse device. Relative deltas are
// forwarded directly; absolute coordinates are normalized from the
// client's 16-bit fixed-point space into host pixel space before
// forwarding, since go-uinput's mouse device only emits relative moves.
type Mouse struct {
	dev           uinput.Mouse
	width, height int
	lastAbsX      int
	lastAbsY      int
	haveLastAbs   bool
}

func newMouse(width, height int) (*Mouse, error) {
	dev, err := uinput.CreateMouse("/dev/uinput", []byte("Moonshine Mouse"))
	if err != nil {
		return nil, err
	}
	return &Mouse{dev: dev, width: width, height: height}, nil
}

func (m *Mouse) close() {
	if m.dev != nil {
		_ = m.dev.Close()
	}
}

// UpdateMove applies a relative mouse-move delta.
func (m *Mouse) UpdateMove(msg types.ControlMessage) error {
	if msg.DeltaX != 0 {
		if err := m.moveX(int32(msg.DeltaX)); err != nil {
			return err
		}
	}
	if msg.DeltaY != 0 {
		if err := m.moveY(int32(msg.DeltaY)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMoveAbs normalizes a 16-bit fixed-point absolute position into
// host pixel space and forwards it as the relative delta from the
// previous absolute position. The first absolute position only sets that
// reference point and moves nothing.
func (m *Mouse) UpdateMoveAbs(msg types.ControlMessage) error {
	x := int(msg.AbsX) * m.width / 0xFFFF
	y := int(msg.AbsY) * m.height / 0xFFFF

	if !m.haveLastAbs {
		m.lastAbsX, m.lastAbsY, m.haveLastAbs = x, y, true
		return nil
	}

	dx, dy := x-m.lastAbsX, y-m.lastAbsY
	m.lastAbsX, m.lastAbsY = x, y

	if dx != 0 {
		if err := m.moveX(int32(dx)); err != nil {
			return err
		}
	}
	if dy != 0 {
		return m.moveY(int32(dy))
	}
	return nil
}

func (m *Mouse) moveX(dx int32) error {
	if dx >= 0 {
		return m.dev.MoveRight(dx)
	}
	return m.dev.MoveLeft(-dx)
}

func (m *Mouse) moveY(dy int32) error {
	if dy >= 0 {
		return m.dev.MoveDown(dy)
	}
	return m.dev.MoveUp(-dy)
}

// UpdateButton applies a mouse button press/release.
func (m *Mouse) UpdateButton(msg types.ControlMessage) error {
	switch msg.MouseButton {
	case 1:
		if msg.MouseDown {
			return m.dev.LeftPress()
		}
		return m.dev.LeftRelease()
	case 2:
		if msg.MouseDown {
			return m.dev.RightPress()
		}
		return m.dev.RightRelease()
	case 3:
		if msg.MouseDown {
			return m.dev.MiddlePress()
		}
		return m.dev.MiddleRelease()
	default:
		return nil
	}
}

// UpdateScroll applies a vertical scroll event.
func (m *Mouse) UpdateScroll(msg types.ControlMessage) error {
	return m.dev.Wheel(false, int32(msg.ScrollAmount))
}

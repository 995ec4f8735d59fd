package input

import (
	"strings"

	"github.com/bendahl/go-uinput"

	"github.com/riftcast/moonshine/internal/types"
)

// Keyboard wraps a single virtual keyboard device. Key codes arrive
// already translated to Linux input-event-codes by the client, so no
// further keymap translation is needed here.
type Keyboard struct {
	dev uinput.Keyboard
}

func newKeyboard() (*Keyboard, error) {
	dev, err := uinput.CreateKeyboard("/dev/uinput", []byte("Moonshine Keyboard"))
	if err != nil {
		return nil, err
	}
	return &Keyboard{dev: dev}, nil
}

func (k *Keyboard) close() {
	if k.dev != nil {
		_ = k.dev.Close()
	}
}

// Update applies one keyboard press/release event.
func (k *Keyboard) Update(msg types.ControlMessage) error {
	code := int(msg.KeyCode)
	if msg.KeyDown {
		return k.dev.KeyDown(code)
	}
	return k.dev.KeyUp(code)
}

// typeText sends a UTF-8 text block (UTF8Text control message) as a
// sequence of key presses; unmapped runes are skipped rather than
// failing the whole block.
func (k *Keyboard) typeText(text string) error {
	for _, r := range text {
		code, ok := runeToKeyCode(r)
		if !ok {
			continue
		}
		if err := k.dev.KeyPress(code); err != nil {
			return err
		}
	}
	return nil
}

// runeToKeyCode maps the common ASCII letters/digits to their Linux
// input-event-codes KEY_* values; anything outside this range is left
// to the client's own keyboard-event path.
func runeToKeyCode(r rune) (int, bool) {
	const (
		key1 = 2
		key0 = 11
	)
	if r >= 'A' && r <= 'Z' {
		r += 'a' - 'A'
	}
	// Letter codes follow the QWERTY rows: KEY_Q=16, KEY_A=30, KEY_Z=44.
	for _, row := range []struct {
		base int
		keys string
	}{{16, "qwertyuiop"}, {30, "asdfghjkl"}, {44, "zxcvbnm"}} {
		if i := strings.IndexRune(row.keys, r); i >= 0 {
			return row.base + i, true
		}
	}
	switch {
	case r >= '1' && r <= '9':
		return key1 + int(r-'1'), true
	case r == '0':
		return key0, true
	case r == ' ':
		return 57, true // KEY_SPACE
	default:
		return 0, false
	}
}

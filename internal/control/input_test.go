package control

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftcast/moonshine/internal/protocol"
	"github.com/riftcast/moonshine/internal/types"
)

func magicBytes(magic uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, magic)
	return b
}

func TestDecodeInputKeyboard(t *testing.T) {
	body := append(magicBytes(protocol.KeyboardMagicDown), 0x00, 0x41, 0x00, 0x02, 0x00)
	msg, ok := decodeInput(body)
	require.True(t, ok)
	assert.Equal(t, types.MsgInputKeyboard, msg.Type)
	assert.True(t, msg.KeyDown)
	assert.Equal(t, uint16(0x0241), msg.KeyCode)
	assert.Equal(t, uint8(0x02), msg.Modifiers)
}

func TestDecodeInputMouseMoveRel(t *testing.T) {
	body := append(magicBytes(protocol.MouseMoveRelMagic), 0x00, 0x05, 0xFF, 0xFB)
	msg, ok := decodeInput(body)
	require.True(t, ok)
	assert.Equal(t, types.MsgInputMouseMoveRel, msg.Type)
	assert.Equal(t, int16(5), msg.DeltaX)
	assert.Equal(t, int16(-5), msg.DeltaY)
}

func TestDecodeInputMouseButton(t *testing.T) {
	body := append(magicBytes(protocol.MouseButtonDownMagic), 0x01)
	msg, ok := decodeInput(body)
	require.True(t, ok)
	assert.Equal(t, types.MsgInputMouseButton, msg.Type)
	assert.True(t, msg.MouseDown)
	assert.Equal(t, uint8(1), msg.MouseButton)
}

func TestDecodeInputUTF8Text(t *testing.T) {
	body := append(magicBytes(protocol.UTF8TextMagic), []byte("hi")...)
	msg, ok := decodeInput(body)
	require.True(t, ok)
	assert.Equal(t, types.MsgInputText, msg.Type)
	assert.Equal(t, "hi", msg.Text)
}

func TestDecodeInputTooShortRejected(t *testing.T) {
	_, ok := decodeInput([]byte{0x00, 0x00, 0x00})
	assert.False(t, ok)
}

func TestDecodeInputUnknownMagicRejected(t *testing.T) {
	body := magicBytes(0xDEADBEEF)
	_, ok := decodeInput(body)
	assert.False(t, ok)
}

func TestDecodeControllerState(t *testing.T) {
	rest := make([]byte, 18)
	rest[0] = 2
	binary.LittleEndian.PutUint32(rest[2:6], 0x000000FF)
	rest[6] = 10
	rest[7] = 20
	binary.LittleEndian.PutUint16(rest[8:10], uint16(int16(-100)))

	msg, ok := decodeControllerState(rest)
	require.True(t, ok)
	assert.Equal(t, types.MsgInputControllerState, msg.Type)
	assert.Equal(t, uint8(2), msg.ControllerNumber)
	assert.Equal(t, uint32(0xFF), msg.ButtonFlags)
	assert.Equal(t, uint8(10), msg.LeftTrigger)
	assert.Equal(t, uint8(20), msg.RightTrigger)
	assert.Equal(t, int16(-100), msg.LeftStickX)
}

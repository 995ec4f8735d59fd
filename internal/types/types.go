// Package types holds the data model shared across the streaming session
// pipelines: session parameters, the control-message variant set, and the
// Moonlight protocol enums/constants that several components reference
// by bit-exact value.
package types

import "time"

// Codec identifies the negotiated video codec.
type Codec int

const (
	CodecH264 Codec = iota
	CodecHEVC
)

// ShutdownReason is a first-writer-wins, immutable-once-set tag describing
// why a session ended.
type ShutdownReason int

const (
	ShutdownNone ShutdownReason = iota
	ShutdownClientRequested
	ShutdownClientTimeout
	ShutdownVideoPipelineFailed
	ShutdownAudioPipelineFailed
	ShutdownControlPipelineFailed
	ShutdownInputPipelineFailed
	ShutdownHostRequested
)

func (r ShutdownReason) String() string {
	switch r {
	case ShutdownClientRequested:
		return "client_requested"
	case ShutdownClientTimeout:
		return "client_timeout"
	case ShutdownVideoPipelineFailed:
		return "video_pipeline_failed"
	case ShutdownAudioPipelineFailed:
		return "audio_pipeline_failed"
	case ShutdownControlPipelineFailed:
		return "control_pipeline_failed"
	case ShutdownInputPipelineFailed:
		return "input_pipeline_failed"
	case ShutdownHostRequested:
		return "host_requested"
	default:
		return "none"
	}
}

// ControllerKind identifies the reported gamepad vendor family, used to
// pick the virtual device's vendor/product ID so the host exposes the
// correct button layout to the guest OS.
type ControllerKind uint8

const (
	ControllerKindUnknown ControllerKind = iota
	ControllerKindXbox
	ControllerKindPS
	ControllerKindSwitch
	ControllerKindGeneric
)

// Controller capability flags (bit-exact with Moonlight/Sunshine).
const (
	CapAnalogTriggers = 0x01
	CapRumble         = 0x02
	CapTriggerRumble  = 0x04
	CapTouchpad       = 0x08
	CapAccelerometer  = 0x10
	CapGyro           = 0x20
	CapBattery        = 0x40
	CapRGB            = 0x80
)

// Button flags (bit-exact with Moonlight/Sunshine).
const (
	ButtonUp          = 0x0001
	ButtonDown        = 0x0002
	ButtonLeft        = 0x0004
	ButtonRight       = 0x0008
	ButtonStart       = 0x0010
	ButtonBack        = 0x0020
	ButtonLeftStick   = 0x0040
	ButtonRightStick  = 0x0080
	ButtonLeftBumper  = 0x0100
	ButtonRightBumper = 0x0200
	ButtonHome        = 0x0400
	ButtonA           = 0x1000
	ButtonB           = 0x2000
	ButtonX           = 0x4000
	ButtonY           = 0x8000

	ButtonMisc     = 0x010000
	ButtonPaddle1  = 0x020000
	ButtonPaddle2  = 0x040000
	ButtonPaddle3  = 0x080000
	ButtonPaddle4  = 0x100000
	ButtonTouchpad = 0x200000
)

// MotionType distinguishes accelerometer and gyroscope reports.
type MotionType uint8

const (
	MotionTypeAccelerometer MotionType = 1
	MotionTypeGyro          MotionType = 2
)

// BatteryState mirrors the Moonlight controller battery status byte.
type BatteryState uint8

const (
	BatteryStateUnknown     BatteryState = 0x00
	BatteryStateNotPresent  BatteryState = 0x01
	BatteryStateDischarging BatteryState = 0x02
	BatteryStateCharging    BatteryState = 0x03
	BatteryStateNotCharging BatteryState = 0x04
	BatteryStateFull        BatteryState = 0x05
)

// TouchEventType mirrors the Moonlight/Sunshine touch event byte.
type TouchEventType uint8

const (
	TouchEventHover TouchEventType = iota
	TouchEventDown
	TouchEventUp
	TouchEventMove
	TouchEventCancel
	TouchEventCancelAll
	TouchEventHoverLeave
	TouchEventButtonOnly
)

// SessionParameters is the immutable-for-session-life configuration record
// produced externally by the RTSP/SDP handshake and consumed by the
// session manager to build every pipeline.
type SessionParameters struct {
	SessionID string

	Width, Height, FPS int
	BitrateKbps        int
	Codec              Codec
	PacketSize         int // typ. 1024
	FECPercentage      int // typ. 20

	VideoAESKey   [16]byte
	VideoIVPrefix [8]byte

	AudioEnabled    bool
	ChannelCount    int // = 2
	OpusBitrateKbps int
	AudioAESKey     [16]byte
	AudioIVPrefix   [8]byte

	ControlAESKey   [16]byte
	ControlIVPrefix [8]byte

	ClientAddr        string // host:port of the paired client (learned precisely via PING on each transport)
	ClientVideoPort   int
	ClientAudioPort   int
	ClientControlPort int

	ClientTimeout time.Duration // default 10s

	// OnSessionEnded, if set, is invoked exactly once by the Session
	// Manager on teardown, after every pipeline and virtual device has
	// been released, with the final shutdown reason.
	OnSessionEnded func(ShutdownReason)
}

// SessionKeys carries a renegotiated set of AES-128-GCM keys and IV
// prefixes for the video, audio, and control streams, as produced by
// the (external) RTSP/pairing layer on key rotation.
type SessionKeys struct {
	VideoAESKey   [16]byte
	VideoIVPrefix [8]byte

	AudioAESKey   [16]byte
	AudioIVPrefix [8]byte

	ControlAESKey   [16]byte
	ControlIVPrefix [8]byte
}

// CapturedFrame is a handle to a GPU-resident frame produced by the
// capturer and consumed read-only by the encoder.
type CapturedFrame struct {
	Handle    any // opaque GPU frame handle (e.g. *astiav.Frame)
	Timestamp time.Time
	Sequence  uint64
}

// EncodedPacket is one codec access unit produced by the video encoder.
type EncodedPacket struct {
	Data       []byte
	PTS        int64
	IsIDR      bool
	FrameIndex uint32
}

// VideoShard is one packetized fragment — data or parity — of an encoded
// video frame, ready for AES-GCM sealing and UDP transmission.
type VideoShard struct {
	FrameIndex uint32
	ShardIndex uint16
	NumData    uint16
	NumParity  uint16
	Flags      uint8
	Payload    []byte // plaintext before sealing, ciphertext+tag after
}

// Video shard flag bits.
const (
	ShardFlagSOF uint8 = 1 << 0
	ShardFlagEOF uint8 = 1 << 1
	ShardFlagIDR uint8 = 1 << 2
)

// AudioFrame is one encoded Opus frame with its stream sequence number.
type AudioFrame struct {
	Data     []byte
	Sequence uint32
}

// ControlMessageType tags the variant carried by a decoded ControlMessage.
type ControlMessageType int

const (
	MsgStartA ControlMessageType = iota
	MsgStartB
	MsgInvalidateReferenceFrames
	MsgRequestIdrFrame
	MsgLossStats
	MsgPing
	MsgRumble
	MsgRumbleTriggers
	MsgSetMotionEvent
	MsgSetRgbLed
	MsgTriggerEffect
	MsgHdrMode
	MsgTerminate

	MsgInputKeyboard
	MsgInputMouseMoveAbs
	MsgInputMouseMoveRel
	MsgInputMouseButton
	MsgInputMouseScroll
	MsgInputControllerState
	MsgInputControllerArrival
	MsgInputControllerTouch
	MsgInputControllerMotion
	MsgInputControllerBattery
	MsgInputText
)

// ControlMessage is a decoded, tagged variant over the control wire.
// Only the fields relevant to Type are populated.
type ControlMessage struct {
	Type ControlMessageType

	// Keyboard
	KeyCode   uint16
	KeyDown   bool
	Modifiers uint8

	// Mouse
	DeltaX, DeltaY int16
	AbsX, AbsY     uint16
	MouseButton    uint8
	MouseDown      bool
	ScrollAmount   int16
	HScrollAmount  int16

	// Controller
	ControllerNumber uint8
	ControllerKind   ControllerKind
	Capabilities     uint16
	ButtonFlags      uint32
	LeftTrigger      uint8
	RightTrigger     uint8
	LeftStickX       int16
	LeftStickY       int16
	RightStickX      int16
	RightStickY      int16

	MotionType MotionType
	MotionX    float32
	MotionY    float32
	MotionZ    float32

	TouchEvent  TouchEventType
	PointerID   uint32
	TouchX      float32
	TouchY      float32
	Pressure    float32

	BatteryState      BatteryState
	BatteryPercentage uint8

	// Rumble / LED / effects
	LowFreq, HighFreq       uint16
	LeftTriggerMotor        uint16
	RightTriggerMotor       uint16
	ReportRateHz            uint16
	R, G, B                 uint8
	TriggerEffectSubtype    uint16
	TriggerEffectPayload    []byte

	HDREnabled bool

	Text string

	LossPercent uint8

	Raw []byte // verbatim payload for messages forwarded opaquely (e.g. unknown TriggerEffect subtypes)
}

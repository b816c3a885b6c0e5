package sonicare

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// unknownEnum marks an enum characteristic that has not been read yet.
const unknownEnum = 0xff

// HandleState is the power/activity state of the handle.
type HandleState uint8

const (
	HandleOff        HandleState = 0
	HandleStandby    HandleState = 1
	HandleRun        HandleState = 2
	HandleCharge     HandleState = 3
	HandleShutdown   HandleState = 4
	HandleValidate   HandleState = 6
	HandleBackground HandleState = 7
	HandleUnknown    HandleState = unknownEnum
)

var handleStateNames = map[HandleState]string{
	HandleOff:        "off",
	HandleStandby:    "standby",
	HandleRun:        "run",
	HandleCharge:     "charge",
	HandleShutdown:   "shutdown",
	HandleValidate:   "validate",
	HandleBackground: "background",
}

func (s HandleState) String() string { return enumName(handleStateNames, s) }

// MarshalText renders the state name in JSON.
func (s HandleState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// BrushingMode is the cleaning program selected on the handle.
type BrushingMode uint8

const (
	ModeClean         BrushingMode = 0
	ModeWhitePlus     BrushingMode = 1
	ModeGumHealth     BrushingMode = 2
	ModeDeepCleanPlus BrushingMode = 3
	ModeUnknown       BrushingMode = unknownEnum
)

var brushingModeNames = map[BrushingMode]string{
	ModeClean:         "clean",
	ModeWhitePlus:     "white_plus",
	ModeGumHealth:     "gum_health",
	ModeDeepCleanPlus: "deep_clean_plus",
}

func (m BrushingMode) String() string { return enumName(brushingModeNames, m) }

// MarshalText renders the mode name in JSON.
func (m BrushingMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// BrushingState is the progress of the current brushing session.
type BrushingState uint8

const (
	BrushingOff             BrushingState = 0
	BrushingOn              BrushingState = 1
	BrushingPause           BrushingState = 2
	BrushingSessionComplete BrushingState = 3
	BrushingSessionAborted  BrushingState = 4
	BrushingUnknown         BrushingState = unknownEnum
)

var brushingStateNames = map[BrushingState]string{
	BrushingOff:             "off",
	BrushingOn:              "on",
	BrushingPause:           "pause",
	BrushingSessionComplete: "session_complete",
	BrushingSessionAborted:  "session_aborted",
}

func (b BrushingState) String() string { return enumName(brushingStateNames, b) }

// MarshalText renders the brushing state name in JSON.
func (b BrushingState) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// Intensity is the motor intensity setting.
type Intensity uint8

const (
	IntensityLow     Intensity = 0
	IntensityMedium  Intensity = 1
	IntensityHigh    Intensity = 2
	IntensityUnknown Intensity = unknownEnum
)

var intensityNames = map[Intensity]string{
	IntensityLow:    "low",
	IntensityMedium: "medium",
	IntensityHigh:   "high",
}

func (i Intensity) String() string { return enumName(intensityNames, i) }

// MarshalText renders the intensity name in JSON.
func (i Intensity) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func enumName[T ~uint8](names map[T]string, v T) string {
	if v == unknownEnum {
		return "unknown"
	}
	if n, ok := names[v]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(v))
}

// State is a snapshot of everything the driver knows about the handle.
// Nil pointers mean the value has not been read.
type State struct {
	Battery       *int          `json:"battery,omitempty"`
	HandleState   HandleState   `json:"handle_state"`
	BrushingMode  BrushingMode  `json:"brushing_mode"`
	BrushingState BrushingState `json:"brushing_state"`
	BrushingTime  *int          `json:"brushing_time,omitempty"` // seconds into the session
	Intensity     Intensity     `json:"intensity"`
	Model         string        `json:"model,omitempty"`
	Firmware      string        `json:"firmware,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewState returns a State with every field unread.
func NewState() State {
	return State{
		HandleState:   HandleUnknown,
		BrushingMode:  ModeUnknown,
		BrushingState: BrushingUnknown,
		Intensity:     IntensityUnknown,
	}
}

// decoder applies one characteristic value to a State.
type decoder func(s *State, data []byte) error

var decoders = map[string]decoder{
	batteryLevelUUID: func(s *State, data []byte) error {
		v, err := uint8Value(data)
		if err != nil {
			return err
		}
		if v > 100 {
			return fmt.Errorf("battery level %d out of range", v)
		}
		b := int(v)
		s.Battery = &b
		return nil
	},
	modelNumberUUID: func(s *State, data []byte) error {
		s.Model = cleanString(data)
		return nil
	},
	firmwareRevisionUUID: func(s *State, data []byte) error {
		s.Firmware = cleanString(data)
		return nil
	},
	handleStateUUID: func(s *State, data []byte) error {
		v, err := uint8Value(data)
		if err != nil {
			return err
		}
		s.HandleState = HandleState(v)
		return nil
	},
	brushingModeUUID: func(s *State, data []byte) error {
		v, err := uint8Value(data)
		if err != nil {
			return err
		}
		s.BrushingMode = BrushingMode(v)
		return nil
	},
	brushingStateUUID: func(s *State, data []byte) error {
		v, err := uint8Value(data)
		if err != nil {
			return err
		}
		s.BrushingState = BrushingState(v)
		return nil
	},
	brushingTimeUUID: func(s *State, data []byte) error {
		if len(data) < 2 {
			return fmt.Errorf("brushing time: want 2 bytes, got %d", len(data))
		}
		secs := int(binary.LittleEndian.Uint16(data))
		s.BrushingTime = &secs
		return nil
	},
	intensityUUID: func(s *State, data []byte) error {
		v, err := uint8Value(data)
		if err != nil {
			return err
		}
		s.Intensity = Intensity(v)
		return nil
	},
}

// Apply decodes a value read from or notified by the characteristic uuid.
// Unknown characteristics are ignored. s is left untouched when decoding fails.
func (s *State) Apply(uuid string, data []byte) error {
	dec, ok := decoders[uuid]
	if !ok {
		return nil
	}
	next := *s
	if err := dec(&next, data); err != nil {
		return fmt.Errorf("decode %s: %w", uuid, err)
	}
	*s = next
	return nil
}

func uint8Value(data []byte) (uint8, error) {
	if len(data) < 1 {
		return unknownEnum, fmt.Errorf("empty value")
	}
	return data[0], nil
}

func cleanString(data []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(data), "\x00"))
}

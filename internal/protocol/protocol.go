// Package protocol implements the vendor binary protocol spoken by the
// cable machine over its UART-style GATT service. All encode/decode
// functions are pure; every multi-byte field is little-endian.
//
// The layouts were reverse-engineered from traffic captures. The device
// silently accepts malformed frames, so encoders validate their inputs
// locally before building anything.
package protocol

import (
	"errors"
	"fmt"
)

// GATT service and characteristics exposed by the machine.
const (
	ServiceUUIDMachine = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"

	// Command writes go here.
	CharUUIDCommand = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	// Telemetry (position/load) frames, read or notify.
	CharUUIDMonitor = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
	// Device property records, read or notify.
	CharUUIDProperty = "6e400004-b5a3-f393-e0a9-e50e24dcca9e"
	// Rep counter notifications, notify only.
	CharUUIDRep = "6e400005-b5a3-f393-e0a9-e50e24dcca9e"
)

// DeviceNamePrefix is the advertised local-name prefix of the machine family.
const DeviceNamePrefix = "Vee"

// Frame sizes in bytes.
const (
	InitCommandSize   = 4
	StopCommandSize   = 4
	InitPresetSize    = 34
	ProgramParamsSize = 96
	EchoControlSize   = 32
	ColorSchemeSize   = 34
	MonitorFrameSize  = 16
	RepFrameMinSize   = 6
)

// WeightBaselineKg is added to the user-facing per-cable weight before it
// is put on the wire. The machine's zero point sits 10 kg below zero load;
// the offset is never shown to the user.
const WeightBaselineKg = 10.0

// MaxPlausiblePosition is the largest position value the sensors can
// produce in normal operation. Anything above it is a spike.
const MaxPlausiblePosition = 50000

// Input ranges accepted by the encoders.
const (
	MaxPerCableKg    = 100.0
	MaxProgressionKg = 3.0
	MaxEchoLevel     = 3
	MaxEccentricPct  = 150
	MaxReps          = 255
)

// EchoWarmupReps is fixed by the firmware; the echo frame always carries it.
const EchoWarmupReps = 3

// Frame opcodes (first byte of every command frame).
const (
	opControl     byte = 0x02
	opInitPreset  byte = 0x03
	opProgram     byte = 0x04
	opEchoControl byte = 0x05
	opColorScheme byte = 0x06
)

var (
	// ErrFrameTooShort reports a notification or read payload shorter than
	// its frame's minimum length.
	ErrFrameTooShort = errors.New("protocol: frame too short")

	// ErrPositionSpike reports a monitor frame whose position exceeds
	// MaxPlausiblePosition. Callers keep their previous sample.
	ErrPositionSpike = errors.New("protocol: implausible position, sensor spike")
)

// ValidationError reports an encoder input outside the range the device
// tolerates. It is raised before any frame is built and never sent.
type ValidationError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: %s %g out of range [%g, %g]", e.Field, e.Value, e.Min, e.Max)
}

func checkRange(field string, value, min, max float64) error {
	if value < min || value > max {
		return &ValidationError{Field: field, Value: value, Min: min, Max: max}
	}
	return nil
}

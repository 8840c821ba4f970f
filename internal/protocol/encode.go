package protocol

import (
	"encoding/binary"
	"math"
)

func putU16(dst []byte, v uint16) {
	binary.LittleEndian.PutUint16(dst, v)
}

// EncodeInitCommand builds the 4-byte handshake frame sent once after
// connecting, before anything else.
func EncodeInitCommand() []byte {
	return []byte{opControl, 0x00, 0x00, 0x01}
}

// EncodeStopCommand builds the 4-byte stop frame. It shares the control
// family with the init frame and immediately drops the cables to zero load.
func EncodeStopCommand() []byte {
	return []byte{opControl, 0x01, 0x00, 0x01}
}

// EncodeInitPreset builds the 34-byte preset frame carrying the fixed
// per-mode coefficient table. The stock app sends it ~50 ms after the
// init command; the machine ignores programs that arrive before it.
func EncodeInitPreset() []byte {
	frame := make([]byte, InitPresetSize)
	frame[0] = opInitPreset
	offset := 2
	for _, coeffs := range presetCoefficients {
		for _, c := range coeffs {
			putU16(frame[offset:], c)
			offset += 2
		}
	}
	return frame
}

// ProgramParams describes one exercise block in a named program mode.
type ProgramParams struct {
	Sequence      uint8   // incremented per program write within a session
	Mode          Mode    // resistance program
	Reps          int     // target reps, 0 = open-ended
	JustLift      bool    // untimed mode, auto-stop governs the end
	PerCableKg    float64 // user-facing weight per cable, [0, 100]
	ProgressionKg float64 // per-rep weight delta, [-3, 3]
}

// EncodeProgramParams builds the 96-byte program frame. Inputs are
// validated before any bytes are written.
func EncodeProgramParams(p ProgramParams) ([]byte, error) {
	if !p.Mode.Valid() {
		return nil, &ValidationError{Field: "mode", Value: float64(p.Mode), Min: 0, Max: float64(modeCount - 1)}
	}
	if err := checkRange("reps", float64(p.Reps), 0, MaxReps); err != nil {
		return nil, err
	}
	if err := checkRange("perCableKg", p.PerCableKg, 0, MaxPerCableKg); err != nil {
		return nil, err
	}
	if err := checkRange("progressionKg", p.ProgressionKg, -MaxProgressionKg, MaxProgressionKg); err != nil {
		return nil, err
	}

	frame := make([]byte, ProgramParamsSize)
	frame[0] = opProgram
	frame[1] = p.Sequence
	frame[2] = byte(p.Mode)
	frame[3] = byte(p.Reps)
	if p.JustLift {
		frame[4] = 1
	}
	appendModeProfile(frame[6:6+ModeProfileSize], p.Mode)
	putU16(frame[38:], uint16(math.Round((p.PerCableKg+WeightBaselineKg)*100)))
	putU16(frame[40:], uint16(int16(math.Round(p.ProgressionKg*100))))
	return frame, nil
}

// DecodeProgramWeightKg extracts the effective (baseline-offset) weight in
// kg from an encoded program frame. Diagnostic counterpart of the encoder.
func DecodeProgramWeightKg(frame []byte) (float64, error) {
	if len(frame) < ProgramParamsSize {
		return 0, ErrFrameTooShort
	}
	return float64(binary.LittleEndian.Uint16(frame[38:])) / 100, nil
}

// EchoControl describes an echo-mode block: resistance follows the user's
// own effort, shaped by a level and an eccentric percentage.
type EchoControl struct {
	Level        int // 0-3
	EccentricPct int // 0-150, eccentric load relative to concentric
	TargetReps   int // 0 = open-ended
	JustLift     bool
}

// EncodeEchoControl builds the 32-byte echo frame. The gain/cap/smoothing
// parameters the device wants are derived here from (level, eccentricPct);
// they are not user inputs.
func EncodeEchoControl(e EchoControl) ([]byte, error) {
	if err := checkRange("level", float64(e.Level), 0, MaxEchoLevel); err != nil {
		return nil, err
	}
	if err := checkRange("eccentricPct", float64(e.EccentricPct), 0, MaxEccentricPct); err != nil {
		return nil, err
	}
	if err := checkRange("targetReps", float64(e.TargetReps), 0, MaxReps); err != nil {
		return nil, err
	}

	gain, cap, smoothing := echoDerived(e.Level, e.EccentricPct)

	frame := make([]byte, EchoControlSize)
	frame[0] = opEchoControl
	frame[1] = byte(e.Level)
	putU16(frame[2:], uint16(e.EccentricPct))
	putU16(frame[4:], gain)
	putU16(frame[6:], cap)
	frame[8] = smoothing
	frame[9] = EchoWarmupReps
	frame[10] = byte(e.TargetReps)
	if e.JustLift {
		frame[11] = 1
	}
	return frame, nil
}

// RGB is one LED color triple.
type RGB struct {
	R, G, B uint8
}

// EncodeColorScheme builds the 34-byte LED frame: fixed brightness plus
// the warmup, working and rest colors.
func EncodeColorScheme(warmup, working, rest RGB) []byte {
	frame := make([]byte, ColorSchemeSize)
	frame[0] = opColorScheme
	frame[1] = 0x80 // brightness, constant in every capture
	for i, c := range []RGB{warmup, working, rest} {
		frame[2+i*3] = c.R
		frame[3+i*3] = c.G
		frame[4+i*3] = c.B
	}
	return frame
}

package protocol

import "fmt"

// Mode identifies one of the machine's resistance programs.
type Mode uint8

const (
	ModeOldSchool        Mode = iota // constant resistance
	ModePump                         // oscillating resistance around a base
	ModeTimeUnderTension             // paced concentric/eccentric timing
	ModeEccentricOnly                // loaded lowering, light lifting
	ModeChains                       // load grows with cable extension
	modeCount
)

func (m Mode) String() string {
	switch m {
	case ModeOldSchool:
		return "old_school"
	case ModePump:
		return "pump"
	case ModeTimeUnderTension:
		return "time_under_tension"
	case ModeEccentricOnly:
		return "eccentric_only"
	case ModeChains:
		return "chains"
	default:
		return "unknown"
	}
}

// Valid reports whether m names a known program mode.
func (m Mode) Valid() bool {
	return m < modeCount
}

// ParseMode is the inverse of String.
func ParseMode(s string) (Mode, error) {
	for m := ModeOldSchool; m.Valid(); m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("protocol: unknown mode %q", s)
}

// MarshalText makes modes render as their names in plan files.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("protocol: unknown mode %d", m)
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ModeProfileSize is the length of the per-mode profile block inside a
// program frame.
const ModeProfileSize = 32

// presetCoefficients is the fixed per-mode table carried by the InitPreset
// frame. Three u16 coefficients per mode; values are what the stock app
// sends, meaning unknown beyond "required before the first program".
var presetCoefficients = [modeCount][3]uint16{
	ModeOldSchool:        {1000, 1000, 0},
	ModePump:             {850, 300, 2000},
	ModeTimeUnderTension: {2000, 3000, 50},
	ModeEccentricOnly:    {1250, 400, 0},
	ModeChains:           {700, 12, 150},
}

// appendModeProfile writes the 32-byte profile block for mode into dst,
// which must be ModeProfileSize long. Each mode has its own layout; only
// byte 0 (the mode id) is common.
func appendModeProfile(dst []byte, mode Mode) {
	dst[0] = byte(mode)
	switch mode {
	case ModeOldSchool:
		// u16 concentric gain, u16 eccentric gain (×1000)
		putU16(dst[1:], 1000)
		putU16(dst[3:], 1000)
	case ModePump:
		// u16 base gain, u16 amplitude, u16 oscillation period ms
		putU16(dst[1:], 850)
		putU16(dst[3:], 300)
		putU16(dst[5:], 2000)
	case ModeTimeUnderTension:
		// u16 concentric ms, u16 eccentric ms, u8 top hold ds, u8 bottom hold ds
		putU16(dst[1:], 2000)
		putU16(dst[3:], 3000)
		dst[5+2] = 5
		dst[5+3] = 0
	case ModeEccentricOnly:
		// u16 eccentric gain (×1000), u8 concentric floor percent
		putU16(dst[1:], 1250)
		dst[3] = 40
	case ModeChains:
		// u16 base gain, u16 slope per position unit (×1000), u16 anchor position
		putU16(dst[1:], 700)
		putU16(dst[3:], 12)
		putU16(dst[5:], 150)
	}
}

// echoLevelParams is the per-level base for the echo control frame's
// derived parameters. The eccentric percentage scales on top of these.
var echoLevelParams = [MaxEchoLevel + 1]struct {
	gain      uint16
	cap       uint16
	smoothing uint8
}{
	{gain: 600, cap: 1200, smoothing: 24},
	{gain: 750, cap: 1500, smoothing: 20},
	{gain: 900, cap: 1800, smoothing: 16},
	{gain: 1050, cap: 2100, smoothing: 12},
}

// echoDerived computes the gain/cap/smoothing triple for a level and
// eccentric percentage. Deterministic: same inputs, same frame.
func echoDerived(level, eccentricPct int) (gain, cap uint16, smoothing uint8) {
	base := echoLevelParams[level]
	gain = base.gain + uint16(eccentricPct)*2
	cap = base.cap + uint16(eccentricPct)*5
	return gain, cap, base.smoothing
}

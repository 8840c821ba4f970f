package protocol

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeInitCommand(t *testing.T) {
	frame := EncodeInitCommand()
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x01}, frame)
	assert.Len(t, frame, InitCommandSize)
}

func TestEncodeStopCommand(t *testing.T) {
	frame := EncodeStopCommand()
	assert.Equal(t, []byte{0x02, 0x01, 0x00, 0x01}, frame)
	assert.NotEqual(t, EncodeInitCommand(), frame)
}

func TestEncodeInitPreset(t *testing.T) {
	frame := EncodeInitPreset()
	require.Len(t, frame, InitPresetSize)
	assert.Equal(t, byte(0x03), frame[0])

	// First table entry is old-school's concentric coefficient.
	assert.Equal(t, uint16(1000), binary.LittleEndian.Uint16(frame[2:4]))
	// Last entry is chains' anchor position, followed by the two pad bytes.
	assert.Equal(t, uint16(150), binary.LittleEndian.Uint16(frame[30:32]))
	assert.Equal(t, []byte{0, 0}, frame[32:34])
}

func TestEncodeProgramParams_WeightRoundTrip(t *testing.T) {
	frame, err := EncodeProgramParams(ProgramParams{
		Mode:       ModeOldSchool,
		Reps:       8,
		PerCableKg: 15,
	})
	require.NoError(t, err)
	require.Len(t, frame, ProgramParamsSize)

	// 15 kg per cable plus the 10 kg device baseline.
	kg, err := DecodeProgramWeightKg(frame)
	require.NoError(t, err)
	assert.Equal(t, 25.0, kg)
}

func TestEncodeProgramParams_Layout(t *testing.T) {
	frame, err := EncodeProgramParams(ProgramParams{
		Sequence:      7,
		Mode:          ModePump,
		Reps:          12,
		JustLift:      true,
		PerCableKg:    20,
		ProgressionKg: -1.5,
	})
	require.NoError(t, err)

	assert.Equal(t, byte(0x04), frame[0])
	assert.Equal(t, byte(7), frame[1])
	assert.Equal(t, byte(ModePump), frame[2])
	assert.Equal(t, byte(12), frame[3])
	assert.Equal(t, byte(1), frame[4])
	assert.Equal(t, byte(ModePump), frame[6], "profile block starts with the mode id")
	assert.Equal(t, uint16(3000), binary.LittleEndian.Uint16(frame[38:40]))
	assert.Equal(t, int16(-150), int16(binary.LittleEndian.Uint16(frame[40:42])))
}

func TestEncodeProgramParams_ModeProfilesDiffer(t *testing.T) {
	profiles := make(map[string]Mode)
	for mode := ModeOldSchool; mode.Valid(); mode++ {
		frame, err := EncodeProgramParams(ProgramParams{Mode: mode, Reps: 5, PerCableKg: 10})
		require.NoError(t, err)
		key := string(frame[6 : 6+ModeProfileSize])
		prev, dup := profiles[key]
		assert.False(t, dup, "mode %s has the same profile block as %s", mode, prev)
		profiles[key] = mode
	}
	assert.Len(t, profiles, 5)
}

func TestEncodeProgramParams_Validation(t *testing.T) {
	cases := []struct {
		name   string
		params ProgramParams
		field  string
	}{
		{"weight too high", ProgramParams{Mode: ModeOldSchool, PerCableKg: 101}, "perCableKg"},
		{"weight negative", ProgramParams{Mode: ModeOldSchool, PerCableKg: -1}, "perCableKg"},
		{"progression too high", ProgramParams{Mode: ModeOldSchool, ProgressionKg: 3.5}, "progressionKg"},
		{"progression too low", ProgramParams{Mode: ModeOldSchool, ProgressionKg: -3.5}, "progressionKg"},
		{"reps too high", ProgramParams{Mode: ModeOldSchool, Reps: 256}, "reps"},
		{"unknown mode", ProgramParams{Mode: Mode(99)}, "mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeProgramParams(tc.params)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestEncodeProgramParams_BoundaryValuesAccepted(t *testing.T) {
	_, err := EncodeProgramParams(ProgramParams{Mode: ModeChains, Reps: 255, PerCableKg: 100, ProgressionKg: 3})
	assert.NoError(t, err)
	_, err = EncodeProgramParams(ProgramParams{Mode: ModeOldSchool, Reps: 0, PerCableKg: 0, ProgressionKg: -3})
	assert.NoError(t, err)
}

func TestEncodeEchoControl(t *testing.T) {
	frame, err := EncodeEchoControl(EchoControl{Level: 2, EccentricPct: 110, TargetReps: 10})
	require.NoError(t, err)
	require.Len(t, frame, EchoControlSize)

	assert.Equal(t, byte(0x05), frame[0])
	assert.Equal(t, byte(2), frame[1])
	assert.Equal(t, uint16(110), binary.LittleEndian.Uint16(frame[2:4]))
	// Level 2 base gain 900 + 110*2; cap 1800 + 110*5.
	assert.Equal(t, uint16(1120), binary.LittleEndian.Uint16(frame[4:6]))
	assert.Equal(t, uint16(2350), binary.LittleEndian.Uint16(frame[6:8]))
	assert.Equal(t, byte(16), frame[8])
	assert.Equal(t, byte(EchoWarmupReps), frame[9])
	assert.Equal(t, byte(10), frame[10])
	assert.Equal(t, byte(0), frame[11])
}

func TestEncodeEchoControl_Validation(t *testing.T) {
	_, err := EncodeEchoControl(EchoControl{Level: 4})
	assert.Error(t, err)
	_, err = EncodeEchoControl(EchoControl{Level: 1, EccentricPct: 151})
	assert.Error(t, err)
	_, err = EncodeEchoControl(EchoControl{Level: 1, TargetReps: 300})
	assert.Error(t, err)
	_, err = EncodeEchoControl(EchoControl{Level: 0, EccentricPct: 150, TargetReps: 255})
	assert.NoError(t, err)
}

func TestEncodeColorScheme(t *testing.T) {
	frame := EncodeColorScheme(RGB{255, 160, 0}, RGB{0, 200, 80}, RGB{40, 40, 255})
	require.Len(t, frame, ColorSchemeSize)
	assert.Equal(t, byte(0x06), frame[0])
	assert.Equal(t, byte(0x80), frame[1])
	assert.Equal(t, []byte{255, 160, 0}, frame[2:5])
	assert.Equal(t, []byte{0, 200, 80}, frame[5:8])
	assert.Equal(t, []byte{40, 40, 255}, frame[8:11])
}

func TestDecodeMonitorFrame(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	buf := make([]byte, MonitorFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], 123456)
	binary.LittleEndian.PutUint16(buf[4:6], 200)  // posA
	binary.LittleEndian.PutUint16(buf[6:8], 1500) // loadA = 15.00 kg
	binary.LittleEndian.PutUint16(buf[8:10], 310)
	binary.LittleEndian.PutUint16(buf[10:12], 1525)

	sample, err := DecodeMonitorFrame(buf, ts)
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), sample.Ticks)
	assert.Equal(t, uint16(200), sample.PosA)
	assert.Equal(t, 15.0, sample.LoadAKg)
	assert.Equal(t, uint16(310), sample.PosB)
	assert.Equal(t, 15.25, sample.LoadBKg)
	assert.Equal(t, ts, sample.Timestamp)
}

func TestDecodeMonitorFrame_TickHalves(t *testing.T) {
	// The tick arrives as two little-endian u16 halves: low then high.
	buf := make([]byte, MonitorFrameSize)
	binary.LittleEndian.PutUint16(buf[0:2], 0x0001)
	binary.LittleEndian.PutUint16(buf[2:4], 0x0002)

	sample, err := DecodeMonitorFrame(buf, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00020001), sample.Ticks)
}

func TestDecodeMonitorFrame_Spike(t *testing.T) {
	buf := make([]byte, MonitorFrameSize)
	binary.LittleEndian.PutUint16(buf[4:6], 50001)
	_, err := DecodeMonitorFrame(buf, time.Now())
	assert.ErrorIs(t, err, ErrPositionSpike)

	binary.LittleEndian.PutUint16(buf[4:6], 50000)
	_, err = DecodeMonitorFrame(buf, time.Now())
	assert.NoError(t, err, "50000 is the last plausible position")
}

func TestDecodeMonitorFrame_TooShort(t *testing.T) {
	_, err := DecodeMonitorFrame(make([]byte, 11), time.Now())
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestDecodeRepNotification(t *testing.T) {
	buf := []byte{0x05, 0x00, 0xff, 0xff, 0x03, 0x00}
	counters, err := DecodeRepNotification(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), counters.Top)
	assert.Equal(t, uint16(3), counters.Bottom)
}

func TestDecodeRepNotification_TooShort(t *testing.T) {
	for n := 0; n < RepFrameMinSize; n++ {
		_, err := DecodeRepNotification(make([]byte, n))
		assert.ErrorIs(t, err, ErrFrameTooShort, "length %d", n)
	}
}

func TestDecodeRepNotification_LongerFramesAccepted(t *testing.T) {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[0:2], 100)
	binary.LittleEndian.PutUint16(buf[4:6], 99)
	counters, err := DecodeRepNotification(buf)
	require.NoError(t, err)
	assert.Equal(t, RepCounters{Top: 100, Bottom: 99}, counters)
}

package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// MonitorSample is one decoded telemetry frame: tick counter, per-cable
// positions and loads, and the host-side receive timestamp.
type MonitorSample struct {
	Ticks     uint32
	PosA      uint16
	PosB      uint16
	LoadAKg   float64
	LoadBKg   float64
	Timestamp time.Time
}

// monitorPayloadLen is the used portion of the 16-byte monitor frame;
// the trailing four bytes are reserved and always zero in captures.
const monitorPayloadLen = 12

// DecodeMonitorFrame decodes a 16-byte monitor frame read at ts.
// Loads arrive as kg×100. A position above MaxPlausiblePosition returns
// ErrPositionSpike; the caller keeps its previous sample.
func DecodeMonitorFrame(buf []byte, ts time.Time) (MonitorSample, error) {
	if len(buf) < monitorPayloadLen {
		return MonitorSample{}, fmt.Errorf("%w: monitor frame %d bytes", ErrFrameTooShort, len(buf))
	}
	s := MonitorSample{
		Ticks:     binary.LittleEndian.Uint32(buf[0:4]),
		PosA:      binary.LittleEndian.Uint16(buf[4:6]),
		LoadAKg:   float64(binary.LittleEndian.Uint16(buf[6:8])) / 100,
		PosB:      binary.LittleEndian.Uint16(buf[8:10]),
		LoadBKg:   float64(binary.LittleEndian.Uint16(buf[10:12])) / 100,
		Timestamp: ts,
	}
	if s.PosA > MaxPlausiblePosition || s.PosB > MaxPlausiblePosition {
		return MonitorSample{}, fmt.Errorf("%w: posA=%d posB=%d", ErrPositionSpike, s.PosA, s.PosB)
	}
	return s, nil
}

// RepCounters are the two wrapping 16-bit counters carried by a rep
// notification: Top increments when a cable reaches the top of a rep,
// Bottom when a rep completes at the bottom.
type RepCounters struct {
	Top    uint16
	Bottom uint16
}

// DecodeRepNotification interprets a rep notification as a little-endian
// u16 array: index 0 is the top counter, index 2 the bottom counter.
// Frames shorter than six bytes are malformed and rejected.
func DecodeRepNotification(buf []byte) (RepCounters, error) {
	if len(buf) < RepFrameMinSize {
		return RepCounters{}, fmt.Errorf("%w: rep frame %d bytes", ErrFrameTooShort, len(buf))
	}
	return RepCounters{
		Top:    binary.LittleEndian.Uint16(buf[0:2]),
		Bottom: binary.LittleEndian.Uint16(buf[4:6]),
	}, nil
}

// PropertyRecord is an opaque device property read. The payload layout is
// not understood; it is kept raw for diagnostics.
type PropertyRecord struct {
	Raw       []byte
	Timestamp time.Time
}

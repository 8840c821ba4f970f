package machine

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/bt"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"github.com/lowaak/cable-trainer/internal/protocol"
)

// MockDevice simulates a machine behind the bt.Device interface for
// development without hardware. While a block is programmed it moves both
// cables through a cosine wave and advances the top/bottom rep counters at
// the wave extremes, pushing rep notifications like the real machine does.
type MockDevice struct {
	logger *log.Logger

	mu            sync.Mutex
	connected     bool
	programActive bool
	blockStart    time.Time
	weightCenti   uint16 // effective weight as sent, kg x 100
	repCallback   func(buf []byte)
	baseTop       uint16
	baseBottom    uint16
	lastTop       uint16
	lastBottom    uint16

	// Wave shape, settable before the first block for tests.
	RepPeriod time.Duration
	PosBottom int
	PosTop    int

	done chan struct{}
	wg   sync.WaitGroup
}

var _ bt.Device = (*MockDevice)(nil)

func NewMockDevice(logger *log.Logger) *MockDevice {
	if logger == nil {
		panic("machine: logger cannot be nil")
	}
	m := &MockDevice{
		logger:    logger,
		connected: true,
		RepPeriod: 2 * time.Second,
		PosBottom: 100,
		PosTop:    600,
		done:      make(chan struct{}),
	}
	m.wg.Add(1)
	go_func_utils.SafeGoNamed(logger, "mock-device", func() { m.run() })
	return m
}

func (m *MockDevice) GetAddressString() string { return "00:11:22:33:44:55" }
func (m *MockDevice) GetLocalName() string     { return protocol.DeviceNamePrefix + " Mock" }

func (m *MockDevice) GetState() bt.DeviceState {
	if m.IsConnected() {
		return bt.Connected
	}
	return bt.Disconnected
}

func (m *MockDevice) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockDevice) WaitForConnection(timeout time.Duration) error { return nil }

// Close stops the simulation goroutine and marks the device disconnected.
func (m *MockDevice) Close() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	close(m.done)
	m.wg.Wait()
}

// phase is the number of full rep cycles since the block started.
func (m *MockDevice) phase(now time.Time) float64 {
	return now.Sub(m.blockStart).Seconds() / m.RepPeriod.Seconds()
}

// position follows 1-cos: bottom at whole phases, top at half phases.
func (m *MockDevice) position(now time.Time) uint16 {
	if !m.programActive {
		return uint16(m.PosBottom)
	}
	span := float64(m.PosTop - m.PosBottom)
	frac := (1 - math.Cos(2*math.Pi*m.phase(now))) / 2
	return uint16(float64(m.PosBottom) + span*frac)
}

func (m *MockDevice) ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch charUUID {
	case protocol.CharUUIDMonitor:
		now := time.Now()
		pos := m.position(now)
		load := m.weightCenti
		if !m.programActive {
			load = 0
		}
		buf := make([]byte, protocol.MonitorFrameSize)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(now.UnixMilli()/10))
		binary.LittleEndian.PutUint16(buf[4:6], pos)
		binary.LittleEndian.PutUint16(buf[6:8], load)
		binary.LittleEndian.PutUint16(buf[8:10], pos)
		binary.LittleEndian.PutUint16(buf[10:12], load)
		return buf, nil
	case protocol.CharUUIDProperty:
		return []byte{0x01, 0x00, 0x42, 0x00, 0x03, 0x00}, nil
	default:
		return nil, fmt.Errorf("mock: unreadable characteristic %s", charUUID)
	}
}

func (m *MockDevice) WriteCharacteristic(serviceUUID, charUUID string, data []byte) error {
	if charUUID != protocol.CharUUIDCommand || len(data) == 0 {
		return fmt.Errorf("mock: unwritable characteristic %s", charUUID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch data[0] {
	case 0x02:
		if len(data) >= 2 && data[1] == 0x01 {
			m.programActive = false
			m.logger.Printf("MockDevice: stop")
		} else {
			m.logger.Printf("MockDevice: init")
		}
	case 0x03, 0x06:
		// Preset table and color scheme are accepted silently.
	case 0x04:
		m.startBlock(binary.LittleEndian.Uint16(data[38:40]))
		m.logger.Printf("MockDevice: program started")
	case 0x05:
		m.startBlock(800)
		m.logger.Printf("MockDevice: echo started")
	default:
		m.logger.Printf("MockDevice: unknown opcode 0x%02x", data[0])
	}
	return nil
}

// startBlock resets the wave; counters keep running so deltas stay
// realistic across blocks. Caller holds mu.
func (m *MockDevice) startBlock(weightCenti uint16) {
	m.programActive = true
	m.blockStart = time.Now()
	m.weightCenti = weightCenti
	m.baseTop = m.lastTop
	m.baseBottom = m.lastBottom
}

func (m *MockDevice) WriteCharacteristicWithoutResponse(serviceUUID, charUUID string, data []byte) error {
	return m.WriteCharacteristic(serviceUUID, charUUID, data)
}

func (m *MockDevice) EnableNotifications(serviceUUID, charUUID string, callback func(buf []byte)) error {
	if charUUID != protocol.CharUUIDRep {
		return fmt.Errorf("mock: characteristic %s does not notify", charUUID)
	}
	m.mu.Lock()
	m.repCallback = callback
	m.mu.Unlock()
	return nil
}

func (m *MockDevice) DisableNotifications(serviceUUID, charUUID string) error {
	m.mu.Lock()
	m.repCallback = nil
	m.mu.Unlock()
	return nil
}

// run advances the rep counters off the wave phase and pushes a rep frame
// whenever either counter moves.
func (m *MockDevice) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *MockDevice) tick() {
	m.mu.Lock()
	if !m.programActive || m.repCallback == nil {
		m.mu.Unlock()
		return
	}
	phase := m.phase(time.Now())
	// Tops land at half phases, bottoms at whole phases.
	wantTop := m.baseTop + uint16(math.Floor(phase+0.5))
	wantBottom := m.baseBottom + uint16(math.Floor(phase))
	if wantTop == m.lastTop && wantBottom == m.lastBottom {
		m.mu.Unlock()
		return
	}
	m.lastTop = wantTop
	m.lastBottom = wantBottom
	cb := m.repCallback
	m.mu.Unlock()

	buf := make([]byte, protocol.RepFrameMinSize)
	binary.LittleEndian.PutUint16(buf[0:2], wantTop)
	binary.LittleEndian.PutUint16(buf[4:6], wantBottom)
	cb(buf)
}

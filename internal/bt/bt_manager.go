package bt

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/cable-trainer/internal/events"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"

	"tinygo.org/x/bluetooth"
)

// ManagerInterface is the Bluetooth manager seam; the mock machine device
// plugs in behind it for hardware-free runs and tests.
type ManagerInterface interface {
	Enable() error
	StartScan(namePrefix string)
	StopScan() error
	IsScanning() bool
	GetDeviceByAddress(address string) Device
	GetScanDevices() []Device
	Connect(device Device) error
	Disconnect(device Device) error
	ListenToDeviceList(ch chan<- []Device) func()
	ListenToDisconnect(ch chan<- string) func()
	Shutdown()
}

var _ ManagerInterface = (*Manager)(nil)

// Manager wraps a tinygo bluetooth adapter: scanning filtered by the
// machine's advertised name prefix, connection tracking, and device
// lifecycle events.
type Manager struct {
	adapter     *bluetooth.Adapter
	logger      *log.Logger
	scanTimeout time.Duration

	mu               sync.RWMutex
	devicesByAddress map[string]*deviceImpl
	scanning         bool
	scanCancel       context.CancelFunc

	deviceListEvent *events.ChannelEvent[[]Device]
	disconnectEvent *events.ChannelEvent[string]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. scanTimeout bounds how long a device stays
// listed after its last advertisement.
func NewManager(adapter *bluetooth.Adapter, logger *log.Logger, scanTimeout time.Duration) *Manager {
	if logger == nil {
		panic("bt: logger cannot be nil")
	}
	if scanTimeout <= 0 {
		scanTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		adapter:          adapter,
		logger:           logger,
		scanTimeout:      scanTimeout,
		devicesByAddress: make(map[string]*deviceImpl),
		deviceListEvent:  events.NewChannelEvent[[]Device](true),
		disconnectEvent:  events.NewChannelEvent[string](false),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Enable powers the adapter and installs the connect handler that keeps
// device state in sync with the stack.
func (m *Manager) Enable() error {
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		d := m.getOrCreateDevice(device.Address)
		if connected {
			m.logger.Printf("BTManager: device connected: %s", addr)
			d.setConnected(&device, Connected)
		} else {
			m.logger.Printf("BTManager: device disconnected: %s", addr)
			d.setConnected(nil, Disconnected)
			m.disconnectEvent.Notify(addr)
		}
	})
	return m.adapter.Enable()
}

// GetDeviceByAddress returns the known device at address, or nil.
func (m *Manager) GetDeviceByAddress(address string) Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.devicesByAddress[address]; ok {
		return d
	}
	return nil
}

func (m *Manager) getOrCreateDevice(address bluetooth.Address) *deviceImpl {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := address.String()
	d, ok := m.devicesByAddress[addr]
	if !ok {
		d = newDeviceImpl(m.logger, address)
		m.devicesByAddress[addr] = d
	}
	return d
}

// StartScan scans for peripherals whose advertised name starts with
// namePrefix. The machine family does not advertise its vendor service
// UUID, so the name prefix is the only discovery filter that works.
func (m *Manager) StartScan(namePrefix string) {
	m.mu.Lock()
	if m.scanning && m.scanCancel != nil {
		m.logger.Printf("BTManager: scan already running, restarting")
		m.scanCancel()
	}
	m.scanning = true
	scanCtx, scanCancel := context.WithCancel(m.ctx)
	m.scanCancel = scanCancel
	m.mu.Unlock()

	m.logger.Printf("BTManager: scanning for %q*", namePrefix)

	m.wg.Add(1)
	go_func_utils.SafeGoNamed(m.logger, "bt-scan", func() {
		defer m.wg.Done()
		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-scanCtx.Done():
				return
			default:
			}
			name := result.LocalName()
			if namePrefix != "" && !strings.HasPrefix(name, namePrefix) {
				return
			}
			d := m.getOrCreateDevice(result.Address)
			first := d.getLastSeen().IsZero()
			d.setScanInfo(name, time.Now())
			if first {
				m.logger.Printf("BTManager: found %s (%s) [RSSI: %d]", name, result.Address.String(), result.RSSI)
			}
		})
		if err != nil {
			m.logger.Printf("BTManager: scan error: %v", err)
		}
	})

	// Periodically emit the visible device list and drop stale entries.
	m.wg.Add(1)
	go_func_utils.SafeGoNamed(m.logger, "bt-scan-emit", func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-scanCtx.Done():
				return
			case <-ticker.C:
				m.pruneStaleDevices()
				m.deviceListEvent.Notify(m.GetScanDevices())
			}
		}
	})
}

func (m *Manager) pruneStaleDevices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for addr, d := range m.devicesByAddress {
		if d.IsConnected() {
			continue
		}
		if seen := d.getLastSeen(); !seen.IsZero() && now.Sub(seen) > m.scanTimeout {
			delete(m.devicesByAddress, addr)
			m.logger.Printf("BTManager: device timeout: %s", addr)
		}
	}
}

// StopScan stops an active scan.
func (m *Manager) StopScan() error {
	m.mu.Lock()
	m.scanning = false
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
	m.mu.Unlock()
	return m.adapter.StopScan()
}

// IsScanning reports whether a scan is active.
func (m *Manager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

// GetScanDevices returns devices seen within the scan timeout.
func (m *Manager) GetScanDevices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Device, 0, len(m.devicesByAddress))
	for _, d := range m.devicesByAddress {
		if !d.getLastSeen().IsZero() || d.IsConnected() {
			result = append(result, d)
		}
	}
	return result
}

// Connect initiates a connection; completion is reported asynchronously
// through the adapter's connect handler. Pair with WaitForConnection.
func (m *Manager) Connect(device Device) error {
	addr := device.GetAddressString()
	m.mu.RLock()
	impl, ok := m.devicesByAddress[addr]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bt: unknown device %s", addr)
	}

	m.logger.Printf("BTManager: connecting to %s", addr)
	if _, err := m.adapter.Connect(impl.address, bluetooth.ConnectionParams{}); err != nil {
		return fmt.Errorf("bt: connect %s: %w", addr, err)
	}
	impl.setConnected(nil, Connecting)
	return nil
}

// Disconnect tears down the link to device.
func (m *Manager) Disconnect(device Device) error {
	addr := device.GetAddressString()
	m.mu.RLock()
	impl, ok := m.devicesByAddress[addr]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bt: unknown device %s", addr)
	}
	conn := impl.getConnected()
	if conn == nil {
		m.logger.Printf("BTManager: %s already disconnected", addr)
		return nil
	}
	m.logger.Printf("BTManager: disconnecting %s", addr)
	return conn.Disconnect()
}

// ListenToDeviceList registers a channel for scan device list updates,
// emitted at most once per second. Returns a deregistration function.
func (m *Manager) ListenToDeviceList(ch chan<- []Device) func() {
	return m.deviceListEvent.Listen(ch)
}

// ListenToDisconnect registers a channel receiving the address of every
// device whose link drops. Returns a deregistration function.
func (m *Manager) ListenToDisconnect(ch chan<- string) func() {
	return m.disconnectEvent.Listen(ch)
}

// Shutdown disconnects everything, stops scanning and waits for the
// manager goroutines to exit.
func (m *Manager) Shutdown() {
	m.logger.Println("BTManager: shutting down")
	m.mu.RLock()
	connected := make([]*deviceImpl, 0)
	for _, d := range m.devicesByAddress {
		if d.IsConnected() {
			connected = append(connected, d)
		}
	}
	m.mu.RUnlock()
	for _, d := range connected {
		if err := m.Disconnect(d); err != nil {
			m.logger.Printf("BTManager: disconnect %s: %v", d.GetAddressString(), err)
		}
	}
	if err := m.StopScan(); err != nil {
		m.logger.Printf("BTManager: stop scan: %v", err)
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Println("BTManager: shutdown complete")
}

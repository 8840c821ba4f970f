package bt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// DeviceState tracks where a device is in its connection lifecycle.
type DeviceState int

const (
	Disconnected DeviceState = iota
	Connecting
	Connected
)

func (s DeviceState) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Connecting:
		return "Connecting"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Device is the slice of a BLE peripheral the rest of the app talks to.
// All characteristic operations on a live link should go through an
// OpQueue; calling these directly is only safe during tests.
type Device interface {
	GetAddressString() string
	GetLocalName() string
	GetState() DeviceState
	IsConnected() bool
	WaitForConnection(timeout time.Duration) error
	ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error)
	WriteCharacteristic(serviceUUID, charUUID string, data []byte) error
	WriteCharacteristicWithoutResponse(serviceUUID, charUUID string, data []byte) error
	EnableNotifications(serviceUUID, charUUID string, callback func(buf []byte)) error
	DisableNotifications(serviceUUID, charUUID string) error
}

type deviceImpl struct {
	logger  *log.Logger
	address bluetooth.Address

	mu        sync.RWMutex
	localName string
	lastSeen  time.Time
	state     DeviceState
	connected *bluetooth.Device // nil while disconnected

	// Discovery cache. Discovering a single service repeatedly interrupts
	// operations on earlier services, so everything is discovered once and
	// kept here.
	discoveryMu     sync.Mutex
	services        map[string]*bluetooth.DeviceService
	characteristics map[string]*bluetooth.DeviceCharacteristic
	charsDiscovered map[string]bool
	allDiscovered   bool
}

func newDeviceImpl(logger *log.Logger, address bluetooth.Address) *deviceImpl {
	if logger == nil {
		panic("bt: logger cannot be nil")
	}
	return &deviceImpl{
		logger:          logger,
		address:         address,
		localName:       "Unknown",
		state:           Disconnected,
		services:        make(map[string]*bluetooth.DeviceService),
		characteristics: make(map[string]*bluetooth.DeviceCharacteristic),
		charsDiscovered: make(map[string]bool),
	}
}

func (d *deviceImpl) GetAddressString() string { return d.address.String() }

func (d *deviceImpl) GetLocalName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localName
}

func (d *deviceImpl) GetState() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *deviceImpl) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected != nil
}

// WaitForConnection polls until the connect handler reports the link up.
func (d *deviceImpl) WaitForConnection(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ticker.C:
			if d.IsConnected() {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("bt: timeout after %v waiting for connection to %s", timeout, d.GetAddressString())
		}
	}
}

func (d *deviceImpl) ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error) {
	char, err := d.characteristic(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, err := char.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("bt: read %s: %w", charUUID, err)
	}
	return buf[:n], nil
}

func (d *deviceImpl) WriteCharacteristic(serviceUUID, charUUID string, data []byte) error {
	return d.write(serviceUUID, charUUID, data, true)
}

func (d *deviceImpl) WriteCharacteristicWithoutResponse(serviceUUID, charUUID string, data []byte) error {
	return d.write(serviceUUID, charUUID, data, false)
}

func (d *deviceImpl) write(serviceUUID, charUUID string, data []byte, withResponse bool) error {
	char, err := d.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if withResponse {
		_, err = char.Write(data)
	} else {
		_, err = char.WriteWithoutResponse(data)
	}
	if err != nil {
		return fmt.Errorf("bt: write %s: %w", charUUID, err)
	}
	return nil
}

func (d *deviceImpl) EnableNotifications(serviceUUID, charUUID string, callback func(buf []byte)) error {
	char, err := d.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(callback); err != nil {
		return fmt.Errorf("bt: enable notifications on %s: %w", charUUID, err)
	}
	d.logger.Printf("BTDevice: notifications enabled on %s", charUUID)
	return nil
}

func (d *deviceImpl) DisableNotifications(serviceUUID, charUUID string) error {
	char, err := d.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	// A nil callback disables notifications in tinygo bluetooth.
	if err := char.EnableNotifications(nil); err != nil {
		return fmt.Errorf("bt: disable notifications on %s: %w", charUUID, err)
	}
	return nil
}

func (d *deviceImpl) setScanInfo(localName string, seen time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if localName != "" {
		d.localName = localName
	}
	d.lastSeen = seen
}

func (d *deviceImpl) getLastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

func (d *deviceImpl) setConnected(device *bluetooth.Device, state DeviceState) {
	d.mu.Lock()
	d.connected = device
	d.state = state
	d.mu.Unlock()
	if state == Disconnected {
		d.resetDiscoveryCache()
	}
}

func (d *deviceImpl) getConnected() *bluetooth.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *deviceImpl) resetDiscoveryCache() {
	d.discoveryMu.Lock()
	defer d.discoveryMu.Unlock()
	d.services = make(map[string]*bluetooth.DeviceService)
	d.characteristics = make(map[string]*bluetooth.DeviceCharacteristic)
	d.charsDiscovered = make(map[string]bool)
	d.allDiscovered = false
}

func (d *deviceImpl) service(serviceUUID string) (*bluetooth.DeviceService, error) {
	conn := d.getConnected()
	if conn == nil {
		return nil, errors.New("bt: no connected device")
	}

	if svc, ok := d.services[serviceUUID]; ok {
		return svc, nil
	}

	if !d.allDiscovered {
		d.logger.Printf("BTDevice: discovering services on %s", d.GetAddressString())
		discovered, err := conn.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("bt: discover services: %w", err)
		}
		for i := range discovered {
			svc := &discovered[i]
			d.services[svc.UUID().String()] = svc
		}
		d.allDiscovered = true
	}

	svc, ok := d.services[serviceUUID]
	if !ok {
		return nil, fmt.Errorf("bt: service %s not found on device", serviceUUID)
	}
	return svc, nil
}

func (d *deviceImpl) characteristic(serviceUUID, charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	d.discoveryMu.Lock()
	defer d.discoveryMu.Unlock()

	key := serviceUUID + "_" + charUUID
	if char, ok := d.characteristics[key]; ok {
		return char, nil
	}

	if !d.charsDiscovered[serviceUUID] {
		svc, err := d.service(serviceUUID)
		if err != nil {
			return nil, err
		}
		d.logger.Printf("BTDevice: discovering characteristics for %s", serviceUUID)
		discovered, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("bt: discover characteristics for %s: %w", serviceUUID, err)
		}
		for i := range discovered {
			char := &discovered[i]
			d.characteristics[serviceUUID+"_"+char.UUID().String()] = char
		}
		d.charsDiscovered[serviceUUID] = true
	}

	char, ok := d.characteristics[key]
	if !ok {
		return nil, fmt.Errorf("bt: characteristic %s not found in service %s", charUUID, serviceUUID)
	}
	return char, nil
}

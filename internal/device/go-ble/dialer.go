package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"

	"github.com/srg/brushlink/internal/device"
)

var (
	sharedMu  sync.Mutex
	sharedDev ble.Device
)

// SharedDevice returns the process-wide BLE adapter, creating it on first use.
// Scanning and dialing must go through the same adapter: CoreBluetooth only knows
// peripherals discovered by its own central manager.
func SharedDevice() (ble.Device, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedDev != nil {
		return sharedDev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	sharedDev = dev
	return dev, nil
}

// ResetSharedDevice stops and forgets the shared adapter.
func ResetSharedDevice() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedDev == nil {
		return nil
	}
	err := sharedDev.Stop()
	sharedDev = nil
	return err
}

// Client is the part of ble.Client that brushlink's drivers rely on.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
	// Disconnected is closed when the link drops. Nil if the platform cannot report it.
	Disconnected() <-chan struct{}
}

type client struct {
	ble.Client
}

func (c client) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	data, err := c.Client.ReadCharacteristic(ch)
	return data, NormalizeError(err)
}

func (c client) Subscribe(ch *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return NormalizeError(c.Client.Subscribe(ch, ind, h))
}

func (c client) Disconnected() <-chan struct{} {
	if dc, ok := c.Client.(interface{ Disconnected() <-chan struct{} }); ok {
		return dc.Disconnected()
	}
	return nil
}

// Dial connects to the peripheral at address through the shared adapter.
func Dial(ctx context.Context, address string) (Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := SharedDevice()
	if err != nil {
		return nil, err
	}

	cln, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w: %w", address, device.ErrTimeout, err)
		}
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}
	return client{Client: cln}, nil
}

package testutils

import (
	"errors"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/srg/brushlink/internal/device"
	goble "github.com/srg/brushlink/internal/device/go-ble"
)

// FakeClient is an in-memory GATT client. It satisfies the dialer's Client
// interface and lets tests push notifications and drop the link.
type FakeClient struct {
	mu            sync.Mutex
	profile       *blelib.Profile
	values        map[string][]byte
	readErrs      map[string]error
	handlers      map[string]blelib.NotificationHandler
	discoverErr   error
	reads         map[string]int
	cancelCalls   int
	disconnected  chan struct{}
	closeOnce     sync.Once
	noDisconnects bool
}

// NewFakeClient creates a client serving profile.
func NewFakeClient(profile *blelib.Profile) *FakeClient {
	c := &FakeClient{
		profile:      profile,
		values:       map[string][]byte{},
		readErrs:     map[string]error{},
		handlers:     map[string]blelib.NotificationHandler{},
		reads:        map[string]int{},
		disconnected: make(chan struct{}),
	}
	for _, svc := range profile.Services {
		for _, ch := range svc.Characteristics {
			c.values[device.NormalizeUUID(ch.UUID.String())] = ch.Value
		}
	}
	return c
}

// WithDiscoverError makes DiscoverProfile fail.
func (c *FakeClient) WithDiscoverError(err error) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverErr = err
	return c
}

// WithReadError makes reads of uuid fail.
func (c *FakeClient) WithReadError(uuid string, err error) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErrs[device.NormalizeUUID(uuid)] = err
	return c
}

// WithoutDisconnectReports makes Disconnected return nil, like a platform
// that cannot report link loss.
func (c *FakeClient) WithoutDisconnectReports() *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noDisconnects = true
	return c
}

// SetValue replaces the value returned for uuid.
func (c *FakeClient) SetValue(uuid string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[device.NormalizeUUID(uuid)] = value
}

func (c *FakeClient) DiscoverProfile(bool) (*blelib.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	return c.profile, nil
}

func (c *FakeClient) ReadCharacteristic(ch *blelib.Characteristic) ([]byte, error) {
	uuid := device.NormalizeUUID(ch.UUID.String())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads[uuid]++
	if err := c.readErrs[uuid]; err != nil {
		return nil, err
	}
	if ch.Property&blelib.CharRead == 0 {
		return nil, errors.New("characteristic does not support read")
	}
	return c.values[uuid], nil
}

func (c *FakeClient) Subscribe(ch *blelib.Characteristic, _ bool, h blelib.NotificationHandler) error {
	if ch.Property&(blelib.CharNotify|blelib.CharIndicate) == 0 {
		return errors.New("characteristic does not support notifications")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[device.NormalizeUUID(ch.UUID.String())] = h
	return nil
}

func (c *FakeClient) CancelConnection() error {
	c.mu.Lock()
	c.cancelCalls++
	c.mu.Unlock()
	c.Drop()
	return nil
}

func (c *FakeClient) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noDisconnects {
		return nil
	}
	return c.disconnected
}

// Notify delivers a notification for uuid. It reports false when nothing is subscribed.
func (c *FakeClient) Notify(uuid string, data []byte) bool {
	c.mu.Lock()
	h := c.handlers[device.NormalizeUUID(uuid)]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Drop simulates the peripheral going away.
func (c *FakeClient) Drop() {
	c.closeOnce.Do(func() { close(c.disconnected) })
}

// Subscribed reports whether a notification handler is registered for uuid.
func (c *FakeClient) Subscribed(uuid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[device.NormalizeUUID(uuid)]
	return ok
}

// Reads returns how many times uuid was read.
func (c *FakeClient) Reads(uuid string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[device.NormalizeUUID(uuid)]
}

// CancelCalls returns how many times CancelConnection was called.
func (c *FakeClient) CancelCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelCalls
}

var _ goble.Client = (*FakeClient)(nil)

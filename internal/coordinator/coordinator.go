// Package coordinator owns the single logical connection to one toothbrush.
//
// A Coordinator creates a driver handle per Connect, keeps the callbacks it
// registered on that handle, and tears the handle down again on Stop or after
// the link drops. Reconnection is never initiated here; the next advertisement
// seen by the host calls Connect again.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/brushlink/internal/callbacks"
	"github.com/srg/brushlink/internal/device"
	"github.com/srg/brushlink/internal/groutine"
	"github.com/srg/brushlink/internal/sonicare"
)

// ErrAddressMismatch is returned by Connect for an advertisement from another device.
var ErrAddressMismatch = errors.New("advertisement address does not match coordinator")

// Driver is the per-connection handle the coordinator drives.
type Driver interface {
	RegisterCallback(fn func(sonicare.State)) (unregister func())
	RegisterDisconnectedCallback(fn func()) (unregister func())
	Initialise(ctx context.Context) error
	Stop(ctx context.Context) error
	MarkExpectedDisconnect()
}

// DriverFactory builds a driver for the device that sent adv.
type DriverFactory func(adv device.Advertisement) Driver

// Coordinator tracks the connection to one BLE address.
type Coordinator struct {
	address   string
	factory   DriverFactory
	logger    *logrus.Logger
	listeners *callbacks.Registry[func(Event)]

	// opMu serializes Connect, Stop and the retry sequence.
	opMu sync.Mutex

	mu                   sync.RWMutex
	driver               Driver
	generation           uint64
	unregisterUpdate     func()
	unregisterDisconnect func()
	connected            bool
	state                *sonicare.State
	phase                Phase

	retries sync.WaitGroup
}

// New creates an idle coordinator for address.
func New(address string, factory DriverFactory, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		address:   address,
		factory:   factory,
		logger:    logger,
		listeners: callbacks.New[func(Event)](),
		phase:     PhaseIdle,
	}
}

// Connect replaces any live driver with a new one for adv and initialises it.
// The previous driver is fully stopped before the new one is created.
// Initialisation errors are returned; the coordinator does not retry them.
func (c *Coordinator) Connect(ctx context.Context, adv device.Advertisement) error {
	if !device.SameAddress(adv.Addr(), c.address) {
		return fmt.Errorf("%w: got %s, want %s", ErrAddressMismatch, adv.Addr(), c.address)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	// a cancelled caller (an unloaded entry) must not install a driver nobody will stop
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.stopLocked(ctx); err != nil {
		c.logger.WithFields(logrus.Fields{"address": c.address, "error": err}).Warn("Teardown of previous connection failed")
	}

	drv := c.factory(adv)

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.driver = drv
	c.unregisterUpdate = drv.RegisterCallback(func(st sonicare.State) { c.handleUpdate(gen, st) })
	c.unregisterDisconnect = drv.RegisterDisconnectedCallback(func() { c.handleDisconnect(gen) })
	c.phase = PhaseConnecting
	c.mu.Unlock()

	c.logger.WithField("address", c.address).Debug("Initialising driver")

	if err := drv.Initialise(ctx); err != nil {
		c.mu.Lock()
		if gen == c.generation && c.phase == PhaseConnecting {
			c.phase = PhaseDisconnected
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to initialise %s: %w", c.address, err)
	}
	return nil
}

// Stop tears down the live driver, if any. Safe to call repeatedly and concurrently.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked(ctx)
}

// stopLocked requires opMu.
func (c *Coordinator) stopLocked(ctx context.Context) error {
	c.mu.Lock()
	drv := c.driver
	if drv == nil {
		c.mu.Unlock()
		c.logger.WithField("address", c.address).Debug("Coordinator not active, nothing to stop")
		return nil
	}
	if c.unregisterUpdate != nil {
		c.unregisterUpdate()
		c.unregisterUpdate = nil
	}
	if c.unregisterDisconnect != nil {
		c.unregisterDisconnect()
		c.unregisterDisconnect = nil
	}
	// Anything the old driver still delivers is stale from here on.
	c.generation++
	c.mu.Unlock()

	err := drv.Stop(ctx)

	c.mu.Lock()
	c.driver = nil
	c.connected = false
	c.phase = PhaseIdle
	c.mu.Unlock()

	c.logger.WithField("address", c.address).Debug("Coordinator stopped")
	if err != nil {
		return fmt.Errorf("failed to stop driver for %s: %w", c.address, err)
	}
	return nil
}

func (c *Coordinator) handleUpdate(gen uint64, st sonicare.State) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.state = &st
	c.connected = true
	c.phase = PhaseConnected
	c.mu.Unlock()

	snapshot := st
	c.notify(Event{Kind: EventDataUpdated, Address: c.address, Connected: true, State: &snapshot})
}

func (c *Coordinator) handleDisconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	drv := c.driver
	c.connected = false
	c.phase = PhaseDisconnected
	var st *sonicare.State
	if c.state != nil {
		s := *c.state
		st = &s
	}
	c.mu.Unlock()

	c.logger.WithField("address", c.address).Info("Toothbrush disconnected")

	// Keeps the driver from re-dialing on its own before the retry sequence stops it.
	drv.MarkExpectedDisconnect()
	c.notify(Event{Kind: EventDisconnected, Address: c.address, Connected: false, State: st})

	groutine.GoTracked(context.Background(), &c.retries, "coordinator-retry", func(ctx context.Context) {
		c.retry(ctx, gen)
	})
}

// retry stops the generation that disconnected. Rediscovery is left to the host.
func (c *Coordinator) retry(ctx context.Context, gen uint64) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	current := gen == c.generation && c.driver != nil
	c.mu.RUnlock()
	if !current {
		c.logger.WithField("address", c.address).Debug("Connection already replaced, skipping retry teardown")
		return
	}

	if err := c.stopLocked(ctx); err != nil {
		c.logger.WithFields(logrus.Fields{"address": c.address, "error": err}).Warn("Retry teardown failed")
	}
}

// Wait blocks until every scheduled retry sequence has finished, or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.retries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddListener registers fn for coordinator events.
func (c *Coordinator) AddListener(fn func(Event)) (unregister func()) {
	return c.listeners.Add(fn)
}

func (c *Coordinator) notify(ev Event) {
	for _, fn := range c.listeners.Snapshot() {
		fn(ev)
	}
}

// Address returns the configured BLE address.
func (c *Coordinator) Address() string { return c.address }

// Connected reports the last known link state.
func (c *Coordinator) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// State returns the last received snapshot; ok is false before the first update.
func (c *Coordinator) State() (st sonicare.State, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return sonicare.State{}, false
	}
	return *c.state, true
}

// Phase returns the lifecycle phase.
func (c *Coordinator) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Active reports whether a driver handle is live.
func (c *Coordinator) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.driver != nil
}

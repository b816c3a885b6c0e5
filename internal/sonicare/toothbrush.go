package sonicare

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/brushlink/internal/callbacks"
	"github.com/srg/brushlink/internal/device"
	goble "github.com/srg/brushlink/internal/device/go-ble"
	"github.com/srg/brushlink/internal/groutine"
)

// ErrStopped is returned by Initialise once the driver has been stopped.
var ErrStopped = errors.New("toothbrush driver stopped")

// Dialer opens a GATT client to address. goble.Dial is the production dialer.
type Dialer func(ctx context.Context, address string) (goble.Client, error)

// Toothbrush is the driver handle for one Sonicare handle.
type Toothbrush struct {
	address string
	name    string
	dial    Dialer
	opts    Options
	logger  *logrus.Logger

	updates     *callbacks.Registry[func(State)]
	disconnects *callbacks.Registry[func()]

	mu          sync.Mutex
	client      goble.Client
	chars       map[string]*ble.Characteristic
	state       State
	generation  uint64
	initialised bool
	stopped     bool
	expected    bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a driver for the handle that sent adv. Nothing is dialed until Initialise.
func New(adv device.Advertisement, dial Dialer, opts Options, logger *logrus.Logger) *Toothbrush {
	if logger == nil {
		logger = logrus.New()
	}
	if dial == nil {
		dial = goble.Dial
	}
	return &Toothbrush{
		address:     adv.Addr(),
		name:        adv.LocalName(),
		dial:        dial,
		opts:        opts,
		logger:      logger,
		updates:     callbacks.New[func(State)](),
		disconnects: callbacks.New[func()](),
		state:       NewState(),
	}
}

// Address returns the BLE address of the handle.
func (t *Toothbrush) Address() string { return t.address }

// RegisterCallback registers fn for every state change.
func (t *Toothbrush) RegisterCallback(fn func(State)) (unregister func()) {
	return t.updates.Add(fn)
}

// RegisterDisconnectedCallback registers fn for link loss. fn runs on the
// driver's monitor goroutine and must not call Stop synchronously.
func (t *Toothbrush) RegisterDisconnectedCallback(fn func()) (unregister func()) {
	return t.disconnects.Add(fn)
}

// MarkExpectedDisconnect tells the driver the next disconnect is intentional,
// so the poll loop will not re-dial after it.
func (t *Toothbrush) MarkExpectedDisconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expected = true
}

// State returns the latest snapshot.
func (t *Toothbrush) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Initialise connects to the handle, reads its characteristics and starts
// receiving notifications. The first State is published before it returns.
func (t *Toothbrush) Initialise(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.stopped:
		t.mu.Unlock()
		return ErrStopped
	case t.initialised:
		t.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	t.initialised = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.mu.Unlock()

	if err := t.connect(ctx, loopCtx); err != nil {
		t.mu.Lock()
		t.initialised = false
		t.cancel = nil
		t.mu.Unlock()
		cancel()
		return err
	}

	if t.opts.PollInterval > 0 {
		groutine.GoTracked(loopCtx, &t.wg, "sonicare-poll", t.pollLoop)
	}
	return nil
}

// connect dials, discovers, reads and subscribes, then attaches the new client
// as the current generation.
func (t *Toothbrush) connect(ctx, loopCtx context.Context) error {
	log := t.logger.WithFields(logrus.Fields{"address": t.address, "name": t.name})
	log.Info("Connecting to toothbrush...")

	dialCtx := ctx
	if t.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.opts.ConnectTimeout)
		defer cancel()
	}

	client, err := t.dial(dialCtx, t.address)
	if err != nil {
		return fmt.Errorf("failed to connect to toothbrush %s: %w", t.address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("failed to discover profile: %w", goble.NormalizeError(err))
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			uuid := device.NormalizeUUID(c.UUID.String())
			if _, known := decoders[uuid]; known {
				chars[uuid] = c
			}
		}
	}
	if len(chars) == 0 {
		_ = client.CancelConnection()
		return fmt.Errorf("device %s exposes no Sonicare characteristics", t.address)
	}

	t.mu.Lock()
	st := t.state
	t.mu.Unlock()

	for uuid, c := range chars {
		if c.Property&ble.CharRead == 0 {
			continue
		}
		data, err := client.ReadCharacteristic(c)
		if err != nil {
			log.WithFields(logrus.Fields{"char_uuid": uuid, "error": err}).Warn("Failed to read characteristic")
			continue
		}
		if err := st.Apply(uuid, data); err != nil {
			log.WithError(err).Warn("Ignoring malformed characteristic value")
		}
	}
	st.UpdatedAt = time.Now()

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		_ = client.CancelConnection()
		return ErrStopped
	}
	t.generation++
	gen := t.generation
	t.client = client
	t.chars = chars
	t.state = st
	t.expected = false
	t.mu.Unlock()

	for uuid, c := range chars {
		if c.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
			continue
		}
		indicate := c.Property&ble.CharNotify == 0
		if err := client.Subscribe(c, indicate, t.notificationHandler(gen, uuid)); err != nil {
			log.WithFields(logrus.Fields{"char_uuid": uuid, "error": err}).Warn("Failed to subscribe to characteristic")
		}
	}

	if dc := client.Disconnected(); dc != nil {
		groutine.GoTracked(loopCtx, &t.wg, "sonicare-monitor", func(ctx context.Context) {
			select {
			case <-ctx.Done():
			case <-dc:
				t.onDisconnected(gen)
			}
		})
	}

	log.WithField("characteristics", len(chars)).Info("Toothbrush connected")
	t.publish(st)
	return nil
}

func (t *Toothbrush) notificationHandler(gen uint64, uuid string) ble.NotificationHandler {
	return func(data []byte) {
		t.mu.Lock()
		if gen != t.generation || t.client == nil {
			t.mu.Unlock()
			return
		}
		if err := t.state.Apply(uuid, data); err != nil {
			t.mu.Unlock()
			t.logger.WithError(err).Warn("Ignoring malformed notification")
			return
		}
		t.state.UpdatedAt = time.Now()
		st := t.state
		t.mu.Unlock()

		t.publish(st)
	}
}

func (t *Toothbrush) onDisconnected(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.client == nil {
		t.mu.Unlock()
		return
	}
	t.client = nil
	t.chars = nil
	expected := t.expected
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"address":  t.address,
		"expected": expected,
	}).Info("Toothbrush disconnected")

	for _, fn := range t.disconnects.Snapshot() {
		fn()
	}
}

func (t *Toothbrush) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

// poll refreshes the battery level, or re-dials after an unexpected disconnect.
func (t *Toothbrush) poll(ctx context.Context) {
	t.mu.Lock()
	client, stopped, expected := t.client, t.stopped, t.expected
	gen := t.generation
	battery := t.chars[batteryLevelUUID]
	t.mu.Unlock()

	if stopped {
		return
	}

	if client == nil {
		if expected {
			t.logger.WithField("address", t.address).Debug("Disconnect was expected, not reconnecting")
			return
		}
		t.logger.WithField("address", t.address).Info("Reconnecting to toothbrush")
		if err := t.connect(ctx, ctx); err != nil {
			t.logger.WithError(err).Warn("Reconnect failed")
		}
		return
	}

	if battery == nil {
		return
	}
	data, err := client.ReadCharacteristic(battery)
	if err != nil {
		t.logger.WithError(err).Debug("Battery poll failed")
		return
	}

	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	if err := t.state.Apply(batteryLevelUUID, data); err != nil {
		t.mu.Unlock()
		t.logger.WithError(err).Warn("Ignoring malformed battery level")
		return
	}
	t.state.UpdatedAt = time.Now()
	st := t.state
	t.mu.Unlock()

	t.publish(st)
}

func (t *Toothbrush) publish(st State) {
	for _, fn := range t.updates.Snapshot() {
		fn(st)
	}
}

// Stop disconnects and waits for the driver goroutines to exit, or for ctx.
// Safe to call more than once.
func (t *Toothbrush) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.expected = true
	t.generation++
	client := t.client
	t.client = nil
	t.chars = nil
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	t.logger.WithField("address", t.address).Debug("Stopping toothbrush driver")

	if cancel != nil {
		cancel()
	}

	var errs []error
	if client != nil {
		if err := client.CancelConnection(); err != nil {
			errs = append(errs, fmt.Errorf("cancel connection: %w", goble.NormalizeError(err)))
		}
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for driver goroutines: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

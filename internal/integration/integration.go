// Package integration is the host side of brushlink: it turns configured
// entries into coordinators, feeds them advertisements from discovery, and
// publishes their events and sensors.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/brushlink/internal/callbacks"
	"github.com/srg/brushlink/internal/coordinator"
	"github.com/srg/brushlink/internal/device"
	"github.com/srg/brushlink/internal/discovery"
	"github.com/srg/brushlink/internal/groutine"
	"github.com/srg/brushlink/internal/ringchan"
	"github.com/srg/brushlink/internal/sonicare"
)

// Discovery is the advertisement source entries subscribe to.
type Discovery interface {
	RegisterCallback(m discovery.Matcher, cb discovery.Callback) (unregister func())
	LastSeen(address string) (discovery.Sighting, bool)
}

type runtime struct {
	entry   Entry
	coord   *coordinator.Coordinator
	unloads []func()

	ctx        context.Context
	cancel     context.CancelFunc
	dispatches sync.WaitGroup
	connecting atomic.Bool
}

func (rt *runtime) onUnload(fn func()) {
	rt.unloads = append(rt.unloads, fn)
}

// Integration manages every configured entry.
type Integration struct {
	discovery Discovery
	factory   coordinator.DriverFactory
	logger    *logrus.Logger

	// mu serializes entry setup, unload and reload.
	mu          sync.Mutex
	entries     *hashmap.Map[string, *runtime]
	subscribers *callbacks.Registry[*ringchan.RingChannel[Event]]
}

// New creates an integration with no entries.
func New(disc Discovery, factory coordinator.DriverFactory, logger *logrus.Logger) *Integration {
	if logger == nil {
		logger = logrus.New()
	}
	return &Integration{
		discovery:   disc,
		factory:     factory,
		logger:      logger,
		entries:     hashmap.New[string, *runtime](),
		subscribers: callbacks.New[*ringchan.RingChannel[Event]](),
	}
}

// SetupEntry creates the coordinator for e and starts reacting to its advertisements.
func (i *Integration) SetupEntry(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	return i.setupLocked(ctx, e)
}

func (i *Integration) setupLocked(_ context.Context, e Entry) error {
	if _, exists := i.entries.Get(e.ID); exists {
		return fmt.Errorf("%w: %s", ErrEntryExists, e.ID)
	}

	rt := &runtime{
		entry: e,
		coord: coordinator.New(e.Address, i.factory, i.logger),
	}
	rt.ctx, rt.cancel = context.WithCancel(context.Background())

	rt.onUnload(rt.coord.AddListener(func(ev coordinator.Event) {
		i.publish(Event{EntryID: e.ID, Event: ev})
	}))
	rt.onUnload(i.discovery.RegisterCallback(discovery.Matcher{Address: e.Address}, func(adv device.Advertisement) {
		i.handleAdvertisement(rt, adv)
	}))

	i.entries.Set(e.ID, rt)
	i.logger.WithFields(logrus.Fields{"entry_id": e.ID, "address": e.Address}).Info("Entry set up")
	return nil
}

// handleAdvertisement runs on the scan goroutine. A healthy or in-progress
// connection is left alone, and at most one Connect per entry is in flight.
func (i *Integration) handleAdvertisement(rt *runtime, adv device.Advertisement) {
	switch rt.coord.Phase() {
	case coordinator.PhaseConnecting, coordinator.PhaseConnected:
		return
	}
	if rt.ctx.Err() != nil || !rt.connecting.CompareAndSwap(false, true) {
		return
	}

	groutine.GoTracked(rt.ctx, &rt.dispatches, "connect-"+rt.entry.ID, func(ctx context.Context) {
		defer rt.connecting.Store(false)
		if ctx.Err() != nil {
			return
		}
		if err := rt.coord.Connect(ctx, adv); err != nil {
			if ctx.Err() != nil {
				return
			}
			i.logger.WithFields(logrus.Fields{
				"entry_id":  rt.entry.ID,
				"address":   rt.entry.Address,
				"goroutine": groutine.GetName(ctx),
				"error":     err,
			}).Warn("Failed to connect to toothbrush")
		}
	})
}

// UnloadEntry stops the entry's coordinator and forgets it.
func (i *Integration) UnloadEntry(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unloadLocked(ctx, id)
}

func (i *Integration) unloadLocked(ctx context.Context, id string) error {
	rt, ok := i.entries.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	i.entries.Del(id)

	for j := len(rt.unloads) - 1; j >= 0; j-- {
		rt.unloads[j]()
	}
	rt.cancel()

	var errs []error
	if err := waitGroup(ctx, &rt.dispatches); err != nil {
		errs = append(errs, fmt.Errorf("waiting for connect of %s: %w", id, err))
	}
	if err := rt.coord.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := rt.coord.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for teardown of %s: %w", id, err))
	}

	i.logger.WithField("entry_id", id).Info("Entry unloaded")
	return errors.Join(errs...)
}

// UpdateEntry applies a changed entry. It reloads the entry when the title or
// address changed and reports whether it did.
func (i *Integration) UpdateEntry(ctx context.Context, e Entry) (reloaded bool, err error) {
	if err := e.Validate(); err != nil {
		return false, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	rt, ok := i.entries.Get(e.ID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrEntryNotFound, e.ID)
	}
	if rt.entry == e {
		return false, nil
	}

	i.logger.WithField("entry_id", e.ID).Info("Entry changed, reloading")
	if err := i.unloadLocked(ctx, e.ID); err != nil {
		i.logger.WithFields(logrus.Fields{"entry_id": e.ID, "error": err}).Warn("Unload during reload failed")
	}
	return true, i.setupLocked(ctx, e)
}

// StopEntry tears down the entry's connection without unloading it. The next
// advertisement reconnects.
func (i *Integration) StopEntry(ctx context.Context, id string) error {
	rt, ok := i.entries.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return rt.coord.Stop(ctx)
}

// Shutdown is the process-stop event: every entry is unloaded and every
// subscription closed.
func (i *Integration) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var ids []string
	i.entries.Range(func(id string, _ *runtime) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := i.unloadLocked(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	for _, rc := range i.subscribers.Snapshot() {
		rc.Close()
	}
	i.subscribers.Clear()

	i.logger.WithField("entries", len(ids)).Info("Integration shut down")
	return errors.Join(errs...)
}

// Entries returns every entry ordered by id.
func (i *Integration) Entries() []EntryStatus {
	var out []EntryStatus
	i.entries.Range(func(_ string, rt *runtime) bool {
		out = append(out, i.status(rt))
		return true
	})
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Entry returns one entry.
func (i *Integration) Entry(id string) (EntryStatus, bool) {
	rt, ok := i.entries.Get(id)
	if !ok {
		return EntryStatus{}, false
	}
	return i.status(rt), true
}

// Sensors returns the sensors of one entry.
func (i *Integration) Sensors(id string) ([]Sensor, error) {
	rt, ok := i.entries.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	var st *sonicare.State
	if s, ok := rt.coord.State(); ok {
		st = &s
	}
	return buildSensors(rt.entry.DisplayName(), st, rt.coord.Connected()), nil
}

func (i *Integration) status(rt *runtime) EntryStatus {
	s := EntryStatus{
		Entry:     rt.entry,
		Phase:     rt.coord.Phase(),
		Connected: rt.coord.Connected(),
	}
	if st, ok := rt.coord.State(); ok {
		s.State = &st
	}
	if seen, ok := i.discovery.LastSeen(rt.entry.Address); ok {
		s.LastSeen = &seen
	}
	return s
}

// Subscribe returns a drop-oldest channel of events from every entry.
// unsubscribe closes the channel.
func (i *Integration) Subscribe(buffer int) (events *ringchan.RingChannel[Event], unsubscribe func()) {
	rc := ringchan.New[Event](buffer)
	unregister := i.subscribers.Add(rc)
	return rc, func() {
		unregister()
		rc.Close()
	}
}

func (i *Integration) publish(ev Event) {
	for _, rc := range i.subscribers.Snapshot() {
		rc.Send(ev)
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

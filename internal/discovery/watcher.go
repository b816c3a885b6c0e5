// Package discovery runs the BLE scan and hands advertisements to the
// components that asked for a given address.
package discovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/brushlink/internal/callbacks"
	"github.com/srg/brushlink/internal/device"
)

// Matcher selects advertisements. An empty Address matches every device.
type Matcher struct {
	Address string
}

// Matches reports whether adv passes the matcher.
func (m Matcher) Matches(adv device.Advertisement) bool {
	return m.Address == "" || device.SameAddress(m.Address, adv.Addr())
}

// Callback receives matching advertisements on the scan goroutine. It must not block.
type Callback func(adv device.Advertisement)

// Sighting is the latest advertisement seen from one address.
type Sighting struct {
	Address string    `json:"address"`
	Name    string    `json:"name,omitempty"`
	RSSI    int       `json:"rssi"`
	At      time.Time `json:"at"`
}

type registration struct {
	matcher Matcher
	cb      Callback
}

// Options tunes a Watcher.
type Options struct {
	AllowDuplicates bool
	// RestartDelay is the pause before scanning again after the scan ends on its own.
	RestartDelay time.Duration
}

// Watcher scans continuously and dispatches advertisements to registered callbacks.
type Watcher struct {
	scanner device.ScanningDevice
	opts    Options
	logger  *logrus.Logger

	registrations *callbacks.Registry[registration]
	sightings     *hashmap.Map[string, Sighting]
}

// NewWatcher creates a watcher on scanner.
func NewWatcher(scanner device.ScanningDevice, opts Options, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 5 * time.Second
	}
	return &Watcher{
		scanner:       scanner,
		opts:          opts,
		logger:        logger,
		registrations: callbacks.New[registration](),
		sightings:     hashmap.New[string, Sighting](),
	}
}

// RegisterCallback delivers advertisements matching m to cb until unregister is called.
func (w *Watcher) RegisterCallback(m Matcher, cb Callback) (unregister func()) {
	return w.registrations.Add(registration{matcher: m, cb: cb})
}

// LastSeen returns the latest sighting of address.
func (w *Watcher) LastSeen(address string) (Sighting, bool) {
	return w.sightings.Get(sightingKey(address))
}

// Run scans until ctx is done. A scan that ends by itself is restarted after
// RestartDelay; an unsupported or powered-off adapter is returned as an error.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		w.logger.WithField("allow_duplicates", w.opts.AllowDuplicates).Debug("Starting BLE scan")
		err := w.scanner.Scan(ctx, w.opts.AllowDuplicates, w.dispatch)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, device.ErrUnsupported) || errors.Is(err, device.ErrBluetoothOff) {
			return err
		}
		if err != nil {
			w.logger.WithError(err).Warn("BLE scan failed, restarting")
		} else {
			w.logger.Debug("BLE scan ended, restarting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.opts.RestartDelay):
		}
	}
}

func (w *Watcher) dispatch(adv device.Advertisement) {
	w.sightings.Set(sightingKey(adv.Addr()), Sighting{
		Address: adv.Addr(),
		Name:    adv.LocalName(),
		RSSI:    adv.RSSI(),
		At:      time.Now(),
	})

	for _, reg := range w.registrations.Snapshot() {
		if reg.matcher.Matches(adv) {
			reg.cb(adv)
		}
	}
}

func sightingKey(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

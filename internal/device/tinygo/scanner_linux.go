//go:build linux

package tinygo

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/brushlink/internal/device"
	"tinygo.org/x/bluetooth"
)

const stopRetryInterval = 100 * time.Millisecond

// Scanner implements device.ScanningDevice on top of a tinygo bluetooth adapter.
type Scanner struct {
	adapter  *bluetooth.Adapter
	services []bluetooth.UUID
	logger   *logrus.Logger

	enableOnce sync.Once
	enableErr  error
}

// NewScanner creates a scanner on the default BlueZ adapter. BlueZ does not hand
// out the raw advertised service list, so advertisements only report the services
// passed here that they actually carry.
func NewScanner(services []string, logger *logrus.Logger) (device.ScanningDevice, error) {
	if logger == nil {
		logger = logrus.New()
	}

	uuids := make([]bluetooth.UUID, 0, len(services))
	for _, s := range services {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("parse service UUID %q: %w", s, err)
		}
		uuids = append(uuids, u)
	}

	return &Scanner{
		adapter:  bluetooth.DefaultAdapter,
		services: uuids,
		logger:   logger,
	}, nil
}

// Scan blocks until ctx is done. allowDup is ignored: BlueZ reports every property change.
func (s *Scanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	if ctx.Err() != nil {
		return nil
	}

	s.enableOnce.Do(func() {
		s.enableErr = s.adapter.Enable()
	})
	if s.enableErr != nil {
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, s.enableErr)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		// StopScan is a no-op until adapter.Scan is running, so keep asking.
		ticker := time.NewTicker(stopRetryInterval)
		defer ticker.Stop()
		for {
			if err := s.adapter.StopScan(); err != nil {
				s.logger.WithError(err).Debug("StopScan failed")
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		handler(s.wrap(result))
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func (s *Scanner) wrap(result bluetooth.ScanResult) device.Advertisement {
	adv := &advertisement{
		addr: result.Address.String(),
		name: result.LocalName(),
		rssi: int(result.RSSI),
	}

	// go-ble reports manufacturer data as company id (LE) followed by the payload
	if md := result.ManufacturerData(); len(md) > 0 {
		buf := make([]byte, 2, 2+len(md[0].Data))
		binary.LittleEndian.PutUint16(buf, md[0].CompanyID)
		adv.manuf = append(buf, md[0].Data...)
	}

	for _, sd := range result.ServiceData() {
		adv.serviceData = append(adv.serviceData, struct {
			UUID string
			Data []byte
		}{UUID: sd.UUID.String(), Data: sd.Data})
	}

	for _, u := range s.services {
		if result.HasServiceUUID(u) {
			adv.services = append(adv.services, u.String())
		}
	}
	return adv
}

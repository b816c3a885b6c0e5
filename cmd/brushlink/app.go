package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/brushlink/internal/api"
	"github.com/srg/brushlink/internal/coordinator"
	"github.com/srg/brushlink/internal/device"
	goble "github.com/srg/brushlink/internal/device/go-ble"
	"github.com/srg/brushlink/internal/device/tinygo"
	"github.com/srg/brushlink/internal/discovery"
	"github.com/srg/brushlink/internal/groutine"
	"github.com/srg/brushlink/internal/integration"
	"github.com/srg/brushlink/internal/sonicare"
	"github.com/srg/brushlink/pkg/config"
)

// Backend hooks, replaced in tests.
var (
	scannerFactory                 = newScanner
	dialer         sonicare.Dialer = goble.Dial
)

func newScanner(cfg *config.Config, logger *logrus.Logger) (device.ScanningDevice, error) {
	switch cfg.Bluetooth.Backend {
	case config.BackendTinyGo:
		return tinygo.NewScanner([]string{sonicare.ServiceUUID}, logger)
	default:
		return goble.NewScanner()
	}
}

// app is one running bridge: discovery, the integration and the optional API.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	integ  *integration.Integration
	server *api.Server

	cancelScan context.CancelFunc
	scanDone   chan error
}

func startApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	scanner, err := scannerFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s scanner: %w", cfg.Bluetooth.Backend, err)
	}

	watcher := discovery.NewWatcher(scanner, cfg.WatcherOptions(), logger)
	opts := cfg.DriverOptions()
	factory := func(adv device.Advertisement) coordinator.Driver {
		return sonicare.New(adv, dialer, opts, logger)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		integ:    integration.New(watcher, factory, logger),
		scanDone: make(chan error, 1),
	}

	if cfg.API.Enabled {
		a.server = api.New(a.integ, cfg.API.Listen, logger)
		if err := a.server.Start(); err != nil {
			return nil, err
		}
	}

	for _, e := range cfg.Entries {
		if err := a.integ.SetupEntry(ctx, e); err != nil {
			logger.WithError(err).WithField("entry", e.ID).Error("Failed to set up entry")
		}
	}

	scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelScan = cancel
	groutine.Go(scanCtx, "discovery", func(ctx context.Context) {
		a.scanDone <- watcher.Run(ctx)
	})

	logger.WithFields(logrus.Fields{
		"entries": len(cfg.Entries),
		"backend": cfg.Bluetooth.Backend,
	}).Info("brushlink started")
	return a, nil
}

// wait blocks until ctx is done or discovery fails for good.
func (a *app) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-a.scanDone:
		// Run only returns early on a fatal adapter error.
		a.scanDone <- err
		return err
	}
}

// shutdown stops the API first, then every entry, then discovery.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api: %w", err))
		}
	}
	if err := a.integ.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("integration: %w", err))
	}

	a.cancelScan()
	select {
	case <-a.scanDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("discovery: %w", ctx.Err()))
	}
	if err := goble.ResetSharedDevice(); err != nil {
		errs = append(errs, fmt.Errorf("bluetooth adapter: %w", err))
	}

	a.logger.Info("brushlink stopped")
	return errors.Join(errs...)
}

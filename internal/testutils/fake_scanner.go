package testutils

import (
	"context"
	"sync"

	"github.com/srg/brushlink/internal/device"
)

// FakeScanner replays canned advertisements and then streams anything pushed
// with Emit until the scan context ends.
type FakeScanner struct {
	mu      sync.Mutex
	replay  []device.Advertisement
	live    chan device.Advertisement
	err     error
	scans   int
	started chan struct{}
	once    sync.Once
}

// NewFakeScanner creates a scanner that replays ads at the start of every scan.
func NewFakeScanner(ads ...device.Advertisement) *FakeScanner {
	return &FakeScanner{
		replay:  ads,
		live:    make(chan device.Advertisement, 16),
		started: make(chan struct{}),
	}
}

// WithError makes Scan fail immediately.
func (s *FakeScanner) WithError(err error) *FakeScanner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

func (s *FakeScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	s.mu.Lock()
	s.scans++
	err := s.err
	replay := append([]device.Advertisement(nil), s.replay...)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, adv := range replay {
		handler(adv)
	}
	s.once.Do(func() { close(s.started) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case adv := <-s.live:
			handler(adv)
		}
	}
}

// Emit queues an advertisement for the running scan.
func (s *FakeScanner) Emit(adv device.Advertisement) {
	s.live <- adv
}

// Started is closed once the first scan has replayed its canned advertisements.
func (s *FakeScanner) Started() <-chan struct{} {
	return s.started
}

// Scans returns how many times Scan was called.
func (s *FakeScanner) Scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

var _ device.ScanningDevice = (*FakeScanner)(nil)

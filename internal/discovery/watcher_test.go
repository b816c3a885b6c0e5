package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/brushlink/internal/device"
	"github.com/srg/brushlink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu    sync.Mutex
	addrs []string
}

func (c *collector) add(adv device.Advertisement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrs = append(c.addrs, adv.Addr())
}

func (c *collector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.addrs...)
}

func TestMatcher(t *testing.T) {
	adv := testutils.CreateMockAdvertisement("Philips Sonicare", "AA:BB:CC:DD:EE:FF", -50).Build()

	assert.True(t, Matcher{}.Matches(adv))
	assert.True(t, Matcher{Address: "aa:bb:cc:dd:ee:ff"}.Matches(adv))
	assert.True(t, Matcher{Address: " AA:BB:CC:DD:EE:FF "}.Matches(adv))
	assert.False(t, Matcher{Address: "AA:BB:CC:DD:EE:00"}.Matches(adv))
}

func TestWatcher_DispatchesByAddress(t *testing.T) {
	brush := testutils.CreateMockAdvertisement("Philips Sonicare", "AA:BB:CC:DD:EE:FF", -50).Build()
	other := testutils.CreateMockAdvertisement("Heart Rate", "11:22:33:44:55:66", -70).Build()
	scanner := testutils.NewFakeScanner(brush, other)
	w := NewWatcher(scanner, Options{AllowDuplicates: true}, testutils.NewTestHelper(t).Logger)

	var mine, all, gone collector
	w.RegisterCallback(Matcher{Address: "aa:bb:cc:dd:ee:ff"}, mine.add)
	w.RegisterCallback(Matcher{}, all.add)
	unregister := w.RegisterCallback(Matcher{}, gone.add)
	unregister()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-scanner.Started()
	scanner.Emit(brush)
	require.Eventually(t, func() bool { return len(mine.get()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"AA:BB:CC:DD:EE:FF", "AA:BB:CC:DD:EE:FF"}, mine.get())
	assert.Len(t, all.get(), 3)
	assert.Empty(t, gone.get())

	seen, ok := w.LastSeen("aa:bb:cc:dd:ee:ff")
	require.True(t, ok)
	assert.Equal(t, "Philips Sonicare", seen.Name)
	assert.Equal(t, -50, seen.RSSI)
	assert.False(t, seen.At.IsZero())

	_, ok = w.LastSeen("00:00:00:00:00:00")
	assert.False(t, ok)
}

func TestWatcher_FatalAdapterErrors(t *testing.T) {
	for _, sentinel := range []error{device.ErrUnsupported, device.ErrBluetoothOff} {
		scanner := testutils.NewFakeScanner().WithError(sentinel)
		w := NewWatcher(scanner, Options{}, nil)
		err := w.Run(context.Background())
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, scanner.Scans())
	}
}

func TestWatcher_RestartsAfterTransientError(t *testing.T) {
	scanner := testutils.NewFakeScanner().WithError(errors.New("hci: command disallowed"))
	w := NewWatcher(scanner, Options{RestartDelay: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return scanner.Scans() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

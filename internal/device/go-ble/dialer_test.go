package goble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/brushlink/internal/device"
)

// stubDevice implements only what Dial and ResetSharedDevice touch.
type stubDevice struct {
	ble.Device
	dialErr error
	stops   int
}

func (d *stubDevice) Dial(ctx context.Context, _ ble.Addr) (ble.Client, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *stubDevice) Stop() error {
	d.stops++
	return nil
}

func useStubDevice(t *testing.T, dev *stubDevice) {
	t.Helper()

	require.NoError(t, ResetSharedDevice())
	orig := DeviceFactory
	DeviceFactory = func() (ble.Device, error) { return dev, nil }
	t.Cleanup(func() {
		_ = ResetSharedDevice()
		DeviceFactory = orig
	})
}

func TestDial_DeadlineMapsToTimeout(t *testing.T) {
	useStubDevice(t, &stubDevice{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, "AA:BB:CC:DD:EE:01")
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial_CancelIsNotTimeout(t *testing.T) {
	useStubDevice(t, &stubDevice{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dial(ctx, "AA:BB:CC:DD:EE:01")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, device.ErrTimeout)
}

func TestDial_NormalizesAdapterErrors(t *testing.T) {
	useStubDevice(t, &stubDevice{dialErr: errors.New("Bluetooth is turned off")})

	_, err := Dial(context.Background(), "AA:BB:CC:DD:EE:01")
	require.Error(t, err)
	assert.True(t, device.IsConnectionState(err, device.BluetoothOff))
}

func TestSharedDevice_ReusedUntilReset(t *testing.T) {
	dev := &stubDevice{}
	useStubDevice(t, dev)

	first, err := SharedDevice()
	require.NoError(t, err)
	second, err := SharedDevice()
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, ResetSharedDevice())
	assert.Equal(t, 1, dev.stops)

	// nothing left to stop
	require.NoError(t, ResetSharedDevice())
	assert.Equal(t, 1, dev.stops)
}

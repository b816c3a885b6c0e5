package goble

import (
	"context"
	"errors"
	"testing"

	"github.com/srg/brushlink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{
			name:   "powered off central manager",
			input:  errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			target: device.ErrBluetoothOff,
		},
		{
			name:   "bluetooth turned off",
			input:  errors.New("Bluetooth is turned off"),
			target: device.ErrBluetoothOff,
		},
		{
			name:   "device not connected",
			input:  errors.New("device not connected"),
			target: device.ErrNotConnected,
		},
		{
			name:   "peripheral disconnected",
			input:  errors.New("peripheral disconnected"),
			target: device.ErrNotConnected,
		},
		{
			name:   "already connected",
			input:  errors.New("Device already connected"),
			target: device.ErrAlreadyConnected,
		},
		{
			name:   "not initialized",
			input:  errors.New("connection is not initialized"),
			target: device.ErrNotInitialized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.input)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), tt.input.Error())
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})

	t.Run("unknown errors pass through", func(t *testing.T) {
		orig := errors.New("att: insufficient authentication")
		assert.Same(t, orig, NormalizeError(orig))
	})
}

func TestDial_EmptyAddress(t *testing.T) {
	_, err := Dial(context.Background(), "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device address is empty")
}

package testutils

import (
	"context"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/brushlink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileBuilder_FromJSON(t *testing.T) {
	profile := CreateMockProfileFromJSON(`{
		"services": [
			{
				"uuid": "180F",
				"characteristics": [
					{ "uuid": "2A19", "properties": "read,notify", "value": [80] }
				]
			}
		]
	}`).Build()

	require.Len(t, profile.Services, 1)
	require.Len(t, profile.Services[0].Characteristics, 1)
	ch := profile.Services[0].Characteristics[0]
	assert.Equal(t, "2a19", device.NormalizeUUID(ch.UUID.String()))
	assert.Equal(t, blelib.CharRead|blelib.CharNotify, ch.Property)
	assert.Equal(t, []byte{80}, ch.Value)
}

func TestProfileBuilder_WithCharacteristicWithoutService(t *testing.T) {
	assert.Panics(t, func() {
		NewProfileBuilder().WithCharacteristic("2a19", "read", nil)
	})
}

func TestFakeClient(t *testing.T) {
	client := CreateMockProfile().
		WithService("180F").
		WithCharacteristic("2A19", "read,notify", []byte{42}).
		WithCharacteristic("2A24", "notify", nil).
		BuildClient()

	profile, err := client.DiscoverProfile(true)
	require.NoError(t, err)
	battery := profile.Services[0].Characteristics[0]
	model := profile.Services[0].Characteristics[1]

	data, err := client.ReadCharacteristic(battery)
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, data)
	assert.Equal(t, 1, client.Reads("2a19"))

	_, err = client.ReadCharacteristic(model)
	assert.Error(t, err)

	var got []byte
	require.NoError(t, client.Subscribe(battery, false, func(b []byte) { got = b }))
	assert.True(t, client.Subscribed("2A19"))
	assert.True(t, client.Notify("2a19", []byte{7}))
	assert.Equal(t, []byte{7}, got)
	assert.False(t, client.Notify("2a24", []byte{1}))

	require.NoError(t, client.CancelConnection())
	select {
	case <-client.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("Disconnected was not closed by CancelConnection")
	}
	assert.Equal(t, 1, client.CancelCalls())
}

func TestAdvertisementBuilder_FromJSON(t *testing.T) {
	adv := CreateMockAdvertisementFromJSON(`{
		"name": "Philips Sonicare",
		"address": "AA:BB:CC:DD:EE:FF",
		"rssi": -61,
		"services": ["477ea600-a260-11e4-ae37-0002a5d50001"],
		"serviceData": {"fe07": "AQI="}
	}`).Build()

	assert.Equal(t, "Philips Sonicare", adv.LocalName())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", adv.Addr())
	assert.Equal(t, -61, adv.RSSI())
	assert.Equal(t, 127, adv.TxPowerLevel())
	assert.True(t, adv.Connectable())
	require.Len(t, adv.ServiceData(), 1)
	assert.Equal(t, []byte{1, 2}, adv.ServiceData()[0].Data)
}

func TestFakeScanner(t *testing.T) {
	first := CreateMockAdvertisement("a", "11:11:11:11:11:11", -40).Build()
	second := CreateMockAdvertisement("b", "22:22:22:22:22:22", -40).Build()
	scanner := NewFakeScanner(first)

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- scanner.Scan(ctx, true, func(adv device.Advertisement) { seen <- adv.Addr() })
	}()

	<-scanner.Started()
	scanner.Emit(second)
	assert.Equal(t, first.Addr(), <-seen)
	assert.Equal(t, second.Addr(), <-seen)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, 1, scanner.Scans())
}

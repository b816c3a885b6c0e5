package device

import (
	"context"
	"strings"
)

// ScanningDevice represents a BLE adapter capable of scanning for advertisements
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Advertisement is a single advertising report received from a peripheral
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []struct {
		UUID string
		Data []byte
	}

	Services() []string
	TxPowerLevel() int
	Connectable() bool

	RSSI() int
	Addr() string
}

// SameAddress reports whether two BLE addresses refer to the same device.
// Addresses are compared case-insensitively; on macOS they are CoreBluetooth UUIDs.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// AdvertisesService reports whether adv lists the given service UUID.
func AdvertisesService(adv Advertisement, uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, s := range adv.Services() {
		if NormalizeUUID(s) == want {
			return true
		}
	}
	return false
}

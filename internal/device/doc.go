// Package device defines the backend-neutral view of Bluetooth Low Energy
// peripherals used by brushlink: advertisements seen while scanning, the
// scanning capability itself, and the connection error taxonomy shared by
// every BLE backend.
//
// Concrete backends live in sub-packages:
//   - go-ble: CoreBluetooth (macOS) and HCI (Linux) via github.com/go-ble/ble
//   - tinygo: BlueZ over D-Bus via tinygo.org/x/bluetooth (scanning only)
package device

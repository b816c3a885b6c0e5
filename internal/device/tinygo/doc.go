// Package tinygo scans for BLE advertisements through BlueZ over D-Bus using
// tinygo.org/x/bluetooth. Unlike the go-ble HCI backend it needs no raw socket
// privileges, which makes it the practical choice for unprivileged Linux daemons.
// Only scanning is provided; connections still go through go-ble.
package tinygo

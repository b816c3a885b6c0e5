package main

import (
	"errors"
	"fmt"
	"net"

	"github.com/srg/brushlink/internal/device"
)

// FormatUserError turns common failures into a message with a hint.
func FormatUserError(err error) string {
	var opErr *net.OpError

	switch {
	case err == nil:
		return ""
	case device.IsConnectionState(err, device.BluetoothOff):
		return fmt.Sprintf("%v\nHint: make sure the Bluetooth adapter is present and powered on", err)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v\nHint: try the other backend with --backend (go-ble or tinygo)", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v\nHint: move closer to the toothbrush or raise driver.connect_timeout", err)
	case errors.As(err, &opErr) && opErr.Op == "listen":
		return fmt.Sprintf("%v\nHint: another process may be using the address; change api.listen or pass --listen", err)
	default:
		return err.Error()
	}
}

//go:build !linux

package tinygo

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/brushlink/internal/device"
)

// NewScanner reports that the BlueZ backend is unavailable on this platform.
func NewScanner(_ []string, _ *logrus.Logger) (device.ScanningDevice, error) {
	return nil, fmt.Errorf("tinygo backend requires BlueZ: %w", device.ErrUnsupported)
}

//go:build linux

package tinygo

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/brushlink/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestScan_CancelledContextReturnsWithoutAdapter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// no adapter: touching it would panic
	s := &Scanner{logger: logrus.New()}
	called := false
	err := s.Scan(ctx, false, func(device.Advertisement) { called = true })

	assert.NoError(t, err)
	assert.False(t, called)
}

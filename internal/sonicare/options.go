package sonicare

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Options tunes a Toothbrush.
type Options struct {
	// ConnectTimeout bounds dialing.
	ConnectTimeout time.Duration `default:"30s"`
	// PollInterval is how often the battery is re-read while connected, and how
	// often a re-dial is attempted after an unexpected disconnect. Zero disables polling.
	PollInterval time.Duration `default:"1m"`
}

// DefaultOptions returns Options populated from the struct tag defaults.
func DefaultOptions() Options {
	var opts Options
	defaults.SetDefaults(&opts)
	return opts
}

package sync

import (
	"fmt"
	"strings"
)

// Mode selects the reconciliation strategy against the configured relay.
type Mode int

const (
	// ModeAuto tries set reconciliation and falls back to plain subscribe
	// if the relay rejects it.
	ModeAuto Mode = iota

	// ModeNegentropy forces the set-reconciliation protocol.
	ModeNegentropy

	// ModeSubscribe forces plain fetch+subscribe.
	ModeSubscribe
)

// String returns the configuration spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeNegentropy:
		return "negentropy"
	case ModeSubscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// ParseMode parses a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return ModeAuto, nil
	case "negentropy":
		return ModeNegentropy, nil
	case "subscribe":
		return ModeSubscribe, nil
	default:
		return ModeAuto, fmt.Errorf("unknown sync mode %q (want auto, negentropy, or subscribe)", s)
	}
}

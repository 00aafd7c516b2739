// Package config holds the helper's startup configuration: the browser
// argument, app version, and the reader/card wait timeouts, which are
// configuration options rather than baked-in constants.
package config

import (
	"fmt"
	"time"
)

// AppVersion is reported by the status command and embedded in every
// AuthenticationToken.
const AppVersion = "2.0.0"

// Options holds the per-process configuration resolved at startup.
type Options struct {
	// Browser identifies the invoking browser, from the single CLI
	// positional argument (used by the extension manifest).
	Browser string

	// WaitForReaderTimeout bounds how long the controller waits in
	// WaitingForReader before failing with the no_reader error
	// (ERR_WEBEID_NO_SMART_CARD_READERS).
	WaitForReaderTimeout time.Duration

	// WaitForCardTimeout bounds how long the controller waits in
	// WaitingForCard before failing with the no_card error
	// (ERR_WEBEID_NO_SUITABLE_CARD_FOUND).
	WaitForCardTimeout time.Duration

	// UIBackend holds the UI backend environment value (an equivalent of
	// QT_QPA_PLATFORM). Nothing reads it: the terminal facade is the only
	// UI backend and is used whatever this holds.
	UIBackend string
}

// Default timeouts. These are configuration defaults, not hardcoded
// assumptions; every caller can override them.
const (
	DefaultWaitForReaderTimeout = 30 * time.Second
	DefaultWaitForCardTimeout   = 30 * time.Second
)

// recognizedBrowsers lists the native-messaging hosts this helper ships a
// manifest for. Anything else is rejected and the process exits 1.
var recognizedBrowsers = map[string]bool{
	"chrome":   true,
	"chromium": true,
	"firefox":  true,
	"edge":     true,
	"opera":    true,
	"brave":    true,
	"safari":   true,
}

// ParseArgs resolves Options from the process argument vector (excluding
// argv[0]) and the UI backend environment variable. It validates the single
// positional browser argument.
func ParseArgs(args []string, uiBackendEnv string) (Options, error) {
	if len(args) != 1 {
		return Options{}, fmt.Errorf("expected exactly one argument (invoking browser), got %d", len(args))
	}

	browser := args[0]
	if !recognizedBrowsers[browser] {
		return Options{}, fmt.Errorf("unrecognized browser argument %q", browser)
	}

	return Options{
		Browser:              browser,
		WaitForReaderTimeout: DefaultWaitForReaderTimeout,
		WaitForCardTimeout:   DefaultWaitForCardTimeout,
		UIBackend:            uiBackendEnv,
	}, nil
}

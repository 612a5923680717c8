// Package logging provides the component logger factory used throughout
// the discovery and executor packages.
package logging

import (
	"os"

	"github.com/ledgerwatch/log/v3"
)

// New creates a named component logger streaming to stderr at the given
// level. Every package in this module obtains its logger this way instead
// of reaching for the root logger or the standard library's log package.
func New(name string, lvl log.Lvl) log.Logger {
	logger := log.New("component", name)
	logger.SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormatNoColor())))
	return logger
}

// Default returns an info-level logger for name.
func Default(name string) log.Logger {
	return New(name, log.LvlInfo)
}

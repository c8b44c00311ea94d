// Package log exposes one logger per severity level. Each level can be
// swapped out independently, which lets applications plug their own logger
// into just the levels they care about.
package log

import (
	"github.com/RichardKnop/logging"
)

var levels = logging.New(nil, nil, new(logging.ColouredFormatter))

var (
	// DEBUG carries verbose chatter, e.g. results of processed tasks
	DEBUG = levels[logging.DEBUG]
	// INFO reports normal operation
	INFO = levels[logging.INFO]
	// WARNING reports recoverable trouble such as a dropped broker connection
	WARNING = levels[logging.WARNING]
	// ERROR reports failed tasks and backend errors
	ERROR = levels[logging.ERROR]
	// FATAL is for errors the process cannot continue after
	FATAL = levels[logging.FATAL]
)

// Set routes every level to the given logger
func Set(l logging.LoggerInterface) {
	DEBUG = l
	INFO = l
	WARNING = l
	ERROR = l
	FATAL = l
}

// SetDebug replaces the DEBUG level logger
func SetDebug(l logging.LoggerInterface) {
	DEBUG = l
}

// SetInfo replaces the INFO level logger
func SetInfo(l logging.LoggerInterface) {
	INFO = l
}

// SetWarning replaces the WARNING level logger
func SetWarning(l logging.LoggerInterface) {
	WARNING = l
}

// SetError replaces the ERROR level logger
func SetError(l logging.LoggerInterface) {
	ERROR = l
}

// SetFatal replaces the FATAL level logger
func SetFatal(l logging.LoggerInterface) {
	FATAL = l
}

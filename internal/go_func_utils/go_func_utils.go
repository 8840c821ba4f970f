// Package go_func_utils launches background goroutines with panic capture.
// The curses UI owns the terminal, so a bare panic in a poller or event
// loop would vanish before anyone saw it; everything goes to the logger.
package go_func_utils

import (
	"log"
	"runtime/debug"
)

// SafeGo runs fn on a new goroutine, logging any panic with its stack.
// The panic is swallowed: a crashed poller must not take down an active set.
func SafeGo(logger *log.Logger, fn func()) {
	SafeGoNamed(logger, "goroutine", fn)
}

// SafeGoNamed is SafeGo with a name included in the panic log line so the
// offending loop can be identified among the pollers and listeners.
func SafeGoNamed(logger *log.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC in %s: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

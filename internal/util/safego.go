package util

import (
	"runtime/debug"

	"github.com/cityclaims/cityclaims/internal/logging"
)

// SafeGoWithName runs fn in a goroutine with panic recovery. A recovered
// panic is logged with its stack under the goroutine name. The returned
// channel is closed once fn has returned or panicked.
//
// Example:
//
//	done := util.SafeGoWithName("bus-pump", func() {
//	    // goroutine code here
//	})
//	<-done
func SafeGoWithName(name string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logging.Error("goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
	return done
}

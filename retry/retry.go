package retry

import (
	"time"

	"github.com/taskforge/forge/log"
)

// Closure builds a blocking backoff step used when the broker connection
// dies. Each call waits a little longer than the previous one, following the
// Fibonacci sequence, and returns early if the stop channel fires.
var Closure = func() func(chan int) {
	retryIn := 0
	fib := Fibonacci()
	return func(stopChan chan int) {
		if retryIn > 0 {
			log.WARNING.Printf("Retrying in %v seconds", retryIn)

			select {
			case <-stopChan:
			case <-time.After(time.Duration(retryIn) * time.Second):
			}
		}
		retryIn = fib()
	}
}

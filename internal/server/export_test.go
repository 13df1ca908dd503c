package server

import "time"

func waitForCondition(fn func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fn()
}

// WaitForCondition exposes the polling helper to the external test package.
var WaitForCondition = waitForCondition

package timermanager

import "time"

// stopAndDrainTimer makes a *time.Timer safe to let go of after a deadline
// wait.
//   - If Stop() returns false, the timer has already fired (or is firing),
//     so C might contain a value. Drain it non-blocking.
func stopAndDrainTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

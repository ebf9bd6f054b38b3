package store

import "time"

// durationSeconds converts a whole-second staleness threshold into a
// time.Duration. Pulled out so both backends compute cutoffs identically.
func durationSeconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

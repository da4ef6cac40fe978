package util

import "time"

// NowUnix returns the current time in whole seconds since the epoch.
// All persisted timestamps in this module use this resolution.
func NowUnix() int64 { return time.Now().Unix() }

// IsExpired reports whether the expiry timestamp t (Unix seconds) has passed.
// The boundary is inclusive: a credential expiring at exactly t is already
// invalid at t.
func IsExpired(t int64) bool { return time.Now().Unix() >= t }

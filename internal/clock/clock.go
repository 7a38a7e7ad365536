// Package clock is the engine's time source. Production code reads it
// through Now and Since; tests replace NowFunc to freeze or shift time so
// heartbeat ages and pause timeouts become deterministic.
package clock

import "time"

// NowFunc supplies the current time. Replace in tests.
var NowFunc = time.Now

// Now returns the current engine time.
func Now() time.Time { return NowFunc() }

// Since reports the time elapsed from t to the engine clock.
func Since(t time.Time) time.Duration { return NowFunc().Sub(t) }

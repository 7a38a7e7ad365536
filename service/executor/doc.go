// Package executor drives one flow instance's step graph to a terminal or
// paused status. It partitions steps into ready and blocked sets at each
// dependency barrier, fans parallel-capable steps out over goroutines and
// joins them before the next barrier, expands dynamic branches, and applies
// pause conditions, jumps and triggered flows. Every step execution passes
// through the middleware pipeline; the tracker makes re-entry after a
// resume or a crash idempotent.
package executor

// Package health decides when local recovery has failed badly enough to
// request an external restart.
//
// Two monitors feed the decision:
//
//   - IOMonitor runs a periodic probe battery (filesystem write probe,
//     storage integrity check, storage writability reads) with a cooldown,
//     counting consecutive failed runs.
//   - WriteMonitor counts reported write failures over a sliding time
//     window with a one-shot escalation latch.
//
// Both invoke an injected Escalator when their threshold is crossed.
// Probe failures are data, not errors: nothing in this package raises on
// a failed check, and a missing escalator degrades to a logged no-op.
package health

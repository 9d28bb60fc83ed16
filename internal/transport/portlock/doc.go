// Package portlock inspects advisory locks on serial device paths.
//
// Serial radios are commonly locked with flock by whichever process opens
// them. When a connection attempt finds the port locked, the inspector
// distinguishes three cases:
//
//   - Unlocked: proceed with the open
//   - Locked by another process: wait, and log who holds it (via lsof)
//   - Locked by this process: a stale handle from an earlier session,
//     resolvable by closing our own device handle
//
// Inspection is non-destructive. The probe uses a non-blocking flock and
// releases anything it acquires before returning.
package portlock

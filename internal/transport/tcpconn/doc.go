// Package tcpconn provides leak-resistant TCP connections for TCP-attached
// radios.
//
// Three pieces work together:
//
//   - Connection: a dialled socket with a setup timer that force-closes it
//     if the owning code path never finishes with it
//   - Registry: tracks every live connection so shutdown can close them all
//   - Reader: deadline-bounded reads that cost no CPU while the link idles
//
// The scoped Registry.WithConnection form is preferred for short-lived
// connections; it makes cleanup unconditional.
package tcpconn

package health

// Escalator is the external capability invoked when a monitor decides
// local recovery has failed and a process or host restart is warranted.
//
// The restart mechanism itself lives outside this core. Implementations
// are treated as fire-and-forget: the returned bool only acknowledges
// that the request was accepted, not that a restart happened.
type Escalator interface {
	RequestReboot(reason string) bool
}

// Decision is the outcome of a threshold evaluation. Derived on demand,
// never stored.
type Decision struct {
	ShouldEscalate bool
	Reason         string
}

// EscalatorFunc adapts a plain function to the Escalator interface.
type EscalatorFunc func(reason string) bool

// RequestReboot calls the wrapped function.
func (f EscalatorFunc) RequestReboot(reason string) bool {
	return f(reason)
}

// NopEscalator logs escalation requests without acting on them. Used when
// no real escalation capability is configured.
type NopEscalator struct {
	Log Logger
}

// RequestReboot logs the request and reports it as not accepted.
func (n NopEscalator) RequestReboot(reason string) bool {
	log := n.Log
	if log == nil {
		log = noopLogger{}
	}
	log.Warn("reboot escalation requested but no escalator is configured", "reason", reason)
	return false
}

// Logger defines the minimal logging interface used by this package.
// Satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

package lifecycle

// State represents the lifecycle state of a managed resource.
type State int

const (
	StateRegistered   State = iota // Registered, not yet initialized
	StateInitializing              // Init func running
	StateInitialized               // Init succeeded, resource live
	StateDisposing                 // Dispose func running
	StateDisposed                  // Dispose succeeded
	StateError                     // Init or dispose failed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateDisposing:
		return "disposing"
	case StateDisposed:
		return "disposed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state cannot transition further.
func (s State) IsTerminal() bool {
	return s == StateDisposed || s == StateError
}

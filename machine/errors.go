package machine

// These are user errors (bad definitions, failing actions), not
// internal errors.

// A ConfigurationError is fatal at load time and prevents actor
// creation.
type ConfigurationError interface {
	error
	configuration()
}

// UnknownInitial occurs when a definition's initial state is missing
// or doesn't name an existing state.
type UnknownInitial struct {
	Def     string
	Initial string
}

func (e *UnknownInitial) configuration() {}

func (e *UnknownInitial) Error() string {
	if e.Initial == "" {
		return `definition "` + e.Def + `" has no initial state`
	}
	return `initial state "` + e.Initial + `" not found in definition "` + e.Def + `"`
}

// DanglingTarget occurs when a transition's target doesn't name an
// existing state.
type DanglingTarget struct {
	Def    string
	State  string
	Event  string
	Target string
}

func (e *DanglingTarget) configuration() {}

func (e *DanglingTarget) Error() string {
	if e.Target == "" {
		return `transition for "` + e.Event + `" at state "` + e.State +
			`" in definition "` + e.Def + `" has no target`
	}
	return `target "` + e.Target + `" for "` + e.Event + `" at state "` + e.State +
		`" not found in definition "` + e.Def + `"`
}

// MalformedAction occurs when an action is neither an updateContext
// nor a named custom action (or is both).
type MalformedAction struct {
	Def    string
	State  string
	Reason string
}

func (e *MalformedAction) configuration() {}

func (e *MalformedAction) Error() string {
	return `bad action at state "` + e.State + `" in definition "` + e.Def + `": ` + e.Reason
}

// ActionFailed occurs when an action's expressions fail to evaluate
// or a custom action returns an error.  The remainder of that action
// list is not run, and the error surfaces to the actor as an error
// event.
type ActionFailed struct {
	State string
	Event string
	Err   error
}

func (e *ActionFailed) Error() string {
	return `action at state "` + e.State + `" for event "` + e.Event + `" failed: ` + e.Err.Error()
}

func (e *ActionFailed) Unwrap() error {
	return e.Err
}

// NoHandler occurs when a definition names a custom action that the
// runtime hasn't registered.
type NoHandler struct {
	Name string
}

func (e *NoHandler) Error() string {
	return `no handler registered for action "` + e.Name + `"`
}

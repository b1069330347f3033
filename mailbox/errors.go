package mailbox

import "fmt"

// NotAccepted reports a message type missing from the target's
// allow-list.
type NotAccepted struct {
	Target string
	Type   string
}

func (e *NotAccepted) Error() string {
	return fmt.Sprintf("actor %s does not accept %q", e.Target, e.Type)
}

// InvalidPayload reports schema validation failures for a message.
type InvalidPayload struct {
	Type string
	Errs []error
}

func (e *InvalidPayload) Error() string {
	return fmt.Sprintf("invalid %q payload: %v", e.Type, e.Errs)
}

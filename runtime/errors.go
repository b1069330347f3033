package runtime

import "fmt"

// BadDef reports a malformed actor definition.  Load-time only.
type BadDef struct {
	Def    string
	Reason string
}

func (e *BadDef) Error() string {
	return fmt.Sprintf("bad actor definition %q: %s", e.Def, e.Reason)
}

// UnknownDef reports a reference to an unregistered definition.
type UnknownDef struct {
	Name string
}

func (e *UnknownDef) Error() string {
	return fmt.Sprintf("unknown actor definition %q", e.Name)
}

// UnknownActor reports an id with no live actor behind it.
type UnknownActor struct {
	Id string
}

func (e *UnknownActor) Error() string {
	return fmt.Sprintf("unknown actor %q", e.Id)
}

// UnknownSlot reports a slot name the actor's definition does not
// declare.
type UnknownSlot struct {
	Actor string
	Slot  string
}

func (e *UnknownSlot) Error() string {
	return fmt.Sprintf("actor %q has no slot %q", e.Actor, e.Slot)
}

// EmptySlot reports a slot whose context field currently names no
// child definition.
type EmptySlot struct {
	Actor string
	Slot  string
}

func (e *EmptySlot) Error() string {
	return fmt.Sprintf("slot %q of actor %q is empty", e.Slot, e.Actor)
}

// PayloadNotConcrete reports a payload that still contains expression
// syntax.  Only concrete values may cross the mailbox boundary.
type PayloadNotConcrete struct {
	Type string
}

func (e *PayloadNotConcrete) Error() string {
	return fmt.Sprintf("payload for %q contains unresolved expressions", e.Type)
}

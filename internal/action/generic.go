package action

// GenericAction records an event with nothing to undo, such as a player joining.
type GenericAction struct {
	base
}

// NewGenericAction creates a generic action.
func NewGenericAction(typ *ActionType, descriptor string, metadata *Metadata) *GenericAction {
	return &GenericAction{base: base{typ: typ, descriptor: descriptor, metadata: metadata}}
}

// ApplyRollback always skips.
func (a *GenericAction) ApplyRollback(ApplyContext) Result {
	return Skipped(ReasonNotReversible)
}

// ApplyRestore always skips.
func (a *GenericAction) ApplyRestore(ApplyContext) Result {
	return Skipped(ReasonNotReversible)
}

// Data flattens the action into its storage form.
func (a *GenericAction) Data() (Data, error) {
	return a.data(), nil
}

package action

import (
	"github.com/robalyx/rewind/internal/world"
)

// ItemStackAction records items moving into or out of a container,
// or being dropped and picked up.
type ItemStackAction struct {
	base
	Item world.ItemStack
}

// NewItemStackAction creates an item action. The descriptor defaults to the item material.
func NewItemStackAction(typ *ActionType, item world.ItemStack, metadata *Metadata) *ItemStackAction {
	return &ItemStackAction{
		base: base{typ: typ, descriptor: item.Material, metadata: metadata},
		Item: item,
	}
}

// ApplyRollback takes inserted items back out or puts removed items back in.
func (a *ItemStackAction) ApplyRollback(ac ApplyContext) Result {
	switch a.typ.ResultKind {
	case Creates:
		return a.apply(ac, false)
	case Removes:
		return a.apply(ac, true)
	case Replaces:
	}

	return Skipped(ReasonUnsupported)
}

// ApplyRestore repeats the original container change.
func (a *ItemStackAction) ApplyRestore(ac ApplyContext) Result {
	switch a.typ.ResultKind {
	case Creates:
		return a.apply(ac, true)
	case Removes:
		return a.apply(ac, false)
	case Replaces:
	}

	return Skipped(ReasonUnsupported)
}

func (a *ItemStackAction) apply(ac ApplyContext, add bool) Result {
	if !a.typ.Reversible {
		return Skipped(ReasonNotReversible)
	}

	if ac.Rules.BlockBlacklisted(a.Item.Material) {
		return Skipped(ReasonBlacklisted)
	}

	if a.Item.Quantity <= 0 {
		return Skipped(ReasonMissingTarget)
	}

	if ac.Mode == ModePlanning {
		return Result{Status: StatusPlanned}
	}

	if add {
		if !ac.World.AddItems(ac.Location, a.Item) {
			return Skipped(ReasonMissingTarget)
		}
	} else if !ac.World.RemoveItems(ac.Location, a.Item) {
		return Skipped(ReasonMissingTarget)
	}

	return Result{Status: StatusApplied}
}

// Data flattens the action into its storage form.
func (a *ItemStackAction) Data() (Data, error) {
	d := a.data()
	d.Item = a.Item

	return d, nil
}

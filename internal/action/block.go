package action

import (
	"github.com/robalyx/rewind/internal/world"
)

// BlockAction records a block being created, removed or replaced.
// Block is the state the action produced or destroyed; Replaced is the state
// that was there before a placement or replacement.
type BlockAction struct {
	base
	Block    world.BlockState
	Replaced world.BlockState
}

// NewBlockAction creates a block action. The descriptor defaults to the block material.
func NewBlockAction(typ *ActionType, block, replaced world.BlockState, metadata *Metadata) *BlockAction {
	return &BlockAction{
		base:     base{typ: typ, descriptor: block.Material, metadata: metadata},
		Block:    block,
		Replaced: replaced,
	}
}

// before returns the state the world held before the action happened.
func (a *BlockAction) before() world.BlockState {
	if a.typ.ResultKind == Removes {
		return a.Block
	}

	return blockOrAir(a.Replaced)
}

// after returns the state the action left behind.
func (a *BlockAction) after() world.BlockState {
	if a.typ.ResultKind == Removes {
		return blockOrAir(a.Replaced)
	}

	return a.Block
}

func blockOrAir(state world.BlockState) world.BlockState {
	if state.Material == "" {
		return world.Air()
	}

	return state
}

// ApplyRollback puts the block back to how it was before the action.
func (a *BlockAction) ApplyRollback(ac ApplyContext) Result {
	return a.apply(ac, a.before(), a.after())
}

// ApplyRestore puts the block back to how the action left it.
func (a *BlockAction) ApplyRestore(ac ApplyContext) Result {
	return a.apply(ac, a.after(), a.before())
}

func (a *BlockAction) apply(ac ApplyContext, target, expected world.BlockState) Result {
	if !a.typ.Reversible {
		return Skipped(ReasonNotReversible)
	}

	if ac.Rules.BlockBlacklisted(target.Material) {
		return Skipped(ReasonBlacklisted)
	}

	current := currentState(ac)

	if ac.Rules != nil && ac.Rules.RequireMatch && !current.Equal(expected) {
		return Skipped(ReasonStateChanged)
	}

	// Something unrelated was built here since the action was recorded
	overwrite := ac.Rules != nil && ac.Rules.Overwrite
	if !overwrite && !current.IsAir() && !current.Equal(expected) && !current.Equal(target) {
		return Skipped(ReasonOccupied)
	}

	change := &StateChange{Location: ac.Location, Old: current, New: target}

	if ac.Mode == ModePlanning {
		ac.World.SendBlockChange(ac.Owner, ac.Location, target)
		return Result{Status: StatusPlanned, Change: change}
	}

	old, moved := ac.World.SetBlock(ac.Location, target)
	change.Old = old

	return Result{
		Status:        StatusApplied,
		Change:        change,
		MovedEntities: moved,
		RemovedBlock:  target.IsAir() && !old.IsAir(),
	}
}

// currentState is what the owner sees at the location. While planning, earlier
// entries of the same preview may already have sent a faux block there.
func currentState(ac ApplyContext) world.BlockState {
	if ac.Mode == ModePlanning {
		if state, ok := ac.World.PreviewState(ac.Owner, ac.Location); ok {
			return state
		}
	}

	return ac.World.Block(ac.Location)
}

// Data flattens the action into its storage form.
func (a *BlockAction) Data() (Data, error) {
	d := a.data()
	d.Block = a.Block
	d.Replaced = a.Replaced

	return d, nil
}

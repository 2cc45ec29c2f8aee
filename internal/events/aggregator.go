package events

// PedalState is the part of a decoded vehicle state the pedal rule reads.
type PedalState struct {
	GasPressed   bool
	BrakePressed bool
	RegenBraking bool
}

// Aggregator builds the per-cycle event list.
type Aggregator struct {
	set Set
}

// Update starts from an empty set, merges the events the vehicle interface
// decoded this cycle, and adds PedalPressed when a pedal edge warrants it.
// The returned slice is owned by the caller.
func (a *Aggregator) Update(cur, prev PedalState, decoded []Name, disengageOnGas bool) []Name {
	a.set.Clear()
	a.set.AddAll(decoded)
	if PedalPressedEdge(cur, prev, disengageOnGas) {
		a.set.Add(PedalPressed)
	}
	return a.set.Names()
}

// PedalPressedEdge reports whether a pedal was pressed this cycle and not
// the previous one. The accelerator only counts when disengage on gas is
// enabled. A pedal held down fires once, on the cycle it went down.
func PedalPressedEdge(cur, prev PedalState, disengageOnGas bool) bool {
	gas := disengageOnGas && cur.GasPressed && !prev.GasPressed
	brake := cur.BrakePressed && !prev.BrakePressed
	regen := cur.RegenBraking && !prev.RegenBraking
	return gas || brake || regen
}

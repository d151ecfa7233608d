package dispatch

import (
	"fmt"
	"sort"

	"telemetry-unit/internal/types"
)

// Machine selects a table by the current state of one component and
// dispatches into it.
type Machine struct {
	owner  types.ComponentID
	tables map[types.StateID]*Table
}

// NewMachine checks that every state a table can produce has a table of its own,
// so the component can never end up in a state it cannot handle.
func NewMachine(owner types.ComponentID, tables map[types.StateID]*Table) (*Machine, error) {
	if len(tables) == 0 {
		return nil, ErrEmptyTable
	}

	for from, t := range tables {
		if t == nil {
			return nil, fmt.Errorf("state %s: %w", from, ErrEmptyTable)
		}
		for _, to := range t.States() {
			if _, ok := tables[to]; !ok {
				return nil, fmt.Errorf("state %s leads to %s which has no table", from, to)
			}
		}
	}

	return &Machine{owner: owner, tables: tables}, nil
}

// Owner is the destination filter used for every dispatch.
func (m *Machine) Owner() types.ComponentID { return m.owner }

// Table returns the table used while in state.
func (m *Machine) Table(state types.StateID) (*Table, bool) {
	t, ok := m.tables[state]
	return t, ok
}

// States lists the states that have tables, in enum order.
func (m *Machine) States() []types.StateID {
	out := make([]types.StateID, 0, len(m.tables))
	for s := range m.tables {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Handle dispatches msg using the table for *state. It reports false when the
// message is not addressed to the owner or the state has no table.
func (m *Machine) Handle(state *types.StateID, msg types.Message) bool {
	t, ok := m.tables[*state]
	if !ok {
		return false
	}
	return Dispatch(t, m.owner, state, msg)
}

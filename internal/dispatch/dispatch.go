// Package dispatch routes messages through fixed, ordered rule tables.
//
// A table is a list of (event, action, success-state, failure-state) rules.
// The first rule whose event equals the message event, or whose event is the
// wildcard types.EventAny, is applied. Every table must end with a wildcard
// rule so that lookup always terminates; this is checked when the table is
// built, not when it is used.
package dispatch

import (
	"errors"
	"fmt"

	"telemetry-unit/internal/types"
)

var (
	ErrEmptyTable  = errors.New("dispatch table has no rules")
	ErrNilAction   = errors.New("dispatch rule has no action")
	ErrNoWildcard  = errors.New("dispatch table does not end with a wildcard rule")
	ErrUnreachable = errors.New("dispatch rule is unreachable after a wildcard rule")
)

// Action reacts to a message and reports whether it succeeded.
type Action interface {
	Run(msg types.Message) bool
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(msg types.Message) bool

func (f ActionFunc) Run(msg types.Message) bool { return f(msg) }

// Rule is one row of a dispatch table.
type Rule struct {
	Event     types.EventID
	Action    Action
	OnSuccess types.StateID
	OnFailure types.StateID
}

// Table is an immutable, validated rule list.
type Table struct {
	rules []Rule
}

// NewTable validates and freezes a rule list.
func NewTable(rules ...Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, ErrEmptyTable
	}
	for i, r := range rules {
		if r.Action == nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Event, ErrNilAction)
		}
		if r.Event == types.EventAny && i != len(rules)-1 {
			return nil, fmt.Errorf("rule %d: %w", i+1, ErrUnreachable)
		}
	}
	if rules[len(rules)-1].Event != types.EventAny {
		return nil, ErrNoWildcard
	}

	frozen := make([]Rule, len(rules))
	copy(frozen, rules)
	return &Table{rules: frozen}, nil
}

// MustTable is NewTable for package-level tables; it panics on a malformed table.
func MustTable(rules ...Rule) *Table {
	t, err := NewTable(rules...)
	if err != nil {
		panic(err)
	}
	return t
}

// Rules returns a copy of the table rows in order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// States returns every state the table can produce, in first-seen order.
func (t *Table) States() []types.StateID {
	seen := make(map[types.StateID]bool)
	var out []types.StateID
	for _, r := range t.rules {
		for _, s := range [2]types.StateID{r.OnSuccess, r.OnFailure} {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Lookup returns the first rule matching event. A validated table always has one.
func (t *Table) Lookup(event types.EventID) Rule {
	for _, r := range t.rules {
		if r.Event == types.EventAny || r.Event == event {
			return r
		}
	}
	// unreachable for tables built by NewTable
	return t.rules[len(t.rules)-1]
}

// Dispatch applies the matching rule of t to msg when msg is addressed to dest,
// storing the resulting state in *state. Messages for other components are
// ignored and Dispatch returns false.
func Dispatch(t *Table, dest types.ComponentID, state *types.StateID, msg types.Message) bool {
	if msg.Destination != dest {
		return false
	}

	rule := t.Lookup(msg.Event)
	if rule.Action.Run(msg) {
		*state = rule.OnSuccess
	} else {
		*state = rule.OnFailure
	}
	return true
}

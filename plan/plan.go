package plan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/root-talis/shinka/migration"
)

var ErrUnreachableState = errors.New("state is not reachable by the plan")

// UnreachableStateError is returned when a token is neither a source of a transition nor the final
// token of the plan.
type UnreachableStateError struct {
	Plan  string
	Token migration.Token
}

func (e *UnreachableStateError) Error() string {
	return fmt.Sprintf("plan %q: state %q is not reachable", e.Plan, string(e.Token))
}

func (e *UnreachableStateError) Is(target error) bool {
	return target == ErrUnreachableState
}

// ---

// Plan is an immutable set of transitions for one named upgrade path. Every token has at most one
// outgoing transition and all chains converge on a single final token.
type Plan struct {
	name        string
	final       migration.Token
	transitions map[migration.Token]migration.Transition
}

func (p *Plan) Name() string {
	return p.name
}

// Final returns the terminal token: the state of a fully upgraded schema.
func (p *Plan) Final() migration.Token {
	return p.final
}

func (p *Plan) Len() int {
	return len(p.transitions)
}

// Has reports whether the token is known to the plan, either as a source or as the final token.
func (p *Plan) Has(token migration.Token) bool {
	_, ok := p.transitions[token]
	return ok || token == p.final
}

func (p *Plan) IsTerminal(token migration.Token) bool {
	return token == p.final
}

// Next returns the outgoing transition of a token, if any.
func (p *Plan) Next(token migration.Token) (migration.Transition, bool) {
	t, ok := p.transitions[token]
	return t, ok
}

// Transitions returns every transition of the plan sorted by source token.
func (p *Plan) Transitions() []migration.Transition {
	result := make([]migration.Transition, 0, len(p.transitions))
	for _, t := range p.transitions {
		result = append(result, t)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].From < result[j].From
	})

	return result
}

// Resolve returns the ordered transitions leading from the given token to the final token.
// The result is empty when the token already is the final one.
func (p *Plan) Resolve(from migration.Token) ([]migration.Transition, error) {
	if _, ok := p.transitions[from]; !ok {
		if from == p.final {
			return []migration.Transition{}, nil
		}
		return nil, &UnreachableStateError{Plan: p.name, Token: from}
	}

	path := make([]migration.Transition, 0, len(p.transitions))
	for current := from; ; {
		t, ok := p.transitions[current]
		if !ok {
			break
		}
		path = append(path, t)
		current = t.To
	}

	return path, nil
}

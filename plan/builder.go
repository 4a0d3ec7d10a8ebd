package plan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/root-talis/shinka/migration"
)

var (
	ErrEmptyName         = errors.New("plan name is empty")
	ErrEmptyPlan         = errors.New("plan has no transitions")
	ErrNoCursor          = errors.New("chain called before from")
	ErrDuplicateSource   = errors.New("state already has an outgoing transition")
	ErrInvalidTarget     = errors.New("transition target is invalid")
	ErrCycle             = errors.New("plan contains a cycle")
	ErrMultipleTerminals = errors.New("plan has more than one final state")
)

// Builder assembles a Plan from From/Chain calls. The first error is kept and returned by Build,
// so a whole plan can be declared as one expression:
//
//	p, err := plan.NewBuilder("app", reg).
//		From("").
//		Chain("create_tables", "a1f0").
//		Chain("add_lock_table", "b7c2").
//		From("legacy-7.x").
//		Chain("refactor_xml_columns", "a1f0").
//		Build()
type Builder struct {
	name        string
	registry    *migration.Registry
	transitions map[migration.Token]migration.Transition
	cursor      migration.Token
	hasCursor   bool
	err         error
}

// NewBuilder creates a builder. If reg is not nil every chained step must be registered in it.
func NewBuilder(name string, reg *migration.Registry) *Builder {
	return &Builder{
		name:        name,
		registry:    reg,
		transitions: make(map[migration.Token]migration.Transition),
	}
}

// From positions the cursor on a token, starting or resuming a chain.
func (b *Builder) From(token migration.Token) *Builder {
	if b.err != nil {
		return b
	}

	if _, exists := b.transitions[token]; exists {
		b.err = fmt.Errorf("%w: from %q", ErrDuplicateSource, string(token))
		return b
	}

	b.cursor = token
	b.hasCursor = true

	return b
}

// Chain adds a transition from the cursor to next executing step, then moves the cursor to next.
func (b *Builder) Chain(step migration.StepRef, next migration.Token) *Builder {
	if b.err != nil {
		return b
	}

	if step == "" {
		b.err = fmt.Errorf("%w: empty step reference towards %q, use Alias", migration.ErrStepInvalid, string(next))
		return b
	}

	if b.registry != nil && !b.registry.Has(step) {
		b.err = fmt.Errorf("%w: %q", migration.ErrStepUnknown, step)
		return b
	}

	return b.add(step, next)
}

// Alias adds a transition without a step, merging the current chain into next.
func (b *Builder) Alias(next migration.Token) *Builder {
	if b.err != nil {
		return b
	}
	return b.add("", next)
}

func (b *Builder) add(step migration.StepRef, next migration.Token) *Builder {
	if !b.hasCursor {
		b.err = ErrNoCursor
		return b
	}

	if next == migration.Origin {
		b.err = fmt.Errorf("%w: %q cannot transition into the origin state", ErrInvalidTarget, string(b.cursor))
		return b
	}

	if existing, exists := b.transitions[b.cursor]; exists {
		b.err = fmt.Errorf("%w: %s", ErrDuplicateSource, existing)
		return b
	}

	b.transitions[b.cursor] = migration.Transition{
		From: b.cursor,
		To:   next,
		Step: step,
	}
	b.cursor = next

	return b
}

// Build validates the collected transitions and returns an immutable plan.
func (b *Builder) Build() (*Plan, error) {
	if b.err != nil {
		return nil, fmt.Errorf("failed to build plan %q: %w", b.name, b.err)
	}

	if b.name == "" {
		return nil, ErrEmptyName
	}

	if len(b.transitions) == 0 {
		return nil, fmt.Errorf("failed to build plan %q: %w", b.name, ErrEmptyPlan)
	}

	if err := checkAcyclic(b.transitions); err != nil {
		return nil, fmt.Errorf("failed to build plan %q: %w", b.name, err)
	}

	final, err := findFinal(b.transitions)
	if err != nil {
		return nil, fmt.Errorf("failed to build plan %q: %w", b.name, err)
	}

	transitions := make(map[migration.Token]migration.Transition, len(b.transitions))
	for k, v := range b.transitions {
		transitions[k] = v
	}

	return &Plan{
		name:        b.name,
		final:       final,
		transitions: transitions,
	}, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Plan {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

// checkAcyclic walks every chain and marks visited tokens. Since every token has at most one
// successor, revisiting a token of the current walk means a cycle.
func checkAcyclic(transitions map[migration.Token]migration.Transition) error {
	done := make(map[migration.Token]bool, len(transitions))

	for _, start := range sortedSources(transitions) {
		if done[start] {
			continue
		}

		walk := make(map[migration.Token]bool)
		for current := start; ; {
			if done[current] {
				break
			}
			if walk[current] {
				return fmt.Errorf("%w: through %q", ErrCycle, string(current))
			}
			walk[current] = true

			t, ok := transitions[current]
			if !ok {
				break
			}
			current = t.To
		}

		for token := range walk {
			done[token] = true
		}
	}

	return nil
}

func findFinal(transitions map[migration.Token]migration.Transition) (migration.Token, error) {
	terminals := make(map[migration.Token]struct{})
	for _, t := range transitions {
		if _, ok := transitions[t.To]; !ok {
			terminals[t.To] = struct{}{}
		}
	}

	if len(terminals) != 1 {
		names := make([]string, 0, len(terminals))
		for token := range terminals {
			names = append(names, string(token))
		}
		sort.Strings(names)
		return "", fmt.Errorf("%w: %q", ErrMultipleTerminals, names)
	}

	for token := range terminals {
		return token, nil
	}

	return "", ErrEmptyPlan
}

func sortedSources(transitions map[migration.Token]migration.Transition) []migration.Token {
	sources := make([]migration.Token, 0, len(transitions))
	for token := range transitions {
		sources = append(sources, token)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources
}

package migration

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrStepDuplicated = errors.New("step is already registered")
	ErrStepUnknown    = errors.New("step is not registered")
	ErrStepInvalid    = errors.New("step reference or constructor is invalid")
)

// Registry maps step references to step constructors. It is populated at startup and
// consulted while walking a plan.
type Registry struct {
	mu    sync.RWMutex
	steps map[StepRef]func() Step
}

func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[StepRef]func() Step),
	}
}

func (r *Registry) Register(ref StepRef, ctor func() Step) error {
	if ref == "" || ctor == nil {
		return fmt.Errorf("%w: %q", ErrStepInvalid, ref)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[ref]; exists {
		return fmt.Errorf("%w: %q", ErrStepDuplicated, ref)
	}
	r.steps[ref] = ctor

	return nil
}

// MustRegister is like Register but panics on error. Intended for package-level plan definitions.
func (r *Registry) MustRegister(ref StepRef, ctor func() Step) {
	if err := r.Register(ref, ctor); err != nil {
		panic(err)
	}
}

// RegisterFunc registers a stateless step function.
func (r *Registry) RegisterFunc(ref StepRef, fn StepFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: %q", ErrStepInvalid, ref)
	}
	return r.Register(ref, func() Step { return fn })
}

func (r *Registry) Has(ref StepRef) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.steps[ref]
	return ok
}

// Lookup returns a fresh instance of the step registered under ref.
func (r *Registry) Lookup(ref StepRef) (Step, error) {
	r.mu.RLock()
	ctor, ok := r.steps[ref]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStepUnknown, ref)
	}

	step := ctor()
	if step == nil {
		return nil, fmt.Errorf("%w: constructor for %q returned nil", ErrStepInvalid, ref)
	}

	return step, nil
}

func (r *Registry) Refs() []StepRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]StepRef, 0, len(r.steps))
	for ref := range r.steps {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	return refs
}
